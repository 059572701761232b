package crawlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// fakePage 脚本化的ControlledPage,内容按当前URL从pages中读取
type fakePage struct {
	mu sync.Mutex

	pages   map[string]string // url -> html
	navErrs map[string][]error
	// challengeTitles 前N次读取标题返回挑战页标题
	challengeTitles int
	heights         []float64
	// counts 非空时 QuerySelectorAll 依次返回这些数量,用完后重复最后一个
	counts     []int
	onNavigate func(url string)

	current      string
	navigations  []string
	countQueries int
	scripts      []string
	clicked      []string
	moves        int
	viewport     [2]int
	headers      map[string]string
}

func newFakePage(pages map[string]string) *fakePage {
	return &fakePage{pages: pages, navErrs: map[string][]error{}}
}

func (p *fakePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p.mu.Lock()
	p.navigations = append(p.navigations, url)
	hook := p.onNavigate
	var err error
	if errs := p.navErrs[url]; len(errs) > 0 {
		err = errs[0]
		if len(errs) > 1 {
			p.navErrs[url] = errs[1:]
		}
	}
	if err == nil {
		p.current = url
	}
	p.mu.Unlock()

	if hook != nil {
		hook(url)
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (p *fakePage) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pages[p.current], nil
}

func (p *fakePage) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.challengeTitles > 0 {
		p.challengeTitles--
		return "Just a moment...", nil
	}
	return "Mağaza", nil
}

func (p *fakePage) document() *goquery.Document {
	p.mu.Lock()
	content := p.pages[p.current]
	p.mu.Unlock()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil
	}
	return doc
}

func (p *fakePage) QuerySelector(ctx context.Context, selector string) (Element, error) {
	doc := p.document()
	if doc == nil || doc.Find(selector).Length() == 0 {
		return nil, nil
	}
	return &fakeElement{page: p, selector: selector}, nil
}

func (p *fakePage) QuerySelectorAll(ctx context.Context, selector string) ([]Element, error) {
	p.mu.Lock()
	p.countQueries++
	if len(p.counts) > 0 {
		n := p.counts[0]
		if len(p.counts) > 1 {
			p.counts = p.counts[1:]
		}
		p.mu.Unlock()
		return make([]Element, n), nil
	}
	p.mu.Unlock()

	doc := p.document()
	if doc == nil {
		return nil, errors.New("页面为空")
	}
	n := doc.Find(selector).Length()
	els := make([]Element, 0, n)
	for i := 0; i < n; i++ {
		els = append(els, &fakeElement{page: p, selector: selector})
	}
	return els, nil
}

func (p *fakePage) Evaluate(ctx context.Context, script string) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, script)
	if script == scriptScrollHeight {
		if len(p.heights) == 0 {
			return nil, errors.New("没有高度数据")
		}
		h := p.heights[0]
		if len(p.heights) > 1 {
			p.heights = p.heights[1:]
		}
		return h, nil
	}
	return true, nil
}

func (p *fakePage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return ctx.Err()
}

func (p *fakePage) SetViewport(ctx context.Context, width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewport = [2]int{width, height}
	return nil
}

func (p *fakePage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.headers = headers
	return nil
}

func (p *fakePage) MouseMove(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moves++
	return nil
}

// lastScript 最近一次执行的脚本
func (p *fakePage) lastScript() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.scripts) == 0 {
		return ""
	}
	return p.scripts[len(p.scripts)-1]
}

// countScripts 统计以prefix开头的脚本执行次数
func (p *fakePage) countScripts(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.scripts {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

type fakeElement struct {
	page     *fakePage
	selector string
}

func (e *fakeElement) Click(ctx context.Context) error {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	e.page.clicked = append(e.page.clicked, e.selector)
	return nil
}

func (e *fakeElement) Check(ctx context.Context) error {
	return e.Click(ctx)
}

// noSleep 不等待的Sleeper
func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func testPacer() *Pacer {
	return NewPacer(WithSleeper(noSleep), WithSeed(1))
}

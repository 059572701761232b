package crawlers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// rodPage 基于go-rod的ControlledPage实现
type rodPage struct {
	page         *rod.Page
	clearHeaders func()
}

// Navigate 导航并等待DOMContentLoaded
func (p *rodPage) Navigate(ctx context.Context, url string, timeout time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("页面导航panic: %v", r)
		}
	}()

	page := p.page.Context(ctx).Timeout(timeout)
	defer page.CancelTimeout()

	wait := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("导航失败 [%s]: %w", url, err)
	}
	wait()

	if err := page.GetContext().Err(); err != nil {
		return fmt.Errorf("等待页面加载超时 [%s]: %w", url, err)
	}
	return nil
}

func (p *rodPage) Content(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Title(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (p *rodPage) QuerySelector(ctx context.Context, selector string) (Element, error) {
	has, el, err := p.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	return &rodElement{el: el}, nil
}

func (p *rodPage) QuerySelectorAll(ctx context.Context, selector string) ([]Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	result := make([]Element, 0, len(els))
	for _, el := range els {
		result = append(result, &rodElement{el: el})
	}
	return result, nil
}

func (p *rodPage) Evaluate(ctx context.Context, script string) (interface{}, error) {
	res, err := p.page.Context(ctx).Evaluate(rod.Eval(script))
	if err != nil {
		return nil, err
	}
	return res.Value.Val(), nil
}

func (p *rodPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	page := p.page.Context(ctx).Timeout(timeout)
	defer page.CancelTimeout()
	_, err := page.Element(selector)
	return err
}

func (p *rodPage) SetViewport(ctx context.Context, width, height int) error {
	return p.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
}

func (p *rodPage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	dict := make([]string, 0, len(headers)*2)
	for name, value := range headers {
		dict = append(dict, name, value)
	}
	cleanup, err := p.page.Context(ctx).SetExtraHeaders(dict)
	if err != nil {
		return err
	}
	if p.clearHeaders != nil {
		p.clearHeaders()
	}
	p.clearHeaders = cleanup
	return nil
}

func (p *rodPage) MouseMove(ctx context.Context, x, y float64) error {
	return p.page.Context(ctx).Mouse.MoveTo(proto.Point{X: x, Y: y})
}

// Close 关闭标签页
func (p *rodPage) Close() error {
	if p.clearHeaders != nil {
		p.clearHeaders()
	}
	return p.page.Close()
}

// rodElement 基于go-rod的Element实现
type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Check(ctx context.Context) error {
	checked, err := e.el.Context(ctx).Property("checked")
	if err == nil && checked.Bool() {
		return nil
	}
	return e.Click(ctx)
}

package crawlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// DefaultUserAgent 浏览器默认User-Agent
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/120.0.0.0 Safari/537.36"

// Viewport 视口尺寸
type Viewport struct {
	Width  int
	Height int
}

// 新页面从中随机选择视口
var defaultViewports = []Viewport{
	{Width: 1920, Height: 1080},
	{Width: 1366, Height: 768},
	{Width: 1440, Height: 900},
	{Width: 1536, Height: 864},
	{Width: 1680, Height: 1050},
}

// BrowserOptions 浏览器启动参数
type BrowserOptions struct {
	Headless      bool
	UserDataDir   string
	Stealth       bool
	UserAgent     string
	Headers       models.HeaderProvider
	LaunchRetries int
}

// Browser 单个浏览器会话,整个运行期间只打开一个标签页
type Browser struct {
	opts      BrowserOptions
	launcher  *launcher.Launcher
	browser   *rod.Browser
	pacer     *Pacer
	humanizer *Humanizer
}

// LaunchBrowser 启动浏览器,失败时按LaunchRetries重试
func LaunchBrowser(ctx context.Context, opts BrowserOptions, pacer *Pacer) (*Browser, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	b := &Browser{
		opts:      opts,
		pacer:     pacer,
		humanizer: NewHumanizer(pacer),
	}

	var lastErr error
	for attempt := 0; attempt <= opts.LaunchRetries; attempt++ {
		if attempt > 0 {
			utils.Warnf("浏览器启动失败,准备重试(%d/%d)", attempt, opts.LaunchRetries)
			if err := ContextSleep(ctx, 2*time.Second); err != nil {
				return nil, err
			}
		}
		if lastErr = b.launch(); lastErr == nil {
			return b, nil
		}
		utils.Errorf("浏览器启动失败: %v", lastErr)
	}
	return nil, fmt.Errorf("%w: %v", models.ErrBrowserLaunch, lastErr)
}

func (b *Browser) launch() error {
	l := launcher.New().
		Headless(b.opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-dev-shm-usage")
	if b.opts.UserDataDir != "" {
		l = l.UserDataDir(b.opts.UserDataDir)
	}

	controlURL, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return fmt.Errorf("启动浏览器失败: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return fmt.Errorf("连接浏览器失败: %w", err)
	}

	b.launcher = l
	b.browser = browser
	utils.Debugf("浏览器已启动: %s (headless=%v)", controlURL, b.opts.Headless)
	return nil
}

// NewPage 打开新标签页并完成伪装设置:随机视口、额外请求头、初始指针移动
func (b *Browser) NewPage(ctx context.Context) (Page, error) {
	var (
		page *rod.Page
		err  error
	)
	browser := b.browser.Context(ctx)
	if b.opts.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("创建标签页失败: %w", err)
	}

	rp := &rodPage{page: page}
	if err := b.setupPage(ctx, rp); err != nil {
		_ = rp.Close()
		return nil, err
	}
	return rp, nil
}

func (b *Browser) setupPage(ctx context.Context, rp *rodPage) error {
	headers := http.Header{}
	if b.opts.Headers != nil {
		h, err := b.opts.Headers.GetHeaders()
		if err != nil {
			return fmt.Errorf("获取请求头失败: %w", err)
		}
		headers = h
	}

	split := utils.SplitBrowserHeaders(headers)
	userAgent := b.opts.UserAgent
	if split.UserAgent != "" {
		userAgent = split.UserAgent
	}
	if err := rp.page.Context(ctx).SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      userAgent,
		AcceptLanguage: split.AcceptLanguage,
	}); err != nil {
		return fmt.Errorf("设置User-Agent失败: %w", err)
	}

	vp := defaultViewports[b.pacer.Intn(IntRange{Min: 0, Max: len(defaultViewports) - 1})]
	if err := rp.SetViewport(ctx, vp.Width, vp.Height); err != nil {
		return fmt.Errorf("设置视口失败: %w", err)
	}

	extra := split.Extra
	if len(extra) > 0 {
		if err := rp.SetExtraHeaders(ctx, extra); err != nil {
			return fmt.Errorf("设置额外请求头失败: %w", err)
		}
	}

	utils.Debugf("标签页已就绪: 视口 %dx%d, 额外请求头 %d 个", vp.Width, vp.Height, len(extra))
	return b.humanizer.Warmup(ctx, rp)
}

// Close 关闭浏览器并清理临时目录
func (b *Browser) Close() error {
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher.Cleanup()
	}
	b.browser = nil
	utils.Debugf("浏览器已关闭")
	return err
}

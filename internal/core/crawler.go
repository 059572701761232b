package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/crawlers"
	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/storage"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
)

// Session 浏览器会话,*crawlers.Browser 实现此接口
type Session interface {
	NewPage(ctx context.Context) (crawlers.Page, error)
	Close() error
}

// Launcher 启动浏览器会话
type Launcher func(ctx context.Context) (Session, error)

// ProbeFunc 静态可达性探测
type ProbeFunc func(ctx context.Context, cfg models.SiteConfig) (crawlers.ProbeResult, error)

// Runner 抓取协调器
// 按分类键解析抓取目标,复用同一个浏览器标签页完成遍历,再交给合并引擎写入存储
type Runner struct {
	config  *Config
	catalog *models.Catalog
	store   storage.Store
	headers models.HeaderProvider

	pacer   *crawlers.Pacer
	monitor *crawlers.ResourceMonitor
	launch  Launcher
	probe   ProbeFunc

	engine *crawlers.Engine
	merger *MergeEngine

	// 整个运行期间只打开一个浏览器和一个标签页
	session Session
	page    crawlers.Page
}

// RunnerOption Runner可选项
type RunnerOption func(*Runner)

// WithPacer 使用指定的节奏控制器
func WithPacer(p *crawlers.Pacer) RunnerOption {
	return func(r *Runner) { r.pacer = p }
}

// WithLauncher 使用指定的浏览器启动方式
func WithLauncher(l Launcher) RunnerOption {
	return func(r *Runner) { r.launch = l }
}

// WithResourceMonitor 启动浏览器前做资源检查,nil表示跳过
func WithResourceMonitor(m *crawlers.ResourceMonitor) RunnerOption {
	return func(r *Runner) { r.monitor = m }
}

// WithProbe 使用指定的静态探测
func WithProbe(p ProbeFunc) RunnerOption {
	return func(r *Runner) { r.probe = p }
}

// NewRunner 创建抓取协调器
func NewRunner(cfg *Config, catalog *models.Catalog, store storage.Store, headers models.HeaderProvider, opts ...RunnerOption) *Runner {
	r := &Runner{
		config:  cfg,
		catalog: catalog,
		store:   store,
		headers: headers,
		merger:  NewMergeEngine(store),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.pacer == nil {
		r.pacer = crawlers.NewPacer(
			crawlers.WithMinInterval(time.Duration(cfg.Delays.NavigationMinimum) * time.Millisecond),
		)
	}
	if r.launch == nil {
		r.launch = r.launchBrowser
	}
	if r.probe == nil {
		prober := crawlers.NewProber(headers, cfg.NavigationPolicy().Timeout)
		r.probe = prober.Probe
	}

	nav := crawlers.NewNavigator(cfg.NavigationPolicy(), r.pacer)
	r.engine = crawlers.NewEngine(nav, crawlers.NewExtractor(), r.pacer, cfg.TraversalPolicy())
	return r
}

// launchBrowser 默认启动方式: go-rod 浏览器
func (r *Runner) launchBrowser(ctx context.Context) (Session, error) {
	b := r.config.Browser
	browser, err := crawlers.LaunchBrowser(ctx, crawlers.BrowserOptions{
		Headless:      b.Headless,
		UserDataDir:   b.UserDataDir,
		Stealth:       b.Stealth,
		UserAgent:     b.UserAgent,
		Headers:       r.headers,
		LaunchRetries: b.LaunchRetries,
	}, r.pacer)
	if err != nil {
		return nil, err
	}
	return browser, nil
}

// Pacer 返回运行使用的节奏控制器
func (r *Runner) Pacer() *crawlers.Pacer {
	return r.pacer
}

// Catalog 返回站点目录
func (r *Runner) Catalog() *models.Catalog {
	return r.catalog
}

// ScrapeCategory 抓取单个分类
// 未知分类键在启动浏览器之前失败;结果中的Error为空表示成功
func (r *Runner) ScrapeCategory(ctx context.Context, key string, stats *models.SessionStats) models.CategoryResult {
	target, err := r.catalog.Target(key)
	if err != nil {
		return models.CategoryResult{
			Category:    key,
			Error:       err.Error(),
			ProcessedAt: time.Now(),
			Stats:       stats.Snapshot(),
		}
	}
	return r.ScrapeTarget(ctx, target, stats)
}

// ScrapeTarget 抓取已解析的目标并合并入库
func (r *Runner) ScrapeTarget(ctx context.Context, cfg models.SiteConfig, stats *models.SessionStats) models.CategoryResult {
	if stats == nil {
		stats = models.NewSessionStats()
	}
	start := time.Now()
	result := models.CategoryResult{
		Category:    cfg.Key,
		Site:        cfg.SiteName,
		ProcessedAt: start,
	}
	finish := func(err error) models.CategoryResult {
		if err != nil {
			result.Error = err.Error()
			utils.Logger.Error().Err(err).Str("category", cfg.Key).Msg("分类抓取失败")
		} else {
			result.Success = true
		}
		result.Stats = stats.Snapshot()
		result.Duration = time.Since(start).Seconds()
		return result
	}

	utils.Logger.Info().
		Str("category", cfg.Key).
		Str("site", cfg.SiteName).
		Str("url", cfg.URL).
		Msg("🚀 开始抓取分类")

	page, err := r.ensurePage(ctx)
	if err != nil {
		return finish(err)
	}

	records, err := r.engine.Crawl(ctx, page, cfg, stats)
	if ctx.Err() != nil {
		// 中断时丢弃未完成的记录,不写入部分结果
		utils.Warnf("[%s] 抓取被中断,丢弃 %d 条未入库记录", cfg.Key, len(records))
		return finish(ctx.Err())
	}
	if err != nil {
		// 一页都没拿到,仍记录这次抓取尝试
		if terr := r.merger.Touch(ctx, cfg); terr != nil {
			utils.Warnf("[%s] %v", cfg.Key, terr)
		}
		return finish(fmt.Errorf("遍历分类失败: %w", err))
	}

	mergeStats, err := r.merger.Merge(ctx, cfg, records)
	result.Merge = mergeStats
	if err != nil {
		return finish(fmt.Errorf("合并数据失败: %w", err))
	}
	result.ProductCount = len(records)

	utils.Logger.Info().
		Str("category", cfg.Key).
		Int("products", len(records)).
		Int("new", mergeStats.New).
		Int("updated", mergeStats.Updated).
		Int("deactivated", mergeStats.Deactivated).
		Msg("✅ 分类抓取完成")
	return finish(nil)
}

// SiteTestResult 站点测试结果
type SiteTestResult struct {
	Probe    crawlers.ProbeResult  `json:"probe"`
	ProbeErr string                `json:"probe_error,omitempty"`
	Scrape   models.CategoryResult `json:"scrape"`
}

// TestSite 先静态探测站点首页,再抓取站点的第一个分类
// 未知站点在启动浏览器之前失败;探测失败只记录,不影响后续抓取
func (r *Runner) TestSite(ctx context.Context, siteKey string, stats *models.SessionStats) (*SiteTestResult, error) {
	site, err := r.catalog.Site(siteKey)
	if err != nil {
		return nil, err
	}
	target, ok := site.FirstTarget()
	if !ok {
		return nil, fmt.Errorf("%w: 站点 %s 没有分类", models.ErrUnknownCategory, siteKey)
	}

	result := &SiteTestResult{}
	probeCfg := target
	probeCfg.URL = site.BaseURL
	probe, err := r.probe(ctx, probeCfg)
	result.Probe = probe
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result.ProbeErr = err.Error()
		utils.Warnf("站点探测失败 [%s]: %v", site.BaseURL, err)
	} else {
		utils.Logger.Info().
			Str("site", site.Name).
			Int("status", probe.StatusCode).
			Int("bytes", probe.Bytes).
			Bool("challenge", probe.Challenge).
			Bool("anti_bot", probe.AntiBot).
			Msg("站点探测完成")
		if probe.Blocked() {
			utils.Warnf("静态请求被拦截,将依赖浏览器通过防护: %s", site.Name)
		}
	}

	result.Scrape = r.ScrapeTarget(ctx, target, stats)
	return result, nil
}

// ensurePage 首次使用时做资源检查、启动浏览器并打开标签页
func (r *Runner) ensurePage(ctx context.Context) (crawlers.Page, error) {
	if r.page != nil {
		return r.page, nil
	}

	if r.monitor != nil {
		if _, err := r.monitor.Preflight(); err != nil {
			return nil, err
		}
	}

	session, err := r.launch(ctx)
	if err != nil {
		if errors.Is(err, models.ErrBrowserLaunch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", models.ErrBrowserLaunch, err)
	}
	page, err := session.NewPage(ctx)
	if err != nil {
		_ = session.Close()
		return nil, err
	}

	r.session = session
	r.page = page
	return page, nil
}

// Close 关闭标签页与浏览器
func (r *Runner) Close() error {
	var errs []error
	if r.page != nil {
		errs = append(errs, r.page.Close())
		r.page = nil
	}
	if r.session != nil {
		errs = append(errs, r.session.Close())
		r.session = nil
	}
	return errors.Join(errs...)
}

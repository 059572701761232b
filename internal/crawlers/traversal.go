package crawlers

import (
	"context"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
)

const (
	// DefaultContentTimeout 等待内容选择器出现的超时
	DefaultContentTimeout = 30 * time.Second
	// DefaultStabilityPolls 稳定性等待的最大轮询次数
	DefaultStabilityPolls = 5
	// DefaultStablePolls 条目数连续不变多少次视为稳定
	DefaultStablePolls = 2
	// DefaultMaxScrollAttempts 无限滚动的最大滚动次数
	DefaultMaxScrollAttempts = 25
	// DefaultStableScrollThreshold 页面高度连续不变多少次视为到底
	DefaultStableScrollThreshold = 3
	// DefaultNudgeEvery 每滚动多少次做一次聚焦点击
	DefaultNudgeEvery = 5
	// DefaultScrollPause 站点未配置 scroll_pause 时每次滚动后的停顿
	DefaultScrollPause = 1000 * time.Millisecond
)

// TraversalPolicy 遍历的等待与终止策略
type TraversalPolicy struct {
	ContentTimeout        time.Duration
	ContentSettle         Range
	StabilityPolls        int
	StablePolls           int
	StabilityInterval     Range
	MaxScrollAttempts     int
	StableScrollThreshold int
	NudgeEvery            int
	ScrollPauseJitter     time.Duration
	ScrollSettle          Range
	SinglePageSettle      Range
}

// DefaultTraversalPolicy 默认遍历策略
func DefaultTraversalPolicy() TraversalPolicy {
	return TraversalPolicy{
		ContentTimeout:        DefaultContentTimeout,
		ContentSettle:         Millis(2000, 4000),
		StabilityPolls:        DefaultStabilityPolls,
		StablePolls:           DefaultStablePolls,
		StabilityInterval:     Millis(1000, 2000),
		MaxScrollAttempts:     DefaultMaxScrollAttempts,
		StableScrollThreshold: DefaultStableScrollThreshold,
		NudgeEvery:            DefaultNudgeEvery,
		ScrollPauseJitter:     300 * time.Millisecond,
		ScrollSettle:          Millis(2000, 3000),
		SinglePageSettle:      Millis(2000, 4000),
	}
}

// Engine 遍历引擎:导航、等待、抽取,按策略覆盖整个分类
type Engine struct {
	nav       *Navigator
	extractor *Extractor
	pacer     *Pacer
	policy    TraversalPolicy
}

// NewEngine 创建遍历引擎
func NewEngine(nav *Navigator, extractor *Extractor, pacer *Pacer, policy TraversalPolicy) *Engine {
	return &Engine{
		nav:       nav,
		extractor: extractor,
		pacer:     pacer,
		policy:    policy,
	}
}

// Crawl 按分类的遍历策略抓取全部记录
// 一页都未到达时返回导航错误;中途失败返回已抽取的记录;上下文取消时同时返回已抽取记录与ctx.Err()
func (e *Engine) Crawl(ctx context.Context, page ControlledPage, cfg models.SiteConfig, stats *models.SessionStats) ([]models.Record, error) {
	if stats == nil {
		stats = &models.SessionStats{}
	}

	utils.Logger.Info().
		Str("category", cfg.Key).
		Str("strategy", string(cfg.Strategy.Kind)).
		Str("url", cfg.URL).
		Msg("开始遍历分类")

	switch cfg.Strategy.Kind {
	case models.StrategyPaginated:
		return e.crawlPaginated(ctx, page, cfg, stats)
	case models.StrategyInfiniteScroll:
		return e.crawlInfiniteScroll(ctx, page, cfg, stats)
	default:
		return e.crawlSingle(ctx, page, cfg, stats)
	}
}

func (e *Engine) crawlSingle(ctx context.Context, page ControlledPage, cfg models.SiteConfig, stats *models.SessionStats) ([]models.Record, error) {
	if err := e.nav.Navigate(ctx, page, cfg.URL, stats); err != nil {
		return nil, err
	}
	if err := e.waitForContent(ctx, page, cfg); err != nil {
		return nil, err
	}
	if _, err := e.pacer.Jitter(ctx, e.policy.SinglePageSettle); err != nil {
		return nil, err
	}
	return e.extractPage(ctx, page, cfg, stats)
}

func (e *Engine) crawlPaginated(ctx context.Context, page ControlledPage, cfg models.SiteConfig, stats *models.SessionStats) ([]models.Record, error) {
	strategy := StrategyFor(cfg.SiteKey)
	maxPages := cfg.Strategy.MaxPages
	if maxPages < 1 {
		maxPages = 1
	}

	records := make([]models.Record, 0)
	for n := 1; n <= maxPages; n++ {
		pageURL := strategy.PageURL(cfg.URL, n)
		utils.Infof("[%s] 第 %d/%d 页: %s", cfg.Key, n, maxPages, pageURL)

		if err := e.nav.Navigate(ctx, page, pageURL, stats); err != nil {
			if n == 1 {
				return nil, err
			}
			if ctx.Err() != nil {
				return records, err
			}
			utils.Warnf("[%s] 第 %d 页导航失败,保留已抽取的 %d 条记录: %v", cfg.Key, n, len(records), err)
			break
		}
		if err := e.waitForContent(ctx, page, cfg); err != nil {
			return records, err
		}

		pageRecords, err := e.extractPage(ctx, page, cfg, stats)
		if err != nil {
			return records, err
		}
		if len(pageRecords) == 0 {
			utils.Infof("[%s] 第 %d 页没有商品,分页结束", cfg.Key, n)
			break
		}
		records = append(records, pageRecords...)

		if n == maxPages {
			break
		}
		hasNext, err := e.hasNextPage(ctx, page, strategy, n)
		if err != nil {
			return records, err
		}
		if !hasNext {
			utils.Infof("[%s] 第 %d 页没有下一页入口,分页结束", cfg.Key, n)
			break
		}
		if _, err := e.pacer.Jitter(ctx, strategy.InterPageDelay); err != nil {
			return records, err
		}
	}

	return records, nil
}

// hasNextPage 站点未配置下一页入口时只依靠空页与页数上限终止
func (e *Engine) hasNextPage(ctx context.Context, page ControlledPage, strategy SourceStrategy, current int) (bool, error) {
	selector := strategy.NextPageSelector(current)
	if selector == "" {
		return true, nil
	}
	el, err := page.QuerySelector(ctx, selector)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		utils.Debugf("下一页探测失败: %v", err)
		return false, nil
	}
	return el != nil, nil
}

func (e *Engine) crawlInfiniteScroll(ctx context.Context, page ControlledPage, cfg models.SiteConfig, stats *models.SessionStats) ([]models.Record, error) {
	if err := e.nav.Navigate(ctx, page, cfg.URL, stats); err != nil {
		return nil, err
	}
	if err := e.waitForContent(ctx, page, cfg); err != nil {
		return nil, err
	}
	if err := e.scrollUntilStable(ctx, page, cfg); err != nil {
		return nil, err
	}
	return e.extractPage(ctx, page, cfg, stats)
}

// scrollUntilStable 持续滚动直到页面高度稳定或达到滚动上限,最后回到顶部
func (e *Engine) scrollUntilStable(ctx context.Context, page ControlledPage, cfg models.SiteConfig) error {
	strategy := StrategyFor(cfg.SiteKey)
	base := time.Duration(cfg.Strategy.ScrollPause) * time.Millisecond
	if base <= 0 {
		base = DefaultScrollPause
	}
	pause := Range{Min: base, Max: base + e.policy.ScrollPauseJitter}

	lastHeight := e.scrollHeight(ctx, page, -1)
	stable := 0
	attempts := 0
	for attempts < e.policy.MaxScrollAttempts && stable < e.policy.StableScrollThreshold {
		attempts++

		if _, err := page.Evaluate(ctx, scriptScrollBy(e.pacer.Intn(strategy.ScrollStep))); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			utils.Debugf("滚动失败: %v", err)
		}
		if _, err := e.pacer.Jitter(ctx, pause); err != nil {
			return err
		}

		height := e.scrollHeight(ctx, page, lastHeight)
		if height == lastHeight {
			stable++
		} else {
			stable = 0
			lastHeight = height
		}

		if e.policy.NudgeEvery > 0 && attempts%e.policy.NudgeEvery == 0 {
			if err := e.nav.Humanizer().Nudge(ctx, page); err != nil {
				return err
			}
		}
	}
	utils.Debugf("[%s] 滚动结束: 共 %d 次,页面高度 %.0f", cfg.Key, attempts, lastHeight)

	if _, err := page.Evaluate(ctx, scriptScrollOrigin); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	_, err := e.pacer.Jitter(ctx, e.policy.ScrollSettle)
	return err
}

// scrollHeight 读取失败时返回fallback,视为高度未变化
func (e *Engine) scrollHeight(ctx context.Context, page ControlledPage, fallback float64) float64 {
	v, err := page.Evaluate(ctx, scriptScrollHeight)
	if err != nil {
		return fallback
	}
	if h, ok := toFloat(v); ok {
		return h
	}
	return fallback
}

// waitForContent 等待内容选择器后做条目数稳定性等待,超时不视为失败
func (e *Engine) waitForContent(ctx context.Context, page ControlledPage, cfg models.SiteConfig) error {
	selector := cfg.WaitFor
	if selector == "" {
		selector = cfg.ItemSelector
	}
	if err := page.WaitForSelector(ctx, selector, e.policy.ContentTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		utils.Warnf("[%s] 等待内容超时,继续处理: %v", cfg.Key, err)
	}
	if _, err := e.pacer.Jitter(ctx, e.policy.ContentSettle); err != nil {
		return err
	}
	return e.waitForStable(ctx, page, cfg.ItemSelector)
}

// waitForStable 轮询条目数,连续不变即认为加载完成
func (e *Engine) waitForStable(ctx context.Context, page ControlledPage, selector string) error {
	last, stable := -1, 0
	for i := 0; i < e.policy.StabilityPolls; i++ {
		els, err := page.QuerySelectorAll(ctx, selector)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		count := len(els)
		if count == last {
			stable++
			if stable >= e.policy.StablePolls {
				utils.Debugf("条目数已稳定: %d", count)
				return nil
			}
		} else {
			stable = 0
			last = count
		}
		if _, err := e.pacer.Jitter(ctx, e.policy.StabilityInterval); err != nil {
			return err
		}
	}
	utils.Debugf("条目数未稳定,继续抽取: %d", last)
	return nil
}

// extractPage 读取当前页面内容并抽取记录
func (e *Engine) extractPage(ctx context.Context, page ControlledPage, cfg models.SiteConfig, stats *models.SessionStats) ([]models.Record, error) {
	content, err := page.Content(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		utils.Warnf("[%s] 读取页面内容失败: %v", cfg.Key, err)
		return nil, nil
	}

	result, err := e.extractor.ExtractHTML(content, cfg)
	if err != nil {
		utils.Warnf("[%s] %v", cfg.Key, err)
		return nil, nil
	}
	stats.ProductsFound += len(result.Records)
	utils.Infof("[%s] 抽取到 %d 条有效记录", cfg.Key, len(result.Records))
	return result.Records, nil
}

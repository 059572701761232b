package crawlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
)

const (
	// DefaultMaxAttempts 单次导航的最大尝试次数
	DefaultMaxAttempts = 3
	// DefaultNavigationTimeout 单次页面导航超时
	DefaultNavigationTimeout = 60 * time.Second
	// DefaultChallengeCeiling 等待挑战页消失的最长时间
	DefaultChallengeCeiling = 60 * time.Second
)

var errChallengePersisted = errors.New("挑战页未能通过")

// NavigationPolicy 导航的时间与重试策略
type NavigationPolicy struct {
	MaxAttempts      int
	Timeout          time.Duration
	ChallengeCeiling time.Duration

	PreDelay        Range // 导航前
	PostDelay       Range // 导航后
	ChallengeSettle Range // 发现挑战页后的首次等待
	ProbeDelay      Range // 每个挑战探测动作之后
	PollInterval    Range // 挑战轮询间隔
	Backoff         Range // 失败退避基数,按尝试次数放大
}

// DefaultNavigationPolicy 默认导航策略
func DefaultNavigationPolicy() NavigationPolicy {
	return NavigationPolicy{
		MaxAttempts:      DefaultMaxAttempts,
		Timeout:          DefaultNavigationTimeout,
		ChallengeCeiling: DefaultChallengeCeiling,
		PreDelay:         Millis(500, 1500),
		PostDelay:        Millis(1000, 2000),
		ChallengeSettle:  Millis(5000, 8000),
		ProbeDelay:       Millis(2000, 4000),
		PollInterval:     Millis(1000, 2000),
		Backoff:          Millis(2000, 5000),
	}
}

// navState 导航状态
type navState int

const (
	stateIdle navState = iota
	stateNavigating
	stateChallengeCheck
	stateChallengePresent
	stateSolving
	stateAntiBotCheck
	stateSuspicious
	stateCountermeasure
	stateBackoff
	stateSettled
	stateExhausted
)

var navStateNames = map[navState]string{
	stateIdle:             "Idle",
	stateNavigating:       "Navigating",
	stateChallengeCheck:   "ChallengeCheck",
	stateChallengePresent: "ChallengePresent",
	stateSolving:          "Solving",
	stateAntiBotCheck:     "AntiBotCheck",
	stateSuspicious:       "Suspicious",
	stateCountermeasure:   "Countermeasure",
	stateBackoff:          "Backoff",
	stateSettled:          "Settled",
	stateExhausted:        "Exhausted",
}

func (s navState) String() string {
	if name, ok := navStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("navState(%d)", int(s))
}

// navRun 单次Navigate调用的可变状态
type navRun struct {
	url     string
	page    ControlledPage
	stats   *models.SessionStats
	attempt int
	solving bool // 本次尝试已进入挑战处理
	title   string
	content string
	lastErr error
	trace   []navState
}

// Navigator 带挑战检测与反爬对抗的导航状态机
type Navigator struct {
	policy    NavigationPolicy
	pacer     *Pacer
	humanizer *Humanizer
}

// NewNavigator 创建导航器
func NewNavigator(policy NavigationPolicy, pacer *Pacer) *Navigator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultNavigationTimeout
	}
	if policy.ChallengeCeiling <= 0 {
		policy.ChallengeCeiling = DefaultChallengeCeiling
	}
	return &Navigator{
		policy:    policy,
		pacer:     pacer,
		humanizer: NewHumanizer(pacer),
	}
}

// Humanizer 返回导航器使用的Humanizer
func (n *Navigator) Humanizer() *Humanizer {
	return n.humanizer
}

// Navigate 导航到url直至页面可用
// 成功返回nil;重试耗尽返回包装ErrNavigationExhausted的错误;上下文取消返回ctx.Err()
func (n *Navigator) Navigate(ctx context.Context, page ControlledPage, url string, stats *models.SessionStats) error {
	_, err := n.run(ctx, page, url, stats)
	return err
}

func (n *Navigator) run(ctx context.Context, page ControlledPage, url string, stats *models.SessionStats) (*navRun, error) {
	if stats == nil {
		stats = &models.SessionStats{}
	}
	run := &navRun{url: url, page: page, stats: stats}
	state := stateIdle

	for {
		if err := ctx.Err(); err != nil {
			return run, err
		}

		next, err := n.step(ctx, run, state)
		if err != nil {
			return run, err
		}
		run.trace = append(run.trace, next)
		utils.Logger.Trace().
			Str("url", url).
			Int("attempt", run.attempt).
			Stringer("from", state).
			Stringer("to", next).
			Msg("导航状态转换")

		switch next {
		case stateSettled:
			stats.PagesScraped++
			utils.Debugf("页面就绪: %s (第%d次尝试)", url, run.attempt)
			return run, nil
		case stateExhausted:
			utils.Logger.Error().
				Err(run.lastErr).
				Str("url", url).
				Int("attempts", run.attempt).
				Msg("导航失败,重试次数已耗尽")
			return run, fmt.Errorf("%w: %s (%d次尝试): %v", models.ErrNavigationExhausted, url, run.attempt, run.lastErr)
		}
		state = next
	}
}

// step 状态转换函数
// 只有上下文取消会返回错误,其余失败都转换为 Backoff 或 Exhausted 状态
func (n *Navigator) step(ctx context.Context, run *navRun, state navState) (navState, error) {
	switch state {
	case stateIdle:
		return stateNavigating, nil

	case stateNavigating:
		run.attempt++
		run.solving = false
		if err := n.pacer.WaitTurn(ctx); err != nil {
			return 0, err
		}
		if _, err := n.pacer.Jitter(ctx, n.policy.PreDelay); err != nil {
			return 0, err
		}
		utils.Debugf("导航到: %s (第%d/%d次尝试)", run.url, run.attempt, n.policy.MaxAttempts)
		if err := run.page.Navigate(ctx, run.url, n.policy.Timeout); err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return n.fail(run, fmt.Errorf("导航出错: %w", err)), nil
		}
		if _, err := n.pacer.Jitter(ctx, n.policy.PostDelay); err != nil {
			return 0, err
		}
		return stateChallengeCheck, nil

	case stateChallengeCheck:
		run.title, run.content = pageSnapshot(ctx, run.page)
		if ContainsChallenge(run.title, run.content) {
			if run.solving {
				return n.fail(run, errChallengePersisted), nil
			}
			return stateChallengePresent, nil
		}
		if run.solving {
			run.stats.ChallengesSolved++
			utils.Infof("挑战页已通过: %s", run.url)
		}
		return stateAntiBotCheck, nil

	case stateChallengePresent:
		run.solving = true
		utils.Logger.Warn().Str("url", run.url).Str("title", run.title).Msg("检测到挑战页,尝试处理")
		if _, err := n.pacer.Jitter(ctx, n.policy.ChallengeSettle); err != nil {
			return 0, err
		}
		if err := n.probeChallenge(ctx, run.page); err != nil {
			return 0, err
		}
		return stateSolving, nil

	case stateSolving:
		var waited time.Duration
		for waited < n.policy.ChallengeCeiling {
			d, err := n.pacer.Jitter(ctx, n.policy.PollInterval)
			if err != nil {
				return 0, err
			}
			waited += d
			title, content := pageSnapshot(ctx, run.page)
			if !ContainsChallenge(title, content) {
				break
			}
		}
		return stateChallengeCheck, nil

	case stateAntiBotCheck:
		if ContainsAntiBot(run.content) {
			return stateSuspicious, nil
		}
		return stateSettled, nil

	case stateSuspicious:
		utils.Logger.Warn().Str("url", run.url).Msg("页面包含反爬特征,执行人类行为模拟")
		return stateCountermeasure, nil

	case stateCountermeasure:
		if err := n.humanizer.Countermeasure(ctx, run.page); err != nil {
			return 0, err
		}
		return stateSettled, nil

	case stateBackoff:
		d, err := n.pacer.Jitter(ctx, n.policy.Backoff.Scale(run.attempt))
		if err != nil {
			return 0, err
		}
		utils.Debugf("退避 %.1f 秒后重试: %s", d.Seconds(), run.url)
		return stateNavigating, nil
	}

	return 0, fmt.Errorf("非法导航状态: %v", state)
}

// fail 记录一次失败尝试,决定退避重试还是终止
func (n *Navigator) fail(run *navRun, err error) navState {
	run.lastErr = err
	run.stats.ErrorsEncountered++
	utils.Warnf("导航尝试失败 [%s] (第%d/%d次): %v", run.url, run.attempt, n.policy.MaxAttempts, err)
	if run.attempt >= n.policy.MaxAttempts {
		return stateExhausted
	}
	return stateBackoff
}

// probeChallenge 依次尝试点击挑战表单、验证按钮和勾选复选框
func (n *Navigator) probeChallenge(ctx context.Context, page ControlledPage) error {
	probes := []struct {
		selector string
		act      func(Element) error
		name     string
	}{
		{selectorChallengeForm, func(el Element) error { return el.Click(ctx) }, "点击挑战表单"},
		{selectorVerifyButton, func(el Element) error { return el.Click(ctx) }, "点击验证按钮"},
		{selectorCheckbox, func(el Element) error { return el.Check(ctx) }, "勾选复选框"},
	}

	for _, probe := range probes {
		el, err := page.QuerySelector(ctx, probe.selector)
		if err != nil || el == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if err := probe.act(el); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			utils.Debugf("%s失败: %v", probe.name, err)
			continue
		}
		utils.Debugf("%s", probe.name)
		if _, err := n.pacer.Jitter(ctx, n.policy.ProbeDelay); err != nil {
			return err
		}
	}
	return nil
}

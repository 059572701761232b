package crawlers

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Range 随机延迟区间
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Millis 以毫秒构造区间
func Millis(min, max int) Range {
	return Range{Min: time.Duration(min) * time.Millisecond, Max: time.Duration(max) * time.Millisecond}
}

// Scale 区间整体乘以系数
func (r Range) Scale(factor int) Range {
	return Range{Min: r.Min * time.Duration(factor), Max: r.Max * time.Duration(factor)}
}

// IntRange 整数区间(滚动步长、坐标)
type IntRange struct {
	Min int
	Max int
}

// Sleeper 可被取消的等待函数
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep 默认Sleeper,上下文取消时提前返回
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pacer 负责所有随机延迟与导航频率下限
// 单worker使用,但随机源仍加锁以便在测试中共享
type Pacer struct {
	mu      sync.Mutex
	rng     *rand.Rand
	sleep   Sleeper
	limiter *rate.Limiter
}

// PacerOption Pacer配置项
type PacerOption func(*Pacer)

// WithSleeper 替换等待实现(测试中用于跳过真实等待)
func WithSleeper(s Sleeper) PacerOption {
	return func(p *Pacer) { p.sleep = s }
}

// WithSeed 固定随机种子
func WithSeed(seed int64) PacerOption {
	return func(p *Pacer) { p.rng = rand.New(rand.NewSource(seed)) }
}

// WithMinInterval 两次导航之间的最小间隔,0表示不限制
func WithMinInterval(d time.Duration) PacerOption {
	return func(p *Pacer) {
		if d <= 0 {
			p.limiter = nil
			return
		}
		p.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// NewPacer 创建Pacer
func NewPacer(opts ...PacerOption) *Pacer {
	p := &Pacer{
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: ContextSleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Duration 在区间内取随机时长
func (p *Pacer) Duration(r Range) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return r.Min + time.Duration(p.rng.Int63n(int64(r.Max-r.Min)+1))
}

// Intn 在闭区间内取随机整数
func (p *Pacer) Intn(r IntRange) int {
	if r.Max <= r.Min {
		return r.Min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return r.Min + p.rng.Intn(r.Max-r.Min+1)
}

// Jitter 随机等待,返回实际等待的时长
func (p *Pacer) Jitter(ctx context.Context, r Range) (time.Duration, error) {
	d := p.Duration(r)
	return d, p.sleep(ctx, d)
}

// WaitTurn 等待导航令牌
func (p *Pacer) WaitTurn(ctx context.Context) error {
	if p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}

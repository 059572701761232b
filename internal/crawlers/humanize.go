package crawlers

import (
	"context"

	"github.com/RecoveryAshes/PriceHawk/internal/utils"
)

var (
	pointerMoves    = IntRange{Min: 3, Max: 7}
	pointerX        = IntRange{Min: 100, Max: 800}
	pointerY        = IntRange{Min: 100, Max: 600}
	warmupPointer   = IntRange{Min: 100, Max: 200}
	humanScrollY    = IntRange{Min: 100, Max: 500}
	pointerPause    = Millis(100, 500)
	humanScrollWait = Millis(1000, 2000)
	focusWait       = Millis(1000, 3000)
	warmupWait      = Millis(500, 1500)
)

// Humanizer 模拟人类操作,用于反爬对抗
// 页面操作失败只记录日志,只有上下文取消才会返回错误
type Humanizer struct {
	pacer *Pacer
}

// NewHumanizer 创建Humanizer
func NewHumanizer(pacer *Pacer) *Humanizer {
	return &Humanizer{pacer: pacer}
}

// Countermeasure 随机移动指针,滚动页面,再聚焦点击
func (h *Humanizer) Countermeasure(ctx context.Context, page ControlledPage) error {
	moves := h.pacer.Intn(pointerMoves)
	for i := 0; i < moves; i++ {
		x, y := h.pacer.Intn(pointerX), h.pacer.Intn(pointerY)
		if err := page.MouseMove(ctx, float64(x), float64(y)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			utils.Debugf("指针移动失败: %v", err)
		}
		if _, err := h.pacer.Jitter(ctx, pointerPause); err != nil {
			return err
		}
	}

	if _, err := page.Evaluate(ctx, scriptScrollTo(h.pacer.Intn(humanScrollY))); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		utils.Debugf("模拟滚动失败: %v", err)
	}
	if _, err := h.pacer.Jitter(ctx, humanScrollWait); err != nil {
		return err
	}

	if err := h.Nudge(ctx, page); err != nil {
		return err
	}
	_, err := h.pacer.Jitter(ctx, focusWait)
	return err
}

// Nudge 聚焦窗口并点击页面主体,保持页面处于交互状态
func (h *Humanizer) Nudge(ctx context.Context, page ControlledPage) error {
	if _, err := page.Evaluate(ctx, scriptFocusClick); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		utils.Debugf("聚焦点击失败: %v", err)
	}
	return nil
}

// Warmup 新页面的首次指针移动
func (h *Humanizer) Warmup(ctx context.Context, page ControlledPage) error {
	x, y := h.pacer.Intn(warmupPointer), h.pacer.Intn(warmupPointer)
	if err := page.MouseMove(ctx, float64(x), float64(y)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		utils.Debugf("初始指针移动失败: %v", err)
	}
	_, err := h.pacer.Jitter(ctx, warmupWait)
	return err
}

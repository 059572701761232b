package crawlers

import (
	"context"
	"fmt"
	"time"
)

// Element 页面中的可交互元素
type Element interface {
	Click(ctx context.Context) error
	// Check 勾选复选框,已勾选时不做任何事
	Check(ctx context.Context) error
}

// ControlledPage 导航器与遍历引擎依赖的浏览器页面能力
// 生产环境由 rodPage 实现,测试中使用脚本化的假页面
type ControlledPage interface {
	// Navigate 导航到url,等待DOMContentLoaded,超过timeout返回错误
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Content(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// QuerySelector 查找单个元素,不存在时返回 nil, nil
	QuerySelector(ctx context.Context, selector string) (Element, error)
	QuerySelectorAll(ctx context.Context, selector string) ([]Element, error)
	// Evaluate 执行形如 "() => ..." 的脚本并返回JSON解码后的值
	Evaluate(ctx context.Context, script string) (interface{}, error)
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	SetViewport(ctx context.Context, width, height int) error
	SetExtraHeaders(ctx context.Context, headers map[string]string) error
	MouseMove(ctx context.Context, x, y float64) error
}

// Page 可关闭的受控页面,由 Browser.NewPage 返回
type Page interface {
	ControlledPage
	Close() error
}

// 页面脚本
const (
	scriptScrollHeight = `() => document.body.scrollHeight`
	scriptFocusClick   = `() => { window.focus(); document.body.click(); return true }`
	scriptScrollOrigin = `() => { window.scrollTo(0, 0); return true }`
)

func scriptScrollBy(step int) string {
	return fmt.Sprintf("() => { window.scrollBy(0, %d); return true }", step)
}

func scriptScrollTo(y int) string {
	return fmt.Sprintf("() => { window.scrollTo(0, %d); return true }", y)
}

// toFloat 将Evaluate返回的JSON数字转为float64
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

package utils

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
)

// MaxHeaderValueLength 头部值最大长度 (8KB)
const MaxHeaderValueLength = 8192

// HeaderRoute 头部送达浏览器的方式
type HeaderRoute int

const (
	// RouteExtra 通过 Network.setExtraHTTPHeaders 附加到标签页的每个请求
	RouteExtra HeaderRoute = iota
	// RouteOverride 通过 Network.setUserAgentOverride 设置,同时影响 navigator.userAgent / navigator.languages
	RouteOverride
	// RouteStaticOnly 只用于静态探测,浏览器自行协商
	RouteStaticOnly
)

var (
	// ForbiddenHeaders 由Chrome网络栈按连接管理的头部,作为额外请求头会被拒绝或破坏请求
	ForbiddenHeaders = []string{
		"Host",
		"Content-Length",
		"Transfer-Encoding",
		"Connection",
		"Keep-Alive",
		"Upgrade",
		"Te",
		"Trailer",
		"Expect",
	}

	// ForbiddenPrefixes 前缀匹配的禁止头部
	// 客户端提示由stealth脚本和User-Agent覆盖生成,手工设置会与 navigator.userAgentData 不一致
	ForbiddenPrefixes = []string{
		"proxy-",
		"sec-ch-",
	}

	overrideHeaders = map[string]bool{
		"user-agent":      true,
		"accept-language": true,
	}

	// 浏览器会按自身能力声明编码,强制覆盖可能收到无法解码的响应
	staticOnlyHeaders = map[string]bool{
		"accept-encoding": true,
	}
)

// RouteOf 返回头部的送达方式
func RouteOf(name string) HeaderRoute {
	lower := strings.ToLower(name)
	switch {
	case overrideHeaders[lower]:
		return RouteOverride
	case staticOnlyHeaders[lower]:
		return RouteStaticOnly
	default:
		return RouteExtra
	}
}

// BrowserHeaders 拆分后的标签页头部
type BrowserHeaders struct {
	UserAgent      string
	AcceptLanguage string
	Extra          map[string]string
}

// SplitBrowserHeaders 按送达方式拆分合并后的头部,每个头部只取第一个值
func SplitBrowserHeaders(headers http.Header) BrowserHeaders {
	out := BrowserHeaders{Extra: make(map[string]string, len(headers))}
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		switch RouteOf(name) {
		case RouteOverride:
			if strings.EqualFold(name, "User-Agent") {
				out.UserAgent = values[0]
			} else {
				out.AcceptLanguage = values[0]
			}
		case RouteExtra:
			out.Extra[http.CanonicalHeaderKey(name)] = values[0]
		}
	}
	return out
}

// HeaderValidator 校验将要注入标签页和探测请求的头部
type HeaderValidator struct {
	nameRegex        *regexp.Regexp
	valueRegex       *regexp.Regexp
	maxValueLength   int
	forbiddenHeaders map[string]bool
}

// NewHeaderValidator 创建验证器
func NewHeaderValidator() *HeaderValidator {
	forbidden := make(map[string]bool, len(ForbiddenHeaders))
	for _, h := range ForbiddenHeaders {
		forbidden[strings.ToLower(h)] = true
	}

	return &HeaderValidator{
		// RFC 7230 token 的常用子集
		nameRegex: regexp.MustCompile(`^[A-Za-z0-9-]+$`),
		// CDP 以字符串传递,非ASCII会被Chrome拒绝
		valueRegex:       regexp.MustCompile(`^[\x20-\x7E\t]*$`),
		maxValueLength:   MaxHeaderValueLength,
		forbiddenHeaders: forbidden,
	}
}

// IsForbidden 检查头部是否禁止配置
func (hv *HeaderValidator) IsForbidden(name string) bool {
	lower := strings.ToLower(name)
	if hv.forbiddenHeaders[lower] {
		return true
	}
	for _, prefix := range ForbiddenPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// ValidateHeader 验证单个头部
func (hv *HeaderValidator) ValidateHeader(name, value string) error {
	if hv.IsForbidden(name) {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "此头部由浏览器网络栈管理,不能作为额外请求头",
			Suggestion: fmt.Sprintf("移除 '%s' 头部配置", name),
		}
	}

	if name == "" {
		return &models.ValidationError{
			Field:  "name",
			Reason: "头部名称不能为空",
		}
	}
	if !hv.nameRegex.MatchString(name) {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "头部名称包含非法字符 (仅允许字母、数字和连字符)",
			Suggestion: "使用字母、数字和连字符 (如 'Referer', 'X-Requested-With')",
		}
	}

	if len(value) > hv.maxValueLength {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     fmt.Sprintf("头部值过长: %d 字节 (最大 %d)", len(value), hv.maxValueLength),
			Suggestion: fmt.Sprintf("将值缩短至 %d 字节以内", hv.maxValueLength),
		}
	}
	if !hv.valueRegex.MatchString(value) {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     "头部值包含非法字符 (仅允许可打印ASCII字符)",
			Suggestion: "移除控制字符和非ASCII字符",
		}
	}

	// 空的User-Agent覆盖会让Chrome发送空UA,比默认值更显眼
	if RouteOf(name) == RouteOverride && strings.EqualFold(name, "User-Agent") && strings.TrimSpace(value) == "" {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     "User-Agent 不能为空",
			Suggestion: "删除该头部以使用 browser.user_agent",
		}
	}
	return nil
}

// Validate 验证http.Header中的所有头部,返回第一个错误
func (hv *HeaderValidator) Validate(headers http.Header) error {
	for name, values := range headers {
		for _, value := range values {
			if err := hv.ValidateHeader(name, value); err != nil {
				return err
			}
		}
	}
	return nil
}

package utils

import (
	"net/http"
	"sort"
	"strings"
)

var (
	// SensitiveKeywords 头部名称含这些关键字时整体脱敏
	SensitiveKeywords = []string{
		"authorization",
		"token",
		"key",
		"secret",
		"session",
		"csrf",
		"xsrf",
	}

	// cookieHeaders 按cookie对脱敏,保留名称便于排查
	cookieHeaders = map[string]bool{
		"cookie":     true,
		"set-cookie": true,
	}
)

// HeaderRedactor 日志输出前隐藏凭据
// -H 常被用来带上 user_data_dir 会话里的 cf_clearance 等cookie
type HeaderRedactor struct {
	sensitiveKeywords []string
}

// NewHeaderRedactor 创建头部脱敏器
func NewHeaderRedactor() *HeaderRedactor {
	return &HeaderRedactor{sensitiveKeywords: SensitiveKeywords}
}

// IsSensitiveHeader 检查头部是否需要脱敏
func (hr *HeaderRedactor) IsSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	if cookieHeaders[lower] {
		return true
	}
	for _, keyword := range hr.sensitiveKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// RedactHeaderValue 脱敏单个头部值,非敏感头部原样返回
func (hr *HeaderRedactor) RedactHeaderValue(name, value string) string {
	if !hr.IsSensitiveHeader(name) {
		return value
	}
	if cookieHeaders[strings.ToLower(name)] {
		return redactCookies(value)
	}
	if strings.HasPrefix(value, "Bearer ") {
		return "Bearer ***"
	}
	if len(value) > 8 {
		return value[:4] + "***" + value[len(value)-4:]
	}
	return "***"
}

// redactCookies "cf_clearance=abc; lang=tr" -> "cf_clearance=***; lang=***"
func redactCookies(value string) string {
	pairs := strings.Split(value, ";")
	out := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, _, found := strings.Cut(pair, "=")
		if !found {
			out = append(out, "***")
			continue
		}
		out = append(out, strings.TrimSpace(name)+"=***")
	}
	return strings.Join(out, "; ")
}

// Redact 脱敏整个http.Header,每个头部只取第一个值
func (hr *HeaderRedactor) Redact(headers http.Header) map[string]string {
	result := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		result[name] = hr.RedactHeaderValue(name, values[0])
	}
	return result
}

// RedactToString 按名称排序输出 "Name: value, ..."
func (hr *HeaderRedactor) RedactToString(headers http.Header) string {
	redacted := hr.Redact(headers)
	names := make([]string, 0, len(redacted))
	for name := range redacted {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+redacted[name])
	}
	return strings.Join(parts, ", ")
}

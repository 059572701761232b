package core

import (
	"math/rand"
	"net/http"

	"github.com/RecoveryAshes/PriceHawk/internal/crawlers"
	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
)

// AcceptLanguages 新会话从中随机选择一个 Accept-Language
var AcceptLanguages = []string{
	"tr-TR,tr;q=0.9,en;q=0.8",
	"en-US,en;q=0.9,tr;q=0.8",
	"tr;q=0.9,en-US;q=0.8,en;q=0.7",
}

// HeaderManager 管理浏览器页面额外请求头的生命周期
// 实现 HeaderProvider 接口
type HeaderManager struct {
	// defaults 伪装用的默认头部
	defaults http.Header

	// config 配置文件 browser.headers
	config http.Header

	// cli 命令行 -H
	cli http.Header

	validator *utils.HeaderValidator
	redactor  *utils.HeaderRedactor

	// validated 标记是否已通过校验
	validated bool
}

// NewHeaderManager 创建头部管理器
// 参数:
//   - configHeaders: 配置文件中的 browser.headers
//   - cliHeaders: 命令行传递的头部字符串列表
func NewHeaderManager(configHeaders map[string]string, cliHeaders []string) (*HeaderManager, error) {
	return newHeaderManager(configHeaders, cliHeaders, rand.Intn)
}

func newHeaderManager(configHeaders map[string]string, cliHeaders []string, pick func(n int) int) (*HeaderManager, error) {
	hm := &HeaderManager{
		defaults:  stealthHeaders(AcceptLanguages[pick(len(AcceptLanguages))]),
		config:    make(http.Header),
		cli:       make(http.Header),
		validator: utils.NewHeaderValidator(),
		redactor:  utils.NewHeaderRedactor(),
	}

	for name, value := range configHeaders {
		hm.config.Set(name, value)
	}

	if len(cliHeaders) > 0 {
		parsed, err := models.CliHeaders(cliHeaders).Parse()
		if err != nil {
			return nil, err
		}
		hm.cli = parsed
	}

	return hm, nil
}

// stealthHeaders 接近真实浏览器首次访问的头部组合
// Connection 由浏览器管理,不在其中
func stealthHeaders(acceptLanguage string) http.Header {
	return http.Header{
		"User-Agent":                []string{crawlers.DefaultUserAgent},
		"Accept":                    []string{"text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"},
		"Accept-Encoding":           []string{"gzip, deflate, br"},
		"Accept-Language":           []string{acceptLanguage},
		"Dnt":                       []string{"1"},
		"Upgrade-Insecure-Requests": []string{"1"},
		"Sec-Fetch-Dest":            []string{"document"},
		"Sec-Fetch-Mode":            []string{"navigate"},
		"Sec-Fetch-Site":            []string{"none"},
		"Sec-Fetch-User":            []string{"?1"},
		"Cache-Control":             []string{"max-age=0"},
	}
}

// Validate 验证所有头部的合法性
// 验证顺序: 默认 → 配置 → 命令行
func (hm *HeaderManager) Validate() error {
	if err := hm.validator.Validate(hm.defaults); err != nil {
		utils.Errorf("默认头部验证失败: %v", err)
		return err
	}

	if err := hm.validator.Validate(hm.config); err != nil {
		utils.Errorf("配置文件头部验证失败: %v", err)
		return err
	}

	if err := hm.validator.Validate(hm.cli); err != nil {
		utils.Errorf("命令行头部验证失败: %v", err)
		return err
	}

	utils.Debugf("所有请求头验证通过")
	return nil
}

// GetMergedHeaders 按优先级合并头部 (default < config < cli)
func (hm *HeaderManager) GetMergedHeaders() http.Header {
	result := make(http.Header)

	for name, values := range hm.defaults {
		result[name] = values
	}
	for name, values := range hm.config {
		result[name] = values
	}
	for name, values := range hm.cli {
		result[name] = values
	}

	return result
}

// GetSafeHeaders 返回脱敏后的头部 (用于日志)
func (hm *HeaderManager) GetSafeHeaders() map[string]string {
	return hm.redactor.Redact(hm.GetMergedHeaders())
}

// GetHeaders 实现 HeaderProvider 接口
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	if !hm.validated {
		if err := hm.Validate(); err != nil {
			return nil, err
		}
		hm.validated = true
		utils.Debugf("生效的请求头: %s", hm.redactor.RedactToString(hm.GetMergedHeaders()))
	}
	return hm.GetMergedHeaders(), nil
}

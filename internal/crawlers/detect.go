package crawlers

import (
	"context"
	"strings"
)

// 挑战页标识,区分大小写,出现在标题或正文中任意一个即视为挑战页
var challengeIndicators = []string{
	"Just a moment",
	"Please wait",
	"Checking your browser",
	"DDoS protection",
	"cf-challenge-form",
	"cf-error-overview",
	"cf-browser-verification",
}

// 反爬标识,在小写化的正文中匹配
var antiBotIndicators = []string{
	"blocked",
	"forbidden",
	"access denied",
	"bot detected",
	"captcha",
	"verification",
	"security check",
	"suspicious activity",
}

// 挑战处理的探测元素
const (
	selectorChallengeForm = "#challenge-form"
	selectorVerifyButton  = `input[type="button"][value*="Verify"]`
	selectorCheckbox      = `input[type="checkbox"]`
)

// ContainsChallenge 文本中是否包含挑战页标识
func ContainsChallenge(texts ...string) bool {
	for _, text := range texts {
		for _, indicator := range challengeIndicators {
			if strings.Contains(text, indicator) {
				return true
			}
		}
	}
	return false
}

// ContainsAntiBot 正文中是否包含反爬标识
func ContainsAntiBot(content string) bool {
	lower := strings.ToLower(content)
	for _, indicator := range antiBotIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// pageSnapshot 读取标题与正文,读取失败时按空字符串处理
func pageSnapshot(ctx context.Context, page ControlledPage) (title, content string) {
	if t, err := page.Title(ctx); err == nil {
		title = t
	}
	if c, err := page.Content(ctx); err == nil {
		content = c
	}
	return title, content
}

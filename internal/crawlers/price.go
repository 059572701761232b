package crawlers

import (
	"regexp"
	"strconv"
	"strings"
)

var priceNumber = regexp.MustCompile(`\d+(?:\.\d+)?`)

// PriceFormat 价格文本的书写约定
type PriceFormat struct {
	// CurrencyTokens 需要去除的货币标记
	CurrencyTokens []string
	// TrailingSuffix 末尾货币后缀,不区分大小写
	TrailingSuffix string
	Thousands      string
	Decimal        string
}

var (
	// FormatTurkishLira "28.999 TL" / "28.999,90 TL"
	FormatTurkishLira = PriceFormat{TrailingSuffix: "TL", Thousands: ".", Decimal: ","}
	// FormatLiraGlyph "₺6.672"
	FormatLiraGlyph = PriceFormat{CurrencyTokens: []string{"₺"}, Thousands: ".", Decimal: ","}
)

// Normalize 解析价格文本,格式不符时返回 ok=false,不会panic
func (f PriceFormat) Normalize(raw string) (float64, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return 0, false
	}

	for _, token := range f.CurrencyTokens {
		text = strings.ReplaceAll(text, token, "")
	}
	if f.TrailingSuffix != "" {
		trimmed := strings.TrimSpace(text)
		if len(trimmed) >= len(f.TrailingSuffix) &&
			strings.EqualFold(trimmed[len(trimmed)-len(f.TrailingSuffix):], f.TrailingSuffix) {
			text = trimmed[:len(trimmed)-len(f.TrailingSuffix)]
		}
	}
	if f.Thousands != "" {
		text = strings.ReplaceAll(text, f.Thousands, "")
	}
	if f.Decimal != "" && f.Decimal != "." {
		text = strings.ReplaceAll(text, f.Decimal, ".")
	}

	match := priceNumber.FindString(text)
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

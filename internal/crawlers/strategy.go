package crawlers

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SourceStrategy 站点差异集合,全部为纯函数或常量区间
type SourceStrategy struct {
	// PageURL 第page页的地址,第1页即分类地址
	PageURL func(categoryURL string, page int) string
	// Price 价格书写约定
	Price PriceFormat
	// NextPageSelector 当前为第current页时"下一页"入口的选择器,空字符串表示站点无此入口
	NextPageSelector func(current int) string
	// InterPageDelay 翻页间隔
	InterPageDelay Range
	// ScrollStep 无限滚动的单次滚动距离
	ScrollStep IntRange
	// DecodeCustom 解析custom类型字段
	DecodeCustom func(item *goquery.Selection, field string) (interface{}, bool)
}

var defaultStrategy = SourceStrategy{
	PageURL:          queryPageURL("page"),
	Price:            FormatTurkishLira,
	NextPageSelector: noNextPage,
	InterPageDelay:   Millis(2000, 4000),
	ScrollStep:       IntRange{Min: 300, Max: 800},
	DecodeCustom:     noCustomFields,
}

var strategies = map[string]SourceStrategy{
	"incehesap": {
		PageURL: pathPageURL,
		Price:   FormatTurkishLira,
		NextPageSelector: func(current int) string {
			return fmt.Sprintf(`nav[aria-label="Pagination"] a[href*="sayfa-%d"]`, current+1)
		},
		InterPageDelay: Millis(2000, 4000),
		ScrollStep:     IntRange{Min: 300, Max: 800},
		DecodeCustom:   decodeProductPayload,
	},
	"itopya": {
		PageURL:          queryPageURL("page"),
		Price:            FormatTurkishLira,
		NextPageSelector: noNextPage,
		InterPageDelay:   Millis(2000, 4000),
		ScrollStep:       IntRange{Min: 1200, Max: 1800},
		DecodeCustom:     noCustomFields,
	},
	"sinerji": {
		PageURL: queryPageURL("px"),
		Price:   FormatLiraGlyph,
		NextPageSelector: func(int) string {
			return `nav[aria-label="Page navigation"] .paging a[title="Next page"]`
		},
		InterPageDelay: Millis(5000, 8000),
		ScrollStep:     IntRange{Min: 300, Max: 800},
		DecodeCustom:   noCustomFields,
	},
}

// StrategyFor 返回站点策略,未登记的站点使用默认策略
func StrategyFor(siteKey string) SourceStrategy {
	if s, ok := strategies[siteKey]; ok {
		return s
	}
	return defaultStrategy
}

func noNextPage(int) string { return "" }

func noCustomFields(*goquery.Selection, string) (interface{}, bool) { return nil, false }

// pathPageURL {base}sayfa-{n}/
func pathPageURL(categoryURL string, page int) string {
	if page <= 1 {
		return categoryURL
	}
	base := categoryURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return fmt.Sprintf("%ssayfa-%d/", base, page)
}

// queryPageURL {base}?{param}={n}
func queryPageURL(param string) func(string, int) string {
	return func(categoryURL string, page int) string {
		if page <= 1 {
			return categoryURL
		}
		u, err := url.Parse(categoryURL)
		if err != nil {
			return fmt.Sprintf("%s?%s=%d", categoryURL, param, page)
		}
		q := u.Query()
		q.Set(param, strconv.Itoa(page))
		u.RawQuery = q.Encode()
		return u.String()
	}
}

// decodeProductPayload 解析条目 data-product 属性中的JSON
// 解析失败时品牌取商品名称的第一个词
func decodeProductPayload(item *goquery.Selection, field string) (interface{}, bool) {
	if raw, ok := item.Attr("data-product"); ok && strings.TrimSpace(raw) != "" {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &payload); err == nil {
			if v, ok := payloadField(payload, field); ok {
				return v, true
			}
		}
	}

	if field == "brand" {
		words := strings.Fields(item.Find(`[itemprop="name"]`).First().Text())
		if len(words) > 0 {
			return words[0], true
		}
	}
	return nil, false
}

func payloadField(payload map[string]json.RawMessage, field string) (interface{}, bool) {
	switch field {
	case "brand":
		var brand string
		if err := json.Unmarshal(payload["brand"], &brand); err == nil && brand != "" {
			return brand, true
		}
	case "rating":
		if v, ok := flexFloat(payload["rating"]); ok {
			return v, true
		}
	case "reviewCount":
		if v, ok := flexFloat(payload["review_count"]); ok {
			return int(v), true
		}
	case "tags":
		var list []string
		if err := json.Unmarshal(payload["tags"], &list); err == nil {
			return list, true
		}
		var joined string
		if err := json.Unmarshal(payload["tags"], &joined); err == nil && joined != "" {
			tags := make([]string, 0)
			for _, t := range strings.Split(joined, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tags = append(tags, t)
				}
			}
			return tags, true
		}
	}
	return nil, false
}

// flexFloat 同时接受JSON数字与数字字符串
func flexFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

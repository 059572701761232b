package crawlers

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
	"golang.org/x/net/html"
)

// ExtractResult 一次抽取的结果
type ExtractResult struct {
	Records []models.Record
	Items   int // 匹配到的条目数
	Dropped int // 未通过有效性校验的条目数
}

// Extractor 字段抽取管线
type Extractor struct {
	now func() time.Time
}

// NewExtractor 创建抽取器
func NewExtractor() *Extractor {
	return &Extractor{now: time.Now}
}

// ExtractHTML 解析页面HTML并抽取全部条目
func (e *Extractor) ExtractHTML(content string, cfg models.SiteConfig) (ExtractResult, error) {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return ExtractResult{}, fmt.Errorf("解析页面HTML失败: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)
	return e.Extract(doc.Find(cfg.ItemSelector), cfg), nil
}

// Extract 按字段规则把条目转换为记录
// 单个字段或条目出错只影响该条目,不会导致整体失败
func (e *Extractor) Extract(items *goquery.Selection, cfg models.SiteConfig) ExtractResult {
	strategy := StrategyFor(cfg.SiteKey)
	now := e.now()
	result := ExtractResult{Records: make([]models.Record, 0, items.Length())}

	items.Each(func(i int, item *goquery.Selection) {
		result.Items++
		record, ok := e.extractItem(item, cfg, strategy, now)
		if !ok {
			result.Dropped++
			return
		}
		result.Records = append(result.Records, record)
	})

	utils.Debugf("[%s] 匹配条目 %d 个,有效记录 %d 条,丢弃 %d 条",
		cfg.Key, result.Items, len(result.Records), result.Dropped)
	return result
}

func (e *Extractor) extractItem(item *goquery.Selection, cfg models.SiteConfig, strategy SourceStrategy, now time.Time) (record models.Record, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			utils.Debugf("[%s] 条目抽取panic: %v", cfg.Key, r)
			ok = false
		}
	}()

	for _, field := range cfg.Fields {
		value, present := extractField(item, field, strategy)
		if !present {
			continue
		}
		assignField(&record, field.Name, value, strategy)
	}

	record.Link = resolveURL(cfg.BaseURL, record.Link)
	record.Image = resolveURL(cfg.BaseURL, record.Image)
	record.Name = strings.TrimSpace(record.Name)
	record.Source = cfg.SiteName
	record.Category = cfg.Key
	record.ScrapedAt = now

	return record, record.IsValid()
}

// extractField 按字段类型取值,子元素不存在时 present=false
func extractField(item *goquery.Selection, field models.FieldSpec, strategy SourceStrategy) (interface{}, bool) {
	if field.Kind == models.FieldCustom {
		return strategy.DecodeCustom(item, field.Name)
	}

	target := item
	if field.Selector != "" {
		target = item.Find(field.Selector).First()
	}
	if target.Length() == 0 {
		return nil, false
	}

	switch field.Kind {
	case models.FieldText:
		return strings.TrimSpace(target.Text()), true
	case models.FieldAttribute:
		return target.AttrOr(field.Attribute, ""), true
	case models.FieldPrice:
		price, ok := strategy.Price.Normalize(target.Text())
		if !ok {
			return nil, false
		}
		return price, true
	}
	return nil, false
}

// assignField 把字段值写入记录中同名属性,类型不符时忽略
func assignField(record *models.Record, name string, value interface{}, strategy SourceStrategy) {
	switch name {
	case "name":
		if s, ok := value.(string); ok {
			record.Name = s
		}
	case "currentPrice":
		switch v := value.(type) {
		case float64:
			record.CurrentPrice = &v
		case string:
			if price, ok := strategy.Price.Normalize(v); ok {
				record.CurrentPrice = &price
			}
		}
	case "link":
		if s, ok := value.(string); ok {
			record.Link = s
		}
	case "image":
		if s, ok := value.(string); ok {
			record.Image = s
		}
	case "brand":
		if s, ok := value.(string); ok {
			record.Brand = s
		}
	case "rating":
		if f, ok := value.(float64); ok {
			record.Rating = &f
		}
	case "reviewCount":
		if n, ok := value.(int); ok {
			record.ReviewCount = &n
		}
	case "tags":
		if tags, ok := value.([]string); ok {
			record.Tags = tags
		}
	default:
		utils.Debugf("忽略未知字段: %s", name)
	}
}

// resolveURL 相对地址按站点根地址补全,协议相对地址补全为https
func resolveURL(baseURL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return ref
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(rel).String()
}

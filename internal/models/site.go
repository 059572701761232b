package models

import (
	"fmt"
	"sort"
)

// FieldKind 字段提取方式
type FieldKind string

const (
	FieldText      FieldKind = "text"      // 元素文本
	FieldAttribute FieldKind = "attribute" // 元素属性
	FieldPrice     FieldKind = "price"     // 价格文本,交由站点价格解析器
	FieldCustom    FieldKind = "custom"    // 站点自定义解码
)

// StrategyKind 遍历策略
type StrategyKind string

const (
	StrategySingle         StrategyKind = "single"          // 单页
	StrategyPaginated      StrategyKind = "paginated"       // 固定页数分页
	StrategyInfiniteScroll StrategyKind = "infinite_scroll" // 滚动直至稳定
)

// FieldSpec 单个字段的提取规则
type FieldSpec struct {
	Name      string    `mapstructure:"name" json:"name"`
	Kind      FieldKind `mapstructure:"type" json:"type"`
	Selector  string    `mapstructure:"selector" json:"selector,omitempty"`   // 为空时使用条目元素本身
	Attribute string    `mapstructure:"attribute" json:"attribute,omitempty"` // 仅attribute类型使用
}

// Strategy 遍历策略及其参数
type Strategy struct {
	Kind        StrategyKind `json:"kind"`
	MaxPages    int          `json:"max_pages,omitempty"`    // paginated
	ScrollPause int          `json:"scroll_pause,omitempty"` // infinite_scroll,毫秒
}

// SiteConfig 单个抓取目标(某站点的某个分类)
// 启动时由站点目录构建,抓取过程中只读
type SiteConfig struct {
	Key          string      `json:"key"`       // 分类键,如 incehesap_islemci
	Slug         string      `json:"slug"`      // 分类标识,如 islemci
	SiteKey      string      `json:"site_key"`  // 站点标识,用于选择站点策略
	SiteName     string      `json:"site_name"` // 展示用来源名称
	Priority     int         `json:"priority"`
	CategoryName string      `json:"category_name"`
	DisplayName  string      `json:"display_name"`
	BaseURL      string      `json:"base_url"`
	URL          string      `json:"url"`
	Strategy     Strategy    `json:"strategy"`
	ItemSelector string      `json:"item_selector"`
	WaitFor      string      `json:"wait_for"`
	Fields       []FieldSpec `json:"fields"`
}

// CategoryEntry 站点目录中的分类条目
type CategoryEntry struct {
	Slug        string `mapstructure:"slug"`
	Name        string `mapstructure:"name"`
	DisplayName string `mapstructure:"display_name"`
	URL         string `mapstructure:"url"`
}

// SiteEntry 站点目录中的站点条目
type SiteEntry struct {
	Key          string          `mapstructure:"key"`
	Name         string          `mapstructure:"name"`
	BaseURL      string          `mapstructure:"base_url"`
	Priority     int             `mapstructure:"priority"`
	Strategy     StrategyKind    `mapstructure:"strategy"`
	MaxPages     int             `mapstructure:"max_pages"`
	ScrollPause  int             `mapstructure:"scroll_pause"`
	ItemSelector string          `mapstructure:"item_selector"`
	WaitFor      string          `mapstructure:"wait_for"`
	Fields       []FieldSpec     `mapstructure:"fields"`
	Categories   []CategoryEntry `mapstructure:"categories"`
}

// Catalog 站点目录
type Catalog struct {
	Sites []SiteEntry `mapstructure:"sites"`
}

// Validate 校验目录完整性
func (c *Catalog) Validate() error {
	if len(c.Sites) == 0 {
		return fmt.Errorf("站点目录为空")
	}
	seen := make(map[string]bool)
	for _, s := range c.Sites {
		if s.Key == "" {
			return fmt.Errorf("站点缺少key")
		}
		if err := ValidateURL(s.BaseURL); err != nil {
			return fmt.Errorf("站点 %s 的base_url无效: %w", s.Key, err)
		}
		switch s.Strategy {
		case StrategySingle, StrategyInfiniteScroll:
		case StrategyPaginated:
			if s.MaxPages < 1 {
				return fmt.Errorf("站点 %s 为分页策略但max_pages=%d", s.Key, s.MaxPages)
			}
		default:
			return fmt.Errorf("站点 %s 的遍历策略未知: %q", s.Key, s.Strategy)
		}
		if s.ItemSelector == "" {
			return fmt.Errorf("站点 %s 缺少item_selector", s.Key)
		}
		for _, f := range s.Fields {
			switch f.Kind {
			case FieldText, FieldAttribute, FieldPrice, FieldCustom:
			default:
				return fmt.Errorf("站点 %s 字段 %s 的类型未知: %q", s.Key, f.Name, f.Kind)
			}
		}
		for _, cat := range s.Categories {
			key := CategoryKey(s.Key, cat.Slug)
			if seen[key] {
				return fmt.Errorf("分类键重复: %s", key)
			}
			seen[key] = true
			if err := ValidateURL(cat.URL); err != nil {
				return fmt.Errorf("分类 %s 的url无效: %w", key, err)
			}
		}
	}
	return nil
}

// CategoryKey 由站点与分类标识组成分类键
func CategoryKey(siteKey, slug string) string {
	return siteKey + "_" + slug
}

// Targets 展开为全部抓取目标,按站点优先级再按分类键排序
func (c *Catalog) Targets() []SiteConfig {
	targets := make([]SiteConfig, 0)
	for _, s := range c.Sites {
		for _, cat := range s.Categories {
			targets = append(targets, s.target(cat))
		}
	}
	sort.SliceStable(targets, func(i, j int) bool {
		if targets[i].Priority != targets[j].Priority {
			return targets[i].Priority < targets[j].Priority
		}
		return targets[i].Key < targets[j].Key
	})
	return targets
}

// Target 按分类键查找抓取目标
func (c *Catalog) Target(key string) (SiteConfig, error) {
	for _, s := range c.Sites {
		for _, cat := range s.Categories {
			if CategoryKey(s.Key, cat.Slug) == key {
				return s.target(cat), nil
			}
		}
	}
	return SiteConfig{}, fmt.Errorf("%w: %s", ErrUnknownCategory, key)
}

// Site 按站点标识查找站点
func (c *Catalog) Site(key string) (SiteEntry, error) {
	for _, s := range c.Sites {
		if s.Key == key {
			return s, nil
		}
	}
	return SiteEntry{}, fmt.Errorf("%w: %s", ErrUnknownSite, key)
}

func (s SiteEntry) target(cat CategoryEntry) SiteConfig {
	fields := make([]FieldSpec, len(s.Fields))
	copy(fields, s.Fields)

	return SiteConfig{
		Key:          CategoryKey(s.Key, cat.Slug),
		Slug:         cat.Slug,
		SiteKey:      s.Key,
		SiteName:     s.Name,
		Priority:     s.Priority,
		CategoryName: cat.Name,
		DisplayName:  cat.DisplayName,
		BaseURL:      s.BaseURL,
		URL:          cat.URL,
		Strategy: Strategy{
			Kind:        s.Strategy,
			MaxPages:    s.MaxPages,
			ScrollPause: s.ScrollPause,
		},
		ItemSelector: s.ItemSelector,
		WaitFor:      s.WaitFor,
		Fields:       fields,
	}
}

// FirstTarget 返回站点第一个分类对应的抓取目标
func (s SiteEntry) FirstTarget() (SiteConfig, bool) {
	if len(s.Categories) == 0 {
		return SiteConfig{}, false
	}
	return s.target(s.Categories[0]), true
}

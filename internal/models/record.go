package models

import (
	"strings"
	"time"
)

// Record 单次抽取得到的商品记录
type Record struct {
	Name         string   `json:"name"`
	CurrentPrice *float64 `json:"currentPrice,omitempty"`
	Link         string   `json:"link,omitempty"`
	Image        string   `json:"image,omitempty"`

	// 站点自定义字段
	Brand       string   `json:"brand,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount *int     `json:"reviewCount,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	// 抽取元数据
	Source    string    `json:"source"`
	Category  string    `json:"category"`
	ScrapedAt time.Time `json:"scrapedAt"`
}

// IsValid 名称非空且价格为正数时记录有效
func (r *Record) IsValid() bool {
	if strings.TrimSpace(r.Name) == "" {
		return false
	}
	return r.CurrentPrice != nil && *r.CurrentPrice > 0
}

// Names 返回批次中所有记录的名称
func Names(records []Record) []string {
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.Name)
	}
	return names
}

package models

import "time"

// PricePoint 价格历史中的一条记录
type PricePoint struct {
	Price float64   `bson:"price" json:"price"`
	Date  time.Time `bson:"date" json:"date"`
}

// Product 持久化的商品
// 以 (category, source, link|name) 识别,只会被停用,不会被删除
type Product struct {
	ID           string       `bson:"_id" json:"id"`
	Name         string       `bson:"name" json:"name"`
	CurrentPrice *float64     `bson:"currentPrice,omitempty" json:"currentPrice,omitempty"`
	Link         string       `bson:"link,omitempty" json:"link,omitempty"`
	Image        string       `bson:"image,omitempty" json:"image,omitempty"`
	Brand        string       `bson:"brand,omitempty" json:"brand,omitempty"`
	Rating       *float64     `bson:"rating,omitempty" json:"rating,omitempty"`
	ReviewCount  *int         `bson:"reviewCount,omitempty" json:"reviewCount,omitempty"`
	Tags         []string     `bson:"tags,omitempty" json:"tags,omitempty"`
	Category     string       `bson:"category" json:"category"`
	Source       string       `bson:"source" json:"source"`
	PriceHistory []PricePoint `bson:"priceHistory" json:"priceHistory"`
	IsActive     bool         `bson:"isActive" json:"isActive"`
	ScrapedAt    time.Time    `bson:"scrapedAt" json:"scrapedAt"`
	CreatedAt    time.Time    `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time    `bson:"updatedAt" json:"updatedAt"`
}

// NewProductFromRecord 由抽取记录创建新商品
func NewProductFromRecord(r Record, now time.Time) Product {
	p := Product{
		ID:        generateID(),
		IsActive:  true,
		CreatedAt: now,
	}
	p.Apply(r, now)
	p.PriceHistory = make([]PricePoint, 0, 1)
	if r.CurrentPrice != nil {
		p.PriceHistory = append(p.PriceHistory, PricePoint{Price: *r.CurrentPrice, Date: now})
	}
	return p
}

// Apply 用抽取记录覆盖商品字段(价格历史除外)并重新激活
func (p *Product) Apply(r Record, now time.Time) {
	p.Name = r.Name
	p.CurrentPrice = r.CurrentPrice
	p.Link = r.Link
	p.Image = r.Image
	p.Brand = r.Brand
	p.Rating = r.Rating
	p.ReviewCount = r.ReviewCount
	p.Tags = r.Tags
	p.Category = r.Category
	p.Source = r.Source
	p.ScrapedAt = r.ScrapedAt
	if p.ScrapedAt.IsZero() {
		p.ScrapedAt = now
	}
	p.IsActive = true
	p.UpdatedAt = now
}

// Category 分类记录,每个 (category, source) 一条
type Category struct {
	Key           string    `bson:"key" json:"key"`
	Name          string    `bson:"name" json:"name"`
	DisplayName   string    `bson:"displayName" json:"displayName"`
	Source        string    `bson:"source" json:"source"`
	URL           string    `bson:"url" json:"url"`
	LastScrapedAt time.Time `bson:"lastScrapedAt" json:"lastScrapedAt"`
	TotalProducts int       `bson:"totalProducts" json:"totalProducts"`
	IsActive      bool      `bson:"isActive" json:"isActive"`
}

// CategoryFromSite 由抓取目标构建分类记录
func CategoryFromSite(cfg SiteConfig, now time.Time) Category {
	return Category{
		Key:           cfg.Key,
		Name:          cfg.CategoryName,
		DisplayName:   cfg.DisplayName,
		Source:        cfg.SiteName,
		URL:           cfg.URL,
		LastScrapedAt: now,
		IsActive:      true,
	}
}

// SourceStats 单个来源的聚合统计
type SourceStats struct {
	Source   string  `bson:"_id" json:"source"`
	Count    int     `bson:"count" json:"count"`
	AvgPrice float64 `bson:"avgPrice" json:"avgPrice"`
}

// StoreStats 存储整体统计
type StoreStats struct {
	TotalProducts   int           `json:"totalProducts"`
	TotalCategories int           `json:"totalCategories"`
	RecentScrapes   int           `json:"recentScrapes"`
	Sources         []SourceStats `json:"sources"`
}

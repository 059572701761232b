package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/storage"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
	"github.com/gin-gonic/gin"
)

// Handler API处理器
type Handler struct {
	store   storage.Store
	catalog *models.Catalog
	version string
	now     func() time.Time
}

// NewHandler 创建处理器
func NewHandler(store storage.Store, catalog *models.Catalog, version string) *Handler {
	return &Handler{
		store:   store,
		catalog: catalog,
		version: version,
		now:     time.Now,
	}
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "pricehawk",
		"version": h.version,
	})
}

type siteView struct {
	Key        string   `json:"key"`
	Name       string   `json:"name"`
	BaseURL    string   `json:"baseUrl"`
	Priority   int      `json:"priority"`
	Strategy   string   `json:"strategy"`
	Categories []string `json:"categories"`
}

// ListSites 站点目录
func (h *Handler) ListSites(c *gin.Context) {
	sites := make([]siteView, 0, len(h.catalog.Sites))
	for _, s := range h.catalog.Sites {
		keys := make([]string, 0, len(s.Categories))
		for _, cat := range s.Categories {
			keys = append(keys, models.CategoryKey(s.Key, cat.Slug))
		}
		sites = append(sites, siteView{
			Key:        s.Key,
			Name:       s.Name,
			BaseURL:    s.BaseURL,
			Priority:   s.Priority,
			Strategy:   string(s.Strategy),
			Categories: keys,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sites": sites})
}

// ListCategories 已抓取过的分类
func (h *Handler) ListCategories(c *gin.Context) {
	categories, err := h.store.ListCategories(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories, "count": len(categories)})
}

// ListProducts 分类下的商品,默认只返回活跃商品
func (h *Handler) ListProducts(c *gin.Context) {
	key := c.Param("key")
	if err := utils.ValidateCategoryKey(key); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}

	products, err := h.store.ListProducts(c.Request.Context(), storage.ProductQuery{
		Category:   key,
		Source:     c.Query("source"),
		ActiveOnly: c.Query("all") != "true",
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"category": key, "products": products, "count": len(products)})
}

// SearchProducts 按名称搜索活跃商品
func (h *Handler) SearchProducts(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少查询参数 q"})
		return
	}
	limit, _, ok := pagination(c)
	if !ok {
		return
	}

	products, err := h.store.SearchProducts(c.Request.Context(), q, limit)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": q, "products": products, "count": len(products)})
}

// Stats 聚合统计,今日抓取从本地零点起算
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context(), storage.StartOfDay(h.now()))
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) internalError(c *gin.Context, err error) {
	utils.Logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("查询存储失败")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
}

// pagination 解析limit与offset,非法时直接写入400响应
func pagination(c *gin.Context) (limit, offset int, ok bool) {
	var err error
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit 必须为非负整数"})
			return 0, 0, false
		}
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset 必须为非负整数"})
			return 0, 0, false
		}
	}
	return limit, offset, true
}

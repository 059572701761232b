// Package server 只读的商品查询API
package server

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Options API配置
type Options struct {
	RateLimit float64 // 每秒请求数
	Burst     int
	Release   bool
}

// SetupRouter 创建并配置路由
func SetupRouter(opts Options, handler *Handler) *gin.Engine {
	if opts.Release {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(RateLimitMiddleware(rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst)))

	router.GET("/health", handler.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/sites", handler.ListSites)
		v1.GET("/categories", handler.ListCategories)
		v1.GET("/categories/:key/products", handler.ListProducts)
		v1.GET("/products/search", handler.SearchProducts)
		v1.GET("/stats", handler.Stats)
	}

	return router
}

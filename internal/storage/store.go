// Package storage 商品与分类的持久化
//
// 提供 MongoDB (默认)、PostgreSQL 和内存三种实现。
// 商品只会被停用,任何实现都不提供删除操作。
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
)

// ErrUnknownBackend 未知的存储后端
var ErrUnknownBackend = errors.New("未知的存储后端")

const (
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config 存储配置
type Config struct {
	Backend     string        `mapstructure:"backend"`
	MongoURI    string        `mapstructure:"mongodb_uri"`
	Database    string        `mapstructure:"database"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	MaxConns    int           `mapstructure:"max_conns"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ProductQuery 商品列表查询条件
type ProductQuery struct {
	Category   string
	Source     string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// Store 商品与分类存储
// 单条写入均为幂等操作,错误原样返回,不做重试
type Store interface {
	// CountActive 统计 (category, source) 下的活跃商品数
	CountActive(ctx context.Context, category, source string) (int, error)
	// FindByLink 按链接查找,不存在时返回 nil, nil
	FindByLink(ctx context.Context, category, source, link string) (*models.Product, error)
	// FindByName 按名称查找全部候选
	FindByName(ctx context.Context, category, source, name string) ([]models.Product, error)
	InsertProduct(ctx context.Context, p models.Product) error
	// UpdateProduct 按ID整体替换
	UpdateProduct(ctx context.Context, p models.Product) error
	// DeactivateMissing 停用名称不在keep中的活跃商品,返回停用数量
	DeactivateMissing(ctx context.Context, category, source string, keep []string, now time.Time) (int, error)

	// UpsertCategory 写入分类的全部字段
	UpsertCategory(ctx context.Context, c models.Category) error
	// TouchCategory 只刷新url、displayName与lastScrapedAt,保留已有的totalProducts
	TouchCategory(ctx context.Context, c models.Category) error
	ListCategories(ctx context.Context) ([]models.Category, error)

	ListProducts(ctx context.Context, q ProductQuery) ([]models.Product, error)
	// SearchProducts 按名称不区分大小写搜索活跃商品
	SearchProducts(ctx context.Context, text string, limit int) ([]models.Product, error)
	// InactiveSince 返回在cutoff之前停用的商品
	InactiveSince(ctx context.Context, cutoff time.Time) ([]models.Product, error)
	// Stats 聚合统计,since之后抓取的商品计入RecentScrapes
	Stats(ctx context.Context, since time.Time) (models.StoreStats, error)

	EnsureIndexes(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open 按配置打开存储并创建索引
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	var (
		store Store
		err   error
	)
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMongo:
		store, err = NewMongoStore(ctx, cfg)
	case BackendPostgres:
		store, err = NewPostgresStore(ctx, cfg)
	case BackendMemory:
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if err := store.EnsureIndexes(ctx); err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("创建索引失败: %w", err)
	}
	utils.Debugf("存储已就绪: %s", cfg.Backend)
	return store, nil
}

// StartOfDay 本地时间当天零点
func StartOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

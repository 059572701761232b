package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const productColumns = `id, name, current_price, link, image, brand, rating, review_count, tags,
	category, source, price_history, is_active, scraped_at, created_at, updated_at`

const categoryColumns = `key, name, display_name, source, url, last_scraped_at, total_products, is_active`

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		current_price  DOUBLE PRECISION,
		link           TEXT NOT NULL DEFAULT '',
		image          TEXT NOT NULL DEFAULT '',
		brand          TEXT NOT NULL DEFAULT '',
		rating         DOUBLE PRECISION,
		review_count   INTEGER,
		tags           JSONB NOT NULL DEFAULT '[]',
		category       TEXT NOT NULL,
		source         TEXT NOT NULL,
		price_history  JSONB NOT NULL DEFAULT '[]',
		is_active      BOOLEAN NOT NULL DEFAULT TRUE,
		scraped_at     TIMESTAMPTZ NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		key              TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		display_name     TEXT NOT NULL DEFAULT '',
		source           TEXT NOT NULL,
		url              TEXT NOT NULL DEFAULT '',
		last_scraped_at  TIMESTAMPTZ,
		total_products   INTEGER NOT NULL DEFAULT 0,
		is_active        BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS products_name_category_source_idx ON products (name, category, source)`,
	`CREATE INDEX IF NOT EXISTS products_category_idx ON products (category)`,
	`CREATE INDEX IF NOT EXISTS products_source_idx ON products (source)`,
	`CREATE INDEX IF NOT EXISTS products_current_price_idx ON products (current_price)`,
	`CREATE INDEX IF NOT EXISTS products_scraped_at_idx ON products (scraped_at DESC)`,
	`CREATE INDEX IF NOT EXISTS products_is_active_idx ON products (is_active)`,
	`CREATE INDEX IF NOT EXISTS products_link_idx ON products (link)`,
	`CREATE INDEX IF NOT EXISTS categories_source_idx ON categories (source)`,
	`CREATE INDEX IF NOT EXISTS categories_is_active_idx ON categories (is_active)`,
}

// PostgresStore 基于PostgreSQL的存储,价格历史与标签以JSONB保存
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 创建连接池并验证连通性
func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	if cfg.PostgresDSN == "" {
		return nil, errors.New("未配置PostgreSQL连接串 (POSTGRES_DSN)")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("解析PostgreSQL连接串失败: %w", err)
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 2
	}
	poolCfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("连接PostgreSQL失败: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgreSQL不可用: %w", err)
	}

	utils.Infof("已连接PostgreSQL (最大连接数 %d)", maxConns)
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CountActive(ctx context.Context, category, source string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM products WHERE category = $1 AND source = $2 AND is_active`,
		category, source).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("统计活跃商品失败: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) FindByLink(ctx context.Context, category, source, link string) (*models.Product, error) {
	products, err := s.query(ctx,
		`SELECT `+productColumns+` FROM products
		WHERE category = $1 AND source = $2 AND link = $3
		ORDER BY created_at LIMIT 1`,
		category, source, link)
	if err != nil {
		return nil, fmt.Errorf("按链接查找商品失败: %w", err)
	}
	if len(products) == 0 {
		return nil, nil
	}
	return &products[0], nil
}

func (s *PostgresStore) FindByName(ctx context.Context, category, source, name string) ([]models.Product, error) {
	products, err := s.query(ctx,
		`SELECT `+productColumns+` FROM products
		WHERE category = $1 AND source = $2 AND name = $3
		ORDER BY created_at`,
		category, source, name)
	if err != nil {
		return nil, fmt.Errorf("按名称查找商品失败: %w", err)
	}
	return products, nil
}

func (s *PostgresStore) InsertProduct(ctx context.Context, p models.Product) error {
	if err := s.write(ctx, p, `ON CONFLICT (id) DO NOTHING`); err != nil {
		return fmt.Errorf("插入商品失败 [%s]: %w", p.Name, err)
	}
	return nil
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, p models.Product) error {
	conflict := `ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name, current_price = EXCLUDED.current_price, link = EXCLUDED.link,
		image = EXCLUDED.image, brand = EXCLUDED.brand, rating = EXCLUDED.rating,
		review_count = EXCLUDED.review_count, tags = EXCLUDED.tags,
		price_history = EXCLUDED.price_history, is_active = EXCLUDED.is_active,
		scraped_at = EXCLUDED.scraped_at, updated_at = EXCLUDED.updated_at`
	if err := s.write(ctx, p, conflict); err != nil {
		return fmt.Errorf("更新商品失败 [%s]: %w", p.Name, err)
	}
	return nil
}

func (s *PostgresStore) write(ctx context.Context, p models.Product, conflict string) error {
	tags, err := json.Marshal(nonNilTags(p.Tags))
	if err != nil {
		return err
	}
	history, err := json.Marshal(nonNilHistory(p.PriceHistory))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16) `+conflict,
		p.ID, p.Name, p.CurrentPrice, p.Link, p.Image, p.Brand, p.Rating, p.ReviewCount, tags,
		p.Category, p.Source, history, p.IsActive, p.ScrapedAt, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *PostgresStore) DeactivateMissing(ctx context.Context, category, source string, keep []string, now time.Time) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET is_active = FALSE, updated_at = $4
		WHERE category = $1 AND source = $2 AND is_active AND NOT (name = ANY($3))`,
		category, source, keep, now)
	if err != nil {
		return 0, fmt.Errorf("停用商品失败: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) UpsertCategory(ctx context.Context, c models.Category) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO categories (`+categoryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name, display_name = EXCLUDED.display_name, source = EXCLUDED.source,
			url = EXCLUDED.url, last_scraped_at = EXCLUDED.last_scraped_at,
			total_products = EXCLUDED.total_products, is_active = EXCLUDED.is_active`,
		c.Key, c.Name, c.DisplayName, c.Source, c.URL, c.LastScrapedAt, c.TotalProducts, c.IsActive)
	if err != nil {
		return fmt.Errorf("更新分类失败 [%s]: %w", c.Key, err)
	}
	return nil
}

func (s *PostgresStore) TouchCategory(ctx context.Context, c models.Category) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO categories (`+categoryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,0,TRUE)
		ON CONFLICT (key) DO UPDATE SET
			display_name = EXCLUDED.display_name, url = EXCLUDED.url,
			last_scraped_at = EXCLUDED.last_scraped_at`,
		c.Key, c.Name, c.DisplayName, c.Source, c.URL, c.LastScrapedAt)
	if err != nil {
		return fmt.Errorf("刷新分类失败 [%s]: %w", c.Key, err)
	}
	return nil
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("查询分类失败: %w", err)
	}
	categories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Category, error) {
		var (
			c          models.Category
			lastScrape *time.Time
		)
		err := row.Scan(&c.Key, &c.Name, &c.DisplayName, &c.Source, &c.URL, &lastScrape, &c.TotalProducts, &c.IsActive)
		if lastScrape != nil {
			c.LastScrapedAt = *lastScrape
		}
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("读取分类失败: %w", err)
	}
	return categories, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context, q ProductQuery) ([]models.Product, error) {
	where := []string{"TRUE"}
	args := []interface{}{}
	if q.Category != "" {
		args = append(args, q.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if q.Source != "" {
		args = append(args, q.Source)
		where = append(where, fmt.Sprintf("source = $%d", len(args)))
	}
	if q.ActiveOnly {
		where = append(where, "is_active")
	}
	args = append(args, normalizeLimit(q.Limit), q.Offset)
	sql := fmt.Sprintf(`SELECT %s FROM products WHERE %s ORDER BY scraped_at DESC LIMIT $%d OFFSET $%d`,
		productColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	products, err := s.query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("查询商品失败: %w", err)
	}
	return products, nil
}

func (s *PostgresStore) SearchProducts(ctx context.Context, text string, limit int) ([]models.Product, error) {
	pattern := "%" + escapeLike(text) + "%"
	products, err := s.query(ctx,
		`SELECT `+productColumns+` FROM products
		WHERE is_active AND name ILIKE $1
		ORDER BY current_price NULLS LAST LIMIT $2`,
		pattern, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("搜索商品失败: %w", err)
	}
	return products, nil
}

func (s *PostgresStore) InactiveSince(ctx context.Context, cutoff time.Time) ([]models.Product, error) {
	products, err := s.query(ctx,
		`SELECT `+productColumns+` FROM products
		WHERE NOT is_active AND updated_at < $1
		ORDER BY updated_at`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("查询停用商品失败: %w", err)
	}
	return products, nil
}

func (s *PostgresStore) Stats(ctx context.Context, since time.Time) (models.StoreStats, error) {
	var stats models.StoreStats
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM products WHERE is_active),
			(SELECT COUNT(*) FROM categories),
			(SELECT COUNT(*) FROM products WHERE scraped_at >= $1)`,
		since).Scan(&stats.TotalProducts, &stats.TotalCategories, &stats.RecentScrapes)
	if err != nil {
		return stats, fmt.Errorf("统计失败: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source, COUNT(*), COALESCE(AVG(current_price), 0)
		FROM products WHERE is_active
		GROUP BY source ORDER BY COUNT(*) DESC, source`)
	if err != nil {
		return stats, fmt.Errorf("聚合统计失败: %w", err)
	}
	stats.Sources, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SourceStats, error) {
		var ss models.SourceStats
		err := row.Scan(&ss.Source, &ss.Count, &ss.AvgPrice)
		return ss, err
	})
	if err != nil {
		return stats, fmt.Errorf("读取聚合结果失败: %w", err)
	}
	return stats, nil
}

// EnsureIndexes 建表并创建索引
func (s *PostgresStore) EnsureIndexes(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("执行建表语句失败: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...interface{}) ([]models.Product, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanProduct)
}

func scanProduct(row pgx.CollectableRow) (models.Product, error) {
	var (
		p       models.Product
		tags    []byte
		history []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.CurrentPrice, &p.Link, &p.Image, &p.Brand, &p.Rating, &p.ReviewCount, &tags,
		&p.Category, &p.Source, &history, &p.IsActive, &p.ScrapedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(tags, &p.Tags); err != nil {
		return p, fmt.Errorf("解析标签失败: %w", err)
	}
	if err := json.Unmarshal(history, &p.PriceHistory); err != nil {
		return p, fmt.Errorf("解析价格历史失败: %w", err)
	}
	if len(p.Tags) == 0 {
		p.Tags = nil
	}
	return p, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nonNilHistory(history []models.PricePoint) []models.PricePoint {
	if history == nil {
		return []models.PricePoint{}
	}
	return history
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

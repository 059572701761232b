package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(v float64) *float64 { return &v }

func product(name, link string, p float64, category, source string, now time.Time) models.Product {
	return models.NewProductFromRecord(models.Record{
		Name:         name,
		CurrentPrice: price(p),
		Link:         link,
		Category:     category,
		Source:       source,
		ScrapedAt:    now,
	}, now)
}

// runStoreContract 所有Store实现共享的行为测试
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	// 每次运行使用独立分类,集成测试可重复执行
	category := "test_" + uuid.NewString()[:8]
	source := "İnceHesap"

	require.NoError(t, store.EnsureIndexes(ctx))

	a := product("AMD Ryzen 5 7600", "https://www.incehesap.com/r5", 7499, category, source, now)
	b := product("Intel Core i5-14400F", "", 6299, category, source, now)
	c := product("Intel Core i5-14400F", "https://www.incehesap.com/i5-tray", 6100, category, source, now)
	for _, p := range []models.Product{a, b, c} {
		require.NoError(t, store.InsertProduct(ctx, p))
	}

	t.Run("统计活跃商品", func(t *testing.T) {
		n, err := store.CountActive(ctx, category, source)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = store.CountActive(ctx, category, "Sinerji")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("按链接查找", func(t *testing.T) {
		found, err := store.FindByLink(ctx, category, source, a.Link)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, a.ID, found.ID)
		require.Len(t, found.PriceHistory, 1)
		assert.InDelta(t, 7499, found.PriceHistory[0].Price, 0.001)

		missing, err := store.FindByLink(ctx, category, source, "https://www.incehesap.com/yok")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("按名称查找全部候选", func(t *testing.T) {
		found, err := store.FindByName(ctx, category, source, "Intel Core i5-14400F")
		require.NoError(t, err)
		assert.Len(t, found, 2)
	})

	t.Run("更新商品", func(t *testing.T) {
		updated := a
		updated.CurrentPrice = price(6999)
		updated.PriceHistory = append(updated.PriceHistory, models.PricePoint{Price: 6999, Date: now})
		updated.UpdatedAt = now.Add(time.Minute)
		require.NoError(t, store.UpdateProduct(ctx, updated))

		found, err := store.FindByLink(ctx, category, source, a.Link)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.InDelta(t, 6999, *found.CurrentPrice, 0.001)
		assert.Len(t, found.PriceHistory, 2)
	})

	t.Run("停用缺失商品", func(t *testing.T) {
		n, err := store.DeactivateMissing(ctx, category, source, []string{"AMD Ryzen 5 7600"}, now)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		active, err := store.CountActive(ctx, category, source)
		require.NoError(t, err)
		assert.Equal(t, 1, active)

		inactive, err := store.InactiveSince(ctx, now.Add(time.Second))
		require.NoError(t, err)
		count := 0
		for _, p := range inactive {
			if p.Category == category {
				count++
			}
		}
		assert.Equal(t, 2, count)
	})

	t.Run("分类写入与刷新", func(t *testing.T) {
		key := category + "_islemci"
		cat := models.Category{
			Key: key, Name: "islemci", DisplayName: "İşlemci", Source: source,
			URL: "https://www.incehesap.com/islemci-fiyatlari/", LastScrapedAt: now, TotalProducts: 40, IsActive: true,
		}
		require.NoError(t, store.UpsertCategory(ctx, cat))

		touched := cat
		touched.DisplayName = "İşlemciler"
		touched.LastScrapedAt = now.Add(time.Hour)
		touched.TotalProducts = 3
		require.NoError(t, store.TouchCategory(ctx, touched))

		categories, err := store.ListCategories(ctx)
		require.NoError(t, err)
		var got *models.Category
		for i := range categories {
			if categories[i].Key == key {
				got = &categories[i]
			}
		}
		require.NotNil(t, got)
		assert.Equal(t, "İşlemciler", got.DisplayName)
		assert.Equal(t, 40, got.TotalProducts)
		assert.True(t, got.LastScrapedAt.Equal(now.Add(time.Hour)))

		fresh := models.Category{Key: category + "_ram", Name: "ram", Source: source, LastScrapedAt: now}
		require.NoError(t, store.TouchCategory(ctx, fresh))
		categories, err = store.ListCategories(ctx)
		require.NoError(t, err)
		for _, c := range categories {
			if c.Key == fresh.Key {
				assert.Equal(t, 0, c.TotalProducts)
			}
		}
	})

	t.Run("列表与搜索", func(t *testing.T) {
		listed, err := store.ListProducts(ctx, ProductQuery{Category: category, ActiveOnly: true})
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, "AMD Ryzen 5 7600", listed[0].Name)

		all, err := store.ListProducts(ctx, ProductQuery{Category: category, Limit: 2})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		found, err := store.SearchProducts(ctx, "ryzen 5", 10)
		require.NoError(t, err)
		var names []string
		for _, p := range found {
			names = append(names, p.Name)
		}
		assert.Contains(t, names, "AMD Ryzen 5 7600")
	})

	t.Run("聚合统计", func(t *testing.T) {
		stats, err := store.Stats(ctx, StartOfDay(now))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, stats.TotalProducts, 1)
		assert.GreaterOrEqual(t, stats.RecentScrapes, 3)
		var found bool
		for _, s := range stats.Sources {
			if s.Source == source {
				found = true
				assert.Greater(t, s.AvgPrice, 0.0)
			}
		}
		assert.True(t, found)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_FailOn(t *testing.T) {
	store := NewMemoryStore()
	boom := errors.New("磁盘已满")
	store.FailOn("InsertProduct", boom)

	err := store.InsertProduct(context.Background(), models.Product{ID: "1", Name: "x"})
	assert.ErrorIs(t, err, boom)

	store.FailOn("InsertProduct", nil)
	assert.NoError(t, store.InsertProduct(context.Background(), models.Product{ID: "1", Name: "x"}))
	assert.Len(t, store.Products(), 1)
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("PRICEHAWK_TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("未设置 PRICEHAWK_TEST_MONGODB_URI,跳过MongoDB集成测试")
	}
	ctx := context.Background()
	store, err := Open(ctx, Config{Backend: BackendMongo, MongoURI: uri, Database: "pricehawk_test"})
	require.NoError(t, err)
	defer store.Close(ctx)

	runStoreContract(t, store)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("PRICEHAWK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("未设置 PRICEHAWK_TEST_POSTGRES_DSN,跳过PostgreSQL集成测试")
	}
	ctx := context.Background()
	store, err := Open(ctx, Config{Backend: BackendPostgres, PostgresDSN: dsn})
	require.NoError(t, err)
	defer store.Close(ctx)

	runStoreContract(t, store)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "sqlite"})
	assert.ErrorIs(t, err, ErrUnknownBackend)

	store, err := Open(context.Background(), Config{Backend: "MEMORY"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("TRT", 3*60*60)
	now := time.Date(2024, 5, 10, 15, 42, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, loc), StartOfDay(now))
}

package crawlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var listingFields = []models.FieldSpec{
	{Name: "name", Kind: models.FieldText, Selector: `[itemprop="name"]`},
	{Name: "currentPrice", Kind: models.FieldPrice, Selector: ".price"},
	{Name: "link", Kind: models.FieldAttribute, Selector: "a", Attribute: "href"},
}

// listingHTML 生成包含n个商品的列表页,next非空时附带分页导航
func listingHTML(prefix string, n int, next string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>Kategori</title></head><body>")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<div class="product"><a href="/urun/%s-%d"><span itemprop="name">%s %d</span></a><span class="price">1.299 TL</span></div>`,
			prefix, i, prefix, i)
	}
	if next != "" {
		fmt.Fprintf(&b, `<nav aria-label="Pagination"><a href="%s">Sonraki</a></nav>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func paginatedConfig(siteKey, url string, maxPages int) models.SiteConfig {
	return models.SiteConfig{
		Key:          siteKey + "_islemci",
		SiteKey:      siteKey,
		SiteName:     siteKey,
		BaseURL:      "https://www." + siteKey + ".com",
		URL:          url,
		Strategy:     models.Strategy{Kind: models.StrategyPaginated, MaxPages: maxPages},
		ItemSelector: ".product",
		Fields:       listingFields,
	}
}

func newTestEngine() *Engine {
	pacer := testPacer()
	return NewEngine(NewNavigator(DefaultNavigationPolicy(), pacer), NewExtractor(), pacer, DefaultTraversalPolicy())
}

func TestCrawl_Single(t *testing.T) {
	url := "https://shop.example.com/ssd/"
	page := newFakePage(map[string]string{url: listingHTML("SSD", 3, "")})
	cfg := models.SiteConfig{
		Key: "shop_ssd", SiteKey: "shop", SiteName: "Shop", BaseURL: "https://shop.example.com", URL: url,
		Strategy: models.Strategy{Kind: models.StrategySingle}, ItemSelector: ".product", Fields: listingFields,
	}
	stats := &models.SessionStats{}

	records, err := newTestEngine().Crawl(context.Background(), page, cfg, stats)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "https://shop.example.com/urun/SSD-1", records[0].Link)
	assert.Equal(t, 3, stats.ProductsFound)
	assert.Equal(t, 1, stats.PagesScraped)
}

func TestCrawl_SingleStabilityWait(t *testing.T) {
	url := "https://shop.example.com/ssd/"
	cfg := models.SiteConfig{
		Key: "shop_ssd", SiteKey: "shop", SiteName: "Shop", BaseURL: "https://shop.example.com", URL: url,
		Strategy: models.Strategy{Kind: models.StrategySingle}, ItemSelector: ".product", Fields: listingFields,
	}

	tests := []struct {
		name      string
		counts    []int
		wantPolls int
	}{
		{"连续两次不变即稳定", []int{12, 24, 24, 24}, 4},
		{"首次即稳定", []int{24}, 1 + DefaultStablePolls},
		{"持续变化用尽轮询次数", []int{4, 8, 12, 16, 20, 24, 28}, DefaultStabilityPolls},
		{"交替变化用尽轮询次数", []int{10, 10, 11, 11, 12}, DefaultStabilityPolls},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newFakePage(map[string]string{url: listingHTML("SSD", 3, "")})
			page.counts = tt.counts

			records, err := newTestEngine().Crawl(context.Background(), page, cfg, nil)
			require.NoError(t, err)
			// 稳定性等待不影响抽取结果
			assert.Len(t, records, 3)
			assert.Equal(t, tt.wantPolls, page.countQueries)
		})
	}
}

func TestCrawl_Paginated(t *testing.T) {
	base := "https://www.incehesap.com/islemci-fiyatlari/"
	page2 := base + "sayfa-2/"
	page3 := base + "sayfa-3/"

	t.Run("没有下一页入口时结束", func(t *testing.T) {
		page := newFakePage(map[string]string{
			base:  listingHTML("Intel", 2, "/islemci-fiyatlari/sayfa-2/"),
			page2: listingHTML("AMD", 2, ""),
			page3: listingHTML("Unused", 2, ""),
		})
		stats := &models.SessionStats{}

		records, err := newTestEngine().Crawl(context.Background(), page, paginatedConfig("incehesap", base, 5), stats)
		require.NoError(t, err)
		assert.Len(t, records, 4)
		assert.Equal(t, []string{base, page2}, page.navigations)
		assert.Equal(t, 2, stats.PagesScraped)
		assert.Equal(t, 4, stats.ProductsFound)
	})

	t.Run("达到页数上限时结束", func(t *testing.T) {
		page := newFakePage(map[string]string{
			base:  listingHTML("Intel", 2, "/islemci-fiyatlari/sayfa-2/"),
			page2: listingHTML("AMD", 2, "/islemci-fiyatlari/sayfa-3/"),
			page3: listingHTML("Unused", 2, ""),
		})

		records, err := newTestEngine().Crawl(context.Background(), page, paginatedConfig("incehesap", base, 2), nil)
		require.NoError(t, err)
		assert.Len(t, records, 4)
		assert.Equal(t, []string{base, page2}, page.navigations)
	})

	t.Run("空页时结束", func(t *testing.T) {
		url := "https://shop.example.com/ram/"
		page := newFakePage(map[string]string{
			url:             listingHTML("DDR5", 3, ""),
			url + "?page=2": listingHTML("DDR4", 1, ""),
			url + "?page=3": listingHTML("", 0, ""),
			url + "?page=4": listingHTML("Unused", 1, ""),
		})

		records, err := newTestEngine().Crawl(context.Background(), page, paginatedConfig("shop", url, 10), nil)
		require.NoError(t, err)
		assert.Len(t, records, 4)
		assert.Equal(t, []string{url, url + "?page=2", url + "?page=3"}, page.navigations)
	})

	t.Run("中途导航失败保留已抽取记录", func(t *testing.T) {
		page := newFakePage(map[string]string{
			base:  listingHTML("Intel", 2, "/islemci-fiyatlari/sayfa-2/"),
			page2: listingHTML("AMD", 2, ""),
		})
		page.navErrs[page2] = []error{errors.New("net::ERR_CONNECTION_CLOSED")}
		stats := &models.SessionStats{}

		records, err := newTestEngine().Crawl(context.Background(), page, paginatedConfig("incehesap", base, 5), stats)
		require.NoError(t, err)
		assert.Len(t, records, 2)
		assert.Equal(t, DefaultMaxAttempts, stats.ErrorsEncountered)
	})

	t.Run("首页导航失败", func(t *testing.T) {
		page := newFakePage(map[string]string{base: listingHTML("Intel", 2, "")})
		page.navErrs[base] = []error{errors.New("net::ERR_TIMED_OUT")}

		records, err := newTestEngine().Crawl(context.Background(), page, paginatedConfig("incehesap", base, 5), nil)
		assert.Nil(t, records)
		assert.ErrorIs(t, err, models.ErrNavigationExhausted)
	})

	t.Run("取消时返回已抽取记录", func(t *testing.T) {
		page := newFakePage(map[string]string{
			base:  listingHTML("Intel", 2, "/islemci-fiyatlari/sayfa-2/"),
			page2: listingHTML("AMD", 2, ""),
		})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		page.onNavigate = func(url string) {
			if url == page2 {
				cancel()
			}
		}

		records, err := newTestEngine().Crawl(ctx, page, paginatedConfig("incehesap", base, 5), nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Len(t, records, 2)
	})
}

func TestCrawl_InfiniteScroll(t *testing.T) {
	url := "https://www.itopya.com/islemci_k8"
	cfg := models.SiteConfig{
		Key: "itopya_islemci", SiteKey: "itopya", SiteName: "İtopya", BaseURL: "https://www.itopya.com", URL: url,
		Strategy:     models.Strategy{Kind: models.StrategyInfiniteScroll, ScrollPause: 3000},
		ItemSelector: ".product", Fields: listingFields,
	}

	t.Run("高度稳定后停止", func(t *testing.T) {
		page := newFakePage(map[string]string{url: listingHTML("Ryzen", 5, "")})
		page.heights = []float64{1000, 2000, 3000, 3000, 3000, 3000}

		records, err := newTestEngine().Crawl(context.Background(), page, cfg, nil)
		require.NoError(t, err)
		assert.Len(t, records, 5)
		assert.Equal(t, 5, page.countScripts("() => { window.scrollBy("))
		assert.Equal(t, 1, page.countScripts(scriptFocusClick))
		assert.Equal(t, 1, page.countScripts(scriptScrollOrigin))
	})

	t.Run("达到滚动上限", func(t *testing.T) {
		page := newFakePage(map[string]string{url: listingHTML("Ryzen", 1, "")})
		heights := make([]float64, 0, DefaultMaxScrollAttempts+1)
		for i := 0; i <= DefaultMaxScrollAttempts; i++ {
			heights = append(heights, float64(1000*(i+1)))
		}
		page.heights = heights

		_, err := newTestEngine().Crawl(context.Background(), page, cfg, nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxScrollAttempts, page.countScripts("() => { window.scrollBy("))
		assert.Equal(t, DefaultMaxScrollAttempts/DefaultNudgeEvery, page.countScripts(scriptFocusClick))
	})

	t.Run("高度读取失败视为不变", func(t *testing.T) {
		page := newFakePage(map[string]string{url: listingHTML("Ryzen", 2, "")})

		records, err := newTestEngine().Crawl(context.Background(), page, cfg, nil)
		require.NoError(t, err)
		assert.Len(t, records, 2)
		assert.Equal(t, DefaultStableScrollThreshold, page.countScripts("() => { window.scrollBy("))
	})
}

func TestCrawl_InfiniteScrollDefaultPause(t *testing.T) {
	url := "https://www.itopya.com/ekran-karti_k11"
	cfg := models.SiteConfig{
		Key: "itopya_ekran-karti", SiteKey: "itopya", SiteName: "İtopya", BaseURL: "https://www.itopya.com", URL: url,
		Strategy:     models.Strategy{Kind: models.StrategyInfiniteScroll},
		ItemSelector: ".product", Fields: listingFields,
	}
	page := newFakePage(map[string]string{url: listingHTML("RTX", 4, "")})
	page.heights = []float64{1000, 2000, 3000, 3000, 3000, 3000}

	// 滚动脚本之后的第一次等待即滚动停顿
	var pauses []time.Duration
	sleeper := func(ctx context.Context, d time.Duration) error {
		if strings.HasPrefix(page.lastScript(), "() => { window.scrollBy(") {
			pauses = append(pauses, d)
		}
		return ctx.Err()
	}
	pacer := NewPacer(WithSleeper(sleeper), WithSeed(7))
	engine := NewEngine(NewNavigator(DefaultNavigationPolicy(), pacer), NewExtractor(), pacer, DefaultTraversalPolicy())

	records, err := engine.Crawl(context.Background(), page, cfg, nil)
	require.NoError(t, err)
	assert.Len(t, records, 4)

	require.Len(t, pauses, page.countScripts("() => { window.scrollBy("))
	for _, d := range pauses {
		assert.GreaterOrEqual(t, d, DefaultScrollPause)
		assert.LessOrEqual(t, d, DefaultScrollPause+DefaultTraversalPolicy().ScrollPauseJitter)
	}
}

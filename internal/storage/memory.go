package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
)

// MemoryStore 进程内存储,用于测试和 --storage memory 试运行
type MemoryStore struct {
	mu         sync.RWMutex
	products   map[string]models.Product
	order      []string // 插入顺序
	categories map[string]models.Category

	// failOn 非空时对应操作返回该错误,用于测试错误传播
	failOn map[string]error
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:   make(map[string]models.Product),
		categories: make(map[string]models.Category),
		failOn:     make(map[string]error),
	}
}

// FailOn 让指定操作返回err,err为nil时取消
func (s *MemoryStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, op)
		return
	}
	s.failOn[op] = err
}

func (s *MemoryStore) fail(op string) error {
	return s.failOn[op]
}

func (s *MemoryStore) CountActive(ctx context.Context, category, source string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("CountActive"); err != nil {
		return 0, err
	}
	n := 0
	for _, p := range s.products {
		if p.Category == category && p.Source == source && p.IsActive {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) FindByLink(ctx context.Context, category, source, link string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("FindByLink"); err != nil {
		return nil, err
	}
	for _, id := range s.order {
		p := s.products[id]
		if p.Category == category && p.Source == source && p.Link == link {
			cp := clone(p)
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindByName(ctx context.Context, category, source, name string) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("FindByName"); err != nil {
		return nil, err
	}
	var out []models.Product
	for _, id := range s.order {
		p := s.products[id]
		if p.Category == category && p.Source == source && p.Name == name {
			out = append(out, clone(p))
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertProduct(ctx context.Context, p models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InsertProduct"); err != nil {
		return err
	}
	if _, ok := s.products[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.products[p.ID] = clone(p)
	return nil
}

func (s *MemoryStore) UpdateProduct(ctx context.Context, p models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpdateProduct"); err != nil {
		return err
	}
	if _, ok := s.products[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.products[p.ID] = clone(p)
	return nil
}

func (s *MemoryStore) DeactivateMissing(ctx context.Context, category, source string, keep []string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeactivateMissing"); err != nil {
		return 0, err
	}
	keepSet := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		keepSet[name] = struct{}{}
	}
	n := 0
	for id, p := range s.products {
		if p.Category != category || p.Source != source || !p.IsActive {
			continue
		}
		if _, ok := keepSet[p.Name]; ok {
			continue
		}
		p.IsActive = false
		p.UpdatedAt = now
		s.products[id] = p
		n++
	}
	return n, nil
}

func (s *MemoryStore) UpsertCategory(ctx context.Context, c models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpsertCategory"); err != nil {
		return err
	}
	s.categories[c.Key] = c
	return nil
}

func (s *MemoryStore) TouchCategory(ctx context.Context, c models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("TouchCategory"); err != nil {
		return err
	}
	existing, ok := s.categories[c.Key]
	if !ok {
		c.TotalProducts = 0
		s.categories[c.Key] = c
		return nil
	}
	existing.URL = c.URL
	existing.DisplayName = c.DisplayName
	existing.LastScrapedAt = c.LastScrapedAt
	s.categories[c.Key] = existing
	return nil
}

// Category 按键读取分类
func (s *MemoryStore) Category(key string) (models.Category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[key]
	return c, ok
}

func (s *MemoryStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("ListCategories"); err != nil {
		return nil, err
	}
	out := make([]models.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) ListProducts(ctx context.Context, q ProductQuery) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("ListProducts"); err != nil {
		return nil, err
	}
	matched := s.filter(func(p models.Product) bool {
		if q.Category != "" && p.Category != q.Category {
			return false
		}
		if q.Source != "" && p.Source != q.Source {
			return false
		}
		return !q.ActiveOnly || p.IsActive
	})
	return page(matched, q.Offset, normalizeLimit(q.Limit)), nil
}

func (s *MemoryStore) SearchProducts(ctx context.Context, text string, limit int) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("SearchProducts"); err != nil {
		return nil, err
	}
	needle := strings.ToLower(text)
	matched := s.filter(func(p models.Product) bool {
		return p.IsActive && strings.Contains(strings.ToLower(p.Name), needle)
	})
	return page(matched, 0, normalizeLimit(limit)), nil
}

func (s *MemoryStore) InactiveSince(ctx context.Context, cutoff time.Time) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("InactiveSince"); err != nil {
		return nil, err
	}
	return s.filter(func(p models.Product) bool {
		return !p.IsActive && p.UpdatedAt.Before(cutoff)
	}), nil
}

func (s *MemoryStore) Stats(ctx context.Context, since time.Time) (models.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.fail("Stats"); err != nil {
		return models.StoreStats{}, err
	}

	stats := models.StoreStats{TotalCategories: len(s.categories)}
	type agg struct {
		count  int
		sum    float64
		priced int
	}
	bySource := make(map[string]*agg)
	for _, p := range s.products {
		if !p.ScrapedAt.Before(since) {
			stats.RecentScrapes++
		}
		if !p.IsActive {
			continue
		}
		stats.TotalProducts++
		a := bySource[p.Source]
		if a == nil {
			a = &agg{}
			bySource[p.Source] = a
		}
		a.count++
		if p.CurrentPrice != nil {
			a.sum += *p.CurrentPrice
			a.priced++
		}
	}
	for source, a := range bySource {
		ss := models.SourceStats{Source: source, Count: a.count}
		if a.priced > 0 {
			ss.AvgPrice = a.sum / float64(a.priced)
		}
		stats.Sources = append(stats.Sources, ss)
	}
	sort.Slice(stats.Sources, func(i, j int) bool {
		if stats.Sources[i].Count != stats.Sources[j].Count {
			return stats.Sources[i].Count > stats.Sources[j].Count
		}
		return stats.Sources[i].Source < stats.Sources[j].Source
	})
	return stats, nil
}

func (s *MemoryStore) EnsureIndexes(ctx context.Context) error { return nil }

func (s *MemoryStore) Close(ctx context.Context) error { return nil }

// Products 按插入顺序返回全部商品
func (s *MemoryStore) Products() []models.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter(func(models.Product) bool { return true })
}

func (s *MemoryStore) filter(keep func(models.Product) bool) []models.Product {
	out := make([]models.Product, 0)
	for _, id := range s.order {
		if p := s.products[id]; keep(p) {
			out = append(out, clone(p))
		}
	}
	return out
}

func page(products []models.Product, offset, limit int) []models.Product {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(products) {
		return []models.Product{}
	}
	end := offset + limit
	if end > len(products) {
		end = len(products)
	}
	return products[offset:end]
}

// clone 复制切片字段,避免调用方修改存储内部状态
func clone(p models.Product) models.Product {
	if p.PriceHistory != nil {
		p.PriceHistory = append([]models.PricePoint(nil), p.PriceHistory...)
	}
	if p.Tags != nil {
		p.Tags = append([]string(nil), p.Tags...)
	}
	return p
}

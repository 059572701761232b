package core

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/storage"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
)

const (
	// ShrinkageGuardRatio 批次数量低于已有活跃商品的该比例时拒绝整个批次
	ShrinkageGuardRatio = 0.2
	// DeactivationRatio 批次数量至少达到已有活跃商品的该比例才执行停用
	DeactivationRatio = 0.3
	// MinDeactivationBatch 执行停用所需的最小批次
	MinDeactivationBatch = 5
	// PriceHistoryLimit 价格历史保留的最大条数
	PriceHistoryLimit = 30
)

// MergeEngine 将新抓取的批次合并到存储
// 是商品与分类的唯一写入方,坏批次不会破坏已有数据
type MergeEngine struct {
	store storage.Store
	now   func() time.Time
}

// NewMergeEngine 创建合并引擎
func NewMergeEngine(store storage.Store) *MergeEngine {
	return &MergeEngine{
		store: store,
		now:   time.Now,
	}
}

// Merge 统计已有活跃商品后合并批次
func (m *MergeEngine) Merge(ctx context.Context, cfg models.SiteConfig, fresh []models.Record) (models.MergeStats, error) {
	existing, err := m.store.CountActive(ctx, cfg.Key, cfg.SiteName)
	if err != nil {
		return models.MergeStats{}, err
	}
	return m.MergeBatch(ctx, cfg, fresh, existing)
}

// MergeBatch 按保护规则合并批次
//
// 规则依次为:空批次只刷新分类;批次相对已有数据过小时只刷新分类;
// 逐条解析身份后更新或插入;批次足够大时停用缺失商品;最后写入分类。
func (m *MergeEngine) MergeBatch(ctx context.Context, cfg models.SiteConfig, fresh []models.Record, existing int) (models.MergeStats, error) {
	now := m.now()
	stats := models.MergeStats{Existing: existing}
	category := models.CategoryFromSite(cfg, now)

	logger := utils.Logger.With().
		Str("category", cfg.Key).
		Str("source", cfg.SiteName).
		Int("fresh", len(fresh)).
		Int("existing", existing).
		Logger()

	if guard := guardFor(len(fresh), existing); guard != models.GuardNone {
		stats.Guard = guard
		logger.Warn().Str("guard", string(guard)).Msg("批次未通过保护检查,保留已有数据")
		return stats, m.touch(ctx, category)
	}

	for _, r := range fresh {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		r.Category = cfg.Key
		r.Source = cfg.SiteName

		current, err := m.resolve(ctx, r)
		if err != nil {
			return stats, err
		}
		if current == nil {
			if err := m.store.InsertProduct(ctx, models.NewProductFromRecord(r, now)); err != nil {
				return stats, err
			}
			stats.New++
			continue
		}

		if applyRecord(current, r, now) {
			stats.PriceChanges++
		}
		if err := m.store.UpdateProduct(ctx, *current); err != nil {
			return stats, err
		}
		stats.Updated++
	}

	if shouldDeactivate(len(fresh), existing) {
		n, err := m.store.DeactivateMissing(ctx, cfg.Key, cfg.SiteName, models.Names(fresh), now)
		if err != nil {
			return stats, err
		}
		stats.Deactivated = n
	} else {
		logger.Debug().Msg("批次较小,跳过停用")
	}

	category.TotalProducts = len(fresh)
	if err := m.store.UpsertCategory(ctx, category); err != nil {
		return stats, fmt.Errorf("写入分类失败: %w", err)
	}

	logger.Info().
		Int("new", stats.New).
		Int("updated", stats.Updated).
		Int("price_changes", stats.PriceChanges).
		Int("deactivated", stats.Deactivated).
		Msg("批次合并完成")
	return stats, nil
}

// Touch 只刷新分类的抓取时间,保留上次可信的商品数
// 用于没有拿到任何批次的抓取尝试
func (m *MergeEngine) Touch(ctx context.Context, cfg models.SiteConfig) error {
	return m.touch(ctx, models.CategoryFromSite(cfg, m.now()))
}

func (m *MergeEngine) touch(ctx context.Context, category models.Category) error {
	if err := m.store.TouchCategory(ctx, category); err != nil {
		return fmt.Errorf("刷新分类失败: %w", err)
	}
	return nil
}

// resolve 查找记录对应的已有商品
// 先按链接;再按名称,名称候选只在任一方没有链接时才算同一商品
func (m *MergeEngine) resolve(ctx context.Context, r models.Record) (*models.Product, error) {
	if r.Link != "" {
		p, err := m.store.FindByLink(ctx, r.Category, r.Source, r.Link)
		if err != nil || p != nil {
			return p, err
		}
	}

	candidates, err := m.store.FindByName(ctx, r.Category, r.Source, r.Name)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if candidates[i].Link == "" || r.Link == "" {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func guardFor(fresh, existing int) models.GuardKind {
	if fresh == 0 {
		return models.GuardEmptyBatch
	}
	if existing > 0 && float64(fresh) < ShrinkageGuardRatio*float64(existing) {
		return models.GuardShrinkage
	}
	return models.GuardNone
}

func shouldDeactivate(fresh, existing int) bool {
	threshold := math.Max(MinDeactivationBatch, DeactivationRatio*float64(existing))
	return float64(fresh) >= threshold
}

// applyRecord 用新记录更新商品,价格变化时追加历史,返回是否变价
func applyRecord(p *models.Product, r models.Record, now time.Time) bool {
	changed := p.CurrentPrice != nil && r.CurrentPrice != nil && *p.CurrentPrice != *r.CurrentPrice
	history := p.PriceHistory
	link := p.Link

	p.Apply(r, now)
	if r.Link == "" {
		p.Link = link
	}
	if changed {
		history = appendBounded(history, models.PricePoint{Price: *r.CurrentPrice, Date: now})
	}
	p.PriceHistory = history
	return changed
}

func appendBounded(history []models.PricePoint, point models.PricePoint) []models.PricePoint {
	history = append(history, point)
	if len(history) > PriceHistoryLimit {
		history = append([]models.PricePoint(nil), history[len(history)-PriceHistoryLimit:]...)
	}
	return history
}

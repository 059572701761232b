package core

import (
	"context"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
)

// BatchRunner 批量抓取全部(或指定)分类
type BatchRunner struct {
	runner       *Runner
	reporter     *utils.Reporter
	showProgress bool
}

// NewBatchRunner 创建批量抓取器,reporter为nil时不写运行报告
func NewBatchRunner(runner *Runner, reporter *utils.Reporter, showProgress bool) *BatchRunner {
	return &BatchRunner{
		runner:       runner,
		reporter:     reporter,
		showProgress: showProgress,
	}
}

// Targets 解析待抓取目标
// keys为空时返回目录中的全部目标;任一未知键都会在启动浏览器前返回错误
func (br *BatchRunner) Targets(keys []string) ([]models.SiteConfig, error) {
	catalog := br.runner.Catalog()
	if len(keys) == 0 {
		return catalog.Targets(), nil
	}
	targets := make([]models.SiteConfig, 0, len(keys))
	for _, key := range keys {
		target, err := catalog.Target(key)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// Run 依次抓取目标,切换站点时使用站点间隔,同站点分类之间使用分类间隔
// 中断时停止处理后续分类并标记Interrupted
func (br *BatchRunner) Run(ctx context.Context, targets []models.SiteConfig, stats *models.SessionStats) *models.RunSummary {
	if stats == nil {
		stats = models.NewSessionStats()
	}
	start := time.Now()
	summary := &models.RunSummary{
		RunID:           stats.RunID,
		TotalCategories: len(targets),
		Results:         make([]models.CategoryResult, 0, len(targets)),
	}

	utils.Infof("🚀 开始批量抓取: %d 个分类", len(targets))

	var bar interface {
		Add(int) error
		Finish() error
	}
	if br.showProgress && len(targets) > 0 {
		bar = utils.NewProgressBar(len(targets), "抓取分类")
	}

	pacer := br.runner.Pacer()
	cfg := br.runner.config
	for i, target := range targets {
		if i > 0 {
			delay := cfg.CategoryDelay()
			if target.SiteKey != targets[i-1].SiteKey {
				delay = cfg.SiteSwitchDelay()
				utils.Infof("切换站点: %s -> %s", targets[i-1].SiteName, target.SiteName)
			}
			if _, err := pacer.Jitter(ctx, delay); err != nil {
				summary.Interrupted = true
				break
			}
		}

		utils.Infof("==================== [%d/%d] %s ====================", i+1, len(targets), target.Key)
		result := br.runner.ScrapeTarget(ctx, target, stats)
		summary.Results = append(summary.Results, result)
		if result.Success {
			summary.SuccessfulCategories++
			summary.TotalProducts += result.ProductCount
		}
		if bar != nil {
			_ = bar.Add(1)
		}
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	summary.SessionStats = stats.Snapshot()
	summary.Duration = time.Since(start).Seconds()
	br.printSummary(summary)

	if br.reporter != nil {
		report := models.NewRunReport("scrape-all", *summary, start, time.Now())
		if _, err := br.reporter.GenerateReport(report); err != nil {
			utils.Warnf("生成报告失败: %v", err)
		}
	}
	return summary
}

// printSummary 打印批量抓取摘要
func (br *BatchRunner) printSummary(summary *models.RunSummary) {
	utils.Info("==================================================")
	utils.Info("📊 批量抓取摘要")
	utils.Info("==================================================")
	utils.Infof("总分类数: %d", summary.TotalCategories)
	utils.Infof("✅ 成功: %d", summary.SuccessfulCategories)
	utils.Infof("❌ 失败: %d", summary.Failed())
	utils.Infof("📦 商品总数: %d", summary.TotalProducts)
	utils.Infof("📄 页面: %d, 挑战通过: %d, 错误: %d",
		summary.SessionStats.PagesScraped, summary.SessionStats.ChallengesSolved, summary.SessionStats.ErrorsEncountered)
	utils.Infof("⏱️  总耗时: %.2f秒", summary.Duration)
	if summary.Interrupted {
		utils.Warn("⚠️  运行被中断,剩余分类未处理")
	}
	utils.Info("==================================================")

	if summary.Failed() > 0 {
		utils.Warn("失败的分类:")
		for _, result := range summary.Results {
			if !result.Success {
				utils.Warnf("  - %s: %s", result.Category, result.Error)
			}
		}
	}
}

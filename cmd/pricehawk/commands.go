package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/core"
	"github.com/RecoveryAshes/PriceHawk/internal/crawlers"
	"github.com/RecoveryAshes/PriceHawk/internal/lock"
	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/server"
	"github.com/RecoveryAshes/PriceHawk/internal/storage"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
	"github.com/spf13/cobra"
)

// errInterrupted 运行被信号中断
var errInterrupted = errors.New("运行被中断")

var scrapeCmd = &cobra.Command{
	Use:   "scrape <category>",
	Short: "抓取单个分类",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		// 未知分类在获取锁和启动浏览器之前失败
		if _, err := catalog.Target(key); err != nil {
			return err
		}

		return withRunner(cmd.Context(), func(ctx context.Context, runner *core.Runner, _ *crawlers.ResourceMonitor) error {
			start := time.Now()
			stats := models.NewSessionStats()
			result := runner.ScrapeCategory(ctx, key, stats)
			printResult(result)

			summary := models.RunSummary{
				RunID:           stats.RunID,
				TotalCategories: 1,
				SessionStats:    stats.Snapshot(),
				Results:         []models.CategoryResult{result},
				Interrupted:     ctx.Err() != nil,
				Duration:        time.Since(start).Seconds(),
			}
			if result.Success {
				summary.SuccessfulCategories = 1
				summary.TotalProducts = result.ProductCount
			}
			writeReport("scrape", summary, start)

			if ctx.Err() != nil {
				return errInterrupted
			}
			if !result.Success {
				return fmt.Errorf("分类 %s 抓取失败: %s", key, result.Error)
			}
			return nil
		})
	},
}

var scrapeAllCmd = &cobra.Command{
	Use:   "scrape-all",
	Short: "按站点优先级抓取全部分类",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var keys []string
		if keysFile != "" {
			var err error
			if keys, err = utils.ReadKeysFromFile(keysFile); err != nil {
				return err
			}
		}
		for _, key := range keys {
			if _, err := catalog.Target(key); err != nil {
				return err
			}
		}

		return withRunner(cmd.Context(), func(ctx context.Context, runner *core.Runner, monitor *crawlers.ResourceMonitor) error {
			batch := core.NewBatchRunner(runner, utils.NewReporter(appConfig.Output.ReportDir), true)
			targets, err := batch.Targets(keys)
			if err != nil {
				return err
			}

			monitor.StartMonitoring(time.Minute)
			defer monitor.StopMonitoring()

			summary := batch.Run(ctx, targets, models.NewSessionStats())
			if summary.Interrupted {
				return errInterrupted
			}
			if failed := summary.Failed(); failed > 0 {
				return fmt.Errorf("%d/%d 个分类抓取失败", failed, summary.TotalCategories)
			}
			return nil
		})
	},
}

var testCmd = &cobra.Command{
	Use:   "test <site>",
	Short: "探测站点并抓取其第一个分类",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		siteKey := args[0]
		if _, err := catalog.Site(siteKey); err != nil {
			return err
		}

		return withRunner(cmd.Context(), func(ctx context.Context, runner *core.Runner, _ *crawlers.ResourceMonitor) error {
			result, err := runner.TestSite(ctx, siteKey, models.NewSessionStats())
			if err != nil {
				return err
			}

			p := result.Probe
			fmt.Println("==================================================")
			fmt.Printf("🔍 静态探测: %s\n", p.URL)
			if result.ProbeErr != "" {
				fmt.Printf("❌ 探测失败: %s\n", result.ProbeErr)
			} else {
				fmt.Printf("状态码: %d, 大小: %d 字节, 编码: %s, 耗时: %s\n", p.StatusCode, p.Bytes, p.Encoding, p.Duration.Round(time.Millisecond))
				fmt.Printf("标题: %s\n", p.Title)
				fmt.Printf("挑战页: %v, 反爬特征: %v\n", p.Challenge, p.AntiBot)
			}
			printResult(result.Scrape)

			if ctx.Err() != nil {
				return errInterrupted
			}
			if !result.Scrape.Success {
				return fmt.Errorf("站点 %s 测试失败: %s", siteKey, result.Scrape.Error)
			}
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "按站点列出可抓取的分类",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		sites := make([]models.SiteEntry, len(catalog.Sites))
		copy(sites, catalog.Sites)
		sort.SliceStable(sites, func(i, j int) bool { return sites[i].Priority < sites[j].Priority })

		for _, s := range sites {
			strategy := string(s.Strategy)
			if s.Strategy == models.StrategyPaginated {
				strategy = fmt.Sprintf("%s, 最多%d页", strategy, s.MaxPages)
			}
			fmt.Printf("\n%s (%s) [优先级 %d, %s]\n", s.Name, s.BaseURL, s.Priority, strategy)
			for _, c := range s.Categories {
				fmt.Printf("  %-32s %s\n", models.CategoryKey(s.Key, c.Slug), c.DisplayName)
			}
		}
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "显示存储统计",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store storage.Store) error {
			stats, err := store.Stats(ctx, storage.StartOfDay(time.Now()))
			if err != nil {
				return fmt.Errorf("读取统计失败: %w", err)
			}

			fmt.Println("==================================================")
			fmt.Println("📊 存储统计")
			fmt.Println("==================================================")
			for _, s := range stats.Sources {
				fmt.Printf("%-16s 活跃商品: %6d  平均价格: %10.2f TL\n", s.Source, s.Count, s.AvgPrice)
			}
			fmt.Printf("活跃商品总数: %d\n", stats.TotalProducts)
			fmt.Printf("分类总数: %d\n", stats.TotalCategories)
			fmt.Printf("今日抓取: %d\n", stats.RecentScrapes)
			return nil
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动只读查询API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := serveAddr
		if addr == "" {
			addr = appConfig.Server.Addr
		}
		return withStore(cmd.Context(), func(ctx context.Context, store storage.Store) error {
			router := server.SetupRouter(server.Options{
				RateLimit: appConfig.Server.RateLimit,
				Burst:     appConfig.Server.Burst,
				Release:   true,
			}, server.NewHandler(store, catalog, Version))
			return server.Run(ctx, addr, router)
		})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "报告停用超过N天的商品(不删除)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateCleanupDays(cleanupDays); err != nil {
			return err
		}
		return withStore(cmd.Context(), func(ctx context.Context, store storage.Store) error {
			cutoff := time.Now().AddDate(0, 0, -cleanupDays)
			products, err := store.InactiveSince(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("查询停用商品失败: %w", err)
			}

			byCategory := make(map[string]int)
			for _, p := range products {
				byCategory[p.Category]++
			}
			keys := make([]string, 0, len(byCategory))
			for k := range byCategory {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			fmt.Printf("停用超过 %d 天的商品: %d\n", cleanupDays, len(products))
			for _, k := range keys {
				fmt.Printf("  %-32s %d\n", k, byCategory[k])
			}
			fmt.Println("商品只会被停用,不会被删除;如需清理请直接操作数据库")
			return nil
		})
	},
}

// withStore 打开存储,执行fn后关闭
func withStore(ctx context.Context, fn func(ctx context.Context, store storage.Store) error) error {
	store, err := storage.Open(ctx, appConfig.Storage)
	if err != nil {
		return fmt.Errorf("打开存储失败: %w", err)
	}
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			utils.Warnf("关闭存储失败: %v", err)
		}
	}()
	return fn(ctx, store)
}

// withRunner 获取运行锁、打开存储并创建抓取协调器
func withRunner(ctx context.Context, fn func(ctx context.Context, runner *core.Runner, monitor *crawlers.ResourceMonitor) error) error {
	headerManager, err := core.NewHeaderManager(appConfig.Browser.Headers, headers)
	if err != nil {
		return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}
	if _, err := headerManager.GetHeaders(); err != nil {
		return fmt.Errorf("HTTP头部配置无效: %w", err)
	}
	utils.Logger.Debug().Interface("headers", headerManager.GetSafeHeaders()).Msg("浏览器额外请求头")

	locker, err := lock.Open(ctx, appConfig.LockOptions())
	if err != nil {
		return err
	}
	if err := locker.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if err := locker.Release(context.Background()); err != nil {
			utils.Warnf("释放运行锁失败: %v", err)
		}
	}()

	return withStore(ctx, func(ctx context.Context, store storage.Store) error {
		monitor := crawlers.NewResourceMonitor(appConfig.ResourceMonitorConfig())
		runner := core.NewRunner(appConfig, catalog, store, headerManager, core.WithResourceMonitor(monitor))
		defer func() {
			if err := runner.Close(); err != nil {
				utils.Warnf("关闭浏览器失败: %v", err)
			}
		}()
		return fn(ctx, runner, monitor)
	})
}

// writeReport 写入单分类运行报告,失败只记录警告
func writeReport(command string, summary models.RunSummary, start time.Time) {
	reporter := utils.NewReporter(appConfig.Output.ReportDir)
	if _, err := reporter.GenerateReport(models.NewRunReport(command, summary, start, time.Now())); err != nil {
		utils.Warnf("生成报告失败: %v", err)
	}
}

func printResult(r models.CategoryResult) {
	fmt.Println("==================================================")
	if r.Success {
		fmt.Printf("✅ %s (%s): %d 个商品\n", r.Category, r.Site, r.ProductCount)
	} else {
		fmt.Printf("❌ %s: %s\n", r.Category, r.Error)
	}
	m := r.Merge
	fmt.Printf("新增: %d, 更新: %d, 价格变化: %d, 停用: %d\n", m.New, m.Updated, m.PriceChanges, m.Deactivated)
	if m.Guard != models.GuardNone {
		fmt.Printf("⚠️  数据保护已生效 (%s): 已有 %d 个活跃商品,未做停用\n", m.Guard, m.Existing)
	}
	s := r.Stats
	fmt.Printf("页面: %d, 挑战通过: %d, 错误: %d, 耗时: %.1f秒\n", s.PagesScraped, s.ChallengesSolved, s.ErrorsEncountered, r.Duration)
	fmt.Println("==================================================")
}

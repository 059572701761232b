package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RecoveryAshes/PriceHawk/internal/config"
	"github.com/RecoveryAshes/PriceHawk/internal/core"
	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile     string
	sitesFile      string
	logLevel       string
	headless       bool
	storageBackend string
	headers        []string // 自定义HTTP请求头

	// 子命令参数
	keysFile    string
	cleanupDays int
	writeSites  bool
	serveAddr   string
)

// 由 PersistentPreRunE 初始化
var (
	appConfig *core.Config
	catalog   *models.Catalog
)

var rootCmd = &cobra.Command{
	Use:   "pricehawk",
	Short: "电商商品价格抓取与追踪工具",
	Long: `PriceHawk - 电商商品列表抓取与价格历史追踪

定期抓取多个电商站点的商品列表,支持:
  • 挑战页与反爬检测,有限次数的处理与重试
  • 分页与无限滚动两种遍历方式
  • 价格历史记录,异常的空批次或过小批次不会破坏已有数据
  • MongoDB / PostgreSQL 存储
  • 只读查询API

示例:
  pricehawk scrape incehesap_islemci
  pricehawk scrape-all --headless
  pricehawk scrape-all -f keys.txt -H "Referer: https://www.google.com/"
  pricehawk test sinerji
  pricehawk serve --addr :8000

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		if err := ValidateLogLevel(logLevel); err != nil {
			return err
		}

		cfg, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		// 命令行参数覆盖配置文件
		var headlessFlag *bool
		if cmd.Flags().Changed("headless") {
			headlessFlag = &headless
		}
		cfg.MergeCLIFlags(headlessFlag, logLevel, storageBackend)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("配置无效: %w", err)
		}

		if err := utils.InitLogger(cfg.LogConfig()); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		loader := config.NewSiteCatalogLoader(sitesFile)
		if writeSites {
			if err := loader.EnsureCatalogExists(); err != nil {
				return err
			}
		}
		cat, err := loader.Load()
		if err != nil {
			return err
		}

		appConfig = cfg
		catalog = cat
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("PriceHawk %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&sitesFile, "sites", config.DefaultCatalogFile, "站点目录文件路径,不存在时使用内置目录")
	rootCmd.PersistentFlags().BoolVar(&writeSites, "write-sites", false, "站点目录文件不存在时写入内置模板")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (DEBUG|INFO|WARNING|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", false, "无头浏览器模式")
	rootCmd.PersistentFlags().StringVar(&storageBackend, "storage", "", "存储后端 (mongo|postgres|memory)")
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")

	scrapeAllCmd.Flags().StringVarP(&keysFile, "file", "f", "", "分类键列表文件,每行一个")
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 30, "报告停用超过N天的商品")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "监听地址,默认使用配置中的server.addr")

	rootCmd.AddCommand(scrapeCmd, scrapeAllCmd, testCmd, listCmd, statsCmd, serveCmd, cleanupCmd, versionCmd)
}

func main() {
	// Ctrl+C 取消上下文,正在进行的分类被丢弃,剩余分类不再处理
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		stop()
		os.Exit(1)
	}
}

package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/crawlers"
	"github.com/RecoveryAshes/PriceHawk/internal/lock"
	"github.com/RecoveryAshes/PriceHawk/internal/storage"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用程序配置
type Config struct {
	Browser    BrowserConfig    `mapstructure:"browser"`
	Delays     DelayConfig      `mapstructure:"delays"`
	Navigation NavigationConfig `mapstructure:"navigation"`
	Storage    storage.Config   `mapstructure:"storage"`
	Lock       LockConfig       `mapstructure:"lock"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Output     OutputConfig     `mapstructure:"output"`
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	Headless        bool              `mapstructure:"headless"`
	UserDataDir     string            `mapstructure:"user_data_dir"`
	Stealth         bool              `mapstructure:"stealth"`
	UserAgent       string            `mapstructure:"user_agent"`
	LaunchRetries   int               `mapstructure:"launch_retries"`
	MinFreeMemoryMB int               `mapstructure:"min_free_memory_mb"`
	Headers         map[string]string `mapstructure:"headers"`
}

// DelayConfig 延迟配置,单位毫秒
type DelayConfig struct {
	MinDelay          int `mapstructure:"min_delay"`          // 页面加载后随机等待下限
	MaxDelay          int `mapstructure:"max_delay"`          // 页面加载后随机等待上限
	SiteSwitchDelay   int `mapstructure:"site_switch_delay"`  // 切换站点间隔下限
	SiteSwitchJitter  int `mapstructure:"site_switch_jitter"` // 切换站点间隔的随机增量
	CategoryDelay     int `mapstructure:"category_delay"`     // 同站点分类间隔下限
	CategoryJitter    int `mapstructure:"category_jitter"`    // 同站点分类间隔的随机增量
	NavigationMinimum int `mapstructure:"navigation_minimum"` // 两次导航之间的最小间隔,0不限制
}

// NavigationConfig 导航配置
type NavigationConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	Timeout          int `mapstructure:"timeout"`           // 毫秒
	ChallengeCeiling int `mapstructure:"challenge_ceiling"` // 秒
}

// LockConfig 运行锁配置
type LockConfig struct {
	Backend  string `mapstructure:"backend"` // file 或 redis
	Path     string `mapstructure:"path"`
	RedisURL string `mapstructure:"redis_url"`
	TTL      int    `mapstructure:"ttl"` // 秒
}

// ServerConfig 只读API配置
type ServerConfig struct {
	Addr      string  `mapstructure:"addr"`
	RateLimit float64 `mapstructure:"rate_limit"` // 每秒请求数
	Burst     int     `mapstructure:"burst"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	ReportDir string `mapstructure:"report_dir"`
}

// 环境变量与配置键的对应关系
var envBindings = map[string]string{
	"storage.mongodb_uri":      "MONGODB_URI",
	"storage.database":         "DATABASE_NAME",
	"storage.postgres_dsn":     "POSTGRES_DSN",
	"storage.backend":          "STORAGE_BACKEND",
	"browser.headless":         "HEADLESS",
	"browser.user_data_dir":    "USER_DATA_DIR",
	"delays.min_delay":         "MIN_DELAY",
	"delays.max_delay":         "MAX_DELAY",
	"delays.site_switch_delay": "SITE_SWITCH_DELAY",
	"navigation.timeout":       "TIMEOUT",
	"logging.level":            "LOG_LEVEL",
	"lock.redis_url":           "REDIS_URL",
	"server.addr":              "PRICEHAWK_ADDR",
}

// LoadConfig 加载配置文件
// 优先级: 环境变量(含.env) > 配置文件 > 默认值
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		utils.Warnf("读取.env失败: %v", err)
	}

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		v.AddConfigPath("./configs")
		v.AddConfigPath(".")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pricehawk"))
		}
	}

	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 浏览器
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.user_data_dir", "./user_data")
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.user_agent", crawlers.DefaultUserAgent)
	v.SetDefault("browser.launch_retries", 2)
	v.SetDefault("browser.min_free_memory_mb", 512)

	// 延迟
	v.SetDefault("delays.min_delay", 2000)
	v.SetDefault("delays.max_delay", 4000)
	v.SetDefault("delays.site_switch_delay", 5000)
	v.SetDefault("delays.site_switch_jitter", 3000)
	v.SetDefault("delays.category_delay", 3000)
	v.SetDefault("delays.category_jitter", 2000)
	v.SetDefault("delays.navigation_minimum", 0)

	// 导航
	v.SetDefault("navigation.max_attempts", crawlers.DefaultMaxAttempts)
	v.SetDefault("navigation.timeout", int(crawlers.DefaultNavigationTimeout/time.Millisecond))
	v.SetDefault("navigation.challenge_ceiling", int(crawlers.DefaultChallengeCeiling/time.Second))

	// 存储
	v.SetDefault("storage.backend", storage.BackendMongo)
	v.SetDefault("storage.mongodb_uri", "mongodb://localhost:27017/ScraperDB")
	v.SetDefault("storage.database", "ScraperDB")
	v.SetDefault("storage.max_conns", 4)
	v.SetDefault("storage.timeout", "10s")

	// 运行锁
	v.SetDefault("lock.backend", "file")
	v.SetDefault("lock.path", filepath.Join(os.TempDir(), "pricehawk.lock"))
	v.SetDefault("lock.ttl", 7200)

	// API
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.burst", 20)

	// 日志
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	// 输出
	v.SetDefault("output.report_dir", "reports")
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	d := c.Delays
	if d.MinDelay < 0 || d.MaxDelay < d.MinDelay {
		return fmt.Errorf("延迟配置无效: min_delay=%d max_delay=%d", d.MinDelay, d.MaxDelay)
	}
	if d.SiteSwitchDelay < 0 || d.SiteSwitchJitter < 0 || d.CategoryDelay < 0 || d.CategoryJitter < 0 {
		return fmt.Errorf("站点/分类间隔不能为负数")
	}
	if c.Navigation.MaxAttempts < 1 || c.Navigation.MaxAttempts > 10 {
		return fmt.Errorf("navigation.max_attempts 必须在1-10之间: %d", c.Navigation.MaxAttempts)
	}
	if c.Navigation.Timeout < 1000 {
		return fmt.Errorf("navigation.timeout 不能小于1000毫秒: %d", c.Navigation.Timeout)
	}
	if c.Navigation.ChallengeCeiling < 1 {
		return fmt.Errorf("navigation.challenge_ceiling 必须为正数: %d", c.Navigation.ChallengeCeiling)
	}
	if c.Browser.LaunchRetries < 0 {
		return fmt.Errorf("browser.launch_retries 不能为负数")
	}
	switch strings.ToLower(c.Storage.Backend) {
	case storage.BackendMongo, storage.BackendPostgres, storage.BackendMemory:
	default:
		return fmt.Errorf("%w: %s", storage.ErrUnknownBackend, c.Storage.Backend)
	}
	switch c.Lock.Backend {
	case "file", "redis", "none":
	default:
		return fmt.Errorf("lock.backend 必须为 file、redis 或 none: %s", c.Lock.Backend)
	}
	if c.Server.RateLimit <= 0 || c.Server.Burst < 1 {
		return fmt.Errorf("server.rate_limit 与 server.burst 必须为正数")
	}
	return nil
}

// MergeCLIFlags 合并命令行参数到配置
func (c *Config) MergeCLIFlags(headless *bool, logLevel string, storageBackend string) {
	// 命令行参数优先于配置文件
	if headless != nil {
		c.Browser.Headless = *headless
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if storageBackend != "" {
		c.Storage.Backend = storageBackend
	}
}

// NavigationPolicy 由配置生成导航策略
func (c *Config) NavigationPolicy() crawlers.NavigationPolicy {
	policy := crawlers.DefaultNavigationPolicy()
	policy.MaxAttempts = c.Navigation.MaxAttempts
	policy.Timeout = time.Duration(c.Navigation.Timeout) * time.Millisecond
	policy.ChallengeCeiling = time.Duration(c.Navigation.ChallengeCeiling) * time.Second
	return policy
}

// TraversalPolicy 由配置生成遍历策略
func (c *Config) TraversalPolicy() crawlers.TraversalPolicy {
	policy := crawlers.DefaultTraversalPolicy()
	settle := crawlers.Millis(c.Delays.MinDelay, c.Delays.MaxDelay)
	policy.ContentSettle = settle
	policy.SinglePageSettle = settle
	return policy
}

// SiteSwitchDelay 切换站点时的等待区间
func (c *Config) SiteSwitchDelay() crawlers.Range {
	d := c.Delays
	return crawlers.Millis(d.SiteSwitchDelay, d.SiteSwitchDelay+d.SiteSwitchJitter)
}

// CategoryDelay 同站点分类之间的等待区间
func (c *Config) CategoryDelay() crawlers.Range {
	d := c.Delays
	return crawlers.Millis(d.CategoryDelay, d.CategoryDelay+d.CategoryJitter)
}

// LockOptions 转换为运行锁配置
func (c *Config) LockOptions() lock.Config {
	return lock.Config{
		Backend:  c.Lock.Backend,
		Path:     c.Lock.Path,
		RedisURL: c.Lock.RedisURL,
		TTL:      time.Duration(c.Lock.TTL) * time.Second,
	}
}

// ResourceMonitorConfig 转换为资源检查配置
func (c *Config) ResourceMonitorConfig() crawlers.ResourceMonitorConfig {
	rc := crawlers.DefaultResourceMonitorConfig()
	if c.Browser.MinFreeMemoryMB > 0 {
		rc.MinAvailableMemory = uint64(c.Browser.MinFreeMemoryMB) * 1024 * 1024
	}
	return rc
}

// LogConfig 转换为日志系统配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
	"github.com/spf13/viper"
)

const (
	// DefaultCatalogFile 默认站点目录路径
	DefaultCatalogFile = "configs/sites.yaml"

	// MaxCatalogFileSize 站点目录最大大小 (1MB)
	MaxCatalogFileSize = 1 * 1024 * 1024
)

//go:embed sites_template.yaml
var defaultCatalogTemplate string

// SiteCatalogLoader 站点目录加载器
// 目录文件存在时读取文件,否则使用内置模板
type SiteCatalogLoader struct {
	catalogPath string
}

// NewSiteCatalogLoader 创建站点目录加载器
func NewSiteCatalogLoader(catalogPath string) *SiteCatalogLoader {
	if catalogPath == "" {
		catalogPath = DefaultCatalogFile
	}
	return &SiteCatalogLoader{
		catalogPath: catalogPath,
	}
}

// Path 返回目录文件路径
func (l *SiteCatalogLoader) Path() string {
	return l.catalogPath
}

// EnsureCatalogExists 目录文件不存在时写入内置模板
func (l *SiteCatalogLoader) EnsureCatalogExists() error {
	if _, err := os.Stat(l.catalogPath); os.IsNotExist(err) {
		dir := filepath.Dir(l.catalogPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("无法创建配置目录 [%s]: %w", dir, err)
		}
		if err := os.WriteFile(l.catalogPath, []byte(defaultCatalogTemplate), 0644); err != nil {
			return fmt.Errorf("无法生成站点目录 [%s]: %w", l.catalogPath, err)
		}
		utils.Infof("已生成站点目录模板: %s", l.catalogPath)
	}
	return nil
}

// ValidateFileSize 验证目录文件大小是否在限制内
func (l *SiteCatalogLoader) ValidateFileSize() error {
	info, err := os.Stat(l.catalogPath)
	if err != nil {
		return fmt.Errorf("无法读取站点目录信息 [%s]: %w", l.catalogPath, err)
	}

	if info.Size() > MaxCatalogFileSize {
		return &models.ConfigError{
			FilePath: l.catalogPath,
			Cause: fmt.Errorf("站点目录过大: %d 字节 (最大 %d 字节)",
				info.Size(), MaxCatalogFileSize),
		}
	}
	return nil
}

// Load 加载并校验站点目录
func (l *SiteCatalogLoader) Load() (*models.Catalog, error) {
	if _, err := os.Stat(l.catalogPath); os.IsNotExist(err) {
		utils.Debugf("站点目录不存在 [%s], 使用内置模板", l.catalogPath)
		return loadTemplate()
	}

	if err := l.ValidateFileSize(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(l.catalogPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		// 文件被其他进程锁定时降级使用内置模板
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
			utils.Warnf("站点目录被锁定 [%s], 使用内置模板", l.catalogPath)
			return loadTemplate()
		}
		return nil, &models.ConfigError{
			FilePath: l.catalogPath,
			Cause:    err,
		}
	}

	return decodeCatalog(v, l.catalogPath)
}

// DefaultCatalog 返回内置站点目录
func DefaultCatalog() (*models.Catalog, error) {
	return loadTemplate()
}

func loadTemplate() (*models.Catalog, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(defaultCatalogTemplate)); err != nil {
		return nil, &models.ConfigError{FilePath: "<embedded>", Cause: err}
	}
	return decodeCatalog(v, "<embedded>")
}

func decodeCatalog(v *viper.Viper, source string) (*models.Catalog, error) {
	var catalog models.Catalog
	if err := v.Unmarshal(&catalog); err != nil {
		return nil, &models.ConfigError{
			FilePath: source,
			Cause:    fmt.Errorf("站点目录绑定失败: %w", err),
		}
	}
	if err := catalog.Validate(); err != nil {
		return nil, &models.ConfigError{FilePath: source, Cause: err}
	}

	utils.Debugf("站点目录已加载: %d 个站点, %d 个分类", len(catalog.Sites), len(catalog.Targets()))
	return &catalog, nil
}

package crawlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const mb = 1024 * 1024

// ResourceMonitor 系统资源监控器
// 职责: 启动浏览器前检查可用内存和CPU负载,运行期间周期性记录内存压力
type ResourceMonitor struct {
	config ResourceMonitorConfig
	sample func() (ResourceSnapshot, error)

	// 保护last的读写锁
	mu   sync.RWMutex
	last ResourceSnapshot

	cancelFunc context.CancelFunc
	isRunning  bool
}

// ResourceMonitorConfig 资源监控器配置
type ResourceMonitorConfig struct {
	MinAvailableMemory uint64  // 启动浏览器所需的最小可用内存(字节)
	CPULoadThreshold   float64 // CPU负载阈值(%),>=200视为禁用
}

// DefaultResourceMonitorConfig 默认配置: 至少512MB可用内存,CPU负载不超过95%
func DefaultResourceMonitorConfig() ResourceMonitorConfig {
	return ResourceMonitorConfig{
		MinAvailableMemory: 512 * mb,
		CPULoadThreshold:   95,
	}
}

// ResourceSnapshot 一次资源采样
type ResourceSnapshot struct {
	TotalMemory     uint64
	AvailableMemory uint64
	CPUPercent      float64
	SampledAt       time.Time
}

// MemoryPressure 内存压力等级
func (s ResourceSnapshot) MemoryPressure() string {
	availableMB := s.AvailableMemory / mb
	switch {
	case availableMB < 200:
		return "emergency"
	case availableMB < 300:
		return "critical"
	case availableMB < 500:
		return "warning"
	default:
		return "normal"
	}
}

// NewResourceMonitor 创建资源监控器实例
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	return &ResourceMonitor{
		config: config,
		sample: sampleSystem,
	}
}

// sampleSystem 使用gopsutil读取系统内存与CPU使用率
func sampleSystem() (ResourceSnapshot, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return ResourceSnapshot{}, fmt.Errorf("获取系统内存失败: %w", err)
	}

	snapshot := ResourceSnapshot{
		TotalMemory:     vm.Total,
		AvailableMemory: vm.Available,
		SampledAt:       time.Now(),
	}

	// 100毫秒采样间隔,perCPU=false 返回所有核心的平均值
	percentages, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(percentages) == 0 {
		utils.Logger.Warn().Err(err).Msg("获取CPU使用率失败")
		return snapshot, nil
	}
	snapshot.CPUPercent = percentages[0]
	return snapshot, nil
}

// Preflight 启动浏览器前的资源检查
// 采样失败时只记录警告并放行
func (rm *ResourceMonitor) Preflight() (ResourceSnapshot, error) {
	snapshot, err := rm.sample()
	if err != nil {
		utils.Logger.Warn().Err(err).Msg("资源采样失败,跳过资源检查")
		return snapshot, nil
	}
	rm.store(snapshot)

	utils.Logger.Info().
		Str("available", fmt.Sprintf("%.2f GB", float64(snapshot.AvailableMemory)/(1024*mb))).
		Str("total", fmt.Sprintf("%.2f GB", float64(snapshot.TotalMemory)/(1024*mb))).
		Float64("cpu", snapshot.CPUPercent).
		Msg("系统资源")

	return snapshot, rm.evaluate(snapshot)
}

// evaluate 判断采样结果是否满足启动条件
func (rm *ResourceMonitor) evaluate(s ResourceSnapshot) error {
	if rm.config.MinAvailableMemory > 0 && s.AvailableMemory < rm.config.MinAvailableMemory {
		return fmt.Errorf("%w: 可用内存 %dMB,至少需要 %dMB",
			models.ErrInsufficientResources, s.AvailableMemory/mb, rm.config.MinAvailableMemory/mb)
	}
	if rm.config.CPULoadThreshold > 0 && rm.config.CPULoadThreshold < 200 && s.CPUPercent > rm.config.CPULoadThreshold {
		return fmt.Errorf("%w: CPU负载 %.1f%%,阈值 %.1f%%",
			models.ErrInsufficientResources, s.CPUPercent, rm.config.CPULoadThreshold)
	}
	return nil
}

// StartMonitoring 启动后台采样,内存压力升高时记录警告
func (rm *ResourceMonitor) StartMonitoring(interval time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	// 如果已经在运行,直接返回(幂等)
	if rm.isRunning {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rm.cancelFunc = cancel
	rm.isRunning = true

	go rm.monitoringLoop(ctx, interval)
}

func (rm *ResourceMonitor) monitoringLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := rm.sample()
			if err != nil {
				utils.Debugf("资源采样失败: %v", err)
				continue
			}
			rm.store(snapshot)

			switch pressure := snapshot.MemoryPressure(); pressure {
			case "emergency", "critical":
				utils.Logger.Error().Str("pressure", pressure).Msgf("可用内存严重不足(当前%dMB)", snapshot.AvailableMemory/mb)
			case "warning":
				utils.Logger.Warn().Str("pressure", pressure).Msgf("可用内存不足(当前%dMB)", snapshot.AvailableMemory/mb)
			}
		}
	}
}

// StopMonitoring 停止后台采样
func (rm *ResourceMonitor) StopMonitoring() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isRunning && rm.cancelFunc != nil {
		rm.cancelFunc()
		rm.isRunning = false
		rm.cancelFunc = nil
	}
}

// Last 最近一次采样结果
func (rm *ResourceMonitor) Last() ResourceSnapshot {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.last
}

func (rm *ResourceMonitor) store(s ResourceSnapshot) {
	rm.mu.Lock()
	rm.last = s
	rm.mu.Unlock()
}

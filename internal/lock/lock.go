// Package lock 防止多个抓取任务同时运行
//
// 同一时间只允许一个 scrape / scrape-all / test 任务操作浏览器和写入存储。
// 单机使用文件锁,多机部署使用Redis锁。
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendNone  = "none"
)

// Locker 运行锁
type Locker interface {
	// Acquire 获取锁,已被占用时返回包装ErrLockHeld的错误
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// Config 运行锁配置
type Config struct {
	Backend  string
	Path     string
	RedisURL string
	TTL      time.Duration
}

// Open 按配置创建运行锁
func Open(ctx context.Context, cfg Config) (Locker, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendFile:
		return NewFileLock(cfg.Path, cfg.TTL), nil
	case BackendRedis:
		return NewRedisLock(ctx, cfg.RedisURL, DefaultRedisKey, cfg.TTL)
	case BackendNone:
		return noopLock{}, nil
	default:
		return nil, fmt.Errorf("未知的锁类型: %s", cfg.Backend)
	}
}

type noopLock struct{}

func (noopLock) Acquire(context.Context) error { return nil }
func (noopLock) Release(context.Context) error { return nil }

// FileLock 基于独占创建文件的运行锁,文件内容为持有者的PID
type FileLock struct {
	path string
	ttl  time.Duration
	// alive 判断PID对应的进程是否存在
	alive func(pid int) bool
	held  bool
}

// NewFileLock 创建文件锁
// 持有进程已退出或锁文件超过ttl(ttl>0时)视为过期锁,会被接管
func NewFileLock(path string, ttl time.Duration) *FileLock {
	if path == "" {
		path = filepath.Join(os.TempDir(), "pricehawk.lock")
	}
	return &FileLock{
		path:  path,
		ttl:   ttl,
		alive: pidAlive,
	}
}

// Path 锁文件路径
func (l *FileLock) Path() string {
	return l.path
}

// Acquire 获取文件锁
func (l *FileLock) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("创建锁目录失败: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(l.path)
				return fmt.Errorf("写入锁文件失败: %w", errors.Join(werr, cerr))
			}
			l.held = true
			utils.Debugf("已获取运行锁: %s", l.path)
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("创建锁文件失败: %w", err)
		}

		pid, stale := l.inspect()
		if !stale {
			return fmt.Errorf("%w: PID %d (%s)", models.ErrLockHeld, pid, l.path)
		}
		utils.Warnf("发现过期的运行锁 (PID %d),接管: %s", pid, l.path)
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("删除过期锁失败: %w", err)
		}
	}
	return fmt.Errorf("%w: %s", models.ErrLockHeld, l.path)
}

// inspect 读取锁文件,判断是否过期
func (l *FileLock) inspect() (int, bool) {
	info, err := os.Stat(l.path)
	if err != nil {
		// 文件已被其他进程删除,可以重试
		return 0, true
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, true
	}
	if l.ttl > 0 && time.Since(info.ModTime()) > l.ttl {
		return pid, true
	}
	return pid, !l.alive(pid)
}

// Release 释放文件锁,只删除自己持有的锁
func (l *FileLock) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除锁文件失败: %w", err)
	}
	utils.Debugf("已释放运行锁: %s", l.path)
	return nil
}

func pidAlive(pid int) bool {
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		// 无法判断时按存活处理
		return true
	}
	return exists
}

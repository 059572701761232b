package lock

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run", "pricehawk.lock")

	first := NewFileLock(path, 0)
	require.NoError(t, first.Acquire(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	// 当前进程仍然存活,第二个锁必须失败
	second := NewFileLock(path, 0)
	err = second.Acquire(ctx)
	assert.ErrorIs(t, err, models.ErrLockHeld)

	// 未持有锁时释放不删除文件
	require.NoError(t, second.Release(ctx))
	assert.FileExists(t, path)

	require.NoError(t, first.Release(ctx))
	assert.NoFileExists(t, path)

	require.NoError(t, second.Acquire(ctx))
	require.NoError(t, second.Release(ctx))
}

func TestFileLock_Stale(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
		age     time.Duration
		ttl     time.Duration
		alive   bool
		wantErr bool
	}{
		{"进程已退出", "424242", 0, 0, false, false},
		{"内容损坏", "not-a-pid", 0, 0, true, false},
		{"超过TTL", "424242", 3 * time.Hour, 2 * time.Hour, true, false},
		{"进程存活且未过期", "424242", time.Minute, 2 * time.Hour, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "pricehawk.lock")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			if tt.age > 0 {
				old := time.Now().Add(-tt.age)
				require.NoError(t, os.Chtimes(path, old, old))
			}

			l := NewFileLock(path, tt.ttl)
			l.alive = func(int) bool { return tt.alive }

			err := l.Acquire(ctx)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrLockHeld)
				return
			}
			require.NoError(t, err)
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))
			require.NoError(t, l.Release(ctx))
		})
	}
}

func TestFileLock_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewFileLock(filepath.Join(t.TempDir(), "pricehawk.lock"), 0)
	assert.ErrorIs(t, l.Acquire(ctx), context.Canceled)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	l, err := Open(ctx, Config{Backend: "file", Path: filepath.Join(t.TempDir(), "x.lock")})
	require.NoError(t, err)
	assert.IsType(t, &FileLock{}, l)

	l, err = Open(ctx, Config{Backend: "NONE"})
	require.NoError(t, err)
	assert.NoError(t, l.Acquire(ctx))
	assert.NoError(t, l.Release(ctx))

	_, err = Open(ctx, Config{Backend: "etcd"})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Backend: "redis", RedisURL: "://bad"})
	assert.Error(t, err)
}

func TestRedisLock(t *testing.T) {
	url := os.Getenv("PRICEHAWK_TEST_REDIS_URL")
	if url == "" {
		t.Skip("未设置 PRICEHAWK_TEST_REDIS_URL,跳过Redis锁测试")
	}
	ctx := context.Background()
	key := DefaultRedisKey + ":test:" + strconv.FormatInt(time.Now().UnixNano(), 36)

	first, err := NewRedisLock(ctx, url, key, time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(ctx, url, key, time.Minute)
	require.NoError(t, err)

	require.NoError(t, first.Acquire(ctx))
	assert.ErrorIs(t, second.Acquire(ctx), models.ErrLockHeld)

	// 令牌不一致,不会删除first的锁
	require.NoError(t, second.Release(ctx))
	third, err := NewRedisLock(ctx, url, key, time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, third.Acquire(ctx), models.ErrLockHeld)

	require.NoError(t, first.Release(ctx))
	require.NoError(t, third.Acquire(ctx))
	require.NoError(t, third.Release(ctx))
}

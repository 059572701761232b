package crawlers

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticHeaders http.Header

func (h staticHeaders) GetHeaders() (http.Header, error) {
	return http.Header(h).Clone(), nil
}

func brotliBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestProber_Probe(t *testing.T) {
	challenge := `<html><head><title>Just a moment...</title></head><body><div id="cf-challenge-form"></div></body></html>`
	challengeBody := brotliBytes(t, challenge)
	listing := listingHTML("Intel", 3, "")

	var gotLanguage, gotEncoding string
	mux := http.NewServeMux()
	mux.HandleFunc("/challenge", func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Accept-Encoding")
		w.Header().Set("Content-Encoding", "br")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write(challengeBody)
	})
	mux.HandleFunc("/listing", func(w http.ResponseWriter, r *http.Request) {
		gotLanguage = r.Header.Get("Accept-Language")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(listing))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	prober := NewProber(staticHeaders{"Accept-Language": {"tr-TR,tr;q=0.9"}}, 5*time.Second)

	t.Run("压缩的挑战页", func(t *testing.T) {
		cfg := models.SiteConfig{URL: server.URL + "/challenge", ItemSelector: ".product"}
		result, err := prober.Probe(context.Background(), cfg)
		require.NoError(t, err)

		assert.Contains(t, gotEncoding, "br")
		assert.Equal(t, http.StatusForbidden, result.StatusCode)
		assert.Equal(t, "br", result.Encoding)
		assert.Equal(t, "Just a moment...", result.Title)
		assert.Equal(t, len(challenge), result.Bytes)
		assert.True(t, result.Challenge)
		assert.True(t, result.Blocked())
		assert.Equal(t, 0, result.Items)
	})

	t.Run("普通列表页", func(t *testing.T) {
		cfg := models.SiteConfig{URL: server.URL + "/listing", ItemSelector: ".product"}
		result, err := prober.Probe(context.Background(), cfg)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, result.StatusCode)
		assert.Equal(t, 3, result.Items)
		assert.False(t, result.Challenge)
		assert.False(t, result.Blocked())
		assert.Equal(t, "tr-TR,tr;q=0.9", gotLanguage)
	})

	t.Run("连接失败", func(t *testing.T) {
		cfg := models.SiteConfig{URL: "http://127.0.0.1:1/unreachable"}
		_, err := prober.Probe(context.Background(), cfg)
		assert.Error(t, err)
	})
}

func TestDecompressResponse(t *testing.T) {
	const body = "function init() { return 42 }"

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, _ = w.Write([]byte(body))
	_ = w.Close()

	tests := []struct {
		name     string
		encoding string
		input    []byte
	}{
		{"gzip", "gzip", gz.Bytes()},
		{"已解压的gzip", "gzip", []byte(body)},
		{"brotli", "br", brotliBytes(t, body)},
		{"无压缩", "", []byte(body)},
		{"未知编码", "zstd", []byte(body)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decompressResponse(tt.encoding, tt.input)
			require.NoError(t, err)
			assert.Equal(t, body, string(got))
		})
	}
}

func TestResourceMonitor_Preflight(t *testing.T) {
	tests := []struct {
		name      string
		snapshot  ResourceSnapshot
		sampleErr error
		wantErr   bool
	}{
		{"资源充足", ResourceSnapshot{TotalMemory: 8192 * mb, AvailableMemory: 4096 * mb, CPUPercent: 20}, nil, false},
		{"内存不足", ResourceSnapshot{TotalMemory: 8192 * mb, AvailableMemory: 256 * mb, CPUPercent: 20}, nil, true},
		{"CPU负载过高", ResourceSnapshot{TotalMemory: 8192 * mb, AvailableMemory: 4096 * mb, CPUPercent: 99}, nil, true},
		{"采样失败时放行", ResourceSnapshot{}, errors.New("不支持的平台"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := NewResourceMonitor(DefaultResourceMonitorConfig())
			rm.sample = func() (ResourceSnapshot, error) { return tt.snapshot, tt.sampleErr }

			_, err := rm.Preflight()
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrInsufficientResources)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResourceSnapshot_MemoryPressure(t *testing.T) {
	assert.Equal(t, "emergency", ResourceSnapshot{AvailableMemory: 100 * mb}.MemoryPressure())
	assert.Equal(t, "critical", ResourceSnapshot{AvailableMemory: 250 * mb}.MemoryPressure())
	assert.Equal(t, "warning", ResourceSnapshot{AvailableMemory: 400 * mb}.MemoryPressure())
	assert.Equal(t, "normal", ResourceSnapshot{AvailableMemory: 2048 * mb}.MemoryPressure())
}

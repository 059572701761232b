package crawlers

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/PriceHawk/internal/models"
	"github.com/RecoveryAshes/PriceHawk/internal/utils"
	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
)

// ProbeResult 一次静态探测的结果
type ProbeResult struct {
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code"`
	Bytes      int           `json:"bytes"`
	Encoding   string        `json:"encoding,omitempty"`
	Title      string        `json:"title,omitempty"`
	Items      int           `json:"items"`
	Challenge  bool          `json:"challenge"`
	AntiBot    bool          `json:"anti_bot"`
	Duration   time.Duration `json:"duration"`
}

// Blocked 静态请求是否被挑战页或反爬页拦截
func (r ProbeResult) Blocked() bool {
	return r.Challenge || r.AntiBot || r.StatusCode == 403 || r.StatusCode == 429 || r.StatusCode == 503
}

// Prober 不启动浏览器的静态可达性探测(使用Colly)
type Prober struct {
	headers models.HeaderProvider
	timeout time.Duration
}

// NewProber 创建探测器
func NewProber(headers models.HeaderProvider, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Prober{headers: headers, timeout: timeout}
}

// Probe 请求分类首页,判断是否需要浏览器才能通过防护
// HTTP错误状态不视为失败,挑战页常以403/503返回
func (p *Prober) Probe(ctx context.Context, cfg models.SiteConfig) (ProbeResult, error) {
	result := ProbeResult{URL: cfg.URL}
	start := time.Now()

	// 每次探测使用新的collector,避免同一URL被判定为已访问
	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.UserAgent(DefaultUserAgent),
	)
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(p.timeout)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Encoding", "gzip, deflate, br")
		if p.headers == nil {
			return
		}
		headers, err := p.headers.GetHeaders()
		if err != nil {
			utils.Warnf("获取HTTP头部失败: %v", err)
			return
		}
		for name, values := range headers {
			if len(values) > 0 {
				r.Headers.Set(name, values[0])
			}
		}
	})

	var handleErr error
	c.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		result.Encoding = r.Headers.Get("Content-Encoding")

		body, err := decompressResponse(result.Encoding, r.Body)
		if err != nil {
			utils.Warnf("解压响应失败 [%s] (编码=%s): %v", cfg.URL, result.Encoding, err)
			body = r.Body
		}
		result.Bytes = len(body)

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			handleErr = fmt.Errorf("解析响应失败: %w", err)
			return
		}
		result.Title = strings.TrimSpace(doc.Find("title").First().Text())
		if cfg.ItemSelector != "" {
			result.Items = doc.Find(cfg.ItemSelector).Length()
		}

		content := string(body)
		result.Challenge = ContainsChallenge(result.Title, content)
		result.AntiBot = ContainsAntiBot(content)
	})

	var visitErr error
	c.OnError(func(r *colly.Response, err error) {
		visitErr = err
	})

	if err := c.Visit(cfg.URL); err != nil && visitErr == nil {
		visitErr = err
	}
	result.Duration = time.Since(start)

	if visitErr != nil {
		return result, fmt.Errorf("探测失败 [%s]: %w", cfg.URL, visitErr)
	}
	if handleErr != nil {
		return result, handleErr
	}

	utils.Logger.Debug().
		Str("url", cfg.URL).
		Int("status", result.StatusCode).
		Int("items", result.Items).
		Bool("challenge", result.Challenge).
		Dur("duration", result.Duration).
		Msg("静态探测完成")
	return result, nil
}

// decompressResponse 根据Content-Encoding头部解压响应体
// 支持 gzip, deflate, br (Brotli) 三种压缩格式
func decompressResponse(contentEncoding string, body []byte) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch encoding {
	case "gzip":
		// Colly可能已经解压过gzip响应
		if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
			return body, nil
		}
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip读取失败: %w", err)
		}
		return decompressed, nil

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("deflate读取失败: %w", err)
		}
		return decompressed, nil

	case "br":
		reader := brotli.NewReader(bytes.NewReader(body))
		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("brotli读取失败: %w", err)
		}
		return decompressed, nil

	case "":
		return body, nil

	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}

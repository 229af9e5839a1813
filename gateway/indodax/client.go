// Package indodax 实现 Indodax 的行情、下单、余额端口。
package indodax

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://indodax.com"
	tapiPath       = "/tapi"
)

// Config Indodax 客户端配置。
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	// RateLimit 每秒请求数，<=0 不限速
	RateLimit float64
	RateBurst int
}

// APIError 交易所返回非 2xx 或 success=0。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("indodax api error: status=%d msg=%s", e.StatusCode, e.Message)
}

// Client 带限速、重试、熔断的 HTTP 客户端。
// 读接口（ticker/getInfo）重试 + 熔断；trade 只熔断不重试，避免重复下单。
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	read    failsafe.Executor[*http.Response]
	write   failsafe.Executor[*http.Response]
	logger  *zap.Logger

	nonceMu   sync.Mutex
	lastNonce int64
	now       func() time.Time
}

// NewClient 创建客户端；logger 为空时不输出。
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		}).
		WithBackoff(200*time.Millisecond, 2*time.Second).
		WithMaxRetries(2).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(30 * time.Second).
		Build()

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		read:    failsafe.With[*http.Response](retryPolicy, breaker),
		write:   failsafe.With[*http.Response](breaker),
		logger:  logger,
		now:     time.Now,
	}
}

// Sign 对 urlencoded 请求体做 HMAC-SHA512，返回 hex。
func Sign(body, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// nextNonce 毫秒时间戳，保证单调递增。
func (c *Client) nextNonce() int64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	n := c.now().UnixMilli()
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return n
}

// publicGet 请求公开接口并解码 JSON。
func (c *Client) publicGet(ctx context.Context, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.read.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
		if err != nil {
			return nil, err
		}
		return c.doBuffered(req)
	})
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

// private 调用 TAPI；每次尝试都重新生成 timestamp 与签名。
func (c *Client) private(ctx context.Context, method string, params url.Values, retry bool, out interface{}) error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return fmt.Errorf("indodax api key/secret not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	pipeline := c.write
	if retry {
		pipeline = c.read
	}
	resp, err := pipeline.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		form := url.Values{}
		for k, vs := range params {
			form[k] = append([]string(nil), vs...)
		}
		form.Set("method", method)
		form.Set("timestamp", strconv.FormatInt(c.nextNonce(), 10))
		body := form.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+tapiPath, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Key", c.cfg.APIKey)
		req.Header.Set("Sign", Sign(body, c.cfg.APISecret))
		if exec.Attempts() > 1 {
			c.logger.Warn("indodax tapi retry", zap.String("method", method), zap.Int("attempt", exec.Attempts()))
		}
		return c.doBuffered(req)
	})
	if err != nil {
		return err
	}

	var env struct {
		Success int             `json:"success"`
		Return  json.RawMessage `json:"return"`
		Error   string          `json:"error"`
	}
	if err := decodeResponse(resp, &env); err != nil {
		return err
	}
	if env.Success != 1 {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Return, out); err != nil {
		return fmt.Errorf("decode %s return: %w", method, err)
	}
	return nil
}

// doBuffered 读完并关闭 body，重试丢弃的响应不会占用连接。
func (c *Client) doBuffered(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

func decodeResponse(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// SplitPair "btc_idr" -> ("btc", "idr")。
func SplitPair(pair string) (base, quote string, err error) {
	parts := strings.Split(strings.ToLower(pair), "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid pair %q, want base_quote", pair)
	}
	return parts[0], parts[1], nil
}

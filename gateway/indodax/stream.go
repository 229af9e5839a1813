package indodax

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"grid-trader-go/gateway"
)

const DefaultStreamURL = "wss://ws3.indodax.com/ws/"

// errSessionEnded 已收到过行情的连接断开；重连退避从头开始。
var errSessionEnded = errors.New("indodax ws session ended")

// StreamConfig websocket 行情配置。
type StreamConfig struct {
	URL   string
	Token string
	Pair  string
	// MaxAge 缓存价格的最长有效期，过期视为不可用
	MaxAge time.Duration
}

// Stream 订阅 chart:tick 频道，缓存最新成交价；断线按退避重连。
type Stream struct {
	cfg     StreamConfig
	channel string
	dialer  *websocket.Dialer
	logger  *zap.Logger

	mu      sync.RWMutex
	price   int64
	updated time.Time
	lastErr error

	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time
}

// NewStream 创建行情流，调用 Start 后开始连接。
func NewStream(cfg StreamConfig, logger *zap.Logger) (*Stream, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultStreamURL
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, quote, err := SplitPair(cfg.Pair)
	if err != nil {
		return nil, err
	}
	return &Stream{
		cfg:     cfg,
		channel: "chart:tick-" + base + quote,
		dialer:  websocket.DefaultDialer,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Start 后台运行连接循环。
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	reconnect := retrypolicy.NewBuilder[any]().
		WithBackoff(time.Second, 30*time.Second).
		WithMaxRetries(-1).
		HandleIf(func(_ any, err error) bool {
			return err != nil && !errors.Is(err, errSessionEnded)
		}).
		OnRetry(func(e failsafe.ExecutionEvent[any]) {
			s.logger.Warn("indodax ws reconnect", zap.Int("attempt", e.Attempts()), zap.Error(e.LastError()))
		}).
		Build()

	go func() {
		defer close(s.done)
		// 每次断线一个新的 execution，退避计数不跨越正常会话累积
		for {
			err := failsafe.With[any](reconnect).WithContext(ctx).Run(func() error {
				return s.runOnce(ctx)
			})
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, errSessionEnded) {
				s.logger.Warn("indodax ws disconnected", zap.Error(err))
				continue
			}
			if err != nil {
				s.logger.Error("indodax ws stopped", zap.Error(err))
			}
			return
		}
	}()
	return nil
}

// Stop 关闭连接并等待循环退出。
func (s *Stream) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Health 最近一次价格过期时返回错误。
func (s *Stream) Health() error {
	_, err := s.latest()
	return err
}

// FetchPrice 返回缓存的最新价格，pair 必须与订阅一致。
func (s *Stream) FetchPrice(_ context.Context, pair string) (int64, error) {
	if !strings.EqualFold(pair, s.cfg.Pair) {
		return 0, fmt.Errorf("%w: stream subscribed to %s, not %s", gateway.ErrPriceUnavailable, s.cfg.Pair, pair)
	}
	return s.latest()
}

func (s *Stream) latest() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.price <= 0 {
		if s.lastErr != nil {
			return 0, fmt.Errorf("%w: %w", gateway.ErrPriceUnavailable, s.lastErr)
		}
		return 0, fmt.Errorf("%w: no tick received", gateway.ErrPriceUnavailable)
	}
	if age := s.now().Sub(s.updated); age > s.cfg.MaxAge {
		return 0, fmt.Errorf("%w: last tick %s old", gateway.ErrPriceUnavailable, age.Truncate(time.Millisecond))
	}
	return s.price, nil
}

func (s *Stream) store(price int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = price
	s.updated = s.now()
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

// runOnce 一次连接的生命周期：认证、订阅、读消息直到出错或 ctx 结束。
func (s *Stream) runOnce(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		s.fail(err)
		return err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := conn.WriteJSON(map[string]interface{}{"params": map[string]string{"token": s.cfg.Token}, "id": 1}); err != nil {
		s.fail(err)
		return err
	}
	if err := conn.WriteJSON(map[string]interface{}{"method": 1, "params": map[string]string{"channel": s.channel}, "id": 2}); err != nil {
		s.fail(err)
		return err
	}
	s.logger.Info("indodax ws subscribed", zap.String("channel", s.channel))

	received := false
	for {
		_ = conn.SetReadDeadline(time.Now().Add(3 * s.cfg.MaxAge))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.fail(err)
			if received {
				return fmt.Errorf("%w: %w", errSessionEnded, err)
			}
			return err
		}
		price, ok, err := parseTickMessage(msg, s.channel)
		if err != nil {
			s.logger.Debug("indodax ws parse failed", zap.Error(err), zap.ByteString("msg", msg))
			continue
		}
		if ok {
			s.store(price)
			received = true
		}
	}
}

// parseTickMessage 解析 {"result":{"channel":..,"data":{"data":[[ts,price,vol,...],...]}}}，
// 取最后一笔的价格。非本频道消息返回 ok=false。
func parseTickMessage(msg []byte, channel string) (int64, bool, error) {
	var env struct {
		Result struct {
			Channel string `json:"channel"`
			Data    struct {
				Data [][]json.RawMessage `json:"data"`
			} `json:"data"`
		} `json:"result"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return 0, false, err
	}
	if env.Result.Channel != channel || len(env.Result.Data.Data) == 0 {
		return 0, false, nil
	}
	last := env.Result.Data.Data[len(env.Result.Data.Data)-1]
	if len(last) < 2 {
		return 0, false, fmt.Errorf("short tick entry: %d fields", len(last))
	}
	var price decimal.Decimal
	if err := json.Unmarshal(last[1], &price); err != nil {
		return 0, false, fmt.Errorf("parse tick price: %w", err)
	}
	if !price.IsPositive() {
		return 0, false, fmt.Errorf("non-positive tick price %s", price)
	}
	return price.IntPart(), true, nil
}

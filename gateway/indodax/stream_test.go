package indodax

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trader-go/gateway"
)

func TestParseTickMessage(t *testing.T) {
	msg := []byte(`{"result":{"channel":"chart:tick-btcidr","data":{"data":[[1632717721,925000000,14120,"0.0016"],[1632717722,"925050000",100,"0.001"]],"offset":1}}}`)
	price, ok, err := parseTickMessage(msg, "chart:tick-btcidr")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(925_050_000), price)

	_, ok, err = parseTickMessage(msg, "chart:tick-ethidr")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = parseTickMessage([]byte(`{"id":1,"result":{"client":"abc"}}`), "chart:tick-btcidr")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = parseTickMessage([]byte(`{"result":{"channel":"chart:tick-btcidr","data":{"data":[[1]]}}}`), "chart:tick-btcidr")
	assert.Error(t, err)
}

func TestStreamReceivesTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var auth, sub map[string]interface{}
		if conn.ReadJSON(&auth) != nil || conn.ReadJSON(&sub) != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"result":{"channel":"chart:tick-btcidr","data":{"data":[[1,926000000,1,"0.1"]]}}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s, err := NewStream(StreamConfig{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		Pair:   "btc_idr",
		MaxAge: time.Minute,
	}, nil)
	require.NoError(t, err)

	_, err = s.FetchPrice(context.Background(), "btc_idr")
	assert.ErrorIs(t, err, gateway.ErrPriceUnavailable)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		p, err := s.FetchPrice(context.Background(), "btc_idr")
		return err == nil && p == 926_000_000
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, s.Health())

	_, err = s.FetchPrice(context.Background(), "eth_idr")
	assert.ErrorIs(t, err, gateway.ErrPriceUnavailable)
}

func TestStreamStalePrice(t *testing.T) {
	s, err := NewStream(StreamConfig{Pair: "btc_idr", MaxAge: time.Second}, nil)
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.store(925_000_000)

	p, err := s.FetchPrice(context.Background(), "btc_idr")
	require.NoError(t, err)
	assert.Equal(t, int64(925_000_000), p)

	now = now.Add(2 * time.Second)
	_, err = s.FetchPrice(context.Background(), "btc_idr")
	assert.ErrorIs(t, err, gateway.ErrPriceUnavailable)
	assert.NoError(t, s.Stop())
}

// tickThenClose 每个连接认证订阅后发 ticks 条行情，然后断开。
func tickThenClose(ticks int, conns *atomic.Int32) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)
		var auth, sub map[string]interface{}
		if conn.ReadJSON(&auth) != nil || conn.ReadJSON(&sub) != nil {
			return
		}
		for i := 0; i < ticks; i++ {
			_ = conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"result":{"channel":"chart:tick-btcidr","data":{"data":[[1,926000000,1,"0.1"]]}}}`))
		}
	}))
}

func TestRunOnceMarksSessionEnded(t *testing.T) {
	var conns atomic.Int32
	srv := tickThenClose(1, &conns)
	defer srv.Close()
	s, err := NewStream(StreamConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Pair: "btc_idr"}, nil)
	require.NoError(t, err)

	err = s.runOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errSessionEnded)

	empty := tickThenClose(0, &conns)
	defer empty.Close()
	s.cfg.URL = "ws" + strings.TrimPrefix(empty.URL, "http")
	err = s.runOnce(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, errSessionEnded)
}

func TestStreamBackoffResetsAfterHealthySession(t *testing.T) {
	var conns atomic.Int32
	srv := tickThenClose(1, &conns)
	defer srv.Close()
	s, err := NewStream(StreamConfig{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		Pair:   "btc_idr",
		MaxAge: time.Minute,
	}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	// 累积退避下第 4 次连接至少要等 1s+2s+4s
	require.Eventually(t, func() bool { return conns.Load() >= 4 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, s.Stop())

	p, err := s.FetchPrice(context.Background(), "btc_idr")
	require.NoError(t, err)
	assert.Equal(t, int64(926_000_000), p)
}

package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ZapChannel 把告警写进结构化日志（event=alert）。
type ZapChannel struct {
	logger *zap.Logger
}

func NewZapChannel(logger *zap.Logger) *ZapChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapChannel{logger: logger}
}

func (c *ZapChannel) Send(alert Alert) error {
	fields := make([]zap.Field, 0, len(alert.Fields)+3)
	fields = append(fields,
		zap.String("event", "alert"),
		zap.String("level", string(alert.Level)),
		zap.Time("ts", alert.Timestamp))
	for k, v := range alert.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch alert.Level {
	case LevelError, LevelCritical:
		c.logger.Error(alert.Message, fields...)
	case LevelWarning:
		c.logger.Warn(alert.Message, fields...)
	default:
		c.logger.Info(alert.Message, fields...)
	}
	return nil
}

func (c *ZapChannel) Name() string { return "log" }

// WebhookChannel 以 JSON POST 告警（Slack/Discord 兼容的 text 字段）。
type WebhookChannel struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewWebhookChannel timeout <= 0 时为 3s。
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &WebhookChannel{url: url, client: &http.Client{}, timeout: timeout}
}

type webhookPayload struct {
	Text      string                 `json:"text"`
	Level     Level                  `json:"level"`
	Timestamp string                 `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (c *WebhookChannel) Send(alert Alert) error {
	body, err := json.Marshal(webhookPayload{
		Text:      fmt.Sprintf("[%s] %s", alert.Level, alert.Message),
		Level:     alert.Level,
		Timestamp: alert.Timestamp.UTC().Format(time.RFC3339),
		Fields:    alert.Fields,
	})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

func (c *WebhookChannel) Name() string { return "webhook" }

// Package webhook 把 ws 的认证与房间校验委托给外部 HTTP 服务
//
// 认证回调：POST AuthURL
//
//	请求 {"connId":"...","remoteAddr":"...","data":<authenticate 数据>}
//	响应 200 {"userId":"...","rooms":["..."],"metadata":{...}}
//
// 401/403 及其他 4xx 视为拒绝；网络错误与 5xx 按退避重试。
//
// 房间校验回调：POST RoomsURL
//
//	请求 {"connId":"...","userId":"...","rooms":["..."]}
//	响应 200 {"rooms":["..."]}（允许加入的房间）
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tokmz/qiws/pkg/errors"
	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/tracing"
	"github.com/tokmz/qiws/pkg/ws"
)

// 响应体上限
const maxBodySize = 1 << 20

// AuthRequest 认证回调请求
type AuthRequest struct {
	ConnID     string          `json:"connId"`
	RemoteAddr string          `json:"remoteAddr"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// AuthResponse 认证回调响应
type AuthResponse struct {
	UserID   string         `json:"userId"`
	Rooms    []string       `json:"rooms,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RoomsRequest 房间校验请求
type RoomsRequest struct {
	ConnID string   `json:"connId"`
	UserID string   `json:"userId"`
	Rooms  []string `json:"rooms"`
}

// RoomsResponse 房间校验响应
type RoomsResponse struct {
	Rooms []string `json:"rooms"`
}

// Client 回调客户端
type Client struct {
	cfg  *Config
	http *http.Client
	log  logger.Logger
}

// New 创建回调客户端
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig 使用配置创建回调客户端
func NewWithConfig(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Retry.normalize()

	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newTracingTransport(cfg.Transport),
		},
		log: log.Named("webhook"),
	}, nil
}

// Authenticate 返回 ws 认证回调
func (c *Client) Authenticate() ws.AuthenticateFunc {
	return func(ctx context.Context, conn *ws.Connection, data json.RawMessage) (*ws.AuthResult, error) {
		resp, err := post[AuthResponse](ctx, c, c.cfg.AuthURL, AuthRequest{
			ConnID:     conn.ID(),
			RemoteAddr: conn.RemoteAddr(),
			Data:       data,
		})
		if err != nil {
			return nil, err
		}
		if resp.UserID == "" {
			return nil, ErrBadResponse.WithMessage("webhook: response has no userId")
		}
		return &ws.AuthResult{
			UserID:   resp.UserID,
			Rooms:    resp.Rooms,
			Metadata: resp.Metadata,
		}, nil
	}
}

// ValidateRoom 返回房间校验回调，未配置 RoomsURL 时返回 nil
func (c *Client) ValidateRoom() ws.ValidateRoomFunc {
	if c.cfg.RoomsURL == "" {
		return nil
	}
	return func(ctx context.Context, conn *ws.Connection, rooms []string) ([]string, error) {
		resp, err := post[RoomsResponse](ctx, c, c.cfg.RoomsURL, RoomsRequest{
			ConnID: conn.ID(),
			UserID: conn.UserID(),
			Rooms:  rooms,
		})
		if err != nil {
			return nil, err
		}
		return resp.Rooms, nil
	}
}

// post 发送 JSON 请求并按退避重试
func post[T any](ctx context.Context, c *Client, url string, body any) (*T, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, ErrBadResponse.WithError(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.Retry.InitialDelay
	b.MaxInterval = c.cfg.Retry.MaxDelay

	attempt := 0
	out, err := backoff.Retry(ctx, func() (*T, error) {
		attempt++
		out, err := doOnce[T](ctx, c, url, payload)
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			c.log.Debug("webhook attempt failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return out, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.cfg.Retry.MaxAttempts))
	if err != nil {
		c.log.WarnContext(ctx, "webhook failed",
			zap.String("url", url),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		return nil, err
	}
	return out, nil
}

func doOnce[T any](ctx context.Context, c *Client, url string, payload []byte) (*T, error) {
	ctx, span := tracing.StartSpan(ctx, "webhook.post", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	tracing.SetAttributes(span, map[string]any{"http.url": url})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		tracing.RecordError(span, err)
		return nil, ErrInvalidConfig.WithError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, ErrUnavailable.WithError(err)
	}
	defer resp.Body.Close()

	tracing.SetAttributes(span, map[string]any{"http.status_code": resp.StatusCode})
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		tracing.RecordError(span, err)
		return nil, ErrUnavailable.WithError(err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		err = ErrUnavailable.WithError(fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		err = ErrRejected.WithError(fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		err = ErrBadResponse.WithError(fmt.Errorf("status %d", resp.StatusCode))
	}
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		tracing.RecordError(span, err)
		return nil, ErrBadResponse.WithError(err)
	}
	return &out, nil
}

// tracingTransport 在 RoundTripper 层注入 W3C 追踪头
type tracingTransport struct {
	base http.RoundTripper
}

func newTracingTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &tracingTransport{base: base}
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))
	return t.base.RoundTrip(req)
}

package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket subscribes to a price stream that sends one JSON Tick per text
// frame. It reconnects with capped backoff until ctx is done.
type WebSocket struct {
	URL        string
	Header     http.Header
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
	MaxBackoff time.Duration
}

func NewWebSocket(url string, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		URL:        url,
		Dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		Logger:     logger,
		MaxBackoff: 30 * time.Second,
	}
}

func (w *WebSocket) Run(ctx context.Context, h Handler) error {
	backoff := 500 * time.Millisecond
	for {
		received, err := w.session(ctx, h)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received > 0 {
			backoff = 500 * time.Millisecond
		}
		w.Logger.Warn("price_feed_disconnected", "url", w.URL, "ticks", received, "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > w.MaxBackoff {
			backoff = w.MaxBackoff
		}
	}
}

// session reads ticks from one connection until it fails.
func (w *WebSocket) session(ctx context.Context, h Handler) (int, error) {
	conn, _, err := w.Dialer.DialContext(ctx, w.URL, w.Header)
	if err != nil {
		return 0, fmt.Errorf("dial price feed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	w.Logger.Info("price_feed_connected", "url", w.URL)
	received := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return received, err
		}
		var t Tick
		if err := json.Unmarshal(data, &t); err != nil {
			w.Logger.Warn("price_feed_bad_frame", "error", err)
			continue
		}
		if err := t.Validate(); err != nil {
			w.Logger.Warn("price_feed_bad_tick", "error", err)
			continue
		}
		if t.At.IsZero() {
			t.At = time.Now()
		}
		received++
		if err := h(ctx, t); err != nil {
			w.Logger.Error("price_feed_handler_failed", "asset", t.Asset, "error", err)
		}
	}
}

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/messenger/internal/logger"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Event is a change notification pushed by the server.
type Event struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId,omitempty"`
}

// TokenSource supplies the bearer token for the handshake.
type TokenSource interface {
	Token() string
}

// Subscriber listens to the change events of one conversation over a
// websocket and refreshes on every message event.
type Subscriber struct {
	baseURL      string
	tokens       TokenSource
	refresh      RefreshFunc
	dialer       *websocket.Dialer
	pingInterval time.Duration
}

// NewSubscriber creates a subscriber for the websocket root baseURL, for
// example ws://localhost:3000/api.
func NewSubscriber(baseURL string, tokens TokenSource, refresh RefreshFunc) *Subscriber {
	return &Subscriber{
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokens:       tokens,
		refresh:      refresh,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pingInterval: pingInterval,
	}
}

// WebsocketURL derives the websocket root from the REST base URL by swapping
// http for ws and https for wss.
func WebsocketURL(apiBase string) (string, error) {
	u, err := url.Parse(strings.TrimRight(apiBase, "/"))
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// Run connects and processes events until ctx is done (nil) or the
// connection fails (the error). It never reconnects.
func (s *Subscriber) Run(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}

	header := http.Header{}
	if s.tokens != nil {
		if token := s.tokens.Token(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	endpoint := s.baseURL + "/ws/" + url.PathEscape(conversationID)
	conn, resp, err := s.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	logger.Log.Info("realtime_connected", zap.String("conversation", conversationID))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
	})
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go s.pingLoop(runCtx, conn)
	go func() {
		<-runCtx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Log.Debug("realtime_frame_skipped", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}

		if !strings.HasPrefix(ev.Type, "message.") {
			continue
		}
		if ev.ConversationID != "" && ev.ConversationID != conversationID {
			continue
		}
		logger.Log.Debug("realtime_event", zap.String("type", ev.Type), zap.String("message", ev.MessageID))
		if err := s.refresh(ctx); err != nil && ctx.Err() == nil {
			logger.Log.Warn("realtime_refresh_failed", zap.Error(err))
		}
	}
}

// pingLoop 定期发送ping消息
func (s *Subscriber) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/messenger/internal/logger"
	"github.com/zhouzirui/z-tavern/messenger/internal/middleware"
	chatService "github.com/zhouzirui/z-tavern/messenger/internal/service/chat"
	"github.com/zhouzirui/z-tavern/messenger/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Handler 推送会话变更事件，支持 WebSocket 与 SSE 两种通道
type Handler struct {
	chatSvc  *chatService.Service
	upgrader websocket.Upgrader
}

// New 创建实时推送处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册推送路由，调用方负责挂载鉴权中间件
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{conversationID}", h.handleWebSocket)
	r.Get("/stream/{conversationID}", h.handleStream)
}

// handleWebSocket 将会话事件逐条以 JSON 写给客户端
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("websocket_upgrade_failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancelSub := h.chatSvc.Hub().Subscribe(conversationID)
	defer cancelSub()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	logger.Log.Info("websocket_opened", zap.String("conversation", conversationID))
	defer logger.Log.Info("websocket_closed", zap.String("conversation", conversationID))

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	// the read loop only drains control frames and notices the close
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Log.Debug("websocket_read_failed", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Log.Debug("websocket_write_failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleStream 以 Server-Sent Events 推送同样的事件
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	conversationID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancelSub := h.chatSvc.Hub().Subscribe(conversationID)
	defer cancelSub()

	utils.SetupSSEHeaders(w)
	if err := utils.SendSSEEvent(w, flusher, "status", map[string]string{"conversationId": conversationID}); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, ev.Type, ev); err != nil {
				return
			}
		case t := <-ticker.C:
			if err := utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{"time": t.UTC().Format(time.RFC3339)}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversation id is required")
		return "", false
	}
	if !h.chatSvc.Member(conversationID, middleware.UserIDFromContext(r.Context())) {
		utils.RespondError(w, http.StatusForbidden, chatService.ErrNotMember.Error())
		return "", false
	}
	return conversationID, true
}

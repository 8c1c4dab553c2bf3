package chat

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/messenger/internal/logger"
	"github.com/zhouzirui/z-tavern/messenger/internal/middleware"
	"github.com/zhouzirui/z-tavern/messenger/internal/model/chat"
	chatService "github.com/zhouzirui/z-tavern/messenger/internal/service/chat"
	"github.com/zhouzirui/z-tavern/messenger/pkg/utils"
)

// Directory resolves user profiles for the chat users listing.
type Directory interface {
	User(id string) (chat.User, bool)
}

// Handler 消息与会话列表的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	users   Directory
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, users Directory) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		users:   users,
	}
}

// RegisterRoutes 注册消息相关的路由，调用方负责挂载鉴权中间件
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversation/chatusers", h.handleChatUsers)

	r.Post("/message", h.handleSendMessage)
	r.Post("/message/", h.handleSendMessage)
	r.Get("/message/{id}", h.handleListMessages)
	r.Put("/message/edit/{id}", h.handleEditMessage)
	r.Delete("/message/{id}", h.handleDeleteMessage)
	r.Delete("/message/delete/{id}", h.handleDeleteMessage)
}

// handleChatUsers 返回当前用户参与的会话及对方信息
func (h *Handler) handleChatUsers(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	memberships := h.chatSvc.Conversations(r.Context(), userID)
	out := chat.ChatUsers{UniqueUsers: make([]chat.ChatUser, 0, len(memberships))}
	for _, m := range memberships {
		participant := chat.Participant{Receiver: chat.ID(m.Counterpart)}
		if u, ok := h.users.User(m.Counterpart); ok {
			participant.FullName = u.FullName
			participant.Phone = u.Phone
		}
		out.UniqueUsers = append(out.UniqueUsers, chat.ChatUser{
			ConversationID: m.ConversationID,
			Participant:    participant,
		})
	}

	utils.RespondJSON(w, http.StatusOK, out)
}

// handleListMessages 返回会话中的全部消息
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	messages, err := h.chatSvc.ListMessages(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

// handleSendMessage 创建消息
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload chat.SendRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	if _, ok := h.users.User(payload.Receiver); !ok && payload.Receiver != "" {
		utils.RespondError(w, http.StatusNotFound, "receiver not found")
		return
	}

	msg, err := h.chatSvc.SendMessage(r.Context(), userID, payload)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, msg)
}

// handleEditMessage 修改消息内容，只允许发送者操作
func (h *Handler) handleEditMessage(w http.ResponseWriter, r *http.Request) {
	var payload chat.EditRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, ok := actingUser(w, r, payload.UserID)
	if !ok {
		return
	}

	msg, err := h.chatSvc.EditMessage(r.Context(), chi.URLParam(r, "id"), userID, payload.Text)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, msg)
}

// handleDeleteMessage 删除消息，只允许发送者操作
func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	var payload chat.DeleteRequest
	if r.ContentLength != 0 {
		if err := utils.DecodeJSON(r, &payload); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	userID, ok := actingUser(w, r, payload.UserID)
	if !ok {
		return
	}

	if err := h.chatSvc.DeleteMessage(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondMessage(w, http.StatusOK, "message deleted")
}

// actingUser 校验请求体中的 userId 与令牌身份一致
func actingUser(w http.ResponseWriter, r *http.Request, claimed string) (string, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	claimed = strings.TrimSpace(claimed)
	if claimed != "" && claimed != userID {
		utils.RespondError(w, http.StatusForbidden, "userId does not match token")
		return "", false
	}
	return userID, true
}

func respondServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chatService.ErrTextRequired),
		errors.Is(err, chatService.ErrReceiverRequired),
		errors.Is(err, chatService.ErrConversationRequired):
		status = http.StatusBadRequest
	case errors.Is(err, chatService.ErrConversationNotFound),
		errors.Is(err, chatService.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chatService.ErrForbidden),
		errors.Is(err, chatService.ErrNotMember):
		status = http.StatusForbidden
	default:
		logger.Log.Error("chat_request_failed", zap.Error(err))
	}
	utils.RespondError(w, status, err.Error())
}

package auth

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/messenger/internal/logger"
	"github.com/zhouzirui/z-tavern/messenger/internal/middleware"
	"github.com/zhouzirui/z-tavern/messenger/internal/service/account"
	"github.com/zhouzirui/z-tavern/messenger/pkg/utils"
)

// Handler 账号注册、登录与验证码流程的HTTP处理器
type Handler struct {
	accounts *account.Service
}

// New 创建认证处理器
func New(accounts *account.Service) *Handler {
	return &Handler{accounts: accounts}
}

type registerPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
}

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailPayload struct {
	Email string `json:"email"`
}

type otpPayload struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// RegisterRoutes 注册公开的认证路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/register", h.handleRegister)
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/forgot-password", h.handleForgotPassword)
	r.Post("/auth/verify-forgot-otp", h.handleVerifyForgotOTP)
	r.Post("/auth/reset-password", h.handleResetPassword)
	r.Post("/auth/resend-otp", h.handleResendOTP)
	r.Post("/auth/send-verification", h.handleSendVerification)
	r.Post("/auth/verify-email-otp", h.handleVerifyEmail)
}

// RegisterProtectedRoutes 注册需要令牌的认证路由
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/auth/me", h.handleMe)
	r.Post("/auth/logout", h.handleLogout)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload registerPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.accounts.Register(r.Context(), payload.Email, payload.Password, payload.FullName, payload.Phone)
	if err != nil {
		respondAccountError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"message": "registration successful, check your email for the verification code",
		"user":    user,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload credentialsPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tokens, err := h.accounts.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		respondAccountError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	utils.RespondJSON(w, http.StatusOK, user)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.accounts.Logout(middleware.TokenFromContext(r.Context()))
	utils.RespondMessage(w, http.StatusOK, "logged out")
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var payload emailPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.accounts.ForgotPassword(r.Context(), payload.Email); err != nil {
		respondAccountError(w, err)
		return
	}
	utils.RespondMessage(w, http.StatusOK, "reset code sent")
}

func (h *Handler) handleVerifyForgotOTP(w http.ResponseWriter, r *http.Request) {
	var payload otpPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.accounts.VerifyForgotOTP(r.Context(), payload.Email, payload.OTP); err != nil {
		respondAccountError(w, err)
		return
	}
	utils.RespondMessage(w, http.StatusOK, "code verified")
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var payload credentialsPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.accounts.ResetPassword(r.Context(), payload.Email, payload.Password); err != nil {
		respondAccountError(w, err)
		return
	}
	utils.RespondMessage(w, http.StatusOK, "password updated")
}

func (h *Handler) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	var payload emailPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.accounts.ResendOTP(r.Context(), payload.Email); err != nil {
		respondAccountError(w, err)
		return
	}
	utils.RespondMessage(w, http.StatusOK, "code sent")
}

func (h *Handler) handleSendVerification(w http.ResponseWriter, r *http.Request) {
	var payload emailPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.accounts.SendVerification(r.Context(), payload.Email); err != nil {
		respondAccountError(w, err)
		return
	}
	utils.RespondMessage(w, http.StatusOK, "verification code sent")
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var payload otpPayload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := h.accounts.VerifyEmail(r.Context(), payload.Email, payload.OTP)
	if err != nil {
		respondAccountError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"message": "email verified",
		"user":    user,
	})
}

func respondAccountError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, account.ErrEmailRequired),
		errors.Is(err, account.ErrPasswordRequired),
		errors.Is(err, account.ErrInvalidOTP):
		status = http.StatusBadRequest
	case errors.Is(err, account.ErrInvalidCredentials),
		errors.Is(err, account.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, account.ErrNotVerified),
		errors.Is(err, account.ErrResetNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, account.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, account.ErrEmailTaken):
		status = http.StatusConflict
	default:
		logger.Log.Error("auth_request_failed", zap.Error(err))
	}
	utils.RespondError(w, status, err.Error())
}

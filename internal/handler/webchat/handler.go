package webchat

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sppetrol/webchat/internal/logging"
	"github.com/sppetrol/webchat/internal/model/chat"
	chatService "github.com/sppetrol/webchat/internal/service/chat"
	"github.com/sppetrol/webchat/pkg/utils"
)

// Responder produces operator replies for auto-answer mode.
type Responder interface {
	Reply(ctx context.Context, question string) string
}

// Options 处理器配置
type Options struct {
	// APIKey guards /receive-answer when non-empty.
	APIKey string
	// Responder, when set, answers every visitor message as the operator.
	Responder    Responder
	ReplyTimeout time.Duration
}

// Handler 网页聊天的HTTP与WebSocket处理器
type Handler struct {
	chatSvc  *chatService.Service
	opts     Options
	upgrader websocket.Upgrader
}

// New 创建网页聊天处理器
func New(chatSvc *chatService.Service, opts Options) *Handler {
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 30 * time.Second
	}
	return &Handler{
		chatSvc: chatSvc,
		opts:    opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册 /api 下的聊天路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/send-question", h.handleSendQuestion)
	r.Post("/receive-answer", h.handleReceiveAnswer)
	r.Post("/webchat/session/", h.handleCreateSession)
	r.Post("/webchat/{sessionID}/send/", h.handleSessionSend)
	r.Get("/webchat/{sessionID}/poll/", h.handlePoll)
}

// RegisterWebSocketRoutes 注册推送通道路由
func (h *Handler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/webchat/{sessionID}/", h.handleWebSocket)
}

// handleSendQuestion 接收访客消息，必要时创建会话
func (h *Handler) handleSendQuestion(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content   string `json:"content"`
		UserID    string `json:"user_id"`
		SessionID string `json:"session_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(payload.Content) == "" {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	session, err := h.chatSvc.ResolveSession(r.Context(), payload.SessionID, payload.UserID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	msg, err := h.chatSvc.SaveMessage(r.Context(), session.ID, chat.RoleUser, payload.Content)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str(logging.FieldSessionID, session.ID).
		Str(logging.FieldVisitorID, session.UserID).
		Msg("visitor question received")

	h.scheduleAutoReply(r.Context(), session.ID, msg.Content)

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"session_id": session.ID,
		"status":     "sent",
	})
}

// handleCreateSession 显式创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"user_id"`
	}
	// body is optional
	_ = json.NewDecoder(r.Body).Decode(&payload)

	session, err := h.chatSvc.CreateSession(r.Context(), payload.UserID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	messages, err := h.chatSvc.LoadSince(r.Context(), session.ID, "")
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"id":         session.ID,
		"messages":   messages,
		"created_at": session.CreatedAt,
	})
}

// handleSessionSend 向已有会话追加访客消息
func (h *Handler) handleSessionSend(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.chatSvc.SaveMessage(r.Context(), sessionID, chat.RoleUser, payload.Content)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.scheduleAutoReply(r.Context(), sessionID, msg.Content)
	utils.RespondJSON(w, http.StatusOK, msg)
}

// handlePoll 返回 since 之后的消息
func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	since := r.URL.Query().Get("since")

	messages, err := h.chatSvc.LoadSince(r.Context(), sessionID, since)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, messages)
}

// handleReceiveAnswer 接收运营人员回复并推送给访客
func (h *Handler) handleReceiveAnswer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		APIKey    string `json:"api_key"`
		SessionID string `json:"session_id"`
		Content   string `json:"content"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if h.opts.APIKey != "" && subtle.ConstantTimeCompare([]byte(payload.APIKey), []byte(h.opts.APIKey)) != 1 {
		utils.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if payload.SessionID == "" || strings.TrimSpace(payload.Content) == "" {
		utils.RespondError(w, http.StatusBadRequest, "session_id and content are required")
		return
	}

	if _, err := h.chatSvc.SaveMessage(r.Context(), payload.SessionID, chat.RoleAdmin, payload.Content); err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// scheduleAutoReply answers in the background so the visitor's send returns
// immediately, like a human operator replying later.
func (h *Handler) scheduleAutoReply(ctx context.Context, sessionID, question string) {
	if h.opts.Responder == nil {
		return
	}

	logger := logging.Ctx(ctx).With().Str(logging.FieldSessionID, sessionID).Logger()
	go func() {
		replyCtx, cancel := context.WithTimeout(logging.WithLogger(context.Background(), logger), h.opts.ReplyTimeout)
		defer cancel()

		answer := h.opts.Responder.Reply(replyCtx, question)
		if _, err := h.chatSvc.SaveMessage(replyCtx, sessionID, chat.RoleAdmin, answer); err != nil {
			logger.Warn().Err(err).Msg("auto reply not saved")
			return
		}
		logger.Debug().Msg("auto reply sent")
	}()
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, chatService.ErrEmptyContent),
		errors.Is(err, chatService.ErrInvalidRole),
		errors.Is(err, chatService.ErrInvalidSince):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}

package chat

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voice-twin/backend/internal/model/chat"
	"github.com/zhouzirui/voice-twin/backend/pkg/utils"
)

// SessionReader exposes session snapshots without creating sessions.
type SessionReader interface {
	Peek(id string) (chat.Session, bool)
}

// Handler 会话查询的HTTP处理器
type Handler struct {
	sessions SessionReader
}

// New 创建会话处理器
func New(sessions SessionReader) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}", h.handleGetSession)
}

type sessionView struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	Profile     chat.Profile `json:"profile"`
	History     []chat.Turn  `json:"history"`
	Turns       int          `json:"turns"`
}

// handleGetSession 返回会话快照
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	session, ok := h.sessions.Peek(id)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, sessionView{
		ID:          session.ID,
		DisplayName: session.Profile.DisplayName(),
		Profile:     session.Profile,
		History:     session.History,
		Turns:       len(session.History),
	})
}

// Package voice serves the voice conversation endpoints.
package voice

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/voice-twin/backend/internal/service/conversation"
	"github.com/zhouzirui/voice-twin/backend/pkg/utils"
)

const maxUploadBytes = 32 << 20 // 32MB

// Response headers describing the pipeline outcome.
const (
	HeaderOutcome = "X-Pipeline-Outcome"
	HeaderStage   = "X-Pipeline-Stage"
)

// Pipeline runs one voice turn.
type Pipeline interface {
	Handle(ctx context.Context, req conversation.Request) (*conversation.Result, error)
	Release(res *conversation.Result)
}

// SessionClearer drops a conversation.
type SessionClearer interface {
	Clear(id string)
}

// Handler 语音对话的HTTP处理器
type Handler struct {
	pipeline Pipeline
	sessions SessionClearer
	logger   *zap.Logger
}

// New 创建语音对话处理器
func New(pipeline Pipeline, sessions SessionClearer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pipeline: pipeline,
		sessions: sessions,
		logger:   logger.With(zap.String("component", "voice-handler")),
	}
}

// RegisterRoutes 注册语音对话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat-voice", h.handleChatVoice)
	r.Post("/reset", h.handleReset)
}

// handleChatVoice answers every accepted upload with audio; only malformed
// requests get JSON errors.
func (h *Handler) handleChatVoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	res, err := h.pipeline.Handle(r.Context(), conversation.Request{
		SessionID:   sessionID,
		Audio:       file,
		ContentType: header.Header.Get("Content-Type"),
		UserName:    strings.TrimSpace(r.FormValue("user_name")),
		UserEmail:   strings.TrimSpace(r.FormValue("user_email")),
	})
	if err != nil {
		h.logger.Error("voice turn produced no audio", zap.String("session_id", sessionID), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "voice service unavailable")
		return
	}
	defer h.pipeline.Release(res)

	h.serveAudio(w, r, res)
}

func (h *Handler) serveAudio(w http.ResponseWriter, r *http.Request, res *conversation.Result) {
	extra := http.Header{}
	extra.Set(HeaderOutcome, string(res.Outcome))
	if res.Stage != conversation.StageNone {
		extra.Set(HeaderStage, string(res.Stage))
	}

	if err := utils.RespondAudio(w, r, res.AudioPath, res.Filename, extra); err != nil {
		h.logger.Error("response audio missing", zap.String("path", res.AudioPath), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "voice service unavailable")
	}
}

// handleReset 清空会话，未知会话同样返回成功
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	h.sessions.Clear(sessionID)
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

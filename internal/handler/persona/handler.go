package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/voice-twin/backend/internal/model/persona"
	"github.com/zhouzirui/voice-twin/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	doc persona.Document
}

// New 创建persona处理器
func New(doc persona.Document) *Handler {
	return &Handler{doc: doc}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/persona", h.handleGetPersona)
}

// handleGetPersona 返回人设摘要及其来源，原文只报告长度
func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"summary":       h.doc.Summary,
		"source":        h.doc.Source,
		"documentBytes": len(h.doc.RawText),
	})
}

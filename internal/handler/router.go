package handler

import (
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/voice-twin/backend/internal/handler/chat"
	"github.com/zhouzirui/voice-twin/backend/internal/handler/persona"
	"github.com/zhouzirui/voice-twin/backend/internal/handler/voice"
	"github.com/zhouzirui/voice-twin/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/voice-twin/backend/internal/middleware"
	personaModel "github.com/zhouzirui/voice-twin/backend/internal/model/persona"
	"github.com/zhouzirui/voice-twin/backend/pkg/utils"
)

// Sessions is the session store as seen by the HTTP layer.
type Sessions interface {
	chat.SessionReader
	voice.SessionClearer
}

// Deps 路由依赖的服务
type Deps struct {
	Pipeline       voice.Pipeline
	Sessions       Sessions
	Persona        personaModel.Document
	Metrics        *metrics.Collector
	FrontendDir    string
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		voice.New(deps.Pipeline, deps.Sessions, deps.Logger).RegisterRoutes(api)
		chat.New(deps.Sessions).RegisterRoutes(api)
		persona.New(deps.Persona).RegisterRoutes(api)
	})

	// 前端页面与静态资源
	index := filepath.Join(deps.FrontendDir, "index.html")
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, index)
	})
	static := http.StripPrefix("/static/", http.FileServer(http.Dir(deps.FrontendDir)))
	r.Handle("/static/*", static)

	return r
}

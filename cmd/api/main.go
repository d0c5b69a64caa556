package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/zhouzirui/voice-twin/backend/internal/config"
	"github.com/zhouzirui/voice-twin/backend/internal/handler"
	"github.com/zhouzirui/voice-twin/backend/internal/metrics"
	"github.com/zhouzirui/voice-twin/backend/internal/service/ai"
	"github.com/zhouzirui/voice-twin/backend/internal/service/chat"
	"github.com/zhouzirui/voice-twin/backend/internal/service/conversation"
	"github.com/zhouzirui/voice-twin/backend/internal/service/persona"
	"github.com/zhouzirui/voice-twin/backend/internal/service/speech"
	"github.com/zhouzirui/voice-twin/backend/internal/service/tempfile"
	"github.com/zhouzirui/voice-twin/backend/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "json").Fatal("failed to load configuration", zap.Error(err))
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if envErr != nil {
		log.Info("no .env file loaded, continuing with system environment variables only", zap.Error(envErr))
	}

	reasoner := newReasoner(ctx, cfg, log)

	// 人设在启动时一次性构建，之后只读
	cache, closeCache := newSummaryCache(cfg, log)
	defer closeCache()
	loader := &persona.Loader{
		DocumentPath: cfg.Persona.DocumentPath,
		Cache:        cache,
		Reasoner:     reasoner,
		Timeout:      cfg.AI.CallTimeout,
		Logger:       log,
	}
	doc := loader.Load(ctx)
	log.Info("persona ready", zap.String("source", string(doc.Source)), zap.Int("document_bytes", len(doc.RawText)))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(registry)

	sessions := chat.NewService(chat.Options{
		MaxEntries: cfg.Session.MaxEntries,
		IdleTTL:    cfg.Session.IdleTTL,
		OnEvict: func(id string) {
			collector.SessionEvicted()
			log.Debug("session evicted", zap.String("session_id", id))
		},
	})
	collector.TrackSessions(sessions.Len)

	recognizer, closeRecognizer := newRecognizer(ctx, cfg, log)
	defer closeRecognizer()

	var synthesizer speech.Synthesizer
	if cfg.Speech.Enabled {
		synthesizer = speech.NewVolcengineTTSClient(cfg.Speech.Volcengine(), log)
	} else {
		log.Warn("语音服务凭证未配置，所有回复将以错误结束")
	}

	// 清理协程比 HTTP 服务活得久，关停期间完成的请求也能删掉输出文件
	files := tempfile.New(cfg.Pipeline.TempDir, "voice-twin-", log)
	cleanerCtx, stopCleaner := context.WithCancel(context.Background())
	cleanerDone := make(chan struct{})
	go func() {
		defer close(cleanerDone)
		files.Run(cleanerCtx)
	}()
	defer func() {
		stopCleaner()
		<-cleanerDone
	}()

	pipeline := conversation.New(conversation.Options{
		Persona:  doc,
		Sessions: sessions,
		Transcriber: &speech.Transcriber{
			Recognizer: recognizer,
			Transcoder: speech.FFmpegTranscoder{Path: cfg.Speech.FFmpegPath},
			Timeout:    cfg.Speech.CallTimeout,
			Logger:     log,
		},
		Reasoner:         reasoner,
		Synthesizer:      synthesizer,
		Files:            files,
		Metrics:          collector,
		Logger:           log,
		Voice:            cfg.Speech.TTSVoice,
		ReasoningTimeout: cfg.AI.CallTimeout,
		SynthesisTimeout: cfg.Speech.CallTimeout,
		MaxConcurrent:    cfg.Pipeline.MaxConcurrent,
	})

	router := handler.NewRouter(handler.Deps{
		Pipeline:       pipeline,
		Sessions:       sessions,
		Persona:        doc,
		Metrics:        collector,
		FrontendDir:    cfg.Server.FrontendDir,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})

	startServer(ctx, cfg.Server, router, log)
}

// newReasoner returns nil when the selected provider has no credentials.
func newReasoner(ctx context.Context, cfg *config.Config, log *zap.Logger) ai.Reasoner {
	if !cfg.AI.Enabled() {
		log.Warn("reasoning provider not configured, persona and replies will use fixed fallbacks",
			zap.String("provider", cfg.AI.Provider))
		return nil
	}

	var (
		reasoner ai.Reasoner
		err      error
	)
	switch cfg.AI.Provider {
	case config.ProviderArk:
		reasoner, err = ai.NewArkReasoner(ctx, cfg.AI)
	default:
		reasoner, err = ai.NewGeminiReasoner(ctx, ai.GeminiConfig{
			APIKey: cfg.AI.GoogleAPIKey,
			Model:  cfg.AI.GeminiModel,
		})
	}
	if err != nil {
		log.Error("failed to initialize reasoning provider", zap.String("provider", cfg.AI.Provider), zap.Error(err))
		return nil
	}

	log.Info("reasoning provider initialized", zap.String("provider", cfg.AI.Provider))
	return reasoner
}

func newRecognizer(ctx context.Context, cfg *config.Config, log *zap.Logger) (speech.Recognizer, func()) {
	noop := func() {}

	if cfg.Speech.ASRProvider == config.ProviderVolcengine {
		if !cfg.Speech.Enabled {
			log.Warn("volcengine ASR selected without credentials, every transcript will be a system error")
			return nil, noop
		}
		return speech.NewVolcengineASRClient(cfg.Speech.Volcengine(), log), noop
	}

	recognizer, err := speech.NewGoogleRecognizer(ctx, cfg.Speech.GoogleCredentialsFile, cfg.Speech.ASRLanguage)
	if err != nil {
		log.Error("failed to initialize google speech client", zap.Error(err))
		return nil, noop
	}
	return recognizer, func() {
		if err := recognizer.Close(); err != nil {
			log.Warn("closing google speech client", zap.Error(err))
		}
	}
}

func newSummaryCache(cfg *config.Config, log *zap.Logger) (persona.SummaryCache, func()) {
	if cfg.Persona.RedisURL == "" {
		return persona.FileCache{Path: cfg.Persona.CachePath}, func() {}
	}

	cache, err := persona.NewRedisCache(cfg.Persona.RedisURL, cfg.Persona.RedisCacheKey)
	if err != nil {
		log.Error("invalid redis url, using file cache", zap.Error(err))
		return persona.FileCache{Path: cfg.Persona.CachePath}, func() {}
	}
	return cache, func() { _ = cache.Close() }
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("voice twin backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

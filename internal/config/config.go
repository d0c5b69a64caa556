package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	speechmodel "github.com/zhouzirui/voice-twin/backend/internal/model/speech"
)

// Provider names accepted by AI_PROVIDER and SPEECH_ASR_PROVIDER.
const (
	ProviderGemini     = "gemini"
	ProviderArk        = "ark"
	ProviderGoogle     = "google"
	ProviderVolcengine = "volcengine"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	AI       AIConfig
	Speech   SpeechConfig
	Persona  PersonaConfig
	Session  SessionConfig
	Pipeline PipelineConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	pipeline, err := loadPipelineConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Log:      loadLogConfig(),
		AI:       ai,
		Speech:   speech,
		Persona:  loadPersonaConfig(),
		Session:  session,
		Pipeline: pipeline,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	FrontendDir    string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	cfg := ServerConfig{
		FrontendDir:    getEnvOrDefault("FRONTEND_DIR", "frontend"),
		AllowedOrigins: parseListEnv("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		cfg.Addr = port
		return cfg, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	cfg.Addr = ":" + port
	return cfg, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: getEnvOrDefault("LOG_FORMAT", "json"),
	}
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string

	// Gemini
	GoogleAPIKey string
	GeminiModel  string

	// Ark
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	CallTimeout time.Duration
}

// Enabled 表示当前选择的提供方是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.arkEnabled()
	default:
		return c.GoogleAPIKey != ""
	}
}

func (c AIConfig) arkEnabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.arkEnabled() {
		return nil, fmt.Errorf("ark credentials or model missing: provide ARK_API_KEY + Model or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderGemini))
	if provider != ProviderGemini && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("AI_CALL_TIMEOUT", 45*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Provider:     provider,
		GoogleAPIKey: strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
		GeminiModel:  getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:        strings.TrimSpace(os.Getenv("Model")),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		CallTimeout:  timeout,
	}, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	ASRProvider string

	// Google Cloud Speech
	GoogleCredentialsFile string

	// Volcengine
	AppID          string
	AccessToken    string
	APIKey         string
	BaseURL        string
	ConcurrentMode bool

	ASRModel    string
	ASRLanguage string
	TTSVoice    string
	TTSSpeed    float32
	TTSVolume   float32
	TTSLanguage string

	FFmpegPath  string
	CallTimeout time.Duration
	Enabled     bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("SPEECH_ASR_PROVIDER", ProviderGoogle))
	if provider != ProviderGoogle && provider != ProviderVolcengine {
		return SpeechConfig{}, fmt.Errorf("invalid SPEECH_ASR_PROVIDER value %q", provider)
	}

	timeout, err := parseDurationEnv("SPEECH_CALL_TIMEOUT", 30*time.Second)
	if err != nil {
		return SpeechConfig{}, err
	}

	// 解析TTS速度和音量
	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	concurrent, err := parseBoolEnv("SPEECH_ASR_CONCURRENT", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if accessToken == "" {
		accessToken = apiKey
	}

	// 如果没有专门的语音凭证，尝试使用AI配置
	if accessToken == "" {
		accessToken = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		apiKey = accessToken
	}

	// TTS 始终走火山引擎，因此凭证是语音链路的前提。
	enabled := appID != "" && accessToken != ""

	return SpeechConfig{
		ASRProvider:           provider,
		GoogleCredentialsFile: strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
		AppID:                 appID,
		AccessToken:           accessToken,
		APIKey:                apiKey,
		BaseURL:               getEnvOrDefault("SPEECH_BASE_URL", ""),
		ConcurrentMode:        concurrent,
		ASRModel:              getEnvOrDefault("SPEECH_ASR_MODEL", ""),
		ASRLanguage:           getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-IN"),
		TTSVoice:              getEnvOrDefault("SPEECH_TTS_VOICE", "en_female_amy_jupiter_bigtts"),
		TTSSpeed:              ttsSpeed,
		TTSVolume:             ttsVolume,
		TTSLanguage:           getEnvOrDefault("SPEECH_TTS_LANGUAGE", "en-IN"),
		FFmpegPath:            getEnvOrDefault("FFMPEG_PATH", "ffmpeg"),
		CallTimeout:           timeout,
		Enabled:               enabled,
	}, nil
}

// Volcengine 转换为火山引擎客户端使用的配置。
func (c SpeechConfig) Volcengine() *speechmodel.SpeechConfig {
	return &speechmodel.SpeechConfig{
		AppID:          c.AppID,
		AccessToken:    c.AccessToken,
		APIKey:         c.APIKey,
		BaseURL:        c.BaseURL,
		ConcurrentMode: c.ConcurrentMode,
		ASRModel:       c.ASRModel,
		ASRLanguage:    c.ASRLanguage,
		TTSVoice:       c.TTSVoice,
		TTSSpeed:       c.TTSSpeed,
		TTSVolume:      c.TTSVolume,
		TTSLanguage:    c.TTSLanguage,
	}
}

// PersonaConfig 描述人设文档与摘要缓存位置。
type PersonaConfig struct {
	DocumentPath  string
	CachePath     string
	RedisURL      string
	RedisCacheKey string
}

func loadPersonaConfig() PersonaConfig {
	return PersonaConfig{
		DocumentPath:  getEnvOrDefault("PERSONA_DOCUMENT_PATH", "persona_questionnaire.md"),
		CachePath:     getEnvOrDefault("PERSONA_SUMMARY_CACHE_PATH", "persona_summary.cache"),
		RedisURL:      strings.TrimSpace(os.Getenv("PERSONA_SUMMARY_REDIS_URL")),
		RedisCacheKey: getEnvOrDefault("PERSONA_SUMMARY_REDIS_KEY", "persona:summary"),
	}
}

// SessionConfig bounds the in-memory session map.
type SessionConfig struct {
	MaxEntries int
	IdleTTL    time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	maxEntries := 10000
	if override, err := parseOptionalIntEnv("SESSION_MAX_ENTRIES"); err != nil {
		return SessionConfig{}, err
	} else if override != nil {
		if *override < 0 {
			return SessionConfig{}, fmt.Errorf("invalid SESSION_MAX_ENTRIES value %d", *override)
		}
		maxEntries = *override
	}

	ttl, err := parseDurationEnv("SESSION_IDLE_TTL", 2*time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{MaxEntries: maxEntries, IdleTTL: ttl}, nil
}

// PipelineConfig 描述语音对话链路的运行参数。
type PipelineConfig struct {
	MaxConcurrent int64
	TempDir       string
}

func loadPipelineConfig() (PipelineConfig, error) {
	maxConcurrent := int64(16)
	if override, err := parseOptionalIntEnv("PIPELINE_MAX_CONCURRENT"); err != nil {
		return PipelineConfig{}, err
	} else if override != nil {
		if *override < 1 {
			maxConcurrent = 1
		} else {
			maxConcurrent = int64(*override)
		}
	}

	return PipelineConfig{
		MaxConcurrent: maxConcurrent,
		TempDir:       getEnvOrDefault("TEMP_DIR", os.TempDir()),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseListEnv(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}

	var items []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		// 兼容纯数字秒数
		secs, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
		}
		val = time.Duration(secs) * time.Second
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: negative duration", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}

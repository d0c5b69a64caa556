package speech

// SpeechConfig 火山引擎语音配置
type SpeechConfig struct {
	AppID          string `json:"appId"`
	AccessToken    string `json:"accessToken"`
	APIKey         string `json:"apiKey,omitempty"` // 兼容旧配置的 API Key
	BaseURL        string `json:"baseUrl"`
	ConcurrentMode bool   `json:"concurrentMode"` // ASR并发版资源

	ASRModel    string `json:"asrModel"`
	ASRLanguage string `json:"asrLanguage"`

	// TTSVoice 是对话链路使用的固定音色
	TTSVoice    string  `json:"ttsVoice"`
	TTSSpeed    float32 `json:"ttsSpeed"`
	TTSVolume   float32 `json:"ttsVolume"`
	TTSLanguage string  `json:"ttsLanguage"`
}

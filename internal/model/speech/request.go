package speech

import "io"

// ASRRequest 语音识别请求
type ASRRequest struct {
	SessionID  string    `json:"sessionId"`
	AudioData  io.Reader `json:"-"`
	Format     string    `json:"format"`   // wav, pcm
	Language   string    `json:"language"` // en-IN, zh-CN, etc.
	SampleRate int       `json:"sampleRate,omitempty"`
	Channels   int       `json:"channels,omitempty"`
}

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`
	Speed     float32 `json:"speed"`  // 语速倍率 0.5-2.0
	Volume    float32 `json:"volume"` // 音量 0.0-1.0
	Format    string  `json:"format"` // mp3
	Language  string  `json:"language"`
}

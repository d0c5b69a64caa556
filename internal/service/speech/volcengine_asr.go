package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	speechmodel "github.com/zhouzirui/voice-twin/backend/internal/model/speech"
)

const (
	asrNoStreamPath = "/api/v3/sauc/bigmodel_nostream"

	asrResourceDuration   = "volc.bigasr.sauc.duration"
	asrResourceConcurrent = "volc.bigasr.sauc.concurrent"

	// 16kHz 16bit mono, 200ms
	asrChunkBytes = 6400
)

// VolcengineASRClient 火山引擎大模型流式识别，一次请求一条连接。
type VolcengineASRClient struct {
	config *speechmodel.SpeechConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewVolcengineASRClient 创建火山引擎ASR客户端
func NewVolcengineASRClient(config *speechmodel.SpeechConfig, logger *zap.Logger) *VolcengineASRClient {
	return &VolcengineASRClient{
		config: config,
		dialer: newVolcengineDialer(),
		logger: loggerOrNop(logger),
	}
}

type asrRequestPayload struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type asrServerMessage struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result"`
	AudioInfo struct {
		Duration int64 `json:"duration"`
	} `json:"audio_info"`
}

// Recognize implements Recognizer.
func (c *VolcengineASRClient) Recognize(ctx context.Context, audio Audio) (string, error) {
	resp, err := c.Transcribe(ctx, &speechmodel.ASRRequest{
		SessionID:  uuid.NewString(),
		AudioData:  bytes.NewReader(audio.PCM),
		Format:     "pcm",
		Language:   c.config.ASRLanguage,
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", ErrNoSpeech
	}
	return resp.Text, nil
}

// Transcribe 发送整段音频并等待最终结果。
func (c *VolcengineASRClient) Transcribe(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	audio, err := readAll(req)
	if err != nil {
		return nil, err
	}

	resourceID := asrResourceDuration
	if c.config.ConcurrentMode {
		resourceID = asrResourceConcurrent
	}

	conn, err := dialVolcengine(ctx, c.dialer, c.config, volcengineURL(c.config, asrNoStreamPath), resourceID, req.SessionID, c.logger)
	if err != nil {
		return nil, fmt.Errorf("asr connect: %w", err)
	}
	defer conn.Close()

	payload, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal asr request: %w", err)
	}
	compressed, err := CompressPayload(payload, GzipCompression)
	if err != nil {
		return nil, err
	}
	if err := conn.writeFrame(CreateFullClientRequest(compressed, GzipCompression)); err != nil {
		return nil, fmt.Errorf("send asr request: %w", err)
	}

	// 边发边收：服务端提前报错时发送方随连接关闭退出
	sendErr := make(chan error, 1)
	go func() {
		sendErr <- sendAudio(conn, audio)
	}()

	resp, recvErr := c.receive(conn, req.SessionID)
	if recvErr != nil {
		conn.Close()
		if err := <-sendErr; err != nil && ctx.Err() == nil {
			c.logger.Debug("asr audio upload aborted", zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, recvErr
	}
	return resp, nil
}

func readAll(req *speechmodel.ASRRequest) ([]byte, error) {
	if req.AudioData == nil {
		return nil, errors.New("no audio data to send")
	}
	audio, err := io.ReadAll(req.AudioData)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("no audio data to send")
	}
	return audio, nil
}

func (c *VolcengineASRClient) buildRequest(req *speechmodel.ASRRequest) *asrRequestPayload {
	p := &asrRequestPayload{}
	p.User.UID = req.SessionID

	p.Audio.Format = req.Format
	if p.Audio.Format == "" {
		p.Audio.Format = "pcm"
	}
	p.Audio.Language = req.Language
	if p.Audio.Language == "" {
		p.Audio.Language = "en-IN"
	}
	p.Audio.Codec = "raw"
	p.Audio.Rate = req.SampleRate
	if p.Audio.Rate <= 0 {
		p.Audio.Rate = 16000
	}
	p.Audio.Bits = 16
	p.Audio.Channel = req.Channels
	if p.Audio.Channel <= 0 {
		p.Audio.Channel = 1
	}

	p.Request.ModelName = "bigmodel"
	if c.config.ASRModel != "" {
		p.Request.ModelName = c.config.ASRModel
	}
	p.Request.EnableITN = true
	p.Request.EnablePunc = true
	p.Request.ShowUtterances = true
	p.Request.ResultType = "full"
	p.Request.EndWindowSize = 800
	return p
}

// sendAudio 分包发送，服务端 FullClientRequest 占用序号1，音频从2开始。
func sendAudio(conn *volcengineConn, audio []byte) error {
	sequence := int32(2)
	for start := 0; start < len(audio); start += asrChunkBytes {
		end := min(start+asrChunkBytes, len(audio))
		isLast := end == len(audio)

		chunk, err := CompressPayload(audio[start:end], GzipCompression)
		if err != nil {
			return err
		}
		if err := conn.writeFrame(CreateAudioOnlyRequest(chunk, sequence, isLast, GzipCompression)); err != nil {
			return fmt.Errorf("send audio chunk %d: %w", sequence, err)
		}
		sequence++
	}
	return nil
}

func (c *VolcengineASRClient) receive(conn *volcengineConn, sessionID string) (*speechmodel.ASRResponse, error) {
	var (
		text     string
		duration int64
	)

	for {
		msg, payload, err := conn.readFrame()
		if err != nil {
			return nil, fmt.Errorf("asr: %w", err)
		}
		if msg.Header.MessageType != FullServerResponse {
			continue
		}

		var resp asrServerMessage
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &resp); err != nil {
				c.logger.Warn("asr response is not json", zap.Error(err))
				continue
			}
		}
		if resp.Code != 0 && resp.Code != 20000000 {
			return nil, fmt.Errorf("asr api error %d: %s", resp.Code, resp.Message)
		}

		candidate := resp.Result.Text
		if candidate == "" {
			candidate = joinUtterances(resp.Result.Utterances)
		}
		if candidate != "" {
			text = candidate
		}
		if resp.AudioInfo.Duration > 0 {
			duration = resp.AudioInfo.Duration
		}

		if msg.IsLastPacket() || resp.Sequence < 0 {
			return &speechmodel.ASRResponse{
				SessionID:  sessionID,
				Text:       text,
				Confidence: estimateConfidence(text),
				Duration:   duration,
				RequestID:  sessionID,
			}, nil
		}
	}
}

func joinUtterances(utterances []asrUtterance) string {
	parts := make([]string, 0, len(utterances))
	for _, u := range utterances {
		if t := strings.TrimSpace(u.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func estimateConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return 0.95
}

package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	speechmodel "github.com/zhouzirui/voice-twin/backend/internal/model/speech"
)

const (
	ttsStreamPath = "/api/v3/tts/unidirectional/stream"

	ttsResourceDefault = "volc.service_type.10029"
	ttsResourceMega    = "volc.megatts.default"
	ttsResourceSeed    = "seed-tts-2.0"

	// DefaultVoice is the fixed voice of the twin.
	DefaultVoice = "en_female_amy_jupiter_bigtts"
)

// errResourceMismatch is reported by the service when the speaker belongs to another resource.
var errResourceMismatch = errors.New("resource ID is mismatched with speaker related resource")

// VolcengineTTSClient 火山引擎单向流式合成，输出 mp3。
type VolcengineTTSClient struct {
	config *speechmodel.SpeechConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewVolcengineTTSClient 创建火山引擎TTS客户端
func NewVolcengineTTSClient(config *speechmodel.SpeechConfig, logger *zap.Logger) *VolcengineTTSClient {
	return &VolcengineTTSClient{
		config: config,
		dialer: newVolcengineDialer(),
		logger: loggerOrNop(logger),
	}
}

type ttsRequestPayload struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition"`
}

// Synthesize implements Synthesizer. Speaker and resource candidates are tried in
// order while the service reports a resource mismatch.
func (c *VolcengineTTSClient) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("tts text is empty")
	}

	speakers := resolveSpeakerCandidates(req.Voice, c.config.TTSVoice)
	var lastErr error

	for _, speaker := range speakers {
		for _, resourceID := range resolveResourceCandidates(speaker) {
			resp, err := c.synthesizeOnce(ctx, req, speaker, resourceID)
			if err == nil {
				return resp, nil
			}
			if !errors.Is(err, errResourceMismatch) {
				return nil, err
			}
			c.logger.Info("tts resource mismatch, trying next candidate",
				zap.String("speaker", speaker), zap.String("resource", resourceID))
			lastErr = err
		}
	}

	return nil, fmt.Errorf("tts: no compatible resource for speakers %v: %w", speakers, lastErr)
}

func (c *VolcengineTTSClient) synthesizeOnce(ctx context.Context, req *speechmodel.TTSRequest, speaker, resourceID string) (*speechmodel.TTSResponse, error) {
	connectID := uuid.NewString()
	conn, err := dialVolcengine(ctx, c.dialer, c.config, volcengineURL(c.config, ttsStreamPath), resourceID, connectID, c.logger)
	if err != nil {
		return nil, fmt.Errorf("tts connect: %w", err)
	}
	defer conn.Close()

	payload, err := json.Marshal(c.buildRequest(req, speaker))
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	if err := conn.writeFrame(CreateFullClientRequest(payload, NoCompression)); err != nil {
		return nil, fmt.Errorf("send tts request: %w", err)
	}

	var (
		audio    bytes.Buffer
		reqID    = connectID
		duration int64
	)

	for {
		msg, body, err := conn.readFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, classifyTTSError(err)
		}

		switch msg.Header.MessageType {
		case AudioOnlyServerResponse:
			audio.Write(body)

		case FullServerResponse:
			var resp ttsServerMessage
			if len(body) > 0 {
				if err := json.Unmarshal(body, &resp); err != nil {
					c.logger.Warn("tts response is not json", zap.Error(err))
				}
			}
			if resp.Code != 0 && resp.Code != 3000 && resp.Code != 20000000 {
				return nil, classifyTTSError(fmt.Errorf("tts api error %d: %s", resp.Code, resp.Message))
			}
			if resp.ReqID != "" {
				reqID = resp.ReqID
			}
			if d, err := strconv.ParseInt(resp.Addition.Duration, 10, 64); err == nil {
				duration = d
			}
			if resp.Data != "" {
				chunk, err := base64.StdEncoding.DecodeString(resp.Data)
				if err != nil {
					return nil, fmt.Errorf("decode tts audio chunk: %w", err)
				}
				audio.Write(chunk)
			}

			finished := msg.IsLastPacket() || resp.Sequence < 0 ||
				(msg.Header.MessageFlags&WithEvent == WithEvent && msg.EventType == EventTypeSessionFinished)
			if !finished {
				continue
			}
			if audio.Len() == 0 {
				return nil, errors.New("tts audio is empty")
			}
			return &speechmodel.TTSResponse{
				SessionID: req.SessionID,
				AudioData: audio.Bytes(),
				Duration:  duration,
				Format:    "mp3",
				RequestID: reqID,
				CreatedAt: time.Now(),
			}, nil
		}
	}
}

func (c *VolcengineTTSClient) buildRequest(req *speechmodel.TTSRequest, speaker string) *ttsRequestPayload {
	p := &ttsRequestPayload{}
	p.User.UID = req.SessionID
	if p.User.UID == "" {
		p.User.UID = uuid.NewString()
	}

	p.ReqParams.Speaker = speaker
	p.ReqParams.Text = req.Text
	p.ReqParams.AudioParams.Format = "mp3"
	p.ReqParams.AudioParams.SampleRate = 24000

	if speed := firstPositive(req.Speed, c.config.TTSSpeed); speed > 0 && speed != 1 {
		p.ReqParams.AudioParams.SpeedRatio = speed
	}
	if volume := firstPositive(req.Volume, c.config.TTSVolume); volume > 0 && volume != 1 {
		p.ReqParams.AudioParams.VolumeRatio = volume
	}

	p.ReqParams.Language = strings.TrimSpace(req.Language)
	if p.ReqParams.Language == "" {
		p.ReqParams.Language = strings.TrimSpace(c.config.TTSLanguage)
	}
	p.ReqParams.Additions = `{"disable_markdown_filter":false}`
	return p
}

func firstPositive(values ...float32) float32 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func classifyTTSError(err error) error {
	if strings.Contains(err.Error(), errResourceMismatch.Error()) {
		return fmt.Errorf("%w: %v", errResourceMismatch, err)
	}
	return err
}

func resolveResourceCandidates(voice string) []string {
	voice = strings.TrimSpace(voice)
	if strings.HasPrefix(voice, "S_") {
		return []string{ttsResourceMega}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{ttsResourceSeed, ttsResourceDefault}
		}
	}
	return []string{ttsResourceDefault, ttsResourceSeed}
}

var voiceAliases = map[string]string{
	"en_default": DefaultVoice,
	"twin":       DefaultVoice,
}

func resolveSpeakerCandidates(requested, fallback string) []string {
	var candidates []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if mapped, ok := voiceAliases[strings.ToLower(s)]; ok {
			s = mapped
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}

	add(requested)
	add(fallback)
	add(DefaultVoice)
	return candidates
}

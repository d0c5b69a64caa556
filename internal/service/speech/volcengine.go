package speech

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	speechmodel "github.com/zhouzirui/voice-twin/backend/internal/model/speech"
)

const defaultVolcengineBaseURL = "wss://openspeech.bytedance.com"

// resolveCredentials 返回规范化后的 AppID 与 AccessToken，缺失时给出明确错误。
func resolveCredentials(cfg *speechmodel.SpeechConfig) (string, string, error) {
	if cfg == nil {
		return "", "", errors.New("volcengine speech config is nil")
	}

	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}
	if appID == "" || token == "" {
		return "", "", errors.New("volcengine speech config is missing app id or access token")
	}
	return appID, token, nil
}

func volcengineURL(cfg *speechmodel.SpeechConfig, path string) string {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultVolcengineBaseURL
	}
	return base + path
}

// volcengineConn is one websocket session against openspeech. The connection is
// closed when ctx ends so blocking reads unwind with the caller.
type volcengineConn struct {
	*websocket.Conn
	stop func() bool
}

func (c *volcengineConn) Close() error {
	c.stop()
	return c.Conn.Close()
}

func dialVolcengine(ctx context.Context, dialer *websocket.Dialer, cfg *speechmodel.SpeechConfig, url, resourceID, connectID string, log *zap.Logger) (*volcengineConn, error) {
	appID, token, err := resolveCredentials(cfg)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("X-Api-App-Key", appID)
	header.Set("X-Api-Access-Key", token)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Debug("volcengine connected", zap.String("logid", logid), zap.String("resource", resourceID))
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	return &volcengineConn{Conn: conn, stop: stop}, nil
}

// readFrame reads and decodes the next binary frame.
func (c *volcengineConn) readFrame() (*Message, []byte, error) {
	_, data, err := c.ReadMessage()
	if err != nil {
		return nil, nil, fmt.Errorf("read frame: %w", err)
	}

	msg, err := DecodeMessage(data)
	if err != nil {
		return nil, nil, fmt.Errorf("decode frame: %w", err)
	}

	payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
	if err != nil {
		return nil, nil, fmt.Errorf("decompress frame: %w", err)
	}

	if msg.Header.MessageType == ErrorMessage {
		return msg, payload, fmt.Errorf("volcengine error %d: %s", msg.ErrorCode, string(payload))
	}
	return msg, payload, nil
}

func (c *volcengineConn) writeFrame(msg *Message) error {
	return c.WriteMessage(websocket.BinaryMessage, EncodeMessage(msg))
}

func newVolcengineDialer() *websocket.Dialer {
	return &websocket.Dialer{HandshakeTimeout: 30 * time.Second}
}

func loggerOrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log.With(zap.String("component", "speech"))
}

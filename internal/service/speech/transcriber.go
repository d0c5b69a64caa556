package speech

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// Degradation names why a Transcript carries no literal speech.
type Degradation int

const (
	DegradationNone Degradation = iota
	DegradationSilence
	DegradationSystemError
)

func (d Degradation) String() string {
	switch d {
	case DegradationSilence:
		return "silence"
	case DegradationSystemError:
		return "system_error"
	default:
		return "none"
	}
}

// Sentinel transcript texts handed to the reasoning service.
const (
	SilenceText     = "Silence"
	SystemErrorText = "System Error"
)

// Transcript is the outcome of a transcription. It is always usable as text.
type Transcript struct {
	Text        string
	Degradation Degradation
	Cause       error
}

// String returns the recognized text, or the sentinel for a degraded transcript.
func (t Transcript) String() string {
	switch t.Degradation {
	case DegradationSilence:
		return SilenceText
	case DegradationSystemError:
		return SystemErrorText
	default:
		return t.Text
	}
}

// Transcriber runs recognition with a WAV fast path and a transcoding fallback.
type Transcriber struct {
	Recognizer Recognizer
	Transcoder Transcoder
	// Timeout bounds each recognition call.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Transcribe never fails: every failure is folded into the Transcript's Degradation.
func (t *Transcriber) Transcribe(ctx context.Context, path string) Transcript {
	audio, err := ReadWAV(path)
	if errors.Is(err, ErrNotWAV) {
		converted := path + ".wav"
		defer t.removeQuietly(converted)

		if terr := t.transcode(ctx, path, converted); terr != nil {
			return t.degrade(terr)
		}
		audio, err = ReadWAV(converted)
	}
	if err != nil {
		return t.degrade(err)
	}

	text, err := t.recognize(ctx, audio)
	if err != nil {
		return t.degrade(err)
	}
	return Transcript{Text: text}
}

func (t *Transcriber) transcode(ctx context.Context, src, dst string) error {
	if t.Transcoder == nil {
		return errors.New("no transcoder configured")
	}
	return t.Transcoder.Transcode(ctx, src, dst)
}

func (t *Transcriber) recognize(ctx context.Context, audio Audio) (string, error) {
	if len(audio.PCM) == 0 {
		return "", ErrNoSpeech
	}
	if t.Recognizer == nil {
		return "", errors.New("no recognizer configured")
	}

	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	text, err := t.Recognizer.Recognize(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	return text, nil
}

func (t *Transcriber) degrade(err error) Transcript {
	if errors.Is(err, ErrNoSpeech) {
		return Transcript{Degradation: DegradationSilence, Cause: err}
	}

	if t.Logger != nil {
		t.Logger.Warn("transcription failed", zap.String("component", "speech"), zap.Error(err))
	}
	return Transcript{Degradation: DegradationSystemError, Cause: err}
}

func (t *Transcriber) removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) && t.Logger != nil {
		t.Logger.Warn("failed to remove transcoded audio", zap.String("path", path), zap.Error(err))
	}
}

// Package speech holds the recognition, synthesis and transcoding collaborators
// of the voice pipeline.
package speech

import (
	"context"
	"errors"

	speechmodel "github.com/zhouzirui/voice-twin/backend/internal/model/speech"
)

var (
	// ErrNoSpeech is returned by a Recognizer that understood nothing in the audio.
	ErrNoSpeech = errors.New("no speech recognized")
	// ErrNotWAV marks audio that cannot be decoded as 16-bit PCM WAV.
	ErrNotWAV = errors.New("audio is not 16-bit pcm wav")
)

// Audio is decoded little-endian 16-bit PCM.
type Audio struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// Recognizer turns speech into text.
type Recognizer interface {
	Recognize(ctx context.Context, audio Audio) (string, error)
}

// Synthesizer turns text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error)
}

// Transcoder converts an arbitrary audio container into 16 kHz mono 16-bit WAV.
type Transcoder interface {
	Transcode(ctx context.Context, src, dst string) error
}

package speech

import (
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecognizeRequestUsesLinear16(t *testing.T) {
	req := recognizeRequest(Audio{PCM: []byte{1, 2}, SampleRate: 16000}, "en-IN")

	cfg := req.GetConfig()
	assert.Equal(t, speechpb.RecognitionConfig_LINEAR16, cfg.GetEncoding())
	assert.Equal(t, int32(16000), cfg.GetSampleRateHertz())
	assert.Equal(t, int32(1), cfg.GetAudioChannelCount())
	assert.Equal(t, "en-IN", cfg.GetLanguageCode())
	assert.Equal(t, []byte{1, 2}, req.GetAudio().GetContent())
}

func TestTranscriptFromResults(t *testing.T) {
	alt := func(text string) *speechpb.SpeechRecognitionResult {
		return &speechpb.SpeechRecognitionResult{
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text}},
		}
	}

	text, err := transcriptFromResults([]*speechpb.SpeechRecognitionResult{alt("hello"), {}, alt(" world ")})
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	_, err = transcriptFromResults(nil)
	assert.ErrorIs(t, err, ErrNoSpeech)

	_, err = transcriptFromResults([]*speechpb.SpeechRecognitionResult{alt("  ")})
	assert.ErrorIs(t, err, ErrNoSpeech)
}

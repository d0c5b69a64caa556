package speech

import (
	"context"
	"fmt"
	"strings"

	gspeech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
)

// GoogleRecognizer calls Google Cloud Speech-to-Text synchronous recognition.
type GoogleRecognizer struct {
	client   *gspeech.Client
	language string
}

// NewGoogleRecognizer creates the client. An empty credentialsFile falls back to
// application default credentials.
func NewGoogleRecognizer(ctx context.Context, credentialsFile, language string, opts ...option.ClientOption) (*GoogleRecognizer, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := gspeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	if language == "" {
		language = "en-IN"
	}
	return &GoogleRecognizer{client: client, language: language}, nil
}

// Recognize implements Recognizer.
func (r *GoogleRecognizer) Recognize(ctx context.Context, audio Audio) (string, error) {
	resp, err := r.client.Recognize(ctx, recognizeRequest(audio, r.language))
	if err != nil {
		return "", fmt.Errorf("google recognize: %w", err)
	}
	return transcriptFromResults(resp.GetResults())
}

// Close releases the gRPC connection.
func (r *GoogleRecognizer) Close() error {
	return r.client.Close()
}

func recognizeRequest(audio Audio, language string) *speechpb.RecognizeRequest {
	channels := audio.Channels
	if channels <= 0 {
		channels = 1
	}

	return &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(audio.SampleRate),
			AudioChannelCount:          int32(channels),
			LanguageCode:               language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio.PCM},
		},
	}
}

// transcriptFromResults joins the top alternative of every result.
func transcriptFromResults(results []*speechpb.SpeechRecognitionResult) (string, error) {
	var parts []string
	for _, result := range results {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if text := strings.TrimSpace(alts[0].GetTranscript()); text != "" {
			parts = append(parts, text)
		}
	}

	if len(parts) == 0 {
		return "", ErrNoSpeech
	}
	return strings.Join(parts, " "), nil
}

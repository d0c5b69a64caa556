package ai

import (
	"context"
	"errors"

	"github.com/zhouzirui/voice-twin/backend/internal/model/chat"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("reasoning service returned empty text")

// Prompt is one request to the reasoning service.
type Prompt struct {
	// System is the system instruction; empty for one-shot setup prompts.
	System string
	// History is the windowed conversation, oldest first.
	History []chat.Turn
	// Query is the new user turn.
	Query string
	// JSON asks the provider for JSON output. Providers treat it as a hint only,
	// callers still parse defensively.
	JSON bool
}

// Reasoner is the remote language model collaborator.
type Reasoner interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

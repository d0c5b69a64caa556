package ai

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/zhouzirui/voice-twin/backend/internal/model/chat"
)

// GeminiConfig selects the Gemini API endpoint and model.
type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint, used by tests.
	BaseURL string
}

// GeminiReasoner calls Gemini through the google.golang.org/genai client.
type GeminiReasoner struct {
	client *genai.Client
	model  string
}

// NewGeminiReasoner creates a Gemini-backed Reasoner.
func NewGeminiReasoner(ctx context.Context, cfg GeminiConfig) (*GeminiReasoner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is required for the gemini provider")
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiReasoner{client: client, model: modelName}, nil
}

// Generate implements Reasoner.
func (g *GeminiReasoner) Generate(ctx context.Context, p Prompt) (string, error) {
	contents := make([]*genai.Content, 0, len(p.History)+1)
	for _, turn := range p.History {
		var role genai.Role = genai.RoleUser
		if turn.Role == chat.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(p.Query, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}
	if p.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	res, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := res.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/voice-twin/backend/internal/config"
	"github.com/zhouzirui/voice-twin/backend/internal/model/chat"
)

// ChainReasoner runs prompts through an eino chain: chat template -> chat model.
// It backs the Ark provider but accepts any eino chat model.
//
// Prompt.JSON is not forwarded: the ark model exposes no response-format
// option, so JSON output relies on the system instruction alone and
// ParseReply handles anything else.
type ChainReasoner struct {
	chatModel model.BaseChatModel
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewArkReasoner creates a ChainReasoner on top of the configured Ark model.
func NewArkReasoner(ctx context.Context, cfg config.AIConfig) (*ChainReasoner, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewChainReasoner(ctx, chatModel)
}

// NewChainReasoner compiles the persona chat chain around chatModel.
func NewChainReasoner(ctx context.Context, chatModel model.BaseChatModel) (*ChainReasoner, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChainReasoner{chatModel: chatModel, chain: runnable}, nil
}

// Generate implements Reasoner. One-shot prompts without a system instruction
// skip the template and go straight to the model.
func (c *ChainReasoner) Generate(ctx context.Context, p Prompt) (string, error) {
	var (
		response *schema.Message
		err      error
	)

	if p.System == "" && len(p.History) == 0 {
		response, err = c.chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(p.Query)})
	} else {
		response, err = c.chain.Invoke(ctx, map[string]any{
			"system":  p.System,
			"history": buildHistoryMessages(p.History),
			"query":   p.Query,
		})
	}
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil || response.Content == "" {
		return "", ErrEmptyResponse
	}
	return response.Content, nil
}

func buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Text))
		case chat.RoleModel:
			history = append(history, schema.AssistantMessage(turn.Text, nil))
		}
	}
	return history
}

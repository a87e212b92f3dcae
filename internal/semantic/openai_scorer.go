package semantic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
)

type OpenAIScorer struct {
	client openai.Client
	model  string
	temp   float64
}

var _ Scorer = (*OpenAIScorer)(nil)

func NewOpenAIScorer(model string, temp float64) *OpenAIScorer {
	return &OpenAIScorer{
		client: openai.NewClient(),
		model:  model,
		temp:   temp,
	}
}

func (s *OpenAIScorer) Score(ctx context.Context, systemPrompt, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)

	if len(systemPrompt) > 0 {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	chatOpts := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       s.model,
		Temperature: openai.Float(s.temp),
	}

	res, err := s.client.Chat.Completions.New(ctx, chatOpts)
	if err != nil {
		slog.Error("openai error: chat completions failed", "error", err)
		return "", fmt.Errorf("openai scoring failed: %w", err)
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}

	return res.Choices[0].Message.Content, nil
}

package semantic

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainScorer is an alternative Scorer for deployments pointing at
// OpenAI-compatible endpoints (vLLM, ollama) that the openai-go client does
// not cover cleanly.
type LangchainScorer struct {
	llm *openai.LLM
}

var _ Scorer = (*LangchainScorer)(nil)

func NewLangchainScorer(model, apiKey, baseUrl string) (*LangchainScorer, error) {
	opts := []openai.Option{openai.WithModel(model)}
	if apiKey != "" {
		opts = append(opts, openai.WithToken(apiKey))
	}
	if baseUrl != "" {
		opts = append(opts, openai.WithBaseURL(baseUrl))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create llm client: %w", err)
	}

	return &LangchainScorer{llm: llm}, nil
}

func (s *LangchainScorer) Score(ctx context.Context, systemPrompt, prompt string) (string, error) {
	content := make([]llms.MessageContent, 0, 2)
	if len(systemPrompt) > 0 {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	res, err := s.llm.GenerateContent(ctx, content)
	if err != nil {
		return "", fmt.Errorf("llm scoring failed: %w", err)
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}

	return res.Choices[0].Content, nil
}

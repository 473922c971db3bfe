package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider generates comments via the OpenAI chat completions API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIProvider creates a new OpenAI completion provider. An empty
// model selects gpt-4o.
func NewOpenAIProvider(apiKey, model string, logger *slog.Logger) *OpenAIProvider {
	if model == "" {
		model = openai.GPT4o
	}
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger,
	}
}

// Complete sends the prompt to the chat completions endpoint.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	var comment string

	err := retry.Do(
		func() error {
			p.logger.Info("OpenAI API request starting",
				"endpoint", "chat/completions",
				"model", p.model,
				"prompt_length", len(prompt))

			startTime := time.Now()
			resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model: p.model,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
					{Role: openai.ChatMessageRoleUser, Content: prompt},
				},
				MaxTokens: maxCompletionTokens,
			})
			duration := time.Since(startTime)

			if err != nil {
				p.logger.Warn("OpenAI API request failed, will retry",
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}

			if len(resp.Choices) == 0 {
				return retry.Unrecoverable(errors.New("completion returned no choices"))
			}

			comment = strings.TrimSpace(resp.Choices[0].Message.Content)

			p.logger.Info("OpenAI API request completed",
				"model", p.model,
				"duration_ms", duration.Milliseconds(),
				"comment_length", len(comment))

			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying OpenAI completion after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	return comment, nil
}

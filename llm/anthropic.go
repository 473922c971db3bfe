package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const anthropicEndpoint = "https://api.anthropic.com/v1/messages"

// AnthropicProvider generates comments via the Anthropic messages API.
type AnthropicProvider struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewAnthropicProvider creates a new Anthropic completion provider. An
// empty model selects claude-3-5-sonnet-latest.
func NewAnthropicProvider(apiKey, model string, logger *slog.Logger) *AnthropicProvider {
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	return &AnthropicProvider{
		apiKey:   apiKey,
		model:    model,
		endpoint: anthropicEndpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger,
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends the prompt to the messages endpoint.
func (p *AnthropicProvider) Complete(ctx context.Context, prompt string) (string, error) {
	reqBody := anthropicRequest{
		Model:     p.model,
		MaxTokens: maxCompletionTokens,
		System:    systemPrompt,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var comment string

	err = retry.Do(
		func() error {
			p.logger.Info("Anthropic API request starting",
				"endpoint", "v1/messages",
				"model", p.model,
				"prompt_length", len(prompt))

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				p.endpoint, bytes.NewReader(jsonData))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("x-api-key", p.apiKey)
			req.Header.Set("anthropic-version", "2023-06-01")

			resp, err := p.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				p.logger.Warn("Anthropic API request failed, will retry",
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					p.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
				return retry.Unrecoverable(fmt.Errorf("HTTP %d", resp.StatusCode))
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				p.logger.Warn("Anthropic API returned non-2xx status, will retry",
					"status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			var parsed anthropicResponse
			if err := json.Unmarshal(body, &parsed); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if len(parsed.Content) == 0 {
				return retry.Unrecoverable(errors.New("message returned no content"))
			}

			comment = strings.TrimSpace(parsed.Content[0].Text)

			p.logger.Info("Anthropic API request completed",
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
			p.logger.Info("Retrying Anthropic completion after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}
	return comment, nil
}

package llm

import (
	"context"
	"log/slog"
	"strings"
)

// mockResponses are canned comments keyed by a fragment of the type
// guidance line in the prompt.
var mockResponses = map[string]string{
	"genuine appreciation": "Really appreciate your insights on this topic! Very valuable perspective.",
	"insightful question":  "Have you considered how this approach might work in different industries?",
	"personal experience":  "I've seen similar results when implementing these strategies at my company.",
	"complementary piece":  "Adding to this, research shows that companies adopting this approach see 30% better outcomes.",
	"supporting example":   "Completely agree with your points! This aligns with best practices in the field.",
}

const mockDefaultResponse = "Great insights shared here. Thanks for posting this!"

// MockProvider is a mock completion provider for local development. It
// returns a canned comment matching the type requested in the prompt.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a new mock completion provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Complete returns a canned comment without calling any API.
func (m *MockProvider) Complete(_ context.Context, prompt string) (string, error) {
	comment := mockDefaultResponse
	for fragment, response := range mockResponses {
		if strings.Contains(prompt, fragment) {
			comment = response
			break
		}
	}

	m.logger.Info("MOCK COMPLETION",
		"prompt_length", len(prompt),
		"comment_length", len(comment))

	return comment, nil
}

// Package llm turns a generation prompt into a comment via a pluggable
// model provider.
package llm

import "context"

// systemPrompt frames every completion request. The word-count rules live
// in the user prompt; this keeps the model from padding around them.
const systemPrompt = "You write brief, natural-sounding comments that strictly follow word count requirements."

// maxCompletionTokens caps responses well above the longest allowed
// comment (50 words) but below an essay.
const maxCompletionTokens = 150

// Provider defines the interface for model completion implementations.
type Provider interface {
	// Complete returns the model's completion for the given prompt.
	Complete(ctx context.Context, prompt string) (string, error)
}

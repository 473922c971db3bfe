// Package email delivers one-time verification codes through a pluggable
// provider.
package email

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
)

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send sends an email with the given parameters.
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Sender formats and sends verification-code emails.
type Sender struct {
	provider Provider
	logger   *slog.Logger
	fromAddr string
}

// New creates a new email sender with the given provider.
func New(provider Provider, logger *slog.Logger, fromAddr string) *Sender {
	return &Sender{
		provider: provider,
		logger:   logger,
		fromAddr: fromAddr,
	}
}

// SendCode emails a one-time verification code. The code expires ten
// minutes after issuance; the body says so.
func (s *Sender) SendCode(ctx context.Context, to, code string) error {
	subject := "Your Comment Copilot verification code"
	body := formatCodeBody(code)

	s.logger.Info("Sending verification code email", "to", to)

	if err := s.provider.Send(ctx, to, subject, body); err != nil {
		return fmt.Errorf("send verification code: %w", err)
	}
	return nil
}

func formatCodeBody(code string) string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }\n")
	b.WriteString(".code { font-size: 2em; letter-spacing: 0.3em; font-weight: 600; background: #f8f9fa; padding: 20px; border-radius: 8px; text-align: center; margin: 15px 0; }\n")
	b.WriteString(".note { color: #7f8c8d; font-size: 0.9em; }\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	b.WriteString("<h2>Your verification code</h2>\n")
	b.WriteString(fmt.Sprintf("<div class=\"code\">%s</div>\n", html.EscapeString(code)))
	b.WriteString("<p class=\"note\">It will expire in 10 minutes. If you didn't request this code, you can ignore this email.</p>\n")

	b.WriteString("</body>\n</html>")

	return b.String()
}

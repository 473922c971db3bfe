// Package client is the typed HTTP client for the Comment Copilot backend.
// The widget talks to the backend only through it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"comment-copilot/pkg/copilot"
)

// Client calls the backend API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a client for the backend at baseURL (no trailing slash).
func New(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// sentinelByMessage maps envelope error strings back onto the domain
// errors they were written from.
var sentinelByMessage = map[string]error{
	copilot.ErrInvalidInput.Error():         copilot.ErrInvalidInput,
	copilot.ErrInvalidOrExpiredCode.Error(): copilot.ErrInvalidOrExpiredCode,
	copilot.ErrUserExists.Error():           copilot.ErrUserExists,
	copilot.ErrUserNotFound.Error():         copilot.ErrUserNotFound,
	copilot.ErrAuthRequired.Error():         copilot.ErrAuthRequired,
}

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// AuthResult is the response to a successful code verification.
type AuthResult struct {
	AuthToken    string               `json:"authToken"`
	Email        string               `json:"email"`
	Subscription copilot.Subscription `json:"subscription"`
}

// ProfileResult is the account snapshot returned by the profile endpoint.
type ProfileResult struct {
	Email        string               `json:"email"`
	Subscription copilot.Subscription `json:"subscription"`
}

// RequestCode asks the backend to email a one-time code.
func (c *Client) RequestCode(ctx context.Context, email string) error {
	var resp envelope
	return c.post(ctx, "/api/request-otp", "", map[string]string{"email": email}, &resp)
}

// VerifyCode exchanges an emailed code for an auth token. Action is
// "signup" or "login".
func (c *Client) VerifyCode(ctx context.Context, email, code, action string) (*AuthResult, error) {
	var resp struct {
		envelope
		AuthResult
	}
	body := map[string]string{"email": email, "otp": code, "action": action}
	if err := c.post(ctx, "/api/verify-otp", "", body, &resp); err != nil {
		return nil, err
	}
	return &resp.AuthResult, nil
}

// GenerateComment asks the backend for a comment.
func (c *Client) GenerateComment(ctx context.Context, authToken string, req copilot.GenerateRequest) (string, error) {
	var resp struct {
		envelope
		Comment string `json:"comment"`
	}
	if err := c.post(ctx, "/api/generate-comment", authToken, req, &resp); err != nil {
		return "", err
	}
	return resp.Comment, nil
}

// Profile fetches the account snapshot for the token's user.
func (c *Client) Profile(ctx context.Context, authToken string) (*ProfileResult, error) {
	var resp struct {
		envelope
		ProfileResult
	}
	if err := c.get(ctx, "/api/profile", authToken, &resp); err != nil {
		return nil, err
	}
	return &resp.ProfileResult, nil
}

// InitiatePayment starts a checkout for the given plan and returns the
// redirect URL.
func (c *Client) InitiatePayment(ctx context.Context, authToken, plan string) (string, error) {
	var resp struct {
		envelope
		RedirectURL string `json:"redirectUrl"`
	}
	body := map[string]string{"plan": plan}
	if err := c.post(ctx, "/api/initiate-payment", authToken, body, &resp); err != nil {
		return "", err
	}
	return resp.RedirectURL, nil
}

func (c *Client) post(ctx context.Context, path, authToken string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, authToken, jsonData, out)
}

func (c *Client) get(ctx context.Context, path, authToken string, out any) error {
	return c.do(ctx, http.MethodGet, path, authToken, nil, out)
}

// do performs the request with retries. Domain failures (the envelope's
// error field) are not retried; network errors and 5xx responses are.
func (c *Client) do(ctx context.Context, method, path, authToken string, jsonData []byte, out any) error {
	return retry.Do(
		func() error {
			c.logger.Info("Backend API request starting",
				"method", method,
				"path", path)

			var reqBody io.Reader
			if jsonData != nil {
				reqBody = bytes.NewReader(jsonData)
			}
			req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			if jsonData != nil {
				req.Header.Set("Content-Type", "application/json")
			}
			if authToken != "" {
				req.Header.Set("Authorization", "Bearer "+authToken)
			}

			startTime := time.Now()
			resp, err := c.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("Backend API request failed, will retry",
					"path", path,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			if resp.StatusCode >= 500 {
				c.logger.Warn("Backend API returned server error, will retry",
					"path", path,
					"status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			var env envelope
			if err := json.Unmarshal(respBody, &env); err != nil {
				return retry.Unrecoverable(fmt.Errorf("parse response: %w", err))
			}
			if !env.Success {
				if sentinel, ok := sentinelByMessage[env.Error]; ok {
					return retry.Unrecoverable(sentinel)
				}
				return retry.Unrecoverable(fmt.Errorf("backend error: %s", env.Error))
			}

			if err := json.Unmarshal(respBody, out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("parse response: %w", err))
			}

			c.logger.Info("Backend API request completed",
				"path", path,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			return nil
		},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(10*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying backend API request after error",
				"attempt", n, "path", path, "error", err)
		}),
	)
}

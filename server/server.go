// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"time"

	"comment-copilot/pkg/copilot"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Store interface for user and code persistence.
type Store interface {
	SaveUser(ctx context.Context, u *copilot.User) error
	UserByEmail(ctx context.Context, email string) (*copilot.User, error)
	UserByToken(ctx context.Context, token string) (*copilot.User, error)
	SaveCode(ctx context.Context, rec *copilot.CodeRecord) error
	ConsumeCode(ctx context.Context, email, code string, now time.Time) error
}

// Emailer interface for sending verification codes.
type Emailer interface {
	SendCode(ctx context.Context, to, code string) error
}

// Completer interface for generating comments from a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// IsNotFound checks if an error is a not found error.
type IsNotFound func(error) bool

// Server handles HTTP requests.
type Server struct {
	store         Store
	emailer       Emailer
	completer     Completer
	logger        *slog.Logger
	isNotFound    IsNotFound
	limiter       *rateLimiter
	webhookSecret []byte
	baseURL       string
}

// Config holds server configuration.
type Config struct {
	Store         Store
	Emailer       Emailer
	Completer     Completer
	Logger        *slog.Logger
	IsNotFound    IsNotFound
	WebhookSecret []byte
	BaseURL       string
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		store:         cfg.Store,
		emailer:       cfg.Emailer,
		completer:     cfg.Completer,
		logger:        cfg.Logger,
		isNotFound:    cfg.IsNotFound,
		limiter:       newRateLimiter(),
		webhookSecret: cfg.WebhookSecret,
		baseURL:       cfg.BaseURL,
	}
}

// Routes returns the request mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/request-otp", s.handleRequestOTP)
	mux.HandleFunc("POST /api/verify-otp", s.handleVerifyOTP)
	mux.HandleFunc("POST /api/generate-comment", s.handleGenerateComment)
	mux.HandleFunc("GET /api/profile", s.handleProfile)
	mux.HandleFunc("POST /api/initiate-payment", s.handleInitiatePayment)
	mux.HandleFunc("POST /api/payment-webhook", s.handlePaymentWebhook)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// ListenAndServe starts the server on the given port.
func (s *Server) ListenAndServe(port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Routes(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("Server listening", "port", port)
	return server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		s.logger.Error("Failed to write health response", "error", err)
	}
}

// writeSuccess writes the uniform success envelope plus extra fields.
func (s *Server) writeSuccess(w http.ResponseWriter, fields map[string]any) {
	payload := map[string]any{"success": true}
	for k, v := range fields {
		payload[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError maps a domain error onto the HTTP surface and writes the
// uniform failure envelope. Unrecognized errors become opaque 500s.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	switch {
	case errors.Is(err, copilot.ErrInvalidInput):
		status, message = http.StatusBadRequest, copilot.ErrInvalidInput.Error()
	case errors.Is(err, copilot.ErrInvalidOrExpiredCode):
		status, message = http.StatusBadRequest, copilot.ErrInvalidOrExpiredCode.Error()
	case errors.Is(err, copilot.ErrUserExists):
		status, message = http.StatusBadRequest, copilot.ErrUserExists.Error()
	case errors.Is(err, copilot.ErrUserNotFound):
		status, message = http.StatusNotFound, copilot.ErrUserNotFound.Error()
	case errors.Is(err, copilot.ErrAuthRequired):
		status, message = http.StatusUnauthorized, copilot.ErrAuthRequired.Error()
	default:
		s.logger.Error("Request failed", "path", r.URL.Path, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message}); err != nil {
		s.logger.Error("Failed to encode error response", "error", err)
	}
}

// bearerToken extracts the Authorization bearer token, empty if absent.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

func isValidEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}

	// Use mail.ParseAddress for robust validation
	_, err := mail.ParseAddress(email)
	return err == nil && emailRegex.MatchString(email)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Rate limiter for code requests (max 5 per IP per hour).
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string][]time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		clients: make(map[string][]time.Time),
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Hour)

	// Clean old entries
	timestamps := rl.clients[ip]
	var recent []time.Time
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= 5 {
		return false
	}

	recent = append(recent, now)
	rl.clients[ip] = recent
	return true
}

func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (Cloud Run)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Fallback to RemoteAddr
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

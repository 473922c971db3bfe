package server

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/google/uuid"

	"comment-copilot/pkg/copilot"
)

// generateCode produces a 6-digit code with leading zeros kept.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func (s *Server) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, copilot.ErrInvalidInput)
		return
	}

	email := normalizeEmail(req.Email)
	if !isValidEmail(email) {
		s.writeError(w, r, copilot.ErrInvalidInput)
		return
	}

	ip := getClientIP(r)
	if !s.limiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded for code request", "ip", ip)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		if err := json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "too many requests"}); err != nil {
			s.logger.Error("Failed to encode error response", "error", err)
		}
		return
	}

	code, err := generateCode()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rec := &copilot.CodeRecord{
		Email:     email,
		Code:      code,
		ExpiresAt: time.Now().UTC().Add(copilot.CodeTTL),
	}
	if err := s.store.SaveCode(r.Context(), rec); err != nil {
		s.writeError(w, r, fmt.Errorf("save code: %w", err))
		return
	}

	if err := s.emailer.SendCode(r.Context(), email, code); err != nil {
		s.writeError(w, r, fmt.Errorf("send code: %w", err))
		return
	}

	s.logger.Info("Verification code issued", "email", email)
	s.writeSuccess(w, map[string]any{"message": "verification code sent"})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email  string `json:"email"`
		OTP    string `json:"otp"`
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, copilot.ErrInvalidInput)
		return
	}

	email := normalizeEmail(req.Email)
	if email == "" || req.OTP == "" {
		s.writeError(w, r, copilot.ErrInvalidInput)
		return
	}
	if req.Action != copilot.ActionSignup && req.Action != copilot.ActionLogin {
		s.writeError(w, r, copilot.ErrInvalidInput)
		return
	}

	if err := s.store.ConsumeCode(r.Context(), email, req.OTP, time.Now().UTC()); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.store.UserByEmail(r.Context(), email)
	switch {
	case err == nil && req.Action == copilot.ActionSignup:
		s.writeError(w, r, copilot.ErrUserExists)
		return
	case err != nil && !s.isNotFound(err):
		s.writeError(w, r, fmt.Errorf("load user: %w", err))
		return
	case err != nil && req.Action == copilot.ActionLogin:
		s.writeError(w, r, copilot.ErrUserNotFound)
		return
	case err != nil:
		user = &copilot.User{
			Email:              email,
			SubscriptionStatus: copilot.StatusInactive,
			SubscriptionPlan:   copilot.PlanFree,
			CreatedAt:          time.Now().UTC(),
		}
	}

	// Issuing a token invalidates any previous one.
	user.AuthToken = uuid.NewString()
	if err := s.store.SaveUser(r.Context(), user); err != nil {
		s.writeError(w, r, fmt.Errorf("save user: %w", err))
		return
	}

	s.logger.Info("User authenticated", "email", email, "action", req.Action)
	s.writeSuccess(w, map[string]any{
		"authToken":    user.AuthToken,
		"email":        user.Email,
		"subscription": user.Subscription(),
	})
}

package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"comment-copilot/pkg/copilot"
)

func (s *Server) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r.Context(), r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, copilot.ErrInvalidInput)
		return
	}
	if req.Plan != copilot.PlanMonthly && req.Plan != copilot.PlanAnnual {
		s.writeError(w, r, copilot.ErrInvalidInput)
		return
	}

	reference := uuid.NewString()
	redirectURL := fmt.Sprintf("%s/pay?plan=%s&ref=%s", s.baseURL, req.Plan, reference)

	s.logger.Info("Payment initiated",
		"email", user.Email,
		"plan", req.Plan,
		"reference", reference)

	s.writeSuccess(w, map[string]any{"redirectUrl": redirectURL})
}

// handlePaymentWebhook activates a subscription after payment. The caller
// proves itself with an HMAC-SHA256 of the raw body in
// X-Webhook-Signature (hex), keyed with the shared webhook secret.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("read body: %w", err))
		return
	}

	if !s.verifySignature(body, r.Header.Get("X-Webhook-Signature")) {
		s.logger.Warn("Webhook signature mismatch", "ip", getClientIP(r))
		s.writeError(w, r, copilot.ErrAuthRequired)
		return
	}

	var req struct {
		Email     string `json:"email"`
		Plan      string `json:"plan"`
		PaymentID string `json:"paymentId"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, copilot.ErrInvalidInput)
		return
	}

	email := normalizeEmail(req.Email)
	if email == "" || (req.Plan != copilot.PlanMonthly && req.Plan != copilot.PlanAnnual) {
		s.writeError(w, r, copilot.ErrInvalidInput)
		return
	}

	user, err := s.store.UserByEmail(r.Context(), email)
	if err != nil {
		if s.isNotFound(err) {
			s.writeError(w, r, copilot.ErrUserNotFound)
			return
		}
		s.writeError(w, r, fmt.Errorf("load user: %w", err))
		return
	}

	now := time.Now().UTC()
	var expiresAt time.Time
	if req.Plan == copilot.PlanAnnual {
		expiresAt = now.AddDate(1, 0, 0)
	} else {
		expiresAt = now.AddDate(0, 1, 0)
	}

	user.SubscriptionStatus = copilot.StatusActive
	user.SubscriptionPlan = req.Plan
	user.SubscriptionExpiresAt = &expiresAt

	if err := s.store.SaveUser(r.Context(), user); err != nil {
		s.writeError(w, r, fmt.Errorf("save user: %w", err))
		return
	}

	s.logger.Info("Subscription activated",
		"email", email,
		"plan", req.Plan,
		"payment_id", req.PaymentID,
		"expires_at", expiresAt)

	s.writeSuccess(w, map[string]any{"subscription": user.Subscription()})
}

func (s *Server) verifySignature(body []byte, header string) bool {
	if len(s.webhookSecret) == 0 || header == "" {
		return false
	}
	provided, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.webhookSecret)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

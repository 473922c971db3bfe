package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"comment-copilot/pkg/copilot"
	"comment-copilot/prompt"
)

// completionTimeout bounds a single model call.
const completionTimeout = 60 * time.Second

// authenticate resolves the bearer token to a user and applies the lazy
// downgrade: an expired paid subscription flips to inactive/free on read
// and is persisted before the caller sees it.
func (s *Server) authenticate(ctx context.Context, r *http.Request) (*copilot.User, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, copilot.ErrAuthRequired
	}

	user, err := s.store.UserByToken(ctx, token)
	if err != nil {
		if s.isNotFound(err) {
			return nil, copilot.ErrAuthRequired
		}
		return nil, fmt.Errorf("load user by token: %w", err)
	}

	if user.SubscriptionStatus == copilot.StatusActive && user.SubscriptionExpired(time.Now().UTC()) {
		user.SubscriptionStatus = copilot.StatusInactive
		user.SubscriptionPlan = copilot.PlanFree
		user.SubscriptionExpiresAt = nil
		if err := s.store.SaveUser(ctx, user); err != nil {
			return nil, fmt.Errorf("persist downgrade: %w", err)
		}
		s.logger.Info("Subscription expired, downgraded", "email", user.Email)
	}

	return user, nil
}

func (s *Server) handleGenerateComment(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r.Context(), r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req copilot.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, copilot.ErrInvalidInput)
		return
	}
	if req.PostContent == "" || !req.CommentType.Valid() || !req.CommentLength.Valid() {
		s.writeError(w, r, copilot.ErrInvalidInput)
		return
	}

	p := prompt.Build(req.PostContent, req.Settings, req.CommentType, req.CommentLength)

	ctx, cancel := context.WithTimeout(r.Context(), completionTimeout)
	defer cancel()

	comment, err := s.completer.Complete(ctx, p)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("complete prompt: %w", err))
		return
	}

	s.logger.Info("Comment generated",
		"email", user.Email,
		"comment_type", req.CommentType,
		"comment_length", req.CommentLength)

	s.writeSuccess(w, map[string]any{"comment": comment})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r.Context(), r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeSuccess(w, map[string]any{
		"email":        user.Email,
		"subscription": user.Subscription(),
	})
}

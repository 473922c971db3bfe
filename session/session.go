// Package session persists the extension-side state: credentials, the
// cached subscription snapshot, user preferences and the capped comment
// history. Everything lives in one JSON file, written on each mutation the
// way an opaque key-value store would be.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"comment-copilot/pkg/copilot"
)

// PendingAuth is the transient record kept between requesting a code and
// verifying it.
type PendingAuth struct {
	Email string `json:"email"`
	Code  string `json:"otp"`
	Kind  string `json:"type"` // signup or login
}

// state is the full persisted shape.
type state struct {
	AuthToken      string                 `json:"authToken,omitempty"`
	UserEmail      string                 `json:"userEmail,omitempty"`
	Subscription   *copilot.Subscription  `json:"subscription,omitempty"`
	Settings       copilot.Settings       `json:"settings"`
	CommentHistory []copilot.HistoryEntry `json:"commentHistory,omitempty"`
	PendingAuth    *PendingAuth           `json:"pendingAuth,omitempty"`
}

// Store is a file-backed session store. Safe for concurrent use; the
// widget pipeline and the popup surface both touch it.
type Store struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	state state
}

// Open loads the session file, or starts empty when none exists yet.
func Open(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{path: path, logger: logger}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("unmarshal session file: %w", err)
	}
	return s, nil
}

// save persists the current state. Callers hold s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// Credentials returns the stored auth token and email. ok is false when
// either is missing, which short-circuits generation to the login prompt.
func (s *Store) Credentials() (authToken, email string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AuthToken, s.state.UserEmail, s.state.AuthToken != "" && s.state.UserEmail != ""
}

// SetCredentials stores a fresh token, email and subscription snapshot
// after a successful verify, and drops any pending auth record.
func (s *Store) SetCredentials(authToken, email string, sub copilot.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AuthToken = authToken
	s.state.UserEmail = email
	s.state.Subscription = &sub
	s.state.PendingAuth = nil
	return s.save()
}

// ClearAuth logs out: credentials and the subscription snapshot go,
// preferences and history stay.
func (s *Store) ClearAuth() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AuthToken = ""
	s.state.UserEmail = ""
	s.state.Subscription = nil
	s.state.PendingAuth = nil
	return s.save()
}

// Subscription returns the cached snapshot, or a free/inactive one when
// nothing is cached.
func (s *Store) Subscription() copilot.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Subscription == nil {
		return copilot.Subscription{Status: copilot.StatusInactive, Plan: copilot.PlanFree}
	}
	return *s.state.Subscription
}

// SetSubscription refreshes the cached snapshot.
func (s *Store) SetSubscription(sub copilot.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Subscription = &sub
	return s.save()
}

// Settings returns the saved generation preferences.
func (s *Store) Settings() copilot.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Settings
}

// SetSettings stores generation preferences.
func (s *Store) SetSettings(settings copilot.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Settings = settings
	return s.save()
}

// AppendHistory prepends an entry, evicting the oldest past the cap.
func (s *Store) AppendHistory(entry copilot.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append([]copilot.HistoryEntry{entry}, s.state.CommentHistory...)
	if len(history) > copilot.MaxHistory {
		history = history[:copilot.MaxHistory]
	}
	s.state.CommentHistory = history
	return s.save()
}

// History returns the stored entries, newest first.
func (s *Store) History() []copilot.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]copilot.HistoryEntry, len(s.state.CommentHistory))
	copy(out, s.state.CommentHistory)
	return out
}

// SetPendingAuth records an in-progress login or signup.
func (s *Store) SetPendingAuth(p PendingAuth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.PendingAuth = &p
	return s.save()
}

// PendingAuth returns the in-progress auth record, if any.
func (s *Store) PendingAuth() (PendingAuth, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.PendingAuth == nil {
		return PendingAuth{}, false
	}
	return *s.state.PendingAuth, true
}

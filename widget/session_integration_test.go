package widget

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"comment-copilot/pkg/copilot"
	"comment-copilot/session"
)

// The persisted session store must satisfy the widget's Session interface.
var _ Session = (*session.Store)(nil)

func TestGenerateWithPersistedSession(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	path := filepath.Join(t.TempDir(), "session.json")

	store, err := session.Open(path, logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := store.SetCredentials("tok-1", "a@b.com", copilot.Subscription{
		Status: copilot.StatusActive, Plan: copilot.PlanMonthly,
	}); err != nil {
		t.Fatalf("SetCredentials() error = %v", err)
	}
	if err := store.SetSettings(copilot.Settings{Industry: "logistics"}); err != nil {
		t.Fatalf("SetSettings() error = %v", err)
	}

	backend := &fakeBackend{response: "Great point about routing!"}
	in := newTestInjector(store, backend)
	_, w := enhanceFixture(t, in, fixtureHTML)

	if err := w.Generate(context.Background()); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if backend.lastReq.Settings.Industry != "logistics" {
		t.Errorf("request industry = %q, want saved setting", backend.lastReq.Settings.Industry)
	}

	// The history entry survives a reopen.
	reopened, err := session.Open(path, logger)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	history := reopened.History()
	if len(history) != 1 {
		t.Fatalf("history has %d entries, want 1", len(history))
	}
	if history[0].Comment != backend.response {
		t.Errorf("history comment = %q", history[0].Comment)
	}
	if history[0].PostExcerpt != "Shipping our new release today" {
		t.Errorf("history excerpt = %q", history[0].PostExcerpt)
	}
}

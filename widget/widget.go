// Package widget attaches the generation control panel to discovered
// comment boxes and runs the generation request lifecycle.
package widget

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"comment-copilot/pkg/copilot"
	"comment-copilot/scanner"
)

// Fixed user-facing strings. finishGeneration styles text as an error when
// it carries one of these prefixes; that is a rendering heuristic, not a
// structural error flag.
const (
	LoginPrompt     = "Please log in to use Comment Copilot"
	GenerationError = "Error generating comment. Please try again."
	loadingHTML     = `<div class="comment-copilot-loading">Generating...</div>`
)

var errorPrefixes = []string{"Error", "Please"}

// ErrGenerationInFlight is returned when Generate is called while the
// widget is already in the Requesting state.
var ErrGenerationInFlight = errors.New("generation already in flight")

// State is the widget's position in the generation lifecycle.
type State int

// Lifecycle states. Succeeded and Failed are transient; the widget settles
// back to Idle once exit actions complete.
const (
	StateIdle State = iota
	StateRequesting
)

// Generator invokes the backend generation endpoint.
type Generator interface {
	GenerateComment(ctx context.Context, authToken string, req copilot.GenerateRequest) (string, error)
}

// Session exposes the locally persisted credentials, preferences and
// history.
type Session interface {
	Credentials() (authToken, email string, ok bool)
	Settings() copilot.Settings
	AppendHistory(entry copilot.HistoryEntry) error
}

// Widget is one injected control panel bound to a comment box. It lives as
// long as the underlying page render; no explicit teardown is needed.
type Widget struct {
	id       string
	doc      *goquery.Document
	editable *goquery.Selection
	submit   *goquery.Selection // nil when the page has no locatable control

	scanner  *scanner.Scanner
	registry *Registry
	session  Session
	backend  Generator
	logger   *slog.Logger

	mu                sync.Mutex
	state             State
	commentType       copilot.CommentType
	commentLength     copilot.CommentLength
	originalContent   string
	submitWasDisabled bool
}

// ID returns the widget's stable identifier, also written to the editable
// node's bookkeeping attribute.
func (w *Widget) ID() string { return w.id }

// State returns the current lifecycle state.
func (w *Widget) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SelectType sets the comment type for the next generation.
func (w *Widget) SelectType(t copilot.CommentType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: unknown comment type %q", copilot.ErrInvalidInput, t)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.commentType = t
	return nil
}

// SelectLength sets the comment length for the next generation.
func (w *Widget) SelectLength(l copilot.CommentLength) error {
	if !l.Valid() {
		return fmt.Errorf("%w: unknown comment length %q", copilot.ErrInvalidInput, l)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.commentLength = l
	return nil
}

// SubmitSuppressed reports whether the page's native form submission must
// be blocked because this widget has a generation pending.
func (w *Widget) SubmitSuppressed() bool {
	return w.registry.Pending(w.id)
}

// Generate runs one generation: snapshot the surrounding post, call the
// backend, and write the outcome into the editable node. Missing
// credentials short-circuit to a fixed login prompt with no network call.
// A second call while one is in flight is rejected.
func (w *Widget) Generate(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateRequesting {
		w.mu.Unlock()
		return ErrGenerationInFlight
	}

	authToken, _, ok := w.session.Credentials()
	if !ok {
		w.mu.Unlock()
		w.logger.Info("Generate without credentials, prompting login", "widget_id", w.id)
		w.finish(LoginPrompt)
		return nil
	}

	w.state = StateRequesting
	requestID := uuid.NewString()
	w.registry.Register(w.id, requestID)

	// Snapshot for restoration semantics; the outcome overwrites rather
	// than restores, matching the data-original-content convention.
	if current, err := w.editable.Html(); err == nil {
		w.originalContent = current
		w.editable.SetAttr("data-original-content", current)
	}
	w.editable.SetHtml(loadingHTML)

	if w.submit != nil {
		_, w.submitWasDisabled = w.submit.Attr("disabled")
		w.submit.SetAttr("disabled", "disabled")
	}

	commentType := w.commentType
	commentLength := w.commentLength
	w.mu.Unlock()

	w.logger.Info("Generation started",
		"widget_id", w.id,
		"request_id", requestID,
		"comment_type", commentType,
		"comment_length", commentLength)

	postContent := w.scanner.ExtractPostText(w.doc)
	req := copilot.GenerateRequest{
		CommentType:   commentType,
		CommentLength: commentLength,
		PostContent:   postContent,
		Settings:      w.session.Settings().WithDefaults(),
	}

	comment, err := w.backend.GenerateComment(ctx, authToken, req)
	if err != nil {
		w.logger.Warn("Generation failed", "widget_id", w.id, "request_id", requestID, "error", err)
		w.finish(GenerationError)
		return nil
	}

	if histErr := w.session.AppendHistory(copilot.HistoryEntry{
		Timestamp:   time.Now().UTC(),
		PostExcerpt: excerpt(postContent),
		Comment:     comment,
	}); histErr != nil {
		w.logger.Warn("Failed to record history entry", "widget_id", w.id, "error", histErr)
	}

	w.logger.Info("Generation complete", "widget_id", w.id, "request_id", requestID, "comment_length_bytes", len(comment))
	w.finish(comment)
	return nil
}

// finish writes the outcome text into the editable node and runs the exit
// actions shared by both outcomes: deregister the request, restore the
// submit control's prior disabled state exactly, and hand focus back.
func (w *Widget) finish(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.registry.Deregister(w.id)

	if isErrorText(text) {
		w.editable.SetHtml(fmt.Sprintf(`<span class="comment-copilot-error">%s</span>`, html.EscapeString(text)))
	} else {
		w.editable.SetText(text)
	}

	if w.submit != nil && !w.submitWasDisabled {
		w.submit.RemoveAttr("disabled")
	}

	w.editable.SetAttr("autofocus", "autofocus")
	w.state = StateIdle
}

func isErrorText(text string) bool {
	for _, prefix := range errorPrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

// excerpt truncates post text for a history entry.
func excerpt(postContent string) string {
	runes := []rune(postContent)
	if len(runes) <= 100 {
		return postContent
	}
	return string(runes[:100]) + "..."
}

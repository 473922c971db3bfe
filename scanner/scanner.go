// Package scanner discovers comment-entry regions in feed page HTML and
// extracts nearby post text. Feed markup is not under our control, so every
// lookup runs through layered selector strategies and finding nothing is
// never an error.
package scanner

import (
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Bookkeeping attributes written onto discovered nodes. These are the only
// mutations the scanner performs; app content is never touched here.
const (
	ProcessedAttr = "data-copilot-processed"
	WidgetIDAttr  = "data-copilot-id"
)

// FallbackPostText is returned when no post content selector matches.
// Extraction is best-effort and never fails outright.
const FallbackPostText = "Feed post content"

// containerSelectors identify comment containers directly.
var containerSelectors = []string{
	".comments-comment-box",
	".comments-comment-box__form-container",
	".comments-comment-texteditor",
	".comments-container form",
	".feed-shared-update-v2__comments-container",
	".social-details-social-activity form",
	".comments-comment-box__comment-text",
}

// textboxSelectors identify editable areas whose enclosing container must be
// resolved by walking up. Accessibility labels are checked separately since
// the markup sometimes renames classes but keeps aria-label wording.
var textboxSelectors = []string{
	`div[role="textbox"]`,
	`div[contenteditable="true"]`,
	".ql-editor",
	".editor-content",
}

// postContentSelectors locate the text of the post being commented on, in
// priority order.
var postContentSelectors = []string{
	".feed-shared-update-v2__description",
	".feed-shared-text",
	".feed-shared-update-v2__commentary",
	".update-components-text",
	".feed-shared-inline-show-more-text",
	".feed-shared-update-v2__update-content-text",
	"article .break-words",
}

// submitButtonSelectors locate the page's own post/submit control, in
// priority order. Text-based heuristics run after these.
var submitButtonSelectors = []string{
	`button[type="submit"]`,
	"button.comments-comment-box__submit-button",
	`button.artdeco-button[type="submit"]`,
	"button.comments-comment-texteditor__submitButton",
	"button.artdeco-button--primary",
	"button.comments-comment-box__submit",
}

// Box is a discovered, not-yet-processed comment-entry region.
type Box struct {
	Container *goquery.Selection
	// Editable is set when discovery went through a textbox selector and
	// the editable node is therefore already known. Nil otherwise.
	Editable *goquery.Selection
}

// Scanner finds comment boxes in parsed feed pages.
type Scanner struct {
	logger *slog.Logger
}

// New creates a new scanner.
func New(logger *slog.Logger) *Scanner {
	return &Scanner{logger: logger}
}

// FindCommentBoxes scans the document for candidate comment boxes that have
// not been processed yet. Container selectors are tried first, then textbox
// selectors with the container resolved by walking up.
func (s *Scanner) FindCommentBoxes(doc *goquery.Document) []*Box {
	var boxes []*Box
	seen := make(map[*html.Node]bool)

	for _, sel := range containerSelectors {
		doc.Find(sel).Each(func(_ int, container *goquery.Selection) {
			if IsProcessed(container) || seen[container.Get(0)] {
				return
			}
			s.logger.Debug("Found comment container", "selector", sel)
			seen[container.Get(0)] = true
			boxes = append(boxes, &Box{Container: container})
		})
	}

	for _, sel := range textboxSelectors {
		doc.Find(sel).Each(func(_ int, textbox *goquery.Selection) {
			if !looksLikeCommentBox(textbox) {
				return
			}
			container := resolveContainer(textbox)
			if container == nil || IsProcessed(container) || seen[container.Get(0)] {
				return
			}
			s.logger.Debug("Found comment textbox", "selector", sel)
			seen[container.Get(0)] = true
			boxes = append(boxes, &Box{Container: container, Editable: textbox})
		})
	}

	return boxes
}

// ExtractPostText returns the text of the post nearest the top of the
// document, trying each content selector in priority order. Falls back to a
// fixed placeholder so generation can always proceed.
func (s *Scanner) ExtractPostText(doc *goquery.Document) string {
	for _, sel := range postContentSelectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			if text := strings.TrimSpace(el.Text()); text != "" {
				found = text
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}

	s.logger.Debug("No post content matched, using fallback text")
	return FallbackPostText
}

// EditableArea returns the editable node for a box: the supplied one when
// discovery already identified it, otherwise the first fallback match inside
// the container. Nil when the container holds nothing editable.
func EditableArea(box *Box) *goquery.Selection {
	if box.Editable != nil && box.Editable.Length() > 0 {
		return box.Editable
	}
	for _, sel := range []string{`[contenteditable="true"]`, `[role="textbox"]`, ".ql-editor"} {
		if found := box.Container.Find(sel).First(); found.Length() > 0 {
			return found
		}
	}
	return nil
}

// SubmitButton locates the page's own submit control for a comment box so
// it can be disabled during generation. Structural selectors first, then a
// text heuristic, widening to the enclosing form and parent scope. Nil when
// nothing plausible is found.
func SubmitButton(container *goquery.Selection) *goquery.Selection {
	for _, sel := range submitButtonSelectors {
		if btn := container.Find(sel).First(); btn.Length() > 0 {
			return btn
		}
	}

	if form := container.Closest("form"); form.Length() > 0 {
		for _, sel := range submitButtonSelectors {
			if btn := form.Find(sel).First(); btn.Length() > 0 {
				return btn
			}
		}
	}

	if btn := buttonByText(container); btn != nil {
		return btn
	}
	if parent := container.Parent(); parent.Length() > 0 {
		if btn := buttonByText(parent); btn != nil {
			return btn
		}
	}

	return nil
}

// MarkProcessed flags a container so repeat scans skip it.
func MarkProcessed(container *goquery.Selection) {
	container.SetAttr(ProcessedAttr, "true")
}

// IsProcessed reports whether a container was already enhanced.
func IsProcessed(container *goquery.Selection) bool {
	_, ok := container.Attr(ProcessedAttr)
	return ok
}

// looksLikeCommentBox checks accessibility attributes for comment wording.
func looksLikeCommentBox(textbox *goquery.Selection) bool {
	if label, ok := textbox.Attr("aria-label"); ok &&
		strings.Contains(strings.ToLower(label), "comment") {
		return true
	}
	if placeholder, ok := textbox.Attr("data-placeholder"); ok &&
		strings.Contains(strings.ToLower(placeholder), "comment") {
		return true
	}
	return false
}

// resolveContainer walks up from a textbox to the comment container that
// should host the widget.
func resolveContainer(textbox *goquery.Selection) *goquery.Selection {
	for _, sel := range []string{".comments-comment-box", ".comments-comment-box__form-container", "form"} {
		if parent := textbox.Closest(sel); parent.Length() > 0 {
			return parent
		}
	}
	if parent := textbox.Parent(); parent.Length() > 0 {
		return parent
	}
	return nil
}

func buttonByText(scope *goquery.Selection) *goquery.Selection {
	var found *goquery.Selection
	scope.Find("button").EachWithBreak(func(_ int, btn *goquery.Selection) bool {
		text := strings.ToLower(btn.Text())
		if strings.Contains(text, "post") || strings.Contains(text, "comment") {
			found = btn
			return false
		}
		return true
	})
	return found
}


package widget

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"comment-copilot/pkg/copilot"
	"comment-copilot/scanner"
)

// typeLabels are the display labels for the type selector, in order.
var typeLabels = map[copilot.CommentType]string{
	copilot.TypeAppreciation: "\U0001F44F Appreciation",
	copilot.TypeQuestion:     "❓ Question",
	copilot.TypeExperience:   "\U0001F504 Experience",
	copilot.TypeValueAdd:     "➕ Value Add",
	copilot.TypeAgreement:    "✅ Agreement",
}

// lengthLabels are the display labels for the length selector.
var lengthLabels = []struct {
	value copilot.CommentLength
	label string
}{
	{copilot.LengthBrief, "5-10 words"},
	{copilot.LengthMedium, "15-25 words"},
	{copilot.LengthDetailed, "30-50 words"},
}

// Injector attaches control panels to discovered comment boxes.
type Injector struct {
	scanner  *scanner.Scanner
	registry *Registry
	session  Session
	backend  Generator
	logger   *slog.Logger
}

// NewInjector creates an injector that wires new widgets to the given
// session, backend and registry.
func NewInjector(sc *scanner.Scanner, registry *Registry, session Session, backend Generator, logger *slog.Logger) *Injector {
	return &Injector{
		scanner:  sc,
		registry: registry,
		session:  session,
		backend:  backend,
		logger:   logger,
	}
}

// Enhance attaches a control panel to a discovered box and returns the
// bound widget. The container is marked processed first so a repeat scan is
// a no-op even when no editable area can be found; in that case Enhance
// logs and returns nil.
func (in *Injector) Enhance(doc *goquery.Document, box *scanner.Box) *Widget {
	if scanner.IsProcessed(box.Container) {
		return nil
	}
	scanner.MarkProcessed(box.Container)

	editable := scanner.EditableArea(box)
	if editable == nil {
		in.logger.Info("No editable area in comment box, skipping enhancement")
		return nil
	}

	id := uuid.NewString()
	editable.SetAttr(scanner.WidgetIDAttr, id)
	editable.AfterHtml(panelHTML(id))

	w := &Widget{
		id:            id,
		doc:           doc,
		editable:      editable,
		submit:        scanner.SubmitButton(box.Container),
		scanner:       in.scanner,
		registry:      in.registry,
		session:       in.session,
		backend:       in.backend,
		logger:        in.logger,
		commentType:   copilot.TypeAppreciation,
		commentLength: copilot.DefaultLength,
	}

	in.logger.Info("Enhanced comment box", "widget_id", id, "has_submit_control", w.submit != nil)
	return w
}

// EnhanceAll scans the document and enhances every new comment box,
// returning the widgets created this pass.
func (in *Injector) EnhanceAll(doc *goquery.Document) []*Widget {
	var widgets []*Widget
	for _, box := range in.scanner.FindCommentBoxes(doc) {
		if w := in.Enhance(doc, box); w != nil {
			widgets = append(widgets, w)
		}
	}
	return widgets
}

// panelHTML renders the control panel: type selector, length selector
// (medium preselected) and a non-submitting generate button, followed by
// the availability footer.
func panelHTML(widgetID string) string {
	var b strings.Builder

	b.WriteString(`<div class="comment-copilot-panel">`)
	b.WriteString("Type:")
	b.WriteString(`<select class="comment-copilot-type">`)
	for _, t := range copilot.CommentTypes {
		fmt.Fprintf(&b, `<option value=%q>%s</option>`, string(t), typeLabels[t])
	}
	b.WriteString("</select>")

	b.WriteString("Length:")
	b.WriteString(`<select class="comment-copilot-length">`)
	for _, l := range lengthLabels {
		if l.value == copilot.DefaultLength {
			fmt.Fprintf(&b, `<option value=%q selected>%s</option>`, string(l.value), l.label)
		} else {
			fmt.Fprintf(&b, `<option value=%q>%s</option>`, string(l.value), l.label)
		}
	}
	b.WriteString("</select>")

	fmt.Fprintf(&b, `<button type="button" class="comment-copilot-generate" data-widget=%q>`, widgetID)
	b.WriteString("✨ Generate</button>")
	b.WriteString("</div>")
	b.WriteString(`<div class="comment-copilot-footer">Comment Copilot available</div>`)

	return b.String()
}

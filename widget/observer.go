package widget

import (
	"context"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultDebounce coalesces bursts of change notifications into a single
// rescan. Feed pages mutate in clusters while content streams in.
const DefaultDebounce = 250 * time.Millisecond

// Source supplies the current page document for a rescan.
type Source interface {
	Document(ctx context.Context) (*goquery.Document, error)
}

// Observer watches for page changes and rescans for new comment boxes. A
// single debounced trigger serves both DOM mutations and URL navigation;
// an optional coarse interval acts as a safety net for missed events.
type Observer struct {
	source   Source
	injector *Injector
	logger   *slog.Logger
	onWidget func(*Widget)
	debounce time.Duration
	interval time.Duration // 0 disables the interval rescan
	changes  chan struct{}
}

// NewObserver creates an observer. onWidget is invoked for every widget
// created by a rescan and may be nil.
func NewObserver(source Source, injector *Injector, debounce, interval time.Duration, onWidget func(*Widget), logger *slog.Logger) *Observer {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Observer{
		source:   source,
		injector: injector,
		logger:   logger,
		onWidget: onWidget,
		debounce: debounce,
		interval: interval,
		changes:  make(chan struct{}, 1),
	}
}

// Notify signals that the page changed (DOM mutation or URL navigation).
// Never blocks; signals arriving during a pending debounce window coalesce.
func (o *Observer) Notify() {
	select {
	case o.changes <- struct{}{}:
	default:
	}
}

// Run scans once immediately, then rescans on debounced change signals
// until the context is cancelled.
func (o *Observer) Run(ctx context.Context) error {
	o.rescan(ctx)

	var intervalC <-chan time.Time
	if o.interval > 0 {
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		intervalC = ticker.C
	}

	var debounceTimer *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Observer stopping", "error", ctx.Err())
			return ctx.Err()

		case <-o.changes:
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(o.debounce)
				debounceC = debounceTimer.C
				continue
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(o.debounce)

		case <-debounceC:
			debounceTimer = nil
			debounceC = nil
			o.rescan(ctx)

		case <-intervalC:
			o.rescan(ctx)
		}
	}
}

func (o *Observer) rescan(ctx context.Context) {
	doc, err := o.source.Document(ctx)
	if err != nil {
		o.logger.Warn("Failed to load page document, skipping rescan", "error", err)
		return
	}

	widgets := o.injector.EnhanceAll(doc)
	if len(widgets) > 0 {
		o.logger.Info("Rescan enhanced comment boxes", "count", len(widgets))
	}
	if o.onWidget != nil {
		for _, w := range widgets {
			o.onWidget(w)
		}
	}
}

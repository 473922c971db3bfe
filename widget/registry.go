package widget

import "sync"

// Registry tracks in-flight generation requests keyed by widget ID. The
// form-submission suppressor consults it so a pending generation cannot be
// posted accidentally. Keying by widget ID keeps state from leaking across
// widgets when several comment boxes exist at once.
type Registry struct {
	mu      sync.Mutex
	pending map[string]string // widget ID -> request ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]string)}
}

// Register records a live request for a widget.
func (r *Registry) Register(widgetID, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[widgetID] = requestID
}

// Deregister removes the widget's live request, if any.
func (r *Registry) Deregister(widgetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, widgetID)
}

// Pending reports whether the widget has a live request.
func (r *Registry) Pending(widgetID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[widgetID]
	return ok
}

// Len returns the number of live requests across all widgets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

package panel

import (
	"sync"
	"time"

	"github.com/isdelr/ender-console/internal/authapi"
)

// RegistryOptions configure the panels a Registry creates.
type RegistryOptions struct {
	RevealDelay  time.Duration
	DismissDelay time.Duration
	NoticeTTL    time.Duration
	Recorder     Recorder
	// OnChange receives every state change of every panel.
	OnChange func(sessionID string, s State)
	Now      func() time.Time
}

// Registry keeps at most one panel per console session.
type Registry struct {
	api  authapi.UserAPI
	opts RegistryOptions

	mu     sync.Mutex
	panels map[string]*Panel
}

// NewRegistry creates an empty Registry.
func NewRegistry(api authapi.UserAPI, opts RegistryOptions) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		api:    api,
		opts:   opts,
		panels: make(map[string]*Panel),
	}
}

// Open mounts a fresh panel for the session, discarding any previous one, and
// starts its list load.
func (r *Registry) Open(sessionID, actor string, creds authapi.Credentials) *Panel {
	var p *Panel
	p = New(sessionID, r.api, Options{
		RevealDelay:  r.opts.RevealDelay,
		DismissDelay: r.opts.DismissDelay,
		NoticeTTL:    r.opts.NoticeTTL,
		Actor:        actor,
		Recorder:     r.opts.Recorder,
		Now:          r.opts.Now,
		OnChange: func(s State) {
			if r.opts.OnChange != nil {
				r.opts.OnChange(sessionID, s)
			}
		},
		OnRemoved: func() { r.remove(sessionID, p) },
	})

	r.mu.Lock()
	prev := r.panels[sessionID]
	r.panels[sessionID] = p
	r.mu.Unlock()

	if prev != nil {
		prev.Discard()
	}
	_ = p.Open(creds)
	return p
}

// Get returns the session's panel while it is open or closing.
func (r *Registry) Get(sessionID string) (*Panel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.panels[sessionID]
	return p, ok
}

// Drop discards the session's panel immediately.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	p := r.panels[sessionID]
	delete(r.panels, sessionID)
	r.mu.Unlock()
	if p != nil {
		p.Discard()
	}
}

// Sweep discards panels with no activity for longer than idle and returns
// how many it dropped.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.opts.Now().Add(-idle)
	var stale []*Panel

	r.mu.Lock()
	for id, p := range r.panels {
		if p.LastActive().Before(cutoff) {
			stale = append(stale, p)
			delete(r.panels, id)
		}
	}
	r.mu.Unlock()

	for _, p := range stale {
		p.Discard()
	}
	return len(stale)
}

// Len returns the number of tracked panels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.panels)
}

func (r *Registry) remove(sessionID string, p *Panel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panels[sessionID] == p {
		delete(r.panels, sessionID)
	}
}

// Package panel keeps one case list controller per browser session and
// evicts the ones that have gone idle.
package panel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/vetdesk/internal/caselist"
	"github.com/pitabwire/vetdesk/internal/observability"
	"github.com/pitabwire/vetdesk/internal/session"
	"github.com/pitabwire/vetdesk/model"
)

// APIFactory binds the case service to one session's credentials.
type APIFactory func(s *session.Session) caselist.CaseAPI

// Config tunes a Registry.
type Config struct {
	// IdleTTL is how long a panel may go unused before the janitor evicts it.
	IdleTTL time.Duration
	// JanitorInterval is the sweep period. Zero disables the background
	// janitor; Sweep can still be called directly.
	JanitorInterval time.Duration
	// List is the template for every controller. Logger, Metrics and
	// BaseContext are filled in per session.
	List caselist.Options
	// Now overrides the clock used for idle tracking.
	Now func() time.Time
}

// Panel is the server-side state of one browser session.
type Panel struct {
	Session *session.Session
	List    *caselist.Controller

	lastUsed time.Time
}

// Registry maps session IDs to panels.
type Registry struct {
	sessions *session.Manager
	newAPI   APIFactory
	cfg      Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu       sync.Mutex
	panels   map[string]*Panel
	stopped  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewRegistry creates a registry and starts its janitor when
// cfg.JanitorInterval is positive. Close stops it.
func NewRegistry(sessions *session.Manager, newAPI APIFactory, cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 2 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		sessions: sessions,
		newAPI:   newAPI,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		now:      cfg.Now,
		panels:   make(map[string]*Panel),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cfg.JanitorInterval > 0 {
		go r.janitor(cfg.JanitorInterval)
	} else {
		close(r.done)
	}
	return r
}

// Acquire returns the panel for id, loading the session and creating a
// controller on first use. An empty id starts a new session.
func (r *Registry) Acquire(ctx context.Context, id string) (*Panel, error) {
	if p, ok := r.Lookup(id); ok {
		return p, nil
	}

	s, err := r.sessions.Open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("panel: open session: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, fmt.Errorf("panel: registry closed")
	}
	if p, ok := r.panels[s.ID()]; ok {
		p.lastUsed = r.now()
		return p, nil
	}

	opts := r.cfg.List
	opts.Logger = r.logger.With(observability.SessionField(s.ID()))
	opts.Metrics = r.metrics
	opts.BaseContext = model.WithRequestContext(context.Background(), &model.RequestContext{
		SessionID: s.ID(),
		Subject:   s.Subject(),
	})

	p := &Panel{
		Session:  s,
		List:     caselist.New(r.newAPI(s), opts),
		lastUsed: r.now(),
	}
	r.panels[s.ID()] = p
	r.metrics.SetPanelSessionsActive(len(r.panels))
	r.logger.Debug("panel created", observability.SessionField(s.ID()))
	return p, nil
}

// Lookup returns a live panel without creating one and marks it used.
func (r *Registry) Lookup(id string) (*Panel, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.panels[id]
	if ok {
		p.lastUsed = r.now()
	}
	return p, ok
}

// Remove closes and forgets the panel for id.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	p, ok := r.panels[id]
	if ok {
		delete(r.panels, id)
		r.metrics.SetPanelSessionsActive(len(r.panels))
	}
	r.mu.Unlock()

	if ok {
		p.List.Close()
	}
	return ok
}

// Len returns the number of live panels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.panels)
}

// Sweep evicts panels unused for longer than IdleTTL and returns how many
// were evicted. Evicting a panel does not log the session out; the next
// request rebuilds the controller from the stored session.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.Lock()
	var evicted []*Panel
	for id, p := range r.panels {
		if now.Sub(p.lastUsed) > r.cfg.IdleTTL {
			evicted = append(evicted, p)
			delete(r.panels, id)
		}
	}
	remaining := len(r.panels)
	r.mu.Unlock()

	for _, p := range evicted {
		p.List.Close()
	}
	if len(evicted) > 0 {
		r.metrics.RecordPanelSessionsEvicted(len(evicted))
		r.metrics.SetPanelSessionsActive(remaining)
		r.logger.Info("evicted idle panels",
			zap.Int("count", len(evicted)),
			zap.Int("remaining", remaining),
			zap.Duration("idle_ttl", r.cfg.IdleTTL),
		)
	}
	return len(evicted)
}

func (r *Registry) janitor(interval time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-r.stopChan:
			return
		}
	}
}

// Close stops the janitor and closes every controller. It is safe to call
// more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.stopChan)
	panels := r.panels
	r.panels = make(map[string]*Panel)
	r.mu.Unlock()

	<-r.done
	for _, p := range panels {
		p.List.Close()
	}
	r.metrics.SetPanelSessionsActive(0)
}

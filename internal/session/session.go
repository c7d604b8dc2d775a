// Package session holds the case API credentials of one browser session.
// The bearer token lives on an explicit Session value rather than in any
// process-wide state; the case API client reads it per request and clears it
// when the server answers 401.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrNotFound is returned by a Store when no record exists for an ID.
var ErrNotFound = errors.New("session: not found")

// Record is the persisted form of a Session.
type Record struct {
	ID        string    `json:"id"`
	Token     string    `json:"token,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Session is a single browser session's credentials. It is safe for
// concurrent use.
type Session struct {
	id string

	mu        sync.RWMutex
	token     string
	subject   string
	expiresAt time.Time
	onExpire  func(id string)
	now       func() time.Time
}

// New returns an empty (logged out) session with the given ID.
func New(id string) *Session {
	return &Session{id: id, now: time.Now}
}

// FromRecord rebuilds a session from its persisted form.
func FromRecord(rec Record) *Session {
	s := New(rec.ID)
	s.token = rec.Token
	s.subject = rec.Subject
	s.expiresAt = rec.ExpiresAt
	return s
}

// ID returns the session identifier carried by the browser cookie.
func (s *Session) ID() string { return s.id }

// SetToken stores an access token. When the token is a JWT its exp and sub
// claims are read without verifying the signature; the case API remains the
// authority on validity. Opaque tokens are stored without an expiry.
func (s *Session) SetToken(token string) {
	var (
		exp time.Time
		sub string
	)
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err == nil {
		if nd, err := parsed.Claims.GetExpirationTime(); err == nil && nd != nil {
			exp = nd.Time
		}
		sub, _ = parsed.Claims.GetSubject()
	}

	s.mu.Lock()
	s.token = token
	s.subject = sub
	s.expiresAt = exp
	s.mu.Unlock()
}

// BearerToken returns the token to send, or false when the session is
// logged out or the token's exp has passed.
func (s *Session) BearerToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", false
	}
	if !s.expiresAt.IsZero() && !s.now().Before(s.expiresAt) {
		return "", false
	}
	return s.token, true
}

// Authenticated reports whether a usable token is present.
func (s *Session) Authenticated() bool {
	_, ok := s.BearerToken()
	return ok
}

// Subject returns the sub claim of the current token, if any.
func (s *Session) Subject() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subject
}

// ExpiresAt returns the token expiry, zero when unknown.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// OnExpire registers a hook invoked after Expire clears the token.
func (s *Session) OnExpire(fn func(id string)) {
	s.mu.Lock()
	s.onExpire = fn
	s.mu.Unlock()
}

// Expire clears the token. It is called when the case API rejects the
// token and on logout.
func (s *Session) Expire() {
	s.mu.Lock()
	s.token = ""
	s.subject = ""
	s.expiresAt = time.Time{}
	hook := s.onExpire
	s.mu.Unlock()

	if hook != nil {
		hook(s.id)
	}
}

// Record returns the persisted form of the session.
func (s *Session) Record() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Record{ID: s.id, Token: s.token, Subject: s.subject, ExpiresAt: s.expiresAt}
}

// NewID returns a fresh random session ID.
func NewID() string {
	return uuid.NewString()
}

// Manager loads and persists sessions through a Store.
type Manager struct {
	store Store
	ttl   time.Duration
}

// NewManager creates a manager whose records live for ttl after each save.
func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Manager{store: store, ttl: ttl}
}

// Open returns the session for id, creating a fresh logged-out session when
// the store has no record. The returned session deletes its record when it
// expires.
func (m *Manager) Open(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = NewID()
	}
	rec, err := m.store.Load(ctx, id)
	var s *Session
	switch {
	case errors.Is(err, ErrNotFound):
		s = New(id)
	case err != nil:
		return nil, fmt.Errorf("session: load %s: %w", id, err)
	default:
		s = FromRecord(rec)
	}
	s.OnExpire(func(id string) {
		// Detached from the request: the 401 that triggered this may have
		// arrived on a context that is about to be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.store.Delete(ctx, id)
	})
	return s, nil
}

// Save persists the session's current credentials.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	if err := m.store.Save(ctx, s.Record(), m.ttl); err != nil {
		return fmt.Errorf("session: save %s: %w", s.ID(), err)
	}
	return nil
}

// Destroy expires the session and removes its record.
func (m *Manager) Destroy(ctx context.Context, s *Session) error {
	s.Expire()
	if err := m.store.Delete(ctx, s.ID()); err != nil {
		return fmt.Errorf("session: delete %s: %w", s.ID(), err)
	}
	return nil
}

// HealthCheck reports whether the underlying store is reachable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if hc, ok := m.store.(interface{ HealthCheck(context.Context) error }); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

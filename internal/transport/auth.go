package transport

import (
	"crypto/sha256"
	"errors"
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/pitabwire/vetdesk/internal/config"
)

// sessionIDKey is the cookie value holding the panel session ID.
const sessionIDKey = "sid"

// CookieSessions binds browsers to panel sessions through a signed cookie.
// Only the session ID travels in the cookie; the case API token stays
// server-side in the session store.
type CookieSessions struct {
	store *sessions.CookieStore
	name  string
}

// NewCookieSessions creates the cookie binding. The secret may be any
// passphrase; it is hashed into the signing key, so it must be stable across
// restarts and replicas.
func NewCookieSessions(cfg config.SessionConfig, secret string) (*CookieSessions, error) {
	if secret == "" {
		return nil, errors.New("transport: cookie secret is required")
	}
	key := sha256.Sum256([]byte(secret))

	store := sessions.NewCookieStore(key[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   cfg.CookieMaxAge,
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	}
	name := cfg.CookieName
	if name == "" {
		name = "vetdesk_session"
	}
	return &CookieSessions{store: store, name: name}, nil
}

// SessionID returns the session ID carried by the request, or "" when the
// cookie is missing or its signature does not verify.
func (c *CookieSessions) SessionID(r *http.Request) string {
	s, err := c.store.Get(r, c.name)
	if err != nil {
		return ""
	}
	id, _ := s.Values[sessionIDKey].(string)
	return id
}

// Bind sets the cookie to id.
func (c *CookieSessions) Bind(w http.ResponseWriter, r *http.Request, id string) error {
	// Get returns a fresh session alongside a decode error; overwrite it.
	s, _ := c.store.Get(r, c.name)
	s.Values[sessionIDKey] = id
	return s.Save(r, w)
}

// Clear expires the cookie.
func (c *CookieSessions) Clear(w http.ResponseWriter, r *http.Request) error {
	s, _ := c.store.Get(r, c.name)
	delete(s.Values, sessionIDKey)
	s.Options.MaxAge = -1
	return s.Save(r, w)
}

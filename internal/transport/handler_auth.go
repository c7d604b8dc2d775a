package transport

import (
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/vetdesk/internal/caseapi"
	"github.com/pitabwire/vetdesk/internal/observability"
	"github.com/pitabwire/vetdesk/model"
)

type credentials struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authState struct {
	Authenticated bool       `json:"authenticated"`
	Subject       string     `json:"subject,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// readCredentials accepts the case service's own form encoding as well as
// JSON. email is an alias of username.
func readCredentials(w http.ResponseWriter, r *http.Request) (credentials, error) {
	var c credentials
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		if err := decodeJSON(w, r, &c); err != nil {
			return c, err
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		if err := r.ParseForm(); err != nil {
			return c, model.NewBadRequestError("invalid form body")
		}
		c.Username = r.PostForm.Get("username")
		c.Password = r.PostForm.Get("password")
	}
	if c.Username == "" {
		c.Username = c.Email
	}
	return c, nil
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	creds, err := readCredentials(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.deps.Client.Login(r.Context(), creds.Username, creds.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	p := PanelFrom(r.Context())
	p.Session.SetToken(res.AccessToken)
	if err := h.deps.Sessions.Save(r.Context(), p.Session); err != nil {
		h.fail(w, r, err)
		return
	}
	observability.RequestLogger(r.Context(), h.log).Info("signed in", zap.String("subject", p.Session.Subject()))

	state := authState{Authenticated: true, Subject: p.Session.Subject()}
	if exp := p.Session.ExpiresAt(); !exp.IsZero() {
		state.ExpiresAt = &exp
	}
	WriteJSON(w, http.StatusOK, state)
}

func (h *handlers) signup(w http.ResponseWriter, r *http.Request) {
	var in caseapi.SignupInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.deps.Client.Signup(r.Context(), in); err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]any{"created": true, "email": in.Email})
}

// logout forgets the token and the list state. The cookie is cleared so the
// next request starts a fresh session.
func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	p := PanelFrom(r.Context())
	if err := h.deps.Sessions.Destroy(r.Context(), p.Session); err != nil {
		observability.RequestLogger(r.Context(), h.log).Warn("session record not removed", zap.Error(err))
	}
	h.deps.Panels.Remove(p.Session.ID())
	if err := h.deps.Cookies.Clear(w, r); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

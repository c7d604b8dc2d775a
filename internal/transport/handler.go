package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/vetdesk/internal/caseapi"
	"github.com/pitabwire/vetdesk/model"
)

// maxJSONBody bounds decoded request bodies.
const maxJSONBody = 1 << 20

type handlers struct {
	deps Dependencies
	log  *zap.Logger
	now  func() time.Time
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.log, err)
}

// client binds the case API to the request's panel session.
func (h *handlers) client(r *http.Request) *caseapi.SessionClient {
	return h.deps.Client.ForSession(PanelFrom(r.Context()).Session)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewBadRequestError("request body is required")
		}
		return model.NewBadRequestError("invalid JSON body")
	}
	return nil
}

// caseIDParam reads the {id} route parameter.
func caseIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewBadRequestError("case id must be a positive integer")
	}
	return id, nil
}

// queryInt extracts an integer query param with a default.
func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// queryBool extracts a boolean query param; anything unparseable is false.
func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

// pageParam reads the {n} route parameter.
func pageParam(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "n"))
}

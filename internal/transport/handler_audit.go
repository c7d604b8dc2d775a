package transport

import (
	"net/http"
	"strconv"

	"github.com/pitabwire/vetdesk/internal/audit"
	"github.com/pitabwire/vetdesk/model"
)

// listAudit returns the journal entries of the caller's own session.
func (h *handlers) listAudit(w http.ResponseWriter, r *http.Request) {
	if h.deps.Journal == nil {
		WriteNotFound(w, "audit journal is disabled")
		return
	}

	f := audit.Filter{
		SessionID: model.MustRequestContext(r.Context()).SessionID,
		Limit:     queryInt(r, "limit", 0),
	}
	if s := r.URL.Query().Get("case_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			h.fail(w, r, model.NewBadRequestError("case_id must be an integer"))
			return
		}
		f.CaseID = id
	}

	entries, err := h.deps.Journal.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

package transport

import (
	"bytes"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/pitabwire/vetdesk/internal/caselist"
	"github.com/pitabwire/vetdesk/internal/observability"
	"github.com/pitabwire/vetdesk/internal/report"
	"github.com/pitabwire/vetdesk/model"
)

// refreshList re-fetches the session's list after an editor change so the
// list is current when the user returns to it. Failures are left in the
// list's own status.
func (h *handlers) refreshList(r *http.Request) {
	list := listOf(r)
	if list.Status() == caselist.StatusIdle {
		return
	}
	if err := list.Refresh(r.Context()); err != nil && !errors.Is(err, caselist.ErrSuperseded) {
		observability.RequestLogger(r.Context(), h.log).Debug("list refresh after edit failed", zap.Error(err))
	}
}

func (h *handlers) getCase(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.client(r).GetCase(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

func (h *handlers) createCase(w http.ResponseWriter, r *http.Request) {
	var in model.CaseInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.client(r).CreateCase(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.refreshList(r)
	WriteJSON(w, http.StatusCreated, c)
}

func (h *handlers) updateCase(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in model.CaseInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.client(r).UpdateCase(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.refreshList(r)
	WriteJSON(w, http.StatusOK, c)
}

// reanalyze runs the analysis on the stored case's own findings unless the
// request supplies them.
func (h *handlers) reanalyze(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	api := h.client(r)

	var in model.AnalyzeInput
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &in); err != nil {
			h.fail(w, r, err)
			return
		}
	} else {
		stored, err := api.GetCase(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		in = model.AnalyzeInputFor(stored)
	}

	c, err := api.Reanalyze(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.refreshList(r)
	WriteJSON(w, http.StatusOK, c)
}

func (h *handlers) analyze(w http.ResponseWriter, r *http.Request) {
	var in model.AnalyzeInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.client(r).Analyze(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// vomitingTree relays the vomiting triage tree. embed=ids asks for question
// IDs instead of embedded questions.
func (h *handlers) vomitingTree(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tree, err := h.client(r).VomitingTree(r.Context(), model.TriageLocale(q.Get("locale")), q.Get("embed") != "ids")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, tree)
}

// triagePrompts resolves repeated ids parameters to question texts.
func (h *handlers) triagePrompts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prompts, err := h.client(r).Prompts(r.Context(), model.TriageLocale(q.Get("locale")), q["ids"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"prompts": prompts})
}

func (h *handlers) uploadFile(w http.ResponseWriter, r *http.Request) {
	limit := h.deps.Config.CaseAPI.MaxUploadBytes
	if limit <= 0 {
		limit = 20 << 20
	}
	// Multipart framing on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteValidationError(w, []model.FieldError{{Field: "file", Code: "TOO_LARGE", Message: "file is too large"}})
			return
		}
		WriteValidationError(w, []model.FieldError{{Field: "file", Code: "REQUIRED", Message: "a file field is required"}})
		return
	}
	defer file.Close()

	att, err := h.client(r).UploadFile(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, att)
}

func (h *handlers) caseReport(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.client(r).GetCase(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, c, h.now()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

package transport

import (
	"context"
	"errors"
	"net/http"

	"github.com/pitabwire/vetdesk/internal/caselist"
	"github.com/pitabwire/vetdesk/model"
)

const csvContentType = "text/csv; charset=utf-8"

func listOf(r *http.Request) *caselist.Controller {
	return PanelFrom(r.Context()).List
}

// respondView writes the list view after a list operation. A fetch
// superseded by a newer one is not an error: the view shows whatever the
// newer fetch applied.
func (h *handlers) respondView(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil && !errors.Is(err, caselist.ErrSuperseded) {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, listOf(r).View())
}

// getView returns the list view, fetching the first page on the session's
// first visit. A failed initial fetch is reported in the view itself unless
// the session has to sign in again.
func (h *handlers) getView(w http.ResponseWriter, r *http.Request) {
	list := listOf(r)
	if list.Status() == caselist.StatusIdle {
		err := list.Fetch(r.Context())
		if model.IsCode(err, model.ErrUnauthorized) {
			h.fail(w, r, err)
			return
		}
	}
	WriteJSON(w, http.StatusOK, list.View())
}

func (h *handlers) setSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Q string `json:"q"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		h.fail(w, r, err)
		return
	}
	list := listOf(r)
	list.SetSearch(body.Q)
	WriteJSON(w, http.StatusAccepted, list.View())
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	h.respondView(w, r, listOf(r).Refresh(r.Context()))
}

func (h *handlers) nextPage(w http.ResponseWriter, r *http.Request) {
	h.respondView(w, r, listOf(r).NextPage(r.Context()))
}

func (h *handlers) prevPage(w http.ResponseWriter, r *http.Request) {
	h.respondView(w, r, listOf(r).PrevPage(r.Context()))
}

func (h *handlers) goToPage(w http.ResponseWriter, r *http.Request) {
	n, err := pageParam(r)
	if err != nil || n < 1 {
		h.fail(w, r, model.NewBadRequestError("page must be a positive integer"))
		return
	}
	h.respondView(w, r, listOf(r).GoToPage(r.Context(), n))
}

func (h *handlers) toggleSelect(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if _, err := listOf(r).ToggleSelect(id); err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, listOf(r).View())
}

func (h *handlers) selectAll(w http.ResponseWriter, r *http.Request) {
	listOf(r).SelectAllOnPage()
	WriteJSON(w, http.StatusOK, listOf(r).View())
}

func (h *handlers) clearSelection(w http.ResponseWriter, r *http.Request) {
	listOf(r).ClearSelection()
	WriteJSON(w, http.StatusOK, listOf(r).View())
}

type bulkDeleteResponse struct {
	Result caselist.BulkDeleteResult `json:"result"`
	Error  *model.ErrorEnvelope      `json:"error,omitempty"`
	View   caselist.View             `json:"view"`
}

// bulkDelete answers 207 when some deletes failed; the body lists which.
func (h *handlers) bulkDelete(w http.ResponseWriter, r *http.Request) {
	list := listOf(r)
	result, err := list.BulkDelete(r.Context(), caselist.Confirmed(queryBool(r, "confirm")))

	var batchErr *caselist.BatchError
	switch {
	case errors.As(err, &batchErr):
		WriteJSON(w, http.StatusMultiStatus, bulkDeleteResponse{
			Result: result,
			Error:  model.NewPanelError(model.ErrPartialFailure, batchErr.Error()),
			View:   list.View(),
		})
	case err != nil:
		h.fail(w, r, err)
	default:
		WriteJSON(w, http.StatusOK, bulkDeleteResponse{Result: result, View: list.View()})
	}
}

func (h *handlers) deleteOne(w http.ResponseWriter, r *http.Request) {
	id, err := caseIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list := listOf(r)
	pending, err := list.DeleteOne(r.Context(), id, caselist.Confirmed(queryBool(r, "confirm")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"undo": pending, "view": list.View()})
}

func (h *handlers) undo(w http.ResponseWriter, r *http.Request) {
	list := listOf(r)
	outcome, err := list.Undo(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"outcome": outcome, "view": list.View()})
}

func (h *handlers) dismissUndo(w http.ResponseWriter, r *http.Request) {
	list := listOf(r)
	dismissed := list.DismissUndo()
	WriteJSON(w, http.StatusOK, map[string]any{"dismissed": dismissed, "view": list.View()})
}

func (h *handlers) exportPage(w http.ResponseWriter, r *http.Request) {
	exp, err := listOf(r).ExportPage()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeAttachment(w, exp.Filename, csvContentType, exp.Data)
}

// exportAll is bounded by the handler timeout; a client that goes away
// cancels the remaining batches.
func (h *handlers) exportAll(w http.ResponseWriter, r *http.Request) {
	exp, err := listOf(r).ExportAll(r.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.fail(w, r, err)
		return
	}
	writeAttachment(w, exp.Filename, csvContentType, exp.Data)
}

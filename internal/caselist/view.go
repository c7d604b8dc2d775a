package caselist

import (
	"time"

	"github.com/pitabwire/vetdesk/model"
)

// Row is one displayed case.
type Row struct {
	ID             int64  `json:"id"`
	PatientName    string `json:"patient_name"`
	Species        string `json:"species"`
	ChiefComplaint string `json:"chief_complaint"`
	HasAnalysis    bool   `json:"has_analysis"`
	Selected       bool   `json:"selected"`
}

// UndoView describes the undo slot.
type UndoView struct {
	ID          int64     `json:"id"`
	PatientName string    `json:"patient_name"`
	DeletedAt   time.Time `json:"deleted_at"`
}

// View is a snapshot of everything the list screen renders.
type View struct {
	Rows        []Row     `json:"rows"`
	Total       int       `json:"total"`
	TotalExact  bool      `json:"total_exact"`
	Page        int       `json:"page"`
	PageSize    int       `json:"page_size"`
	TotalPages  int       `json:"total_pages"`
	Search      string    `json:"search"`
	Selected    []int64   `json:"selected"`
	AllSelected bool      `json:"all_selected"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Empty       bool      `json:"empty"`
	HasPrev     bool      `json:"has_prev"`
	HasNext     bool      `json:"has_next"`
	Undo        *UndoView `json:"undo,omitempty"`
}

// View derives the screen state. Pagination controls are disabled while the
// list is empty.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		Rows:       make([]Row, 0, len(c.items)),
		Total:      c.total,
		TotalExact: c.shape == model.ShapeEnvelope,
		Page:       c.query.Page,
		PageSize:   c.opts.PageSize,
		TotalPages: c.totalPagesLocked(),
		Search:     c.searchText,
		Selected:   c.selectedLocked(),
		Status:     c.status,
	}
	for _, it := range c.items {
		_, sel := c.selected[it.ID]
		v.Rows = append(v.Rows, Row{
			ID:             it.ID,
			PatientName:    it.PatientName,
			Species:        string(it.Species),
			ChiefComplaint: it.ChiefComplaint,
			HasAnalysis:    it.HasAnalysis(),
			Selected:       sel,
		})
	}
	v.AllSelected = len(v.Rows) > 0 && len(v.Selected) == len(v.Rows)
	if c.lastErr != nil {
		v.Error = c.lastErr.Error()
	}
	v.Empty = c.status == StatusReady && len(c.items) == 0
	if !v.Empty {
		v.HasPrev = v.Page > 1
		v.HasNext = v.Page < v.TotalPages
	}
	if c.pending != nil {
		v.Undo = &UndoView{
			ID:          c.pending.ID,
			PatientName: c.pending.Snapshot.PatientName,
			DeletedAt:   c.pending.DeletedAt,
		}
	}
	return v
}

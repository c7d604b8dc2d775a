package caselist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/vetdesk/internal/audit"
	"github.com/pitabwire/vetdesk/internal/config"
	"github.com/pitabwire/vetdesk/internal/observability"
	"github.com/pitabwire/vetdesk/model"
)

// Confirmer gates destructive actions.
type Confirmer interface {
	Confirm(action string, count int) bool
}

// Confirmed is a Confirmer with a fixed answer, typically taken from an
// explicit confirm flag on the request.
type Confirmed bool

// Confirm implements Confirmer.
func (c Confirmed) Confirm(string, int) bool { return bool(c) }

// ItemFailure is one delete that did not succeed.
type ItemFailure struct {
	ID  int64 `json:"id"`
	Err error `json:"-"`
}

// BulkDeleteResult reports every selected ID's outcome.
type BulkDeleteResult struct {
	Deleted []int64       `json:"deleted"`
	Failed  []ItemFailure `json:"failed"`
}

// OK reports whether every delete succeeded.
func (r BulkDeleteResult) OK() bool {
	return len(r.Failed) == 0
}

// BatchError is returned when some deletes of a bulk delete failed. The
// deletes that succeeded are not rolled back.
type BatchError struct {
	Attempted int
	Failed    []ItemFailure
}

func (e *BatchError) Error() string {
	ids := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		ids[i] = fmt.Sprint(f.ID)
	}
	return fmt.Sprintf("bulk delete: %d of %d deletes failed (ids %s)",
		len(e.Failed), e.Attempted, strings.Join(ids, ", "))
}

// Unwrap returns the individual delete errors.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f.Err
	}
	return errs
}

// BulkDelete deletes every selected case once confirmed. Deletes run
// concurrently and independently; failures are reported per ID in the
// result and as a *BatchError. The selection is then cleared and the current
// page re-fetched.
func (c *Controller) BulkDelete(ctx context.Context, confirm Confirmer) (BulkDeleteResult, error) {
	c.mu.Lock()
	ids := c.selectedLocked()
	c.mu.Unlock()

	if len(ids) == 0 {
		return BulkDeleteResult{}, model.NewPanelError(model.ErrEmptySelection, "no cases selected")
	}
	if confirm == nil || !confirm.Confirm("bulk_delete", len(ids)) {
		return BulkDeleteResult{}, model.NewPanelError(model.ErrNotConfirmed,
			fmt.Sprintf("deleting %d cases requires confirmation", len(ids)))
	}

	ctx, span := observability.StartSpan(ctx, "caselist.bulk_delete",
		observability.AttrSelected.Int(len(ids)),
	)

	var (
		mu     sync.Mutex
		result BulkDeleteResult
		g      errgroup.Group
	)
	g.SetLimit(c.opts.BulkDeleteConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			err := c.api.DeleteCase(ctx, id)

			entry := audit.Entry{Action: audit.ActionBulkDelete, CaseID: id, Outcome: audit.OutcomeOK}
			mu.Lock()
			if err != nil {
				result.Failed = append(result.Failed, ItemFailure{ID: id, Err: err})
				entry.Outcome = audit.OutcomeFailed
				entry.Detail = err.Error()
			} else {
				result.Deleted = append(result.Deleted, id)
			}
			mu.Unlock()
			c.journal(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Deleted, func(i, j int) bool { return result.Deleted[i] < result.Deleted[j] })
	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i].ID < result.Failed[j].ID })
	c.opts.Metrics.RecordBulkDelete(len(result.Deleted), len(result.Failed))

	var batchErr error
	if !result.OK() {
		batchErr = &BatchError{Attempted: len(ids), Failed: result.Failed}
		log := observability.RequestLogger(ctx, c.log)
		log.Warn("bulk delete partially failed",
			zap.Int("attempted", len(ids)),
			zap.Int("failed", len(result.Failed)),
		)
		for _, f := range result.Failed {
			log.Debug("case not deleted", observability.CaseField(f.ID), zap.Error(f.Err))
		}
	}
	observability.EndSpanWithError(span, batchErr)

	c.ClearSelection()
	c.refetchAfterMutation(ctx)
	return result, batchErr
}

// PendingDelete is the undo slot: the last single-row delete and the row as
// it was displayed before deletion.
type PendingDelete struct {
	ID        int64      `json:"id"`
	Snapshot  model.Case `json:"snapshot"`
	DeletedAt time.Time  `json:"deleted_at"`
}

// DeleteOne deletes a row of the displayed page once confirmed. On success
// the row's snapshot replaces whatever was in the undo slot; on failure the
// snapshot is discarded and the slot is left as it was.
func (c *Controller) DeleteOne(ctx context.Context, id int64, confirm Confirmer) (PendingDelete, error) {
	c.mu.Lock()
	snapshot, ok := c.onPageLocked(id)
	c.mu.Unlock()
	if !ok {
		return PendingDelete{}, notOnPage(id)
	}
	if confirm == nil || !confirm.Confirm("delete", 1) {
		return PendingDelete{}, model.NewPanelError(model.ErrNotConfirmed,
			fmt.Sprintf("deleting case %d requires confirmation", id))
	}

	ctx, span := observability.StartSpan(ctx, "caselist.delete", observability.AttrCaseID.Int64(id))
	err := c.api.DeleteCase(ctx, id)
	observability.EndSpanWithError(span, err)
	if err != nil {
		c.journal(ctx, audit.Entry{Action: audit.ActionDelete, CaseID: id, Outcome: audit.OutcomeFailed, Detail: err.Error()})
		return PendingDelete{}, err
	}
	c.journal(ctx, audit.Entry{Action: audit.ActionDelete, CaseID: id, Outcome: audit.OutcomeOK})

	p := PendingDelete{ID: id, Snapshot: snapshot, DeletedAt: c.opts.Now().UTC()}
	c.mu.Lock()
	c.pending = &p
	delete(c.selected, id)
	c.mu.Unlock()

	c.refetchAfterMutation(ctx)
	return p, nil
}

// RestoreResult is the outcome of an undo.
type RestoreResult string

// Undo outcomes.
const (
	// RestoreRestored means the case service restored the deleted case under
	// its original ID.
	RestoreRestored RestoreResult = "restored"
	// RestoreRecreated means restore was unsupported and the case was
	// created again from the snapshot, under a new ID.
	RestoreRecreated RestoreResult = "recreated"
	// RestoreUnsupported means the case service has no restore for this case
	// and no fallback is configured. The undo slot is cleared.
	RestoreUnsupported RestoreResult = "unsupported"
	// RestoreFailed means the call failed; the undo slot is kept.
	RestoreFailed RestoreResult = "failed"
)

// RestoreOutcome reports an undo.
type RestoreOutcome struct {
	Result RestoreResult `json:"result"`
	Case   *model.Case   `json:"case,omitempty"`
}

// Undo restores the case in the undo slot by ID. When the case service
// answers that restore is unsupported and the recreate fallback is
// configured, the snapshot is submitted as a new case instead.
func (c *Controller) Undo(ctx context.Context) (RestoreOutcome, error) {
	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()
	if p == nil {
		return RestoreOutcome{}, model.NewPanelError(model.ErrNothingToUndo, "nothing to undo")
	}

	ctx, span := observability.StartSpan(ctx, "caselist.undo", observability.AttrCaseID.Int64(p.ID))
	outcome, err := c.undo(ctx, *p)
	observability.EndSpanWithError(span, err)
	c.opts.Metrics.RecordUndo(string(outcome.Result))

	if outcome.Result != RestoreFailed {
		c.mu.Lock()
		if c.pending != nil && c.pending.ID == p.ID {
			c.pending = nil
		}
		c.mu.Unlock()
	}
	if outcome.Result == RestoreRestored || outcome.Result == RestoreRecreated {
		c.refetchAfterMutation(ctx)
	}
	return outcome, err
}

func (c *Controller) undo(ctx context.Context, p PendingDelete) (RestoreOutcome, error) {
	restored, err := c.api.RestoreCase(ctx, p.ID)
	if err == nil {
		c.journal(ctx, audit.Entry{Action: audit.ActionRestore, CaseID: p.ID, Outcome: audit.OutcomeOK})
		return RestoreOutcome{Result: RestoreRestored, Case: &restored}, nil
	}
	if !restoreUnsupported(err) {
		c.journal(ctx, audit.Entry{Action: audit.ActionRestore, CaseID: p.ID, Outcome: audit.OutcomeFailed, Detail: err.Error()})
		return RestoreOutcome{Result: RestoreFailed}, err
	}

	c.journal(ctx, audit.Entry{Action: audit.ActionRestore, CaseID: p.ID, Outcome: audit.OutcomeUnsupported, Detail: err.Error()})
	if c.opts.UndoFallback != config.UndoFallbackRecreate {
		return RestoreOutcome{Result: RestoreUnsupported}, nil
	}

	created, err := c.api.CreateCase(ctx, p.Snapshot.Input())
	if err != nil {
		c.journal(ctx, audit.Entry{Action: audit.ActionRecreate, CaseID: p.ID, Outcome: audit.OutcomeFailed, Detail: err.Error()})
		return RestoreOutcome{Result: RestoreFailed}, err
	}
	c.journal(ctx, audit.Entry{
		Action:  audit.ActionRecreate,
		CaseID:  p.ID,
		Outcome: audit.OutcomeOK,
		Detail:  fmt.Sprintf("recreated as case %d", created.ID),
	})
	return RestoreOutcome{Result: RestoreRecreated, Case: &created}, nil
}

// restoreUnsupported reports whether err means the case service cannot
// restore the case at all.
func restoreUnsupported(err error) bool {
	switch model.StatusOf(err) {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return true
	}
	return false
}

// DismissUndo empties the undo slot and reports whether it held anything.
func (c *Controller) DismissUndo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	had := c.pending != nil
	c.pending = nil
	return had
}

// Pending returns a copy of the undo slot, if set.
func (c *Controller) Pending() (PendingDelete, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return PendingDelete{}, false
	}
	return *c.pending, true
}

// refetchAfterMutation reloads the current page. A failure is already
// reflected in the status and is only logged here.
func (c *Controller) refetchAfterMutation(ctx context.Context) {
	err := c.Fetch(ctx)
	if err != nil && !errors.Is(err, ErrSuperseded) {
		observability.RequestLogger(ctx, c.log).Warn("re-fetch after mutation failed", zap.Error(err))
	}
}

func (c *Controller) journal(ctx context.Context, e audit.Entry) {
	if c.opts.Journal != nil {
		c.opts.Journal.Record(ctx, e)
	}
}

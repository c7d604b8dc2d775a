package caselist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/vetdesk/internal/audit"
	"github.com/pitabwire/vetdesk/internal/config"
	"github.com/pitabwire/vetdesk/model"
)

func TestBulkDelete_requiresSelectionAndConfirmation(t *testing.T) {
	api := newFakeAPI(5)
	c := newTestController(t, api)
	ctx := context.Background()
	require.NoError(t, c.Fetch(ctx))

	_, err := c.BulkDelete(ctx, Confirmed(true))
	assert.True(t, model.IsCode(err, model.ErrEmptySelection))

	c.SelectAllOnPage()
	_, err = c.BulkDelete(ctx, Confirmed(false))
	assert.True(t, model.IsCode(err, model.ErrNotConfirmed))
	_, err = c.BulkDelete(ctx, nil)
	assert.True(t, model.IsCode(err, model.ErrNotConfirmed))

	assert.Empty(t, api.deleteCalls)
	assert.Len(t, c.Selected(), 5, "selection survives a refused bulk delete")
}

func TestBulkDelete_partialFailure(t *testing.T) {
	api := newFakeAPI(3)
	api.deleteErr[2] = model.NewUpstreamError(500, "database is locked")
	store := audit.NewMemoryStore()
	c := newTestController(t, api, func(o *Options) {
		o.Journal = audit.NewJournal(store, nil, nil)
		o.BulkDeleteConcurrency = 2
	})
	ctx := context.Background()
	require.NoError(t, c.Fetch(ctx))
	c.SelectAllOnPage()

	result, err := c.BulkDelete(ctx, Confirmed(true))

	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr), "err = %v", err)
	assert.Equal(t, 3, batchErr.Attempted)
	assert.Contains(t, err.Error(), "1 of 3")
	assert.True(t, model.IsCode(err, model.ErrUpstreamStatus), "individual errors are reachable")

	assert.False(t, result.OK())
	assert.Equal(t, []int64{1, 3}, result.Deleted)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, int64(2), result.Failed[0].ID)

	assert.False(t, api.exists(1))
	assert.True(t, api.exists(2), "the failed case is still present")
	assert.False(t, api.exists(3))

	v := c.View()
	assert.Empty(t, v.Selected)
	require.Len(t, v.Rows, 1)
	assert.Equal(t, int64(2), v.Rows[0].ID)

	entries, err := store.List(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	failed, _ := store.List(ctx, audit.Filter{CaseID: 2})
	require.Len(t, failed, 1)
	assert.Equal(t, audit.OutcomeFailed, failed[0].Outcome)
}

func TestBulkDelete_allSucceed(t *testing.T) {
	api := newFakeAPI(12)
	c := newTestController(t, api)
	ctx := context.Background()
	require.NoError(t, c.Fetch(ctx, WithPage(2)))
	c.SelectAllOnPage()

	result, err := c.BulkDelete(ctx, Confirmed(true))
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Len(t, result.Deleted, 2)

	v := c.View()
	assert.Equal(t, 1, v.Page, "emptied last page re-clamps to the previous one")
	assert.Len(t, v.Rows, 10)
}

func TestDeleteOne_andUndoRestores(t *testing.T) {
	api := newFakeAPI(3)
	store := audit.NewMemoryStore()
	c := newTestController(t, api, func(o *Options) { o.Journal = audit.NewJournal(store, nil, nil) })
	ctx := context.Background()
	require.NoError(t, c.Fetch(ctx))

	_, err := c.DeleteOne(ctx, 3, Confirmed(false))
	assert.True(t, model.IsCode(err, model.ErrNotConfirmed))

	p, err := c.DeleteOne(ctx, 3, Confirmed(true))
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.ID)
	assert.Equal(t, "Patient 003", p.Snapshot.PatientName)
	assert.Len(t, c.View().Rows, 2)
	require.NotNil(t, c.View().Undo)

	out, err := c.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, RestoreRestored, out.Result)
	require.NotNil(t, out.Case)
	assert.Equal(t, int64(3), out.Case.ID, "restore keeps the original id")

	assert.Nil(t, c.View().Undo)
	assert.Len(t, c.View().Rows, 3)

	_, err = c.Undo(ctx)
	assert.True(t, model.IsCode(err, model.ErrNothingToUndo))

	entries, _ := store.List(ctx, audit.Filter{CaseID: 3})
	assert.Len(t, entries, 2)
}

func TestDeleteOne_notOnPage(t *testing.T) {
	api := newFakeAPI(15)
	c := newTestController(t, api)
	require.NoError(t, c.Fetch(context.Background()))

	_, err := c.DeleteOne(context.Background(), 1, Confirmed(true))
	assert.True(t, model.IsCode(err, model.ErrNotOnCurrentPage))
	assert.Empty(t, api.deleteCalls)
}

func TestDeleteOne_failureKeepsPreviousUndo(t *testing.T) {
	api := newFakeAPI(3)
	c := newTestController(t, api)
	ctx := context.Background()
	require.NoError(t, c.Fetch(ctx))

	_, err := c.DeleteOne(ctx, 3, Confirmed(true))
	require.NoError(t, err)

	api.deleteErr[2] = model.NewBackendTimeoutError()
	_, err = c.DeleteOne(ctx, 2, Confirmed(true))
	assert.True(t, model.IsCode(err, model.ErrBackendTimeout))

	p, ok := c.Pending()
	require.True(t, ok)
	assert.Equal(t, int64(3), p.ID)
}

func TestDeleteOne_secondDeleteReplacesUndo(t *testing.T) {
	api := newFakeAPI(3)
	c := newTestController(t, api)
	ctx := context.Background()
	require.NoError(t, c.Fetch(ctx))

	_, err := c.DeleteOne(ctx, 3, Confirmed(true))
	require.NoError(t, err)
	_, err = c.DeleteOne(ctx, 2, Confirmed(true))
	require.NoError(t, err)

	p, ok := c.Pending()
	require.True(t, ok)
	assert.Equal(t, int64(2), p.ID)

	assert.True(t, c.DismissUndo())
	assert.False(t, c.DismissUndo())
	_, ok = c.Pending()
	assert.False(t, ok)
}

func TestUndo_unsupportedWithoutFallback(t *testing.T) {
	api := newFakeAPI(2)
	api.restoreErr = model.NewUpstreamError(405, "Method Not Allowed")
	c := newTestController(t, api)
	ctx := context.Background()
	require.NoError(t, c.Fetch(ctx))
	_, err := c.DeleteOne(ctx, 2, Confirmed(true))
	require.NoError(t, err)

	out, err := c.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, RestoreUnsupported, out.Result)
	assert.Nil(t, out.Case)
	_, ok := c.Pending()
	assert.False(t, ok, "an unsupported restore clears the slot")
	assert.Empty(t, api.createCalls)
}

func TestUndo_recreateFallback(t *testing.T) {
	api := newFakeAPI(2)
	api.restoreErr = model.NewUpstreamError(404, "Not Found")
	c := newTestController(t, api, func(o *Options) { o.UndoFallback = config.UndoFallbackRecreate })
	ctx := context.Background()
	require.NoError(t, c.Fetch(ctx))
	_, err := c.DeleteOne(ctx, 2, Confirmed(true))
	require.NoError(t, err)

	out, err := c.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, RestoreRecreated, out.Result)
	require.NotNil(t, out.Case)
	assert.Equal(t, int64(3), out.Case.ID, "re-created cases get a new id")
	require.Len(t, api.createCalls, 1)
	assert.Equal(t, "Patient 002", api.createCalls[0].PatientName)
	assert.Len(t, c.View().Rows, 2)
}

func TestUndo_failureKeepsSlot(t *testing.T) {
	api := newFakeAPI(2)
	c := newTestController(t, api)
	ctx := context.Background()
	require.NoError(t, c.Fetch(ctx))
	_, err := c.DeleteOne(ctx, 2, Confirmed(true))
	require.NoError(t, err)

	api.restoreErr = model.NewBackendUnavailableError()
	out, err := c.Undo(ctx)
	assert.Equal(t, RestoreFailed, out.Result)
	assert.True(t, model.IsCode(err, model.ErrBackendUnavailable))
	_, ok := c.Pending()
	assert.True(t, ok, "a failed restore can be retried")

	api.restoreErr = nil
	out, err = c.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, RestoreRestored, out.Result)
}

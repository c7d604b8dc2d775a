package caselist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pitabwire/vetdesk/model"
)

func newTestController(t *testing.T, api CaseAPI, mutate ...func(*Options)) *Controller {
	t.Helper()
	opts := Options{
		PageSize:         10,
		SearchDebounce:   40 * time.Millisecond,
		ExportBatchSize:  200,
		ExportMaxBatches: 1000,
		Logger:           zaptest.NewLogger(t),
		Now: func() time.Time {
			return time.Date(2026, 4, 7, 15, 4, 5, 0, time.UTC)
		},
	}
	for _, m := range mutate {
		m(&opts)
	}
	c := New(api, opts)
	t.Cleanup(c.Close)
	return c
}

func TestNew_startsIdle(t *testing.T) {
	c := newTestController(t, newFakeAPI(0))

	v := c.View()
	assert.Equal(t, StatusIdle, v.Status)
	assert.Equal(t, 1, v.Page)
	assert.False(t, v.Empty, "an unfetched list is not an empty result")
}

func TestFetch_replacesListAndTotal(t *testing.T) {
	api := newFakeAPI(25)
	c := newTestController(t, api)

	require.NoError(t, c.Fetch(context.Background()))

	v := c.View()
	assert.Equal(t, StatusReady, v.Status)
	assert.Len(t, v.Rows, 10)
	assert.Equal(t, 25, v.Total)
	assert.True(t, v.TotalExact)
	assert.Equal(t, 3, v.TotalPages)
	assert.Equal(t, int64(25), v.Rows[0].ID, "newest first")
	assert.False(t, v.HasPrev)
	assert.True(t, v.HasNext)

	q := api.lastList()
	assert.Equal(t, model.ListQuery{Page: 1, PageSize: 10}, q)
}

func TestFetch_errorKeepsPreviousList(t *testing.T) {
	api := newFakeAPI(5)
	c := newTestController(t, api)
	require.NoError(t, c.Fetch(context.Background()))

	api.listErr = model.NewBackendUnavailableError()
	err := c.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrBackendUnavailable))

	v := c.View()
	assert.Equal(t, StatusErrored, v.Status)
	assert.Len(t, v.Rows, 5, "prior rows stay visible")
	assert.NotEmpty(t, v.Error)

	api.listErr = nil
	require.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, StatusReady, c.Status())
	assert.Empty(t, c.View().Error)
}

func TestNextPage_failureKeepsPageCursor(t *testing.T) {
	api := newFakeAPI(25)
	c := newTestController(t, api)
	ctx := context.Background()
	require.NoError(t, c.Fetch(ctx))

	api.listErr = model.NewBackendUnavailableError()
	require.Error(t, c.NextPage(ctx))

	v := c.View()
	assert.Equal(t, StatusErrored, v.Status)
	assert.Equal(t, 1, v.Page, "page stays with the rows on screen")
	assert.False(t, v.HasPrev)
	assert.Equal(t, int64(25), v.Rows[0].ID)
	assert.Equal(t, 1, c.Query().Page)

	exp, err := c.ExportPage()
	require.NoError(t, err)
	assert.Contains(t, exp.Filename, "cases_page1_")

	api.listErr = nil
	require.NoError(t, c.NextPage(ctx))
	v = c.View()
	assert.Equal(t, 2, v.Page, "no page is skipped after a failure")
	assert.Equal(t, int64(15), v.Rows[0].ID)
	assert.Equal(t, 2, api.lastList().Page)
}

func TestFetch_failedSearchKeepsFilter(t *testing.T) {
	api := newFakeAPI(5)
	c := newTestController(t, api)
	ctx := context.Background()
	require.NoError(t, c.Fetch(ctx))

	api.listErr = model.NewBackendTimeoutError()
	require.Error(t, c.Fetch(ctx, WithSearch("bella"), WithPage(1)))
	assert.Equal(t, "", c.Query().Search)

	api.listErr = nil
	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, "", api.lastList().Search, "refresh reuses the filter of the displayed rows")
	assert.Len(t, c.View().Rows, 5)
}

func TestFetch_emptyListScenario(t *testing.T) {
	c := newTestController(t, newFakeAPI(0))

	require.NoError(t, c.GoToPage(context.Background(), 4))

	v := c.View()
	assert.Equal(t, 0, v.Total)
	assert.Equal(t, 1, v.TotalPages)
	assert.Equal(t, 1, v.Page)
	assert.True(t, v.Empty)
	assert.False(t, v.HasPrev)
	assert.False(t, v.HasNext)
}

func TestFetch_emptyPageReclampsToLastPage(t *testing.T) {
	api := newFakeAPI(11)
	c := newTestController(t, api)
	require.NoError(t, c.Fetch(context.Background(), WithPage(2)))
	require.Len(t, c.View().Rows, 1)

	// Another client removes the only row on page 2.
	api.mu.Lock()
	delete(api.cases, 1)
	api.mu.Unlock()

	require.NoError(t, c.Refresh(context.Background()))

	v := c.View()
	assert.Equal(t, 1, v.Page)
	assert.Len(t, v.Rows, 10)
	assert.Equal(t, 1, v.TotalPages)
}

func TestFetch_lastIssuedQueryWins(t *testing.T) {
	api := newFakeAPI(30)
	api.add(model.Case{PatientName: "Bella", Species: model.SpeciesCat, ChiefComplaint: "sneezing"})
	c := newTestController(t, api)

	slowStarted := make(chan struct{})
	release := make(chan struct{})
	api.listHook = func(ctx context.Context, q model.ListQuery) (model.ListPage, bool, error) {
		if q.Page != 2 {
			return model.ListPage{}, false, nil
		}
		close(slowStarted)
		// Ignores cancellation and answers late with stale data.
		<-release
		return model.ListPage{
			Items: []model.Case{{ID: 999, PatientName: "Stale"}},
			Total: 31,
		}, true, nil
	}

	slowErr := make(chan error, 1)
	go func() { slowErr <- c.Fetch(context.Background(), WithPage(2)) }()
	<-slowStarted

	require.NoError(t, c.Fetch(context.Background(), WithSearch("bella"), WithPage(1)))
	close(release)

	err := <-slowErr
	assert.ErrorIs(t, err, ErrSuperseded)

	v := c.View()
	require.Len(t, v.Rows, 1)
	assert.Equal(t, "Bella", v.Rows[0].PatientName)
	assert.Equal(t, "bella", v.Search)
	assert.Equal(t, 1, v.Page)
}

func TestFetch_newFetchCancelsInFlight(t *testing.T) {
	api := newFakeAPI(30)
	c := newTestController(t, api)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	api.listHook = func(ctx context.Context, q model.ListQuery) (model.ListPage, bool, error) {
		if q.Page != 3 {
			return model.ListPage{}, false, nil
		}
		close(started)
		<-ctx.Done()
		close(cancelled)
		return model.ListPage{}, true, ctx.Err()
	}

	slowErr := make(chan error, 1)
	go func() { slowErr <- c.Fetch(context.Background(), WithPage(3)) }()
	<-started

	require.NoError(t, c.Fetch(context.Background(), WithPage(1)))

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight fetch was not cancelled")
	}
	assert.ErrorIs(t, <-slowErr, ErrSuperseded)
	assert.Equal(t, StatusReady, c.Status())
	assert.Equal(t, 1, c.View().Page)
}

func TestSetSearch_debounceCoalesces(t *testing.T) {
	api := newFakeAPI(5)
	api.add(model.Case{PatientName: "Bella", ChiefComplaint: "cough"})
	c := newTestController(t, api)

	for _, text := range []string{"b", "be", "bel", "bell", "bella"} {
		c.SetSearch(text)
		time.Sleep(5 * time.Millisecond)
	}

	assert.Equal(t, 0, api.listCount(), "no fetch inside the quiet period")
	assert.Equal(t, "bella", c.View().Search, "text is recorded immediately")

	require.Eventually(t, func() bool { return api.listCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return api.listCount() > 1 }, 150*time.Millisecond, 10*time.Millisecond)

	q := api.lastList()
	assert.Equal(t, "bella", q.Search)
	assert.Equal(t, 1, q.Page)
	require.Eventually(t, func() bool { return c.Status() == StatusReady }, time.Second, 5*time.Millisecond)
	assert.Len(t, c.View().Rows, 1)
}

func TestSetSearch_resetsToFirstPage(t *testing.T) {
	api := newFakeAPI(40)
	c := newTestController(t, api)
	require.NoError(t, c.Fetch(context.Background(), WithPage(3)))

	c.SetSearch("Patient 00")

	require.Eventually(t, func() bool { return api.listCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, api.lastList().Page)
}

func TestSetSearch_pendingTextStaysOutOfOtherFetches(t *testing.T) {
	api := newFakeAPI(40)
	c := newTestController(t, api, func(o *Options) { o.SearchDebounce = 150 * time.Millisecond })
	ctx := context.Background()
	require.NoError(t, c.Fetch(ctx, WithPage(3)))

	c.SetSearch("Patient 00")
	require.NoError(t, c.Refresh(ctx))

	q := api.lastList()
	assert.Equal(t, "", q.Search, "refresh inside the quiet period keeps the displayed filter")
	assert.Equal(t, 3, q.Page)
	assert.Equal(t, "Patient 00", c.View().Search, "typed text survives the refresh")

	require.Eventually(t, func() bool { return api.listCount() == 3 }, time.Second, 5*time.Millisecond)
	q = api.lastList()
	assert.Equal(t, "Patient 00", q.Search)
	assert.Equal(t, 1, q.Page)
	require.Eventually(t, func() bool { return c.Query().Search == "Patient 00" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.View().Page)
}

func TestClose_dropsPendingSearch(t *testing.T) {
	api := newFakeAPI(5)
	c := newTestController(t, api)

	c.SetSearch("x")
	c.Close()

	assert.Never(t, func() bool { return api.listCount() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestNavigation(t *testing.T) {
	api := newFakeAPI(25)
	c := newTestController(t, api)
	ctx := context.Background()
	require.NoError(t, c.Fetch(ctx))

	require.NoError(t, c.PrevPage(ctx))
	assert.Equal(t, 1, api.listCount(), "prev on page 1 is a no-op")

	require.NoError(t, c.NextPage(ctx))
	require.NoError(t, c.NextPage(ctx))
	assert.Equal(t, 3, c.View().Page)
	assert.Len(t, c.View().Rows, 5)

	calls := api.listCount()
	require.NoError(t, c.NextPage(ctx))
	assert.Equal(t, calls, api.listCount(), "next on the last page is a no-op")

	require.NoError(t, c.PrevPage(ctx))
	assert.Equal(t, 2, c.View().Page)

	require.NoError(t, c.GoToPage(ctx, 99))
	assert.Equal(t, 3, c.View().Page, "page is clamped to the last page")
}

func TestNavigation_bareShapeStaysOnCurrentPage(t *testing.T) {
	api := newFakeAPI(25)
	api.bare = true
	c := newTestController(t, api)
	ctx := context.Background()

	require.NoError(t, c.Fetch(ctx, WithPage(2)))

	v := c.View()
	assert.False(t, v.TotalExact)
	assert.Equal(t, 10, v.Total, "bare arrays only count the rows returned")
	assert.Equal(t, 2, v.Page)
	assert.Equal(t, 2, v.TotalPages)
	assert.False(t, v.HasNext)
}

func TestSelection_isPageScoped(t *testing.T) {
	api := newFakeAPI(15)
	c := newTestController(t, api)
	ctx := context.Background()
	require.NoError(t, c.Fetch(ctx))

	_, err := c.ToggleSelect(1)
	assert.True(t, model.IsCode(err, model.ErrNotOnCurrentPage), "id 1 is on page 2")

	on, err := c.ToggleSelect(15)
	require.NoError(t, err)
	assert.True(t, on)
	on, err = c.ToggleSelect(15)
	require.NoError(t, err)
	assert.False(t, on)

	assert.Equal(t, 10, c.SelectAllOnPage())
	v := c.View()
	assert.True(t, v.AllSelected)
	for _, id := range v.Selected {
		found := false
		for _, r := range v.Rows {
			found = found || r.ID == id
		}
		assert.Truef(t, found, "selected id %d is not on the page", id)
	}

	require.NoError(t, c.NextPage(ctx))
	assert.Empty(t, c.Selected(), "selection is cleared after a successful fetch")

	c.SelectAllOnPage()
	assert.Len(t, c.Selected(), 5, "select all replaces, never accumulates")

	c.ClearSelection()
	assert.Empty(t, c.Selected())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "idle", StatusIdle.String())
	assert.Equal(t, "loading", StatusLoading.String())
	assert.Equal(t, "ready", StatusReady.String())
	assert.Equal(t, "errored", StatusErrored.String())
	assert.Equal(t, "unknown", Status(9).String())

	b, err := StatusReady.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ready", string(b))
}

func TestStatus_loadingWhileInFlight(t *testing.T) {
	api := newFakeAPI(3)
	c := newTestController(t, api)

	started := make(chan struct{})
	release := make(chan struct{})
	api.listHook = func(ctx context.Context, q model.ListQuery) (model.ListPage, bool, error) {
		close(started)
		<-release
		return model.ListPage{}, false, nil
	}

	done := make(chan error, 1)
	go func() { done <- c.Fetch(context.Background()) }()
	<-started
	assert.Equal(t, StatusLoading, c.Status())
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StatusReady, c.Status())
}

func TestOptions_defaults(t *testing.T) {
	o := Options{ExportBatchDelay: -time.Second}.withDefaults()

	assert.Equal(t, 10, o.PageSize)
	assert.Equal(t, 300*time.Millisecond, o.SearchDebounce)
	assert.Equal(t, 200, o.ExportBatchSize)
	assert.Equal(t, 1000, o.ExportMaxBatches)
	assert.Zero(t, o.ExportBatchDelay)
	assert.Equal(t, "none", o.UndoFallback)
	assert.NotNil(t, o.Logger)
	assert.NotNil(t, o.BaseContext)
}

func TestCancelledCallerContextIsAFailure(t *testing.T) {
	api := newFakeAPI(3)
	c := newTestController(t, api)
	api.listHook = func(ctx context.Context, q model.ListQuery) (model.ListPage, bool, error) {
		return model.ListPage{}, true, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Fetch(ctx)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrSuperseded))
	assert.Equal(t, StatusErrored, c.Status())
}

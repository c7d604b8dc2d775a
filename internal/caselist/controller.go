// Package caselist keeps a server-paginated, server-searched list of cases
// consistent for one panel session and coordinates the destructive and
// export operations run against it.
//
// Fetches are tagged with a generation number. Issuing a fetch cancels the
// one in flight, and a response whose generation is no longer the latest is
// discarded, so the list always reflects the most recently issued query.
package caselist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/vetdesk/internal/audit"
	"github.com/pitabwire/vetdesk/internal/config"
	"github.com/pitabwire/vetdesk/internal/observability"
	"github.com/pitabwire/vetdesk/model"
)

// ErrSuperseded is returned by Fetch when a later fetch was issued before
// this one completed. Its result was not applied.
var ErrSuperseded = errors.New("caselist: fetch superseded by a newer query")

// CaseAPI is the subset of the case service the controller calls.
// *caseapi.SessionClient satisfies it.
type CaseAPI interface {
	ListCases(ctx context.Context, q model.ListQuery) (model.ListPage, error)
	DeleteCase(ctx context.Context, id int64) error
	RestoreCase(ctx context.Context, id int64) (model.Case, error)
	CreateCase(ctx context.Context, in model.CaseInput) (model.Case, error)
}

// Journal records destructive actions. *audit.Journal satisfies it.
type Journal interface {
	Record(ctx context.Context, e audit.Entry)
}

// Status is the state of the list region.
type Status int

// List region states. Any trigger moves the list back to StatusLoading; no
// state is terminal.
const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name written by MarshalText.
func (s *Status) UnmarshalText(b []byte) error {
	for _, st := range []Status{StatusIdle, StatusLoading, StatusReady, StatusErrored} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("caselist: unknown status %q", b)
}

// Options tunes a Controller. Zero values fall back to config.Defaults.
type Options struct {
	PageSize              int
	SearchDebounce        time.Duration
	ExportBatchSize       int
	ExportMaxBatches      int
	ExportBatchDelay      time.Duration
	BulkDeleteConcurrency int
	UndoFallback          string

	Logger  *zap.Logger
	Metrics *observability.Metrics
	Journal Journal
	Now     func() time.Time

	// BaseContext parents the fetches fired by debounced searches. It
	// usually carries the session's request context for logging.
	BaseContext context.Context
}

// OptionsFromConfig maps the panel config section onto Options.
func OptionsFromConfig(cfg config.PanelConfig) Options {
	return Options{
		PageSize:              cfg.PageSize,
		SearchDebounce:        cfg.SearchDebounce,
		ExportBatchSize:       cfg.ExportBatchSize,
		ExportMaxBatches:      cfg.ExportMaxBatches,
		ExportBatchDelay:      cfg.ExportBatchDelay,
		BulkDeleteConcurrency: cfg.BulkDeleteConcurrency,
		UndoFallback:          cfg.UndoFallback,
	}
}

func (o Options) withDefaults() Options {
	d := config.Defaults().Panel
	if o.PageSize <= 0 {
		o.PageSize = d.PageSize
	}
	if o.SearchDebounce <= 0 {
		o.SearchDebounce = d.SearchDebounce
	}
	if o.ExportBatchSize <= 0 {
		o.ExportBatchSize = d.ExportBatchSize
	}
	if o.ExportMaxBatches <= 0 {
		o.ExportMaxBatches = d.ExportMaxBatches
	}
	if o.ExportBatchDelay < 0 {
		o.ExportBatchDelay = 0
	}
	if o.BulkDeleteConcurrency <= 0 {
		o.BulkDeleteConcurrency = d.BulkDeleteConcurrency
	}
	if o.UndoFallback == "" {
		o.UndoFallback = config.UndoFallbackNone
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.BaseContext == nil {
		o.BaseContext = context.Background()
	}
	return o
}

// Controller owns the list state of one panel session. It is safe for
// concurrent use; case service calls are made without holding the lock.
type Controller struct {
	api  CaseAPI
	opts Options
	log  *zap.Logger

	lifetime context.Context
	stop     context.CancelFunc
	debounce *Debouncer

	mu sync.Mutex
	// searchText is what the user typed. It reaches a fetch only through
	// the debounced search.
	searchText string
	// query produced the displayed rows; issued is the latest query sent.
	// A failed fetch resets issued to query.
	query      model.ListQuery
	issued     model.ListQuery
	items      []model.Case
	total      int
	shape      model.ListShape
	selected   map[int64]struct{}
	status     Status
	lastErr    error
	pending    *PendingDelete
	generation uint64
	cancelLast context.CancelFunc
}

// New creates a controller in the idle state. Nothing is fetched until
// Fetch or one of the navigation operations is called.
func New(api CaseAPI, opts Options) *Controller {
	opts = opts.withDefaults()
	lifetime, stop := context.WithCancel(opts.BaseContext)
	return &Controller{
		api:      api,
		opts:     opts,
		log:      opts.Logger,
		lifetime: lifetime,
		stop:     stop,
		debounce: NewDebouncer(opts.SearchDebounce),
		query:    model.ListQuery{Page: 1, PageSize: opts.PageSize},
		issued:   model.ListQuery{Page: 1, PageSize: opts.PageSize},
		selected: make(map[int64]struct{}),
	}
}

// Close cancels any pending search and in-flight fetch. The controller must
// not be used afterwards.
func (c *Controller) Close() {
	c.debounce.Cancel()
	c.stop()
}

// Override adjusts the query of a single fetch.
type Override func(q *model.ListQuery)

// WithPage fetches page n.
func WithPage(n int) Override {
	return func(q *model.ListQuery) { q.Page = n }
}

// WithSearch fetches with the given search term.
func WithSearch(s string) Override {
	return func(q *model.ListQuery) { q.Search = s }
}

// Fetch loads the list for the latest issued query merged with overrides.
// On success the list, total, page and filter are replaced and the selection
// is cleared. On failure the previous list, page and filter are kept and the
// status becomes errored. A fetch that lands on an empty page past page 1 re-fetches the
// last existing page once.
func (c *Controller) Fetch(ctx context.Context, overrides ...Override) error {
	return c.fetch(ctx, overrides, true)
}

func (c *Controller) fetch(ctx context.Context, overrides []Override, reclamp bool) (err error) {
	c.mu.Lock()
	q := model.ListQuery{Search: c.issued.Search, Page: c.issued.Page, PageSize: c.opts.PageSize}
	for _, o := range overrides {
		o(&q)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	c.issued = q
	c.generation++
	gen := c.generation
	if c.cancelLast != nil {
		c.cancelLast()
	}
	fctx, cancel := context.WithCancel(ctx)
	c.cancelLast = cancel
	c.status = StatusLoading
	c.mu.Unlock()
	defer cancel()

	fctx, span := observability.StartSpan(fctx, "caselist.fetch",
		observability.AttrPage.Int(q.Page),
		observability.AttrPageSize.Int(q.PageSize),
		observability.AttrGeneration.Int64(int64(gen)),
	)
	defer func() {
		if errors.Is(err, ErrSuperseded) {
			span.SetAttributes(observability.AttrOperation.String("superseded"))
			span.End()
			return
		}
		observability.EndSpanWithError(span, err)
	}()

	start := c.opts.Now()
	page, apiErr := c.api.ListCases(fctx, q)
	elapsed := c.opts.Now().Sub(start)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.opts.Metrics.RecordListFetch("superseded", elapsed)
		c.log.Debug("case list fetch superseded", observability.GenerationField(gen), observability.PageField(q.Page))
		return ErrSuperseded
	}
	c.cancelLast = nil

	if apiErr != nil {
		c.issued = c.query
		c.status = StatusErrored
		c.lastErr = apiErr
		c.mu.Unlock()
		c.opts.Metrics.RecordListFetch("failed", elapsed)
		observability.RequestLogger(ctx, c.log).Warn("case list fetch failed",
			zap.String("search", q.Search),
			observability.PageField(q.Page),
			observability.GenerationField(gen),
			zap.Error(apiErr),
		)
		return apiErr
	}

	if reclamp && len(page.Items) == 0 && q.Page > 1 {
		target := q.Page - 1
		if page.TotalAuthoritative() && page.Total > 0 {
			target = model.TotalPages(page.Total, q.PageSize)
		}
		if target < q.Page {
			c.mu.Unlock()
			c.opts.Metrics.RecordListFetch("reclamped", elapsed)
			return c.fetch(ctx, []Override{WithSearch(q.Search), WithPage(target)}, false)
		}
	}

	c.items = page.Items
	c.total = page.Total
	c.shape = page.Shape
	c.selected = make(map[int64]struct{})
	c.status = StatusReady
	c.lastErr = nil
	if page.TotalAuthoritative() {
		q.Page = model.ClampPage(q.Page, page.Total, q.PageSize)
	}
	c.query = q
	c.issued = q
	if !c.debounce.Pending() {
		c.searchText = q.Search
	}
	c.mu.Unlock()

	c.opts.Metrics.RecordListFetch("applied", elapsed)
	span.SetAttributes(observability.AttrRows.Int(len(page.Items)))
	return nil
}

// SetSearch records the search text immediately and schedules a fetch of
// page 1 once the text has been stable for the debounce period. Each call
// replaces the pending one. Until it fires, other fetches keep the previous
// filter.
func (c *Controller) SetSearch(text string) {
	c.mu.Lock()
	c.searchText = text
	c.mu.Unlock()

	c.debounce.Trigger(func() {
		err := c.Fetch(c.lifetime, WithSearch(text), WithPage(1))
		if err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, context.Canceled) {
			c.log.Debug("debounced search fetch failed", zap.String("search", text), zap.Error(err))
		}
	})
}

// Refresh re-fetches the current page.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.Fetch(ctx)
}

// NextPage moves forward one page. It is a no-op on the last page.
func (c *Controller) NextPage(ctx context.Context) error {
	c.mu.Lock()
	page, last := c.issued.Page, c.totalPagesLocked()
	c.mu.Unlock()
	if page >= last {
		return nil
	}
	return c.Fetch(ctx, WithPage(page+1))
}

// PrevPage moves back one page. It is a no-op on page 1.
func (c *Controller) PrevPage(ctx context.Context) error {
	c.mu.Lock()
	page := c.issued.Page
	c.mu.Unlock()
	if page <= 1 {
		return nil
	}
	return c.Fetch(ctx, WithPage(page-1))
}

// GoToPage fetches page n, clamped to the known page range.
func (c *Controller) GoToPage(ctx context.Context, n int) error {
	c.mu.Lock()
	last := c.totalPagesLocked()
	c.mu.Unlock()
	if n < 1 {
		n = 1
	}
	if n > last {
		n = last
	}
	return c.Fetch(ctx, WithPage(n))
}

// Status returns the current list state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Query returns the query that produced the displayed list, or the one in
// flight while loading.
func (c *Controller) Query() model.ListQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.issued
}

// totalPagesLocked returns the page count. A bare-array total is only the
// number of rows on the current page, so the current page is never reported
// as past the end. Must be called with the lock held.
func (c *Controller) totalPagesLocked() int {
	pages := model.TotalPages(c.total, c.opts.PageSize)
	if c.shape == model.ShapeBare && c.query.Page > pages {
		return c.query.Page
	}
	return pages
}

// onPageLocked reports whether id is a row of the displayed page. Must be
// called with the lock held.
func (c *Controller) onPageLocked(id int64) (model.Case, bool) {
	for _, it := range c.items {
		if it.ID == id {
			return it, true
		}
	}
	return model.Case{}, false
}

func notOnPage(id int64) error {
	return model.NewPanelError(model.ErrNotOnCurrentPage, fmt.Sprintf("case %d is not on the current page", id))
}

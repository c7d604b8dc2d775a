package caselist

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pitabwire/vetdesk/model"
)

// fakeAPI is an in-memory case service. Cases are listed newest first.
type fakeAPI struct {
	mu sync.Mutex

	cases   map[int64]model.Case
	deleted map[int64]model.Case
	nextID  int64
	bare    bool

	listCalls   []model.ListQuery
	deleteCalls []int64
	createCalls []model.CaseInput

	listHook   func(ctx context.Context, q model.ListQuery) (model.ListPage, bool, error)
	listErr    error
	deleteErr  map[int64]error
	restoreErr error
}

func newFakeAPI(n int) *fakeAPI {
	f := &fakeAPI{
		cases:     make(map[int64]model.Case),
		deleted:   make(map[int64]model.Case),
		deleteErr: make(map[int64]error),
	}
	for i := 1; i <= n; i++ {
		f.add(model.Case{
			PatientName:    fmt.Sprintf("Patient %03d", i),
			Species:        model.SpeciesDog,
			ChiefComplaint: "limping",
		})
	}
	return f
}

func (f *fakeAPI) add(c model.Case) model.Case {
	f.nextID++
	c.ID = f.nextID
	f.cases[c.ID] = c
	return c
}

func (f *fakeAPI) ListCases(ctx context.Context, q model.ListQuery) (model.ListPage, error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, q)
	hook, listErr := f.listHook, f.listErr
	f.mu.Unlock()

	if hook != nil {
		if page, handled, err := hook(ctx, q); handled {
			return page, err
		}
	}
	if listErr != nil {
		return model.ListPage{}, listErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []model.Case
	for _, c := range f.cases {
		if q.Search == "" || strings.Contains(strings.ToLower(c.PatientName), strings.ToLower(q.Search)) {
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	start := (q.Page - 1) * q.PageSize
	items := []model.Case{}
	if start < len(matched) {
		end := start + q.PageSize
		if end > len(matched) {
			end = len(matched)
		}
		items = append(items, matched[start:end]...)
	}
	if f.bare {
		return model.ListPage{Items: items, Total: len(items), Shape: model.ShapeBare}, nil
	}
	return model.ListPage{Items: items, Total: len(matched), Shape: model.ShapeEnvelope}, nil
}

func (f *fakeAPI) DeleteCase(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, id)
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	c, ok := f.cases[id]
	if !ok {
		return model.NewUpstreamError(404, "Case not found")
	}
	delete(f.cases, id)
	f.deleted[id] = c
	return nil
}

func (f *fakeAPI) RestoreCase(_ context.Context, id int64) (model.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restoreErr != nil {
		return model.Case{}, f.restoreErr
	}
	c, ok := f.deleted[id]
	if !ok {
		return model.Case{}, model.NewUpstreamError(404, "Case not found")
	}
	delete(f.deleted, id)
	f.cases[id] = c
	return c, nil
}

func (f *fakeAPI) CreateCase(_ context.Context, in model.CaseInput) (model.Case, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, in)
	return f.add(model.Case{
		PatientName:    in.PatientName,
		Species:        in.Species,
		ChiefComplaint: in.ChiefComplaint,
		Analysis:       in.Analysis,
	}), nil
}

func (f *fakeAPI) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listCalls)
}

func (f *fakeAPI) lastList() model.ListQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls[len(f.listCalls)-1]
}

func (f *fakeAPI) exists(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.cases[id]
	return ok
}

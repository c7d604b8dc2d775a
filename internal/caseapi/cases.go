package caseapi

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/pitabwire/vetdesk/model"
)

// SessionClient issues case API calls on behalf of one session. A 401 answer
// expires the session's credentials.
type SessionClient struct {
	c     *Client
	creds Credentials
}

// ForSession binds the client to creds.
func (c *Client) ForSession(creds Credentials) *SessionClient {
	return &SessionClient{c: c, creds: creds}
}

func caseArgs(id int64) map[string]string {
	return map[string]string{"caseId": strconv.FormatInt(id, 10)}
}

// ListCases fetches one page. The search term is omitted when blank. The
// answer may be an {"items","total"} envelope or a bare array; both are
// normalized into a ListPage.
func (s *SessionClient) ListCases(ctx context.Context, q model.ListQuery) (model.ListPage, error) {
	query := url.Values{}
	if term := strings.TrimSpace(q.Search); term != "" {
		query.Set("q", term)
	}
	query.Set("page", strconv.Itoa(q.Page))
	query.Set("page_size", strconv.Itoa(q.PageSize))

	body, err := s.c.do(ctx, request{op: "listCases", query: query, creds: s.creds})
	if err != nil {
		return model.ListPage{}, err
	}
	return decodeListPage(body)
}

// GetCase fetches a single case.
func (s *SessionClient) GetCase(ctx context.Context, id int64) (model.Case, error) {
	var out model.Case
	err := s.c.doJSON(ctx, request{op: "getCase", pathArgs: caseArgs(id), creds: s.creds}, nil, &out)
	return out, err
}

// CreateCase creates a case. A blank species is sent as dog.
func (s *SessionClient) CreateCase(ctx context.Context, in model.CaseInput) (model.Case, error) {
	in = withDefaultSpecies(in)
	if err := s.c.schema.Validate("createCase", in); err != nil {
		return model.Case{}, err
	}
	var out model.Case
	err := s.c.doJSON(ctx, request{op: "createCase", creds: s.creds}, in, &out)
	return out, err
}

// UpdateCase replaces the writable fields of a case.
func (s *SessionClient) UpdateCase(ctx context.Context, id int64, in model.CaseInput) (model.Case, error) {
	in = withDefaultSpecies(in)
	if err := s.c.schema.Validate("updateCase", in); err != nil {
		return model.Case{}, err
	}
	var out model.Case
	err := s.c.doJSON(ctx, request{op: "updateCase", pathArgs: caseArgs(id), creds: s.creds}, in, &out)
	return out, err
}

// DeleteCase deletes a case. The response body is ignored.
func (s *SessionClient) DeleteCase(ctx context.Context, id int64) error {
	_, err := s.c.do(ctx, request{op: "deleteCase", pathArgs: caseArgs(id), creds: s.creds})
	return err
}

// RestoreCase undoes a soft delete and returns the restored case.
func (s *SessionClient) RestoreCase(ctx context.Context, id int64) (model.Case, error) {
	var out model.Case
	err := s.c.doJSON(ctx, request{op: "restoreCase", pathArgs: caseArgs(id), creds: s.creds}, nil, &out)
	return out, err
}

// Reanalyze runs the analysis for a stored case and returns the case with
// analysis, treatment and prognosis written back.
func (s *SessionClient) Reanalyze(ctx context.Context, id int64, in model.AnalyzeInput) (model.Case, error) {
	if in.Species == "" {
		in.Species = model.SpeciesDog
	}
	if err := s.c.schema.Validate("reanalyzeCase", in); err != nil {
		return model.Case{}, err
	}
	var out model.Case
	err := s.c.doJSON(ctx, request{op: "reanalyzeCase", pathArgs: caseArgs(id), creds: s.creds}, in, &out)
	return out, err
}

// Analyze runs a stateless analysis of the given findings.
func (s *SessionClient) Analyze(ctx context.Context, in model.AnalyzeInput) (model.AnalysisResult, error) {
	if in.Species == "" {
		in.Species = model.SpeciesDog
	}
	if err := s.c.schema.Validate("analyze", in); err != nil {
		return model.AnalysisResult{}, err
	}
	var out model.AnalysisResult
	err := s.c.doJSON(ctx, request{op: "analyze", creds: s.creds}, in, &out)
	return out, err
}

func withDefaultSpecies(in model.CaseInput) model.CaseInput {
	if in.Species == "" {
		in.Species = model.SpeciesDog
	}
	return in
}

package caseapi

import (
	"context"
	"net/url"

	"github.com/pitabwire/vetdesk/model"
)

// VomitingTree fetches the vomiting triage tree. An empty locale means
// Chinese. With embedPrompts false each node lists question IDs only.
func (s *SessionClient) VomitingTree(ctx context.Context, locale model.TriageLocale, embedPrompts bool) (model.TriageTree, error) {
	locale, err := triageLocale(locale)
	if err != nil {
		return model.TriageTree{}, err
	}
	embed := "prompts"
	if !embedPrompts {
		embed = "ids"
	}
	q := url.Values{}
	q.Set("locale", string(locale))
	q.Set("embed", embed)

	var out model.TriageTree
	err = s.c.doJSON(ctx, request{op: "getVomitingTree", query: q, creds: s.creds}, nil, &out)
	return out, err
}

// Prompts resolves question IDs to their text. Unknown IDs are left out of
// the answer.
func (s *SessionClient) Prompts(ctx context.Context, locale model.TriageLocale, ids []string) ([]model.TriagePrompt, error) {
	locale, err := triageLocale(locale)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	for _, id := range ids {
		if id != "" {
			q.Add("ids", id)
		}
	}
	if len(q["ids"]) == 0 {
		return nil, model.NewValidationError([]model.FieldError{
			{Field: "ids", Code: "REQUIRED", Message: "at least one question id is required"},
		})
	}
	q.Set("locale", string(locale))

	var out struct {
		Prompts []model.TriagePrompt `json:"prompts"`
	}
	if err := s.c.doJSON(ctx, request{op: "listPrompts", query: q, creds: s.creds}, nil, &out); err != nil {
		return nil, err
	}
	return out.Prompts, nil
}

func triageLocale(l model.TriageLocale) (model.TriageLocale, error) {
	if l == "" {
		return model.LocaleZH, nil
	}
	if !l.Valid() {
		return "", model.NewValidationError([]model.FieldError{
			{Field: "locale", Code: "INVALID_CHOICE", Message: "locale must be zh or en"},
		})
	}
	return l, nil
}

package caseapi

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/vetdesk/model"
)

//go:embed openapi.yaml
var contractYAML []byte

// Route is one operation of the case API contract.
type Route struct {
	OperationID  string
	Method       string
	PathTemplate string
	bodySchema   *openapi3.Schema
	contentType  string
}

// Schema indexes the case API contract by operationId. It resolves request
// routes and validates outgoing bodies before they leave the BFF.
type Schema struct {
	routes map[string]Route
}

// LoadSchema parses and validates the embedded case API contract.
func LoadSchema(ctx context.Context) (*Schema, error) {
	return loadSchema(ctx, contractYAML)
}

func loadSchema(ctx context.Context, data []byte) (*Schema, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("caseapi: loading contract: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("caseapi: validating contract: %w", err)
	}

	s := &Schema{routes: make(map[string]Route)}
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				continue
			}
			r := Route{
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: path,
			}
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				for ct, media := range op.RequestBody.Value.Content {
					r.contentType = ct
					if media.Schema != nil {
						r.bodySchema = media.Schema.Value
					}
				}
			}
			s.routes[op.OperationID] = r
		}
	}
	return s, nil
}

// Route returns the contract route for an operationId.
func (s *Schema) Route(operationID string) (Route, bool) {
	r, ok := s.routes[operationID]
	return r, ok
}

// OperationIDs returns all indexed operation IDs, sorted.
func (s *Schema) OperationIDs() []string {
	ids := make([]string, 0, len(s.routes))
	for id := range s.routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Loaded reports whether the contract has been indexed.
func (s *Schema) Loaded() bool {
	return s != nil && len(s.routes) > 0
}

// Validate checks body against the operation's request schema. It returns nil
// when valid and a VALIDATION_ERROR envelope otherwise. Required string
// fields that are blank are reported as REQUIRED.
func (s *Schema) Validate(operationID string, body any) error {
	r, ok := s.routes[operationID]
	if !ok {
		return fmt.Errorf("caseapi: operation %q not in contract", operationID)
	}
	if r.bodySchema == nil || r.contentType != "application/json" {
		return nil
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("caseapi: marshal %s body: %w", operationID, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("caseapi: %s body is not an object: %w", operationID, err)
	}

	var details []model.FieldError
	seen := make(map[string]bool)

	for _, field := range r.bodySchema.Required {
		v, exists := doc[field]
		str, isString := v.(string)
		if !exists || v == nil || (isString && strings.TrimSpace(str) == "") {
			details = append(details, model.FieldError{
				Field:   field,
				Code:    "REQUIRED",
				Message: fmt.Sprintf("%s is required", field),
			})
			seen[field] = true
		}
	}

	if err := r.bodySchema.VisitJSON(doc, openapi3.MultiErrors()); err != nil {
		for _, fe := range schemaFieldErrors(err) {
			if seen[fe.Field] {
				continue
			}
			seen[fe.Field] = true
			details = append(details, fe)
		}
	}

	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

// schemaFieldErrors flattens kin-openapi errors into field errors.
func schemaFieldErrors(err error) []model.FieldError {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		var out []model.FieldError
		for _, e := range multi {
			out = append(out, schemaFieldErrors(e)...)
		}
		return out
	}

	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		field := strings.Join(se.JSONPointer(), ".")
		code := "INVALID"
		switch se.SchemaField {
		case "required", "minLength":
			code = "REQUIRED"
		case "enum":
			code = "INVALID_CHOICE"
		case "maxLength":
			code = "TOO_LONG"
		}
		return []model.FieldError{{Field: field, Code: code, Message: se.Reason}}
	}

	return []model.FieldError{{Code: "INVALID", Message: err.Error()}}
}

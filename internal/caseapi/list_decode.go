package caseapi

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pitabwire/vetdesk/model"
)

// decodeListPage normalizes the two list shapes the case service has
// answered with. A bare array carries no total, so Total is the item count.
func decodeListPage(raw []byte) (model.ListPage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return model.ListPage{}, fmt.Errorf("caseapi: empty list response")
	}

	switch trimmed[0] {
	case '[':
		var items []model.Case
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return model.ListPage{}, fmt.Errorf("caseapi: decode case array: %w", err)
		}
		if items == nil {
			items = []model.Case{}
		}
		return model.ListPage{Items: items, Total: len(items), Shape: model.ShapeBare}, nil

	case '{':
		var env struct {
			Items []model.Case `json:"items"`
			Total *int         `json:"total"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return model.ListPage{}, fmt.Errorf("caseapi: decode case envelope: %w", err)
		}
		if env.Items == nil {
			env.Items = []model.Case{}
		}
		page := model.ListPage{Items: env.Items, Shape: model.ShapeEnvelope}
		if env.Total != nil {
			page.Total = *env.Total
		} else {
			page.Total = len(env.Items)
			page.Shape = model.ShapeBare
		}
		return page, nil
	}

	return model.ListPage{}, fmt.Errorf("caseapi: unexpected list response starting with %q", trimmed[0])
}

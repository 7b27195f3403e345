package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// applyQuery filters, orders and limits docs. Both backends share it so
// queries behave the same in tests and production.
func applyQuery(docs []Document, q Query) ([]Document, error) {
	type row struct {
		doc    Document
		fields map[string]any
	}
	filters := make([]Filter, len(q.Filters))
	for i, f := range q.Filters {
		value, err := normalize(f.Value)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", f.Field, err)
		}
		filters[i] = Filter{Field: f.Field, Op: f.Op, Value: value}
	}

	rows := make([]row, 0, len(docs))
	for _, doc := range docs {
		fields, err := decodeObject(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", doc.Path, err)
		}
		if matchesAll(fields, filters) {
			rows = append(rows, row{doc: doc, fields: fields})
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(rows, func(i, j int) bool {
			c := compareValues(rows[i].fields[q.OrderBy], rows[j].fields[q.OrderBy])
			if c == 0 {
				return rows[i].doc.Path < rows[j].doc.Path
			}
			if q.Descending {
				return c > 0
			}
			return c < 0
		})
	}

	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]Document, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out, nil
}

func matchesAll(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		value := fields[f.Field]
		switch f.Op {
		case OpEqual:
			if compareValues(value, f.Value) != 0 || !sameKind(value, f.Value) {
				return false
			}
		case OpPrefix:
			s, ok := value.(string)
			prefix, pok := f.Value.(string)
			if !ok || !pok || !strings.HasPrefix(s, prefix) {
				return false
			}
		case OpContains:
			items, ok := value.([]any)
			if !ok {
				return false
			}
			found := false
			for _, item := range items {
				if sameKind(item, f.Value) && compareValues(item, f.Value) == 0 {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func sameKind(a, b any) bool {
	return fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

// compareValues orders decoded JSON scalars; mismatched kinds sort by kind name.
func compareValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	case nil:
		if b == nil {
			return 0
		}
	}
	return strings.Compare(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b))
}

// normalize round-trips v through JSON so Go ints compare with decoded float64s.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, ErrInvalidDocument
	}
	return fields, nil
}

// validateObject checks data is a JSON object and returns a compact private copy.
func validateObject(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrInvalidDocument
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return buf.Bytes(), nil
}

// mergeObjects overlays the top-level keys of patch onto base.
func mergeObjects(base, patch []byte) ([]byte, error) {
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	if merged == nil {
		merged = make(map[string]json.RawMessage)
	}
	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(patch, &overlay); err != nil {
		return nil, err
	}
	for key, value := range overlay {
		merged[key] = value
	}
	return json.Marshal(merged)
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

package models

import "encoding/json"

// Metadata is a free-form key/value bag that must survive a JSON round-trip
// intact. Typed accessors cover the documented keys; everything else is
// carried opaquely.
type Metadata map[string]any

// String returns the value at key if it is a string, else "".
func (m Metadata) String(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// Truthy reports whether the value at key is present and truthy in the
// loose sense: non-false, non-zero, non-empty.
func (m Metadata) Truthy(key string) bool {
	if m == nil {
		return false
	}
	switch v := m[key].(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	default:
		return true
	}
}

// StringSlice returns the value at key as a list of strings, skipping
// non-string elements.
func (m Metadata) StringSlice(key string) []string {
	if m == nil {
		return nil
	}
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Section is one section of an interactive list message.
type Section struct {
	Title string `json:"title,omitempty"`
	Rows  []Row  `json:"rows"`
}

// Row is one selectable row of an interactive list section.
type Row struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Sections decodes the value at key into interactive list sections.
func (m Metadata) Sections(key string) []Section {
	if m == nil {
		return nil
	}
	raw, ok := m[key]
	if !ok {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var sections []Section
	if err := json.Unmarshal(b, &sections); err != nil {
		return nil
	}
	return sections
}

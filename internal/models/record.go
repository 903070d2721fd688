// Package models holds the schemaless record type shared by every storage
// layer.
package models

import (
	"fmt"
	"math"
	"strconv"
)

// Field names with a fixed meaning across collections.
const (
	FieldID           = "id"
	FieldKey          = "key"
	FieldPersonaID    = "personaId"
	FieldCreated      = "created"
	FieldLastModified = "lastModified"
)

// Record is a JSON object as stored in a collection.
type Record map[string]any

// Clone returns a deep copy of r; nested maps and slices are copied too.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Record(t).Clone())
	case Record:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// String returns field as a string; non-string values yield "".
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

func (r Record) PersonaID() string {
	return r.String(FieldPersonaID)
}

// Key returns the primary key stored under field, formatted as a string.
// Whole numbers are formatted without a fraction so legacy numeric ids keep
// their natural spelling.
func (r Record) Key(field string) (string, bool) {
	s := KeyString(r[field])
	return s, s != ""
}

// KeyString formats a key value; nil and empty strings yield "".
func KeyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

// Merge returns a copy of r with updates applied on top.
func (r Record) Merge(updates Record) Record {
	out := r.Clone()
	if out == nil {
		out = Record{}
	}
	for k, v := range updates {
		out[k] = cloneValue(v)
	}
	return out
}

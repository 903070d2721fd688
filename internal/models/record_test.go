package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecord_CloneIsDeep(t *testing.T) {
	r := Record{
		"id":     "1",
		"skills": []any{"go", "sql"},
		"meta":   map[string]any{"a": []any{1.0}},
	}
	c := r.Clone()
	c["skills"].([]any)[0] = "rust"
	c["meta"].(map[string]any)["a"] = "x"
	c["id"] = "2"

	assert.Equal(t, "go", r["skills"].([]any)[0])
	assert.Equal(t, []any{1.0}, r["meta"].(map[string]any)["a"])
	assert.Equal(t, "1", r["id"])
	assert.Nil(t, Record(nil).Clone())
}

func TestRecord_Key(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
		ok   bool
	}{
		{"string", "abc", "abc", true},
		{"whole float", 42.0, "42", true},
		{"fraction", 1.5, "1.5", true},
		{"int", 7, "7", true},
		{"missing", nil, "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Record{"id": tt.v}.Key("id")
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestRecord_StringAndPersona(t *testing.T) {
	r := Record{"personaId": "member", "n": 1.0}
	assert.Equal(t, "member", r.PersonaID())
	assert.Empty(t, r.String("n"))
	assert.Empty(t, r.String("absent"))
}

func TestRecord_Merge(t *testing.T) {
	base := Record{"id": "1", "title": "old", "status": "open"}
	got := base.Merge(Record{"title": "new"})

	assert.Equal(t, Record{"id": "1", "title": "new", "status": "open"}, got)
	assert.Equal(t, "old", base["title"])
	assert.Equal(t, Record{"a": 1}, Record(nil).Merge(Record{"a": 1}))
}

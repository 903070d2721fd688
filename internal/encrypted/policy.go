package encrypted

import "github.com/dmitrijs2005/canvasvault/internal/schema"

// Marker fields written next to encrypted data. Callers never see them.
const (
	FieldMarker  = "_encrypted"
	FieldPayload = "_payload"
)

// Policy says which fields of which collections are encrypted at rest.
// Fields outside the list (ids, personaId, names, timestamps) stay in clear
// so they remain queryable.
type Policy struct {
	Collections map[string]bool
	Fields      []string
	// WholeValue collections encrypt the "value" field of records flagged
	// "encrypted": true into FieldPayload.
	WholeValue map[string]bool
}

func DefaultPolicy() Policy {
	return Policy{
		Collections: map[string]bool{
			schema.Profiles:    true,
			schema.Experiences: true,
			schema.Stories:     true,
			schema.Jobs:        true,
			schema.Goals:       true,
			schema.Portfolio:   true,
			schema.Documents:   true,
			schema.Diagrams:    true,
			schema.Artifacts:   true,
		},
		Fields: []string{
			"content", "blocks", "diagramData", "data", "description", "notes",
			"summary", "situation", "task", "action", "result",
		},
		WholeValue: map[string]bool{schema.Settings: true},
	}
}

func (p Policy) covers(collection string) bool {
	return p.Collections[collection] || p.WholeValue[collection]
}

package schema

import "sort"

// Collection names.
const (
	Profiles    = "profiles"
	Experiences = "experiences"
	Stories     = "stories"
	Jobs        = "jobs"
	Goals       = "goals"
	Portfolio   = "portfolio"
	Documents   = "documents"
	Diagrams    = "diagrams"
	Artifacts   = "artifacts"
	Settings    = "settings"
	SyncMeta    = "syncMeta"
)

// Collection declares one named record set.
type Collection struct {
	Name string
	// PrimaryKey is the record field holding the key: "id" or "key".
	PrimaryKey string
	// AutoID collections get a generated id when a record has none.
	AutoID bool
	// Indexes are single-valued fields queryable by equality and sort.
	Indexes []string
	// MultiEntry fields hold arrays; equality matches any element.
	MultiEntry []string
}

func (c Collection) IsIndexed(field string) bool {
	return contains(c.Indexes, field)
}

func (c Collection) IsMultiEntry(field string) bool {
	return contains(c.MultiEntry, field)
}

// PersonaScoped reports whether records carry a personaId.
func (c Collection) PersonaScoped() bool {
	return c.IsIndexed("personaId")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Version is the schema version the embedded migrations bring a database to.
const Version = 1

var collections = []Collection{
	{Name: Profiles, PrimaryKey: "id", Indexes: []string{"personaId", "email", "lastModified"}},
	{Name: Experiences, PrimaryKey: "id", AutoID: true,
		Indexes:    []string{"personaId", "organizationName", "startDate", "endDate"},
		MultiEntry: []string{"skills", "careerPaths"}},
	{Name: Stories, PrimaryKey: "id", AutoID: true,
		Indexes:    []string{"personaId", "title", "experienceId"},
		MultiEntry: []string{"competencies"}},
	{Name: Jobs, PrimaryKey: "id", AutoID: true,
		Indexes: []string{"personaId", "company", "position", "status", "appliedDate", "lastModified"}},
	{Name: Goals, PrimaryKey: "id", AutoID: true,
		Indexes: []string{"personaId", "title", "status", "dueDate", "created"}},
	{Name: Portfolio, PrimaryKey: "id", AutoID: true,
		Indexes:    []string{"personaId", "name", "startDate", "endDate"},
		MultiEntry: []string{"technologies"}},
	{Name: Documents, PrimaryKey: "id", AutoID: true,
		Indexes: []string{"personaId", "name", "linkedType", "linkedId", "created", "lastModified"}},
	{Name: Diagrams, PrimaryKey: "id", AutoID: true,
		Indexes: []string{"personaId", "name", "linkedType", "linkedId", "created", "lastModified"}},
	{Name: Artifacts, PrimaryKey: "id", AutoID: true,
		Indexes: []string{"personaId", "type", "name", "language", "linkedType", "linkedId", "created", "lastModified"}},
	{Name: Settings, PrimaryKey: "key", Indexes: []string{"encrypted", "lastModified"}},
	{Name: SyncMeta, PrimaryKey: "key", Indexes: []string{"timestamp"}},
}

var byName = func() map[string]Collection {
	m := make(map[string]Collection, len(collections))
	for _, c := range collections {
		m[c.Name] = c
	}
	return m
}()

// Collections returns every declared collection in declaration order.
func Collections() []Collection {
	out := make([]Collection, len(collections))
	copy(out, collections)
	return out
}

func Lookup(name string) (Collection, bool) {
	c, ok := byName[name]
	return c, ok
}

// Names returns the collection names sorted alphabetically.
func Names() []string {
	names := make([]string, 0, len(collections))
	for _, c := range collections {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

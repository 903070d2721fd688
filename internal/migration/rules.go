package migration

import (
	"strings"

	"github.com/dmitrijs2005/canvasvault/internal/prefs"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
)

// RulesVersion identifies the classification table. It is written into the
// migration status so a changed table can be detected.
const RulesVersion = "1.1.0"

// BackupPrefix marks the copy of a legacy value kept after migration.
const BackupPrefix = "backup_"

// Destination is where a legacy value ends up.
type Destination string

const (
	ToProfile     Destination = "profile"
	ToExperiences Destination = "experiences"
	ToStories     Destination = "stories"
	ToJobs        Destination = "jobs"
	ToGoals       Destination = "goals"
	ToPortfolio   Destination = "portfolio"
	ToDiagrams    Destination = "diagrams"
	ToDocuments   Destination = "documents"
	ToProjects    Destination = "projects"
	ToSchemas     Destination = "schemas"
	ToTemplates   Destination = "templates"
	ToPreferences Destination = "preferences"
	ToMetadata    Destination = "metadata"
)

// Collection returns the collection a destination writes to.
func (d Destination) Collection() string {
	switch d {
	case ToProfile:
		return schema.Profiles
	case ToExperiences:
		return schema.Experiences
	case ToStories:
		return schema.Stories
	case ToJobs:
		return schema.Jobs
	case ToGoals:
		return schema.Goals
	case ToPortfolio:
		return schema.Portfolio
	case ToDiagrams:
		return schema.Diagrams
	case ToDocuments:
		return schema.Documents
	case ToPreferences:
		return schema.Settings
	}
	return schema.Artifacts
}

// Rule maps matching legacy keys to a destination.
type Rule struct {
	Name        string
	Match       func(key string) bool
	Destination Destination
}

func equals(keys ...string) func(string) bool {
	return func(key string) bool {
		for _, k := range keys {
			if key == k {
				return true
			}
		}
		return false
	}
}

func hasPrefix(prefixes ...string) func(string) bool {
	return func(key string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(key, p) {
				return true
			}
		}
		return false
	}
}

// containsFold matches case-insensitively.
func containsFold(subs ...string) func(string) bool {
	return func(key string) bool {
		lower := strings.ToLower(key)
		for _, s := range subs {
			if strings.Contains(lower, strings.ToLower(s)) {
				return true
			}
		}
		return false
	}
}

// Rules is evaluated in order; the first match wins. Keys no rule matches
// land in metadata.
var Rules = []Rule{
	{Name: "profile", Match: equals("userProfile"), Destination: ToProfile},
	{Name: "experiences", Match: equals("user_experiences", "cleansheet_experiences"), Destination: ToExperiences},
	{Name: "stories", Match: equals("user_stories"), Destination: ToStories},
	{Name: "jobs", Match: equals("user_jobs"), Destination: ToJobs},
	{Name: "goals", Match: hasPrefix("userGoals_"), Destination: ToGoals},
	{Name: "portfolio", Match: hasPrefix("userPortfolio_"), Destination: ToPortfolio},
	{Name: "diagrams", Match: hasPrefix("diagrams_", "user_diagrams_"), Destination: ToDiagrams},
	{Name: "persona-documents", Match: hasPrefix("interview_documents_", "user_documents_"), Destination: ToDocuments},
	{Name: "documents", Match: func(k string) bool {
		return containsFold("documents")(k) || strings.HasPrefix(k, "professional_document_")
	}, Destination: ToDocuments},
	{Name: "projects", Match: containsFold("project"), Destination: ToProjects},
	{Name: "forms", Match: containsFold("form"), Destination: ToSchemas},
	{Name: "tables", Match: containsFold("table"), Destination: ToSchemas},
	{Name: "reports", Match: containsFold("report"), Destination: ToSchemas},
	{Name: "preferences", Match: containsFold("preferences", "persona"), Destination: ToPreferences},
	{Name: "templates", Match: containsFold("template"), Destination: ToTemplates},
}

var fallbackRule = Rule{Name: "default", Match: func(string) bool { return true }, Destination: ToMetadata}

// Classify returns the first rule matching key.
func Classify(rules []Rule, key string) Rule {
	for _, r := range rules {
		if r.Match(key) {
			return r
		}
	}
	return fallbackRule
}

// candidatePatterns are the historical key fragments worth migrating.
var candidatePatterns = []string{
	"retailManagerDocuments",
	"researchChemistDocuments",
	"newGraduateDocuments",
	"dataAnalystDocuments",
	"professional_document_",
	"currentPersona",
	"userPreferences",
	"documentTemplates",
	"projectStructure",
	"tableDefinitions",
	"formDefinitions",
	"reportDefinitions",
}

// structuredKeys are the exact keys and prefixes of the older structured
// layout.
var (
	structuredKeys     = []string{"userProfile", "user_experiences", "cleansheet_experiences", "user_stories", "user_jobs"}
	structuredPrefixes = []string{"userGoals_", "userPortfolio_", "diagrams_", "user_diagrams_", "interview_documents_", "user_documents_"}
)

// bookkeepingKeys live in the same store but are never migrated.
var bookkeepingKeys = map[string]bool{
	prefs.KeyMigrationStatus: true,
	prefs.KeyDeviceID:        true,
	prefs.KeyUserEmail:       true,
}

// IsCandidate reports whether key holds legacy data to migrate.
func IsCandidate(key string) bool {
	if strings.HasPrefix(key, BackupPrefix) || bookkeepingKeys[key] {
		return false
	}
	for _, p := range candidatePatterns {
		if strings.Contains(key, p) {
			return true
		}
	}
	if equals(structuredKeys...)(key) {
		return true
	}
	return hasPrefix(structuredPrefixes...)(key)
}

// Package backup defines the portable export file: its current flat layout,
// the converter for legacy nested files, the password-protected credentials
// section and the checks that keep plaintext keys out of exported files.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/canvasvault/internal/filex"
	"github.com/dmitrijs2005/canvasvault/internal/models"
)

// Version is written into every exported file.
const Version = "4.1"

var (
	ErrUnsupportedVersion = errors.New("unsupported backup version")
	ErrNotEncrypted       = errors.New("backup is not encrypted")
	ErrMalformed          = errors.New("malformed backup file")
)

// File is the flat (version 4 and later) export layout. The fields after
// Location extend the format with the remaining persona collections.
type File struct {
	Version         string  `json:"version"`
	ExportDate      string  `json:"exportDate"`
	UserFirstName   string  `json:"userFirstName"`
	UserLastName    string  `json:"userLastName"`
	Email           string  `json:"email"`
	TargetRole      string  `json:"targetRole"`
	YearsExperience float64 `json:"yearsExperience"`
	Location        string  `json:"location"`

	Experiences []models.Record `json:"experiences"`
	Stories     []models.Record `json:"stories"`
	CanvasTree  any             `json:"canvasTree,omitempty"`

	APIKeys *APIKeySection `json:"apiKeysEncrypted,omitempty"`

	PersonaID string          `json:"personaId,omitempty"`
	Profile   models.Record   `json:"profile,omitempty"`
	Jobs      []models.Record `json:"jobs,omitempty"`
	Goals     []models.Record `json:"goals,omitempty"`
	Portfolio []models.Record `json:"portfolio,omitempty"`
	Documents []models.Record `json:"documents,omitempty"`
	Diagrams  []models.Record `json:"diagrams,omitempty"`
	Artifacts []models.Record `json:"artifacts,omitempty"`

	Skipped []Skipped `json:"skipped,omitempty"`
}

// Skipped lists a record that could not be exported.
type Skipped struct {
	Collection string `json:"collection"`
	Key        string `json:"key"`
	Reason     string `json:"reason"`
}

// profileFields are the profile attributes carried at the top level of a
// flat file.
var profileFields = []string{"userFirstName", "userLastName", "email", "targetRole", "yearsExperience", "location"}

// collectionFields are copied verbatim between layouts.
var collectionFields = []string{"experiences", "stories", "jobs", "goals", "portfolio", "documents", "diagrams", "artifacts"}

// MajorVersion returns the integer part of a version string, or 0 when it
// is missing or not numeric.
func MajorVersion(v string) int {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		return 0
	}
	return int(f)
}

// Parse decodes a backup document of any supported version into the flat
// layout.
func Parse(data []byte) (*File, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	version, _ := doc["version"].(string)
	if MajorVersion(version) > 4 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, version)
	}
	if format, _ := doc["format"].(string); format == EncryptedFormat {
		return nil, fmt.Errorf("%w: encrypted backup needs a password", ErrMalformed)
	}

	flat := ConvertToV4(doc)
	normalizeYears(flat)

	raw, err := json.Marshal(flat)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &f, nil
}

// ConvertToV4 normalizes a decoded document to the flat layout. Documents
// already at version 4 or later are returned unchanged. Older documents
// have data.profile fields lifted to the top level, data.experiences and
// data.stories flattened, and canvasTree and apiKeysEncrypted kept as-is.
func ConvertToV4(doc map[string]any) map[string]any {
	version, _ := doc["version"].(string)
	if MajorVersion(version) >= 4 {
		return doc
	}

	data, _ := doc["data"].(map[string]any)
	nestedProfile, _ := data["profile"].(map[string]any)
	topProfile, _ := doc["profile"].(map[string]any)

	pick := func(field string, sources ...map[string]any) any {
		for _, src := range sources {
			if v, ok := src[field]; ok && !isEmpty(v) {
				return v
			}
		}
		return nil
	}

	out := map[string]any{
		"version":    Version,
		"exportDate": doc["exportDate"],
	}
	if out["exportDate"] == nil {
		out["exportDate"] = ""
	}

	for _, field := range profileFields {
		v := pick(field, nestedProfile, doc, topProfile)
		if v == nil {
			if field == "yearsExperience" {
				v = 0
			} else {
				v = ""
			}
		}
		out[field] = v
	}

	for _, field := range collectionFields {
		v := pick(field, data, doc)
		if v == nil && (field == "experiences" || field == "stories") {
			v = []any{}
		}
		if v != nil {
			out[field] = v
		}
	}

	if v := pick("canvasTree", data, doc); v != nil {
		out["canvasTree"] = v
	}
	if v, ok := doc["apiKeysEncrypted"]; ok && v != nil {
		out["apiKeysEncrypted"] = v
	}
	if v := pick("personaId", data, doc); v != nil {
		out["personaId"] = v
	}
	if p := pick("profile", data, doc); p != nil {
		out["profile"] = p
	}
	return out
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case float64:
		return t == 0
	case bool:
		return !t
	}
	return false
}

// normalizeYears accepts yearsExperience written as a numeric string.
func normalizeYears(doc map[string]any) {
	s, ok := doc["yearsExperience"].(string)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		f = 0
	}
	doc["yearsExperience"] = f
}

// Marshal renders f as indented JSON.
func (f *File) Marshal() ([]byte, error) {
	return json.MarshalIndent(f, "", "  ")
}

// ReadFile loads and parses a backup document from disk.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// WriteFile writes v as indented JSON, readable only by the owner.
func WriteFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := filex.EnsureParentDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/canvasvault/internal/cryptox"
)

var (
	ErrPlaintextKey  = errors.New("backup contains a plaintext API key")
	ErrInvalidKeys   = errors.New("backup API key section is invalid")
	ErrNoKeysSection = errors.New("backup has no apiKeysEncrypted section")
)

// PlaintextPrefixes are vendor secret prefixes that must never appear in an
// exported key.
var PlaintextPrefixes = []string{"sk-", "sk-ant-", "sk-proj-", "AIza", "gsk_", "xai-"}

// Verification is the outcome of Verify.
type Verification struct {
	HasKeys   bool     `json:"hasKeys"`
	Providers []string `json:"providers"`
	Format    string   `json:"format"`
	Errors    []string `json:"errors"`
	// Plaintext lists providers whose key looks like a raw credential.
	Plaintext []string `json:"plaintext,omitempty"`
	// Missing is set when the file has no credentials section at all.
	Missing bool `json:"missing,omitempty"`
}

// Err folds the verification into a single error.
func (v Verification) Err() error {
	switch {
	case len(v.Plaintext) > 0:
		return fmt.Errorf("%w: %s", ErrPlaintextKey, strings.Join(v.Plaintext, ", "))
	case v.Missing:
		return ErrNoKeysSection
	case len(v.Errors) > 0:
		return fmt.Errorf("%w: %s", ErrInvalidKeys, strings.Join(v.Errors, "; "))
	}
	return nil
}

// LooksPlaintext reports whether key starts with a known vendor prefix.
func LooksPlaintext(key string) bool {
	for _, p := range PlaintextPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// Verify checks the credentials section of a raw backup document: it must
// be flagged encrypted, list at least one provider, and carry for each
// provider a key that is neither a recognizable plaintext credential nor
// shorter than the smallest possible envelope. Every entry of data is
// checked, listed or not.
func Verify(data []byte) Verification {
	res := Verification{Format: "unknown"}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		res.Errors = append(res.Errors, fmt.Sprintf("failed to parse backup file: %v", err))
		return res
	}
	if v, ok := doc["version"].(string); ok && v != "" {
		res.Format = v
	}

	section, ok := doc["apiKeysEncrypted"].(map[string]any)
	if !ok {
		res.Missing = true
		res.Errors = append(res.Errors, "no apiKeysEncrypted property found")
		return res
	}
	if enc, _ := section["encrypted"].(bool); !enc {
		res.Errors = append(res.Errors, "apiKeysEncrypted.encrypted is not true")
		return res
	}
	providers, ok := section["providers"].([]any)
	if !ok {
		res.Errors = append(res.Errors, "apiKeysEncrypted.providers is missing or not an array")
		return res
	}
	for _, p := range providers {
		if s, ok := p.(string); ok {
			res.Providers = append(res.Providers, s)
		}
	}
	keys, ok := section["data"].(map[string]any)
	if !ok {
		res.Errors = append(res.Errors, "apiKeysEncrypted.data is missing")
		return res
	}

	if len(res.Providers) == 0 {
		res.Errors = append(res.Errors, "apiKeysEncrypted.providers is empty")
	}

	listed := make(map[string]bool, len(res.Providers))
	for _, provider := range res.Providers {
		listed[strings.ToLower(provider)] = true
		entry, ok := keys[strings.ToLower(provider)].(map[string]any)
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("provider %s has no data", provider))
			continue
		}
		res.checkKey(provider, entry)
	}

	// Entries missing from providers are still scanned for leaked keys.
	unlisted := make([]string, 0, len(keys))
	for name := range keys {
		if !listed[strings.ToLower(name)] {
			unlisted = append(unlisted, name)
		}
	}
	sort.Strings(unlisted)
	for _, name := range unlisted {
		res.Errors = append(res.Errors, fmt.Sprintf("provider %s is not listed in providers", name))
		if entry, ok := keys[name].(map[string]any); ok {
			res.checkKey(name, entry)
		}
	}

	res.HasKeys = len(res.Errors) == 0
	return res
}

func (res *Verification) checkKey(provider string, entry map[string]any) {
	key, _ := entry["apiKey"].(string)
	switch {
	case key == "":
		res.Errors = append(res.Errors, fmt.Sprintf("provider %s has no apiKey", provider))
	case LooksPlaintext(key):
		res.Plaintext = append(res.Plaintext, provider)
		res.Errors = append(res.Errors, fmt.Sprintf("provider %s has a PLAINTEXT key (security violation)", provider))
	case len(key) < cryptox.MinEnvelopeLength:
		res.Errors = append(res.Errors, fmt.Sprintf("provider %s key too short to be encrypted (%d chars)", provider, len(key)))
	}
}

// VerifyFile runs Verify over an in-memory file.
func VerifyFile(f *File) Verification {
	data, err := json.Marshal(f)
	if err != nil {
		return Verification{Format: "unknown", Errors: []string{err.Error()}}
	}
	return Verify(data)
}

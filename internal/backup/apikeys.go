package backup

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/canvasvault/internal/cryptox"
)

// APIKeySection is the apiKeysEncrypted block. Every key is a
// password-derived envelope so the file stays readable on any device.
type APIKeySection struct {
	Encrypted bool                    `json:"encrypted"`
	Providers []string                `json:"providers"`
	Data      map[string]EncryptedKey `json:"data"`
}

type EncryptedKey struct {
	APIKey string `json:"apiKey"`
}

// EncryptAPIKeys seals each provider key with password. Providers are
// stored lowercase and listed in sorted order. An empty map yields nil.
func EncryptAPIKeys(keys map[string]string, password string) (*APIKeySection, error) {
	if len(password) < cryptox.MinPasswordLength {
		return nil, cryptox.ErrWeakPassword
	}
	if len(keys) == 0 {
		return nil, nil
	}

	section := &APIKeySection{Encrypted: true, Data: make(map[string]EncryptedKey, len(keys))}
	for provider, key := range keys {
		name := strings.ToLower(strings.TrimSpace(provider))
		if name == "" || key == "" {
			continue
		}
		env, err := cryptox.EncryptWithPassword(key, password)
		if err != nil {
			return nil, fmt.Errorf("encrypt %s key: %w", name, err)
		}
		section.Data[name] = EncryptedKey{APIKey: env}
		section.Providers = append(section.Providers, name)
	}
	sort.Strings(section.Providers)
	return section, nil
}

// DecryptAPIKeys opens every provider key in s. The result is keyed by
// lowercase provider name.
func DecryptAPIKeys(s *APIKeySection, password string) (map[string]string, error) {
	if s == nil || !s.Encrypted {
		return nil, ErrNotEncrypted
	}
	out := make(map[string]string, len(s.Providers))
	for _, provider := range s.Providers {
		name := strings.ToLower(provider)
		entry, ok := s.Data[name]
		if !ok || entry.APIKey == "" {
			return nil, fmt.Errorf("%w: provider %s has no key", ErrMalformed, provider)
		}
		key, err := cryptox.DecryptWithPassword(entry.APIKey, password)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s key: %w", name, err)
		}
		out[name] = key
	}
	return out, nil
}

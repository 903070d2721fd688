package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/canvasvault/internal/backend"
	"github.com/dmitrijs2005/canvasvault/internal/models"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
)

const (
	// APIKeyPrefix namespaces provider credentials in the settings collection.
	APIKeyPrefix = "apikey."
	// CanvasTreeSetting holds the persona's canvas tree, keyed per persona.
	CanvasTreeSetting = "canvasTree."
)

// GetSetting returns the stored value, or nil when the key is unset.
func (s *Service) GetSetting(ctx context.Context, key string) (any, error) {
	rec, err := s.Get(ctx, schema.Settings, key)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec["value"], nil
}

// SaveSetting stores value under key. Encrypted settings are sealed as a
// whole before they reach the database.
func (s *Service) SaveSetting(ctx context.Context, key string, value any, encrypted bool) error {
	if key == "" {
		return fmt.Errorf("%w: empty setting key", backend.ErrMissingKey)
	}
	_, err := s.Put(ctx, schema.Settings, models.Record{
		models.FieldKey: key,
		"value":         value,
		"encrypted":     encrypted,
	})
	return err
}

func (s *Service) DeleteSetting(ctx context.Context, key string) error {
	return s.Delete(ctx, schema.Settings, key)
}

func apiKeySetting(provider string) string {
	return APIKeyPrefix + strings.ToLower(strings.TrimSpace(provider))
}

// SetAPIKey stores a provider credential, always encrypted.
func (s *Service) SetAPIKey(ctx context.Context, provider, key string) error {
	if strings.TrimSpace(provider) == "" {
		return fmt.Errorf("%w: empty provider", backend.ErrMissingKey)
	}
	return s.SaveSetting(ctx, apiKeySetting(provider), key, true)
}

// APIKey returns the credential for provider, or "" when none is stored.
func (s *Service) APIKey(ctx context.Context, provider string) (string, error) {
	v, err := s.GetSetting(ctx, apiKeySetting(provider))
	if err != nil {
		return "", err
	}
	key, _ := v.(string)
	return key, nil
}

// APIKeys returns every stored credential keyed by lowercase provider.
func (s *Service) APIKeys(ctx context.Context) (map[string]string, error) {
	recs, err := s.GetAll(ctx, schema.Settings, backend.QueryOptions{
		Filter: func(r models.Record) bool { return strings.HasPrefix(r.String(models.FieldKey), APIKeyPrefix) },
	})
	if err != nil {
		return nil, err
	}
	return apiKeysFrom(recs), nil
}

func apiKeysFrom(recs []models.Record) map[string]string {
	out := make(map[string]string, len(recs))
	for _, r := range recs {
		name, ok := strings.CutPrefix(r.String(models.FieldKey), APIKeyPrefix)
		key, _ := r["value"].(string)
		if !ok || key == "" {
			continue
		}
		out[name] = key
	}
	return out
}

func (s *Service) DeleteAPIKey(ctx context.Context, provider string) error {
	return s.DeleteSetting(ctx, apiKeySetting(provider))
}

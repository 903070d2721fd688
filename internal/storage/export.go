package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/canvasvault/internal/backend"
	"github.com/dmitrijs2005/canvasvault/internal/backup"
	"github.com/dmitrijs2005/canvasvault/internal/common"
	"github.com/dmitrijs2005/canvasvault/internal/cryptox"
	"github.com/dmitrijs2005/canvasvault/internal/encrypted"
	"github.com/dmitrijs2005/canvasvault/internal/models"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
	"golang.org/x/sync/errgroup"
)

type ExportOptions struct {
	// Password seals the credentials section. Required with IncludeAPIKeys.
	Password       string
	IncludeAPIKeys bool
}

type ImportOptions struct {
	Password       string
	RestoreAPIKeys bool
}

// ImportResult summarizes what ImportAll wrote.
type ImportResult struct {
	PersonaID string         `json:"personaId"`
	Records   map[string]int `json:"records"`
	APIKeys   int            `json:"apiKeys"`
}

// exportedCollections are read concurrently by ExportAll.
var exportedCollections = []string{
	schema.Experiences, schema.Stories, schema.Jobs, schema.Goals,
	schema.Portfolio, schema.Documents, schema.Diagrams, schema.Artifacts,
}

// importedCollections is the transaction scope of ImportAll.
var importedCollections = append([]string{schema.Profiles, schema.Settings}, exportedCollections...)

// ExportAll builds a flat backup of one persona. Records are decrypted;
// records that fail to decrypt are left out and listed in Skipped instead
// of failing the export. Credentials are only included password-sealed.
func (s *Service) ExportAll(ctx context.Context, persona string, opts ExportOptions) (f *backup.File, err error) {
	defer s.observe("export", "", time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	if opts.IncludeAPIKeys && len(opts.Password) < cryptox.MinPasswordLength {
		return nil, cryptox.ErrWeakPassword
	}

	records := make([][]models.Record, len(exportedCollections))
	skipped := make([][]encrypted.SkippedRecord, len(exportedCollections))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range exportedCollections {
		g.Go(func() error {
			recs, sk, err := b.GetAllLenient(gctx, c, backend.QueryOptions{PersonaID: persona})
			if err != nil {
				return fmt.Errorf("export %s: %w", c, err)
			}
			records[i], skipped[i] = recs, sk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	f = &backup.File{
		Version:    backup.Version,
		ExportDate: common.FormatTimestamp(s.now()),
		PersonaID:  persona,
	}

	profile, err := b.Get(ctx, schema.Profiles, persona)
	switch {
	case errors.Is(err, cryptox.ErrDecryption):
		f.Skipped = append(f.Skipped, backup.Skipped{Collection: schema.Profiles, Key: persona, Reason: err.Error()})
		s.metrics.SkippedRecord(schema.Profiles)
	case err != nil:
		return nil, fmt.Errorf("export profile: %w", err)
	case profile != nil:
		f.Profile = profile
		flattenProfile(f, profile)
	}

	for i, c := range exportedCollections {
		recs := records[i]
		if recs == nil {
			recs = []models.Record{}
		}
		switch c {
		case schema.Experiences:
			f.Experiences = recs
		case schema.Stories:
			f.Stories = recs
		case schema.Jobs:
			f.Jobs = recs
		case schema.Goals:
			f.Goals = recs
		case schema.Portfolio:
			f.Portfolio = recs
		case schema.Documents:
			f.Documents = recs
		case schema.Diagrams:
			f.Diagrams = recs
		case schema.Artifacts:
			f.Artifacts = recs
		}
		for _, sk := range skipped[i] {
			f.Skipped = append(f.Skipped, backup.Skipped{Collection: sk.Collection, Key: sk.Key, Reason: sk.Reason})
		}
	}

	tree, err := b.Get(ctx, schema.Settings, CanvasTreeSetting+persona)
	switch {
	case errors.Is(err, cryptox.ErrDecryption):
		f.Skipped = append(f.Skipped, backup.Skipped{Collection: schema.Settings, Key: CanvasTreeSetting + persona, Reason: err.Error()})
		s.metrics.SkippedRecord(schema.Settings)
	case err != nil:
		return nil, fmt.Errorf("export canvas tree: %w", err)
	case tree != nil && tree["value"] != nil:
		f.CanvasTree = tree["value"]
	}

	if opts.IncludeAPIKeys {
		keys, sk, err := s.exportAPIKeys(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("export api keys: %w", err)
		}
		f.Skipped = append(f.Skipped, sk...)
		if f.APIKeys, err = backup.EncryptAPIKeys(keys, opts.Password); err != nil {
			return nil, err
		}
		if f.APIKeys != nil {
			if err := backup.VerifyFile(f).Err(); err != nil {
				return nil, err
			}
		}
	}

	if len(f.Skipped) > 0 {
		s.log.Warn(ctx, "export skipped undecryptable records", "persona", persona, "skipped", len(f.Skipped))
	}
	s.log.Info(ctx, "export complete", "persona", persona, "experiences", len(f.Experiences), "stories", len(f.Stories))
	return f, nil
}

// exportAPIKeys reads the stored credentials, reporting the ones sealed
// under another identifier instead of failing.
func (s *Service) exportAPIKeys(ctx context.Context, b *encrypted.Backend) (map[string]string, []backup.Skipped, error) {
	recs, sk, err := b.GetAllLenient(ctx, schema.Settings, backend.QueryOptions{})
	if err != nil {
		return nil, nil, err
	}
	keys := apiKeysFrom(recs)
	var skipped []backup.Skipped
	for _, r := range sk {
		if strings.HasPrefix(r.Key, APIKeyPrefix) {
			skipped = append(skipped, backup.Skipped{Collection: r.Collection, Key: r.Key, Reason: r.Reason})
		}
	}
	return keys, skipped, nil
}

func flattenProfile(f *backup.File, p models.Record) {
	f.UserFirstName = p.String("userFirstName")
	f.UserLastName = p.String("userLastName")
	f.Email = p.String("email")
	f.TargetRole = p.String("targetRole")
	f.Location = p.String("location")
	switch v := p["yearsExperience"].(type) {
	case float64:
		f.YearsExperience = v
	case string:
		f.YearsExperience, _ = strconv.ParseFloat(v, 64)
	case json.Number:
		f.YearsExperience, _ = v.Float64()
	}
}

// profileFromFile rebuilds the profile record from the stored profile and
// the flat top-level fields; the flat fields win.
func profileFromFile(f *backup.File) models.Record {
	p := f.Profile.Clone()
	if p == nil {
		p = models.Record{}
	}
	set := func(field, v string) {
		if v != "" {
			p[field] = v
		}
	}
	set("userFirstName", f.UserFirstName)
	set("userLastName", f.UserLastName)
	set("email", f.Email)
	set("targetRole", f.TargetRole)
	set("location", f.Location)
	if f.YearsExperience != 0 {
		p["yearsExperience"] = f.YearsExperience
	}
	if len(p) == 0 {
		return nil
	}
	return p
}

func fileCollections(f *backup.File) map[string][]models.Record {
	return map[string][]models.Record{
		schema.Experiences: f.Experiences,
		schema.Stories:     f.Stories,
		schema.Jobs:        f.Jobs,
		schema.Goals:       f.Goals,
		schema.Portfolio:   f.Portfolio,
		schema.Documents:   f.Documents,
		schema.Diagrams:    f.Diagrams,
		schema.Artifacts:   f.Artifacts,
	}
}

// importable copies rec for persona without the encryption bookkeeping of
// whatever store produced it.
func importable(rec models.Record, persona string) models.Record {
	out := rec.Clone()
	delete(out, encrypted.FieldMarker)
	delete(out, encrypted.FieldPayload)
	out[models.FieldPersonaID] = persona
	return out
}

// ImportAll writes a backup into persona inside one transaction. Every
// record goes through Put so it is re-encrypted under the current
// identifier. Credentials are restored only when requested, after the file
// passes verification and the password opens them.
func (s *Service) ImportAll(ctx context.Context, f *backup.File, persona string, opts ImportOptions) (res *ImportResult, err error) {
	defer s.observe("import", "", time.Now(), &err)
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, backup.ErrMalformed
	}
	if backup.MajorVersion(f.Version) > 4 {
		return nil, fmt.Errorf("%w: %s", backup.ErrUnsupportedVersion, f.Version)
	}
	if persona == "" {
		persona = f.PersonaID
	}
	if persona == "" {
		persona = DefaultPersona
	}

	var keys map[string]string
	if opts.RestoreAPIKeys && f.APIKeys != nil {
		if err := backup.VerifyFile(f).Err(); err != nil {
			return nil, err
		}
		if keys, err = backup.DecryptAPIKeys(f.APIKeys, opts.Password); err != nil {
			return nil, err
		}
	}

	res = &ImportResult{PersonaID: persona, Records: map[string]int{}}
	err = b.Transaction(ctx, importedCollections, func(ctx context.Context) error {
		if p := profileFromFile(f); p != nil {
			p[models.FieldID] = persona
			if _, err := b.Put(ctx, schema.Profiles, importable(p, persona)); err != nil {
				return fmt.Errorf("import profile: %w", err)
			}
			res.Records[schema.Profiles] = 1
		}

		for c, recs := range fileCollections(f) {
			for i, rec := range recs {
				if rec == nil {
					continue
				}
				if _, err := b.Put(ctx, c, importable(rec, persona)); err != nil {
					return fmt.Errorf("import %s[%d]: %w", c, i, err)
				}
				res.Records[c]++
			}
		}

		if f.CanvasTree != nil {
			if _, err := b.Put(ctx, schema.Settings, models.Record{
				models.FieldKey: CanvasTreeSetting + persona,
				"value":         f.CanvasTree,
				"encrypted":     true,
			}); err != nil {
				return fmt.Errorf("import canvas tree: %w", err)
			}
		}

		for provider, key := range keys {
			if _, err := b.Put(ctx, schema.Settings, models.Record{
				models.FieldKey: apiKeySetting(provider),
				"value":         key,
				"encrypted":     true,
			}); err != nil {
				return fmt.Errorf("import %s key: %w", provider, err)
			}
			res.APIKeys++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "import complete", "persona", persona, "api_keys", res.APIKeys)
	return res, nil
}

// CreateEncryptedBackup exports persona and seals the whole document with
// password.
func (s *Service) CreateEncryptedBackup(ctx context.Context, persona, password string) (*backup.EncryptedBackup, error) {
	if len(password) < cryptox.MinPasswordLength {
		return nil, cryptox.ErrWeakPassword
	}
	f, err := s.ExportAll(ctx, persona, ExportOptions{Password: password, IncludeAPIKeys: true})
	if err != nil {
		return nil, err
	}
	return backup.Seal(f, password, s.now())
}

// RestoreEncryptedBackup opens an encrypted backup and imports it,
// credentials included.
func (s *Service) RestoreEncryptedBackup(ctx context.Context, eb *backup.EncryptedBackup, password, persona string) (*ImportResult, error) {
	if _, err := s.backend(); err != nil {
		return nil, err
	}
	f, err := backup.Open(eb, password)
	if err != nil {
		return nil, err
	}
	return s.ImportAll(ctx, f, persona, ImportOptions{Password: password, RestoreAPIKeys: true})
}

// CollectionSnapshot is the plaintext image of one collection exchanged
// with the blob sync collaborator.
type CollectionSnapshot struct {
	Collection string          `json:"collection"`
	Created    string          `json:"created"`
	Records    []models.Record `json:"records"`
}

// Snapshot serializes every record of collection in plaintext. Settings
// flagged encrypted (credentials among them) never leave the device.
func (s *Service) Snapshot(ctx context.Context, collection string) ([]byte, error) {
	if _, ok := schema.Lookup(collection); !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnknownCollection, collection)
	}
	var opts backend.QueryOptions
	if collection == schema.Settings {
		opts.Filter = func(r models.Record) bool {
			flag, _ := r["encrypted"].(bool)
			return !flag
		}
	}
	recs, err := s.GetAll(ctx, collection, opts)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []models.Record{}
	}
	return json.Marshal(CollectionSnapshot{
		Collection: collection,
		Created:    common.FormatTimestamp(s.now()),
		Records:    recs,
	})
}

// RestoreSnapshot upserts every record of a snapshot produced by Snapshot
// in one transaction and returns how many were written.
func (s *Service) RestoreSnapshot(ctx context.Context, collection string, data []byte) (int, error) {
	var snap CollectionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Collection != collection {
		return 0, fmt.Errorf("snapshot is for %q, not %q", snap.Collection, collection)
	}

	n := 0
	err := s.Transaction(ctx, []string{collection}, func(ctx context.Context) error {
		for _, rec := range snap.Records {
			out := rec.Clone()
			delete(out, encrypted.FieldMarker)
			delete(out, encrypted.FieldPayload)
			if _, err := s.Put(ctx, collection, out); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

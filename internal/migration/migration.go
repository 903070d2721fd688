// Package migration moves legacy flat key/value entries into the
// structured, encrypted collections. It is re-entrant: keys recorded as
// migrated are skipped, failed and unattempted keys are retried, and every
// legacy value is kept under a backup key so the run can be rolled back.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/canvasvault/internal/common"
	"github.com/dmitrijs2005/canvasvault/internal/events"
	"github.com/dmitrijs2005/canvasvault/internal/logging"
	"github.com/dmitrijs2005/canvasvault/internal/metrics"
	"github.com/dmitrijs2005/canvasvault/internal/models"
	"github.com/dmitrijs2005/canvasvault/internal/prefs"
)

// DefaultDelay is the pause between items.
const DefaultDelay = 100 * time.Millisecond

// PreferencePrefix namespaces migrated preferences in the settings
// collection.
const PreferencePrefix = "legacy."

var (
	ErrNoPersona   = errors.New("migration needs a persona")
	ErrMissingItem = errors.New("legacy key has no value")
)

// Writer is the storage surface a migration writes through.
type Writer interface {
	Put(ctx context.Context, collection string, rec models.Record) (string, error)
	Transaction(ctx context.Context, collections []string, fn func(ctx context.Context) error) error
}

// ItemError is the recorded failure of one legacy key. It never aborts a
// run.
type ItemError struct {
	Key string
	Err error
}

func (e *ItemError) Error() string { return fmt.Sprintf("migrate %s: %v", e.Key, e.Err) }

func (e *ItemError) Unwrap() error { return e.Err }

// Progress is reported after every attempted item.
type Progress struct {
	Completed   int    `json:"completed"`
	Total       int    `json:"total"`
	Percentage  int    `json:"percentage"`
	CurrentItem string `json:"currentItem"`
}

type ItemResult struct {
	Key         string
	Rule        string
	Destination Destination
	Records     int
	Err         *ItemError
}

// Result summarizes one run.
type Result struct {
	State    State
	Total    int
	Migrated int
	Failed   int
	// AlreadyMigrated counts candidates skipped because an earlier run
	// migrated them.
	AlreadyMigrated int
	Records         int
	Items           []ItemResult
	Started         string
	Finished        string
}

type Migrator struct {
	legacy  prefs.Store
	dst     Writer
	rules   []Rule
	log     logging.Logger
	bus     *events.Bus
	metrics *metrics.Metrics
	now     func() time.Time
	delay   time.Duration
}

type Option func(*Migrator)

func WithLogger(l logging.Logger) Option { return func(m *Migrator) { m.log = l } }

func WithBus(b *events.Bus) Option { return func(m *Migrator) { m.bus = b } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Migrator) { m.metrics = mt } }

func WithClock(now func() time.Time) Option { return func(m *Migrator) { m.now = now } }

// WithDelay sets the pause between items; zero disables it.
func WithDelay(d time.Duration) Option { return func(m *Migrator) { m.delay = d } }

// WithRules replaces the classification table.
func WithRules(rules []Rule) Option { return func(m *Migrator) { m.rules = rules } }

func New(legacy prefs.Store, dst Writer, opts ...Option) *Migrator {
	m := &Migrator{
		legacy: legacy,
		dst:    dst,
		rules:  Rules,
		log:    logging.NewNop(),
		now:    time.Now,
		delay:  DefaultDelay,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Candidates lists the legacy keys eligible for migration, sorted.
func (m *Migrator) Candidates(ctx context.Context) ([]string, error) {
	keys, err := m.legacy.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list legacy keys: %w", err)
	}
	var out []string
	for _, k := range keys {
		if IsCandidate(k) {
			out = append(out, k)
		}
	}
	return out, nil
}

// HasLegacyData reports whether any candidate key is still unmigrated.
func (m *Migrator) HasLegacyData(ctx context.Context) (bool, error) {
	keys, err := m.Candidates(ctx)
	if err != nil {
		return false, err
	}
	st, err := loadStatus(ctx, m.legacy)
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if !st.isMigrated(k) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Migrator) Status(ctx context.Context) (Report, error) {
	st, err := loadStatus(ctx, m.legacy)
	if err != nil {
		return Report{}, err
	}
	return st.report(), nil
}

// Run migrates every pending candidate into persona. Item failures are
// recorded in the result and the persisted status; the returned error is
// reserved for failures of the run itself, including cancellation of ctx,
// which stops the run between items.
func (m *Migrator) Run(ctx context.Context, persona string, progress func(Progress)) (*Result, error) {
	if persona == "" {
		return nil, ErrNoPersona
	}

	st, err := loadStatus(ctx, m.legacy)
	if err != nil {
		return nil, err
	}
	candidates, err := m.Candidates(ctx)
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, k := range candidates {
		if !st.isMigrated(k) {
			pending = append(pending, k)
		}
	}

	res := &Result{
		Total:           len(candidates),
		AlreadyMigrated: len(candidates) - len(pending),
		Started:         common.FormatTimestamp(m.now()),
	}
	for range res.AlreadyMigrated {
		m.metrics.MigrationItem("skipped")
	}

	st.State = InProgress
	st.TotalKeys = len(candidates)
	st.LastMigration = res.Started
	st.Version = RulesVersion
	if err := saveStatus(ctx, m.legacy, st); err != nil {
		return nil, err
	}
	m.log.Info(ctx, "migration started", "persona", persona, "pending", len(pending), "total", len(candidates))

	var runErr error
	for i, key := range pending {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		item := m.migrateItem(ctx, persona, key)
		res.Items = append(res.Items, item)
		if item.Err != nil {
			res.Failed++
			st.markFailed(key)
			m.metrics.MigrationItem("failure")
			m.log.Warn(ctx, "migration item failed", "key", key, "error", item.Err.Err)
		} else {
			res.Migrated++
			res.Records += item.Records
			st.markMigrated(key)
			m.metrics.MigrationItem("success")
			m.log.Debug(ctx, "migrated", "key", key, "destination", string(item.Destination), "records", item.Records)
		}
		if err := saveStatus(context.WithoutCancel(ctx), m.legacy, st); err != nil {
			return nil, err
		}

		p := Progress{Completed: i + 1, Total: len(pending), Percentage: percent(i+1, len(pending)), CurrentItem: key}
		if progress != nil {
			progress(p)
		}
		m.bus.Publish(events.MigrationProgress, p)

		if i < len(pending)-1 && m.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(m.delay):
			}
		}
	}

	if runErr == nil && res.Failed == 0 && len(st.FailedKeys) == 0 {
		st.State = Completed
		st.IsComplete = true
	} else {
		st.State = PartiallyFailed
		st.IsComplete = false
	}
	res.State = st.State
	res.Finished = common.FormatTimestamp(m.now())

	// A canceled run still records where it stopped.
	if err := saveStatus(context.WithoutCancel(ctx), m.legacy, st); err != nil {
		return nil, err
	}
	m.bus.Publish(events.MigrationFinished, *res)
	m.log.Info(ctx, "migration finished", "state", string(res.State), "migrated", res.Migrated, "failed", res.Failed)

	if runErr != nil {
		return res, runErr
	}
	return res, nil
}

func (m *Migrator) migrateItem(ctx context.Context, persona, key string) ItemResult {
	rule := Classify(m.rules, key)
	item := ItemResult{Key: key, Rule: rule.Name, Destination: rule.Destination}
	fail := func(err error) ItemResult {
		item.Err = &ItemError{Key: key, Err: err}
		return item
	}

	raw, err := m.legacy.Get(ctx, key)
	if err != nil {
		return fail(err)
	}
	if raw == nil {
		return fail(ErrMissingItem)
	}

	// Values written with a bare setItem are not JSON; keep them as text.
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		value = string(raw)
	}

	recs, err := buildRecords(rule.Destination, persona, key, value)
	if err != nil {
		return fail(err)
	}

	collection := rule.Destination.Collection()
	err = m.dst.Transaction(ctx, []string{collection}, func(ctx context.Context) error {
		for _, rec := range recs {
			if _, err := m.dst.Put(ctx, collection, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fail(fmt.Errorf("write %s: %w", collection, err))
	}

	if err := m.legacy.Set(ctx, BackupPrefix+key, raw); err != nil {
		return fail(fmt.Errorf("write backup copy: %w", err))
	}
	item.Records = len(recs)
	return item
}

// buildRecords turns one legacy value into the records written for it.
// Ids are derived from the key so a repeated run overwrites instead of
// duplicating.
func buildRecords(dest Destination, persona, key string, value any) ([]models.Record, error) {
	switch dest {
	case ToProfile:
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("profile must be an object, got %T", value)
		}
		rec := models.Record(obj).Clone()
		rec[models.FieldID] = persona
		rec[models.FieldPersonaID] = persona
		return []models.Record{rec}, nil

	case ToPreferences:
		return []models.Record{{
			models.FieldKey: PreferencePrefix + key,
			"value":         value,
			"encrypted":     true,
		}}, nil

	case ToProjects, ToSchemas, ToTemplates, ToMetadata:
		return []models.Record{{
			models.FieldID:        "legacy_" + key,
			models.FieldPersonaID: persona,
			"type":                string(dest),
			"name":                key,
			"legacyKey":           key,
			"data":                value,
		}}, nil
	}

	switch v := value.(type) {
	case []any:
		out := make([]models.Record, 0, len(v))
		for i, el := range v {
			obj, ok := el.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("element %d of %s is %T, not an object", i, key, el)
			}
			rec := models.Record(obj).Clone()
			if id, ok := rec.Key(models.FieldID); !ok || id == "" {
				rec[models.FieldID] = "mig_" + key + "_" + strconv.Itoa(i)
			}
			rec[models.FieldPersonaID] = persona
			out = append(out, rec)
		}
		return out, nil
	case map[string]any:
		rec := models.Record(v).Clone()
		if id, ok := rec.Key(models.FieldID); !ok || id == "" {
			rec[models.FieldID] = "legacy_" + key
		}
		rec[models.FieldPersonaID] = persona
		return []models.Record{rec}, nil
	case string:
		return []models.Record{{
			models.FieldID:        "legacy_" + key,
			models.FieldPersonaID: persona,
			"name":                key,
			"content":             v,
		}}, nil
	}
	return nil, fmt.Errorf("unsupported legacy value %T for %s", value, dest)
}

// Rollback restores every backed-up legacy value to its original key,
// removes the backup copies and resets the migration status. Records
// already written to the collections are left in place.
func (m *Migrator) Rollback(ctx context.Context) (int, error) {
	all, err := m.legacy.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list legacy keys: %w", err)
	}
	restored := 0
	for k, v := range all {
		original, ok := strings.CutPrefix(k, BackupPrefix)
		if !ok || original == "" {
			continue
		}
		if err := m.legacy.Set(ctx, original, v); err != nil {
			return restored, fmt.Errorf("restore %s: %w", original, err)
		}
		if err := m.legacy.Delete(ctx, k); err != nil {
			return restored, fmt.Errorf("remove %s: %w", k, err)
		}
		restored++
	}
	if err := saveStatus(ctx, m.legacy, newStatus()); err != nil {
		return restored, err
	}
	m.log.Info(ctx, "migration rolled back", "restored", restored)
	return restored, nil
}

// PurgeLegacy deletes the original value of every migrated key whose
// backup copy exists, and returns how many were removed.
func (m *Migrator) PurgeLegacy(ctx context.Context) (int, error) {
	st, err := loadStatus(ctx, m.legacy)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, key := range st.MigratedKeys {
		backup, err := m.legacy.Get(ctx, BackupPrefix+key)
		if err != nil {
			return purged, err
		}
		if backup == nil {
			continue
		}
		current, err := m.legacy.Get(ctx, key)
		if err != nil {
			return purged, err
		}
		if current == nil {
			continue
		}
		if err := m.legacy.Delete(ctx, key); err != nil {
			return purged, fmt.Errorf("purge %s: %w", key, err)
		}
		purged++
	}
	m.log.Info(ctx, "legacy keys purged", "count", purged)
	return purged, nil
}

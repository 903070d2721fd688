package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/dmitrijs2005/canvasvault/internal/prefs"
)

type State string

const (
	NotStarted      State = "not_started"
	InProgress      State = "in_progress"
	Completed       State = "completed"
	PartiallyFailed State = "partially_failed"
)

// Status is persisted as JSON under prefs.KeyMigrationStatus, outside the
// database schema.
type Status struct {
	State         State    `json:"state"`
	IsComplete    bool     `json:"isComplete"`
	LastMigration string   `json:"lastMigration,omitempty"`
	MigratedKeys  []string `json:"migratedKeys"`
	FailedKeys    []string `json:"failedKeys"`
	TotalKeys     int      `json:"totalKeys"`
	Version       string   `json:"version"`
}

func newStatus() *Status {
	return &Status{State: NotStarted, MigratedKeys: []string{}, FailedKeys: []string{}, Version: RulesVersion}
}

// Report is Status plus derived fields.
type Report struct {
	Status
	Pending              bool `json:"pendingMigration"`
	CompletionPercentage int  `json:"completionPercentage"`
}

func (s *Status) report() Report {
	r := Report{Status: *s, Pending: !s.IsComplete}
	if s.TotalKeys > 0 {
		r.CompletionPercentage = percent(len(s.MigratedKeys), s.TotalKeys)
	}
	return r
}

func percent(done, total int) int {
	if total == 0 {
		return 100
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

func (s *Status) isMigrated(key string) bool { return slices.Contains(s.MigratedKeys, key) }

func (s *Status) markMigrated(key string) {
	if !s.isMigrated(key) {
		s.MigratedKeys = append(s.MigratedKeys, key)
	}
	s.FailedKeys = slices.DeleteFunc(s.FailedKeys, func(k string) bool { return k == key })
}

func (s *Status) markFailed(key string) {
	if !slices.Contains(s.FailedKeys, key) {
		s.FailedKeys = append(s.FailedKeys, key)
	}
}

func loadStatus(ctx context.Context, store prefs.Store) (*Status, error) {
	raw, err := store.Get(ctx, prefs.KeyMigrationStatus)
	if err != nil {
		return nil, fmt.Errorf("read migration status: %w", err)
	}
	if raw == nil {
		return newStatus(), nil
	}
	st := newStatus()
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("decode migration status: %w", err)
	}
	if st.MigratedKeys == nil {
		st.MigratedKeys = []string{}
	}
	if st.FailedKeys == nil {
		st.FailedKeys = []string{}
	}
	// Status records written before the state field existed.
	if st.State == "" {
		switch {
		case st.IsComplete:
			st.State = Completed
		case len(st.FailedKeys) > 0:
			st.State = PartiallyFailed
		case len(st.MigratedKeys) > 0:
			st.State = InProgress
		default:
			st.State = NotStarted
		}
	}
	return st, nil
}

func saveStatus(ctx context.Context, store prefs.Store, st *Status) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, prefs.KeyMigrationStatus, raw); err != nil {
		return fmt.Errorf("write migration status: %w", err)
	}
	return nil
}

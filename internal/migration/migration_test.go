package migration

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dmitrijs2005/canvasvault/internal/backend"
	"github.com/dmitrijs2005/canvasvault/internal/cryptox"
	"github.com/dmitrijs2005/canvasvault/internal/events"
	"github.com/dmitrijs2005/canvasvault/internal/models"
	"github.com/dmitrijs2005/canvasvault/internal/prefs"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
	"github.com/dmitrijs2005/canvasvault/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLegacy(t *testing.T, values map[string]string) *prefs.BoltStore {
	t.Helper()
	s, err := prefs.OpenBolt(filepath.Join(t.TempDir(), "prefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	for k, v := range values {
		require.NoError(t, s.Set(context.Background(), k, []byte(v)))
	}
	return s
}

func newService(t *testing.T) *storage.Service {
	t.Helper()
	db := schema.NewDatabase(filepath.Join(t.TempDir(), schema.DefaultFileName))
	cipher := cryptox.NewCipher(cryptox.StaticIdentifier("a@b.com"), cryptox.WithIterations(cryptox.MinIterations))
	svc := storage.New(db, cipher)
	_, err := svc.Initialize(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

var legacyFixture = map[string]string{
	"userProfile":            `{"userFirstName":"Ada","email":"a@b.com"}`,
	"user_experiences":       `[{"id":"e1","organizationName":"Acme"},{"organizationName":"Initech"}]`,
	"retailManagerDocuments": `[{"name":"Shift plan","content":"mon-fri"}]`,
	"userPreferences":        `{"theme":"dark"}`,
	"projectStructure":       `{"folders":["a","b"]}`,
	"userGoals_member":       `[{"title":"Ship"}]`,
	"unrelated":              `"ignored"`,
	"backup_old":             `"kept"`,
	prefs.KeyDeviceID:        "abcdef",
}

func TestRules_Classify(t *testing.T) {
	tests := map[string]Destination{
		"userProfile":               ToProfile,
		"cleansheet_experiences":    ToExperiences,
		"user_stories":              ToStories,
		"user_jobs":                 ToJobs,
		"userGoals_member":          ToGoals,
		"userPortfolio_member":      ToPortfolio,
		"user_diagrams_member":      ToDiagrams,
		"interview_documents_x":     ToDocuments,
		"dataAnalystDocuments":      ToDocuments,
		"professional_document_42":  ToDocuments,
		"projectStructure":          ToProjects,
		"formDefinitions":           ToSchemas,
		"tableDefinitions":          ToSchemas,
		"reportDefinitions":         ToSchemas,
		"userPreferences":           ToPreferences,
		"cleansheet_currentPersona": ToPreferences,
		"documentTemplates":         ToTemplates,
		"somethingElse":             ToMetadata,
	}
	for key, want := range tests {
		assert.Equal(t, want, Classify(Rules, key).Destination, key)
	}
}

func TestRules_IsCandidate(t *testing.T) {
	for _, k := range []string{"userProfile", "user_documents_member", "newGraduateDocuments", "xx_reportDefinitions", "currentPersona"} {
		assert.True(t, IsCandidate(k), k)
	}
	for _, k := range []string{"backup_userProfile", prefs.KeyMigrationStatus, prefs.KeyDeviceID, prefs.KeyUserEmail, "unrelated"} {
		assert.False(t, IsCandidate(k), k)
	}
}

func TestDestination_Collection(t *testing.T) {
	assert.Equal(t, schema.Profiles, ToProfile.Collection())
	assert.Equal(t, schema.Settings, ToPreferences.Collection())
	assert.Equal(t, schema.Artifacts, ToSchemas.Collection())
	assert.Equal(t, schema.Artifacts, ToMetadata.Collection())
}

func countAll(t *testing.T, svc *storage.Service) int {
	t.Helper()
	total := 0
	for _, c := range schema.Names() {
		n, err := svc.Count(context.Background(), c, backend.QueryOptions{})
		require.NoError(t, err)
		total += n
	}
	return total
}

func TestRun_MigratesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	legacy := newLegacy(t, legacyFixture)
	svc := newService(t)
	bus := events.NewBus()

	var finished []Result
	bus.Subscribe(events.MigrationFinished, func(e events.Event) { finished = append(finished, e.Payload.(Result)) })

	m := New(legacy, svc, WithDelay(0), WithBus(bus))

	has, err := m.HasLegacyData(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	var progress []Progress
	res, err := m.Run(ctx, "member", func(p Progress) { progress = append(progress, p) })
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, 6, res.Total)
	assert.Equal(t, 6, res.Migrated)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 7, res.Records)
	require.Len(t, progress, 6)
	assert.Equal(t, Progress{Completed: 6, Total: 6, Percentage: 100, CurrentItem: progress[5].CurrentItem}, progress[5])
	require.Len(t, finished, 1)

	exps, err := svc.Experiences(ctx, "member")
	require.NoError(t, err)
	require.Len(t, exps, 2)
	ids := []any{exps[0]["id"], exps[1]["id"]}
	assert.ElementsMatch(t, []any{"e1", "mig_user_experiences_1"}, ids)

	p, err := svc.GetProfile(ctx, "member")
	require.NoError(t, err)
	assert.Equal(t, "Ada", p["userFirstName"])

	pref, err := svc.GetSetting(ctx, PreferencePrefix+"userPreferences")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "dark"}, pref)

	art, err := svc.Get(ctx, schema.Artifacts, "legacy_projectStructure")
	require.NoError(t, err)
	assert.Equal(t, "projects", art["type"])
	assert.Equal(t, map[string]any{"folders": []any{"a", "b"}}, art["data"])

	backupCopy, err := legacy.Get(ctx, BackupPrefix+"userProfile")
	require.NoError(t, err)
	assert.JSONEq(t, legacyFixture["userProfile"], string(backupCopy))

	before := countAll(t, svc)

	again, err := m.Run(ctx, "member", nil)
	require.NoError(t, err)
	assert.Equal(t, Completed, again.State)
	assert.Zero(t, again.Migrated)
	assert.Equal(t, 6, again.AlreadyMigrated)
	assert.Equal(t, before, countAll(t, svc))

	has, err = m.HasLegacyData(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	rep, err := m.Status(ctx)
	require.NoError(t, err)
	assert.True(t, rep.IsComplete)
	assert.False(t, rep.Pending)
	assert.Equal(t, 100, rep.CompletionPercentage)
	assert.Equal(t, RulesVersion, rep.Version)
}

type flakyWriter struct {
	Writer
	failFor string
}

func (w *flakyWriter) Put(ctx context.Context, collection string, rec models.Record) (string, error) {
	if collection == w.failFor {
		return "", errors.New("disk full")
	}
	return w.Writer.Put(ctx, collection, rec)
}

func TestRun_PartialFailureThenRetry(t *testing.T) {
	ctx := context.Background()
	legacy := newLegacy(t, map[string]string{
		"userProfile":      `{"email":"a@b.com"}`,
		"user_jobs":        `[{"id":"j1"}]`,
		"userGoals_member": `[1,2]`,
		"projectStructure": `{"a":1}`,
	})
	svc := newService(t)
	writer := &flakyWriter{Writer: svc, failFor: schema.Jobs}

	m := New(legacy, writer, WithDelay(0))
	res, err := m.Run(ctx, "member", nil)
	require.NoError(t, err)
	assert.Equal(t, PartiallyFailed, res.State)
	assert.Equal(t, 2, res.Migrated)
	assert.Equal(t, 2, res.Failed)

	var failedKeys []string
	for _, it := range res.Items {
		if it.Err != nil {
			failedKeys = append(failedKeys, it.Key)
		}
	}
	assert.ElementsMatch(t, []string{"user_jobs", "userGoals_member"}, failedKeys)

	// failed keys keep no backup copy
	b, err := legacy.Get(ctx, BackupPrefix+"user_jobs")
	require.NoError(t, err)
	assert.Nil(t, b)

	rep, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, PartiallyFailed, rep.State)
	assert.True(t, rep.Pending)
	assert.Equal(t, 50, rep.CompletionPercentage)

	require.NoError(t, legacy.Set(ctx, "userGoals_member", []byte(`[{"title":"Ship"}]`)))
	writer.failFor = ""

	res, err = m.Run(ctx, "member", nil)
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, 2, res.Migrated)
	assert.Equal(t, 2, res.AlreadyMigrated)

	job, err := svc.Get(ctx, schema.Jobs, "j1")
	require.NoError(t, err)
	assert.NotNil(t, job)
}

func TestRun_BareStringValues(t *testing.T) {
	ctx := context.Background()
	legacy := newLegacy(t, map[string]string{
		"cleansheet_currentPersona": "member",
		"formDefinitions":           "not json",
	})
	svc := newService(t)
	m := New(legacy, svc, WithDelay(0))

	for run := 0; run < 2; run++ {
		res, err := m.Run(ctx, "member", nil)
		require.NoError(t, err)
		assert.Equal(t, Completed, res.State)
		assert.Zero(t, res.Failed)
	}

	pref, err := svc.GetSetting(ctx, PreferencePrefix+"cleansheet_currentPersona")
	require.NoError(t, err)
	assert.Equal(t, "member", pref)

	art, err := svc.Get(ctx, schema.Artifacts, "legacy_formDefinitions")
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, "not json", art["data"])
}

func TestRun_CanceledStopsBetweenItems(t *testing.T) {
	legacy := newLegacy(t, legacyFixture)
	svc := newService(t)
	m := New(legacy, svc, WithDelay(0))

	ctx, cancel := context.WithCancel(context.Background())
	res, err := m.Run(ctx, "member", func(Progress) { cancel() })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Migrated)
	assert.Equal(t, PartiallyFailed, res.State)

	res, err = m.Run(context.Background(), "member", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Migrated)
	assert.Equal(t, Completed, res.State)
}

func TestRun_RequiresPersona(t *testing.T) {
	m := New(newLegacy(t, nil), newService(t))
	_, err := m.Run(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrNoPersona)
}

func TestRollbackAndPurge(t *testing.T) {
	ctx := context.Background()
	legacy := newLegacy(t, map[string]string{
		"userProfile":      `{"email":"a@b.com"}`,
		"projectStructure": `{"a":1}`,
	})
	svc := newService(t)
	m := New(legacy, svc, WithDelay(0))

	_, err := m.Run(ctx, "member", nil)
	require.NoError(t, err)

	purged, err := m.PurgeLegacy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)
	v, err := legacy.Get(ctx, "userProfile")
	require.NoError(t, err)
	assert.Nil(t, v)

	restored, err := m.Rollback(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	v, err = legacy.Get(ctx, "userProfile")
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"a@b.com"}`, string(v))
	v, err = legacy.Get(ctx, BackupPrefix+"userProfile")
	require.NoError(t, err)
	assert.Nil(t, v)

	rep, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, NotStarted, rep.State)
	assert.Empty(t, rep.MigratedKeys)

	has, err := m.HasLegacyData(ctx)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestStatus_LegacyRecordWithoutState(t *testing.T) {
	ctx := context.Background()
	legacy := newLegacy(t, map[string]string{
		prefs.KeyMigrationStatus: `{"isComplete":false,"lastMigration":null,"migratedKeys":["a"],"failedKeys":["b"],"totalKeys":2,"version":"1.0.0"}`,
	})
	m := New(legacy, newService(t))

	rep, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, PartiallyFailed, rep.State)
	assert.Equal(t, 50, rep.CompletionPercentage)
	assert.Equal(t, "1.0.0", rep.Version)
}

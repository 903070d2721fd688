package encrypted

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/canvasvault/internal/backend"
	"github.com/dmitrijs2005/canvasvault/internal/cryptox"
	"github.com/dmitrijs2005/canvasvault/internal/events"
	"github.com/dmitrijs2005/canvasvault/internal/models"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type switchableID struct{ id string }

func (s *switchableID) Identifier(context.Context) (string, error) { return s.id, nil }

type fixture struct {
	enc    *Backend
	inner  *backend.SQLiteBackend
	cipher *cryptox.Cipher
	id     *switchableID
	bus    *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := schema.NewDatabase(filepath.Join(t.TempDir(), "canvas.db"))
	require.NoError(t, db.Open(context.Background()))
	t.Cleanup(func() { _ = db.Close() })

	id := &switchableID{id: "a@b.com"}
	cipher := cryptox.NewCipher(id, cryptox.WithIterations(cryptox.MinIterations))
	inner := backend.NewSQLite(db)
	bus := events.NewBus()
	return &fixture{
		enc:    New(inner, cipher, WithBus(bus)),
		inner:  inner,
		cipher: cipher,
		id:     id,
		bus:    bus,
	}
}

func TestPut_EncryptsDesignatedFieldsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := models.Record{
		"id":          "d1",
		"personaId":   "member",
		"name":        "Cover letter",
		"content":     map[string]any{"blocks": []any{"Dear hiring manager"}},
		"description": "private",
	}
	_, err := f.enc.Put(ctx, schema.Documents, rec)
	require.NoError(t, err)

	raw, err := f.inner.Get(ctx, schema.Documents, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Cover letter", raw["name"])
	assert.Equal(t, "member", raw["personaId"])
	assert.ElementsMatch(t, []any{"content", "description"}, raw[FieldMarker])
	for _, field := range []string{"content", "description"} {
		env, ok := raw[field].(string)
		require.True(t, ok, field)
		assert.GreaterOrEqual(t, len(env), cryptox.MinEnvelopeLength)
		assert.NotContains(t, env, "private")
	}

	got, err := f.enc.Get(ctx, schema.Documents, "d1")
	require.NoError(t, err)
	assert.NotContains(t, got, FieldMarker)
	assert.Equal(t, rec["content"], got["content"])
	assert.Equal(t, "private", got["description"])
}

func TestPut_PreservesValueTypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	values := []any{"123", 123.0, true, []any{"a", 1.0}, map[string]any{"k": nil}}
	for i, v := range values {
		key, err := f.enc.Put(ctx, schema.Stories, models.Record{"notes": v})
		require.NoError(t, err, i)

		got, err := f.enc.Get(ctx, schema.Stories, key)
		require.NoError(t, err)
		assert.Equal(t, v, got["notes"], "value %d", i)
	}
}

func TestPut_NilFieldsAndPlainCollectionsUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.enc.Put(ctx, schema.Jobs, models.Record{"id": "j", "notes": nil})
	require.NoError(t, err)
	raw, err := f.inner.Get(ctx, schema.Jobs, "j")
	require.NoError(t, err)
	assert.Nil(t, raw["notes"])
	assert.NotContains(t, raw, FieldMarker)

	_, err = f.enc.Put(ctx, schema.SyncMeta, models.Record{"key": "lastPush", "data": "clear"})
	require.NoError(t, err)
	raw, err = f.inner.Get(ctx, schema.SyncMeta, "lastPush")
	require.NoError(t, err)
	assert.Equal(t, "clear", raw["data"])
	assert.False(t, f.enc.IsEncrypted(schema.SyncMeta))
}

func TestSettings_WholeValueEncryption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.enc.Put(ctx, schema.Settings, models.Record{"key": "apikey.openai", "value": "sk-proj-123", "encrypted": true})
	require.NoError(t, err)
	_, err = f.enc.Put(ctx, schema.Settings, models.Record{"key": "theme", "value": "dark", "encrypted": false})
	require.NoError(t, err)

	raw, err := f.inner.Get(ctx, schema.Settings, "apikey.openai")
	require.NoError(t, err)
	assert.NotContains(t, raw, "value")
	assert.IsType(t, "", raw[FieldPayload])

	got, err := f.enc.Get(ctx, schema.Settings, "apikey.openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-proj-123", got["value"])
	assert.NotContains(t, got, FieldPayload)

	raw, err = f.inner.Get(ctx, schema.Settings, "theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", raw["value"])
}

func TestGet_IdentifierChangeFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var failures []DecryptFailure
	f.bus.Subscribe(events.DecryptFailed, func(e events.Event) {
		failures = append(failures, e.Payload.(DecryptFailure))
	})

	_, err := f.enc.Put(ctx, schema.Goals, models.Record{"id": "g", "notes": "secret"})
	require.NoError(t, err)

	f.id.id = "someone-else@b.com"
	_, err = f.enc.Get(ctx, schema.Goals, "g")
	require.ErrorIs(t, err, cryptox.ErrDecryption)
	assert.Equal(t, []DecryptFailure{{Collection: schema.Goals, Key: "g", Field: "notes"}}, failures)

	_, err = f.enc.GetAll(ctx, schema.Goals, backend.QueryOptions{})
	require.ErrorIs(t, err, cryptox.ErrDecryption)
}

func TestGetAllLenient_SkipsUndecryptable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.enc.Put(ctx, schema.Goals, models.Record{"id": "old", "personaId": "member", "notes": "x"})
	require.NoError(t, err)
	f.id.id = "new@b.com"
	_, err = f.enc.Put(ctx, schema.Goals, models.Record{"id": "new", "personaId": "member", "notes": "y"})
	require.NoError(t, err)

	recs, skipped, err := f.enc.GetAllLenient(ctx, schema.Goals, backend.QueryOptions{PersonaID: "member"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "y", recs[0]["notes"])
	require.Len(t, skipped, 1)
	assert.Equal(t, "old", skipped[0].Key)
	assert.Equal(t, schema.Goals, skipped[0].Collection)
}

func TestGetAll_FilterSeesPlaintext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.enc.BulkPut(ctx, schema.Stories, []models.Record{
		{"id": "s1", "personaId": "member", "situation": "outage"},
		{"id": "s2", "personaId": "member", "situation": "launch"},
	})
	require.NoError(t, err)

	opts := backend.QueryOptions{PersonaID: "member", Filter: func(r models.Record) bool {
		s, _ := r["situation"].(string)
		return strings.Contains(s, "out")
	}}
	recs, err := f.enc.GetAll(ctx, schema.Stories, opts)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "s1", recs[0]["id"])

	n, err := f.enc.Count(ctx, schema.Stories, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBulkGet_DecryptsAndKeepsMisses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.enc.BulkAdd(ctx, schema.Diagrams, []models.Record{
		{"id": "a", "diagramData": "<xml/>"},
	})
	require.NoError(t, err)

	recs, err := f.enc.BulkGet(ctx, schema.Diagrams, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "<xml/>", recs[0]["diagramData"])
	assert.Nil(t, recs[1])
}

func TestDecrypt_NonJSONPlaintextReturnedRaw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env, err := f.cipher.Encrypt(ctx, "plain words")
	require.NoError(t, err)
	_, err = f.inner.Put(ctx, schema.Jobs, models.Record{"id": "legacy", "notes": env, FieldMarker: []any{"notes"}})
	require.NoError(t, err)

	got, err := f.enc.Get(ctx, schema.Jobs, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "plain words", got["notes"])
}

type failingCipher struct{}

func (failingCipher) EncryptValue(context.Context, any) (string, error) {
	return "", errors.New("no identifier")
}

func (failingCipher) Decrypt(context.Context, string) (string, error) {
	return "", cryptox.ErrDecryption
}

func TestPut_EncryptionFailureStoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	enc := New(f.inner, failingCipher{})

	_, err := enc.Put(ctx, schema.Jobs, models.Record{"id": "j", "notes": "secret"})
	require.Error(t, err)

	_, err = enc.BulkPut(ctx, schema.Jobs, []models.Record{{"id": "k"}, {"id": "l", "notes": "secret"}})
	require.Error(t, err)

	n, err := f.inner.Count(ctx, schema.Jobs, backend.QueryOptions{})
	require.NoError(t, err)
	assert.Zero(t, n)

	// records with nothing to encrypt still go through
	_, err = enc.Put(ctx, schema.Jobs, models.Record{"id": "plain", "company": "Acme"})
	require.NoError(t, err)
}

func TestPassthroughs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, "encrypted-sqlite", f.enc.Name())
	assert.Equal(t, schema.Names(), f.enc.CollectionNames())
	assert.NotEmpty(t, f.enc.GenerateID())

	err := f.enc.Transaction(ctx, []string{schema.Jobs}, func(ctx context.Context) error {
		_, err := f.enc.Put(ctx, schema.Jobs, models.Record{"id": "j", "notes": "n"})
		return err
	})
	require.NoError(t, err)

	ok, err := f.enc.Exists(ctx, schema.Jobs, "j")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.enc.Delete(ctx, schema.Jobs, "j"))
	require.NoError(t, f.enc.BulkDelete(ctx, schema.Jobs, []string{"j"}))
	require.NoError(t, f.enc.ClearTable(ctx, schema.Jobs))
	require.NoError(t, f.enc.ClearAll(ctx))

	_, err = f.enc.Usage(ctx)
	require.NoError(t, err)
}

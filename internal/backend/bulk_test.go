package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/canvasvault/internal/models"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkPut_SharesTimestampAndReturnsKeys(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	keys, err := b.BulkPut(ctx, schema.Goals, []models.Record{
		{"id": "g1", "title": "a"},
		{"title": "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "gen-1"}, keys)

	recs, err := b.BulkGet(ctx, schema.Goals, []string{"g1", "missing", "gen-1"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Nil(t, recs[1])
	assert.Equal(t, recs[0]["lastModified"], recs[2]["lastModified"])
}

func TestBulkPut_PartialFailureCommitsSuccesses(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	keys, err := b.BulkPut(ctx, schema.Profiles, []models.Record{
		{"id": "p1", "personaId": "member"},
		{"personaId": "nokey"},
		{"id": "p3", "personaId": "member"},
	})

	var bulkErr *BulkError
	require.ErrorAs(t, err, &bulkErr)
	assert.Equal(t, 2, bulkErr.Succeeded)
	require.Len(t, bulkErr.Failures, 1)
	assert.Equal(t, 1, bulkErr.Failures[0].Index)
	assert.True(t, errors.Is(err, ErrMissingKey))
	assert.Equal(t, []string{"p1", "", "p3"}, keys)

	n, err := b.Count(ctx, schema.Profiles, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestBulkAdd_DuplicatesReported(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Add(ctx, schema.Jobs, models.Record{"id": "j1", "company": "kept"})
	require.NoError(t, err)

	_, err = b.BulkAdd(ctx, schema.Jobs, []models.Record{
		{"id": "j1", "company": "dup"},
		{"id": "j2"},
		{"id": "j2"},
	})
	var bulkErr *BulkError
	require.ErrorAs(t, err, &bulkErr)
	assert.Equal(t, 1, bulkErr.Succeeded)
	assert.Len(t, bulkErr.Failures, 2)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	got, err := b.Get(ctx, schema.Jobs, "j1")
	require.NoError(t, err)
	assert.Equal(t, "kept", got["company"])

	ok, err := b.Exists(ctx, schema.Jobs, "j2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBulkDelete(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	_, err := b.BulkPut(ctx, schema.Jobs, []models.Record{{"id": "a"}, {"id": "b"}, {"id": "c"}})
	require.NoError(t, err)

	require.NoError(t, b.BulkDelete(ctx, schema.Jobs, []string{"a", "c", "absent"}))

	recs, err := b.GetAll(ctx, schema.Jobs, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(recs))
}

func TestBulk_EmptyInput(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	keys, err := b.BulkPut(ctx, schema.Jobs, nil)
	require.NoError(t, err)
	assert.Empty(t, keys)

	recs, err := b.BulkGet(ctx, schema.Jobs, nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

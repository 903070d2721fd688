package backend

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/canvasvault/internal/models"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(recs []models.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		k, _ := r.Key("id")
		out = append(out, k)
	}
	return out
}

func seedExperiences(t *testing.T, b *SQLiteBackend) {
	t.Helper()
	ctx := context.Background()
	recs := []models.Record{
		{"id": "e1", "personaId": "member", "organizationName": "Zeta", "startDate": "2020-01", "skills": []any{"go", "sql"}, "remote": true},
		{"id": "e2", "personaId": "member", "organizationName": "Acme", "startDate": "2018-05", "skills": []any{"python"}},
		{"id": "e3", "personaId": "other", "organizationName": "Acme", "startDate": "2018-05", "skills": []any{"go"}},
		{"id": "e4", "personaId": "member", "organizationName": "Beta", "startDate": "2018-05"},
	}
	for _, r := range recs {
		_, err := b.Put(ctx, schema.Experiences, r)
		require.NoError(t, err)
	}
}

func TestGetAll_Queries(t *testing.T) {
	b, _ := newTestBackend(t)
	seedExperiences(t, b)

	tests := []struct {
		name string
		opts QueryOptions
		want []string
	}{
		{name: "all in insertion order", opts: QueryOptions{}, want: []string{"e1", "e2", "e3", "e4"}},
		{name: "persona", opts: QueryOptions{PersonaID: "member"}, want: []string{"e1", "e2", "e4"}},
		{name: "where indexed field", opts: QueryOptions{Where: &Condition{Field: "organizationName", Value: "Acme"}}, want: []string{"e2", "e3"}},
		{name: "where personaId", opts: QueryOptions{Where: &Condition{Field: "personaId", Value: "other"}}, want: []string{"e3"}},
		{name: "where multi-entry", opts: QueryOptions{Where: &Condition{Field: "skills", Value: "go"}}, want: []string{"e1", "e3"}},
		{name: "where unindexed bool", opts: QueryOptions{Where: &Condition{Field: "remote", Value: true}}, want: []string{"e1"}},
		{name: "where primary key", opts: QueryOptions{Where: &Condition{Field: "id", Value: "e4"}}, want: []string{"e4"}},
		{name: "no match", opts: QueryOptions{Where: &Condition{Field: "organizationName", Value: "None"}}, want: []string{}},
		{name: "sort ties keep insertion order", opts: QueryOptions{PersonaID: "member", SortBy: "startDate"}, want: []string{"e2", "e4", "e1"}},
		{name: "sort by name", opts: QueryOptions{SortBy: "organizationName"}, want: []string{"e2", "e3", "e4", "e1"}},
		{name: "filter", opts: QueryOptions{PersonaID: "member", Filter: func(r models.Record) bool {
			return r["organizationName"] != "Zeta"
		}}, want: []string{"e2", "e4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.GetAll(context.Background(), schema.Experiences, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))

			n, err := b.Count(context.Background(), schema.Experiences, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), n)
		})
	}
}

func TestGetAll_InvalidQueries(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	tests := []QueryOptions{
		{PersonaID: "member", Where: &Condition{Field: "organizationName", Value: "Acme"}},
		{Where: &Condition{Field: "bad field'", Value: "x"}},
		{Where: &Condition{Field: "organizationName", Value: []string{"x"}}},
		{SortBy: "a.b"},
	}
	for _, opts := range tests {
		_, err := b.GetAll(ctx, schema.Experiences, opts)
		require.ErrorIs(t, err, ErrInvalidQuery)
	}
}

func TestBuildQuery_UsesLiteralPathForIndexedFields(t *testing.T) {
	c, _ := schema.Lookup(schema.Jobs)

	where, order, args, err := buildQuery(c, QueryOptions{Where: &Condition{Field: "status", Value: "applied"}, SortBy: "notes"})
	require.NoError(t, err)
	assert.Equal(t, ` WHERE json_extract(data, '$.status') = ?`, where)
	assert.Equal(t, ` ORDER BY json_extract(data, ?), seq`, order)
	assert.Equal(t, []any{"applied", "$.notes"}, args)
}

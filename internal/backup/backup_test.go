package backup

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/canvasvault/internal/cryptox"
	"github.com/dmitrijs2005/canvasvault/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const password = "TestPassword123"

const nestedV2 = `{
  "version": "2.0",
  "exportDate": "2025-01-02T03:04:05.000Z",
  "data": {
    "profile": {"userFirstName": "Ada", "email": "a@b.com", "yearsExperience": 7},
    "experiences": [{"id": "e1", "organizationName": "Acme"}],
    "stories": [{"id": "s1", "title": "Launch"}],
    "canvasTree": {"root": {"children": []}}
  },
  "apiKeysEncrypted": {"encrypted": true, "providers": ["openai"], "data": {"openai": {"apiKey": "opaque"}}}
}`

func TestConvertToV4_FlattensNestedProfile(t *testing.T) {
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(nestedV2), &doc))

	out := ConvertToV4(doc)

	assert.Equal(t, "4.1", out["version"])
	assert.Equal(t, "a@b.com", out["email"])
	assert.Equal(t, "Ada", out["userFirstName"])
	assert.Equal(t, "", out["userLastName"])
	assert.Equal(t, float64(7), out["yearsExperience"])
	assert.Equal(t, "2025-01-02T03:04:05.000Z", out["exportDate"])
	assert.Len(t, out["experiences"], 1)
	assert.Len(t, out["stories"], 1)
	assert.NotContains(t, out, "data")

	want := map[string]any{"root": map[string]any{"children": []any{}}}
	if diff := cmp.Diff(want, out["canvasTree"]); diff != "" {
		t.Errorf("canvasTree mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, doc["apiKeysEncrypted"], out["apiKeysEncrypted"])
}

func TestConvertToV4_LeavesCurrentVersionAlone(t *testing.T) {
	doc := map[string]any{"version": "4.1", "email": "x@y.z", "custom": true}
	out := ConvertToV4(doc)
	assert.Equal(t, doc, out)
}

func TestConvertToV4_MissingVersionTreatedAsLegacy(t *testing.T) {
	out := ConvertToV4(map[string]any{"experiences": []any{map[string]any{"id": "x"}}})
	assert.Equal(t, "4.1", out["version"])
	assert.Len(t, out["experiences"], 1)
	assert.Equal(t, []any{}, out["stories"])
	assert.Equal(t, 0, out["yearsExperience"])
}

func TestParse_Versions(t *testing.T) {
	f, err := Parse([]byte(nestedV2))
	require.NoError(t, err)
	assert.Equal(t, "4.1", f.Version)
	assert.Equal(t, "a@b.com", f.Email)
	assert.Equal(t, float64(7), f.YearsExperience)
	require.Len(t, f.Experiences, 1)
	assert.Equal(t, "Acme", f.Experiences[0]["organizationName"])
	require.NotNil(t, f.APIKeys)
	assert.Equal(t, []string{"openai"}, f.APIKeys.Providers)

	f, err = Parse([]byte(`{"version":"4.1","email":"c@d.e","yearsExperience":"12","jobs":[{"id":"j1"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "c@d.e", f.Email)
	assert.Equal(t, float64(12), f.YearsExperience)
	assert.Len(t, f.Jobs, 1)

	_, err = Parse([]byte(`{"version":"5.0"}`))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = Parse([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Parse([]byte(`{"version":"4.1","format":"encrypted-backup","payload":"x"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestMajorVersion(t *testing.T) {
	tests := map[string]int{"4.1": 4, "2.0": 2, "": 0, "abc": 0, " 3.0 ": 3, "10": 10}
	for in, want := range tests {
		assert.Equal(t, want, MajorVersion(in), in)
	}
}

func TestVerify_FlagsPlaintextKey(t *testing.T) {
	doc := `{"version":"4.1","apiKeysEncrypted":{"encrypted":true,"providers":["OpenAI"],
	  "data":{"openai":{"apiKey":"sk-proj-1234567890abcdefghijklmnopqrstuvwxyz1234567890abcdefghijklmnopqrstuvwxyz1234567890"}}}}`

	res := Verify([]byte(doc))
	assert.False(t, res.HasKeys)
	assert.Equal(t, "4.1", res.Format)
	assert.Equal(t, []string{"OpenAI"}, res.Providers)
	assert.Equal(t, []string{"OpenAI"}, res.Plaintext)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "PLAINTEXT")
	assert.ErrorIs(t, res.Err(), ErrPlaintextKey)
}

func TestVerify_FlagsPlaintextKeyOutsideProviders(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		providers []string
	}{
		{
			name: "empty providers",
			doc:  `{"apiKeysEncrypted":{"encrypted":true,"providers":[],"data":{"openai":{"apiKey":"sk-proj-123456"}}}}`,
		},
		{
			name:      "incomplete providers",
			doc:       `{"apiKeysEncrypted":{"encrypted":true,"providers":["anthropic"],"data":{"anthropic":{"apiKey":"` + strings.Repeat("A", 120) + `"},"openai":{"apiKey":"sk-proj-123456"}}}}`,
			providers: []string{"anthropic"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Verify([]byte(tt.doc))
			assert.False(t, res.HasKeys)
			assert.Equal(t, tt.providers, res.Providers)
			assert.Equal(t, []string{"openai"}, res.Plaintext)
			assert.ErrorIs(t, res.Err(), ErrPlaintextKey)
		})
	}
}

func TestVerify_StructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"no section", `{"version":"4.1"}`, "no apiKeysEncrypted"},
		{"not encrypted", `{"apiKeysEncrypted":{"encrypted":false}}`, "encrypted is not true"},
		{"providers not array", `{"apiKeysEncrypted":{"encrypted":true,"providers":"openai"}}`, "providers is missing"},
		{"no data", `{"apiKeysEncrypted":{"encrypted":true,"providers":["a"]}}`, "data is missing"},
		{"provider without data", `{"apiKeysEncrypted":{"encrypted":true,"providers":["a"],"data":{}}}`, "has no data"},
		{"provider without key", `{"apiKeysEncrypted":{"encrypted":true,"providers":["a"],"data":{"a":{}}}}`, "has no apiKey"},
		{"too short", `{"apiKeysEncrypted":{"encrypted":true,"providers":["a"],"data":{"a":{"apiKey":"c2hvcnQ="}}}}`, "too short"},
		{"empty providers", `{"apiKeysEncrypted":{"encrypted":true,"providers":[],"data":{}}}`, "providers is empty"},
		{"unlisted entry", `{"apiKeysEncrypted":{"encrypted":true,"providers":["a"],"data":{"a":{"apiKey":"` + strings.Repeat("A", 120) + `"},"b":{}}}}`, "not listed"},
		{"garbage", `[1,2`, "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Verify([]byte(tt.doc))
			assert.False(t, res.HasKeys)
			require.NotEmpty(t, res.Errors)
			assert.Contains(t, res.Errors[0], tt.want)
			assert.Error(t, res.Err())
		})
	}

	assert.ErrorIs(t, Verify([]byte(`{}`)).Err(), ErrNoKeysSection)
}

func TestLooksPlaintext(t *testing.T) {
	for _, k := range []string{"sk-abc", "sk-ant-api03", "AIzaSyD", "gsk_123", "xai-1"} {
		assert.True(t, LooksPlaintext(k), k)
	}
	assert.False(t, LooksPlaintext("ZXhhbXBsZQ=="))
}

func TestAPIKeys_RoundTripAndVerify(t *testing.T) {
	keys := map[string]string{"OpenAI": "sk-proj-secret", "anthropic": "sk-ant-secret"}

	section, err := EncryptAPIKeys(keys, password)
	require.NoError(t, err)
	require.NotNil(t, section)
	assert.True(t, section.Encrypted)
	assert.Equal(t, []string{"anthropic", "openai"}, section.Providers)
	for _, p := range section.Providers {
		env := section.Data[p].APIKey
		assert.GreaterOrEqual(t, len(env), cryptox.MinEnvelopeLength)
		assert.False(t, LooksPlaintext(env))
	}

	res := VerifyFile(&File{Version: Version, APIKeys: section})
	assert.True(t, res.HasKeys, res.Errors)
	assert.NoError(t, res.Err())

	got, err := DecryptAPIKeys(section, password)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"openai": "sk-proj-secret", "anthropic": "sk-ant-secret"}, got)

	_, err = DecryptAPIKeys(section, "WrongPassword1")
	assert.ErrorIs(t, err, cryptox.ErrDecryption)
}

func TestAPIKeys_Errors(t *testing.T) {
	_, err := EncryptAPIKeys(map[string]string{"a": "b"}, "short")
	assert.ErrorIs(t, err, cryptox.ErrWeakPassword)

	section, err := EncryptAPIKeys(nil, password)
	require.NoError(t, err)
	assert.Nil(t, section)

	_, err = DecryptAPIKeys(nil, password)
	assert.ErrorIs(t, err, ErrNotEncrypted)

	_, err = DecryptAPIKeys(&APIKeySection{Encrypted: true, Providers: []string{"x"}}, password)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncryptedBackup_SealOpen(t *testing.T) {
	f := &File{
		Version:     Version,
		ExportDate:  "2025-11-26T10:00:00.000Z",
		Email:       "a@b.com",
		PersonaID:   "member",
		Experiences: []models.Record{{"id": "e1", "organizationName": "Acme"}},
		Stories:     []models.Record{},
	}
	now := time.Date(2025, 11, 26, 10, 0, 0, 0, time.UTC)

	sealed, err := Seal(f, password, now)
	require.NoError(t, err)
	assert.Equal(t, EncryptedFormat, sealed.Format)
	assert.Equal(t, "2025-11-26T10:00:00.000Z", sealed.Created)
	assert.True(t, sealed.Encrypted)
	assert.NotContains(t, sealed.Payload, "a@b.com")

	raw, err := json.Marshal(sealed)
	require.NoError(t, err)
	assert.True(t, IsEncryptedBackup(raw))
	assert.False(t, IsEncryptedBackup([]byte(nestedV2)))

	parsed, err := ParseEncrypted(raw)
	require.NoError(t, err)

	opened, err := Open(parsed, password)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", opened.Email)
	assert.Equal(t, "member", opened.PersonaID)
	require.Len(t, opened.Experiences, 1)

	_, err = Open(parsed, "WrongPassword1")
	assert.ErrorIs(t, err, cryptox.ErrDecryption)

	parsed.Encrypted = false
	_, err = Open(parsed, password)
	assert.ErrorIs(t, err, ErrNotEncrypted)

	_, err = ParseEncrypted([]byte(`{"format":"other"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestWriteAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "backup.json")
	f := &File{Version: Version, Email: "a@b.com", Experiences: []models.Record{}, Stories: []models.Record{}}

	require.NoError(t, WriteFile(path, f))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", got.Email)

	data, err := f.Marshal()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{\n  \"version\": \"4.1\""))

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

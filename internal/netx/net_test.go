package netx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload(t *testing.T) {
	body := []byte(`{"collection":"jobs"}`)

	t.Run("success", func(t *testing.T) {
		var gotBody []byte
		var gotMethod, gotCT string

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotCT = r.Header.Get("Content-Type")
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		err := Upload(context.Background(), nil, ts.URL+"/p/member/jobs.json?X-Amz-Signature=abc", body)
		require.NoError(t, err)
		assert.Equal(t, http.MethodPut, gotMethod)
		assert.Equal(t, "application/json", gotCT)
		assert.Equal(t, body, gotBody)
	})

	t.Run("non-2xx", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("SignatureDoesNotMatch"))
		}))
		defer ts.Close()

		err := Upload(context.Background(), ts.Client(), ts.URL, body)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "upload failed: 403")
		assert.Contains(t, err.Error(), "SignatureDoesNotMatch")
		assert.NotErrorIs(t, err, ErrNotFound)
	})

	t.Run("network error", func(t *testing.T) {
		ts := httptest.NewServer(http.NotFoundHandler())
		ts.Close()

		err := Upload(context.Background(), nil, ts.URL, body)
		require.Error(t, err)
		var se *StatusError
		assert.NotErrorAs(t, err, &se)
	})

	t.Run("canceled context", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer ts.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Upload(ctx, nil, ts.URL, body)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDownload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer ts.Close()

	got, err := Download(context.Background(), nil, ts.URL+"/present")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	_, err = Download(context.Background(), nil, ts.URL+"/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

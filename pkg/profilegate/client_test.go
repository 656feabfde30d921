package profilegate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finscope/profiler-cli/internal/model"
)

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	want := ProfileData{
		FacebookID:  "fb123",
		Name:        "Jane Doe",
		Bio:         "Founder at Acme",
		Location:    "Austin, TX",
		Work:        "Acme Corp",
		Education:   "UT Austin",
		PostsSample: []string{"Excited about our Series A!"},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/fetch", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req fetchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://facebook.com/jane.doe", req.URL)
		assert.Equal(t, "acct-1", req.Credentials.AccountID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(fetchResponse{Profile: &want})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	got, err := client.Fetch(context.Background(), "https://facebook.com/jane.doe",
		Credentials{AccountID: "acct-1", CredentialRef: "vault://acct-1"})

	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

func TestFetch_InvalidURL(t *testing.T) {
	t.Parallel()

	client := NewClient("http://unused", "test-key")

	for _, raw := range []string{"not a url at all\x7f", "ftp://example.com/p", "https://"} {
		_, err := client.Fetch(context.Background(), raw, Credentials{})
		require.Error(t, err, raw)
		kind, ok := model.FetchKind(err)
		require.True(t, ok, raw)
		assert.Equal(t, model.FetchInvalidURL, kind, raw)
	}
}

func TestFetch_StatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		kind   model.FetchErrorKind
	}{
		{http.StatusNotFound, model.FetchNotFound},
		{http.StatusGone, model.FetchNotFound},
		{http.StatusForbidden, model.FetchAccountBlocked},
		{http.StatusUnauthorized, model.FetchAccountBlocked},
		{http.StatusBadRequest, model.FetchInvalidURL},
		{http.StatusUnprocessableEntity, model.FetchInvalidURL},
		{http.StatusRequestTimeout, model.FetchTimeout},
		{http.StatusGatewayTimeout, model.FetchTimeout},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"error":"nope"}`))
		}))

		client := NewClient(srv.URL, "test-key")
		_, err := client.Fetch(context.Background(), "https://facebook.com/x", Credentials{})
		srv.Close()

		require.Error(t, err)
		kind, ok := model.FetchKind(err)
		require.True(t, ok, "status %d", tc.status)
		assert.Equal(t, tc.kind, kind, "status %d", tc.status)
	}
}

func TestFetch_UnexpectedStatusIsUntyped(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`boom`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	_, err := client.Fetch(context.Background(), "https://facebook.com/x", Credentials{})

	require.Error(t, err)
	_, ok := model.FetchKind(err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "500")
}

func TestFetch_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key",
		WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	_, err := client.Fetch(context.Background(), "https://facebook.com/x", Credentials{})

	require.Error(t, err)
	kind, ok := model.FetchKind(err)
	require.True(t, ok)
	assert.Equal(t, model.FetchTimeout, kind)
}

func TestFetch_EmptyProfile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	_, err := client.Fetch(context.Background(), "https://facebook.com/x", Credentials{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty profile")
}

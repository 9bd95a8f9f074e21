package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadsAdapter_FetchReplies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rel-1/replies", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "id,text,username,timestamp,permalink", r.URL.Query().Get("fields"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		_, _ = w.Write([]byte(`{"data":[{"id":"r-1","text":"halo","username":"budi","timestamp":"2026-01-01T10:00:00+0000","permalink":"https://threads.net/p/1"}]}`))
	})
	mux.HandleFunc("/rel-2/replies", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/rel-3/replies", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"expired"}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	adapter := &ThreadsAdapter{GraphURL: server.URL, Client: server.Client()}

	replies, err := adapter.FetchReplies(context.Background(), "rel-1", "tok", 5)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "r-1", replies[0].ID)
	assert.Equal(t, "budi", replies[0].Username)
	assert.Equal(t, "https://threads.net/p/1", replies[0].Permalink)

	replies, err = adapter.FetchReplies(context.Background(), "rel-2", "tok", 5)
	require.NoError(t, err)
	assert.NotNil(t, replies)
	assert.Empty(t, replies)

	_, err = adapter.FetchReplies(context.Background(), "rel-3", "tok", 5)
	var phaseErr *PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, "fetch replies", phaseErr.Phase)
	assert.Equal(t, http.StatusForbidden, phaseErr.StatusCode)
}

func TestThreadsAdapter_RefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "th_refresh_token", r.URL.Query().Get("grant_type"))
		switch r.URL.Query().Get("access_token") {
		case "old":
			_, _ = w.Write([]byte(`{"access_token":"new","token_type":"bearer","expires_in":5184000}`))
		case "empty":
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Session has expired"}}`))
		}
	}))
	defer server.Close()

	adapter := &ThreadsAdapter{RefreshURL: server.URL, Client: server.Client()}

	refreshed, err := adapter.RefreshToken(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, "new", refreshed.AccessToken)
	assert.WithinDuration(t, time.Now().Add(60*24*time.Hour), refreshed.ExpiresAt, time.Minute)

	_, err = adapter.RefreshToken(context.Background(), "empty")
	assert.Error(t, err)

	_, err = adapter.RefreshToken(context.Background(), "revoked")
	var phaseErr *PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, "refresh token", phaseErr.Phase)
}

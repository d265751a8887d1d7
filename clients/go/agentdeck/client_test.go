package agentdeck

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("AGENTDECK_CONFIG", t.TempDir())
	t.Setenv("AGENTDECK_TOKEN", "")
	return NewClient(srv.URL)
}

func TestRequestsCarryTokenAndSession(t *testing.T) {
	var gotAuth, gotSession, gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSession = r.Header.Get("X-Session-ID")
		gotQuery = r.URL.Query().Get("q")
		json.NewEncoder(w).Encode(AgentsResponse{Agents: []Agent{{ID: "a1", Name: "Eliza"}}, Total: 1})
	})
	c.Token = "tok"

	resp, err := c.ListAgents(context.Background(), "eli za")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.NotEmpty(t, gotSession)
	assert.Equal(t, "eli za", gotQuery)
}

func TestRequireToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := c.ListAgents(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"state":"loading","error":"identity provider unavailable"}`))
	})
	c.Token = "tok"

	_, err := c.Dashboard(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "loading", apiErr.State)
	assert.Equal(t, "identity provider unavailable", apiErr.Message)
}

func TestFailedSendKeepsConversation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/a1/messages", r.URL.Path)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"model overloaded","state":"failed","messages":[
			{"user":"user","text":"hi","createdAt":1},
			{"user":"agent","text":"","createdAt":1,"error":"model overloaded"}]}`))
	})
	c.Token = "tok"

	conv, err := c.Send(context.Background(), "a1", "hi")
	require.Error(t, err)
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "model overloaded", conv.Messages[1].Error)
}

func TestSendFile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "look", r.FormValue("text"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "cat.gif", hdr.Filename)
		assert.Equal(t, "GIF89a", string(data))
		w.Write([]byte(`{"agentId":"a1","state":"idle","messages":[],"replies":[{"user":"agent","text":"a cat"}]}`))
	})
	c.Token = "tok"

	path := filepath.Join(t.TempDir(), "cat.gif")
	require.NoError(t, os.WriteFile(path, []byte("GIF89a"), 0600))

	conv, err := c.SendFile(context.Background(), "a1", "look", path)
	require.NoError(t, err)
	require.Len(t, conv.Replies, 1)
	assert.Equal(t, "a cat", conv.Replies[0].Text)
}

func TestLoginPersistsToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["access_token"] != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"authentication required"}`))
			return
		}
		w.Write([]byte(`{"state":"authenticated","email":"ada@example.com"}`))
	})

	_, err := c.Login(context.Background(), "bad")
	require.Error(t, err)
	assert.Empty(t, c.Token)

	info, err := c.Login(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", info.Email)

	reloaded := NewClient(c.BaseURL)
	assert.Equal(t, "good", reloaded.Token)
	assert.Equal(t, c.SessionID, reloaded.SessionID)
}

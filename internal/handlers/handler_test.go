package handlers

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/agentdeck/internal/agentapi"
	"github.com/eldtechnologies/agentdeck/internal/auth"
)

func TestSplitTrim(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitTrim(" a, ,b ,", ","))
	assert.Equal(t, []string{"first", "second"}, splitTrim("first\n\n  second\n", "\n"))
	assert.Equal(t, []string{}, splitTrim("", ","))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Ada", sanitizeName("  A\x00da\n "))
	assert.Len(t, []rune(sanitizeName(strings.Repeat("é", 150))), 100)
}

func TestUsernameFor(t *testing.T) {
	id := uuid.MustParse("0190a5e2-7c1d-7000-8000-000000000001")

	assert.Equal(t, "ada", usernameFor(&auth.Identity{UserID: id, Username: "ada", Email: "x@y.z"}))
	assert.Equal(t, "grace", usernameFor(&auth.Identity{UserID: id, Email: "grace@example.com"}))
	assert.Equal(t, "user-0190a5e2", usernameFor(&auth.Identity{UserID: id}))
}

func TestParseSendInputJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"text":"hi"}`))
	r.Header.Set("Content-Type", "application/json")

	in, err := parseSendInput(r)
	require.NoError(t, err)
	assert.Equal(t, "hi", in.Text)
	assert.Nil(t, in.Attachment)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"txt":"hi"}`))
	r.Header.Set("Content-Type", "application/json")
	_, err = parseSendInput(r)
	assert.Error(t, err)
}

func TestParseSendInputMultipart(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("text", "look at this")
	part, err := mw.CreateFormFile("file", "cat.gif")
	require.NoError(t, err)
	part.Write([]byte("GIF89a......"))
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())

	in, err := parseSendInput(r)
	require.NoError(t, err)
	assert.Equal(t, "look at this", in.Text)
	require.NotNil(t, in.Attachment)
	assert.Equal(t, "cat.gif", in.Attachment.Name)
	// octet-stream parts are sniffed
	assert.Equal(t, "image/gif", in.Attachment.ContentType)
}

func TestAgentAPIErrorMapping(t *testing.T) {
	h := NewHandler(Deps{})

	rec := httptest.NewRecorder()
	h.agentAPIError(rec, &agentapi.Error{Status: http.StatusNotFound, Message: "Agent not found"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Agent not found"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.agentAPIError(rec, &agentapi.Error{Status: http.StatusInternalServerError, Message: "An error occurred."})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = httptest.NewRecorder()
	h.agentAPIError(rec, errors.New("dial tcp: refused"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"agent service unavailable"}`, rec.Body.String())
}

package objstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndServe(t *testing.T) {
	s, err := New(t.TempDir(), "/storage", 1024)
	require.NoError(t, err)

	obj, err := s.Put(context.Background(), BucketAttachments, "cat.png", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "/storage/attachments/cat.png", obj.URL)
	assert.Equal(t, int64(9), obj.Size)

	srv := httptest.NewServer(http.StripPrefix("/storage", s.Handler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + obj.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "png-bytes", string(body))

	resp, err = http.Get(srv.URL + "/storage/attachments/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPutRejects(t *testing.T) {
	s, err := New(t.TempDir(), "/storage", 4)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Put(ctx, "secrets", "a.png", "image/png", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrUnknownBucket)

	_, err = s.Put(ctx, BucketAgentLogos, "big.png", "image/png", strings.NewReader("too large"))
	assert.ErrorIs(t, err, ErrTooLarge)

	// Path components are stripped from names.
	obj, err := s.Put(ctx, BucketAgentLogos, "../../etc/x.png", "image/png", strings.NewReader("ok"))
	require.NoError(t, err)
	assert.Equal(t, "x.png", obj.Name)
}

func TestObjectName(t *testing.T) {
	a := ObjectName("Photo.JPG")
	b := ObjectName("Photo.JPG")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, ".jpg"))
}

// Package objstore keeps uploaded files in named buckets on local disk and
// serves them under a public URL prefix.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	BucketAgentLogos  = "agent-logos"
	BucketAttachments = "attachments"
)

var (
	ErrUnknownBucket = errors.New("unknown bucket")
	ErrTooLarge      = errors.New("file too large")
)

// Object is a stored file.
type Object struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Store writes objects below root. Public URLs are prefix/<bucket>/<name>.
type Store struct {
	root    string
	prefix  string
	maxSize int64
	buckets map[string]bool
}

// New creates the bucket directories under root.
func New(root, prefix string, maxSize int64) (*Store, error) {
	s := &Store{
		root:    root,
		prefix:  strings.TrimRight(prefix, "/"),
		maxSize: maxSize,
		buckets: map[string]bool{BucketAgentLogos: true, BucketAttachments: true},
	}
	for b := range s.buckets {
		if err := os.MkdirAll(filepath.Join(root, b), 0755); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", b, err)
		}
	}
	return s, nil
}

// ObjectName returns a collision-free name keeping the original extension.
func ObjectName(original string) string {
	ext := strings.ToLower(path.Ext(original))
	if len(ext) > 10 {
		ext = ""
	}
	return uuid.NewString() + ext
}

// Put stores r as bucket/name.
func (s *Store) Put(ctx context.Context, bucket, name, contentType string, r io.Reader) (*Object, error) {
	if !s.buckets[bucket] {
		return nil, ErrUnknownBucket
	}
	name = path.Base("/" + name)
	if name == "/" || name == "." {
		return nil, fmt.Errorf("invalid object name")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst := filepath.Join(s.root, bucket, name)
	tmp, err := os.CreateTemp(filepath.Join(s.root, bucket), ".upload-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if s.maxSize > 0 && n > s.maxSize {
		return nil, ErrTooLarge
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, err
	}

	return &Object{
		Bucket:      bucket,
		Name:        name,
		URL:         s.URL(bucket, name),
		ContentType: contentType,
		Size:        n,
	}, nil
}

// URL returns the public URL of bucket/name.
func (s *Store) URL(bucket, name string) string {
	return s.prefix + "/" + bucket + "/" + name
}

// Handler serves stored objects. Mount it with the prefix stripped.
func (s *Store) Handler() http.Handler {
	fs := http.FileServer(http.Dir(s.root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket, _, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
		if !s.buckets[bucket] || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		fs.ServeHTTP(w, r)
	})
}

// Package storage implements content-addressed object storage for NFT media and metadata.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/h2non/filetype"

	"github.com/complicesconecta/backend/internal/apperror"
)

// Meta describes an object being stored.
type Meta struct {
	Prefix      string
	ContentType string
}

// ObjectStore puts bytes and returns a stable locator. Identical content yields the same locator.
type ObjectStore interface {
	Put(ctx context.Context, data []byte, meta Meta) (string, error)
}

var extensions = map[string]string{
	"application/json": ".json",
	"image/png":        ".png",
	"image/jpeg":       ".jpg",
	"image/gif":        ".gif",
	"image/webp":       ".webp",
	"video/mp4":        ".mp4",
}

// DetectContentType sniffs data, falling back to the declared type.
func DetectContentType(data []byte, declared string) string {
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}
	return "application/octet-stream"
}

// IsImage reports whether data is a recognised image.
func IsImage(data []byte) bool {
	return filetype.IsImage(data)
}

// ContentKey derives the object key from the sha256 of data.
func ContentKey(prefix string, data []byte, contentType string) string {
	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:]) + extensions[contentType]
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// InMemoryStore implements ObjectStore for tests and the fixture data source.
type InMemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (s *InMemoryStore) Put(_ context.Context, data []byte, meta Meta) (string, error) {
	if len(data) == 0 {
		return "", apperror.InvalidInput("object is empty")
	}
	contentType := DetectContentType(data, meta.ContentType)
	key := ContentKey(meta.Prefix, data, contentType)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		s.objects[key] = append([]byte(nil), data...)
		s.types[key] = contentType
	}
	return fmt.Sprintf("mem://%s", key), nil
}

// Get returns a stored object by locator. Useful for tests.
func (s *InMemoryStore) Get(uri string) ([]byte, string, bool) {
	key := strings.TrimPrefix(uri, "mem://")
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	return data, s.types[key], ok
}

// Len returns the number of distinct objects stored.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

var _ ObjectStore = (*S3Store)(nil)
var _ ObjectStore = (*InMemoryStore)(nil)

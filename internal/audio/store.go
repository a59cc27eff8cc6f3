// Package audio keeps playable URLs for recorded and received audio clips.
package audio

import (
	"container/list"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// DefaultCapacity bounds the number of live URLs a Store keeps.
const DefaultCapacity = 50

// ErrInvalidBlob is returned when Put receives no audio bytes.
var ErrInvalidBlob = errors.New("invalid audio blob")

// Blob is binary audio data with its MIME type.
type Blob struct {
	Data []byte
	MIME string
	Name string
}

// Minter turns a blob into a URL that stays valid until revoked.
type Minter interface {
	Mint(key string, blob *Blob) (string, error)
	Revoke(url string) error
}

type entry struct {
	key  string
	url  string
	blob *Blob
}

// Store maps keys to revocable audio URLs. Once more than capacity entries are
// held, the earliest inserted one is revoked and dropped.
type Store struct {
	mu       sync.Mutex
	minter   Minter
	capacity int
	order    *list.List // insertion order, front is oldest
	entries  map[string]*list.Element
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger that reports URLs the minter failed to revoke.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore builds a store; a nil minter uses in-memory blob URLs.
func NewStore(minter Minter, capacity int, opts ...Option) *Store {
	if minter == nil {
		minter = NewMemoryMinter()
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{
		minter:   minter,
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put records blob under key and returns its URL.
func (s *Store) Put(key string, blob *Blob) (string, error) {
	if blob == nil || len(blob.Data) == 0 {
		return "", fmt.Errorf("store %s: %w", key, ErrInvalidBlob)
	}
	url, err := s.minter.Mint(key, blob)
	if err != nil {
		return "", fmt.Errorf("mint url for %s: %w", key, err)
	}

	s.mu.Lock()
	var revoke []string
	if elem, ok := s.entries[key]; ok {
		old := elem.Value.(*entry)
		revoke = append(revoke, old.url)
		old.url = url
		old.blob = blob
	} else {
		s.entries[key] = s.order.PushBack(&entry{key: key, url: url, blob: blob})
		for s.order.Len() > s.capacity {
			oldest := s.order.Front()
			ent := oldest.Value.(*entry)
			s.order.Remove(oldest)
			delete(s.entries, ent.key)
			revoke = append(revoke, ent.url)
		}
	}
	s.mu.Unlock()

	s.revoke(revoke...)
	return url, nil
}

// Get returns the URL stored under key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.entries[key]
	if !ok {
		return "", false
	}
	return elem.Value.(*entry).url, true
}

// Blob returns the audio data stored under key.
func (s *Store) Blob(key string) (*Blob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return elem.Value.(*entry).blob, true
}

// Clear revokes and removes one entry.
func (s *Store) Clear(key string) {
	s.mu.Lock()
	elem, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.order.Remove(elem)
	delete(s.entries, key)
	s.mu.Unlock()
	s.revoke(elem.Value.(*entry).url)
}

// ClearPrefix revokes every entry whose key starts with prefix.
func (s *Store) ClearPrefix(prefix string) {
	s.mu.Lock()
	var urls []string
	for elem := s.order.Front(); elem != nil; {
		next := elem.Next()
		ent := elem.Value.(*entry)
		if strings.HasPrefix(ent.key, prefix) {
			s.order.Remove(elem)
			delete(s.entries, ent.key)
			urls = append(urls, ent.url)
		}
		elem = next
	}
	s.mu.Unlock()
	s.revoke(urls...)
}

// ClearAll revokes and removes every entry.
func (s *Store) ClearAll() {
	s.mu.Lock()
	urls := make([]string, 0, s.order.Len())
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		urls = append(urls, elem.Value.(*entry).url)
	}
	s.order.Init()
	s.entries = make(map[string]*list.Element)
	s.mu.Unlock()
	s.revoke(urls...)
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Keys lists keys oldest first.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, s.order.Len())
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry).key)
	}
	return keys
}

// revoke releases urls; failures are logged and the entry stays dropped.
func (s *Store) revoke(urls ...string) {
	for _, u := range urls {
		if err := s.minter.Revoke(u); err != nil {
			s.logger.Warn("revoke audio url", "url", u, "error", err)
		}
	}
}

package audio

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const blobScheme = "blob:unichat/"

// MemoryMinter hands out opaque blob: URLs backed by nothing but the store itself.
type MemoryMinter struct {
	mu   sync.Mutex
	live map[string]struct{}
}

func NewMemoryMinter() *MemoryMinter {
	return &MemoryMinter{live: make(map[string]struct{})}
}

func (m *MemoryMinter) Mint(_ string, _ *Blob) (string, error) {
	u := blobScheme + uuid.NewString()
	m.mu.Lock()
	m.live[u] = struct{}{}
	m.mu.Unlock()
	return u, nil
}

func (m *MemoryMinter) Revoke(u string) error {
	m.mu.Lock()
	delete(m.live, u)
	m.mu.Unlock()
	return nil
}

// Live reports whether u was minted and not yet revoked.
func (m *MemoryMinter) Live(u string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[u]
	return ok
}

// FileMinter spools blobs to disk so external players can open them.
type FileMinter struct {
	dir string
}

func NewFileMinter(dir string) (*FileMinter, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "unichat-audio")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create audio spool: %w", err)
	}
	return &FileMinter{dir: dir}, nil
}

func (m *FileMinter) Mint(_ string, blob *Blob) (string, error) {
	path := filepath.Join(m.dir, uuid.NewString()+extensionFor(blob.MIME))
	if err := os.WriteFile(path, blob.Data, 0o600); err != nil {
		return "", fmt.Errorf("spool audio: %w", err)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(), nil
}

func (m *FileMinter) Revoke(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "file" {
		return fmt.Errorf("not a spooled url: %s", raw)
	}
	if err := os.Remove(filepath.FromSlash(u.Path)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func extensionFor(mime string) string {
	switch strings.ToLower(mime) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "video/mp4":
		return ".mp4"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".wav"
	}
}

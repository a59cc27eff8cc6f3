// Package upload validates and dispatches local files and media URLs for
// ingestion into a chat session.
package upload

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"unichat/internal/models"
)

// MaxFiles is the most files accepted in one batch.
const MaxFiles = 10

// DefaultMaxFileSizeMB applies when Limits.MaxFileSizeMB is zero.
const DefaultMaxFileSizeMB = 200

var allowedExtensions = map[string]struct{}{
	"pdf": {}, "doc": {}, "docx": {}, "txt": {},
	"wav": {}, "mp3": {}, "mp4": {},
}

// AllowedExtensions lists the accepted extensions in display order.
func AllowedExtensions() []string {
	return []string{"pdf", "doc", "docx", "txt", "wav", "mp3", "mp4"}
}

// LocalFile is a file picked for upload.
type LocalFile interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

type pathFile struct {
	path string
	size int64
}

// FromPath stats path and returns it as a LocalFile.
func FromPath(path string) (LocalFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &pathFile{path: path, size: info.Size()}, nil
}

func (f *pathFile) Name() string                 { return filepath.Base(f.path) }
func (f *pathFile) Size() int64                  { return f.size }
func (f *pathFile) Open() (io.ReadCloser, error) { return os.Open(f.path) }

// Limits configures validation.
type Limits struct {
	MaxFileSizeMB int
}

func (l Limits) maxMB() int {
	if l.MaxFileSizeMB <= 0 {
		return DefaultMaxFileSizeMB
	}
	return l.MaxFileSizeMB
}

// Rule names the check that rejected a batch.
type Rule string

const (
	RuleTooMany   Rule = "too_many_files"
	RuleExtension Rule = "extension"
	RuleSize      Rule = "size"
	RuleURL       Rule = "url"
)

// ValidationError rejects a whole batch before any network call.
type ValidationError struct {
	Rule  Rule
	Files []string
	Limit int
}

func (e *ValidationError) Error() string {
	switch e.Rule {
	case RuleTooMany:
		return fmt.Sprintf("at most %d files can be uploaded at once", e.Limit)
	case RuleExtension:
		return fmt.Sprintf("invalid files: %s. Accepted: %s.", strings.Join(e.Files, ", "), strings.Join(AllowedExtensions(), ", "))
	case RuleSize:
		return fmt.Sprintf("files too large: %s. Maximum size is %dMB.", strings.Join(e.Files, ", "), e.Limit)
	case RuleURL:
		return fmt.Sprintf("invalid url: %s", strings.Join(e.Files, ", "))
	default:
		return "invalid upload"
	}
}

// Validate checks count, then extensions, then sizes, then the URL. The
// first failing rule rejects the batch and names every offending file.
func Validate(files []LocalFile, rawURL string, limits Limits) error {
	if len(files) > MaxFiles {
		return &ValidationError{Rule: RuleTooMany, Limit: MaxFiles}
	}

	var bad []string
	for _, f := range files {
		if _, ok := allowedExtensions[models.Extension(f.Name())]; !ok {
			bad = append(bad, f.Name())
		}
	}
	if len(bad) > 0 {
		return &ValidationError{Rule: RuleExtension, Files: bad}
	}

	maxBytes := int64(limits.maxMB()) * 1024 * 1024
	for _, f := range files {
		if f.Size() > maxBytes {
			bad = append(bad, f.Name())
		}
	}
	if len(bad) > 0 {
		return &ValidationError{Rule: RuleSize, Files: bad, Limit: limits.maxMB()}
	}

	if rawURL = strings.TrimSpace(rawURL); rawURL != "" {
		u, err := url.Parse(rawURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{Rule: RuleURL, Files: []string{rawURL}}
		}
	}
	return nil
}

// split partitions files into documents and audio/video, preserving order.
func split(files []LocalFile) (documents, audioVideo []LocalFile) {
	for _, f := range files {
		if models.Classify(f.Name()) == models.CategoryAudioVideo {
			audioVideo = append(audioVideo, f)
			continue
		}
		documents = append(documents, f)
	}
	return documents, audioVideo
}

func names(files []LocalFile) string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name()
	}
	return strings.Join(out, ", ")
}

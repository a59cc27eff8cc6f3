package models

import (
	"path/filepath"
	"strings"
)

// UploadedFile is a file attached to a session. Its category is derived, never stored.
type UploadedFile struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
}

type FileCategory string

const (
	CategoryDocument   FileCategory = "document"
	CategoryAudioVideo FileCategory = "audio/video"
)

var audioVideoExtensions = map[string]struct{}{
	"wav": {},
	"mp3": {},
	"mp4": {},
}

// Extension returns the lower-cased extension of name without the dot.
func Extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// IsAudioVideo reports whether name has an audio/video extension.
func IsAudioVideo(name string) bool {
	_, ok := audioVideoExtensions[Extension(name)]
	return ok
}

// Classify places a file name in exactly one category.
func Classify(name string) FileCategory {
	if IsAudioVideo(name) {
		return CategoryAudioVideo
	}
	return CategoryDocument
}

// Partition splits files into document and audio/video buckets, preserving order.
func Partition(files []UploadedFile) (documents, audioVideo []UploadedFile) {
	for _, f := range files {
		if Classify(f.FileName) == CategoryAudioVideo {
			audioVideo = append(audioVideo, f)
			continue
		}
		documents = append(documents, f)
	}
	return documents, audioVideo
}

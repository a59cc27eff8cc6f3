package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"unichat/internal/api"
	"unichat/internal/models"
)

// Uploader is the subset of the backend client the orchestrator drives.
type Uploader interface {
	UploadFiles(ctx context.Context, sessionID string, creds models.Credentials, files []api.FilePart) (json.RawMessage, error)
	UploadAudio(ctx context.Context, req api.AudioUpload) (json.RawMessage, error)
}

// Request is one upload invocation.
type Request struct {
	Files []LocalFile
	URL   string
	Query string
}

// Empty reports whether there is nothing to upload.
func (r Request) Empty() bool {
	return len(r.Files) == 0 && strings.TrimSpace(r.URL) == ""
}

// Result mirrors what the caller is told about an invocation. Partial
// success is reported as a failure carrying the error text.
type Result struct {
	Success bool
	Error   string
	Data    json.RawMessage
}

// Failed builds a failure result from err.
func Failed(err error) Result {
	return Result{Error: err.Error()}
}

// Orchestrator dispatches documents, audio/video files and URLs.
type Orchestrator struct {
	api    Uploader
	logger *slog.Logger
}

// NewOrchestrator builds an orchestrator over the backend client.
func NewOrchestrator(client Uploader, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{api: client, logger: logger}
}

// Run uploads documents as one batch, then audio/video files one at a time,
// then the URL. After each category status is called with a summary line.
// The first failure aborts the remaining steps; completed ones stay.
// The returned data is the last backend response.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, creds models.Credentials, req Request, status func(text string)) (json.RawMessage, error) {
	if status == nil {
		status = func(string) {}
	}
	documents, audioVideo := split(req.Files)
	var last json.RawMessage

	if len(documents) > 0 {
		data, err := o.uploadDocuments(ctx, sessionID, creds, documents)
		if err != nil {
			return last, err
		}
		last = data
		status(fmt.Sprintf("Uploaded %d file(s): %s", len(documents), names(documents)))
	}

	if len(audioVideo) > 0 {
		for _, f := range audioVideo {
			data, err := o.uploadAudioFile(ctx, sessionID, creds, f)
			if err != nil {
				return last, err
			}
			last = data
		}
		status(fmt.Sprintf("Uploaded %d audio file(s): %s", len(audioVideo), names(audioVideo)))
	}

	if u := strings.TrimSpace(req.URL); u != "" {
		data, err := o.api.UploadAudio(ctx, api.AudioUpload{
			SessionID:   sessionID,
			Credentials: creds,
			URL:         u,
			Query:       strings.TrimSpace(req.Query),
		})
		if err != nil {
			return last, fmt.Errorf("audio upload failed: %w", err)
		}
		last = data
		o.logger.Info("url submitted", "session_id", sessionID, "url", u)
		status("Processed URL: " + u)
	}
	return last, nil
}

func (o *Orchestrator) uploadDocuments(ctx context.Context, sessionID string, creds models.Credentials, files []LocalFile) (json.RawMessage, error) {
	parts := make([]api.FilePart, 0, len(files))
	closers := make([]io.Closer, 0, len(files))
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name(), err)
		}
		closers = append(closers, rc)
		parts = append(parts, api.FilePart{Name: f.Name(), Reader: rc})
	}
	data, err := o.api.UploadFiles(ctx, sessionID, creds, parts)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	o.logger.Info("documents uploaded", "session_id", sessionID, "count", len(files))
	return data, nil
}

func (o *Orchestrator) uploadAudioFile(ctx context.Context, sessionID string, creds models.Credentials, f LocalFile) (json.RawMessage, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name(), err)
	}
	defer rc.Close()
	data, err := o.api.UploadAudio(ctx, api.AudioUpload{
		SessionID:   sessionID,
		Credentials: creds,
		File:        &api.FilePart{Name: f.Name(), Reader: rc},
	})
	if err != nil {
		return nil, fmt.Errorf("audio upload failed: %w", err)
	}
	o.logger.Info("audio uploaded", "session_id", sessionID, "file", f.Name())
	return data, nil
}

// Package api is a typed client for the chat backend's REST endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"unichat/internal/models"
)

// StatusError is a non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%d - %s", e.Status, e.Body)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// Client talks to the backend through an authenticated http.Client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client. httpClient should carry auth.Transport.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string { return c.baseURL }

// AIModels lists the selectable models.
func (c *Client) AIModels(ctx context.Context) ([]models.AIModel, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/aimodels", nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetch models: %w", err)
	}
	var list []models.AIModel
	if err := decodeList(body, "models", &list); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	return list, nil
}

// Sessions lists the user's sessions.
func (c *Client) Sessions(ctx context.Context) ([]models.Session, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/chat/sessions", nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetch sessions: %w", err)
	}
	var list []models.Session
	if err := decodeList(body, "sessions", &list); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return list, nil
}

// NewChat registers a client-generated session id with the backend.
func (c *Client) NewChat(ctx context.Context, sessionID string) error {
	if _, err := c.doJSON(ctx, http.MethodPost, "/api/v1/chat/new_chat", map[string]string{"session_id": sessionID}); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// SessionHistory returns the stored messages of a session.
func (c *Client) SessionHistory(ctx context.Context, sessionID string) ([]models.HistoryMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/chat/session/"+url.PathEscape(sessionID), nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	var resp struct {
		Messages []models.HistoryMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return resp.Messages, nil
}

// DeleteSession removes a session. A missing session is a *StatusError with 404.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := c.do(ctx, http.MethodDelete, "/api/v1/chat/session/"+url.PathEscape(sessionID), nil, ""); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Files lists the files attached to a session.
func (c *Client) Files(ctx context.Context, sessionID string) ([]models.UploadedFile, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/chat/files/"+url.PathEscape(sessionID), nil, "")
	if err != nil {
		return nil, fmt.Errorf("fetch files: %w", err)
	}
	var list []models.UploadedFile
	if err := decodeList(body, "files", &list); err != nil {
		return nil, fmt.Errorf("decode files: %w", err)
	}
	return list, nil
}

// DeleteFile removes one file from a session.
func (c *Client) DeleteFile(ctx context.Context, sessionID, fileID string) error {
	path := "/api/v1/chat/files/" + url.PathEscape(sessionID) + "/" + url.PathEscape(fileID)
	if _, err := c.do(ctx, http.MethodDelete, path, nil, ""); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// ChatRequest is either a text prompt or a recorded voice message.
type ChatRequest struct {
	SessionID   string
	Credentials models.Credentials
	Prompt      string
	Voice       []byte
}

// ChatResponse is the backend's reply to a chat turn.
type ChatResponse struct {
	Response   string `json:"response"`
	Audio      string `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// Chat sends one user turn.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	form := newForm()
	form.field("session_id", req.SessionID)
	if req.Voice != nil {
		form.file("voice", "recording.wav", bytes.NewReader(req.Voice))
	} else {
		form.field("prompt", req.Prompt)
	}
	form.credentials(req.Credentials)
	body, err := c.postForm(ctx, "/api/v1/chat", form)
	if err != nil {
		return nil, fmt.Errorf("send chat: %w", err)
	}
	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	return &resp, nil
}

// FilePart is one file carried by a multipart upload.
type FilePart struct {
	Name   string
	Reader io.Reader
}

// UploadFiles sends documents in a single multipart batch.
func (c *Client) UploadFiles(ctx context.Context, sessionID string, creds models.Credentials, files []FilePart) (json.RawMessage, error) {
	form := newForm()
	form.field("session_id", sessionID)
	for _, f := range files {
		form.file("files", f.Name, f.Reader)
	}
	form.credentials(creds)
	body, err := c.postForm(ctx, "/api/v1/chat/upload-file", form)
	if err != nil {
		return nil, fmt.Errorf("upload files: %w", err)
	}
	return rawJSON(body), nil
}

// AudioUpload carries either one audio/video file or a remote media URL.
type AudioUpload struct {
	SessionID   string
	Credentials models.Credentials
	File        *FilePart
	URL         string
	Query       string
}

// UploadAudio sends one audio/video file or a media URL for ingestion.
func (c *Client) UploadAudio(ctx context.Context, req AudioUpload) (json.RawMessage, error) {
	form := newForm()
	form.field("session_id", req.SessionID)
	if req.File != nil {
		form.file("file", req.File.Name, req.File.Reader)
	}
	if req.URL != "" {
		form.field("youtube_url", req.URL)
	}
	if req.Query != "" {
		form.field("query", req.Query)
	}
	form.credentials(req.Credentials)
	body, err := c.postForm(ctx, "/api/v1/chat/upload_audio", form)
	if err != nil {
		return nil, fmt.Errorf("upload audio: %w", err)
	}
	return rawJSON(body), nil
}

// AudioActionRequest asks the backend to process an uploaded audio file.
type AudioActionRequest struct {
	SessionID string `json:"session_id"`
	Action    string `json:"action"`
	FileName  string `json:"file_name"`
	Query     string `json:"query"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
}

// AudioAction runs action (full_script, summarize) on fileName.
func (c *Client) AudioAction(ctx context.Context, req AudioActionRequest) ([]models.HistoryMessage, error) {
	body, err := c.doJSON(ctx, http.MethodPost, "/api/v1/chat/audio_action", req)
	if err != nil {
		return nil, fmt.Errorf("audio action %s: %w", req.Action, err)
	}
	var resp struct {
		Messages []models.HistoryMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode audio action response: %w", err)
	}
	return resp.Messages, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, method, path, bytes.NewReader(data), "application/json")
}

func (c *Client) postForm(ctx context.Context, path string, f *form) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := f.w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, &f.buf, f.w.FormDataContentType())
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

// decodeList accepts a bare JSON array or an object wrapping it under key.
func decodeList(body []byte, key string, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return err
	}
	inner, ok := wrapped[key]
	if !ok {
		return nil
	}
	return json.Unmarshal(inner, out)
}

func rawJSON(body []byte) json.RawMessage {
	if len(bytes.TrimSpace(body)) == 0 || !json.Valid(body) {
		return nil
	}
	return json.RawMessage(body)
}

type form struct {
	buf bytes.Buffer
	w   *multipart.Writer
	err error
}

func newForm() *form {
	f := &form{}
	f.w = multipart.NewWriter(&f.buf)
	return f
}

func (f *form) field(name, value string) {
	if f.err != nil {
		return
	}
	f.err = f.w.WriteField(name, value)
}

func (f *form) file(field, name string, r io.Reader) {
	if f.err != nil {
		return
	}
	part, err := f.w.CreateFormFile(field, name)
	if err != nil {
		f.err = fmt.Errorf("create form file: %w", err)
		return
	}
	if _, err := io.Copy(part, r); err != nil {
		f.err = fmt.Errorf("copy %s: %w", name, err)
	}
}

func (f *form) credentials(c models.Credentials) {
	f.field("provider", c.Provider)
	f.field("model", c.Model)
	f.field("api_key", c.APIKey)
}

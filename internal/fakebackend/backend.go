// Package fakebackend is an in-memory implementation of the chat backend API,
// used by tests and by `unichat dev-backend`.
package fakebackend

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"unichat/internal/models"
)

type user struct {
	email    string
	username string
	password string
}

type session struct {
	id        string
	owner     string
	title     string
	createdAt time.Time
	messages  []models.HistoryMessage
	files     []models.UploadedFile
}

// ChatReply is what the backend answers to one chat turn.
type ChatReply struct {
	Response   string
	Transcript string
	Audio      string
}

// ReplyFunc produces the answer for a prompt or a voice recording.
type ReplyFunc func(prompt string, voice []byte) ChatReply

type failure struct {
	method string
	prefix string
	status int
	body   string
}

type hold struct {
	method  string
	prefix  string
	release chan struct{}
	arrived chan struct{}
	once    sync.Once
}

// Backend holds all server state behind one mutex.
type Backend struct {
	mu       sync.Mutex
	users    map[string]*user
	tokens   map[string]string
	sessions map[string]*session
	models   []models.AIModel
	reply    ReplyFunc
	failures []failure
	holds    []*hold
	requests []string
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Backend.
type Option func(*Backend)

// WithReply overrides the default echo replies.
func WithReply(fn ReplyFunc) Option {
	return func(b *Backend) { b.reply = fn }
}

// WithModels replaces the advertised model list.
func WithModels(list []models.AIModel) Option {
	return func(b *Backend) { b.models = list }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// DefaultModels is the model list served unless WithModels is used.
var DefaultModels = []models.AIModel{
	{Model: "gpt-4o-mini", Title: "GPT-4o mini", Group: "openai"},
	{Model: "gemini-2.0-flash", Title: "Gemini 2.0 Flash", Group: "gemini"},
}

// New creates an empty backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		users:    make(map[string]*user),
		tokens:   make(map[string]string),
		sessions: make(map[string]*session),
		models:   DefaultModels,
		reply:    defaultReply,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func defaultReply(prompt string, voice []byte) ChatReply {
	if voice != nil {
		return ChatReply{
			Response:   fmt.Sprintf("received %d bytes of audio", len(voice)),
			Transcript: "transcribed voice message",
			Audio:      "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(voice),
		}
	}
	return ChatReply{Response: "echo: " + prompt}
}

// SeedUser registers an account and returns a valid bearer token for it.
func (b *Backend) SeedUser(email, username, password string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[email] = &user{email: email, username: username, password: password}
	return b.issueTokenLocked(email)
}

// RevokeTokens invalidates every issued token.
func (b *Backend) RevokeTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = make(map[string]string)
}

// SeedSession creates a session with history and files owned by the token's user.
func (b *Backend) SeedSession(token, id string, history []models.HistoryMessage, files []models.UploadedFile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[id] = &session{
		id:        id,
		owner:     b.tokens[token],
		title:     "Seeded session",
		createdAt: b.now(),
		messages:  append([]models.HistoryMessage(nil), history...),
		files:     append([]models.UploadedFile(nil), files...),
	}
}

// FailNext makes the next request matching method and path prefix fail with status.
func (b *Backend) FailNext(method, pathPrefix string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, failure{method: method, prefix: pathPrefix, status: status, body: body})
}

// Hold blocks the next request matching method and path prefix. The returned
// channel closes once the request arrives; calling release lets it continue.
func (b *Backend) Hold(method, pathPrefix string) (arrived <-chan struct{}, release func()) {
	h := &hold{method: method, prefix: pathPrefix, release: make(chan struct{}), arrived: make(chan struct{})}
	b.mu.Lock()
	b.holds = append(b.holds, h)
	b.mu.Unlock()
	return h.arrived, func() { h.once.Do(func() { close(h.release) }) }
}

// Requests returns "METHOD /path" for every request seen so far.
func (b *Backend) Requests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

// CountRequests counts requests matching method and path prefix.
func (b *Backend) CountRequests(method, pathPrefix string) int {
	n := 0
	for _, r := range b.Requests() {
		m, p, _ := strings.Cut(r, " ")
		if m == method && strings.HasPrefix(p, pathPrefix) {
			n++
		}
	}
	return n
}

// History returns a copy of a session's stored messages.
func (b *Backend) History(id string) []models.HistoryMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	if !ok {
		return nil
	}
	return append([]models.HistoryMessage(nil), s.messages...)
}

// HasSession reports whether a session exists.
func (b *Backend) HasSession(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[id]
	return ok
}

func (b *Backend) issueTokenLocked(email string) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	token := hex.EncodeToString(buf)
	b.tokens[token] = email
	return token
}

func (b *Backend) sessionsFor(owner string) []models.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		if s.owner != owner {
			continue
		}
		out = append(out, models.Session{SessionID: s.id, Title: s.title, CreatedAt: s.createdAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// takeFailure pops the first scripted failure matching the request.
func (b *Backend) takeFailure(method, path string) (failure, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, f := range b.failures {
		if f.method == method && strings.HasPrefix(path, f.prefix) {
			b.failures = append(b.failures[:i], b.failures[i+1:]...)
			return f, true
		}
	}
	return failure{}, false
}

func (b *Backend) takeHold(method, path string) *hold {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.holds {
		if h.method == method && strings.HasPrefix(path, h.prefix) {
			b.holds = append(b.holds[:i], b.holds[i+1:]...)
			return h
		}
	}
	return nil
}

func (b *Backend) record(method, path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, method+" "+path)
}

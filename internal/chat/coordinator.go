// Package chat holds the client-side coordinator for one chat session: the
// message list, the session's files, and every network operation on them.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"unichat/internal/api"
	"unichat/internal/audio"
	"unichat/internal/auth"
	"unichat/internal/models"
	"unichat/internal/upload"
)

var (
	ErrFetchInFlight   = errors.New("fetch already in flight")
	ErrQueueFull       = errors.New("operation queue full")
	ErrNoActiveSession = errors.New("select a chat session first")
	ErrClosed          = errors.New("coordinator closed")
	ErrNotMounted      = errors.New("coordinator not mounted")
	ErrAlreadyMounted  = errors.New("coordinator already mounted")
	ErrNothingToRetry  = errors.New("no failed message with that timestamp")
)

// Greeting seeds a coordinator mounted without a session.
const Greeting = "Hello! I'm your AI assistant, ready to help. Send me a question or a request!"

const (
	audioKeyPrefix = "audio_"
	chatRoute      = "/chat"
)

// SessionRoute is the route of a session's chat view.
func SessionRoute(sessionID string) string {
	return chatRoute + "/" + sessionID
}

// Navigator receives route changes.
type Navigator interface {
	Navigate(route string)
}

// KeyPrompter is asked for an API key when a generation request is missing
// one. model is nil when no model is selected at all.
type KeyPrompter interface {
	PromptAPIKey(model *models.AIModel)
}

// Credentials is the session-scoped model and key storage.
type Credentials interface {
	Ready(ctx context.Context) (models.Credentials, error)
	SelectedModel(ctx context.Context) (*models.AIModel, error)
	SetSelectedModel(ctx context.Context, m models.AIModel) error
}

// Backend is the API surface the coordinator drives.
type Backend interface {
	upload.Uploader
	AIModels(ctx context.Context) ([]models.AIModel, error)
	Sessions(ctx context.Context) ([]models.Session, error)
	NewChat(ctx context.Context, sessionID string) error
	SessionHistory(ctx context.Context, sessionID string) ([]models.HistoryMessage, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Files(ctx context.Context, sessionID string) ([]models.UploadedFile, error)
	DeleteFile(ctx context.Context, sessionID, fileID string) error
	Chat(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error)
	AudioAction(ctx context.Context, req api.AudioActionRequest) ([]models.HistoryMessage, error)
}

// Options configures a Coordinator. API and Credentials are required.
type Options struct {
	API         Backend
	Credentials Credentials
	Audio       *audio.Store
	Navigator   Navigator
	Prompter    KeyPrompter
	Cache       *Cache
	Limits      upload.Limits
	// SessionAudio makes Close clear only this coordinator's audio entries.
	SessionAudio bool
	QueueSize    int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Coordinator owns the state of one chat view.
type Coordinator struct {
	id           string
	api          Backend
	creds        Credentials
	audio        *audio.Store
	nav          Navigator
	prompter     KeyPrompter
	cache        *Cache
	limits       upload.Limits
	sessionAudio bool
	uploader     *upload.Orchestrator
	state        *sessionState
	clock        *clock
	queue        *opQueue
	logger       *slog.Logger

	listenMu   sync.Mutex
	stopListen context.CancelFunc
	closeOnce  sync.Once
}

type noopNavigator struct{}

func (noopNavigator) Navigate(string) {}

type noopPrompter struct{}

func (noopPrompter) PromptAPIKey(*models.AIModel) {}

// New builds a coordinator and starts its operation queue.
func New(opts Options) (*Coordinator, error) {
	if opts.API == nil {
		return nil, errors.New("api client required")
	}
	if opts.Credentials == nil {
		return nil, errors.New("credential store required")
	}
	if opts.Audio == nil {
		opts.Audio = audio.NewStore(audio.NewMemoryMinter(), audio.DefaultCapacity, audio.WithLogger(opts.Logger))
	}
	if opts.Navigator == nil {
		opts.Navigator = noopNavigator{}
	}
	if opts.Prompter == nil {
		opts.Prompter = noopPrompter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	id := uuid.NewString()
	logger := opts.Logger.With("coordinator", id[:8])
	return &Coordinator{
		id:           id,
		api:          opts.API,
		creds:        opts.Credentials,
		audio:        opts.Audio,
		nav:          opts.Navigator,
		prompter:     opts.Prompter,
		cache:        opts.Cache,
		limits:       opts.Limits,
		sessionAudio: opts.SessionAudio,
		uploader:     upload.NewOrchestrator(opts.API, logger),
		state:        newSessionState(),
		clock:        &clock{now: opts.Now},
		queue:        newOpQueue(opts.QueueSize, logger),
		logger:       logger,
	}, nil
}

// Mount loads sessionID, or seeds the greeting when sessionID is empty.
// History and files are fetched concurrently; a failure lands in the error
// slot and the coordinator is Ready either way.
func (c *Coordinator) Mount(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	c.state.mu.Lock()
	switch c.state.phase {
	case PhaseClosed:
		c.state.mu.Unlock()
		return ErrClosed
	case PhaseUninitialized:
	default:
		c.state.mu.Unlock()
		return ErrAlreadyMounted
	}
	if sessionID == "" {
		c.state.phase = PhaseReady
		c.state.messages = []models.Message{{
			Role:      models.RoleAssistant,
			Text:      Greeting,
			Timestamp: c.clock.next(),
			Status:    models.StatusConfirmed,
		}}
		c.state.files = nil
		c.state.mu.Unlock()
		c.refreshLists(ctx)
		return nil
	}
	c.state.sessionID = sessionID
	c.state.phase = PhaseLoading
	c.state.mu.Unlock()

	c.listen(sessionID)

	var g errgroup.Group
	g.Go(func() error { return c.FetchHistory(ctx, sessionID) })
	g.Go(func() error { return c.FetchFiles(ctx, sessionID) })
	g.Go(func() error {
		c.refreshLists(ctx)
		return nil
	})
	err := g.Wait()
	c.state.setPhase(PhaseReady)
	if err != nil {
		c.report(err)
		return err
	}
	c.logger.Info("session mounted", "session_id", sessionID)
	return nil
}

// refreshLists reloads the session list and the model list concurrently.
func (c *Coordinator) refreshLists(ctx context.Context) {
	var g errgroup.Group
	g.Go(func() error { return c.FetchSessions(ctx) })
	g.Go(func() error { return c.FetchAIModels(ctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, ErrFetchInFlight) {
		c.logger.Warn("refresh lists", "error", err)
	}
}

// Close is terminal: it stops the operation queue after the running
// operation and clears audio (this coordinator's entries only when
// SessionAudio is set). In-flight requests are not cancelled, their results
// are dropped.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.state.mu.Lock()
		c.state.phase = PhaseClosed
		c.state.mu.Unlock()

		c.listenMu.Lock()
		if c.stopListen != nil {
			c.stopListen()
			c.stopListen = nil
		}
		c.listenMu.Unlock()

		c.queue.stop()
		if c.sessionAudio {
			c.audio.ClearPrefix(c.audioScope())
		} else {
			c.audio.ClearAll()
		}
		c.logger.Debug("coordinator closed")
	})
}

// ID identifies this coordinator in logs and invalidation messages.
func (c *Coordinator) ID() string { return c.id }

// State reports the lifecycle phase.
func (c *Coordinator) State() Phase { return c.state.getPhase() }

// SessionID is "" until a session is mounted or created.
func (c *Coordinator) SessionID() string { return c.state.getSessionID() }

// Messages returns a copy of the message list.
func (c *Coordinator) Messages() []models.Message { return c.state.getMessages() }

// Files returns a copy of the session's files.
func (c *Coordinator) Files() []models.UploadedFile { return c.state.getFiles() }

// DocumentFiles returns the files classified as documents.
func (c *Coordinator) DocumentFiles() []models.UploadedFile {
	docs, _ := models.Partition(c.state.getFiles())
	return docs
}

// AudioVideoFiles returns the files classified as audio/video.
func (c *Coordinator) AudioVideoFiles() []models.UploadedFile {
	_, av := models.Partition(c.state.getFiles())
	return av
}

// Sessions returns the user's sessions as last fetched.
func (c *Coordinator) Sessions() []models.Session { return c.state.getSessions() }

// Models returns the selectable models as last fetched.
func (c *Coordinator) Models() []models.AIModel { return c.state.getModels() }

// Uploading reports whether an upload is running.
func (c *Coordinator) Uploading() bool { return c.state.isUploading() }

// Err returns the current error, if any.
func (c *Coordinator) Err() error { return c.state.getErr() }

// DismissError clears the error slot.
func (c *Coordinator) DismissError() { c.state.setErr(nil) }

// AudioURL resolves a message's audio key to a playable URL.
func (c *Coordinator) AudioURL(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	return c.audio.Get(key)
}

// report stores err in the error slot. Auth failures are handled by the
// transport (logout and redirect) and never shown here.
func (c *Coordinator) report(err error) {
	if err == nil || errors.Is(err, auth.ErrUnauthorized) {
		return
	}
	c.state.setErr(err)
}

func (c *Coordinator) ready() error {
	switch c.state.getPhase() {
	case PhaseClosed:
		return ErrClosed
	case PhaseUninitialized:
		return ErrNotMounted
	}
	return nil
}

func (c *Coordinator) audioScope() string {
	return audioKeyPrefix + c.id + "_"
}

func (c *Coordinator) audioKey(ts string) string {
	if c.sessionAudio {
		return c.audioScope() + ts
	}
	return audioKeyPrefix + ts
}

// listen subscribes to cache invalidations for sessionID so changes made by
// another process show up here.
func (c *Coordinator) listen(sessionID string) {
	if c.cache == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	err := c.cache.listen(ctx, func(msg invalidateMessage) {
		if msg.Origin == c.id || msg.SessionID != sessionID {
			return
		}
		c.logger.Debug("session changed elsewhere", "session_id", sessionID, "scope", msg.Scope)
		if msg.Scope != scopeFiles {
			if err := c.FetchHistory(ctx, sessionID); err != nil && !errors.Is(err, ErrFetchInFlight) {
				c.logger.Warn("refresh history after invalidation", "error", err)
			}
		}
		if msg.Scope != scopeHistory {
			if err := c.FetchFiles(ctx, sessionID); err != nil && !errors.Is(err, ErrFetchInFlight) {
				c.logger.Warn("refresh files after invalidation", "error", err)
			}
		}
	})
	if err != nil {
		cancel()
		c.logger.Warn("subscribe invalidations", "error", err)
		return
	}
	c.listenMu.Lock()
	defer c.listenMu.Unlock()
	if c.state.closed() {
		cancel()
		return
	}
	if c.stopListen != nil {
		c.stopListen()
	}
	c.stopListen = cancel
}

// ensureSession returns the active session id, creating one on the backend
// when there is none yet.
func (c *Coordinator) ensureSession(ctx context.Context) (string, bool, error) {
	if sid := c.state.getSessionID(); sid != "" {
		return sid, false, nil
	}
	sid := uuid.NewString()
	if err := c.api.NewChat(ctx, sid); err != nil {
		return "", false, err
	}
	if !c.state.assignSession(sid) {
		return "", false, errors.New("session already assigned")
	}
	c.logger.Info("session created", "session_id", sid)
	c.listen(sid)
	return sid, true, nil
}

func (c *Coordinator) appendStatus(text string) {
	c.state.appendMessages(models.Message{
		Role:      models.RoleAssistant,
		Text:      text,
		Timestamp: c.clock.next(),
		Status:    models.StatusConfirmed,
	})
}

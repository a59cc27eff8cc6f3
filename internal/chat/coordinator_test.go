package chat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"unichat/internal/api"
	"unichat/internal/audio"
	"unichat/internal/auth"
	"unichat/internal/config"
	"unichat/internal/credentials"
	"unichat/internal/fakebackend"
	"unichat/internal/models"
	"unichat/internal/upload"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memCreds struct {
	mu      sync.Mutex
	token   string
	model   *models.AIModel
	keys    map[string]string
	cleared int
}

func (m *memCreds) Token(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *memCreds) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.model = nil
	m.keys = map[string]string{}
	m.cleared++
	return nil
}

func (m *memCreds) Ready(context.Context) (models.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model == nil {
		return models.Credentials{}, &credentials.MissingError{}
	}
	key := m.keys[m.model.Group]
	if key == "" {
		model := *m.model
		return models.Credentials{}, &credentials.MissingError{Model: &model}
	}
	return models.Credentials{Provider: m.model.Group, Model: m.model.Model, APIKey: key}, nil
}

func (m *memCreds) SelectedModel(context.Context) (*models.AIModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.model == nil {
		return nil, nil
	}
	model := *m.model
	return &model, nil
}

func (m *memCreds) SetSelectedModel(_ context.Context, model models.AIModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = &model
	return nil
}

type navRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (n *navRecorder) Navigate(route string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, route)
}

func (n *navRecorder) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.routes...)
}

type promptRecorder struct {
	mu     sync.Mutex
	models []*models.AIModel
}

func (p *promptRecorder) PromptAPIKey(m *models.AIModel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.models = append(p.models, m)
}

func (p *promptRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.models)
}

type memFile struct {
	name string
	data string
}

func (f memFile) Name() string                 { return f.name }
func (f memFile) Size() int64                  { return int64(len(f.data)) }
func (f memFile) Open() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(f.data)), nil }

type harness struct {
	backend *fakebackend.Backend
	client  *api.Client
	creds   *memCreds
	nav     *navRecorder
	prompts *promptRecorder
	audio   *audio.Store
	token   string
}

var openai = models.AIModel{Model: "gpt-4o-mini", Title: "GPT-4o mini", Group: "openai"}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	backend := fakebackend.New(fakebackend.WithLogger(config.Discard()))
	token := backend.SeedUser("a@b.co", "alice", "secret1")
	srv := httptest.NewServer(backend.Handler())

	creds := &memCreds{token: token, model: &openai, keys: map[string]string{"openai": "sk-test"}}
	nav := &navRecorder{}
	base := &http.Transport{}
	t.Cleanup(func() {
		base.CloseIdleConnections()
		srv.Close()
	})
	httpClient := &http.Client{Transport: &auth.Transport{
		Base:     base,
		Tokens:   creds,
		OnLogout: creds.Clear,
		Nav:      nav,
		Logger:   config.Discard(),
	}}
	return &harness{
		backend: backend,
		client:  api.New(srv.URL, httpClient),
		creds:   creds,
		nav:     nav,
		prompts: &promptRecorder{},
		audio:   audio.NewStore(audio.NewMemoryMinter(), audio.DefaultCapacity),
		token:   token,
	}
}

func (h *harness) coordinator(t *testing.T, mutate ...func(*Options)) *Coordinator {
	t.Helper()
	opts := Options{
		API:         h.client,
		Credentials: h.creds,
		Audio:       h.audio,
		Navigator:   h.nav,
		Prompter:    h.prompts,
		Logger:      config.Discard(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func (h *harness) mounted(t *testing.T, sessionID string) *Coordinator {
	t.Helper()
	c := h.coordinator(t)
	require.NoError(t, c.Mount(context.Background(), sessionID))
	return c
}

func countExact(requests []string, want string) int {
	n := 0
	for _, r := range requests {
		if r == want {
			n++
		}
	}
	return n
}

func TestMountWithoutSessionSeedsGreeting(t *testing.T) {
	h := newHarness(t)
	h.creds.model = nil
	c := h.mounted(t, "")

	assert.Equal(t, PhaseReady, c.State())
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
	assert.Equal(t, Greeting, msgs[0].Text)
	assert.Empty(t, c.Files())
	assert.Equal(t, fakebackend.DefaultModels, c.Models())

	selected, _ := h.creds.SelectedModel(context.Background())
	require.NotNil(t, selected)
	assert.Equal(t, fakebackend.DefaultModels[0], *selected)

	assert.ErrorIs(t, c.Mount(context.Background(), "other"), ErrAlreadyMounted)
}

func TestMountLoadsHistoryAndFiles(t *testing.T) {
	h := newHarness(t)
	h.backend.SeedSession(h.token, "s-1",
		[]models.HistoryMessage{
			{Role: models.RoleUser, Content: "hi", Timestamp: "2024-01-01T00:00:00Z"},
			{Role: models.RoleAssistant, Content: "hello", Timestamp: "2024-01-01T00:00:01Z"},
		},
		[]models.UploadedFile{{FileID: "f1", FileName: "report.pdf"}, {FileID: "f2", FileName: "clip.mp4"}},
	)
	c := h.mounted(t, "s-1")

	assert.Equal(t, "s-1", c.SessionID())
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[1].Text)
	assert.Equal(t, models.StatusConfirmed, msgs[1].Status)
	assert.Equal(t, []models.UploadedFile{{FileID: "f1", FileName: "report.pdf"}}, c.DocumentFiles())
	assert.Equal(t, []models.UploadedFile{{FileID: "f2", FileName: "clip.mp4"}}, c.AudioVideoFiles())
	require.Len(t, c.Sessions(), 1)
	assert.NoError(t, c.Err())
}

func TestMountMissingSessionSurfacesError(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator(t)
	err := c.Mount(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))
	assert.Equal(t, PhaseReady, c.State())
	assert.Error(t, c.Err())
}

func TestSendMessageAppendsBeforeResponse(t *testing.T) {
	h := newHarness(t)
	c := h.mounted(t, "")

	arrived, release := h.backend.Hold(http.MethodPost, "/api/v1/chat/new_chat")
	done := make(chan error, 1)
	go func() { done <- c.SendMessage(context.Background(), TextInput("hello")) }()

	<-arrived
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[1].Role)
	assert.Equal(t, "hello", msgs[1].Text)
	assert.Equal(t, models.StatusPending, msgs[1].Status)
	release()
	require.NoError(t, <-done)

	msgs = c.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, models.StatusConfirmed, msgs[1].Status)
	assert.Equal(t, models.RoleAssistant, msgs[2].Role)
	assert.Equal(t, "echo: hello", msgs[2].Text)

	sid := c.SessionID()
	require.NotEmpty(t, sid)
	assert.True(t, h.backend.HasSession(sid))
	assert.Equal(t, []string{SessionRoute(sid)}, h.nav.all())
	assert.Equal(t, 1, countExact(h.backend.Requests(), "GET /api/v1/chat/files/"+sid))

	// a second message reuses the session and does not navigate again
	require.NoError(t, c.SendMessage(context.Background(), TextInput("again")))
	assert.Equal(t, sid, c.SessionID())
	assert.Len(t, h.nav.all(), 1)
	assert.Equal(t, 1, h.backend.CountRequests(http.MethodPost, "/api/v1/chat/new_chat"))
}

func TestSendMessageIgnoresEmptyInput(t *testing.T) {
	h := newHarness(t)
	c := h.mounted(t, "")
	before := len(h.backend.Requests())

	require.NoError(t, c.SendMessage(context.Background(), TextInput("   ")))
	require.NoError(t, c.SendMessage(context.Background(), AudioInput(nil)))
	assert.Len(t, c.Messages(), 1)
	assert.Len(t, h.backend.Requests(), before)
}

func TestSendMessageWithoutKeyPrompts(t *testing.T) {
	h := newHarness(t)
	c := h.mounted(t, "")
	h.creds.keys = map[string]string{}

	err := c.SendMessage(context.Background(), TextInput("hello"))
	require.ErrorIs(t, err, credentials.ErrCredentialsRequired)
	assert.Len(t, c.Messages(), 1)
	require.Equal(t, 1, h.prompts.count())
	assert.Equal(t, "openai", h.prompts.models[0].Group)
	assert.Zero(t, countExact(h.backend.Requests(), "POST /api/v1/chat"))
}

func TestSendVoiceRewritesTranscript(t *testing.T) {
	h := newHarness(t)
	h.backend.SeedSession(h.token, "s-v", nil, nil)
	c := h.mounted(t, "s-v")

	blob := &audio.Blob{Data: []byte("RIFF....WAVE"), MIME: "audio/wav"}
	require.NoError(t, c.SendMessage(context.Background(), AudioInput(blob)))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	user, reply := msgs[0], msgs[1]
	assert.Equal(t, "transcribed voice message", user.Text)
	assert.Equal(t, audioKeyPrefix+user.Timestamp, user.AudioKey)
	_, ok := c.AudioURL(user.AudioKey)
	assert.True(t, ok)

	require.NotEmpty(t, reply.AudioKey)
	stored, ok := h.audio.Blob(reply.AudioKey)
	require.True(t, ok)
	assert.Equal(t, blob.Data, stored.Data)
	assert.Equal(t, 2, h.audio.Len())
	assert.Empty(t, h.nav.all(), "existing session must not navigate")
}

func TestSendFailureKeepsMessageAndRetry(t *testing.T) {
	h := newHarness(t)
	h.backend.SeedSession(h.token, "s-f", nil, nil)
	c := h.mounted(t, "s-f")
	h.backend.FailNext(http.MethodPost, "/api/v1/chat", http.StatusInternalServerError, "model overloaded")

	err := c.SendMessage(context.Background(), TextInput("hello"))
	require.Error(t, err)
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.StatusFailed, msgs[0].Status)
	require.Error(t, c.Err())
	assert.Contains(t, c.Err().Error(), "model overloaded")

	require.NoError(t, c.RetryMessage(context.Background(), msgs[0].Timestamp))
	assert.NoError(t, c.Err())
	msgs = c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.StatusConfirmed, msgs[0].Status)
	assert.Equal(t, "echo: hello", msgs[1].Text)

	assert.ErrorIs(t, c.RetryMessage(context.Background(), msgs[0].Timestamp), ErrNothingToRetry)
}

func TestCreateSessionFailureAbortsSend(t *testing.T) {
	h := newHarness(t)
	c := h.mounted(t, "")
	h.backend.FailNext(http.MethodPost, "/api/v1/chat/new_chat", http.StatusInternalServerError, "db down")

	err := c.SendMessage(context.Background(), TextInput("hello"))
	require.Error(t, err)
	require.Error(t, c.Err())
	assert.Contains(t, c.Err().Error(), "create session")
	assert.Zero(t, countExact(h.backend.Requests(), "POST /api/v1/chat"))
	assert.Empty(t, c.SessionID())
	assert.Empty(t, h.nav.all())
	assert.Equal(t, models.StatusFailed, c.Messages()[1].Status)
}

func TestFetchInFlightDropsOverlap(t *testing.T) {
	h := newHarness(t)
	h.backend.SeedSession(h.token, "s-1", nil, []models.UploadedFile{{FileID: "f1", FileName: "a.txt"}})
	c := h.mounted(t, "s-1")
	ctx := context.Background()

	arrived, release := h.backend.Hold(http.MethodGet, "/api/v1/chat/files/s-1")
	done := make(chan error, 1)
	go func() { done <- c.FetchFiles(ctx, "s-1") }()
	<-arrived

	assert.ErrorIs(t, c.FetchFiles(ctx, "s-1"), ErrFetchInFlight)
	assert.NoError(t, c.FetchHistory(ctx, "s-1"), "other kinds are not blocked")
	release()
	require.NoError(t, <-done)
	assert.NoError(t, c.FetchFiles(ctx, "s-1"))
}

func TestFetchForOtherSessionIsDropped(t *testing.T) {
	h := newHarness(t)
	h.backend.SeedSession(h.token, "s-1", []models.HistoryMessage{{Role: models.RoleUser, Content: "one"}}, nil)
	h.backend.SeedSession(h.token, "s-2", []models.HistoryMessage{{Role: models.RoleUser, Content: "two"}}, nil)
	c := h.mounted(t, "s-1")

	require.NoError(t, c.FetchHistory(context.Background(), "s-2"))
	require.Len(t, c.Messages(), 1)
	assert.Equal(t, "one", c.Messages()[0].Text)
}

func TestDeleteSession(t *testing.T) {
	h := newHarness(t)
	h.backend.SeedSession(h.token, "s-1", nil, nil)
	h.backend.SeedSession(h.token, "s-2", nil, nil)
	c := h.mounted(t, "s-1")
	require.Len(t, c.Sessions(), 2)

	h.backend.FailNext(http.MethodDelete, "/api/v1/chat/session/abc", http.StatusNotFound, "")
	assert.False(t, c.DeleteSession(context.Background(), "abc"))
	assert.Len(t, c.Sessions(), 2)
	assert.Empty(t, h.nav.all())
	assert.NoError(t, c.Err())

	assert.True(t, c.DeleteSession(context.Background(), "s-2"))
	require.Len(t, c.Sessions(), 1)
	assert.Empty(t, h.nav.all(), "deleting another session stays put")

	assert.True(t, c.DeleteSession(context.Background(), "s-1"))
	assert.Empty(t, c.Sessions())
	assert.Equal(t, []string{"/chat"}, h.nav.all())
}

func TestDeleteFile(t *testing.T) {
	h := newHarness(t)
	h.backend.SeedSession(h.token, "s-1", nil, []models.UploadedFile{
		{FileID: "f1", FileName: "a.pdf"},
		{FileID: "f2", FileName: "b.mp3"},
	})
	c := h.mounted(t, "s-1")

	assert.True(t, c.DeleteFile(context.Background(), "f1"))
	assert.Equal(t, []models.UploadedFile{{FileID: "f2", FileName: "b.mp3"}}, c.Files())

	assert.False(t, c.DeleteFile(context.Background(), "f1"))
	assert.Len(t, c.Files(), 1)
	assert.NoError(t, c.Err())
}

func TestAudioAction(t *testing.T) {
	h := newHarness(t)
	empty := h.mounted(t, "")
	assert.ErrorIs(t, empty.AudioAction(context.Background(), "clip.mp4", ActionSummarize), ErrNoActiveSession)
	assert.ErrorIs(t, empty.Err(), ErrNoActiveSession)

	h.backend.SeedSession(h.token, "s-a", nil, []models.UploadedFile{{FileID: "f1", FileName: "clip.mp4"}})
	c := h.mounted(t, "s-a")
	require.NoError(t, c.AudioAction(context.Background(), "clip.mp4", ActionSummarize))
	msgs := c.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "Summary of clip.mp4", msgs[len(msgs)-1].Text)

	err := c.AudioAction(context.Background(), "missing.mp3", ActionFullScript)
	require.Error(t, err)
	assert.Contains(t, c.Err().Error(), "audio action full_script")
}

func TestUploadRejectsInvalidBatchWithoutNetwork(t *testing.T) {
	h := newHarness(t)
	c := h.mounted(t, "")
	before := len(h.backend.Requests())

	res := c.Upload(context.Background(), upload.Request{Files: []upload.LocalFile{
		memFile{name: "bad.exe", data: "MZ"},
		memFile{name: "ok.pdf", data: "%PDF"},
	}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "bad.exe")
	assert.Len(t, h.backend.Requests(), before)
	require.Error(t, c.Err())

	var many []upload.LocalFile
	for i := 0; i < 11; i++ {
		many = append(many, memFile{name: "doc.pdf", data: "x"})
	}
	res = c.Upload(context.Background(), upload.Request{Files: many})
	assert.False(t, res.Success)
	assert.Len(t, h.backend.Requests(), before)
}

func TestUploadCreatesSessionAndRefreshes(t *testing.T) {
	h := newHarness(t)
	c := h.mounted(t, "")

	res := c.Upload(context.Background(), upload.Request{Files: []upload.LocalFile{
		memFile{name: "report.pdf", data: "%PDF"},
		memFile{name: "talk.mp3", data: "ID3"},
	}})
	require.True(t, res.Success, res.Error)
	assert.NotEmpty(t, res.Data)

	sid := c.SessionID()
	require.NotEmpty(t, sid)
	assert.Equal(t, []string{SessionRoute(sid)}, h.nav.all())
	assert.Len(t, c.Files(), 2)
	assert.False(t, c.Uploading())
	assert.Equal(t, 1, h.backend.CountRequests(http.MethodPost, "/api/v1/chat/upload-file"))
	assert.Equal(t, 1, h.backend.CountRequests(http.MethodPost, "/api/v1/chat/upload_audio"))
}

func TestUnauthorizedForcesLogout(t *testing.T) {
	h := newHarness(t)
	c := h.mounted(t, "")
	h.backend.RevokeTokens()

	err := c.SendMessage(context.Background(), TextInput("hello"))
	require.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.NoError(t, c.Err(), "auth failures are not shown in the error slot")
	assert.Equal(t, 1, h.creds.cleared)
	assert.Equal(t, []string{auth.LoginRoute}, h.nav.all())
}

func TestCloseClearsAudio(t *testing.T) {
	h := newHarness(t)
	h.backend.SeedSession(h.token, "s-c", nil, nil)
	c := h.mounted(t, "s-c")
	_, err := h.audio.Put("unrelated", &audio.Blob{Data: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, c.SendMessage(context.Background(), AudioInput(&audio.Blob{Data: []byte("RIFF")})))
	require.Equal(t, 3, h.audio.Len())

	c.Close()
	assert.Equal(t, PhaseClosed, c.State())
	assert.Zero(t, h.audio.Len())
	assert.ErrorIs(t, c.SendMessage(context.Background(), TextInput("late")), ErrClosed)
	c.Close()
}

func TestCloseWithSessionAudioKeepsOtherEntries(t *testing.T) {
	h := newHarness(t)
	h.backend.SeedSession(h.token, "s-c", nil, nil)
	c := h.coordinator(t, func(o *Options) { o.SessionAudio = true })
	require.NoError(t, c.Mount(context.Background(), "s-c"))
	_, err := h.audio.Put("unrelated", &audio.Blob{Data: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, c.SendMessage(context.Background(), AudioInput(&audio.Blob{Data: []byte("RIFF")})))
	require.Equal(t, 3, h.audio.Len())

	c.Close()
	assert.Equal(t, []string{"unrelated"}, h.audio.Keys())
}

func TestOperationsBeforeMount(t *testing.T) {
	h := newHarness(t)
	c := h.coordinator(t)
	assert.ErrorIs(t, c.SendMessage(context.Background(), TextInput("x")), ErrNotMounted)
	assert.False(t, c.DeleteFile(context.Background(), "f"))
	assert.False(t, c.Upload(context.Background(), upload.Request{}).Success)
}

func TestQueueFull(t *testing.T) {
	h := newHarness(t)
	h.backend.SeedSession(h.token, "s-q", nil, nil)
	c := h.coordinator(t, func(o *Options) { o.QueueSize = 1 })
	require.NoError(t, c.Mount(context.Background(), "s-q"))
	ctx := context.Background()

	arrived, release := h.backend.Hold(http.MethodPost, "/api/v1/chat")
	first := make(chan error, 1)
	go func() { first <- c.SendMessage(ctx, TextInput("one")) }()
	<-arrived

	second := make(chan error, 1)
	go func() { second <- c.SendMessage(ctx, TextInput("two")) }()
	require.Eventually(t, func() bool { return len(c.queue.tasks) == 1 }, time.Second, time.Millisecond)

	err := c.SendMessage(ctx, TextInput("three"))
	require.ErrorIs(t, err, ErrQueueFull)
	msgs := c.Messages()
	assert.Equal(t, models.StatusFailed, msgs[len(msgs)-1].Status)

	release()
	require.NoError(t, <-first)
	require.NoError(t, <-second)
}

func TestCancelledQueuedSendIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.backend.SeedSession(h.token, "s-c", nil, nil)
	c := h.mounted(t, "s-c")

	arrived, release := h.backend.Hold(http.MethodPost, "/api/v1/chat")
	first := make(chan error, 1)
	go func() { first <- c.SendMessage(context.Background(), TextInput("one")) }()
	<-arrived

	ctx, cancel := context.WithCancel(context.Background())
	second := make(chan error, 1)
	go func() { second <- c.SendMessage(ctx, TextInput("two")) }()
	require.Eventually(t, func() bool { return len(c.queue.tasks) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-second, context.Canceled)

	release()
	require.NoError(t, <-first)

	find := func(text string) models.Message {
		for _, m := range c.Messages() {
			if m.Role == models.RoleUser && m.Text == text {
				return m
			}
		}
		return models.Message{}
	}
	require.Eventually(t, func() bool { return find("two").Status == models.StatusFailed }, time.Second, time.Millisecond)
	assert.Equal(t, 1, countExact(h.backend.Requests(), "POST /api/v1/chat"))

	require.NoError(t, c.RetryMessage(context.Background(), find("two").Timestamp))
	assert.Equal(t, models.StatusConfirmed, find("two").Status)
	assert.Equal(t, "echo: two", c.Messages()[len(c.Messages())-1].Text)
}

func TestQueueSkipsTasksWhoseContextEnded(t *testing.T) {
	q := newOpQueue(4, config.Discard())
	defer q.stop()

	block := make(chan struct{})
	running := make(chan struct{})
	go func() {
		_ = q.submit(context.Background(), "block", func(context.Context) error {
			close(running)
			<-block
			return nil
		})
	}()
	<-running

	ctx, cancel := context.WithCancel(context.Background())
	skipped := make(chan error, 1)
	ran := false
	done := make(chan error, 1)
	go func() {
		done <- q.submitTask(ctx, "late", func(context.Context) error {
			ran = true
			return nil
		}, func(err error) { skipped <- err })
	}()
	require.Eventually(t, func() bool { return len(q.tasks) == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	close(block)

	select {
	case err := <-skipped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("skip callback not called")
	}
	assert.False(t, ran)
}

func TestClockIsStrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := &clock{now: func() time.Time { return fixed }}
	a, b, c := clk.next(), clk.next(), clk.next()
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, b, c)
	ta, _ := time.Parse(time.RFC3339Nano, a)
	tc, _ := time.Parse(time.RFC3339Nano, c)
	assert.Equal(t, 2*time.Nanosecond, tc.Sub(ta))
}

func TestMergeUnconfirmedKeepsLocalFailures(t *testing.T) {
	fetched := []models.Message{{Role: models.RoleUser, Text: "a", Timestamp: "1", Status: models.StatusConfirmed}}
	local := []models.Message{
		{Role: models.RoleAssistant, Text: Greeting, Timestamp: "0", Status: models.StatusConfirmed},
		{Role: models.RoleUser, Text: "lost", Timestamp: "2", Status: models.StatusFailed},
		{Role: models.RoleUser, Text: "a", Timestamp: "1", Status: models.StatusPending},
	}
	merged := mergeUnconfirmed(fetched, local)
	require.Len(t, merged, 2)
	assert.Equal(t, "lost", merged[1].Text)
}

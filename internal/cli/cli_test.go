package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unichat/internal/config"
	"unichat/internal/credentials"
	"unichat/internal/fakebackend"
	"unichat/internal/models"
)

type testEnv struct {
	backend *fakebackend.Backend
	cfgPath string
	dir     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	backend := fakebackend.New(fakebackend.WithLogger(config.Discard()))
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := map[string]any{
		"basic_config": map[string]any{
			"api_base_url": srv.URL,
			"log_file":     filepath.Join(dir, "unichat.log"),
			"log_level":    "ERROR",
		},
		"databases": map[string]any{
			"sqlite3": map[string]any{"dsn": filepath.Join(dir, "state.db")},
		},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return &testEnv{backend: backend, cfgPath: path, dir: dir}
}

type result struct {
	stdout string
	stderr string
	err    error
}

func (e *testEnv) run(stdin string, args ...string) result {
	var out, errOut bytes.Buffer
	a := newApp(strings.NewReader(stdin), &out, &errOut)
	err := run(context.Background(), a, append([]string{"--config", e.cfgPath}, args...))
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

// loggedIn registers and logs in a user, optionally storing an openai key.
func (e *testEnv) loggedIn(t *testing.T, withKey bool) {
	t.Helper()
	e.backend.SeedUser("a@b.co", "alice", "secret1")
	r := e.run("", "login", "--email", "a@b.co", "--password", "secret1")
	require.NoError(t, r.err, r.stderr)
	if withKey {
		r = e.run("", "models", "--select", "gpt-4o-mini")
		require.NoError(t, r.err, r.stderr)
		r = e.run("", "key", "set", "openai", "--key", "sk-test")
		require.NoError(t, r.err, r.stderr)
	}
}

func (e *testEnv) writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

var sessionLine = regexp.MustCompile(`session ([0-9a-f-]{36})`)

func sessionFrom(t *testing.T, stderr string) string {
	t.Helper()
	m := sessionLine.FindStringSubmatch(stderr)
	require.NotNil(t, m, "no session announced in %q", stderr)
	return m[1]
}

func TestAccountAndChatFlow(t *testing.T) {
	e := newTestEnv(t)

	r := e.run("", "register", "--email", "a@b.co", "--username", "alice", "--password", "secret1")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "Account created")

	r = e.run("", "login", "--email", "a@b.co", "--password", "secret1")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "Logged in as a@b.co")

	r = e.run("", "models")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "gpt-4o-mini")
	assert.Contains(t, r.stdout, "No API key for openai")

	r = e.run("", "chat", "hello")
	require.ErrorIs(t, r.err, credentials.ErrCredentialsRequired)
	assert.Contains(t, r.stderr, "unichat key set openai")
	assert.Zero(t, e.backend.CountRequests(http.MethodPost, "/api/v1/chat/new_chat"))

	r = e.run("", "key", "set", "openai", "--key", "sk-test")
	require.NoError(t, r.err)

	r = e.run("", "chat", "hello")
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stdout, "echo: hello")
	assert.NotContains(t, r.stdout, "ready to help", "greeting is not repeated for one-shot messages")
	sid := sessionFrom(t, r.stderr)
	assert.True(t, e.backend.HasSession(sid))

	r = e.run("", "chat", "--session", sid, "again")
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stdout, "echo: again")
	assert.Len(t, e.backend.History(sid), 4)

	r = e.run("", "sessions")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, sid)

	r = e.run("", "logout")
	require.NoError(t, r.err)
	r = e.run("", "chat", "hi")
	require.Error(t, r.err)
	assert.Contains(t, r.stderr, "unichat login")
}

func TestLoginValidatesBeforeNetwork(t *testing.T) {
	e := newTestEnv(t)
	r := e.run("", "login", "--email", "not-an-email", "--password", "123")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "invalid email")
	assert.Empty(t, e.backend.Requests())
}

func TestLoginPromptsForMissingValues(t *testing.T) {
	e := newTestEnv(t)
	e.backend.SeedUser("a@b.co", "alice", "secret1")
	r := e.run("a@b.co\nsecret1\n", "login")
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stderr, "Email: ")
	assert.Contains(t, r.stdout, "Logged in")
}

func TestUploadRejectsInvalidFileWithoutNetwork(t *testing.T) {
	e := newTestEnv(t)
	e.loggedIn(t, true)
	bad := e.writeFile(t, "bad.exe", "MZ")
	ok := e.writeFile(t, "ok.pdf", "%PDF")

	r := e.run("", "upload", bad, ok)
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "bad.exe")
	assert.Zero(t, e.backend.CountRequests(http.MethodPost, "/api/v1/chat/upload-file"))
	assert.Zero(t, e.backend.CountRequests(http.MethodPost, "/api/v1/chat/new_chat"))
}

func TestUploadFilesActionAndDelete(t *testing.T) {
	e := newTestEnv(t)
	e.loggedIn(t, true)
	notes := e.writeFile(t, "notes.pdf", "%PDF")
	talk := e.writeFile(t, "talk.mp3", "ID3")

	r := e.run("", "upload", notes, talk)
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stdout, "Upload complete.")
	sid := sessionFrom(t, r.stderr)

	r = e.run("", "files", "--session", sid)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "notes.pdf")
	assert.Contains(t, r.stdout, "talk.mp3")
	assert.Contains(t, r.stdout, "Audio & video")

	r = e.run("", "action", "summarize", "talk.mp3", "--session", sid)
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stdout, "Summary of talk.mp3")

	r = e.run("", "history", sid)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "Summary of talk.mp3")

	r = e.run("", "files", "delete", "missing-id", "--session", sid)
	require.Error(t, r.err)

	r = e.run("", "sessions", "delete", sid)
	require.NoError(t, r.err, r.stderr)
	assert.False(t, e.backend.HasSession(sid))
	r = e.run("", "sessions", "delete", sid)
	require.Error(t, r.err)
}

func TestFilesRequiresSession(t *testing.T) {
	e := newTestEnv(t)
	e.loggedIn(t, false)
	r := e.run("", "files")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "--session")
}

func TestVoiceMessage(t *testing.T) {
	e := newTestEnv(t)
	e.loggedIn(t, true)
	wav := e.writeFile(t, "question.wav", "RIFF....WAVE")

	r := e.run("", "chat", "--voice", wav)
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stdout, "transcribed voice message")
	assert.Contains(t, r.stdout, "received 12 bytes of audio")
	assert.Contains(t, r.stdout, "audio: ")
}

func TestREPL(t *testing.T) {
	e := newTestEnv(t)
	e.loggedIn(t, true)

	r := e.run("hello\n/files\n/bogus\n/quit\n", "chat")
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stdout, "ready to help")
	assert.Contains(t, r.stdout, "echo: hello")
	assert.Contains(t, r.stdout, "No files in this session.")
	assert.Contains(t, r.stdout, "Unknown command /bogus")
}

func TestREPLPrintsEachMessageOnceAcrossHistoryRefresh(t *testing.T) {
	e := newTestEnv(t)
	e.loggedIn(t, true)
	notes := e.writeFile(t, "notes.pdf", "%PDF")
	talk := e.writeFile(t, "talk.mp3", "ID3")

	input := "hello\n/upload " + notes + " " + talk + "\n/summarize talk.mp3\n/quit\n"
	r := e.run(input, "chat")
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stdout, "Upload complete.")
	assert.Equal(t, 1, strings.Count(r.stdout, "echo: hello"), r.stdout)
	assert.Equal(t, 2, strings.Count(r.stdout, "hello"), "user line and reply only:\n%s", r.stdout)
	assert.Equal(t, 1, strings.Count(r.stdout, "Summary of talk.mp3"), r.stdout)
}

func TestREPLPromptsForMissingKey(t *testing.T) {
	e := newTestEnv(t)
	e.loggedIn(t, false)

	r := e.run("hello\nsk-live\n", "chat")
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stderr, "API key for GPT-4o mini (openai)")
	assert.Contains(t, r.stdout, "echo: hello")
}

func TestREPLShowsFailureAndRetries(t *testing.T) {
	e := newTestEnv(t)
	e.loggedIn(t, true)
	e.backend.SeedSession(e.tokenFor(t), "s-1", nil, nil)
	e.backend.FailNext(http.MethodPost, "/api/v1/chat", http.StatusBadGateway, "upstream down")

	r := e.run("hello\n/retry\n", "chat", "--session", "s-1")
	require.NoError(t, r.err, r.stderr)
	assert.Contains(t, r.stdout, "failed, /retry to resend")
	assert.Contains(t, r.stderr, "upstream down")
	assert.Contains(t, r.stdout, "echo: hello")
}

// tokenFor issues another token for the test user so sessions can be seeded
// under the same owner as the CLI login.
func (e *testEnv) tokenFor(t *testing.T) string {
	t.Helper()
	return e.backend.SeedUser("a@b.co", "alice", "secret1")
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv, func() {}) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestRenderModelsMarksSelection(t *testing.T) {
	list := fakebackend.DefaultModels
	out := defaultTheme.renderModels(list, &list[1])
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "*")
	assert.Contains(t, lines[1], "*")
	assert.Contains(t, defaultTheme.renderModels(nil, nil), "No models")
}

func TestRenderFilesSections(t *testing.T) {
	docs, av := models.Partition([]models.UploadedFile{
		{FileID: "1", FileName: "a.pdf"},
		{FileID: "2", FileName: "b.mp4"},
	})
	out := defaultTheme.renderFiles(docs, av)
	assert.Contains(t, out, "Documents")
	assert.Contains(t, out, "Audio & video")
	assert.Less(t, strings.Index(out, "a.pdf"), strings.Index(out, "b.mp4"))
}

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"unichat/internal/auth"
	"unichat/internal/models"
)

type keySetter interface {
	SetAPIKey(ctx context.Context, provider, key string) error
}

// terminalPrompter reads answers from the terminal. It also stands in for
// the API key dialog: when interactive it asks for the key and stores it,
// otherwise it tells the user which command to run.
type terminalPrompter struct {
	in          io.Reader
	reader      *bufio.Reader
	out         io.Writer
	keys        keySetter
	interactive bool
}

func newTerminalPrompter(in io.Reader, out io.Writer, keys keySetter) *terminalPrompter {
	return &terminalPrompter{in: in, reader: bufio.NewReader(in), out: out, keys: keys}
}

// readLine returns the next line without its newline. io.EOF is returned
// only when nothing was read.
func (p *terminalPrompter) readLine() (string, error) {
	line, err := p.reader.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// prompt displays message and waits for a line of input.
func (p *terminalPrompter) prompt(ctx context.Context, message string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("prompt canceled: %w", ctx.Err())
	default:
	}
	_, _ = fmt.Fprintf(p.out, "%s: ", message)
	line, err := p.readLine()
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// secret is prompt without echo when stdin is a terminal.
func (p *terminalPrompter) secret(ctx context.Context, message string) (string, error) {
	f, ok := p.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return p.prompt(ctx, message)
	}
	_, _ = fmt.Fprintf(p.out, "%s: ", message)
	raw, err := term.ReadPassword(int(f.Fd()))
	_, _ = fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// PromptAPIKey is called when a request needs a key that is not stored.
func (p *terminalPrompter) PromptAPIKey(m *models.AIModel) {
	if m == nil {
		_, _ = fmt.Fprintln(p.out, "No model selected. Run `unichat models --select <model>` first.")
		return
	}
	if !p.interactive {
		_, _ = fmt.Fprintf(p.out, "No API key for %s. Run `unichat key set %s`.\n", m.Group, m.Group)
		return
	}
	ctx := context.Background()
	key, err := p.secret(ctx, fmt.Sprintf("API key for %s (%s)", m.Title, m.Group))
	if err != nil || key == "" {
		_, _ = fmt.Fprintln(p.out, "No key entered.")
		return
	}
	if err := p.keys.SetAPIKey(ctx, m.Group, key); err != nil {
		_, _ = fmt.Fprintf(p.out, "Could not store key: %v\n", err)
	}
}

// navigator turns route changes into terminal hints.
type navigator struct {
	mu    sync.Mutex
	out   io.Writer
	theme theme
	route string
}

func (n *navigator) Navigate(route string) {
	n.mu.Lock()
	n.route = route
	n.mu.Unlock()
	switch {
	case route == auth.LoginRoute:
		_, _ = fmt.Fprintln(n.out, n.theme.errorStyle().Render("You are logged out. Run `unichat login` to sign in."))
	case strings.HasPrefix(route, "/chat/"):
		_, _ = fmt.Fprintln(n.out, n.theme.hintStyle().Render("session "+strings.TrimPrefix(route, "/chat/")))
	}
}

func (n *navigator) current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.route
}

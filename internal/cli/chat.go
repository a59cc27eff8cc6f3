package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"unichat/internal/audio"
	"unichat/internal/auth"
	"unichat/internal/chat"
	"unichat/internal/credentials"
	"unichat/internal/models"
	"unichat/internal/upload"
)

const replHelp = `Commands:
  /retry             resend the last failed message
  /voice <file>      send a recorded voice message
  /upload <file>...  attach documents or audio/video files
  /url <url> [query] process a media URL, optionally asking about it
  /files             list the session's files
  /rm <file-id>      delete a file
  /summarize <name>  summarize an uploaded audio/video file
  /script <name>     transcribe an uploaded audio/video file
  /quit              leave`

func newChatCmd(a *app) *cobra.Command {
	var sessionID, voicePath string
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message, or start an interactive chat",
		Long: `Send one message and print the reply, or start an interactive chat when no
message is given. Without --session a new session is created on the first
message.

Examples:
  unichat chat "summarize my notes"
  unichat chat --session <id>
  unichat chat --session <id> --voice question.wav`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.coordinator(ctx, sessionID)
			if err != nil {
				return err
			}
			defer c.Close()
			tr := newTranscript(a, c)

			text := strings.TrimSpace(strings.Join(args, " "))
			switch {
			case voicePath != "":
				tr.markSeen()
				blob, err := readVoice(voicePath)
				if err != nil {
					return err
				}
				err = c.SendMessage(ctx, chat.AudioInput(blob))
				tr.flush()
				return err
			case text != "":
				tr.markSeen()
				err := c.SendMessage(ctx, chat.TextInput(text))
				tr.flush()
				return err
			default:
				a.prompter.interactive = true
				tr.showErrors = true
				tr.flush()
				return a.repl(ctx, c, tr)
			}
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to continue")
	cmd.Flags().StringVar(&voicePath, "voice", "", "send this audio file as a voice message")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print a session's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.coordinator(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer c.Close()
			newTranscript(a, c).flush()
			return nil
		},
	}
}

// repl reads commands and messages until EOF or /quit.
func (a *app) repl(ctx context.Context, c *chat.Coordinator, tr *transcript) error {
	fmt.Fprintln(a.out, a.theme.hintStyle().Render("Type a message, /help for commands."))
	for {
		fmt.Fprint(a.out, "> ")
		line, err := a.prompter.readLine()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(a.out)
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}
		err = a.replLine(ctx, c, line)
		shown := c.Err() != nil
		tr.flush()
		if err != nil && !shown && !errors.Is(err, credentials.ErrCredentialsRequired) && !errors.Is(err, auth.ErrUnauthorized) {
			fmt.Fprintln(a.err, a.theme.errorStyle().Render("Error: "+err.Error()))
		}
		if errors.Is(err, chat.ErrClosed) || a.nav.current() == auth.LoginRoute {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (a *app) replLine(ctx context.Context, c *chat.Coordinator, line string) error {
	if !strings.HasPrefix(line, "/") {
		return a.send(ctx, c, chat.TextInput(line))
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/help":
		fmt.Fprintln(a.out, replHelp)
	case "/retry":
		ts, ok := lastFailed(c.Messages())
		if !ok {
			fmt.Fprintln(a.out, a.theme.hintStyle().Render("Nothing to retry."))
			return nil
		}
		return c.RetryMessage(ctx, ts)
	case "/voice":
		blob, err := readVoice(rest)
		if err != nil {
			return err
		}
		return a.send(ctx, c, chat.AudioInput(blob))
	case "/upload":
		files, err := localFiles(strings.Fields(rest))
		if err != nil {
			return err
		}
		return a.printUpload(c.Upload(ctx, upload.Request{Files: files}))
	case "/url":
		u, query, _ := strings.Cut(rest, " ")
		return a.printUpload(c.Upload(ctx, upload.Request{URL: u, Query: strings.TrimSpace(query)}))
	case "/files":
		fmt.Fprintln(a.out, a.theme.renderFiles(c.DocumentFiles(), c.AudioVideoFiles()))
	case "/rm":
		if !c.DeleteFile(ctx, rest) {
			fmt.Fprintln(a.out, a.theme.errorStyle().Render("Could not delete "+rest))
			return nil
		}
		fmt.Fprintln(a.out, "Deleted "+rest)
	case "/summarize":
		return c.AudioAction(ctx, rest, chat.ActionSummarize)
	case "/script":
		return c.AudioAction(ctx, rest, chat.ActionFullScript)
	default:
		fmt.Fprintln(a.out, a.theme.hintStyle().Render("Unknown command "+name+", /help lists them."))
	}
	return nil
}

// send delivers in; when the key was just entered at the prompt it tries
// once more.
func (a *app) send(ctx context.Context, c *chat.Coordinator, in chat.Input) error {
	err := c.SendMessage(ctx, in)
	if errors.Is(err, credentials.ErrCredentialsRequired) && a.prompter.interactive {
		if _, ready := a.creds.Ready(ctx); ready == nil {
			err = c.SendMessage(ctx, in)
		}
	}
	return err
}

func lastFailed(msgs []models.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser && msgs[i].Status == models.StatusFailed {
			return msgs[i].Timestamp, true
		}
	}
	return "", false
}

func readVoice(path string) (*audio.Blob, error) {
	if path == "" {
		return nil, errors.New("voice file path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read voice file: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	return &audio.Blob{Data: data, MIME: mimeType}, nil
}

// transcript prints messages the user has not seen yet. With showErrors it
// also prints and dismisses the error slot.
//
// Messages are keyed by role and timestamp. A history refresh swaps local
// copies for the backend's, which carry other timestamps; a fetched message
// whose role and text match one that left the list is taken as already shown.
type transcript struct {
	a          *app
	c          *chat.Coordinator
	seen       map[string]shown
	showErrors bool
}

type shown struct {
	status  models.Status
	content string
}

func newTranscript(a *app, c *chat.Coordinator) *transcript {
	return &transcript{a: a, c: c, seen: make(map[string]shown)}
}

func messageKey(m models.Message) string {
	return string(m.Role) + "|" + m.Timestamp
}

func messageContent(m models.Message) string {
	return string(m.Role) + "|" + m.Text
}

// markSeen hides everything currently shown, e.g. the greeting before a
// one-shot message.
func (t *transcript) markSeen() {
	for _, m := range t.c.Messages() {
		t.seen[messageKey(m)] = shown{status: m.Status, content: messageContent(m)}
	}
}

func (t *transcript) flush() {
	msgs := t.c.Messages()
	present := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		present[messageKey(m)] = struct{}{}
	}
	replaced := make(map[string]int)
	for key, s := range t.seen {
		if _, ok := present[key]; !ok {
			replaced[s.content]++
			delete(t.seen, key)
		}
	}

	for _, m := range msgs {
		key, content := messageKey(m), messageContent(m)
		prev, ok := t.seen[key]
		if !ok && replaced[content] > 0 {
			replaced[content]--
			t.seen[key] = shown{status: m.Status, content: content}
			continue
		}
		t.seen[key] = shown{status: m.Status, content: content}
		if ok && (prev.status == m.Status || m.Status != models.StatusFailed) {
			continue
		}
		url, _ := t.c.AudioURL(m.AudioKey)
		fmt.Fprintln(t.a.out, t.a.theme.renderMessage(m, url))
	}
	if !t.showErrors {
		return
	}
	if err := t.c.Err(); err != nil {
		fmt.Fprintln(t.a.err, t.a.theme.errorStyle().Render("Error: "+err.Error()))
		t.c.DismissError()
	}
}

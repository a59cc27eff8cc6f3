package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"unichat/internal/api"
	"unichat/internal/audio"
	"unichat/internal/credentials"
	"unichat/internal/models"
)

// InputKind tells text and voice input apart.
type InputKind int

const (
	InputText InputKind = iota
	InputAudio
)

// Input is one user turn.
type Input struct {
	Kind  InputKind
	Text  string
	Audio *audio.Blob
}

// TextInput wraps a typed prompt.
func TextInput(text string) Input { return Input{Kind: InputText, Text: text} }

// AudioInput wraps a recorded voice message.
func AudioInput(blob *audio.Blob) Input { return Input{Kind: InputAudio, Audio: blob} }

func (in Input) empty() bool {
	switch in.Kind {
	case InputText:
		return strings.TrimSpace(in.Text) == ""
	case InputAudio:
		return in.Audio == nil || len(in.Audio.Data) == 0
	default:
		return false
	}
}

// SendMessage appends the user message immediately (status pending) and then
// delivers it through the operation queue. Empty input is ignored. Missing
// credentials prompt for a key and leave the message list untouched.
func (c *Coordinator) SendMessage(ctx context.Context, in Input) error {
	if err := c.ready(); err != nil {
		return err
	}
	if in.empty() {
		return nil
	}
	creds, err := c.preflight(ctx)
	if err != nil {
		return err
	}

	ts := c.clock.next()
	msg := models.Message{Role: models.RoleUser, Timestamp: ts, Status: models.StatusPending}
	switch in.Kind {
	case InputText:
		msg.Text = in.Text
	case InputAudio:
		key := c.audioKey(ts)
		if _, err := c.audio.Put(key, in.Audio); err != nil {
			c.report(err)
			return err
		}
		msg.Text = models.VoicePlaceholder
		msg.AudioKey = key
	default:
		err := fmt.Errorf("invalid message type %d", in.Kind)
		c.report(err)
		return err
	}
	c.state.appendMessages(msg)
	c.state.rememberInput(ts, in)
	c.state.setErr(nil)

	return c.enqueueSend(ctx, ts, in, creds)
}

// RetryMessage re-sends a failed user message with its original input.
func (c *Coordinator) RetryMessage(ctx context.Context, timestamp string) error {
	if err := c.ready(); err != nil {
		return err
	}
	msg, ok := c.state.findUserMessage(timestamp)
	if !ok || msg.Status != models.StatusFailed {
		return ErrNothingToRetry
	}
	in, ok := c.state.pendingInput(timestamp)
	if !ok {
		return ErrNothingToRetry
	}
	creds, err := c.preflight(ctx)
	if err != nil {
		return err
	}
	c.state.updateUserMessage(timestamp, func(m *models.Message) { m.Status = models.StatusPending })
	c.state.setErr(nil)
	return c.enqueueSend(ctx, timestamp, in, creds)
}

func (c *Coordinator) enqueueSend(ctx context.Context, ts string, in Input, creds models.Credentials) error {
	err := c.queue.submitTask(ctx, "send", func(ctx context.Context) error {
		return c.deliver(ctx, ts, in, creds)
	}, func(err error) {
		c.fail(ts, fmt.Errorf("send message: %w", err))
	})
	if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrClosed) {
		c.fail(ts, err)
	}
	return err
}

// deliver runs on the queue: create the session if needed, send the turn,
// patch the transcript, append the reply, then refresh files.
func (c *Coordinator) deliver(ctx context.Context, ts string, in Input, creds models.Credentials) error {
	sid, created, err := c.ensureSession(ctx)
	if err != nil {
		c.fail(ts, err)
		return err
	}

	req := api.ChatRequest{SessionID: sid, Credentials: creds}
	if in.Kind == InputAudio {
		req.Voice = in.Audio.Data
	} else {
		req.Prompt = in.Text
	}
	resp, err := c.api.Chat(ctx, req)
	if err != nil {
		err = fmt.Errorf("send message: %w", err)
		c.fail(ts, err)
		return err
	}
	if !c.state.current(sid) {
		c.logger.Debug("dropping chat response after close", "session_id", sid)
		return ErrClosed
	}

	c.state.updateUserMessage(ts, func(m *models.Message) {
		if in.Kind == InputAudio && resp.Transcript != "" {
			m.Text = resp.Transcript
		}
		m.Status = models.StatusConfirmed
	})
	c.state.forgetInput(ts)

	reply := models.Message{
		Role:      models.RoleAssistant,
		Text:      resp.Response,
		Timestamp: c.clock.next(),
		Status:    models.StatusConfirmed,
	}
	if resp.Audio != "" {
		key, err := c.storeReplyAudio(reply.Timestamp, resp.Audio)
		if err != nil {
			c.logger.Error("decode reply audio", "error", err)
			c.report(errors.New("could not process audio from server"))
		} else {
			reply.AudioKey = key
		}
	}
	c.state.appendMessages(reply)
	c.cache.invalidate(ctx, sid, scopeHistory, c.id)

	if created {
		target := resp.SessionID
		if target == "" {
			target = sid
		}
		c.nav.Navigate(SessionRoute(target))
	}
	if err := c.FetchFiles(ctx, sid); err != nil && !errors.Is(err, ErrFetchInFlight) {
		c.logger.Warn("refresh files after send", "error", err)
	}
	return nil
}

func (c *Coordinator) storeReplyAudio(ts, payload string) (string, error) {
	blob, err := audio.DecodePayload(payload)
	if err != nil {
		return "", err
	}
	key := c.audioKey(ts)
	if _, err := c.audio.Put(key, blob); err != nil {
		return "", err
	}
	return key, nil
}

// fail marks the user message failed and surfaces err.
func (c *Coordinator) fail(ts string, err error) {
	c.state.updateUserMessage(ts, func(m *models.Message) { m.Status = models.StatusFailed })
	c.report(err)
}

// preflight checks for a selected model and its key, prompting when missing.
func (c *Coordinator) preflight(ctx context.Context) (models.Credentials, error) {
	creds, err := c.creds.Ready(ctx)
	if err == nil {
		return creds, nil
	}
	var missing *credentials.MissingError
	if errors.As(err, &missing) {
		if missing.Model == nil {
			c.logger.Warn("no model selected")
		}
		c.prompter.PromptAPIKey(missing.Model)
	}
	return models.Credentials{}, err
}

package chat

import (
	"context"
	"errors"
	"fmt"

	"unichat/internal/api"
	"unichat/internal/models"
	"unichat/internal/upload"
)

// Audio actions understood by the backend.
const (
	ActionFullScript = "full_script"
	ActionSummarize  = "summarize"
)

// DeleteSession deletes a session and reports whether it was removed. Failures
// are logged only; the error slot is left alone.
func (c *Coordinator) DeleteSession(ctx context.Context, sessionID string) bool {
	if c.state.closed() {
		return false
	}
	err := c.api.DeleteSession(ctx, sessionID)
	switch {
	case err == nil:
	case api.IsNotFound(err):
		c.logger.Warn("session not found or unauthorized", "session_id", sessionID)
		return false
	default:
		c.logger.Error("delete session", "session_id", sessionID, "error", err)
		return false
	}
	c.logger.Info("session deleted", "session_id", sessionID)
	c.state.removeSession(sessionID)
	c.cache.invalidate(ctx, sessionID, scopeSession, c.id)
	if sessionID == c.state.getSessionID() {
		c.nav.Navigate(chatRoute)
	}
	if err := c.FetchSessions(ctx); err != nil && !errors.Is(err, ErrFetchInFlight) {
		c.logger.Warn("refresh sessions after delete", "error", err)
	}
	return true
}

// DeleteFile deletes a file of the active session. On success the file list
// is refreshed; on failure nothing changes.
func (c *Coordinator) DeleteFile(ctx context.Context, fileID string) bool {
	if c.ready() != nil {
		return false
	}
	sid := c.state.getSessionID()
	if sid == "" {
		c.logger.Warn("delete file without session", "file_id", fileID)
		return false
	}
	err := c.queue.submit(ctx, "delete_file", func(ctx context.Context) error {
		if err := c.api.DeleteFile(ctx, sid, fileID); err != nil {
			return err
		}
		c.cache.invalidate(ctx, sid, scopeFiles, c.id)
		if err := c.FetchFiles(ctx, sid); err != nil && !errors.Is(err, ErrFetchInFlight) {
			c.logger.Warn("refresh files after delete", "error", err)
		}
		return nil
	})
	if err != nil {
		if api.IsNotFound(err) {
			c.logger.Warn("file not found or unauthorized", "file_id", fileID)
		} else {
			c.logger.Error("delete file", "file_id", fileID, "error", err)
		}
		return false
	}
	c.logger.Info("file deleted", "session_id", sid, "file_id", fileID)
	return true
}

// AudioAction asks the backend to run action on an uploaded audio file and
// appends the messages it returns.
func (c *Coordinator) AudioAction(ctx context.Context, fileName, action string) error {
	if err := c.ready(); err != nil {
		return err
	}
	sid := c.state.getSessionID()
	if sid == "" {
		c.report(ErrNoActiveSession)
		return ErrNoActiveSession
	}
	creds, err := c.preflight(ctx)
	if err != nil {
		return err
	}
	return c.queue.submit(ctx, "audio_action", func(ctx context.Context) error {
		msgs, err := c.api.AudioAction(ctx, api.AudioActionRequest{
			SessionID: sid,
			Action:    action,
			FileName:  fileName,
			Provider:  creds.Provider,
			Model:     creds.Model,
			APIKey:    creds.APIKey,
		})
		if err != nil {
			err = fmt.Errorf("audio action %s: %w", action, err)
			c.report(err)
			return err
		}
		if !c.state.current(sid) {
			return ErrClosed
		}
		if len(msgs) == 0 {
			c.logger.Warn("audio action returned no messages", "action", action)
		}
		mapped := make([]models.Message, 0, len(msgs))
		for _, m := range msgs {
			mapped = append(mapped, m.ToMessage())
		}
		c.state.appendMessages(mapped...)
		c.cache.invalidate(ctx, sid, scopeHistory, c.id)
		if err := c.FetchHistory(ctx, sid); err != nil && !errors.Is(err, ErrFetchInFlight) {
			c.logger.Warn("refresh history after audio action", "error", err)
		}
		return nil
	})
}

// Upload validates req and hands it to the upload orchestrator. A new
// session is created (and navigated to) when none is active. Files and
// history are refreshed once after a successful run.
func (c *Coordinator) Upload(ctx context.Context, req upload.Request) upload.Result {
	if err := c.ready(); err != nil {
		return upload.Failed(err)
	}
	creds, err := c.preflight(ctx)
	if err != nil {
		return upload.Failed(err)
	}
	if err := upload.Validate(req.Files, req.URL, c.limits); err != nil {
		c.report(err)
		return upload.Failed(err)
	}
	if req.Empty() {
		return upload.Result{Success: true}
	}

	var result upload.Result
	err = c.queue.submit(ctx, "upload", func(ctx context.Context) error {
		c.state.setUploading(true)
		defer c.state.setUploading(false)
		c.state.setErr(nil)

		sid, created, err := c.ensureSession(ctx)
		if err != nil {
			return err
		}
		if created {
			c.nav.Navigate(SessionRoute(sid))
		}
		data, err := c.uploader.Run(ctx, sid, creds, req, c.appendStatus)
		if err != nil {
			return err
		}
		c.cache.invalidate(ctx, sid, scopeSession, c.id)
		if err := c.FetchFiles(ctx, sid); err != nil && !errors.Is(err, ErrFetchInFlight) {
			c.logger.Warn("refresh files after upload", "error", err)
		}
		if err := c.FetchHistory(ctx, sid); err != nil && !errors.Is(err, ErrFetchInFlight) {
			c.logger.Warn("refresh history after upload", "error", err)
		}
		result = upload.Result{Success: true, Data: data}
		return nil
	})
	if err != nil {
		c.logger.Error("upload failed", "error", err)
		c.report(err)
		return upload.Failed(err)
	}
	return result
}

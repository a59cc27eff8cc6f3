package chat

import (
	"context"

	"unichat/internal/models"
)

// FetchHistory replaces the message list with the session's stored history.
// Local user messages the backend has not confirmed are kept at the end.
// A call overlapping another history fetch returns ErrFetchInFlight.
func (c *Coordinator) FetchHistory(ctx context.Context, sessionID string) error {
	if c.state.closed() {
		return ErrClosed
	}
	if !c.state.beginFetch(fetchHistory) {
		return ErrFetchInFlight
	}
	defer c.state.endFetch(fetchHistory)

	msgs, ok := c.cache.loadHistory(ctx, sessionID)
	if !ok {
		history, err := c.api.SessionHistory(ctx, sessionID)
		if err != nil {
			c.logger.Error("fetch history", "session_id", sessionID, "error", err)
			return err
		}
		msgs = make([]models.Message, 0, len(history))
		for _, h := range history {
			msgs = append(msgs, h.ToMessage())
		}
		c.cache.cacheHistory(ctx, sessionID, msgs)
	}
	if !c.state.current(sessionID) {
		c.logger.Debug("dropping stale history", "session_id", sessionID)
		return nil
	}
	c.state.mu.Lock()
	c.state.messages = mergeUnconfirmed(msgs, c.state.messages)
	c.state.mu.Unlock()
	return nil
}

// mergeUnconfirmed appends local pending/failed user messages missing from fetched.
func mergeUnconfirmed(fetched, local []models.Message) []models.Message {
	seen := make(map[string]struct{}, len(fetched))
	for _, m := range fetched {
		seen[m.Timestamp] = struct{}{}
	}
	out := fetched
	for _, m := range local {
		if m.Role != models.RoleUser || m.Status == models.StatusConfirmed || m.Status == "" {
			continue
		}
		if _, dup := seen[m.Timestamp]; dup {
			continue
		}
		out = append(out, m)
	}
	return out
}

// FetchFiles replaces the file list with the session's files.
func (c *Coordinator) FetchFiles(ctx context.Context, sessionID string) error {
	if c.state.closed() {
		return ErrClosed
	}
	if !c.state.beginFetch(fetchFiles) {
		return ErrFetchInFlight
	}
	defer c.state.endFetch(fetchFiles)

	files, ok := c.cache.loadFiles(ctx, sessionID)
	if !ok {
		var err error
		files, err = c.api.Files(ctx, sessionID)
		if err != nil {
			c.logger.Error("fetch files", "session_id", sessionID, "error", err)
			return err
		}
		c.cache.cacheFiles(ctx, sessionID, files)
	}
	if !c.state.current(sessionID) {
		c.logger.Debug("dropping stale files", "session_id", sessionID)
		return nil
	}
	c.state.setFiles(files)
	return nil
}

// FetchSessions reloads the session list.
func (c *Coordinator) FetchSessions(ctx context.Context) error {
	if c.state.closed() {
		return ErrClosed
	}
	if !c.state.beginFetch(fetchSessions) {
		return ErrFetchInFlight
	}
	defer c.state.endFetch(fetchSessions)

	list, err := c.api.Sessions(ctx)
	if err != nil {
		c.logger.Error("fetch sessions", "error", err)
		return err
	}
	if c.state.closed() {
		return nil
	}
	c.state.setSessions(list)
	return nil
}

// FetchAIModels reloads the model list and selects the first model when none
// is selected yet.
func (c *Coordinator) FetchAIModels(ctx context.Context) error {
	if c.state.closed() {
		return ErrClosed
	}
	if !c.state.beginFetch(fetchModels) {
		return ErrFetchInFlight
	}
	defer c.state.endFetch(fetchModels)

	list, err := c.api.AIModels(ctx)
	if err != nil {
		c.logger.Error("fetch models", "error", err)
		return err
	}
	if c.state.closed() {
		return nil
	}
	c.state.setModels(list)
	if len(list) == 0 {
		return nil
	}
	selected, err := c.creds.SelectedModel(ctx)
	if err != nil {
		return err
	}
	if selected == nil {
		if err := c.creds.SetSelectedModel(ctx, list[0]); err != nil {
			return err
		}
		c.logger.Info("auto-selected default model", "model", list[0].Model, "provider", list[0].Group)
	}
	return nil
}

package chat

import (
	"sync"
	"time"

	"unichat/internal/models"
)

// Phase is the coordinator lifecycle.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseLoading
	PhaseReady
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type fetchKind int

const (
	fetchHistory fetchKind = iota
	fetchFiles
	fetchSessions
	fetchModels
	fetchKinds
)

// sessionState is everything the coordinator shows. All access goes through
// its methods.
type sessionState struct {
	mu        sync.RWMutex
	phase     Phase
	sessionID string
	messages  []models.Message
	files     []models.UploadedFile
	sessions  []models.Session
	aiModels  []models.AIModel
	err       error
	uploading bool
	inflight  [fetchKinds]bool
	// inputs of user messages not yet confirmed, by timestamp
	pending map[string]Input
}

func newSessionState() *sessionState {
	return &sessionState{pending: make(map[string]Input)}
}

func (s *sessionState) getPhase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *sessionState) setPhase(p Phase) {
	s.mu.Lock()
	if s.phase != PhaseClosed {
		s.phase = p
	}
	s.mu.Unlock()
}

func (s *sessionState) closed() bool {
	return s.getPhase() == PhaseClosed
}

func (s *sessionState) getSessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// assignSession sets the session id once; it reports false if another id is
// already assigned.
func (s *sessionState) assignSession(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID != "" && s.sessionID != id {
		return false
	}
	s.sessionID = id
	return true
}

// current reports whether results for sessionID may still be applied.
func (s *sessionState) current(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase != PhaseClosed && s.sessionID == sessionID
}

// beginFetch claims the in-flight flag for kind.
func (s *sessionState) beginFetch(kind fetchKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[kind] {
		return false
	}
	s.inflight[kind] = true
	return true
}

func (s *sessionState) endFetch(kind fetchKind) {
	s.mu.Lock()
	s.inflight[kind] = false
	s.mu.Unlock()
}

func (s *sessionState) appendMessages(msgs ...models.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msgs...)
	s.mu.Unlock()
}

func (s *sessionState) setMessages(msgs []models.Message) {
	s.mu.Lock()
	s.messages = msgs
	s.mu.Unlock()
}

// updateUserMessage applies fn to the user message with timestamp ts.
func (s *sessionState) updateUserMessage(ts string, fn func(*models.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].Timestamp == ts && s.messages[i].Role == models.RoleUser {
			fn(&s.messages[i])
			return true
		}
	}
	return false
}

func (s *sessionState) findUserMessage(ts string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.Timestamp == ts && m.Role == models.RoleUser {
			return m, true
		}
	}
	return models.Message{}, false
}

func (s *sessionState) getMessages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Message(nil), s.messages...)
}

func (s *sessionState) setFiles(files []models.UploadedFile) {
	s.mu.Lock()
	s.files = files
	s.mu.Unlock()
}

func (s *sessionState) getFiles() []models.UploadedFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.UploadedFile(nil), s.files...)
}

func (s *sessionState) setSessions(list []models.Session) {
	s.mu.Lock()
	s.sessions = list
	s.mu.Unlock()
}

func (s *sessionState) removeSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.sessions[:0:0]
	for _, se := range s.sessions {
		if se.SessionID != id {
			kept = append(kept, se)
		}
	}
	s.sessions = kept
}

func (s *sessionState) getSessions() []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Session(nil), s.sessions...)
}

func (s *sessionState) setModels(list []models.AIModel) {
	s.mu.Lock()
	s.aiModels = list
	s.mu.Unlock()
}

func (s *sessionState) getModels() []models.AIModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AIModel(nil), s.aiModels...)
}

func (s *sessionState) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *sessionState) getErr() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *sessionState) setUploading(v bool) {
	s.mu.Lock()
	s.uploading = v
	s.mu.Unlock()
}

func (s *sessionState) isUploading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uploading
}

func (s *sessionState) rememberInput(ts string, in Input) {
	s.mu.Lock()
	s.pending[ts] = in
	s.mu.Unlock()
}

func (s *sessionState) pendingInput(ts string) (Input, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.pending[ts]
	return in, ok
}

func (s *sessionState) forgetInput(ts string) {
	s.mu.Lock()
	delete(s.pending, ts)
	s.mu.Unlock()
}

// clock hands out strictly increasing timestamps; a collision bumps by 1ns.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func (c *clock) next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC()
	if !t.After(c.last) {
		t = c.last.Add(time.Nanosecond)
	}
	c.last = t
	return t.Format(time.RFC3339Nano)
}

package fakebackend

import (
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"unichat/internal/models"
)

const newChatTitle = "New chat"

// Handler builds the gin engine serving the whole API.
func (b *Backend) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), b.requestLogger(), b.scriptMiddleware())
	b.RegisterRoutes(router)
	return router
}

// RegisterRoutes attaches all HTTP routes to the router.
func (b *Backend) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	v1.POST("/auth/register", b.register)
	v1.POST("/auth/login", b.login)

	authed := v1.Group("")
	authed.Use(b.authMiddleware())
	authed.GET("/aimodels", b.listModels)

	chat := authed.Group("/chat")
	chat.POST("", b.chat)
	chat.GET("/sessions", b.listSessions)
	chat.POST("/new_chat", b.newChat)
	chat.GET("/session/:session_id", b.sessionHistory)
	chat.DELETE("/session/:session_id", b.deleteSession)
	chat.GET("/files/:session_id", b.listFiles)
	chat.DELETE("/files/:session_id/:file_id", b.deleteFile)
	chat.POST("/upload-file", b.uploadFiles)
	chat.POST("/upload_audio", b.uploadAudio)
	chat.POST("/audio_action", b.audioAction)
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (b *Backend) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}
	if req.Email == "" || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "email, username and password are required"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.users[req.Email]; exists {
		c.JSON(http.StatusConflict, gin.H{"message": "email already registered"})
		return
	}
	b.users[req.Email] = &user{email: req.Email, username: req.Username, password: req.Password}
	c.JSON(http.StatusCreated, gin.H{"email": req.Email, "username": req.Username})
}

func (b *Backend) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[req.Email]
	if !ok || u.password != req.Password {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "invalid email or password"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": b.issueTokenLocked(u.email),
		"token_type":   "bearer",
	})
}

func (b *Backend) listModels(c *gin.Context) {
	b.mu.Lock()
	list := append([]models.AIModel(nil), b.models...)
	b.mu.Unlock()
	c.JSON(http.StatusOK, list)
}

func (b *Backend) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": b.sessionsFor(ownerFromContext(c))})
}

func (b *Backend) newChat(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.SessionID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	owner := ownerFromContext(c)
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, exists := b.sessions[req.SessionID]; exists {
		if s.owner != owner {
			c.JSON(http.StatusConflict, gin.H{"error": "session id already in use"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": s.id})
		return
	}
	b.sessions[req.SessionID] = &session{
		id:        req.SessionID,
		owner:     owner,
		title:     newChatTitle,
		createdAt: b.now(),
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": req.SessionID})
}

// ownedSessionLocked resolves a session owned by the caller. b.mu must be held.
func (b *Backend) ownedSessionLocked(c *gin.Context, id string) (*session, bool) {
	s, ok := b.sessions[id]
	if !ok || s.owner != ownerFromContext(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return s, true
}

func (b *Backend) sessionHistory(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.ownedSessionLocked(c, c.Param("session_id"))
	if !ok {
		return
	}
	messages := append([]models.HistoryMessage{}, s.messages...)
	c.JSON(http.StatusOK, gin.H{"session_id": s.id, "messages": messages})
}

func (b *Backend) deleteSession(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.ownedSessionLocked(c, c.Param("session_id"))
	if !ok {
		return
	}
	delete(b.sessions, s.id)
	c.Status(http.StatusNoContent)
}

func (b *Backend) listFiles(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.ownedSessionLocked(c, c.Param("session_id"))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, append([]models.UploadedFile{}, s.files...))
}

func (b *Backend) deleteFile(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.ownedSessionLocked(c, c.Param("session_id"))
	if !ok {
		return
	}
	fileID := c.Param("file_id")
	for i, f := range s.files {
		if f.FileID == fileID {
			s.files = append(s.files[:i], s.files[i+1:]...)
			c.Status(http.StatusNoContent)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
}

type generationFields struct {
	SessionID string
	Provider  string
	Model     string
	APIKey    string
}

func readGenerationFields(c *gin.Context) (generationFields, bool) {
	f := generationFields{
		SessionID: strings.TrimSpace(c.PostForm("session_id")),
		Provider:  strings.TrimSpace(c.PostForm("provider")),
		Model:     strings.TrimSpace(c.PostForm("model")),
		APIKey:    strings.TrimSpace(c.PostForm("api_key")),
	}
	if f.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return f, false
	}
	if f.Provider == "" || f.Model == "" || f.APIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider, model and api_key are required"})
		return f, false
	}
	return f, true
}

func (b *Backend) chat(c *gin.Context) {
	fields, ok := readGenerationFields(c)
	if !ok {
		return
	}
	prompt := c.PostForm("prompt")
	var voice []byte
	if fh, err := c.FormFile("voice"); err == nil {
		data, err := readUpload(fh)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		voice = data
	}
	if voice == nil && strings.TrimSpace(prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt or voice is required"})
		return
	}

	b.mu.Lock()
	s, ok := b.ownedSessionLocked(c, fields.SessionID)
	if !ok {
		b.mu.Unlock()
		return
	}
	reply := b.reply(prompt, voice)
	userText := prompt
	if voice != nil {
		userText = reply.Transcript
	}
	s.messages = append(s.messages,
		models.HistoryMessage{Role: models.RoleUser, Content: userText, Timestamp: b.stamp()},
		models.HistoryMessage{Role: models.RoleAssistant, Content: reply.Response, Timestamp: b.stamp()},
	)
	if s.title == newChatTitle && strings.TrimSpace(userText) != "" {
		s.title = truncate(userText, 40)
	}
	b.mu.Unlock()

	resp := gin.H{"response": reply.Response, "session_id": fields.SessionID}
	if reply.Transcript != "" && voice != nil {
		resp["transcript"] = reply.Transcript
	}
	if reply.Audio != "" {
		resp["audio"] = reply.Audio
	}
	c.JSON(http.StatusOK, resp)
}

func (b *Backend) uploadFiles(c *gin.Context) {
	fields, ok := readGenerationFields(c)
	if !ok {
		return
	}
	form, err := c.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "files are required"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.ownedSessionLocked(c, fields.SessionID)
	if !ok {
		return
	}
	uploaded := make([]models.UploadedFile, 0, len(form.File["files"]))
	for _, fh := range form.File["files"] {
		f := models.UploadedFile{FileID: uuid.NewString(), FileName: fh.Filename}
		s.files = append(s.files, f)
		uploaded = append(uploaded, f)
	}
	c.JSON(http.StatusOK, gin.H{"files": uploaded})
}

func (b *Backend) uploadAudio(c *gin.Context) {
	fields, ok := readGenerationFields(c)
	if !ok {
		return
	}
	mediaURL := strings.TrimSpace(c.PostForm("youtube_url"))
	query := strings.TrimSpace(c.PostForm("query"))
	fh, fileErr := c.FormFile("file")
	if fileErr != nil && mediaURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file or youtube_url is required"})
		return
	}
	name := ""
	if fileErr == nil {
		name = fh.Filename
	} else {
		u, err := url.Parse(mediaURL)
		if err != nil || u.Host == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid youtube_url"})
			return
		}
		name = "media-" + uuid.NewString()[:8] + ".mp3"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.ownedSessionLocked(c, fields.SessionID)
	if !ok {
		return
	}
	f := models.UploadedFile{FileID: uuid.NewString(), FileName: name}
	s.files = append(s.files, f)
	if query != "" {
		s.messages = append(s.messages,
			models.HistoryMessage{Role: models.RoleUser, Content: query, Timestamp: b.stamp()},
			models.HistoryMessage{Role: models.RoleAssistant, Content: "answer about " + name + ": " + query, Timestamp: b.stamp()},
		)
	}
	c.JSON(http.StatusOK, gin.H{"file_id": f.FileID, "file_name": f.FileName})
}

type audioActionRequest struct {
	SessionID string `json:"session_id"`
	Action    string `json:"action"`
	FileName  string `json:"file_name"`
	Query     string `json:"query"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
}

func (b *Backend) audioAction(c *gin.Context) {
	var req audioActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Provider == "" || req.Model == "" || req.APIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider, model and api_key are required"})
		return
	}
	var text string
	switch req.Action {
	case "full_script":
		text = "Full script of " + req.FileName
	case "summarize":
		text = "Summary of " + req.FileName
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported action"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.ownedSessionLocked(c, req.SessionID)
	if !ok {
		return
	}
	found := false
	for _, f := range s.files {
		if f.FileName == req.FileName {
			found = true
			break
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	msg := models.HistoryMessage{Role: models.RoleAssistant, Content: text, Timestamp: b.stamp()}
	s.messages = append(s.messages, msg)
	c.JSON(http.StatusOK, gin.H{"messages": []models.HistoryMessage{msg}})
}

func (b *Backend) stamp() string {
	return b.now().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n])
}

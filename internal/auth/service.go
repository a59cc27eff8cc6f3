// Package auth handles login/registration against the backend and the
// authenticated HTTP transport used by every other request.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// CredentialStore is the persistence the service needs: the durable token
// plus a way to forget everything on logout.
type CredentialStore interface {
	TokenSource
	SetToken(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// ValidationError lists every rejected field, checked before any network call.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, ", ")
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3"`
	Password string `json:"password" validate:"required,min=6"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
}

// Service logs users in and out.
type Service struct {
	baseURL  string
	client   *http.Client
	store    CredentialStore
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService constructs an auth service. httpClient must not use Transport,
// login and register are unauthenticated.
func NewService(baseURL string, httpClient *http.Client, store CredentialStore, logger *slog.Logger) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	return &Service{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   httpClient,
		store:    store,
		validate: v,
		logger:   logger,
	}
}

// Login exchanges email/password for a bearer token and persists it.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	req := loginRequest{Email: strings.TrimSpace(email), Password: password}
	if err := s.check(req); err != nil {
		return "", err
	}
	body, err := s.post(ctx, "/api/v1/auth/login", req, "login failed")
	if err != nil {
		return "", err
	}
	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if resp.AccessToken == "" {
		return "", errors.New("login response missing access_token")
	}
	if err := s.store.SetToken(ctx, resp.AccessToken); err != nil {
		return "", err
	}
	s.logger.Info("logged in", "email", req.Email)
	return resp.AccessToken, nil
}

// Register creates an account. It does not log the user in.
func (s *Service) Register(ctx context.Context, email, username, password string) error {
	req := registerRequest{
		Email:    strings.TrimSpace(email),
		Username: strings.TrimSpace(username),
		Password: password,
	}
	if err := s.check(req); err != nil {
		return err
	}
	if _, err := s.post(ctx, "/api/v1/auth/register", req, "registration failed"); err != nil {
		return err
	}
	s.logger.Info("registered", "email", req.Email, "username", req.Username)
	return nil
}

// Logout forgets the token, the selected model and all API keys.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Token reports the stored bearer token.
func (s *Service) Token(ctx context.Context) (string, error) {
	return s.store.Token(ctx)
}

func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describe(fe))
	}
	return &ValidationError{Problems: problems}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "invalid email"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func (s *Service) post(ctx context.Context, path string, payload any, fallback string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New(serverMessage(body, fallback))
	}
	return body, nil
}

// serverMessage surfaces {"message": ...} / {"error": ...} bodies verbatim and
// falls back to plain text.
func serverMessage(body []byte, fallback string) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(body, &payload) == nil {
		for _, m := range []string{payload.Message, payload.Error, payload.Detail} {
			if m != "" {
				return m
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && !strings.HasPrefix(text, "{") {
		return text
	}
	return fallback
}

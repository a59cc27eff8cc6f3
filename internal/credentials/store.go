// Package credentials persists the bearer token and the per-provider API keys.
package credentials

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"unichat/internal/models"
	"unichat/internal/redis"
	"unichat/internal/storage"
)

// ErrCredentialsRequired means no model is selected or its provider has no API key.
var ErrCredentialsRequired = errors.New("credentials required")

// MissingError carries the selected model (nil when none) so callers can prompt for its key.
type MissingError struct {
	Model *models.AIModel
}

func (e *MissingError) Error() string {
	if e.Model == nil {
		return "credentials required: no model selected"
	}
	return fmt.Sprintf("credentials required: no api key for %s", e.Model.Group)
}

func (e *MissingError) Unwrap() error { return ErrCredentialsRequired }

const selectedModelPref = "selected_model"

// Store keeps the bearer token durably and the selected model plus API keys
// for the current login only. With redis configured the session-scoped values
// live there under a TTL; otherwise they live in SQL until Clear.
type Store struct {
	db     *sql.DB
	driver string
	rdb    *redis.Client
	ttl    time.Duration
	sealer *keySealer
}

// NewStore builds a credential store. rdb may be nil.
func NewStore(db *sql.DB, driver string, rdb *redis.Client, ttl time.Duration) (*Store, error) {
	if db == nil {
		return nil, errors.New("database required")
	}
	sealer, err := sealerFromEnv()
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Store{db: db, driver: driver, rdb: rdb, ttl: ttl, sealer: sealer}, nil
}

// Token returns the stored bearer token, or "" when logged out.
func (s *Store) Token(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `SELECT token FROM client_tokens WHERE id = 1`).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup token: %w", err)
	}
	return token, nil
}

// SetToken persists the bearer token, replacing any previous one.
func (s *Store) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is required")
	}
	stmt := storage.UpsertSQL(s.driver, "client_tokens", "id", "token", "created_at")
	if _, err := s.db.ExecContext(ctx, stmt, 1, token, time.Now().UTC()); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

// SelectedModel returns the chosen model or nil.
func (s *Store) SelectedModel(ctx context.Context) (*models.AIModel, error) {
	raw, err := s.sessionValue(ctx, selectedModelPref)
	if err != nil || raw == "" {
		return nil, err
	}
	var m models.AIModel
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("decode selected model: %w", err)
	}
	return &m, nil
}

// SetSelectedModel records the model used for generation requests.
func (s *Store) SetSelectedModel(ctx context.Context, m models.AIModel) error {
	if strings.TrimSpace(m.Model) == "" || strings.TrimSpace(m.Group) == "" {
		return errors.New("model and group are required")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode selected model: %w", err)
	}
	return s.setSessionValue(ctx, selectedModelPref, string(data))
}

// APIKey returns the key for provider, or "" when none is stored.
func (s *Store) APIKey(ctx context.Context, provider string) (string, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return "", errors.New("provider is required")
	}
	var stored string
	if s.rdb != nil {
		v, err := s.rdb.Get(ctx, s.rdb.Key("session", "key", provider))
		if errors.Is(err, redis.ErrCacheMiss) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("lookup api key: %w", err)
		}
		stored = v
	} else {
		err := s.db.QueryRowContext(ctx, `SELECT api_key FROM api_keys WHERE provider = ?`, provider).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("lookup api key: %w", err)
		}
	}
	plain, err := s.sealer.open(stored)
	if err != nil {
		return "", fmt.Errorf("read api key for %s: %w", provider, err)
	}
	return plain, nil
}

// SetAPIKey stores the key for provider.
func (s *Store) SetAPIKey(ctx context.Context, provider, key string) error {
	provider = strings.TrimSpace(provider)
	key = strings.TrimSpace(key)
	if provider == "" {
		return errors.New("provider is required")
	}
	if key == "" {
		return errors.New("api key is required")
	}
	sealed, err := s.sealer.seal(key)
	if err != nil {
		return err
	}
	if s.rdb != nil {
		if err := s.rdb.Set(ctx, s.rdb.Key("session", "key", provider), sealed, s.ttl); err != nil {
			return fmt.Errorf("store api key: %w", err)
		}
		return nil
	}
	stmt := storage.UpsertSQL(s.driver, "api_keys", "provider", "api_key", "created_at")
	if _, err := s.db.ExecContext(ctx, stmt, provider, sealed, time.Now().UTC()); err != nil {
		return fmt.Errorf("store api key: %w", err)
	}
	return nil
}

// DeleteAPIKey removes the key for provider.
func (s *Store) DeleteAPIKey(ctx context.Context, provider string) error {
	if s.rdb != nil {
		return s.rdb.Del(ctx, s.rdb.Key("session", "key", provider))
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE provider = ?`, provider); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return nil
}

// Ready returns the provider/model/key triple or a *MissingError.
func (s *Store) Ready(ctx context.Context) (models.Credentials, error) {
	m, err := s.SelectedModel(ctx)
	if err != nil {
		return models.Credentials{}, err
	}
	if m == nil {
		return models.Credentials{}, &MissingError{}
	}
	key, err := s.APIKey(ctx, m.Group)
	if err != nil {
		return models.Credentials{}, err
	}
	if key == "" {
		return models.Credentials{}, &MissingError{Model: m}
	}
	return models.Credentials{Provider: m.Group, Model: m.Model, APIKey: key}, nil
}

// Clear forgets the token, the selected model and every API key.
func (s *Store) Clear(ctx context.Context) error {
	for _, stmt := range []string{
		`DELETE FROM client_tokens`,
		`DELETE FROM preferences`,
		`DELETE FROM api_keys`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear credentials: %w", err)
		}
	}
	if s.rdb != nil {
		if err := s.rdb.DelPattern(ctx, s.rdb.Key("session", "*")); err != nil {
			return fmt.Errorf("clear session keys: %w", err)
		}
	}
	return nil
}

func (s *Store) sessionValue(ctx context.Context, name string) (string, error) {
	if s.rdb != nil {
		v, err := s.rdb.Get(ctx, s.rdb.Key("session", name))
		if errors.Is(err, redis.ErrCacheMiss) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("lookup %s: %w", name, err)
		}
		return v, nil
	}
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE name = ?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", name, err)
	}
	return v, nil
}

func (s *Store) setSessionValue(ctx context.Context, name, value string) error {
	if s.rdb != nil {
		if err := s.rdb.Set(ctx, s.rdb.Key("session", name), value, s.ttl); err != nil {
			return fmt.Errorf("store %s: %w", name, err)
		}
		return nil
	}
	stmt := storage.UpsertSQL(s.driver, "preferences", "name", "value", "updated_at")
	if _, err := s.db.ExecContext(ctx, stmt, name, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}
	return nil
}

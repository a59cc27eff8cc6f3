package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned for requests made without a token and for any
// 401/403 response. The credential store has already been cleared when a
// caller sees it.
var ErrUnauthorized = errors.New("unauthorized")

// LoginRoute is where the client is sent after a forced logout.
const LoginRoute = "/login"

// TokenSource supplies the current bearer token ("" when logged out).
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Navigator receives route changes.
type Navigator interface {
	Navigate(route string)
}

// Transport injects the bearer token into every request and turns 401/403
// responses into a forced logout.
type Transport struct {
	Base     http.RoundTripper
	Tokens   TokenSource
	OnLogout func(ctx context.Context) error
	Nav      Navigator
	Logger   *slog.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	token, err := t.Tokens.Token(ctx)
	if err != nil {
		closeBody(req)
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		closeBody(req)
		t.logger().Warn("no token available", "url", req.URL.String())
		t.forceLogout(ctx)
		return nil, ErrUnauthorized
	}

	out := req.Clone(ctx)
	out.Header.Set("Authorization", "Bearer "+token)
	resp, err := t.base().RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		t.logger().Warn("request rejected, logging out",
			"status", resp.StatusCode,
			"url", req.URL.String(),
			"body", strings.TrimSpace(string(body)),
		)
		t.forceLogout(ctx)
		return nil, ErrUnauthorized
	}
	return resp, nil
}

func (t *Transport) forceLogout(ctx context.Context) {
	if t.OnLogout != nil {
		// the request context may already be cancelled by the time we get here
		if err := t.OnLogout(context.WithoutCancel(ctx)); err != nil {
			t.logger().Error("logout after auth failure", "error", err)
		}
	}
	if t.Nav != nil {
		t.Nav.Navigate(LoginRoute)
	}
}

// closeBody releases the request body on paths that never send it.
func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"unichat/internal/fakebackend"
)

const devBackendCmdName = "dev-backend"

func newDevBackendCmd(a *app) *cobra.Command {
	var addr, email, password string
	cmd := &cobra.Command{
		Use:   devBackendCmdName,
		Short: "Serve an in-memory backend for local development",
		Long: `Serve the full chat API from memory. Replies echo the prompt, voice
messages get a canned transcript, and nothing is persisted.

Examples:
  unichat dev-backend --addr :8000
  unichat dev-backend --user me@example.com --password secret1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.BasicConfig.DevBackendAddr
			}
			gin.SetMode(gin.ReleaseMode)
			backend := fakebackend.New(fakebackend.WithLogger(a.logger))
			if email != "" {
				backend.SeedUser(email, email, password)
				a.logger.Info("seeded user", "email", email)
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           backend.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return serve(cmd.Context(), srv, func() {
				fmt.Fprintf(a.out, "dev backend listening on %s\n", addr)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&email, "user", "", "pre-register this email")
	cmd.Flags().StringVar(&password, "password", "secret1", "password for --user")
	return cmd
}

// serve runs srv until ctx is cancelled, then shuts it down.
func serve(ctx context.Context, srv *http.Server, started func()) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	started()
	select {
	case err := <-errCh:
		return fmt.Errorf("dev backend stopped: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown dev backend: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

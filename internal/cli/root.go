// Package cli provides the unichat command-line client.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"unichat/internal/api"
	"unichat/internal/audio"
	"unichat/internal/auth"
	"unichat/internal/chat"
	"unichat/internal/config"
	"unichat/internal/credentials"
	"unichat/internal/redis"
	"unichat/internal/storage"
	"unichat/internal/upload"
)

// Version is set at build time.
var Version = "0.1.0"

// app carries everything a command needs. It is built once per invocation.
type app struct {
	cfgPath string
	verbose bool

	in  io.Reader
	out io.Writer
	err io.Writer

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
	db       *sql.DB
	rdb      *redis.Client
	creds    *credentials.Store
	auth     *auth.Service
	api      *api.Client
	audio    *audio.Store
	nav      *navigator
	prompter *terminalPrompter
	theme    theme
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{in: in, out: out, err: errOut, theme: defaultTheme}
}

// Execute runs the root command with the process streams. Ctrl-C cancels
// the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return run(ctx, newApp(os.Stdin, os.Stdout, os.Stderr), os.Args[1:])
}

// run executes args and releases whatever setup opened, also on failure.
func run(ctx context.Context, a *app, args []string) error {
	root := newRootCmd(a)
	root.SetArgs(args)
	defer a.teardown()
	return root.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "unichat",
		Short: "Terminal client for the UniChat assistant",
		Long: `unichat talks to a UniChat backend: log in, pick a model, chat by text
or voice, and manage the documents and recordings attached to a session.

Examples:
  unichat login --email me@example.com
  unichat models --select gpt-4o-mini
  unichat key set openai
  unichat chat "what is in my notes?"
  unichat upload notes.pdf talk.mp3 --session <id>`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			return a.setup(cmd.Name() == devBackendCmdName)
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.err)
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", os.Getenv("UNICHAT_CONFIG"), "path to config.json")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newLoginCmd(a),
		newRegisterCmd(a),
		newLogoutCmd(a),
		newModelsCmd(a),
		newKeyCmd(a),
		newSessionsCmd(a),
		newChatCmd(a),
		newHistoryCmd(a),
		newFilesCmd(a),
		newUploadCmd(a),
		newActionCmd(a),
		newDevBackendCmd(a),
	)
	return root
}

// setup loads config and logging; unless configOnly it also opens local
// state and builds the API clients.
func (a *app) setup(configOnly bool) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	level := config.ParseLogLevel(cfg.BasicConfig.LogLevel)
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger, a.closeLog = config.SetupLogger(cfg.BasicConfig.LogFile, level)
	if configOnly {
		return nil
	}

	driver := cfg.BasicConfig.Database
	db, err := storage.Open(driver, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db
	if err := storage.Migrate(db, driver); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		return fmt.Errorf("create redis client: %w", err)
	}
	a.rdb = rdb

	ttl := time.Duration(cfg.BasicConfig.SessionKeyTTL) * time.Minute
	creds, err := credentials.NewStore(db, driver, rdb, ttl)
	if err != nil {
		return fmt.Errorf("init credential store: %w", err)
	}
	a.creds = creds

	timeout := time.Duration(cfg.BasicConfig.RequestTimeout) * time.Second
	a.nav = &navigator{out: a.err, theme: a.theme}
	a.prompter = newTerminalPrompter(a.in, a.err, creds)
	a.auth = auth.NewService(cfg.BasicConfig.APIBaseURL, &http.Client{Timeout: orDefault(timeout, 30*time.Second)}, creds, a.logger)
	a.api = api.New(cfg.BasicConfig.APIBaseURL, &http.Client{
		// uploads and generation can take minutes; no timeout unless configured
		Timeout: timeout,
		Transport: &auth.Transport{
			Tokens:   creds,
			OnLogout: creds.Clear,
			Nav:      a.nav,
			Logger:   a.logger,
		},
	})

	minter := audio.Minter(audio.NewMemoryMinter())
	if dir := cfg.BasicConfig.AudioSpoolDir; dir != "" {
		fm, err := audio.NewFileMinter(dir)
		if err != nil {
			return fmt.Errorf("init audio spool: %w", err)
		}
		minter = fm
	}
	a.audio = audio.NewStore(minter, cfg.BasicConfig.AudioCapacity, audio.WithLogger(a.logger))
	return nil
}

func (a *app) teardown() {
	if a.logger == nil {
		return
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", "error", err)
		}
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

// coordinator mounts a chat coordinator on sessionID ("" starts fresh).
// Callers must Close it.
func (a *app) coordinator(ctx context.Context, sessionID string) (*chat.Coordinator, error) {
	c, err := a.newCoordinator()
	if err != nil {
		return nil, err
	}
	if err := c.Mount(ctx, sessionID); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (a *app) newCoordinator() (*chat.Coordinator, error) {
	return chat.New(chat.Options{
		API:          a.api,
		Credentials:  a.creds,
		Audio:        a.audio,
		Navigator:    a.nav,
		Prompter:     a.prompter,
		Cache:        chat.NewCache(a.rdb, time.Duration(a.cfg.BasicConfig.HistoryCacheTTL)*time.Minute, a.logger),
		Limits:       upload.Limits{MaxFileSizeMB: a.cfg.BasicConfig.MaxFileSizeMB},
		SessionAudio: a.cfg.BasicConfig.SessionAudio,
		Logger:       a.logger,
	})
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kir-gadjello/llm-council/council"
	"github.com/kir-gadjello/llm-council/history"
)

func is_interactive(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// isTerminal reports whether v is an *os.File attached to a terminal.
func isTerminal(v interface{}) bool {
	f, ok := v.(*os.File)
	return ok && is_interactive(f.Fd())
}

// buildLogger writes to stderr, or to a file under home when a full-screen
// UI owns the terminal.
func buildLogger(verbose bool, home string, toFile bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	if toFile {
		if err := os.MkdirAll(home, 0o700); err != nil {
			return nil, err
		}
		path := filepath.Join(home, "llm-council.log")
		config.OutputPaths = []string{path}
		config.ErrorOutputPaths = []string{path}
	}
	return config.Build()
}

// app holds the council components for one CLI invocation.
type app struct {
	cfg         RunConfig
	logger      *zap.Logger
	session     *council.SessionManager
	store       *council.ConversationStore
	admin       *council.AdminStore
	streams     *council.StreamingClient
	archive     *history.Manager
	attachments *council.AttachmentCache
}

func newApp(cfg RunConfig, logger *zap.Logger) *app {
	opts := council.Options{
		BaseURL:    cfg.ApiBase,
		HTTPClient: newHTTPClient(cfg, logger, false),
		Logger:     logger,
	}
	streamOpts := opts
	streamOpts.HTTPClient = newHTTPClient(cfg, logger, true)

	session := council.NewSessionManager(opts, council.NewFileTokenStore(filepath.Join(cfg.Home, "session.yaml")))

	a := &app{
		cfg:         cfg,
		logger:      logger,
		session:     session,
		store:       council.NewConversationStore(opts, session),
		admin:       council.NewAdminStore(opts, session),
		streams:     council.NewStreamingClient(streamOpts, session),
		attachments: &council.AttachmentCache{},
	}

	archive, err := history.New(filepath.Join(cfg.Home, "history.db"), filepath.Join(cfg.Home, "history.jsonl"), logger)
	if err != nil {
		logger.Warn("local history disabled", zap.Error(err))
	} else {
		a.archive = archive
	}
	return a
}

func (a *app) Close() {
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Debug("closing history", zap.Error(err))
		}
	}
}

// appFromCommand loads config and wires the app for cmd.
func appFromCommand(cmd *cobra.Command, logToFile bool) (*app, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger, err := buildLogger(verbose, councilHome(), logToFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := loadConfig(configPath(), logger)
	if err != nil {
		return nil, err
	}
	runCfg, err := getRunConfig(cmd, cfg)
	if err != nil {
		return nil, err
	}
	return newApp(runCfg, logger), nil
}

// requireSession restores the stored session and fails if there is none.
func (a *app) requireSession(ctx context.Context) (council.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	s, err := a.session.Restore(ctx)
	if err != nil {
		return council.Session{}, err
	}
	if !s.Authenticated() {
		return council.Session{}, council.ErrNotAuthenticated
	}
	return s, nil
}

// archiveTurn records a settled turn locally. Failures only reach the log.
func (a *app) archiveTurn(conv *council.Conversation, prompt string, msg *council.Message) {
	if a.archive == nil || conv == nil || msg == nil {
		return
	}
	err := a.archive.SaveTurn(history.TurnEvent{
		ConversationID: conv.ID,
		Title:          conv.Title,
		Server:         a.cfg.Server,
		Prompt:         prompt,
		Turn:           msg.Turn,
	})
	if err != nil {
		a.logger.Warn("failed to archive turn", zap.String("conversation", conv.ID), zap.Error(err))
	}
}

// describeError turns council errors into the messages the CLI prints.
func describeError(err error) string {
	var (
		connErr  *council.ConnectivityError
		credErr  *council.CredentialsError
		protoErr *council.ProtocolError
		nfErr    *council.NotFoundError
	)
	switch {
	case errors.Is(err, council.ErrNotAuthenticated):
		return "not logged in; run `llm-council login` first"
	case errors.As(err, &connErr):
		return "cannot reach server (" + connErr.Op + ")"
	case errors.As(err, &credErr):
		return credErr.Detail
	case errors.As(err, &protoErr):
		return protoErr.Error()
	case errors.As(err, &nfErr):
		return nfErr.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	default:
		return err.Error()
	}
}

// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/backup"
	"github.com/starford/othala/internal/index"
	"github.com/starford/othala/internal/processor"
	"github.com/starford/othala/internal/rules"
	"github.com/starford/othala/internal/storage"
	"github.com/starford/othala/internal/vault"
)

// Run executes one batch edit with the given options. A user cancellation at
// the confirmation gate (decline or SIGINT/SIGTERM) is graceful: the run ends
// with nothing backed up and nothing persisted, and Run returns nil.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := newLogger(cfg.App)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("rules_path", cfg.Rules.Path),
		slog.String("index_path", cfg.Index.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize storage.
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	// Initialize SQLite index and bring it up to date; document selection
	// depends on it reflecting the current on-disk state.
	db, err := index.Open(cfg.Index.Path)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer db.Close()

	if err := index.Sync(db, store, logger); err != nil {
		return fmt.Errorf("sync index: %w", err)
	}

	// Load the collection into memory.
	coll, err := vault.Load(store, db)
	if err != nil {
		return fmt.Errorf("load vault: %w", err)
	}

	// Load the rules file. Fatal when missing or malformed.
	src, err := rules.Load(cfg.Rules.Path, logger)
	if err != nil {
		return err
	}

	confirmer := app.confirmer
	if confirmer == nil {
		confirmer = &processor.ConsoleConfirmer{In: os.Stdin, Out: os.Stdout}
	}
	summaryWriter := app.summaryWriter
	if summaryWriter == nil {
		summaryWriter = os.Stdout
	}

	archiver := processor.ArchiveFunc(func() (string, error) {
		return backup.Vault(store.Root())
	})

	proc := processor.New(coll, src, summaryWriter, confirmer, archiver, logger)

	g, gCtx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	g.Go(func() error {
		defer close(done)
		return proc.Run(gCtx)
	})

	// An interrupt while the run is waiting at the confirmation gate resolves
	// it as a cancellation.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			return apperr.ErrCancelled
		case <-done:
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, apperr.ErrCancelled) {
			logger.Info("Operation cancelled by user")
			return nil
		}
		return err
	}

	return nil
}

func newLogger(cfg ApplicationConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == LogFormatText {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

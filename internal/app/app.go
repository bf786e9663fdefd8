// Package app initializes and holds the long-lived pipeline services,
// acting as a dependency injection container. It is built once at startup
// from the typed configuration and passed to the commands that need it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/markwbennett/PDRbot/internal/analysis"
	"github.com/markwbennett/PDRbot/internal/artifacts"
	"github.com/markwbennett/PDRbot/internal/backfill"
	"github.com/markwbennett/PDRbot/internal/config"
	"github.com/markwbennett/PDRbot/internal/engine"
	"github.com/markwbennett/PDRbot/internal/engine/anthropic"
	"github.com/markwbennett/PDRbot/internal/fetch"
	"github.com/markwbennett/PDRbot/internal/ingest"
	ledgermem "github.com/markwbennett/PDRbot/internal/ledger/memory"
	ledgerpg "github.com/markwbennett/PDRbot/internal/ledger/postgres"
	"github.com/markwbennett/PDRbot/internal/logging"
	"github.com/markwbennett/PDRbot/internal/notify"
	"github.com/markwbennett/PDRbot/internal/pipeline"
	"github.com/markwbennett/PDRbot/internal/runner"
	"github.com/markwbennett/PDRbot/internal/sources/txcourts"
)

// defaultPrompt is used when no prompt file is configured or present. It
// matches the instructions the analysis parsing expects: one bullet per
// issue, and the literal phrase "no interesting issues" when nothing in
// the opinion merits review.
const defaultPrompt = `You are reviewing a Texas Court of Appeals criminal opinion for issues
that might support a petition for discretionary review. For each issue the
opinion decides, write a bullet beginning exactly with:
▪ Issue Description:
followed by one paragraph on how the court resolved it and whether the
resolution conflicts with other authority or raises a novel question. If
nothing in the opinion merits further review, end your answer with the
sentence: This opinion presents no interesting issues.`

// App holds the shared, long-lived services for one process.
type App struct {
	Cfg    config.Config
	Logger *zap.Logger

	Ledger   pipeline.Ledger
	Store    artifacts.Store
	Notifier notify.Notifier
	Engine   engine.Engine

	Adapter    *txcourts.Adapter
	Downloader *fetch.Manager
	Pacer      *ingest.Pacer
	Ingestor   *ingest.Coordinator
	Analyzer   *analysis.Driver
	Runner     *runner.Runner
	Backfiller *backfill.Backfiller

	Prompt string
}

// New initializes every provider the configuration selects. It fails fast:
// a provider that cannot be reached at startup is a startup error, not a
// mid-run surprise.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	l := logging.L
	l.Info("Initializing services")

	a := &App{Cfg: cfg, Logger: l}

	if err := a.initLedger(ctx); err != nil {
		return nil, err
	}
	if err := a.initStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initNotifier(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initEngine(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPipeline(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initLedger(ctx context.Context) error {
	switch a.Cfg.Ledger.Provider {
	case "postgres":
		a.Logger.Info("Connecting to PostgreSQL ledger")
		store, err := ledgerpg.New(ctx, a.Cfg.Ledger.DSN)
		if err != nil {
			return fmt.Errorf("initialize ledger: %w", err)
		}
		a.Ledger = store
	case "memory":
		a.Logger.Info("Using in-memory ledger; records will not survive the process")
		a.Ledger = ledgermem.New(nil)
	default:
		return fmt.Errorf("unknown ledger provider %q", a.Cfg.Ledger.Provider)
	}
	return nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.Cfg.Artifacts.Provider {
	case "local":
		a.Logger.Info("Using local artifact store", zap.String("dir", a.Cfg.Artifacts.BaseDir))
		store, err := artifacts.NewLocal(a.Cfg.Artifacts.BaseDir)
		if err != nil {
			return fmt.Errorf("initialize artifact store: %w", err)
		}
		a.Store = store
	case "gcs":
		a.Logger.Info("Using GCS artifact store", zap.String("bucket", a.Cfg.Artifacts.GCSBucket))
		store, err := artifacts.NewGCS(ctx, a.Cfg.Artifacts.GCSBucket, "")
		if err != nil {
			return fmt.Errorf("initialize artifact store: %w", err)
		}
		a.Store = store
	case "memory":
		a.Store = artifacts.NewMemory()
	default:
		return fmt.Errorf("unknown artifacts provider %q", a.Cfg.Artifacts.Provider)
	}
	return nil
}

func (a *App) initNotifier(ctx context.Context) error {
	switch a.Cfg.Notifier.Provider {
	case "pubsub":
		a.Logger.Info("Using Pub/Sub notifier",
			zap.String("project", a.Cfg.Notifier.ProjectID),
			zap.String("topic", a.Cfg.Notifier.TopicID),
		)
		n, err := notify.NewPubSub(ctx, a.Cfg.Notifier.ProjectID, a.Cfg.Notifier.TopicID, a.Logger)
		if err != nil {
			return fmt.Errorf("initialize notifier: %w", err)
		}
		a.Notifier = n
	case "noop", "":
		a.Notifier = notify.Noop{}
	default:
		return fmt.Errorf("unknown notifier provider %q", a.Cfg.Notifier.Provider)
	}
	return nil
}

func (a *App) initEngine() error {
	switch a.Cfg.Engine.Provider {
	case "anthropic":
		a.Engine = anthropic.New(anthropic.Config{
			APIKey:     a.Cfg.Engine.APIKey,
			Model:      a.Cfg.Engine.Model,
			MaxTokens:  a.Cfg.Engine.MaxTokens,
			Timeout:    secondsToDuration(a.Cfg.Engine.TimeoutSeconds),
			MaxRetries: a.Cfg.Engine.MaxRetries,
			BaseDelay:  secondsToDuration(a.Cfg.Engine.BaseDelaySeconds),
		}, a.Logger)
	case "noop", "":
		a.Engine = engine.Noop{}
	default:
		return fmt.Errorf("unknown engine provider %q", a.Cfg.Engine.Provider)
	}

	a.Prompt = defaultPrompt
	if a.Cfg.Engine.PromptFile != "" {
		raw, err := os.ReadFile(a.Cfg.Engine.PromptFile)
		if err == nil && strings.TrimSpace(string(raw)) != "" {
			a.Prompt = string(raw)
		} else if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("read prompt file: %w", err)
		}
	}
	return nil
}

func (a *App) initPipeline() error {
	adapter, err := txcourts.New(txcourts.Config{
		BaseURL:   a.Cfg.Sources.BaseURL,
		UserAgent: a.Cfg.Sources.UserAgent,
		Timeout:   a.Cfg.RequestTimeout(),
		Retry: pipeline.RetryPolicy{
			MaxAttempts: a.Cfg.HTTP.MaxRetries,
			BaseDelay:   a.Cfg.BaseRetryDelay(),
		},
	}, a.renderer(), a.Logger)
	if err != nil {
		return fmt.Errorf("initialize source adapter: %w", err)
	}
	a.Adapter = adapter

	a.Downloader = fetch.NewManager(
		&http.Client{Timeout: a.Cfg.RequestTimeout()},
		a.Store,
		pipeline.RetryPolicy{
			MaxAttempts: a.Cfg.HTTP.MaxRetries,
			BaseDelay:   a.Cfg.BaseRetryDelay(),
		},
		a.Cfg.Sources.UserAgent,
		a.Logger,
	)

	a.Pacer = ingest.NewPacer(a.Cfg.DocumentDelay())
	a.Ingestor = ingest.New(a.Ledger, a.Adapter, a.Downloader, a.Pacer,
		a.Cfg.SourceDelay(), nil, a.Logger)
	a.Analyzer = analysis.New(a.Ledger, a.Store, a.Engine, a.Prompt,
		secondsToDuration(a.Cfg.Analysis.DelaySeconds), nil, a.Logger)
	a.Runner = runner.New(a.Ledger, a.Ingestor, a.Analyzer, a.Notifier, nil, a.Logger)
	a.Backfiller = backfill.New(a.Ledger, a.Adapter, a.Pacer, a.Logger)
	return nil
}

func (a *App) renderer() txcourts.Renderer {
	if !a.Cfg.Sources.HeadlessFallback {
		return nil
	}
	return txcourts.NewChromedpRenderer(a.Cfg.Sources.UserAgent, a.Cfg.RequestTimeout())
}

// Close releases every held resource. Safe to call on a partially
// initialized App.
func (a *App) Close() {
	if a.Notifier != nil {
		if err := a.Notifier.Close(); err != nil {
			a.Logger.Warn("Notifier close failed", zap.Error(err))
		}
	}
	if closer, ok := a.Store.(interface{ Close() error }); ok && closer != nil {
		if err := closer.Close(); err != nil {
			a.Logger.Warn("Artifact store close failed", zap.Error(err))
		}
	}
	if a.Ledger != nil {
		a.Ledger.Close()
	}
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

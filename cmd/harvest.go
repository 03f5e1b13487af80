package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docuflow/harvester/internal/api"
	"github.com/docuflow/harvester/internal/artifact/gcs"
	"github.com/docuflow/harvester/internal/artifact/local"
	"github.com/docuflow/harvester/internal/clock/system"
	"github.com/docuflow/harvester/internal/config"
	"github.com/docuflow/harvester/internal/extract/selector"
	"github.com/docuflow/harvester/internal/fetch/browser"
	"github.com/docuflow/harvester/internal/fetch/direct"
	"github.com/docuflow/harvester/internal/harvest"
	"github.com/docuflow/harvester/internal/logging"
	"github.com/docuflow/harvester/internal/metrics"
	pubsubpub "github.com/docuflow/harvester/internal/publisher/pubsub"
	"github.com/docuflow/harvester/internal/queue/memory"
	trackfile "github.com/docuflow/harvester/internal/tracking/file"
	trackpg "github.com/docuflow/harvester/internal/tracking/postgres"
)

// newHarvestCmd creates and configures the 'run' subcommand.
func newHarvestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Starts a harvest over the configured seeds",
		Long: `Crawls every configured seed listing page, discovers document links on
the detail pages behind it, and downloads each document through the fetch
strategy chain. The run resumes from the tracking ledger: documents already
acquired in a previous run are skipped without network activity.`,

		RunE: runHarvestCommand,
	}
	return cmd
}

func runHarvestCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Server.Enabled {
		shutdown := startStatusServer(cfg, engine, logger)
		defer shutdown()
	}

	seeds := make([]harvest.Seed, 0, len(cfg.Seeds))
	for _, s := range cfg.Seeds {
		seeds = append(seeds, harvest.Seed{URL: s.URL, Category: s.Category})
	}
	if len(seeds) == 0 {
		return errors.New("at least one seed must be configured")
	}

	summary, err := engine.Run(ctx, seeds)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run harvest: %w", err)
	}

	// Per-document failures are reported in the summary, not the exit code.
	logger.Info("harvest command finished",
		zap.String("run_id", summary.RunID),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	return nil
}

func buildEngine(ctx context.Context, cfg config.Config, logger *zap.Logger) (*harvest.Engine, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*harvest.Engine, func(), error) {
		cleanup()
		return nil, nil, err
	}

	clk := system.Clock{}

	artifacts, err := local.New(cfg.Output.Dir)
	if err != nil {
		return fail(fmt.Errorf("init artifact store: %w", err))
	}

	tracking, err := buildTrackingStore(ctx, cfg, artifacts, clk, &closers)
	if err != nil {
		return fail(err)
	}

	strategies, err := buildStrategies(cfg, &closers)
	if err != nil {
		return fail(err)
	}

	mirror, err := buildMirror(ctx, cfg, &closers)
	if err != nil {
		return fail(err)
	}

	publisher, err := buildPublisher(ctx, cfg, &closers)
	if err != nil {
		return fail(err)
	}

	backoff := harvest.BackoffPolicy{
		Rounds: cfg.Retry.Rounds,
		Base:   cfg.BackoffBase(),
		Cap:    cfg.BackoffCap(),
	}
	validator := harvest.Validator{MinBytes: int(cfg.Output.MinArtifactBytes)}

	orch, err := harvest.NewOrchestrator(
		strategies,
		tracking,
		artifacts,
		mirror,
		publisher,
		validator,
		backoff,
		clk,
		harvest.OrchestratorConfig{
			AttemptTimeout: cfg.AttemptTimeout(),
			PublishTopic:   cfg.PubSub.TopicName,
		},
		logger,
	)
	if err != nil {
		return fail(fmt.Errorf("init orchestrator: %w", err))
	}

	extractor, err := selector.New(cfg.Selectors, nil, cfg.Fetch.UserAgent)
	if err != nil {
		return fail(fmt.Errorf("init extractor: %w", err))
	}

	queue := memory.NewQueue(64)
	frontier, err := harvest.NewFrontier(extractor, queue, backoff, harvest.FrontierConfig{
		MaxPages: cfg.Frontier.MaxPages,
		MaxDepth: cfg.Frontier.MaxDepth,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("init frontier: %w", err))
	}

	engine := harvest.NewEngine(frontier, orch, tracking, queue, clk, harvest.EngineConfig{
		Concurrency: cfg.Engine.Concurrency,
		Delay:       cfg.Delay(),
		Jitter:      cfg.Jitter(),
	}, logger)

	return engine, cleanup, nil
}

func buildTrackingStore(
	ctx context.Context,
	cfg config.Config,
	artifacts harvest.ArtifactStore,
	clk harvest.Clock,
	closers *[]func(),
) (harvest.TrackingStore, error) {
	switch cfg.Tracking.Backend {
	case "file":
		store, err := trackfile.New(cfg.TrackingDir(), artifacts, cfg.Output.MinArtifactBytes, clk)
		if err != nil {
			return nil, fmt.Errorf("init tracking store: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := trackpg.New(ctx, trackpg.Config{
			DSN:   cfg.Tracking.DSN,
			Table: cfg.Tracking.Table,
		}, artifacts, cfg.Output.MinArtifactBytes, clk)
		if err != nil {
			return nil, fmt.Errorf("init tracking store: %w", err)
		}
		*closers = append(*closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown tracking backend %q", cfg.Tracking.Backend)
	}
}

// buildStrategies assembles the fetch chain in escalation-cost order: the
// native browser download first (most faithful to a human visitor), the
// plain HTTP client last (cheapest but most easily fingerprinted).
func buildStrategies(cfg config.Config, closers *[]func()) ([]harvest.Strategy, error) {
	var strategies []harvest.Strategy

	if cfg.Fetch.BrowserEnabled {
		provider, err := browser.NewProvider(browser.Config{
			MaxParallel:   cfg.Browser.MaxParallel,
			UserAgent:     cfg.Fetch.UserAgent,
			NavTimeout:    cfg.NavTimeout(),
			RefererSettle: cfg.RefererSettle(),
		})
		if err != nil {
			return nil, fmt.Errorf("init browser provider: %w", err)
		}
		*closers = append(*closers, provider.Close)
		strategies = append(strategies,
			browser.NewDownloadStrategy(provider),
			browser.NewScriptedStrategy(provider),
			browser.NewInterceptStrategy(provider),
		)
	}
	if cfg.Fetch.DirectEnabled {
		strategies = append(strategies, direct.New(direct.Config{
			UserAgent: cfg.Fetch.UserAgent,
		}))
	}
	if len(strategies) == 0 {
		return nil, errors.New("no fetch strategies enabled")
	}
	return strategies, nil
}

func buildMirror(ctx context.Context, cfg config.Config, closers *[]func()) (harvest.Mirror, error) {
	if cfg.Mirror.GCSBucket == "" {
		return nil, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("init gcs client: %w", err)
	}
	*closers = append(*closers, func() { _ = client.Close() })
	mirror, err := gcs.New(client, gcs.Config{
		Bucket: cfg.Mirror.GCSBucket,
		Prefix: cfg.Mirror.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("init gcs mirror: %w", err)
	}
	return mirror, nil
}

func buildPublisher(ctx context.Context, cfg config.Config, closers *[]func()) (harvest.Publisher, error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return nil, nil
	}
	publisher, err := pubsubpub.New(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init publisher: %w", err)
	}
	*closers = append(*closers, func() { _ = publisher.Close() })
	return publisher, nil
}

func startStatusServer(cfg config.Config, engine *harvest.Engine, logger *zap.Logger) func() {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(engine, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", zap.Error(err))
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", zap.Error(err))
		}
	}
}

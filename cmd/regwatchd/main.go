// Regwatchd is a regulatory compliance monitoring daemon.
//
// It watches a regulator's publication feed for new circulars, compares
// each one against company policy using retrieval plus an LLM verdict,
// maintains a rolling compliance score, and pushes alerts over a webhook
// and websocket clients.
//
// Usage:
//
//	# Start with defaults
//	regwatchd
//
//	# Load a config file, override via environment
//	regwatchd -config config.yaml
//	REGWATCH_SERVER_PORT=9090 regwatchd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/regwatchd/internal/advisor"
	"github.com/fyrsmithlabs/regwatchd/internal/api"
	"github.com/fyrsmithlabs/regwatchd/internal/bus"
	"github.com/fyrsmithlabs/regwatchd/internal/chunk"
	"github.com/fyrsmithlabs/regwatchd/internal/config"
	"github.com/fyrsmithlabs/regwatchd/internal/embeddings"
	"github.com/fyrsmithlabs/regwatchd/internal/extract"
	"github.com/fyrsmithlabs/regwatchd/internal/llm"
	"github.com/fyrsmithlabs/regwatchd/internal/logging"
	"github.com/fyrsmithlabs/regwatchd/internal/notify"
	"github.com/fyrsmithlabs/regwatchd/internal/pipeline"
	"github.com/fyrsmithlabs/regwatchd/internal/sched"
	"github.com/fyrsmithlabs/regwatchd/internal/store"
	"github.com/fyrsmithlabs/regwatchd/internal/vectorstore"
	"github.com/fyrsmithlabs/regwatchd/internal/ws"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
			fmt.Fprintf(os.Stderr, "Usage:\n")
			fmt.Fprintf(os.Stderr, "  regwatchd          Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  regwatchd version  Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("regwatchd: %v", err)
	}
	log.Println("shutdown complete")
}

func printVersion() {
	fmt.Printf("regwatchd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run initializes every dependency, wires the pipeline, and blocks until
// the context is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	api.Version = version

	logger.Info("starting regwatchd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Provider))

	// Relational store plus seed policies.
	st, err := store.New(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer func() {
		_ = st.Close()
	}()
	if err := store.EnsureSeedPolicies(ctx, st); err != nil {
		return fmt.Errorf("seeding policies: %w", err)
	}

	// Event bus.
	b, err := bus.Connect(cfg.Bus, logger)
	if err != nil {
		return fmt.Errorf("connecting event bus: %w", err)
	}
	defer b.Close()
	logger.Info("connected to event bus", zap.String("url", cfg.Bus.URL))

	// Embedding service shared by both vector collections.
	embedSvc, err := embeddings.NewService(cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("initializing embeddings: %w", err)
	}
	logger.Info("embedding service initialized",
		zap.String("base_url", cfg.Embeddings.BaseURL),
		zap.String("model", cfg.Embeddings.Model))

	docVectors, err := vectorstore.NewService(cfg.VectorDB.URL, cfg.VectorDB.DocumentsCollection, embedSvc.Embedder())
	if err != nil {
		return fmt.Errorf("initializing document vector store: %w", err)
	}
	policyVectors, err := vectorstore.NewService(cfg.VectorDB.URL, cfg.VectorDB.PoliciesCollection, embedSvc.Embedder())
	if err != nil {
		return fmt.Errorf("initializing policy vector store: %w", err)
	}
	logger.Info("vector store initialized",
		zap.String("url", cfg.VectorDB.URL),
		zap.String("documents", cfg.VectorDB.DocumentsCollection),
		zap.String("policies", cfg.VectorDB.PoliciesCollection))

	// LLM client backs both impact analysis and the advisor.
	llmClient, err := llm.NewClient(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("initializing llm client: %w", err)
	}
	analyzer := llm.NewAnalyzer(llmClient, logger)

	extractor, err := extract.NewClient(cfg.Extractor, logger)
	if err != nil {
		return fmt.Errorf("initializing extractor: %w", err)
	}

	notifier := notify.NewWebhook(cfg.Webhook, logger)

	// Pipeline stages.
	httpClient := &http.Client{Timeout: 30 * time.Second}
	feed := pipeline.NewFeedSource(cfg.Watch.FeedURL, httpClient)
	scraper := pipeline.NewScrapeSource(cfg.Watch.ScrapeURL, httpClient, logger)
	watcher := pipeline.NewWatcher(feed, scraper, st, b, notifier, cfg.Watch, logger)

	chunkOpts := chunk.Options{
		Window:      cfg.Chunking.Window,
		Overlap:     cfg.Chunking.Overlap,
		SnapBackoff: cfg.Chunking.SnapBackoff,
	}
	comparer := pipeline.NewComparer(st, b, extractor, docVectors, analyzer, notifier, chunkOpts, logger)
	if err := comparer.Start(); err != nil {
		return fmt.Errorf("starting comparer: %w", err)
	}

	scorer := pipeline.NewScorer(st, b, notifier, logger)
	if err := scorer.Start(); err != nil {
		return fmt.Errorf("starting scorer: %w", err)
	}

	anomalies := pipeline.NewAnomalyMonitor(st, b, notifier, cfg.Anomaly,
		rand.New(rand.NewSource(time.Now().UnixNano())), logger)

	adv := advisor.New(docVectors, policyVectors, llmClient, logger)

	// Websocket fan-out.
	hub := ws.NewHub(logger)
	if err := hub.AttachBus(b); err != nil {
		return fmt.Errorf("attaching websocket hub: %w", err)
	}

	srv, err := api.NewServer(st, watcher, adv, extractor, hub, cfg.Server, logger)
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	// Scheduled score recompute, independent of pipeline events.
	scheduler := sched.New(logger)
	if cfg.Watch.DailyRecalc != "" {
		err := scheduler.Add(sched.Job{
			Name: "daily-score-recalc",
			Spec: cfg.Watch.DailyRecalc,
			Run: func(ctx context.Context) error {
				return scorer.Recalculate(ctx, "scheduled daily recalculation")
			},
		})
		if err != nil {
			return fmt.Errorf("scheduling daily recalc: %w", err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		return anomalies.Run(gctx)
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("regwatchd ready",
		zap.String("health", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("metrics", "/metrics"),
		zap.String("websocket", "/ws"))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

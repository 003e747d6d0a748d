package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/semreview/internal/api"
	"github.com/semreview/internal/config"
	"github.com/semreview/internal/database"
	"github.com/semreview/internal/embedding"
	"github.com/semreview/internal/feedback"
	"github.com/semreview/internal/generation"
	"github.com/semreview/internal/jobqueue"
	"github.com/semreview/internal/ledger"
	"github.com/semreview/internal/logging"
	"github.com/semreview/internal/pipeline"
	"github.com/semreview/internal/store"
	"github.com/semreview/internal/vectorstore"
)

// modelCosts maps known model names to their approximate USD cost per 1K
// tokens, used for budget accounting. Unknown models fall back to the
// default rate.
var modelCosts = map[string]float64{
	"gpt-4o":      0.0075,
	"gpt-4o-mini": 0.00045,
	"gpt-4.1":     0.006,
}

const defaultModelCost = 0.005

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the review cache API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if port := c.Int("port"); port > 0 {
				cfg.Server.Port = port
			}

			logging.Setup(cfg.Logging.Level, cfg.Logging.Pretty)

			return runServer(c.Context, cfg)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db, cfg.Cache.EmbeddingDimension); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	st := store.NewPostgresStore(db)
	vectors := vectorstore.NewPostgresStore(db)

	embedder, err := embedding.NewProvider(embedding.Options{
		Provider:          cfg.Embedding.Provider,
		APIKey:            cfg.Embedding.APIKey,
		Model:             cfg.Embedding.Model,
		Dimension:         cfg.Cache.EmbeddingDimension,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
	})
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}

	backends := make([]generation.Backend, 0, len(cfg.Generation.Models))
	for _, model := range cfg.Generation.Models {
		cost, ok := modelCosts[model]
		if !ok {
			cost = defaultModelCost
		}
		backend, err := generation.NewOpenAIBackend(model, cfg.Generation.APIKey, cost)
		if err != nil {
			return fmt.Errorf("failed to create backend for %s: %w", model, err)
		}
		backends = append(backends, backend)
	}

	led := ledger.NewPostgresLedger(db, ledger.Budgets{
		DailyUSD:   cfg.Generation.DailyBudgetUSD,
		MonthlyUSD: cfg.Generation.MonthlyBudgetUSD,
	})

	router := generation.NewRouter(backends, led, generation.Options{
		ModelTimeout:         time.Duration(cfg.Generation.ModelTimeoutMs) * time.Millisecond,
		OrgConcurrencyCap:    cfg.Generation.OrgConcurrencyCap,
		QueueDepthMultiplier: cfg.Generation.QueueDepthMultiplier,
	})

	p := pipeline.New(st, vectors, embedder, router, led, pipeline.Options{
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		CoalesceWaitTimeout: time.Duration(cfg.Cache.CoalesceWaitTimeoutMs) * time.Millisecond,
	})

	learner := feedback.NewLearner(vectors, 0)
	defer learner.Close()

	queue, err := jobqueue.NewJobQueue(pool, vectors)
	if err != nil {
		return fmt.Errorf("failed to create job queue: %w", err)
	}
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		queue.Stop(stopCtx)
	}()
	p.SetDurableQueue(queue)

	fmt.Printf("Starting API server on port %d...\n", cfg.Server.Port)
	server := api.NewServer(cfg.Server.Port, cfg.Server.JWTSecret, p, st, learner, led)
	server.SetDurableQueue(queue)
	return server.Start()
}

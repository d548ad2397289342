package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/everkeep-ai/everkeep/internal/api/handlers"
	"github.com/everkeep-ai/everkeep/internal/config"
	"github.com/everkeep-ai/everkeep/internal/database"
	"github.com/everkeep-ai/everkeep/internal/embedding"
	"github.com/everkeep-ai/everkeep/internal/jobs"
	"github.com/everkeep-ai/everkeep/internal/repository"
	"github.com/everkeep-ai/everkeep/internal/server"
	"github.com/everkeep-ai/everkeep/internal/service"
	"github.com/everkeep-ai/everkeep/internal/telemetry"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the everkeep API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.SentryDSN != "" {
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.SentryEnv,
			TracesSampleRate: cfg.SentrySampleRate,
			Debug:            cfg.Debug,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	entryRepo := repository.NewEntryRepository(pool)
	searchRepo := repository.NewSearchRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	gateway := buildGateway(cfg)
	if gateway.Available() {
		log.Printf("embedding gateway ready (%d dimensions)", gateway.Dimensions())
	} else {
		log.Println("no embedding provider configured; semantic search disabled")
	}

	knowledgeSvc := service.NewKnowledgeServiceWithConfig(entryRepo, txRunner, gateway, service.KnowledgeConfig{
		ChunkThreshold: cfg.ChunkThreshold,
		Chunk: service.ChunkConfig{
			MaxChars: cfg.ChunkMaxChars,
			Overlap:  cfg.ChunkOverlap,
		},
	})
	searchSvc := service.NewSearchServiceWithConfig(searchRepo, gateway, service.SearchConfig{
		RRFK:     cfg.SearchRRFK,
		Limit:    cfg.SearchLimit,
		LimitCap: cfg.SearchLimitCap,
	})

	var backfillWorker *jobs.Worker
	var stopWorker context.CancelFunc
	if gateway.Available() {
		processor := jobs.NewBackfillWorker(entryRepo, gateway, cfg.BackfillBatchSize)
		backfillWorker = jobs.NewWorker(processor, cfg.BackfillInterval)

		var workerCtx context.Context
		workerCtx, stopWorker = context.WithCancel(ctx)
		defer stopWorker()
		go backfillWorker.Run(workerCtx)
		log.Println("embedding backfill worker started")
	}

	router := server.NewRouter(server.RouterConfig{
		KnowledgeHandler: handlers.NewKnowledgeHandler(knowledgeSvc),
		SearchHandler:    handlers.NewSearchHandler(searchSvc),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	if backfillWorker != nil {
		stopWorker()
		<-backfillWorker.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// buildGateway assembles the ordered provider chain: primary OpenAI endpoint
// first, then the optional OpenAI-compatible fallback.
func buildGateway(cfg *config.Config) *embedding.Gateway {
	var providers []embedding.Provider
	if cfg.HasOpenAI() {
		providers = append(providers, embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			Name:       "openai",
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIModel,
			Dimensions: cfg.EmbeddingDimensions,
		}))
	}
	if cfg.HasFallback() {
		providers = append(providers, embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			Name:       "fallback",
			APIKey:     cfg.FallbackAPIKey,
			BaseURL:    cfg.FallbackBaseURL,
			Model:      cfg.FallbackModel,
			Dimensions: cfg.EmbeddingDimensions,
		}))
	}

	return embedding.NewGateway(providers, embedding.GatewayConfig{
		Dimensions: cfg.EmbeddingDimensions,
		MaxChars:   cfg.EmbeddingMaxChars,
		Timeout:    cfg.EmbeddingTimeout,
	})
}

func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}

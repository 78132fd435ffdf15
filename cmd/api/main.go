package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"claimsapi/internal/config"
	"claimsapi/internal/database"
	"claimsapi/internal/database/migration"
	"claimsapi/internal/docproc"
	handlers "claimsapi/internal/http/handler"
	"claimsapi/internal/http/middleware"
	"claimsapi/internal/index"
	"claimsapi/internal/llm"
	"claimsapi/internal/otel"
	"claimsapi/internal/pdftext"
	"claimsapi/internal/repository/postgres"
	"claimsapi/internal/service"
	"claimsapi/internal/storage"
)

func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx := context.Background()

	shutdownTracing, err := otel.Init(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	// PostgreSQL connection (pooled via database/sql) plus schema migration
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, cfg.Database.Host); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// S3-compatible object storage for archiving the raw uploads
	archive, err := storage.NewMinIO(cfg.MinIO)
	if err != nil {
		log.Fatalf("failed to initialize object storage: %v", err)
	}

	// Redis Stack vector index for similarity search
	sink, err := index.NewRedisSink(cfg.Redis, logger)
	if err != nil {
		log.Fatalf("failed to initialize document index: %v", err)
	}

	// Completion client with bounded retries on rate limiting
	gemini, err := llm.NewGeminiClient(cfg.Gemini, logger)
	if err != nil {
		log.Fatalf("failed to initialize model client: %v", err)
	}
	completer := llm.NewRetryingClient(gemini, cfg.Gemini.MaxAttempts, cfg.Gemini.RetryBaseDelay, logger)

	claimRepo := postgres.NewClaimPostgres(db)
	claimSvc := service.NewClaimService(
		completer,
		docproc.NewPromptBuilder(cfg.Gemini.PromptTextLimit),
		pdftext.NewPDFExtractor(),
		sink,
		index.HashEmbedder,
		archive,
		claimRepo,
		service.Options{
			MaxFileBytes:    cfg.Upload.MaxFileBytes,
			MaxConcurrency:  cfg.Upload.MaxConcurrency,
			VectorDimension: cfg.Redis.VectorDimension,
		},
		logger,
	)

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
		BodyLimit:    int(cfg.Upload.MaxFileBytes) * 8,
	})

	app.Use(middleware.RequestID())
	app.Use(middleware.Logger())
	app.Use(otelfiber.Middleware())

	promMiddleware, err := middleware.NewPrometheusMiddleware(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}
	app.Use(promMiddleware.Handler())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	handlers.RegisterRoutes(app, db, sink, claimSvc, cfg.Gemini.APIKey != "")

	addr := ":" + cfg.Port

	if err := app.Listen(addr); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

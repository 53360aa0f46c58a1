package main

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"lexsign/internal/config"
	"lexsign/internal/database"
	"lexsign/internal/database/migration"
	"lexsign/internal/email"
	"lexsign/internal/guest"
	handlers "lexsign/internal/http/handler"
	"lexsign/internal/http/middleware"
	"lexsign/internal/otel"
	"lexsign/internal/repository/postgres"
	"lexsign/internal/service"
	"lexsign/internal/signing"
	"lexsign/internal/storage"
	"lexsign/internal/upload"
)

func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	ctx := context.Background()
	loc := time.UTC

	// Initialize OpenTelemetry tracing (no-op when OTEL_SDK_DISABLED=true)
	shutdownTracing, err := otel.Init(ctx, loc)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	// Initialize PostgreSQL connection (with pooling via database/sql)
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, loc, cfg.Database.Host); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// Initialize reusable S3-compatible object storage client (MinIO-supported)
	objStore, err := storage.NewMinIO(cfg.MinIO)
	if err != nil {
		log.Fatalf("failed to initialize object storage: %v", err)
	}

	// Redis backs guest tokens, OTPs and signing sessions; expiry is
	// enforced by key TTLs, so no janitor is needed there.
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("failed to parse redis url: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	// Initialize repositories and services
	chainRepo := postgres.NewChainPostgres(db)
	signSessions := signing.NewSessionStore(rdb, cfg.Signing.SigningSessionTTL)
	uploads := upload.NewManager(objStore, cfg.Signing.UploadSessionTTL)
	docSvc := service.NewDocumentService(objStore, chainRepo, signSessions, uploads,
		cfg.Signing.DownloadLinkTTL, cfg.Signing.MaxSignAttempts)

	mailer := email.NewSMTPSender(cfg.SMTP)
	gateway := guest.NewGateway(rdb, cfg.Signing.GuestTokenTTL, cfg.Signing.OTPTTL)
	guestSvc := service.NewGuestService(gateway, docSvc, mailer, cfg.SMTP.NotifyAddr)

	// Upload sessions live in process memory; sweep expired ones so
	// their multipart uploads get aborted on the storage side too.
	go func() {
		ticker := time.NewTicker(cfg.Signing.UploadSessionTTL)
		defer ticker.Stop()
		for range ticker.C {
			if n := uploads.Sweep(context.Background()); n > 0 {
				log.Printf("swept %d expired upload sessions", n)
			}
		}
	}()

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
	})

	// Register global middleware
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.Logger())
	app.Use(otelfiber.Middleware())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMW, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		log.Fatalf("failed to register prometheus metrics: %v", err)
	}
	app.Use(promMW.Handler())
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Register HTTP routes with injected services
	handlers.RegisterRoutes(app, db, docSvc, guestSvc, uploads)

	addr := ":" + cfg.Port

	if err := app.Listen(addr); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

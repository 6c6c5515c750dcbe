package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pantrykeep/mealimages/internal/adapters/cache"
	"github.com/pantrykeep/mealimages/internal/adapters/database"
	"github.com/pantrykeep/mealimages/internal/adapters/generationrepository"
	"github.com/pantrykeep/mealimages/internal/adapters/imagecompressor"
	"github.com/pantrykeep/mealimages/internal/adapters/imagegenerator"
	"github.com/pantrykeep/mealimages/internal/adapters/objectstore"
	"github.com/pantrykeep/mealimages/internal/app"
	"github.com/pantrykeep/mealimages/internal/config"
	"github.com/pantrykeep/mealimages/internal/logging"
	"github.com/pantrykeep/mealimages/internal/ports"
	"github.com/pantrykeep/mealimages/internal/ratelimiting"
	"github.com/pantrykeep/mealimages/internal/reporting"
	"github.com/pantrykeep/mealimages/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	// Distroless images ship without a CA bundle
	_ "golang.org/x/crypto/x509roots/fallback"
)

const PROD_DOMAIN_SUFFIX = "pantrykeep.app"
const STAGING_DOMAIN_SUFFIX = "pantrykeep-web.pages.dev"

const DEV_OBJECTS_PATH = "/dev/objects/"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instanceID := uuid.New().String()
	baseLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		baseLogger.Error(msg, args...)
		os.Exit(1)
	}

	conf, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}

	logger := baseLogger
	if !conf.IsDevelopment() {
		logger = slog.New(
			logging.NewTraceLogHandler(slog.NewJSONHandler(os.Stdout, nil), conf.GoogleCloudProject()),
		).With("instanceID", instanceID)
	}
	logger.Info("Loaded config", "config", conf.NonSensitiveString())

	if !conf.IsDevelopment() {
		shutdownOTel, err := telemetry.SetupOTelSDK(ctx, "mealimages")
		if err != nil {
			fail("Failed to initialize OpenTelemetry", "error", err.Error())
		}
		defer func() {
			err := shutdownOTel(context.Background())
			if err != nil {
				logger.Error("Failed to shut down OpenTelemetry", "error", err.Error())
			}
		}()
		logger.Info("Initialized OpenTelemetry")
	}

	sentryMiddleware, flush, err := reporting.NewSentryMiddlewareOrMock(conf)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry middleware")

	// Per-request timeouts are set by each adapter
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	generationLimiter := ratelimiting.NewWindowLimiter(
		conf.GenerationLimit(),
		conf.GenerationLimitWindow(),
		time.Now,
		time.After,
	)
	imageGenerator, err := imagegenerator.NewImageGeneratorFromConfig(conf, httpClient, generationLimiter)
	if err != nil {
		fail("Failed to initialize image generator", "error", err.Error())
	}
	logger.Info("Initialized image generator", "backend", conf.GeneratorBackend())

	devPublicURL := fmt.Sprintf("http://localhost:%s%s", conf.Port(), DEV_OBJECTS_PATH)
	store, devObjectsHandler, err := objectstore.NewObjectStoreOrMemory(conf, httpClient, devPublicURL)
	if err != nil {
		fail("Failed to initialize object store", "error", err.Error())
	}
	logger.Info("Initialized object store", "bucket", conf.StorageBucket())

	compressor := imagecompressor.NewCompressor(
		httpClient,
		conf.ScratchDir(),
		conf.ImageMaxDimension(),
		conf.ImageJPEGQuality(),
		conf.NetworkTimeout(),
	)

	logger.Info("Initializing database connection")
	db, err := database.NewCloudsqlPostgresDatabase(ctx, conf)
	if err != nil {
		fail("Failed to initialize database connection", "error", err.Error())
	}
	defer db.Close()
	logger.Info("Initialized database connection")

	repositorySchemaName := database.GetSchemaName(!conf.IsProduction())

	err = database.NewDatabaseMigrator(db, logger.With("component", "migrator")).Migrate(ctx, repositorySchemaName)
	if err != nil {
		fail("Failed to migrate database", "error", err.Error())
	}

	generationRepo := generationrepository.NewPostgres(db, repositorySchemaName)
	logger.Info("Initialized GenerationRepository")

	mealImageCache := cache.NewMealImageCache()

	generateMealImage := app.BuildGenerateMealImage(imageGenerator)

	persistMealImage, err := app.BuildPersistMealImage(
		compressor,
		store,
		conf.UploadAttempts(),
		conf.UploadBackoffBase(),
		conf.NetworkTimeout(),
		time.After,
	)
	if err != nil {
		fail("Failed to initialize PersistMealImage", "error", err.Error())
	}

	getMealImage, err := app.BuildGetMealImage(
		mealImageCache,
		store,
		generateMealImage,
		persistMealImage,
		generationRepo,
		conf.FailureCooldown(),
		conf.NetworkTimeout(),
		time.Now,
	)
	if err != nil {
		fail("Failed to initialize GetMealImage", "error", err.Error())
	}

	getMealImages := app.BuildGetMealImages(getMealImage, conf.BatchConcurrency())

	allowedOrigins, err := ports.NewDomainSuffixes(PROD_DOMAIN_SUFFIX, STAGING_DOMAIN_SUFFIX)
	if err != nil {
		fail("Failed to initialize allowed origins", "error", err.Error())
	}

	mux := http.NewServeMux()

	mux.HandleFunc(
		"OPTIONS /v1/meal-image",
		ports.BuildCORSHandler(allowedOrigins),
	)
	mux.HandleFunc(
		"GET /v1/meal-image",
		ports.MakeGetMealImageHandler(
			getMealImage,
			allowedOrigins,
			logger.With("port", "mealimage"),
			sentryMiddleware,
		),
	)

	mux.HandleFunc(
		"OPTIONS /v1/meal-images",
		ports.BuildCORSHandler(allowedOrigins),
	)
	mux.HandleFunc(
		"POST /v1/meal-images",
		ports.MakeGetMealImagesHandler(
			getMealImages,
			allowedOrigins,
			logger.With("port", "mealimages"),
			sentryMiddleware,
		),
	)

	mealImageCacheHandler := ports.MakeMealImageCacheHandler(
		mealImageCache,
		conf.AdminToken(),
		logger.With("port", "debugmealimagecache"),
		sentryMiddleware,
	)
	mux.HandleFunc("GET /v1/debug/meal-image-cache", mealImageCacheHandler)
	mux.HandleFunc("DELETE /v1/debug/meal-image-cache", mealImageCacheHandler)

	mux.HandleFunc(
		"GET /v1/debug/generations",
		ports.MakeGetGenerationsHandler(
			generationRepo,
			conf.AdminToken(),
			logger.With("port", "debuggenerations"),
			sentryMiddleware,
		),
	)

	if devObjectsHandler != nil {
		mux.Handle("GET "+DEV_OBJECTS_PATH, devObjectsHandler)
		logger.Info("Serving in-memory objects", "url", devPublicURL)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", conf.Port()),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		fail("Failed to listen", "error", err.Error(), "addr", server.Addr)
	}

	logger.Info("Init complete")
	err = ports.Serve(ctx, server, listener, 10*time.Second, logger)
	if err != nil {
		// Return instead of exiting so the deferred flush and close still run
		logger.Error("Server error", "error", err.Error())
	}
}

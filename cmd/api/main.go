package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/karigari/api/internal/handlers"
	"github.com/karigari/api/internal/mail"
	"github.com/karigari/api/internal/payments"
	"github.com/karigari/api/internal/platform/auth"
	"github.com/karigari/api/internal/platform/config"
	pfirestore "github.com/karigari/api/internal/platform/firestore"
	"github.com/karigari/api/internal/platform/idempotency"
	"github.com/karigari/api/internal/platform/jobs"
	"github.com/karigari/api/internal/platform/observability"
	"github.com/karigari/api/internal/platform/secrets"
	platformstorage "github.com/karigari/api/internal/platform/storage"
	firestoreRepo "github.com/karigari/api/internal/repositories/firestore"
	"github.com/karigari/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
	)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		UserTTL:  cfg.Auth.UserTokenTTL,
		AdminTTL: cfg.Auth.AdminTokenTTL,
	})
	if err != nil {
		logger.Fatal("failed to initialise token issuer", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(tokenIssuer)

	mailer := newMailer(logger, cfg.Mail)

	razorpayProvider, err := payments.NewRazorpayProvider(payments.RazorpayProviderConfig{
		KeyID:     cfg.Payments.RazorpayKeyID,
		KeySecret: cfg.Payments.RazorpayKeySecret,
		Logger:    paymentsEventLogger(logger.Named("payments")),
	})
	if err != nil {
		logger.Fatal("failed to initialise razorpay provider", zap.Error(err))
	}
	paymentManager, err := payments.NewManager(map[string]payments.Provider{
		"razorpay": razorpayProvider,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}
	signatureVerifier := payments.NewSignatureVerifier(cfg.Payments.RazorpayKeySecret)

	orderEvents, pubsubClient := newOrderEventPublisher(ctx, logger, cfg.Events)
	if pubsubClient != nil {
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	var uploadSigner services.UploadURLSigner
	if client := newSignedURLClient(logger, cfg.Storage); client != nil {
		uploadSigner = client
	}

	userService, err := services.NewUserService(services.UserServiceDeps{
		Users:  registry.Users(),
		Admins: registry.Admins(),
		Tokens: tokenIssuer,
		Mailer: mailer,
		Logger: serviceEventLogger(logger.Named("users")),
	})
	if err != nil {
		logger.Fatal("failed to initialise user service", zap.Error(err))
	}

	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:    registry.Products(),
		Storage:     uploadSigner,
		AssetBucket: cfg.Storage.ProductImagesBucket,
		Logger:      serviceEventLogger(logger.Named("catalog")),
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     registry.Orders(),
		Products:   registry.Products(),
		Users:      registry.Users(),
		Gateway:    paymentManager,
		Signatures: signatureVerifier,
		Mailer:     mailer,
		Events:     orderEvents,
		Currency:   cfg.Payments.Currency,
		Logger:     serviceEventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	systemService, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: registry.Health(),
		Build:            buildInfo,
	})
	if err != nil {
		logger.Fatal("failed to initialise system service", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		idempotencyMiddleware,
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(systemService)),
		handlers.WithProductRoutes(handlers.NewCatalogHandlers(catalogService).Routes),
		handlers.WithAuthRoutes(handlers.NewAuthHandlers(userService).Routes),
		handlers.WithMeRoutes(handlers.NewMeHandlers(authenticator, userService).Routes),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(authenticator, orderService).Routes),
		handlers.WithAdminRoutes(handlers.NewAdminHandlers(authenticator, userService, catalogService).Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("karigari api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.ToLower(strings.TrimSpace(env["API_ENVIRONMENT"]))
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// newMailer returns nil when SMTP is not configured; services log and skip
// delivery in that case instead of failing requests.
func newMailer(logger *zap.Logger, cfg config.MailConfig) mail.Mailer {
	if strings.TrimSpace(cfg.SMTPHost) == "" || strings.TrimSpace(cfg.FromAddress) == "" {
		logger.Warn("mail: SMTP not configured; transactional email disabled")
		return nil
	}
	mailer, err := mail.NewSMTPMailer(mail.SMTPMailerConfig{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Username:    cfg.SMTPUsername,
		Password:    cfg.SMTPPassword,
		FromAddress: cfg.FromAddress,
		FromName:    cfg.FromName,
		Logger:      serviceEventLogger(logger.Named("mail")),
	})
	if err != nil {
		logger.Warn("mail: mailer init failed; transactional email disabled", zap.Error(err))
		return nil
	}
	return mailer
}

func newOrderEventPublisher(ctx context.Context, logger *zap.Logger, cfg config.EventsConfig) (services.OrderEventPublisher, *pubsub.Client) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	topicID := strings.TrimSpace(cfg.OrderEventsTopic)
	if projectID == "" || topicID == "" {
		logger.Warn("events: pub/sub not configured; order events disabled")
		return nil, nil
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		logger.Warn("events: pub/sub client init failed; order events disabled", zap.Error(err))
		return nil, nil
	}
	publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(topicID))
	if err != nil {
		logger.Warn("events: publisher init failed; order events disabled", zap.Error(err))
		_ = client.Close()
		return nil, nil
	}
	return publisher, client
}

// newSignedURLClient returns nil when no signer key is configured; image
// upload endpoints then answer with storage unavailable.
func newSignedURLClient(logger *zap.Logger, cfg config.StorageConfig) *platformstorage.Client {
	keyFile := strings.TrimSpace(cfg.SignerKeyFile)
	if keyFile == "" {
		logger.Warn("storage: signer key not configured; image uploads disabled")
		return nil
	}
	signer, err := platformstorage.NewServiceAccountSignerFromFile(keyFile)
	if err != nil {
		logger.Warn("storage: signer init failed; image uploads disabled", zap.Error(err))
		return nil
	}
	client, err := platformstorage.NewClient(signer)
	if err != nil {
		logger.Warn("storage: signed url client init failed; image uploads disabled", zap.Error(err))
		return nil
	}
	return client
}

func serviceEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Info(event, zFields...)
	}
}

func paymentsEventLogger(logger *zap.Logger) payments.RazorpayLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug(event, zFields...)
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"tiktok-shop-finance-layer/internal/application"
	"tiktok-shop-finance-layer/internal/domain"
	"tiktok-shop-finance-layer/internal/infrastructure/encryption"
	"tiktok-shop-finance-layer/internal/infrastructure/lock"
	"tiktok-shop-finance-layer/internal/infrastructure/metrics"
	"tiktok-shop-finance-layer/internal/infrastructure/pubsub"
	"tiktok-shop-finance-layer/internal/infrastructure/repository"
	"tiktok-shop-finance-layer/internal/infrastructure/tiktok"
	"tiktok-shop-finance-layer/internal/ports"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("⚠️  Warning: .env file not found")
	}

	// Get configuration from environment
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		mongoURI = "mongodb://localhost:27017"
	}

	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		frontendURL = "http://localhost:5173"
	}

	cronSecret := os.Getenv("CRON_SECRET")
	if cronSecret == "" {
		logger.Fatal().Msg("CRON_SECRET environment variable is required")
	}

	cfg := tiktok.ConfigFromEnv()
	if cfg.AppKey == "" || cfg.AppSecret == "" {
		logger.Fatal().Msg("TIKTOK_APP_KEY and TIKTOK_APP_SECRET environment variables are required")
	}

	// Connect to MongoDB
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(mongoURI))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer client.Disconnect(context.Background())

	db := client.Database(os.Getenv("MONGODB_DATABASE"))

	// Get encryption key
	encryptionKey := os.Getenv("ENCRYPTION_KEY")
	if encryptionKey == "" {
		logger.Fatal().Msg("ENCRYPTION_KEY environment variable is required")
	}

	// Initialize infrastructure (implementations)
	encryptionService, err := encryption.NewService(encryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}

	// Initialize repositories
	connRepo := repository.NewMongoConnectionRepository(db, encryptionService)
	txRepo := repository.NewMongoTransactionRepository(db)
	if err := connRepo.EnsureIndexes(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create connection indexes")
	}
	if err := txRepo.EnsureIndexes(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create transaction indexes")
	}

	// Initialize metrics
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// Sync lock: redis when configured, in-process otherwise
	var locker ports.SyncLocker
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		locker = lock.NewRedisSyncLocker(redis.NewClient(&redis.Options{Addr: addr}))
	} else {
		logger.Warn().Msg("REDIS_ADDR not set, sync locks are in-process only")
		locker = lock.NewLocalSyncLocker()
	}

	// Initialize platform client and token manager
	platformClient := tiktok.NewClient(cfg, m, logger)
	tokenManager := tiktok.NewTokenManager(platformClient, connRepo, m, logger)

	// Initialize sync pub/sub for progress subscribers
	syncPubSub := pubsub.NewSyncPubSub(logger)

	// Initialize application services
	authService := application.NewAuthService(
		platformClient,
		connRepo,
		cfg.AppKey,
		cfg.AuthorizeURL,
		logger,
	)

	syncService := application.NewSyncService(
		tokenManager,
		platformClient,
		connRepo,
		txRepo,
		locker,
		syncPubSub,
		m,
		tiktok.DefaultRetryConfig(),
		cfg.TypeFieldOrder,
		logger,
	)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{frontendURL},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	// Health check - must be public for monitoring
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"), // The URL pointing to API definition
	))
	r.Get("/swagger/doc.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		http.ServeFile(w, r, "./docs/swagger.json")
	})

	// OAuth routes
	r.Get("/auth/tiktok", authInitHandler(authService, logger))
	r.Get("/auth/tiktok/callback", authCallbackHandler(authService, frontendURL, logger))

	// Sync routes
	r.Post("/connections/{id}/sync", manualSyncHandler(syncService, logger))
	r.Post("/sync/trigger", syncTriggerHandler(syncService, cronSecret, logger))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logger.Info().Str("port", port).Msg("Starting API server")
	logger.Info().Msg("Swagger documentation available at http://localhost:" + port + "/swagger/index.html")
	if err := http.ListenAndServe(":"+port, r); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}
}

// authInitHandler redirects the user to the platform's authorization page.
func authInitHandler(authService *application.AuthService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id parameter is required", http.StatusBadRequest)
			return
		}

		authURL, err := authService.BuildAuthURL(userID)
		if err != nil {
			logger.Error().Err(err).Str("user_id", userID).Msg("Failed to build authorization URL")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// authCallbackHandler completes the OAuth exchange. The user only ever sees
// a generic error marker on the redirect; platform error detail stays in the
// server logs.
func authCallbackHandler(authService *application.AuthService, frontendURL string, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")

		result, err := authService.HandleCallback(r.Context(), code, state)
		if err != nil {
			logger.Error().Err(err).Msg("OAuth callback failed")
			http.Redirect(w, r, frontendURL+"?tiktok_oauth=error", http.StatusFound)
			return
		}

		redirectURL := frontendURL + "?tiktok_oauth=success&shops=" + url.QueryEscape(strconv.Itoa(len(result.Linked)))
		if result.PendingShops {
			redirectURL += "&pending_shops=1"
		}

		logger.Info().
			Str("user_id", result.UserID).
			Int("shops", len(result.Linked)).
			Msg("Redirecting to frontend after successful OAuth")

		http.Redirect(w, r, redirectURL, http.StatusFound)
	}
}

type manualSyncRequest struct {
	WindowStart int64 `json:"window_start"`
	WindowEnd   int64 `json:"window_end"`
	PageCap     int   `json:"page_cap"`
}

// manualSyncHandler runs one sync for a connection on demand. Window bounds
// are unix seconds; an empty body syncs the default lookback window.
func manualSyncHandler(syncService *application.SyncService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connectionID := chi.URLParam(r, "id")
		if connectionID == "" {
			http.Error(w, "connection id is required", http.StatusBadRequest)
			return
		}

		var req manualSyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		now := time.Now()
		windowStart := now.Add(-30 * 24 * time.Hour)
		windowEnd := now
		if req.WindowStart > 0 {
			windowStart = time.Unix(req.WindowStart, 0)
		}
		if req.WindowEnd > 0 {
			windowEnd = time.Unix(req.WindowEnd, 0)
		}

		result, err := syncService.SyncStatementTransactions(r.Context(), connectionID, windowStart, windowEnd, req.PageCap)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrSyncInProgress):
				writeJSONError(w, http.StatusConflict, "sync_in_progress")
			case domain.IsAuthExpired(err):
				// The one failure the user can fix themselves.
				writeJSONError(w, http.StatusUnauthorized, "reconnect_required")
			default:
				logger.Error().Err(err).Str("connection_id", connectionID).Msg("Manual sync failed")
				writeJSONError(w, http.StatusBadGateway, "sync_failed")
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

// syncTriggerHandler is the scheduled sweep entry point, guarded by a shared
// secret in the query string.
func syncTriggerHandler(syncService *application.SyncService, cronSecret string, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("secret") != cronSecret {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		sweep, err := syncService.SweepAll(r.Context())
		if err != nil {
			logger.Error().Err(err).Msg("Sync sweep failed")
			writeJSONError(w, http.StatusInternalServerError, "sweep_failed")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sweep)
	}
}

func writeJSONError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code})
}

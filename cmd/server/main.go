package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/HammerMeetNail/globenis/internal/config"
	"github.com/HammerMeetNail/globenis/internal/database"
	"github.com/HammerMeetNail/globenis/internal/handlers"
	"github.com/HammerMeetNail/globenis/internal/jobs"
	"github.com/HammerMeetNail/globenis/internal/logging"
	"github.com/HammerMeetNail/globenis/internal/metrics"
	"github.com/HammerMeetNail/globenis/internal/middleware"
	"github.com/HammerMeetNail/globenis/internal/services"
	"github.com/HammerMeetNail/globenis/internal/services/ai"
)

func main() {
	if err := run(); err != nil {
		logging.Error("Application error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	logger := logging.New()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cfg.Server.Debug {
		logger.SetLevel(logging.LevelDebug)
		logging.SetDefaultLevel(logging.LevelDebug)
		logger.Debug("Debug logging enabled", map[string]interface{}{"env": cfg.Server.Environment})
	}

	logger.Info("Starting Globenis server...")

	// Connect to PostgreSQL
	logger.Info("Connecting to PostgreSQL", map[string]interface{}{
		"host": cfg.Database.Host,
		"port": cfg.Database.Port,
	})
	db, err := database.NewPostgresDB(cfg.Database.DSN(), database.PoolOptions{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	logger.Info("Running database migrations...")
	migrator, err := database.NewMigrator(cfg.Database.DSN(), "migrations")
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return fmt.Errorf("running migrations: %w", err)
	}
	_ = migrator.Close()
	logger.Info("Migrations completed")

	// Connect to Redis
	logger.Info("Connecting to Redis", map[string]interface{}{"addr": cfg.Redis.Addr()})
	redisDB, err := database.NewRedisDB(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() { _ = redisDB.Close() }()
	logger.Info("Connected to Redis")

	// Initialize services
	dbAdapter := services.NewPoolAdapter(db.Pool)
	redisAdapter := services.NewRedisAdapter(redisDB.Client)
	notifier := services.NewRedisNotifier(redisAdapter)

	userService := services.NewUserService(dbAdapter)
	userService.SetNotifier(notifier)
	authService := services.NewAuthService(dbAdapter, redisAdapter, userService, cfg.Session.TTL)
	authService.SetEmailService(services.NewEmailService(&cfg.Email), cfg.Email.BaseURL)
	friendService := services.NewFriendService(dbAdapter, notifier)
	matchService := services.NewMatchService(dbAdapter, notifier)
	chatService := services.NewChatService(dbAdapter, notifier)
	providerAuthService := services.NewProviderAuthService(dbAdapter, userService)

	var store services.ObjectStore
	if cfg.Storage.Enabled() {
		s3Store, err := services.NewS3Store(context.Background(), cfg.Storage)
		if err != nil {
			return fmt.Errorf("initializing photo storage: %w", err)
		}
		store = s3Store
		logger.Info("Photo storage enabled", map[string]interface{}{"bucket": cfg.Storage.Bucket})
	} else {
		logger.Warn("Photo storage not configured; uploads are disabled")
	}
	photoService := services.NewPhotoService(store, cfg.Storage.MaxUploadBytes)

	oauthProviders := map[services.Provider]services.OAuthProvider{}
	if cfg.OAuth.Google.Enabled {
		googleProvider, err := services.NewGoogleProvider(context.Background(), cfg.OAuth.Google)
		if err != nil {
			return fmt.Errorf("initializing google oidc provider: %w", err)
		}
		oauthProviders[services.ProviderGoogle] = googleProvider
	}

	var assistant services.AssistantServiceInterface
	if a, err := ai.NewAssistant(context.Background(), cfg.AI); err != nil {
		logger.Warn("Assistant disabled", map[string]interface{}{"error": err.Error()})
	} else {
		assistant = a
	}

	// Background jobs
	scheduler, err := jobs.NewScheduler(logger, cfg.Jobs.CleanupInterval, authService)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	scheduler.Start()

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(authService, userService)
	requestLogger := middleware.NewRequestLogger(logger)
	assistantLimiter := middleware.NewRateLimiter(redisDB.Client, resolveAIRateLimit(cfg, logger, os.LookupEnv), time.Hour, "ratelimit:assistant:", middleware.UserKey, false)
	authLimiter := middleware.NewRateLimiter(redisDB.Client, resolveAuthRateLimit(logger, os.LookupEnv), 15*time.Minute, "ratelimit:auth:", middleware.IPKey, true)

	mux := newRouter(routeHandlers{
		health:       handlers.NewHealthHandler(db, redisDB),
		auth:         handlers.NewAuthHandler(authService, cfg.Server.Secure),
		providerAuth: handlers.NewProviderAuthHandler(providerAuthService, authService, redisAdapter, oauthProviders, cfg.Server.Secure),
		profile:      handlers.NewProfileHandler(userService, photoService, cfg.Storage.MaxUploadBytes),
		match:        handlers.NewMatchHandler(matchService),
		friend:       handlers.NewFriendHandler(friendService),
		chat:         handlers.NewChatHandler(chatService),
		assistant:    handlers.NewAssistantHandler(assistant),
		metrics:      metrics.Handler(),
	}, authMiddleware.RequireSession, authLimiter.Middleware, assistantLimiter.Middleware)
	requestLogger.SetRoutes(mux)

	// Build middleware chain (order matters: outermost first)
	var handler http.Handler = mux
	handler = authMiddleware.Authenticate(handler)
	handler = requestLogger.Apply(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// No ReadTimeout or WriteTimeout: the stream endpoints hold their
		// connections open and manage deadlines per frame.
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("Server is shutting down...")

		if err := scheduler.Shutdown(); err != nil {
			logger.Warn("Scheduler shutdown failed", map[string]interface{}{"error": err.Error()})
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		server.SetKeepAlivesEnabled(false)
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Could not gracefully shutdown the server", map[string]interface{}{
				"error": err.Error(),
			})
		}
		close(done)
	}()

	logger.Info("Server listening", map[string]interface{}{"addr": addr})
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	logger.Info("Server stopped")
	return nil
}

type routeHandlers struct {
	health       *handlers.HealthHandler
	auth         *handlers.AuthHandler
	providerAuth *handlers.ProviderAuthHandler
	profile      *handlers.ProfileHandler
	match        *handlers.MatchHandler
	friend       *handlers.FriendHandler
	chat         *handlers.ChatHandler
	assistant    *handlers.AssistantHandler
	metrics      http.Handler
}

type wrapper func(http.Handler) http.Handler

func newRouter(h routeHandlers, requireSession, limitAuth, limitAssistant wrapper) *http.ServeMux {
	authed := func(fn http.HandlerFunc) http.Handler {
		return requireSession(fn)
	}
	limited := func(fn http.HandlerFunc) http.Handler {
		return limitAuth(fn)
	}

	mux := http.NewServeMux()

	// Health endpoints (no auth, no rate limit)
	mux.HandleFunc("GET /health", h.health.Health)
	mux.HandleFunc("GET /ready", h.health.Ready)
	mux.HandleFunc("GET /live", h.health.Live)
	mux.Handle("GET /metrics", h.metrics)

	// Auth endpoints
	mux.Handle("POST /api/auth/register", limited(h.auth.Register))
	mux.Handle("POST /api/auth/login", limited(h.auth.Login))
	mux.HandleFunc("POST /api/auth/logout", h.auth.Logout)
	mux.Handle("GET /api/auth/me", authed(h.auth.Me))
	mux.Handle("POST /api/auth/password", authed(h.auth.ChangePassword))
	mux.Handle("POST /api/auth/forgot-password", limited(h.auth.ForgotPassword))
	mux.Handle("POST /api/auth/reset-password", limited(h.auth.ResetPassword))
	mux.Handle("GET /api/auth/{provider}/start", limited(h.providerAuth.ProviderStart))
	mux.HandleFunc("GET /api/auth/{provider}/callback", h.providerAuth.ProviderCallback)

	// Profile endpoints
	mux.Handle("GET /api/profile", authed(h.profile.Get))
	mux.Handle("GET /api/profile/stream", authed(h.profile.Stream))
	mux.Handle("PUT /api/profile", authed(h.profile.Update))
	mux.Handle("POST /api/profile/photo", authed(h.profile.UploadPhoto))
	mux.Handle("GET /api/users/{id}", authed(h.profile.GetUser))

	mux.Handle("POST /api/matches", authed(h.match.Record))

	// Friend endpoints
	mux.Handle("GET /api/friends", authed(h.friend.List))
	mux.Handle("GET /api/friends/stream", authed(h.friend.StreamFriends))
	mux.Handle("DELETE /api/friends/{id}", authed(h.friend.Remove))
	mux.Handle("POST /api/friends/requests", authed(h.friend.SendRequest))
	mux.Handle("GET /api/friends/requests", authed(h.friend.ListIncoming))
	mux.Handle("GET /api/friends/requests/outgoing", authed(h.friend.ListOutgoing))
	mux.Handle("GET /api/friends/requests/stream", authed(h.friend.StreamIncoming))
	mux.Handle("PUT /api/friends/requests/{id}/accept", authed(h.friend.AcceptRequest))
	mux.Handle("PUT /api/friends/requests/{id}/reject", authed(h.friend.RejectRequest))
	mux.Handle("DELETE /api/friends/requests/{id}/cancel", authed(h.friend.CancelRequest))

	// Chat endpoints
	mux.Handle("GET /api/chats", authed(h.chat.ListThreads))
	mux.Handle("GET /api/chats/{friendId}/messages", authed(h.chat.ListMessages))
	mux.Handle("POST /api/chats/{friendId}/messages", authed(h.chat.Send))
	mux.Handle("GET /api/chats/{friendId}/stream", authed(h.chat.Stream))

	// The limiter keys on the user, so it runs after the session check.
	mux.Handle("POST /api/assistant", requireSession(limitAssistant(http.HandlerFunc(h.assistant.Ask))))

	return mux
}

func resolveAIRateLimit(cfg *config.Config, logger *logging.Logger, lookupEnv func(string) (string, bool)) int64 {
	aiRateLimit := int64(10)
	if cfg.Server.Environment == "development" {
		aiRateLimit = 100
		logger.Info("Using development AI rate limit", map[string]interface{}{"limit": aiRateLimit})
	}
	if v, ok := lookupEnv("AI_RATE_LIMIT"); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			aiRateLimit = parsed
			logger.Info("Using AI rate limit from env", map[string]interface{}{"limit": aiRateLimit})
		} else {
			logger.Warn("Invalid AI_RATE_LIMIT; using default", map[string]interface{}{
				"value": v,
				"limit": aiRateLimit,
			})
		}
	}
	return aiRateLimit
}

// resolveAuthRateLimit is the per-IP budget for credential endpoints in a
// fifteen minute window.
func resolveAuthRateLimit(logger *logging.Logger, lookupEnv func(string) (string, bool)) int64 {
	limit := int64(20)
	if v, ok := lookupEnv("AUTH_RATE_LIMIT"); ok && v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed <= 0 {
			logger.Warn("Invalid AUTH_RATE_LIMIT; using default", map[string]interface{}{
				"value": v,
				"limit": limit,
			})
		} else {
			limit = parsed
			logger.Info("Using auth rate limit from env", map[string]interface{}{"limit": limit})
		}
	}
	return limit
}

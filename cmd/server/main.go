package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/hy2panel/subpanel-backend/internal/config"
	"github.com/hy2panel/subpanel-backend/internal/database"
	"github.com/hy2panel/subpanel-backend/internal/handlers"
	"github.com/hy2panel/subpanel-backend/internal/hy2stats"
	"github.com/hy2panel/subpanel-backend/internal/routes"
	"github.com/hy2panel/subpanel-backend/internal/services"
	"github.com/hy2panel/subpanel-backend/internal/store"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()

	// Connect to PostgreSQL
	log.Printf("Connecting to PostgreSQL...")
	if err := database.ConnectPostgres(cfg.PostgresURI); err != nil {
		log.Fatal("Failed to connect to PostgreSQL:", err)
	}
	defer database.DisconnectPostgres()

	// Connect to Redis
	log.Printf("Connecting to Redis...")
	if err := database.ConnectRedis(cfg.RedisURI); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer database.DisconnectRedis()

	// Stores and services
	userStore := store.NewPostgresUserStore(database.PostgresDB)
	tokenStore := store.NewPostgresTokenStore(database.PostgresDB)
	usageStore := store.NewPostgresUsageStore(database.PostgresDB)
	sessionStore := store.NewRedisSessionStore(database.RedisClient)

	tokenService := services.NewTokenService(tokenStore, cfg)
	userService := services.NewUserService(userStore, sessionStore, tokenService, cfg)
	subService := services.NewSubscriptionService(tokenService, userStore, cfg)
	gateway := services.NewAuthGateway(userStore, tokenStore, cfg.LegacySharedSecret)

	statsClient := hy2stats.NewClient(cfg.StatsURL, cfg.StatsSecret, hy2stats.DefaultTimeout)
	trafficSync := services.NewTrafficSync(userStore, usageStore, statsClient, cfg.SyncInterval, cfg.SyncClear)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bootstrap the default admin. Postgres may still be warming up behind a
	// container orchestrator, so retry a few times before giving up.
	if cfg.InitAdmin {
		initDefaultAdmin(rootCtx, userService)
	}

	if cfg.SyncEnabled {
		trafficSync.Start(rootCtx)
		defer trafficSync.Stop()
	} else {
		log.Println("⚠️ Traffic sync disabled")
	}

	// Setup router
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Token", "X-Sub-Admin-Key", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.New(cfg, userService, tokenService, subService, usageStore, trafficSync, gateway)
	routes.SetupRoutes(r, h)

	server := &http.Server{
		Addr:              cfg.Host + ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("🚀 Subscription backend running on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-rootCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Server shutdown: %v", err)
	}
}

func initDefaultAdmin(ctx context.Context, users *services.UserService) {
	const attempts = 5
	for attempt := 1; attempt <= attempts; attempt++ {
		created, _, err := users.InitDefaultAdmin(ctx)
		if err == nil {
			if !created {
				log.Println("✅ Default admin account present")
			}
			return
		}
		log.Printf("⚠️ Admin bootstrap attempt %d/%d failed: %v", attempt, attempts, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * 3 * time.Second):
		}
	}
	log.Println("⚠️ Giving up on admin bootstrap; create the admin account manually")
}

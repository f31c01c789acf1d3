package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/xtrntr/memestream/internal/api"
	"github.com/xtrntr/memestream/internal/auth"
	"github.com/xtrntr/memestream/internal/broadcast"
	"github.com/xtrntr/memestream/internal/chain"
	"github.com/xtrntr/memestream/internal/config"
	"github.com/xtrntr/memestream/internal/db"
	"github.com/xtrntr/memestream/internal/logger"
	"github.com/xtrntr/memestream/internal/platform"
)

// chartCacheTTL bounds chart staleness when no Redis relay invalidates across instances
const chartCacheTTL = 30 * time.Second

// Main entry point: sets up database, chain oracle, services and HTTP server
func main() {
	envFile := flag.String("envFile", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("No .env file found at %s, using environment variables", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	lg := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context, cfg config.Config, lg zerolog.Logger) error {
	// Initialize database connection
	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close(context.Background())

	if err := database.Migrate(ctx); err != nil {
		return err
	}

	// Chain oracle and verifier
	oracle, err := chain.DialEthOracle(ctx, cfg.RPCURL, cfg.OracleRPS, lg)
	if err != nil {
		return err
	}
	defer oracle.Close()

	verifier := chain.NewVerifier(oracle,
		chain.WithFreshnessWindow(cfg.FreshnessWindow),
		chain.WithOracleTimeout(cfg.OracleTimeout),
		chain.WithLogger(lg),
	)

	authService := auth.NewAuthService(database, cfg.JWTSecret,
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithLogger(lg),
	)

	// Broadcast: local websocket hub, optionally fed through Redis
	hub := broadcast.NewHub(lg)
	var publisher broadcast.Publisher = hub
	var relay *broadcast.Relay
	if cfg.RedisURL != "" {
		client, err := broadcast.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()

		publisher = broadcast.NewRedisPublisher(client, broadcast.DefaultChannel)
		relay = broadcast.NewRelay(client, broadcast.DefaultChannel, hub, lg)
	}

	svc := platform.NewService(database, authService, verifier, publisher,
		platform.WithChartBucket(cfg.ChartBucket),
		platform.WithChartTTL(chartCacheTTL),
		platform.WithLogger(lg),
	)

	if relay != nil {
		// every instance drops its cached chart when any instance records a trade
		relay.Handle(broadcast.EventNewTrade, func(ctx context.Context, data json.RawMessage) {
			if err := svc.ApplyTradeEvent(ctx, data); err != nil {
				lg.Warn().Err(err).Msg("Failed to apply relayed trade")
			}
		})
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error().Err(err).Msg("Redis relay stopped")
			}
		}()
	}
	handler := api.NewHandler(svc, lg)

	// Set up HTTP router
	r := chi.NewRouter()

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ws", hub.ServeHTTP)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Mount("/api/v1", handler.Routes(api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info().Str("addr", srv.Addr).Msg("Starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	lg.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

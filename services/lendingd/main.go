package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MELD-labs/evm-defi-public-sub006/config"
	"github.com/MELD-labs/evm-defi-public-sub006/native/lending"
	"github.com/MELD-labs/evm-defi-public-sub006/observability/logging"
	"github.com/MELD-labs/evm-defi-public-sub006/services/lendingd/server"
	"github.com/MELD-labs/evm-defi-public-sub006/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "lendingd.toml", "path to lendingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	env := strings.TrimSpace(os.Getenv("LENDING_ENV"))
	logger := logging.Setup("lendingd", env, logging.Options{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
	})

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	engine, err := buildEngine(cfg, db)
	if err != nil {
		logger.Error("build engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	auth, err := buildAuthenticator(env)
	if err != nil {
		logger.Error("configure auth", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv := server.New(server.Config{
		Engine:             engine,
		Logger:             logger,
		Auth:               auth,
		RateLimitPerMinute: envFloat("LENDING_RATE_LIMIT_PER_MIN", 600),
		Burst:              int(envFloat("LENDING_RATE_LIMIT_BURST", 20)),
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", slog.String("address", cfg.ListenAddress))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", slog.String("error", err.Error()))
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
}

// buildEngine wires the persistence layer, seeds the price feed from the
// configured listings and registers every reserve.
func buildEngine(cfg *config.Config, db storage.Database) (*lending.Engine, error) {
	store := storage.NewStore(db)
	oracle := lending.NewStaticPriceFeed()
	engine := lending.NewEngine(store, oracle, nil)
	for i := range cfg.Reserves {
		listing := &cfg.Reserves[i]
		price, err := listing.Price()
		if err != nil {
			return nil, err
		}
		oracle.SetPrice(listing.Asset, price)
		if err := engine.InitReserve(listing.Asset, listing.EngineConfig()); err != nil {
			return nil, fmt.Errorf("list reserve %s: %w", listing.Asset, err)
		}
	}
	return engine, nil
}

// buildAuthenticator parses LENDING_API_SECRETS ("key:secret,key2:secret2").
// Outside dev the variable is mandatory so mutating routes are never open.
func buildAuthenticator(env string) (*server.Authenticator, error) {
	raw := strings.TrimSpace(os.Getenv("LENDING_API_SECRETS"))
	if raw == "" {
		if strings.EqualFold(env, "dev") {
			return nil, nil
		}
		return nil, errors.New("LENDING_API_SECRETS is required outside the dev environment")
	}
	secrets := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, secret, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || strings.TrimSpace(key) == "" || strings.TrimSpace(secret) == "" {
			return nil, fmt.Errorf("malformed LENDING_API_SECRETS entry %q", pair)
		}
		secrets[key] = secret
	}
	return server.NewAuthenticator(secrets, 0, 0, nil), nil
}

func envFloat(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

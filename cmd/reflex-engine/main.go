package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"reflex-engine/internal/api/router"
	"reflex-engine/internal/cache"
	"reflex-engine/internal/pkg/config"
	"reflex-engine/internal/pkg/crypto"
	"reflex-engine/internal/pkg/database"
	"reflex-engine/internal/pkg/logger"
	"reflex-engine/internal/scheduler"
	"reflex-engine/internal/store"
)

var (
	configFile = flag.String("config", "", "config file path (e.g. -config=configs/config.yaml)")
	initDB     = flag.Bool("initdb", false, "create any missing database schema and exit")
	resetDB    = flag.Bool("reset-db", false, "drop and recreate the database schema, losing all data")
	version    = flag.Bool("version", false, "print version and exit")
)

const (
	appName    = "reflex-engine"
	appVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		fmt.Printf("cannot load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("cannot init logging: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Close()
	}()

	logger.Info(appName+" starting", zap.String("version", appVersion))

	if err := database.Init(&cfg.DB); err != nil {
		logger.Fatal("cannot init database", zap.Error(err))
	}
	defer func() {
		_ = database.Close()
	}()
	logger.Info("database connected",
		zap.String("host", fmt.Sprintf("%s:%d", cfg.DB.Host, cfg.DB.Port)),
		zap.String("database", cfg.DB.Database))

	keyring, err := crypto.NewKeyring(cfg.Crypto)
	if err != nil {
		logger.Fatal("cannot build keyring", zap.Error(err))
	}

	objCache := cache.New(&cfg.Cache)
	st := store.New(database.GetDB(), objCache, keyring)

	// first run creates any missing tables and seeds the master apikey
	masterKey, err := st.Initialize(*resetDB)
	if err != nil {
		logger.Fatal("cannot initialize schema", zap.Error(err))
	}
	if masterKey != "" {
		fmt.Printf("REFLEX_APIKEY=%s\n", masterKey)
	}
	if *initDB || *resetDB {
		logger.Info("schema initialized")
		return
	}

	stats := &scheduler.Stats{}
	sched, err := scheduler.New(cfg, st, stats)
	if err != nil {
		logger.Fatal("cannot build scheduler", zap.Error(err))
	}
	sched.Start()

	r := router.Setup(cfg, st, stats)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logger.Info(appName+" listening",
			zap.String("address", addr),
			zap.String("base", cfg.Server.RouteBase),
			zap.String("mode", cfg.Server.Mode),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
	logger.Info("stopped")
}

// getConfigPath resolves an explicit config file from the flag or the
// CONFIG_FILE variable. Empty means configure from REFLEX_ENGINE_CONFIG or
// defaults.
func getConfigPath() string {
	if *configFile != "" {
		return *configFile
	}
	return os.Getenv("CONFIG_FILE")
}

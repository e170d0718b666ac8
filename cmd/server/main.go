package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/poolsight"
	"github.com/MegaGrindStone/poolsight/internal/handlers"
	"github.com/MegaGrindStone/poolsight/internal/services"
	"github.com/MegaGrindStone/poolsight/internal/session"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal(fmt.Errorf("error loading .env file: %w", err))
	}

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "poolsight")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfg, err := loadConfig(filepath.Join(cfgPath, "config.yaml"))
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.slogLevel()}))

	analyzer, err := cfg.Analyzer.analyzer(logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating analyzer: %w", err))
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	images, imagesHandler, err := cfg.Images.allocator(initCtx, logger)
	initCancel()
	if err != nil {
		log.Fatal(fmt.Errorf("error creating image store: %w", err))
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(cfgPath, "store.db")
	}
	boltDB, err := services.NewBoltDB(dbPath)
	if err != nil {
		log.Fatal(fmt.Errorf("error opening store: %w", err))
	}
	defer boltDB.Close()

	// Profile syncing is optional: without a profile service the registry and the settings handlers keep
	// profiles for the session only.
	var (
		profileSync    session.ProfileService
		profileUpdater handlers.ProfileUpdater
	)
	if cfg.Profiles.URL != "" {
		webhook := services.NewWebhook(cfg.Profiles.URL, cfg.Profiles.Timeout, logger)
		profileSync = webhook
		profileUpdater = webhook
	}

	identify, err := cfg.Identity.provider(context.Background(), logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error configuring identity: %w", err))
	}

	registry := session.NewRegistry(boltDB, profileSync, logger)
	uploader := session.NewUploader(analyzer, images, logger)

	m, err := handlers.NewMain(registry, uploader, profileUpdater, identify, logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating handlers: %w", err))
	}

	// Serve static files
	staticFS, err := fs.Sub(poolsight.StaticFS, "static")
	if err != nil {
		log.Fatal(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("GET /{$}", m.HandleHome)
	mux.HandleFunc("/uploads", m.HandleUploads)
	mux.HandleFunc("POST /clear", m.HandleClear)
	mux.HandleFunc("POST /signout", m.HandleSignOut)
	mux.HandleFunc("POST /settings/pool", m.HandlePoolSettings)
	mux.HandleFunc("POST /settings/profile", m.HandleProfileSettings)
	mux.HandleFunc("/sse", m.HandleSSE)
	if imagesHandler != nil {
		mux.Handle("GET "+imagesPathPrefix+"{id}", imagesHandler)
	}

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}

func loadConfig(path string) (config, error) {
	cfgFile, err := os.Open(path)
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	cfg := config{}
	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

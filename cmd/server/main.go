package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shared-grid/backend/api/handlers"
	"github.com/shared-grid/backend/internal/config"
	"github.com/shared-grid/backend/internal/db"
	"github.com/shared-grid/backend/internal/logger"
	"github.com/shared-grid/backend/internal/repository"
	"github.com/shared-grid/backend/internal/table"
	"github.com/shared-grid/backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, envLoaded, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync()

	if !envLoaded {
		log.Debug("no .env file found, using environment variables")
	}

	// Initialize the edit journal
	var edits handlers.EditLister
	var recorder ws.EditRecorder
	if cfg.JournalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
		database, err := db.InitDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.CloseDB()

		repo := repository.NewEditRepository(database)
		edits = repo
		recorder = repo
	}

	store := table.NewStore(table.Config{Rows: cfg.GridRows, Cols: cfg.GridCols}, log.Named("store"))

	wsService := ws.NewService(store, recorder, ws.Config{
		SupportedTables: cfg.SupportedTables,
		MaxMessageSize:  cfg.MaxMessageSize,
		AllowedOrigins:  cfg.AllowedOrigins,
	}, log.Named("relay"))
	defer wsService.Close()

	gin.SetMode(gin.ReleaseMode)
	router := handlers.NewRouter(wsService, edits, log.Named("http"))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server",
			zap.String("port", cfg.Port),
			zap.Strings("tables", cfg.SupportedTables),
			zap.Bool("journal", cfg.JournalEnabled),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked WebSocket connections are not tracked by Shutdown
		wsService.Close()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

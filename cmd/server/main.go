package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collabwrite/internal/api"
	"collabwrite/internal/auth"
	"collabwrite/internal/config"
	"collabwrite/internal/db"
	"collabwrite/internal/logging"
	"collabwrite/internal/repository"
	"collabwrite/internal/services/collaboration"
	"collabwrite/internal/telemetry"

	"go.uber.org/zap"
)

const (
	serviceName    = "collabwrite"
	serviceVersion = "1.0.0"
)

/*
STARTUP AND SHUTDOWN

  config -> logger -> tracing -> database -> hub -> HTTP server

On SIGINT/SIGTERM the HTTP server stops accepting requests first, then the hub
closes every socket, then spans are flushed and the database is released.
*/

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "collabwrite: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting collabwrite", zap.String("addr", cfg.Addr()))

	shutdownTracing, err := telemetry.InitJaeger(telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Endpoint:       cfg.JaegerEndpoint,
		SampleRatio:    cfg.TraceSampleRatio,
	}, log)
	if err != nil {
		log.Warn("continuing without tracing", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	database, err := db.NewGorm(cfg, log)
	if err != nil {
		return err
	}
	defer database.Close()

	docRepo := repository.NewDocumentRepository(database.DB)
	userRepo := repository.NewUserRepository(database.DB)
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpiry)

	hub := collaboration.NewHub(docRepo, userRepo, tokens, log.Named("hub"), collaboration.OptionsFromConfig(cfg))
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	wsHandler := collaboration.NewWebSocketHandler(hub, cfg.ClientURL, log.Named("ws"))
	handler := api.NewHandler(docRepo, userRepo, tokens, hub, cfg.ClientURL, log.Named("api"))
	router := api.SetupRoutes(handler, wsHandler, api.RouteConfigFromConfig(cfg), log)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		stopHub()
		<-hubDone
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}

	// Hijacked websocket connections are not tracked by Shutdown
	stopHub()
	<-hubDone

	log.Info("shutdown complete")
	return nil
}

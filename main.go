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

	"github.com/isdelr/ender-console/internal/api"
	"github.com/isdelr/ender-console/internal/api/handlers"
	"github.com/isdelr/ender-console/internal/auth"
	"github.com/isdelr/ender-console/internal/authapi"
	"github.com/isdelr/ender-console/internal/config"
	"github.com/isdelr/ender-console/internal/database"
	"github.com/isdelr/ender-console/internal/logger"
	"github.com/isdelr/ender-console/internal/monitoring"
	"github.com/isdelr/ender-console/internal/panel"
	"github.com/isdelr/ender-console/internal/services"
	"github.com/isdelr/ender-console/internal/ui"
	"github.com/isdelr/ender-console/internal/websocket"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, cfg.IsProduction())

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Str("tz", cfg.DisplayTZ).Msg("Invalid display time zone")
	}

	// Set up database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database migrations")
	}

	// Upstream auth API. Requests carry no timeout of their own; panel close
	// and client disconnects cancel them.
	client, err := authapi.New(cfg.UpstreamURL, &http.Client{})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid upstream URL")
	}

	panelRenderer, err := panel.NewRenderer(loc)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load panel templates")
	}
	pages, err := ui.NewRenderer()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load page templates")
	}

	// Set up WebSocket Hub
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	hub := websocket.NewHub()
	go hub.Run(ctx)

	// Set up services
	eventService := services.NewEventService(db)
	registry := panel.NewRegistry(client, panel.RegistryOptions{
		RevealDelay:  cfg.RevealDelay,
		DismissDelay: cfg.DismissDelay,
		NoticeTTL:    cfg.NoticeTTL,
		Recorder:     eventService,
		OnChange:     handlers.PanelPublisher(hub, panelRenderer),
	})
	gate := auth.NewGate(client, auth.NewTokens(cfg.ConsoleSecret, cfg.TokenTTL), auth.GateOptions{
		LoginURL:      cfg.LoginURL,
		SessionCookie: cfg.SessionCookie,
		Secure:        cfg.IsProduction(),
		Panels:        registry,
		Recorder:      eventService,
	})

	// Set up and run the idle panel sweeper
	sweeper, err := monitoring.NewSweeper(registry, eventService, cfg.SweepCron, cfg.PanelIdleTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure panel sweeper")
	}
	go sweeper.Run()

	// Set up router
	router := api.NewRouter(api.Deps{
		Gate:           gate,
		Accounts:       client,
		Panels:         registry,
		PanelRenderer:  panelRenderer,
		Pages:          pages,
		Events:         eventService,
		Hub:            hub,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	// Set up server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.ServerPort).Str("upstream", cfg.UpstreamURL).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ListenAndServe failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	sweeper.Stop() // Stop the panel sweeper

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	stop()

	log.Info().Msg("Server exiting")
}

// Package main is the entry point for the Halcyon playback engine backend.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/halcyonmedia/halcyon-playback-backend/internal/engine"
	"github.com/halcyonmedia/halcyon-playback-backend/internal/infra/mpdmedia"
	"github.com/halcyonmedia/halcyon-playback-backend/internal/infra/sessionstore"
	"github.com/halcyonmedia/halcyon-playback-backend/internal/metrics"
	"github.com/halcyonmedia/halcyon-playback-backend/internal/transport/socketio"
	"github.com/halcyonmedia/halcyon-playback-backend/internal/version"
)

func main() {
	// Command line flags
	port := flag.String("port", "3001", "HTTP server port")
	mpdHost := flag.String("mpd-host", "localhost", "MPD host")
	mpdPort := flag.Int("mpd-port", 6600, "MPD port")
	mpdPassword := flag.String("mpd-password", "", "MPD password")
	loaded := flag.String("loaded-behavior", "pause", "State after open: play, pause or manual")
	minSpeed := flag.Float64("min-speed", 0.125, "Minimum supported speed ratio")
	maxSpeed := flag.Float64("max-speed", 8.0, "Maximum supported speed ratio")
	sessionDB := flag.String("session-db", sessionstore.DefaultDBPath, "Path to the resume-position database")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Print startup banner
	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Playback Engine Backend")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("port", *port).
		Str("mpd_host", *mpdHost).
		Int("mpd_port", *mpdPort).
		Str("loaded_behavior", *loaded).
		Bool("password_set", *mpdPassword != "").
		Msg("Configuration")

	cfg := engine.DefaultConfig()
	cfg.MinSpeedRatio = *minSpeed
	cfg.MaxSpeedRatio = *maxSpeed
	switch *loaded {
	case "play":
		cfg.LoadedBehavior = engine.LoadedPlay
	case "manual":
		cfg.LoadedBehavior = engine.LoadedManual
	case "pause":
		cfg.LoadedBehavior = engine.LoadedPause
	default:
		log.Fatal().Str("loaded_behavior", *loaded).Msg("Unknown loaded behavior")
	}

	// Create MPD container
	container := mpdmedia.New(*mpdHost, *mpdPort, *mpdPassword)
	if err := container.Connect(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MPD")
	}
	if err := container.Ping(); err != nil {
		log.Fatal().Err(err).Msg("MPD ping failed")
	}
	log.Info().Msg("MPD connection verified")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := container.StartWatcher(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start MPD watcher")
	}

	// Resume-position store
	store := sessionstore.New(*sessionDB)
	if err := store.Open(); err != nil {
		log.Fatal().Err(err).Msg("Failed to open session database")
	}
	defer store.Close()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(registry)

	// Playback engine: MPD acts as both container and renderer
	eng := engine.New(cfg, container, container, store, recorder)

	// Create Socket.io server
	socketServer, err := socketio.NewServer(eng)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Socket.io server")
	}
	defer socketServer.Close()

	socketServer.StartEngineWatcher(ctx)

	// Setup HTTP router
	router := chi.NewRouter()

	router.Handle("/socket.io/", socketServer)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := container.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","mpd":"disconnected"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","mpd":"connected"}`))
	})

	router.Get("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.GetInfo())
	})

	server := &http.Server{
		Addr:    ":" + *port,
		Handler: corsMiddleware(router),
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown failed")
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Engine shutdown failed")
	}
	container.CloseWatcher()
	log.Info().Msg("Bye")
}

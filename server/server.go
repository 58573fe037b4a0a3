package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"radiotiker/cache"
	"radiotiker/config"
	"radiotiker/core/audio"
	"radiotiker/core/events"
	"radiotiker/core/relay"
	"radiotiker/logger"
	"radiotiker/repository"
	"radiotiker/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Catalog repository.CatalogRepository
	Agents  repository.AgentRegistry
	Engine  *relay.Engine
	Encoder *audio.LiveEncoder
	Hub     *events.Hub
}

// NewHandler builds the full HTTP handler: routes at the root and again
// under /api, wrapped in logging and CORS.
func NewHandler(d Deps) http.Handler {
	api := NewAPIHandler(d.Catalog, d.Agents, d.Hub)
	relays := NewRelayHandler(d.Engine, d.Encoder)
	evts := NewEventsHandler(d.Hub)

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	registerRoutes(router.PathPrefix("/api").Subrouter(), api, relays, evts)
	registerRoutes(router, api, relays, evts)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return withCORS(withRequestLog(router))
}

func registerRoutes(r *mux.Router, api *APIHandler, relays *RelayHandler, evts *EventsHandler) {
	r.HandleFunc("/health", api.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/submit-scan", api.SubmitScanHandler).Methods(http.MethodPost)
	r.HandleFunc("/agent/announce", api.AnnounceHandler).Methods(http.MethodPost)
	r.HandleFunc("/agent/{user_id}/status", api.AgentStatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/library/{user_id}", api.LibraryHandler).Methods(http.MethodGet)
	r.HandleFunc("/library/{user_id}/clear", api.ClearLibraryHandler).Methods(http.MethodPost)
	r.Handle("/library/{user_id}/events", evts).Methods(http.MethodGet)
	r.HandleFunc("/relay/{user_id}/{track_id}", relays.ServeRelay).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/relay-transcode/{user_id}/{track_id}", relays.ServeTranscode).Methods(http.MethodGet, http.MethodHead)
}

func newProbeCache(cfg *config.Config) cache.ProbeCache {
	if cfg.ProbeCacheTTL <= 0 {
		return cache.NopProbeCache{}
	}
	if cfg.RedisEnabled {
		if err := cache.ConnectRedis(cfg); err != nil {
			logger.Warn("Redis unavailable, using in-process probe cache", logger.ErrorField(err))
		} else {
			logger.Info("Successfully connected to Redis")
			return cache.NewRedisProbeCache(cache.RedisClient, cfg.ProbeCacheTTL)
		}
	}
	return cache.NewMemoryProbeCache(cfg.ProbeCacheTTL)
}

// Start runs the relay until SIGINT or SIGTERM.
func Start(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	defer store.Close()

	probeCache := newProbeCache(cfg)
	defer cache.CloseRedis()

	catalog := repository.NewCatalogRepository(store, time.Now)
	agents := repository.NewAgentRegistry(store, cfg.AgentFreshness, time.Now)
	engine := relay.NewEngine(catalog, agents, relay.Options{
		ProbeTimeout:   cfg.ProbeTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		UserAgent:      cfg.RelayUserAgent,
		PlayableTypes:  cfg.PlayableTypes,
		ProbeCache:     probeCache,
	})
	encoder := audio.NewLiveEncoder(audio.EncoderConfig{
		FFmpegPath: cfg.FFmpegPath,
		Bitrate:    cfg.TranscodeBitrate,
		SampleRate: cfg.TranscodeSampleRate,
		Channels:   cfg.TranscodeChannels,
	})

	hub := events.NewHub()
	go hub.Run()
	defer hub.Stop()

	// No WriteTimeout: relay streams last as long as the track.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewHandler(Deps{Catalog: catalog, Agents: agents, Engine: engine, Encoder: encoder, Hub: hub}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			logger.String("addr", cfg.ListenAddr),
			logger.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

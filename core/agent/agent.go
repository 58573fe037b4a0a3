// Package agent is the thin agent: it serves a local music library over
// HTTP, uploads its catalog to the relay and keeps announcing its address.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"radiotiker/config"
	"radiotiker/core/audio"
	"radiotiker/logger"
)

// Options configures an Agent.
type Options struct {
	ServerURL     string
	UserID        string
	LibraryPath   string
	Port          int
	PublicBaseURL string
	Extensions    []string
	BatchSize     int
	AnnounceEvery time.Duration
	Watch         bool
	FFprobePath   string
}

// OptionsFromConfig maps the AGENT_* settings onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		ServerURL:     cfg.AgentServerURL,
		UserID:        cfg.AgentUserID,
		LibraryPath:   cfg.AgentLibraryPath,
		Port:          cfg.AgentPort,
		PublicBaseURL: cfg.AgentPublicBaseURL,
		Extensions:    cfg.AgentExtensions,
		BatchSize:     cfg.AgentBatchSize,
		AnnounceEvery: cfg.AgentAnnounceEvery,
		Watch:         cfg.AgentWatch,
	}
	if cfg.AgentProbeDuration {
		opts.FFprobePath = audio.ProbePath(cfg.FFmpegPath)
	}
	return opts
}

type Agent struct {
	opts    Options
	scanner *Scanner
	client  *ServerClient
	now     func() time.Time

	syncMu      sync.Mutex
	lastVersion int64
}

func New(opts Options) (*Agent, error) {
	if opts.UserID == "" {
		return nil, errors.New("agent user id is required")
	}
	if opts.ServerURL == "" {
		return nil, errors.New("agent server url is required")
	}
	scanner := NewScanner(opts.LibraryPath, opts.Extensions)
	scanner.FFprobePath = opts.FFprobePath
	return &Agent{
		opts:    opts,
		scanner: scanner,
		client:  NewServerClient(opts.ServerURL, opts.UserID),
		now:     time.Now,
	}, nil
}

// nextVersion returns a unix-seconds version strictly greater than the last
// one, so back-to-back scans still start a fresh replace session.
func (a *Agent) nextVersion() int64 {
	v := a.now().Unix()
	if v <= a.lastVersion {
		v = a.lastVersion + 1
	}
	a.lastVersion = v
	return v
}

// SyncOnce scans the library and uploads it as a new replace session.
func (a *Agent) SyncOnce(ctx context.Context) (*SubmitResponse, error) {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()

	started := a.now()
	tracks, err := a.scanner.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan library: %w", err)
	}
	version := a.nextVersion()
	resp, err := a.client.Sync(ctx, tracks, version, a.opts.BatchSize)
	if err != nil {
		return nil, err
	}
	logger.Info("library synced",
		logger.Int("tracks", len(tracks)),
		logger.Int("count", resp.Count),
		logger.Int64("version", version),
		logger.Duration("elapsed", a.now().Sub(started)))
	return resp, nil
}

func (a *Agent) announce(ctx context.Context, baseURL string) {
	resp, err := a.client.Announce(ctx, baseURL)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("announce failed", logger.String("base_url", baseURL), logger.ErrorField(err))
		}
		return
	}
	logger.Debug("announced", logger.String("base_url", resp.BaseURL), logger.Bool("persisted", resp.Persisted))
}

func (a *Agent) baseURL() (string, error) {
	if a.opts.PublicBaseURL != "" {
		return a.opts.PublicBaseURL, nil
	}
	return LANBaseURL(a.opts.Port)
}

// Run serves the library until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	root, err := a.scanner.Root()
	if err != nil {
		return err
	}
	if err := audio.RegisterMimeTypes(); err != nil {
		return fmt.Errorf("register audio types: %w", err)
	}
	handler, err := OriginHandler(root)
	if err != nil {
		return err
	}
	baseURL, err := a.baseURL()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(a.opts.Port)))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.opts.Port, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	logger.Info("origin file server started",
		logger.String("root", root),
		logger.String("base_url", baseURL))

	a.announce(ctx, baseURL)
	if _, err := a.SyncOnce(ctx); err != nil {
		logger.Error("initial sync failed", logger.ErrorField(err))
	}

	var wg sync.WaitGroup
	if a.opts.AnnounceEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(a.opts.AnnounceEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					a.announce(ctx, baseURL)
				}
			}
		}()
	}

	if a.opts.Watch {
		w, err := NewWatcher(root, DefaultQuiet)
		if err != nil {
			logger.Error("library watch disabled", logger.ErrorField(err))
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.Run(ctx, func() {
					if _, err := a.SyncOnce(ctx); err != nil && ctx.Err() == nil {
						logger.Error("rescan failed", logger.ErrorField(err))
					}
				})
			}()
		}
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			return fmt.Errorf("origin server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stop()
	err = srv.Shutdown(shutdownCtx)
	wg.Wait()
	return err
}

// Package server exposes reference compilation and reads over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leapstack-labs/leapref/internal/state"
	"github.com/leapstack-labs/leapref/pkg/catalog"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/reference"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
)

// Config holds configuration for the server.
type Config struct {
	// Catalog is used as is when CatalogFile is empty.
	Catalog *core.Catalog
	// CatalogFile is loaded at start and, with Watch, reloaded on change.
	CatalogFile    string
	Transport      core.Transport
	Renderer       core.Renderer
	Store          state.Store
	Port           int
	Watch          bool
	AllowedOrigins []string
	PageLimit      int
	MaxPathLength  int
	Logger         *slog.Logger
}

// Server serves the HTTP API.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	resolver atomic.Pointer[reference.Resolver]
}

// NewServer creates a server and loads its catalog.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = reference.DefaultPageLimit
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rebuilds the resolver from the catalog file. On failure the
// current resolver stays in place.
func (s *Server) Reload() error {
	cat := s.cfg.Catalog
	if s.cfg.CatalogFile != "" {
		loaded, _, err := catalog.LoadCatalog(s.cfg.CatalogFile)
		if err != nil {
			return fmt.Errorf("failed to load catalog: %w", err)
		}
		cat = loaded
	}
	r, err := reference.NewResolver(reference.Config{
		Catalog:       cat,
		Transport:     s.cfg.Transport,
		Renderer:      s.cfg.Renderer,
		Logger:        s.logger,
		MaxPathLength: s.cfg.MaxPathLength,
	})
	if err != nil {
		return err
	}
	s.resolver.Store(r)
	s.logger.Debug("catalog loaded", slog.String("catalog", cat.ID), slog.Int("tables", len(cat.Tables())))
	return nil
}

// Resolver returns the current resolver.
func (s *Server) Resolver() *reference.Resolver {
	return s.resolver.Load()
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Compress(5),
	)
	s.routes(r)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// Serve starts the server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.logger.Info("starting server", "addr", fmt.Sprintf("http://localhost:%d", s.cfg.Port))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.Watch && s.cfg.CatalogFile != "" {
		eg.Go(func() error {
			return s.watchCatalog(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// watchCatalog reloads the catalog file when it changes. The directory is
// watched so editors that replace the file are still seen.
func (s *Server) watchCatalog(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	target, err := filepath.Abs(s.cfg.CatalogFile)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		s.logger.Error("failed to watch catalog directory", "error", err)
		<-ctx.Done()
		return nil
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if name, err := filepath.Abs(event.Name); err != nil || name != target {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				s.logger.Debug("catalog changed, reloading", "file", event.Name)
				if err := s.Reload(); err != nil {
					s.logger.Error("reload failed", "error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}

// Package server exposes the last run's results over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/snapetech/iptvscout/internal/channel"
	"github.com/snapetech/iptvscout/internal/health"
	"github.com/snapetech/iptvscout/internal/metrics"
	"github.com/snapetech/iptvscout/internal/ranking"
	"github.com/snapetech/iptvscout/internal/state"
)

const requestTimeout = 30 * time.Second

// Server renders playlists from the hotel_channels stored in the state file on
// every request, so a new run is picked up without restart.
type Server struct {
	Addr        string
	StatePath   string
	StateMaxAge time.Duration // 0 = /readyz accepts any age
	Aggregator  *ranking.Aggregator
	Threshold   float64
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(hlog.NewHandler(s.Logger))
	r.Use(hlog.RequestIDHandler("request_id", "Request-Id"))
	r.Use(hlog.RemoteAddrHandler("remote_ip"))
	r.Use(hlog.AccessHandler(accessLog))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/playlist.txt", s.handlePlaylist)
	r.Get("/playlist.m3u", s.handleM3U)
	r.Get("/state.json", s.handleState)
	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	return r
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("http")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

// handleReady reports 503 until a run has written a fresh state file.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := health.CheckState(s.StatePath, s.StateMaxAge); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ready\n"))
}

func (s *Server) document() channel.PlaylistDocument {
	return s.Aggregator.Aggregate(state.Load(s.StatePath).HotelChannels())
}

func (s *Server) threshold() float64 {
	if s.Threshold <= 0 {
		return ranking.DefaultThreshold
	}
	return s.Threshold
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := ranking.Render(&buf, s.document(), s.threshold()); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("render playlist")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (s *Server) handleM3U(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := ranking.RenderM3U(&buf, s.document(), s.threshold()); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("render m3u")
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "audio/x-mpegurl; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.StatePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		hlog.FromRequest(r).Error().Err(err).Msg("read state")
		http.Error(w, "state unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(data)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		s.Logger.Info().Str("addr", s.Addr).Msg("serving playlists")
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		s.Logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.Logger.Warn().Err(err).Msg("shutdown")
		}
		<-serverErr
		return nil
	}
}

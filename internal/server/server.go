// Package server exposes card generation over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/manash/cardgen/internal/config"
	"github.com/manash/cardgen/internal/security"
	"github.com/manash/cardgen/internal/storage"
	"github.com/manash/cardgen/pkg/models"
)

const (
	defaultStyle = "newyear"

	// writeTimeoutSlack covers upload, precheck and submission ahead of polling.
	writeTimeoutSlack = 2 * time.Minute
)

type CardGenerator interface {
	GenerateCard(ctx context.Context, photo *models.Photo, style models.StylePreset) (string, error)
	Start(ctx context.Context, userImageURL string, style models.StylePreset, promptOverride string) (*models.JobHandle, error)
	Check(ctx context.Context, jobID string) (*models.JobResult, error)
}

type ObjectStore interface {
	Store(ctx context.Context, data []byte, filename, contentType string) (*storage.Object, error)
	Open(key string) (io.ReadSeekCloser, time.Time, error)
}

type Server struct {
	cfg       *config.Config
	generator CardGenerator
	styles    *models.StyleCatalog
	store     ObjectStore
	policy    *security.Policy
	log       zerolog.Logger
}

func New(cfg *config.Config, gen CardGenerator, styles *models.StyleCatalog, store ObjectStore, log zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		generator: gen,
		styles:    styles,
		store:     store,
		policy:    security.NewPolicy(cfg),
		log:       log.With().Str("component", "http").Logger(),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if s.cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(
		requestID,
		accessLog(s.log),
		middleware.Recoverer,
		cors(s.cfg.CORSAllowedOrigins),
	)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/styles", s.listStyles)
		r.Post("/upload-image", s.uploadImage)
		r.Get("/temp-images/*", s.serveTempImage)
		r.Get("/prediction-status", s.predictionStatus)
		r.Get("/predictions/{id}", s.predictionStatus)

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(s.cfg.RateLimitPerMinute, time.Minute))
			r.Post("/cards", s.createCard)
			r.Post("/generate", s.startGeneration)
		})
	})

	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := s.httpServer()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("shutting down HTTP server")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) httpServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,

		// /api/cards holds the response open for the whole poll budget
		WriteTimeout: s.cfg.PollBudget() + writeTimeoutSlack,
	}
}

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"thumbnail-service/internal/config"
	"thumbnail-service/internal/infra/notify"
	"thumbnail-service/internal/infra/redis"
	"thumbnail-service/internal/infra/storage"
	"thumbnail-service/internal/usecase"
)

// SessionHub registers live sessions for an owner.
type SessionHub interface {
	Subscribe(ownerID string) *notify.Subscription
	Unsubscribe(sub *notify.Subscription)
}

// QueueHealth reports the queue initialization state.
type QueueHealth interface {
	State() redis.ReadyState
}

type UploadLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Server struct {
	submit  usecase.SubmissionUseCase
	query   usecase.JobQueryUseCase
	hub     SessionHub
	queue   QueueHealth
	files   *storage.Files
	auth    *Authenticator
	limiter UploadLimiter

	httpCfg    config.HTTPConfig
	storageCfg config.StorageConfig
	keepAlive  time.Duration
	now        func() time.Time
	log        *zerolog.Logger
}

func NewServer(
	submit usecase.SubmissionUseCase,
	query usecase.JobQueryUseCase,
	hub SessionHub,
	queue QueueHealth,
	files *storage.Files,
	auth *Authenticator,
	limiter UploadLimiter,
	httpCfg config.HTTPConfig,
	storageCfg config.StorageConfig,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		submit:     submit,
		query:      query,
		hub:        hub,
		queue:      queue,
		files:      files,
		auth:       auth,
		limiter:    limiter,
		httpCfg:    httpCfg,
		storageCfg: storageCfg,
		keepAlive:  15 * time.Second,
		now:        time.Now,
		log:        logger,
	}
}

// Handler builds the route tree. Streams are mounted outside the request
// timeout.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(Timeout(s.httpCfg.RequestTimeout))
			r.Get("/health", s.health)

			r.Group(func(r chi.Router) {
				r.Use(RequireOwner(s.auth))
				r.Post("/upload", s.upload)
				r.Get("/jobs", s.listJobs)
				r.Get("/jobs/{jobID}", s.getJob)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireOwner(s.auth))
			r.Get("/events", s.events)
			r.Get("/ws", s.websocket)
		})

		thumbs := http.StripPrefix("/api/files/thumbnails/", http.FileServer(http.Dir(s.files.ThumbnailsDir())))
		r.Handle("/files/thumbnails/*", noDirListing(thumbs))
	})
	return r
}

// Run serves on the configured port until ctx is done, then drains.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.httpCfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", s.httpCfg.Port).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"queue":     s.queue.State().String(),
	})
}

func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || r.URL.Path[len(r.URL.Path)-1] == '/' {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

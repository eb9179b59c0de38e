package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/handlers"
	"github.com/draftforge/draftforge/internal/service"
	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/internal/worker"
	"github.com/draftforge/draftforge/pkg/middleware"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

type Server struct {
	cfg      *config.Config
	store    store.Store
	listener net.Listener
	inline   *worker.Worker
}

// New returns a new instance of the draftforge API server.
func New(cfg *config.Config, store store.Store, listener net.Listener) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		listener: listener,
	}
}

// WithInlineWorker makes enqueued jobs execute from the request goroutine.
// Meant for single-process deployments and local development.
func (s *Server) WithInlineWorker(w *worker.Worker) *Server {
	s.inline = w
	return s
}

func (s *Server) Run(ctx context.Context) error {
	zap.S().Named("api_server").Info("Initializing API server")

	jobService := service.NewJobService(s.store, service.WithRateLimit(
		s.cfg.Generation.MaxGenerationsPerWindow,
		time.Duration(s.cfg.Generation.RateWindowMinutes)*time.Minute,
	))
	outputService := service.NewOutputService(s.store)
	usageService := service.NewUsageService(s.store)

	h := handlers.New(jobService, outputService, usageService)
	if s.inline != nil {
		h = h.WithInlineRunner(s.inline)
	}

	router := chi.NewRouter()
	router.Use(
		cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "PUT", "POST", "DELETE", "HEAD", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}),
		middleware.RequestID,
		middleware.Logger(),
		chiMiddleware.Recoverer,
	)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Post("/stages/{stage}/generate", h.EnqueueStage)
			r.Get("/stages/{stage}/output", h.GetStageOutput)
			r.Post("/stages/{stage}/versions", h.CreateEditedVersion)
			r.Post("/document/generate", h.EnqueueDocument)
			r.Post("/files", h.EnqueueFile)
		})

		r.Get("/jobs", h.ListJobs)
		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", h.GetJobStatus)
			r.Post("/retry", h.RetryJob)
			r.Post("/fail", h.ForceFailJob)
		})

		r.Route("/outputs/{outputID}", func(r chi.Router) {
			r.Get("/versions", h.ListOutputVersions)
			r.Get("/versions/latest", h.GetLatestOutputVersion)
			r.Post("/versions/{versionID}/approve", h.ApproveOutputVersion)
		})

		r.Post("/purchases", h.CreatePurchase)
		r.Post("/purchases/{purchaseID}/confirm", h.ConfirmPurchase)
		r.Get("/usage", h.ListUsage)
	})

	srv := http.Server{Addr: s.cfg.Service.Address, Handler: router}

	go func() {
		<-ctx.Done()
		zap.S().Named("api_server").Infof("Shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("api_server").Info("api server terminated")
	}()

	zap.S().Named("api_server").Infof("Listening on %s...", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}

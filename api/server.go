package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"chatledger/api/handlers"
	"chatledger/config"
	"chatledger/core/analytics"
	"chatledger/core/entities"
	"chatledger/core/ingest"
	"chatledger/core/store"
	"chatledger/core/utils"
)

type Server struct {
	cfg             *config.AppConfig
	ingestor        *ingest.Service
	events          store.EventsStore
	classifications store.ClassificationsStore
	queries         *analytics.Queries
	extractor       *entities.Extractor
	logger          *utils.Logger

	httpServer *http.Server
}

func NewServer(cfg *config.AppConfig, ingestor *ingest.Service, events store.EventsStore, cs store.ClassificationsStore, queries *analytics.Queries, extractor *entities.Extractor, logger *utils.Logger) *Server {
	return &Server{
		cfg:             cfg,
		ingestor:        ingestor,
		events:          events,
		classifications: cs,
		queries:         queries,
		extractor:       extractor,
		logger:          logger,
	}
}

func (s *Server) Router() http.Handler {
	eventsH := handlers.NewEventsHandler(s.ingestor, s.events, s.logger)
	classH := handlers.NewClassificationsHandler(s.events, s.classifications, s.logger)
	analyticsH := handlers.NewAnalyticsHandler(s.events, s.queries, s.logger)
	entitiesH := handlers.NewEntitiesHandler(s.events, s.extractor, s.logger)

	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.requestIDMiddleware)
	r.Use(s.accessLogMiddleware)

	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Post("/api/events", eventsH.Ingest)
	r.Get("/api/events", eventsH.List)
	r.Get("/api/events/{id:[0-9]+}", eventsH.Get)
	r.Get("/api/events/{id:[0-9]+}/entities", entitiesH.Extract)

	r.Put("/api/events/{id:[0-9]+}/classification", classH.Apply)
	r.Get("/api/events/{id:[0-9]+}/classification", classH.Get)
	r.Get("/api/classifications/backlog", classH.Backlog)

	r.Get("/api/conversations/{conversation}/thread", analyticsH.Thread)
	r.Get("/api/conversations/{conversation}/ttfr", analyticsH.TimeToFirstResponse)
	r.Get("/api/conversations/{conversation}/reply-graph", analyticsH.ReplyGraph)

	return r
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Printf("listening on %s", s.cfg.ListenAddr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

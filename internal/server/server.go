// Package server wires the repository, services, handlers, and middleware
// into one HTTP server and owns its lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/transitkit/feedsmith/internal/config"
	"github.com/transitkit/feedsmith/internal/events"
	"github.com/transitkit/feedsmith/internal/handler"
	"github.com/transitkit/feedsmith/internal/jobs"
	"github.com/transitkit/feedsmith/internal/metrics"
	"github.com/transitkit/feedsmith/internal/middleware"
	sqliteRepo "github.com/transitkit/feedsmith/internal/repository/sqlite"
	"github.com/transitkit/feedsmith/internal/service"
)

type Server struct {
	router *chi.Mux
	cfg    *config.Config
	logger *slog.Logger

	db        *sqliteRepo.DB
	coord     *jobs.Coordinator
	publisher events.Publisher
}

// New assembles the full dependency chain: storage, job coordinator, event
// publisher, services, handlers, routes. The returned server owns the
// database and coordinator and closes them on shutdown.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.NATS.URL != "" {
		p, err := events.NewNATSPublisher(cfg.NATS.URL, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		publisher = p
	}

	s := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		logger:    logger,
		db:        db,
		coord:     jobs.NewCoordinator(logger),
		publisher: publisher,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	m := metrics.New()

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics(m))

	entitySvc := service.NewEntityService(s.db, s.logger, m)
	patternSvc := service.NewPatternService(s.db, s.logger, m)
	timetableSvc := service.NewTimetableService(s.db, s.logger, m)
	snapshotSvc := service.NewSnapshotService(s.db, s.coord, s.publisher, s.logger, m)

	feeds := handler.NewFeedHandler(snapshotSvc, s.logger)
	entities := handler.NewEntityHandler(entitySvc, s.logger)
	patterns := handler.NewPatternHandler(patternSvc, s.logger)
	timetable := handler.NewTimetableHandler(timetableSvc, s.logger)

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.router.Handle("/metrics", m.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/feedsources", func(r chi.Router) {
			r.Post("/", feeds.HandleCreateFeedSource)
			r.Get("/", feeds.HandleListFeedSources)
			r.Get("/{id}", feeds.HandleGetFeedSource)
			r.Put("/{id}", feeds.HandleUpdateFeedSource)
			r.Delete("/{id}", feeds.HandleDeleteFeedSource)
			r.Post("/{id}/snapshots", feeds.HandleCreateSnapshot)
			r.Get("/{id}/snapshots", feeds.HandleListSnapshots)
			r.Post("/{id}/versions", feeds.HandleImport)
			r.Get("/{id}/versions", feeds.HandleListVersions)
			r.Get("/{id}/versions/latest", feeds.HandleLatestVersion)
		})

		r.Route("/snapshots/{id}", func(r chi.Router) {
			r.Get("/", feeds.HandleGetSnapshot)
			r.Post("/publish", feeds.HandlePublish)
			r.Post("/discard", feeds.HandleDiscard)

			registerEntityRoutes(r, entities)

			r.Route("/patterns", func(r chi.Router) {
				r.Post("/", patterns.HandleCreate)
				r.Get("/", patterns.HandleList)
				r.Get("/{pid}", patterns.HandleGet)
				r.Put("/{pid}", patterns.HandleUpdate)
				r.Delete("/{pid}", patterns.HandleDelete)
				r.Get("/{pid}/stops", patterns.HandleStops)
				r.Post("/{pid}/stops", patterns.HandleAddStop)
				r.Delete("/{pid}/stops/{pos}", patterns.HandleRemoveStop)
				r.Post("/{pid}/stops/move", patterns.HandleMoveStop)
				r.Post("/{pid}/duplicate", patterns.HandleDuplicate)
			})

			r.Get("/timetable", timetable.HandleGrid)
			r.Route("/trips", func(r chi.Router) {
				r.Post("/", timetable.HandleCreateTrip)
				r.Get("/", timetable.HandleListTrips)
				r.Get("/{tid}", timetable.HandleGetTrip)
				r.Put("/{tid}", timetable.HandleUpdateTrip)
				r.Delete("/{tid}", timetable.HandleDeleteTrip)
				r.Post("/{tid}/duplicate", timetable.HandleDuplicateTrip)
				r.Put("/{tid}/stoptimes", timetable.HandleSaveTrip)
				r.Put("/{tid}/stoptimes/{ordinal}", timetable.HandleSetStopTime)
			})
		})

		r.Route("/versions", func(r chi.Router) {
			r.Get("/{id}", feeds.HandleGetVersion)
			r.Delete("/{id}", feeds.HandleDeleteVersion)
			r.Get("/{id}/download", feeds.HandleDownloadVersion)
		})

		r.Get("/jobs/{id}", feeds.HandleGetJob)
	})
}

// registerEntityRoutes mounts CRUD plus clone for each simple entity kind.
func registerEntityRoutes(r chi.Router, h *handler.EntityHandler) {
	kinds := []struct {
		path                           string
		create, list, get, update, del http.HandlerFunc
		clone                          http.HandlerFunc
	}{
		{"agencies", h.HandleCreateAgency, h.HandleListAgencies, h.HandleGetAgency, h.HandleUpdateAgency, h.HandleDeleteAgency, h.HandleCloneAgency},
		{"stops", h.HandleCreateStop, h.HandleListStops, h.HandleGetStop, h.HandleUpdateStop, h.HandleDeleteStop, h.HandleCloneStop},
		{"routes", h.HandleCreateRoute, h.HandleListRoutes, h.HandleGetRoute, h.HandleUpdateRoute, h.HandleDeleteRoute, h.HandleCloneRoute},
		{"calendars", h.HandleCreateCalendar, h.HandleListCalendars, h.HandleGetCalendar, h.HandleUpdateCalendar, h.HandleDeleteCalendar, h.HandleCloneCalendar},
		{"calendarexceptions", h.HandleCreateCalendarException, h.HandleListCalendarExceptions, h.HandleGetCalendarException, h.HandleUpdateCalendarException, h.HandleDeleteCalendarException, h.HandleCloneCalendarException},
		{"fares", h.HandleCreateFare, h.HandleListFares, h.HandleGetFare, h.HandleUpdateFare, h.HandleDeleteFare, h.HandleCloneFare},
		{"farerules", h.HandleCreateFareRule, h.HandleListFareRules, h.HandleGetFareRule, h.HandleUpdateFareRule, h.HandleDeleteFareRule, h.HandleCloneFareRule},
	}
	for _, k := range kinds {
		r.Route("/"+k.path, func(sub chi.Router) {
			sub.Post("/", k.create)
			sub.Get("/", k.list)
			sub.Get("/{eid}", k.get)
			sub.Put("/{eid}", k.update)
			sub.Delete("/{eid}", k.del)
			sub.Post("/{eid}/clone", k.clone)
		})
	}
}

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully:
// stop accepting connections, wait for in-flight requests, close the job
// coordinator, publisher, and database.
func (s *Server) Start() error {
	defer s.db.Close()
	defer s.publisher.Close()
	defer s.coord.Close()

	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	pruneDone := make(chan struct{})
	go s.pruneJobs(pruneDone)
	defer close(pruneDone)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.cfg.Server.Addr, "database", s.cfg.Storage.Path)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-quit:
		s.logger.Info("shutdown signal received", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}

// pruneJobs drops terminal jobs past the retention window.
func (s *Server) pruneJobs(done <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.coord.Prune(s.cfg.Jobs.RetainFinished)
		}
	}
}

// Router exposes the configured handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

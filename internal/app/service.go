// Package app composes the managers, ingress, and process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"pokealert/internal/clock"
	"pokealert/internal/config"
	"pokealert/internal/domain"
	"pokealert/internal/ingest"
	"pokealert/internal/logging"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config snapshot and shared runtime components.
// Returns: runnable notification router.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	managers  []*Manager
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	readyFlag atomic.Bool
	clock     clock.Clock
}

// fanoutSink delivers each decoded event to every manager queue.
// Params: manager list and logger for drop diagnostics.
// Returns: shared ingest sink.
type fanoutSink struct {
	managers []*Manager
	logger   *slog.Logger
}

// Push clones the event into every manager queue.
// Params: decoded event.
// Returns: nil; a full manager queue drops that manager's copy with a
// warning instead of failing the whole fan-out.
func (f *fanoutSink) Push(event *domain.Event) error {
	for _, manager := range f.managers {
		if err := manager.Push(event.Clone()); err != nil {
			f.logger.Warn("event dropped", slog.String("error", err.Error()))
		}
	}
	return nil
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	service := &Service{
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		clock:    clk,
	}

	for _, managerCfg := range cfg.Manager {
		manager, err := NewManager(managerCfg, logger, clk)
		if err != nil {
			service.cleanupInitResources()
			return nil, err
		}
		service.managers = append(service.managers, manager)
	}

	sink := &fanoutSink{managers: service.managers, logger: logger}
	service.buildHTTPServer(sink)
	if cfg.Ingest.NATS.Enabled {
		subscriber, err := ingest.NewNATSSubscriber(cfg.Ingest.NATS, sink, clk, logger)
		if err != nil {
			service.cleanupInitResources()
			return nil, err
		}
		service.natsSub = subscriber
	}

	return service, nil
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var managerWG sync.WaitGroup
	for _, manager := range s.managers {
		managerWG.Add(1)
		go func(manager *Manager) {
			defer managerWG.Done()
			s.logger.Info("manager starting", slog.String("manager", manager.Name()))
			_ = manager.Run(runCtx)
		}(manager)
	}

	errChan := make(chan error, 1)
	if s.cfg.Ingest.HTTP.Enabled {
		go func() {
			s.logger.Info("http server starting", slog.String("listen", s.cfg.Ingest.HTTP.Listen))
			err := s.httpSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()
	}

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown(cancel, &managerWG)
	case err := <-errChan:
		_ = s.shutdown(cancel, &managerWG)
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		s.logger.Info("shutdown signal received")
		return s.shutdown(cancel, &managerWG)
	}
}

// shutdown closes runtime resources in dependency order.
// Params: manager cancel function and manager wait group.
// Returns: first close error; managers get a bounded grace period for
// their final sweep and save.
func (s *Service) shutdown(cancelManagers context.CancelFunc, managerWG *sync.WaitGroup) error {
	s.readyFlag.Store(false)
	grace := time.Duration(s.cfg.Service.ShutdownGraceSec) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown failed", slog.String("error", err.Error()))
			markErr(fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", slog.String("error", err.Error()))
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}

	cancelManagers()
	done := make(chan struct{})
	go func() {
		managerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Error("managers did not stop within grace period")
		markErr(errors.New("manager shutdown timed out"))
	}

	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on
// startup failures.
// Params: none.
// Returns: acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	for _, manager := range s.managers {
		_ = manager.cache.Close()
	}
	s.managers = nil
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires the webhook and health endpoints.
// Params: shared event sink.
// Returns: none; server stored on the service.
func (s *Service) buildHTTPServer(sink ingest.EventSink) {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Ingest.HTTP.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.Ingest.HTTP.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})
	if s.cfg.Ingest.HTTP.Enabled {
		handler := ingest.NewHTTPHandler(sink, s.cfg.Ingest.HTTP.MaxBodyBytes, s.clock, s.logger)
		mux.Handle(s.cfg.Ingest.HTTP.WebhookPath, handler)
	}

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Ingest.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

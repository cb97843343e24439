package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wndmngr/backend/authz"
	"github.com/wndmngr/backend/models"
	"github.com/wndmngr/backend/repositories"
)

// Service records auth gate decisions asynchronously. Without a repository
// events are only logged.
type Service struct {
	repo         repositories.AuthEventRepository
	logger       *zap.Logger
	events       chan *models.AuthEvent
	workerCount  int
	bufferSize   int
	writeTimeout time.Duration
	wg           sync.WaitGroup
	mu           sync.Mutex
	started      bool
	stopped      bool

	recorded atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

// Config holds configuration for the Service
type Config struct {
	BufferSize   int
	WorkerCount  int
	WriteTimeout time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
	}
}

// NewService creates a new audit Service. repo may be nil.
func NewService(repo repositories.AuthEventRepository, logger *zap.Logger, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	return &Service{
		repo:         repo,
		logger:       logger,
		events:       make(chan *models.AuthEvent, cfg.BufferSize),
		workerCount:  cfg.WorkerCount,
		bufferSize:   cfg.BufferSize,
		writeTimeout: cfg.WriteTimeout,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize),
		zap.Bool("persistent", s.repo != nil))

	return nil
}

// Stop closes the queue and waits for pending events to be written
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	close(s.events)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped",
			zap.Uint64("recorded", s.recorded.Load()),
			zap.Uint64("dropped", s.dropped.Load()))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record queues an event without blocking. A full buffer drops the event.
func (s *Service) Record(event *models.AuthEvent) {
	if event == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		s.dropped.Add(1)
		return
	}

	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit buffer full, dropping event",
			zap.String("outcome", string(event.Outcome)),
			zap.String("request_id", event.RequestID))
	}
}

// RecordVerdict builds an event from a gate verdict and queues it
func (s *Service) RecordVerdict(v authz.Verdict, requestID, method, path, remoteAddr string) {
	outcome := models.AuthOutcomeAllowed
	status := 200
	if v.Rejected() {
		outcome = models.AuthOutcomeRejected
		status = v.Status()
	}

	event := models.NewAuthEvent(outcome, status).
		WithReason(string(v.Reason())).
		WithRequest(requestID, method, path, remoteAddr)
	if id := v.Identity(); id != nil {
		event.WithUser(id.ID, id.Email)
	}
	s.Record(event)
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	for event := range s.events {
		s.write(id, event)
	}
}

func (s *Service) write(workerID int, event *models.AuthEvent) {
	if s.repo == nil {
		s.logger.Info("auth event",
			zap.String("outcome", string(event.Outcome)),
			zap.String("reason", event.Reason),
			zap.Int("status", event.Status),
			zap.String("request_id", event.RequestID),
			zap.String("path", event.Path))
		s.recorded.Add(1)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.repo.Insert(ctx, event); err != nil {
		s.failed.Add(1)
		s.logger.Error("failed to persist auth event",
			zap.Int("worker_id", workerID),
			zap.Error(err),
			zap.String("outcome", string(event.Outcome)),
			zap.String("request_id", event.RequestID))
		return
	}
	s.recorded.Add(1)
}

// GetStats returns statistics about the audit service
func (s *Service) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.events),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
		Recorded:      s.recorded.Load(),
		Dropped:       s.dropped.Load(),
		Failed:        s.failed.Load(),
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
	Recorded      uint64
	Dropped       uint64
	Failed        uint64
}

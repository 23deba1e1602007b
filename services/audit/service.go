package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/rentiful/backend/internal/observability"
	"github.com/upb/rentiful/backend/models"
	"github.com/upb/rentiful/backend/repositories"
	"go.uber.org/zap"
)

// Recorder accepts auth events for the audit trail. Implementations must not
// block the caller.
type Recorder interface {
	Record(ctx context.Context, event *models.AuthEvent)
}

// DropCounter is notified whenever an event is dropped
type DropCounter interface {
	RecordAuditDropped()
}

// Service drains auth events into the repository with a fixed worker pool
type Service struct {
	repo        repositories.AuthEventRepository
	logger      *zap.Logger
	dropped     DropCounter
	events      chan *models.AuthEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.RWMutex
}

// Config holds configuration for the audit Service
type Config struct {
	BufferSize  int
	WorkerCount int
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewService creates a new audit Service. dropped may be nil.
func NewService(repo repositories.AuthEventRepository, logger *zap.Logger, dropped DropCounter, cfg Config) *Service {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultConfig().WorkerCount
	}

	return &Service{
		repo:        repo,
		logger:      logger,
		dropped:     dropped,
		events:      make(chan *models.AuthEvent, cfg.BufferSize),
		workerCount: cfg.WorkerCount,
		bufferSize:  cfg.BufferSize,
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
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting events and waits for queued ones to be written
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
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record enqueues event without blocking. Request metadata found in ctx
// fills any request fields the event does not set. When the buffer is
// full or the service is not running the event is dropped.
func (s *Service) Record(ctx context.Context, event *models.AuthEvent) {
	if event == nil {
		return
	}
	if meta, ok := observability.RequestMetaFrom(ctx); ok {
		if event.RequestID == "" {
			event.RequestID = meta.ID
		}
		if event.IPAddress == "" {
			event.IPAddress = meta.IP
		}
		if event.UserAgent == "" {
			event.UserAgent = meta.UserAgent
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		s.drop(event, "audit service not running")
		return
	}

	select {
	case s.events <- event:
	default:
		s.drop(event, "audit event buffer full, dropping event")
	}
}

func (s *Service) drop(event *models.AuthEvent, msg string) {
	s.logger.Warn(msg,
		zap.String("action", string(event.Action)),
		zap.String("subject_id", event.SubjectID))
	if s.dropped != nil {
		s.dropped.RecordAuditDropped()
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	for event := range s.events {
		if err := s.write(event); err != nil {
			s.logger.Error("failed to write auth event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Action)),
				zap.String("subject_id", event.SubjectID))
		}
	}
}

func (s *Service) write(event *models.AuthEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.repo.Insert(ctx, event)
}

// Stats returns statistics about the audit service
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.events),
		WorkerCount:   s.workerCount,
		Running:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Running       bool
}

// Nop discards every event
type Nop struct{}

// Record implements Recorder
func (Nop) Record(context.Context, *models.AuthEvent) {}

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/clearbook/clearbook/internal/auth/domain"
	"github.com/clearbook/clearbook/internal/auth/store"
	"github.com/clearbook/clearbook/pkg/idx"
)

// ActivityService is the fire-and-forget audit sink. Record never blocks the
// caller: events queue onto a buffered channel consumed by a single worker,
// and are dropped with a warning when the buffer is full.
type ActivityService struct {
	Store  store.Store
	Logger *slog.Logger

	events chan domain.ActivityEvent
	stopCh chan struct{}
	doneCh chan struct{}
}

const activityBufferSize = 256

func NewActivityService(st store.Store, logger *slog.Logger) *ActivityService {
	return &ActivityService{
		Store:  st,
		Logger: logger,
		events: make(chan domain.ActivityEvent, activityBufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background writer. Call Stop to flush and shut down.
func (s *ActivityService) Start() {
	go s.run()
}

// Stop shuts the worker down, draining anything already queued.
func (s *ActivityService) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Record queues an event without blocking.
func (s *ActivityService) Record(e domain.ActivityEvent) {
	if e.ID == "" {
		e.ID = idx.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	select {
	case s.events <- e:
	default:
		s.Logger.Warn("activity buffer full, dropping event", "action", e.Action)
	}
}

func (s *ActivityService) run() {
	defer close(s.doneCh)

	for {
		select {
		case e := <-s.events:
			s.write(e)
		case <-s.stopCh:
			// Drain what is already queued before exiting.
			for {
				select {
				case e := <-s.events:
					s.write(e)
				default:
					return
				}
			}
		}
	}
}

func (s *ActivityService) write(e domain.ActivityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Store.ActivityLog().Insert(ctx, e); err != nil {
		s.Logger.Error("failed to write activity event", "error", err, "action", e.Action)
	}
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ms-contest/internal/logger"
	"ms-contest/internal/models"
)

type Emitter interface {
	Emit(update models.LeaderboardUpdate)
}

// LeaderboardNotifier turns contest events into fresh leaderboard snapshots.
type LeaderboardNotifier struct {
	Service *Service
	Emitter Emitter
	Logger  *logger.Logger
}

func NewLeaderboardNotifier(svc *Service, emitter Emitter, log *logger.Logger) *LeaderboardNotifier {
	return &LeaderboardNotifier{Service: svc, Emitter: emitter, Logger: log}
}

// HandleEvent reads the ranking from the ledger itself: a cached snapshot may predate
// the write that produced event.
func (n *LeaderboardNotifier) HandleEvent(ctx context.Context, event models.ContestEvent) {
	top, err := n.Service.readTop(ctx, 0)
	if err != nil {
		n.Logger.Error("NOTIFY", fmt.Sprintf("Leaderboard refresh after %s failed: %v", event.Type, err))
		return
	}
	stats, err := n.Service.Stats(ctx)
	if err != nil {
		n.Logger.Error("NOTIFY", fmt.Sprintf("Stats refresh after %s failed: %v", event.Type, err))
		return
	}

	n.Emitter.Emit(models.LeaderboardUpdate{
		Reason: event.Type,
		Top:    top,
		Stats:  *stats,
		At:     time.Now().UTC(),
	})
}

// Prime emits the current leaderboard so the first subscribers have something to show.
func (n *LeaderboardNotifier) Prime(ctx context.Context) {
	n.HandleEvent(ctx, models.ContestEvent{Type: models.EventSnapshot, OccurredAt: time.Now().UTC()})
}

var ErrPublisherFull = errors.New("event queue full")

// LocalPublisher delivers contest events to in-process handlers on its own goroutine.
// It stands in for Kafka on single-instance deployments.
type LocalPublisher struct {
	queue    chan models.ContestEvent
	mu       sync.RWMutex
	handlers []func(context.Context, models.ContestEvent)
}

func NewLocalPublisher(buffer int) *LocalPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &LocalPublisher{queue: make(chan models.ContestEvent, buffer)}
}

func (p *LocalPublisher) Subscribe(handler func(context.Context, models.ContestEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}

// PublishContestEvent never blocks the caller; a full queue drops the event.
func (p *LocalPublisher) PublishContestEvent(ctx context.Context, event models.ContestEvent) error {
	select {
	case p.queue <- event:
		return nil
	default:
		return ErrPublisherFull
	}
}

// Run dispatches queued events until ctx is done.
func (p *LocalPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-p.queue:
			p.mu.RLock()
			handlers := p.handlers
			p.mu.RUnlock()
			for _, handle := range handlers {
				handle(ctx, event)
			}
		}
	}
}

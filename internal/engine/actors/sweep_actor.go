package actors

import (
	"context"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// Releaser releases scheduled messages that are due.
type Releaser interface {
	ReleaseDue(ctx context.Context) (int, error)
}

// Message types for SweepActor
type (
	// SweepMsg triggers one sweep. Requesters get a *SweepResult back.
	SweepMsg struct{}

	GetSweepStatsMsg struct{}
)

type SweepResult struct {
	Released int
	Err      error
}

type SweepStats struct {
	Runs      int       `json:"runs"`
	Released  int       `json:"released"`
	LastRunAt time.Time `json:"lastRunAt"`
	LastError string    `json:"lastError,omitempty"`
}

// SweepActor runs scheduled-message sweeps one at a time. Triggers that
// arrive while a sweep is running wait in the mailbox.
type SweepActor struct {
	releaser Releaser
	timeout  time.Duration
	stats    SweepStats
	log      *zap.SugaredLogger
}

// NewSweepActor creates a SweepActor. Each sweep is bounded by timeout.
func NewSweepActor(releaser Releaser, timeout time.Duration) actor.Actor {
	return &SweepActor{
		releaser: releaser,
		timeout:  timeout,
		log:      zap.S().With("component", "sweep_actor"),
	}
}

func (a *SweepActor) Receive(context actor.Context) {
	switch context.Message().(type) {
	case *actor.Started:
		a.log.Debugw("sweep actor started")

	case *actor.Stopping:
		a.log.Debugw("sweep actor stopping")

	case *SweepMsg:
		result := a.sweep()
		if context.Sender() != nil {
			context.Respond(result)
		}

	case *GetSweepStatsMsg:
		context.Respond(a.stats)
	}
}

func (a *SweepActor) sweep() *SweepResult {
	ctx, cancel := contextWithTimeout(a.timeout)
	defer cancel()

	released, err := a.releaser.ReleaseDue(ctx)
	a.stats.Runs++
	a.stats.Released += released
	a.stats.LastRunAt = time.Now().UTC()
	a.stats.LastError = ""
	if err != nil {
		a.stats.LastError = err.Error()
		a.log.Errorw("sweep failed", "error", err, "released", released)
	}
	return &SweepResult{Released: released, Err: err}
}

func contextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

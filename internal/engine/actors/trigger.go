package actors

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// RunSweepTrigger sends a SweepMsg to pid on every tick of cronExpr until ctx
// is cancelled.
func RunSweepTrigger(ctx context.Context, root *actor.RootContext, pid *actor.PID, cronExpr string) {
	log := zap.S().With("component", "sweep_trigger", "cron", cronExpr)
	log.Infow("sweep trigger started")

	for {
		next, err := gronx.NextTickAfter(cronExpr, time.Now().UTC(), false)
		wait := time.Until(next)
		if err != nil {
			log.Errorw("failed to compute next tick", "error", err)
			wait = 30 * time.Second
		}
		if wait < time.Second {
			wait = time.Second
		}

		select {
		case <-ctx.Done():
			log.Infow("sweep trigger stopping")
			return
		case <-time.After(wait):
			if err == nil {
				root.Send(pid, &SweepMsg{})
			}
		}
	}
}

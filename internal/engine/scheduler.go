package engine

import (
	"context"
	"time"

	"gator-chat/internal/bus"
	"gator-chat/internal/models"

	"github.com/google/uuid"
)

// SweepBatchSize bounds how many due messages one store query returns.
const SweepBatchSize = 200

// ReleaseDue releases every scheduled message whose release time has passed.
// Each message is claimed with a conditional scheduled to sent transition
// before anything is pushed, so overlapping sweeps release it once.
func (c *Coordinator) ReleaseDue(ctx context.Context) (int, error) {
	defer c.observe("sweep", time.Now())

	released := 0
	for {
		due, err := c.store.FindDueScheduled(ctx, c.now(), SweepBatchSize)
		if err != nil {
			return released, err
		}
		claimed := 0
		for _, msg := range due {
			if err := ctx.Err(); err != nil {
				return released, err
			}
			ok, err := c.release(ctx, msg)
			if err != nil {
				c.log.Warnw("scheduled release failed", "messageId", msg.ID, "error", err)
				continue
			}
			if ok {
				claimed++
			}
		}
		released += claimed
		if len(due) < SweepBatchSize || claimed == 0 {
			break
		}
	}

	if released > 0 {
		c.metrics.ScheduledReleased(released)
		c.log.Infow("released scheduled messages", "count", released)
	}
	return released, nil
}

func (c *Coordinator) release(ctx context.Context, msg *models.DirectMessage) (bool, error) {
	at := c.now()
	ok, err := c.store.TransitionDirectMessage(ctx, msg.ID, []models.LifecycleState{models.StateScheduled}, models.StateSent, at)
	if err != nil || !ok {
		return false, err
	}
	msg.State = models.StateSent
	msg.SentAt = &at

	delivered := c.deliverIfOnline(ctx, msg)

	// The receiver sees the message for the first time now.
	c.publish(ctx, []uuid.UUID{msg.ReceiverID}, bus.EventNewMessage, msg)
	c.publish(ctx, []uuid.UUID{msg.SenderID}, bus.EventScheduledReleased, bus.ScheduledReleased{
		MessageID: msg.ID,
		State:     msg.State,
		SentAt:    at,
	})
	if delivered {
		c.publishDelivered(ctx, msg)
	}
	return true, nil
}

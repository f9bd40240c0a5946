// Package engine implements message delivery and state synchronization for
// direct and group conversations.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"gator-chat/internal/bus"
	"gator-chat/internal/database"
	"gator-chat/internal/models"
	"gator-chat/internal/presence"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine bundles the direct coordinator and the group fanout, which share
// the store, the presence registry and the publisher.
type Engine struct {
	Gate   *Gate
	Direct *Coordinator
	Groups *GroupFanout
}

func NewEngine(store database.Store, registry presence.Registry, publisher bus.Publisher, metrics *utils.MetricsCollector) *Engine {
	base := &core{
		store:     store,
		presence:  registry,
		publisher: publisher,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
	gate := NewGate(store)
	return &Engine{
		Gate:   gate,
		Direct: &Coordinator{core: base, gate: gate, log: zap.S().With("component", "coordinator")},
		Groups: &GroupFanout{core: base, log: zap.S().With("component", "groups")},
	}
}

// SetClock replaces the time source of every component.
func (e *Engine) SetClock(now func() time.Time) {
	e.Direct.now = now
}

type core struct {
	store     database.Store
	presence  presence.Registry
	publisher bus.Publisher
	metrics   *utils.MetricsCollector
	now       func() time.Time
}

func (c *core) publish(ctx context.Context, audience []uuid.UUID, eventType bus.EventType, payload interface{}) {
	if len(audience) == 0 {
		return
	}
	c.publisher.Publish(ctx, audience, bus.Event{Type: eventType, Payload: payload})
}

func (c *core) observe(operation string, start time.Time) {
	c.metrics.AddOperationLatency(operation, time.Since(start))
}

func newID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// PollInput describes a poll attached to a new message.
type PollInput struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// Content is the body of a new direct or group message.
type Content struct {
	Text       string             `json:"text,omitempty"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
	Poll       *PollInput         `json:"poll,omitempty"`
	ReplyToID  *uuid.UUID         `json:"replyToId,omitempty"`
}

// validate normalizes the content and rejects empty bodies and malformed
// polls or attachments.
func (c *Content) validate() (*models.Poll, error) {
	c.Text = strings.TrimSpace(c.Text)
	if c.Attachment != nil && !c.Attachment.Valid() {
		return nil, utils.NewInvalidInputError("attachment must have a known kind and url")
	}

	var poll *models.Poll
	if c.Poll != nil {
		question := strings.TrimSpace(c.Poll.Question)
		if question == "" {
			return nil, utils.NewInvalidInputError("poll question is required")
		}
		options := make([]string, 0, len(c.Poll.Options))
		for _, o := range c.Poll.Options {
			if o = strings.TrimSpace(o); o != "" {
				options = append(options, o)
			}
		}
		if len(options) < models.MinPollOptions {
			return nil, utils.NewInvalidInputError("poll needs at least two options")
		}
		poll = models.NewPoll(question, options)
	}

	if c.Text == "" && c.Attachment == nil && poll == nil {
		return nil, utils.NewInvalidInputError("message needs text or an attachment")
	}
	return poll, nil
}

// conflictAs maps ErrConflict from a conditional update to err and passes
// every other error through unchanged.
func conflictAs(err error, mapped error) error {
	if errors.Is(err, database.ErrConflict) {
		return mapped
	}
	return err
}

func replySnapshot(id, sender uuid.UUID, text string, attachment *models.Attachment) *models.ReplySnapshot {
	snap := &models.ReplySnapshot{MessageID: id, SenderID: sender, Text: text}
	if attachment != nil && attachment.Kind == models.AttachmentImage {
		snap.ImageURL = attachment.URL
	}
	return snap
}

package engine

import (
	"context"
	"strings"
	"time"

	"gator-chat/internal/bus"
	"gator-chat/internal/models"
	"gator-chat/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Coordinator owns the direct message lifecycle and re-broadcasts every
// mutation to the parties of the message.
type Coordinator struct {
	*core
	gate *Gate
	log  *zap.SugaredLogger
}

type SendDirectRequest struct {
	SenderID    uuid.UUID
	ReceiverID  uuid.UUID
	Content     Content
	ScheduledAt *time.Time
}

// SendDirect validates, gates and persists a direct message, then pushes it
// to the parties allowed to see it. A future ScheduledAt keeps the message
// hidden from the receiver until the sweep releases it.
func (c *Coordinator) SendDirect(ctx context.Context, req SendDirectRequest) (*models.DirectMessage, error) {
	defer c.observe("send_direct", time.Now())

	poll, err := req.Content.validate()
	if err != nil {
		return nil, err
	}
	now := c.now()
	if req.ScheduledAt != nil && !req.ScheduledAt.After(now) {
		return nil, utils.NewInvalidInputError("scheduled time must be in the future")
	}
	if err := c.gate.CanSend(ctx, req.SenderID, req.ReceiverID); err != nil {
		return nil, err
	}

	msg := &models.DirectMessage{
		ID:         newID(),
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Text:       req.Content.Text,
		Attachment: req.Content.Attachment,
		Poll:       poll,
		Reactions:  map[string]string{},
		CreatedAt:  now,
	}
	if req.Content.ReplyToID != nil {
		original, err := c.visibleMessage(ctx, req.SenderID, *req.Content.ReplyToID)
		if err != nil {
			return nil, err
		}
		if original.Peer(req.SenderID) != req.ReceiverID {
			return nil, utils.NewInvalidInputError("reply must quote a message from this conversation")
		}
		msg.ReplyTo = replySnapshot(original.ID, original.SenderID, original.Text, original.Attachment)
	}

	if req.ScheduledAt != nil {
		release := req.ScheduledAt.UTC()
		msg.State = models.StateScheduled
		msg.ScheduledReleaseAt = &release
	} else {
		msg.State = models.StateSent
		msg.SentAt = &now
	}

	if err := c.store.InsertDirectMessage(ctx, msg); err != nil {
		return nil, err
	}
	c.metrics.MessagePersisted("direct")

	if msg.State == models.StateScheduled {
		c.publish(ctx, msg.Audience(), bus.EventNewMessage, msg)
		c.log.Debugw("scheduled direct message", "messageId", msg.ID, "releaseAt", msg.ScheduledReleaseAt)
		return msg, nil
	}

	delivered := c.deliverIfOnline(ctx, msg)
	c.publish(ctx, msg.Audience(), bus.EventNewMessage, msg)
	if delivered {
		c.publishDelivered(ctx, msg)
	}
	return msg, nil
}

// deliverIfOnline moves msg from sent to delivered when the receiver holds a
// live connection, updating msg in place.
func (c *Coordinator) deliverIfOnline(ctx context.Context, msg *models.DirectMessage) bool {
	if !c.presence.IsOnline(msg.ReceiverID) {
		return false
	}
	at := c.now()
	ok, err := c.store.TransitionDirectMessage(ctx, msg.ID, []models.LifecycleState{models.StateSent}, models.StateDelivered, at)
	if err != nil {
		c.log.Warnw("delivery transition failed", "messageId", msg.ID, "error", err)
		return false
	}
	if ok {
		msg.State = models.StateDelivered
		msg.DeliveredAt = &at
	}
	return ok
}

func (c *Coordinator) publishDelivered(ctx context.Context, msg *models.DirectMessage) {
	c.publish(ctx, msg.Audience(), bus.EventMessageDelivered, bus.MessageDelivered{
		MessageID:   msg.ID,
		ReceiverID:  msg.ReceiverID,
		DeliveredAt: *msg.DeliveredAt,
	})
}

// UserConnected delivers everything still pending for userID and notifies
// the senders. It returns the number of messages moved to delivered.
func (c *Coordinator) UserConnected(ctx context.Context, userID uuid.UUID) (int, error) {
	defer c.observe("user_connected", time.Now())

	pending, err := c.store.FindPendingDelivery(ctx, userID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, msg := range pending {
		if c.deliverIfOnline(ctx, msg) {
			count++
			c.publishDelivered(ctx, msg)
		}
	}
	if count > 0 {
		c.log.Debugw("delivered pending messages", "userId", userID, "count", count)
	}
	return count, nil
}

// MarkRead acknowledges every unread message from peerID to readerID in one
// batch and tells the peer which ids were read.
func (c *Coordinator) MarkRead(ctx context.Context, readerID, peerID uuid.UUID) ([]uuid.UUID, error) {
	defer c.observe("mark_read", time.Now())

	if readerID == peerID {
		return nil, utils.NewInvalidInputError("cannot mark your own messages read")
	}
	unread, err := c.store.FindUnread(ctx, peerID, readerID)
	if err != nil {
		return nil, err
	}

	at := c.now()
	from := []models.LifecycleState{models.StateSent, models.StateDelivered}
	ids := make([]uuid.UUID, 0, len(unread))
	for _, msg := range unread {
		ok, err := c.store.TransitionDirectMessage(ctx, msg.ID, from, models.StateRead, at)
		if err != nil {
			return ids, err
		}
		if ok {
			ids = append(ids, msg.ID)
		}
	}

	if len(ids) > 0 {
		c.publish(ctx, []uuid.UUID{peerID, readerID}, bus.EventMessagesRead, bus.MessagesRead{
			ReaderID:   readerID,
			PeerID:     peerID,
			MessageIDs: ids,
			ReadAt:     at,
		})
	}
	return ids, nil
}

// visibleMessage loads a message and hides it from anyone it is not visible
// to, reporting not found rather than forbidden.
func (c *Coordinator) visibleMessage(ctx context.Context, viewer, id uuid.UUID) (*models.DirectMessage, error) {
	msg, err := c.store.GetDirectMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if !msg.VisibleTo(viewer) {
		return nil, utils.NewMessageNotFoundError(id.String())
	}
	return msg, nil
}

func (c *Coordinator) GetMessage(ctx context.Context, viewer, id uuid.UUID) (*models.DirectMessage, error) {
	return c.visibleMessage(ctx, viewer, id)
}

func (c *Coordinator) GetConversation(ctx context.Context, viewer, peer uuid.UUID) ([]*models.DirectMessage, error) {
	defer c.observe("get_conversation", time.Now())
	return c.store.FindConversation(ctx, viewer, peer, viewer)
}

func (c *Coordinator) ListConversations(ctx context.Context, viewer uuid.UUID) ([]*models.Conversation, error) {
	return c.store.ListConversations(ctx, viewer)
}

// React toggles the actor's reaction. Re-reacting with the same emoji clears
// it and a different emoji replaces it.
func (c *Coordinator) React(ctx context.Context, actorID, messageID uuid.UUID, emoji string) (*models.DirectMessage, error) {
	defer c.observe("react", time.Now())

	if emoji == "" {
		return nil, utils.NewInvalidInputError("emoji is required")
	}
	msg, err := c.visibleMessage(ctx, actorID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID == actorID {
		return nil, utils.NewAppError(utils.ErrSelfReaction, "cannot react to your own message", nil)
	}
	if msg.DeletedForAll {
		return nil, utils.NewForbiddenError("message was deleted")
	}

	updated, set, err := c.store.ToggleReaction(ctx, messageID, actorID, emoji)
	if err != nil {
		return nil, err
	}
	payload := bus.ReactionChanged{MessageID: messageID, UserID: actorID, Reactions: updated.Reactions}
	if set {
		payload.Emoji = emoji
	}
	c.publish(ctx, updated.Audience(), bus.EventReactionChanged, payload)
	return updated, nil
}

// Edit replaces the text of the actor's own message within EditWindow of
// its creation.
func (c *Coordinator) Edit(ctx context.Context, actorID, messageID uuid.UUID, text string) (*models.DirectMessage, error) {
	defer c.observe("edit", time.Now())

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, utils.NewInvalidInputError("text is required")
	}
	msg, err := c.visibleMessage(ctx, actorID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != actorID {
		return nil, utils.NewForbiddenError("only the sender can edit a message")
	}
	if msg.DeletedForAll {
		return nil, utils.NewForbiddenError("message was deleted")
	}
	now := c.now()
	expired := utils.NewAppError(utils.ErrEditWindowExpired, "messages can only be edited within 5 minutes", nil)
	if now.Sub(msg.CreatedAt) > models.EditWindow {
		return nil, expired
	}

	updated, err := c.store.EditDirectMessage(ctx, messageID, actorID, text, now, now.Add(-models.EditWindow))
	if err != nil {
		return nil, conflictAs(err, expired)
	}
	c.publish(ctx, updated.Audience(), bus.EventMessageEdited, bus.MessageEdited{
		MessageID: messageID,
		Text:      updated.Text,
		EditedAt:  now,
	})
	return updated, nil
}

// TogglePin flips the pinned flag. Either party may pin.
func (c *Coordinator) TogglePin(ctx context.Context, actorID, messageID uuid.UUID) (*models.DirectMessage, error) {
	defer c.observe("toggle_pin", time.Now())

	msg, err := c.visibleMessage(ctx, actorID, messageID)
	if err != nil {
		return nil, err
	}
	updated, err := c.store.SetDirectPinned(ctx, messageID, !msg.Pinned)
	if err != nil {
		return nil, err
	}
	c.publish(ctx, updated.Audience(), bus.EventPinnedChanged, bus.PinnedChanged{
		MessageID: messageID,
		Pinned:    updated.Pinned,
		ActorID:   actorID,
	})
	return updated, nil
}

// VotePoll records a single-choice vote, replacing any earlier vote by the
// actor.
func (c *Coordinator) VotePoll(ctx context.Context, actorID, messageID uuid.UUID, option int) (*models.DirectMessage, error) {
	defer c.observe("vote_poll", time.Now())

	msg, err := c.visibleMessage(ctx, actorID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Poll == nil {
		return nil, utils.NewInvalidInputError("message has no poll")
	}
	if option < 0 || option >= len(msg.Poll.Options) {
		return nil, utils.NewInvalidInputError("poll option out of range")
	}

	updated, err := c.store.VoteDirectPoll(ctx, messageID, actorID, option)
	if err != nil {
		return nil, conflictAs(err, utils.NewInvalidInputError("message has no poll"))
	}
	c.publish(ctx, updated.Audience(), bus.EventPollUpdated, bus.PollUpdated{MessageID: messageID, Poll: updated.Poll})
	return updated, nil
}

// DeleteForAll replaces the body with a tombstone for every party.
func (c *Coordinator) DeleteForAll(ctx context.Context, actorID, messageID uuid.UUID) (*models.DirectMessage, error) {
	defer c.observe("delete_for_all", time.Now())

	msg, err := c.visibleMessage(ctx, actorID, messageID)
	if err != nil {
		return nil, err
	}
	forbidden := utils.NewForbiddenError("only the sender can delete a message for everyone")
	if msg.SenderID != actorID {
		return nil, forbidden
	}

	updated, err := c.store.DeleteDirectForAll(ctx, messageID, actorID)
	if err != nil {
		return nil, conflictAs(err, forbidden)
	}
	c.publish(ctx, updated.Audience(), bus.EventDeletedForAll, bus.MessageDeleted{MessageID: messageID, Text: updated.Text})
	return updated, nil
}

// DeleteForMe hides the message from the actor only. Nothing is pushed.
func (c *Coordinator) DeleteForMe(ctx context.Context, actorID, messageID uuid.UUID) error {
	if _, err := c.visibleMessage(ctx, actorID, messageID); err != nil {
		return err
	}
	return c.store.DeleteDirectForMe(ctx, messageID, actorID)
}

// Typing relays a typing indicator to the peer when the pair may message.
func (c *Coordinator) Typing(ctx context.Context, actorID, peerID uuid.UUID, typing bool) error {
	if err := c.gate.CanSend(ctx, actorID, peerID); err != nil {
		return err
	}
	c.publish(ctx, []uuid.UUID{peerID}, bus.EventTyping, bus.Typing{UserID: actorID, PeerID: &actorID, Typing: typing})
	return nil
}

package handlers

import (
	"context"
	"encoding/json"

	"gator-chat/internal/engine"
	"gator-chat/internal/utils"
	"gator-chat/internal/websocket"

	"github.com/google/uuid"
)

// Client intents accepted over the websocket.
const (
	IntentSendDirect   = "send-direct-message"
	IntentSendGroup    = "send-group-message"
	IntentMarkRead     = "mark-read"
	IntentAddReaction  = "add-reaction"
	IntentEditMessage  = "edit-message"
	IntentTogglePin    = "toggle-pin"
	IntentVotePoll     = "vote-poll"
	IntentDeleteForAll = "delete-for-all"
	IntentDeleteForMe  = "delete-for-me"
	IntentTypingStart  = "typing-start"
	IntentTypingStop   = "typing-stop"
)

// ConversationRef names a direct conversation by peer or a group. Exactly one
// of the two is set.
type ConversationRef struct {
	PeerID  *uuid.UUID `json:"peerId,omitempty"`
	GroupID *uuid.UUID `json:"groupId,omitempty"`
}

func (c ConversationRef) validate() error {
	if (c.PeerID == nil) == (c.GroupID == nil) {
		return utils.NewInvalidInputError("exactly one of peerId or groupId is required")
	}
	return nil
}

// MessageRef names a message; GroupID marks it as a group message.
type MessageRef struct {
	MessageID uuid.UUID  `json:"messageId"`
	GroupID   *uuid.UUID `json:"groupId,omitempty"`
}

type ReactionPayload struct {
	MessageID uuid.UUID `json:"messageId"`
	Emoji     string    `json:"emoji"`
}

type EditPayload struct {
	MessageID uuid.UUID `json:"messageId"`
	Text      string    `json:"text"`
}

type VotePayload struct {
	MessageRef
	Option int `json:"option"`
}

// IntentDispatcher routes websocket intents to the engine.
type IntentDispatcher struct {
	engine *engine.Engine
}

func NewIntentDispatcher(eng *engine.Engine) *IntentDispatcher {
	return &IntentDispatcher{engine: eng}
}

var _ websocket.Dispatcher = (*IntentDispatcher)(nil)

func decodePayload(intent websocket.Intent, v interface{}) error {
	if len(intent.Payload) == 0 {
		return utils.NewInvalidInputError("payload is required")
	}
	if err := json.Unmarshal(intent.Payload, v); err != nil {
		return utils.NewInvalidInputError("invalid payload for " + intent.Type)
	}
	return nil
}

func (d *IntentDispatcher) Dispatch(ctx context.Context, userID uuid.UUID, intent websocket.Intent) (interface{}, error) {
	switch intent.Type {
	case IntentSendDirect:
		var p SendDirectPayload
		if err := decodePayload(intent, &p); err != nil {
			return nil, err
		}
		return d.engine.Direct.SendDirect(ctx, p.request(userID))

	case IntentSendGroup:
		var p SendGroupPayload
		if err := decodePayload(intent, &p); err != nil {
			return nil, err
		}
		return d.engine.Groups.SendGroupMessage(ctx, p.request(userID))

	case IntentMarkRead:
		var p ConversationRef
		if err := decodePayload(intent, &p); err != nil {
			return nil, err
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		var ids []uuid.UUID
		var err error
		if p.GroupID != nil {
			ids, err = d.engine.Groups.MarkRead(ctx, userID, *p.GroupID)
		} else {
			ids, err = d.engine.Direct.MarkRead(ctx, userID, *p.PeerID)
		}
		if err != nil {
			return nil, err
		}
		return MarkReadResponse{MessageIDs: ids}, nil

	case IntentAddReaction:
		var p ReactionPayload
		if err := decodePayload(intent, &p); err != nil {
			return nil, err
		}
		return d.engine.Direct.React(ctx, userID, p.MessageID, p.Emoji)

	case IntentEditMessage:
		var p EditPayload
		if err := decodePayload(intent, &p); err != nil {
			return nil, err
		}
		return d.engine.Direct.Edit(ctx, userID, p.MessageID, p.Text)

	case IntentTogglePin:
		var p MessageRef
		if err := decodePayload(intent, &p); err != nil {
			return nil, err
		}
		if p.GroupID != nil {
			return d.toggleGroupPin(ctx, userID, *p.GroupID, p.MessageID)
		}
		return d.engine.Direct.TogglePin(ctx, userID, p.MessageID)

	case IntentVotePoll:
		var p VotePayload
		if err := decodePayload(intent, &p); err != nil {
			return nil, err
		}
		if p.GroupID != nil {
			return d.engine.Groups.VotePoll(ctx, userID, p.MessageID, p.Option)
		}
		return d.engine.Direct.VotePoll(ctx, userID, p.MessageID, p.Option)

	case IntentDeleteForAll:
		var p MessageRef
		if err := decodePayload(intent, &p); err != nil {
			return nil, err
		}
		if p.GroupID != nil {
			return d.engine.Groups.DeleteForAll(ctx, userID, p.MessageID)
		}
		return d.engine.Direct.DeleteForAll(ctx, userID, p.MessageID)

	case IntentDeleteForMe:
		var p MessageRef
		if err := decodePayload(intent, &p); err != nil {
			return nil, err
		}
		if p.GroupID != nil {
			return nil, d.engine.Groups.DeleteForMe(ctx, userID, p.MessageID)
		}
		return nil, d.engine.Direct.DeleteForMe(ctx, userID, p.MessageID)

	case IntentTypingStart, IntentTypingStop:
		var p ConversationRef
		if err := decodePayload(intent, &p); err != nil {
			return nil, err
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
		typing := intent.Type == IntentTypingStart
		if p.GroupID != nil {
			return nil, d.engine.Groups.Typing(ctx, userID, *p.GroupID, typing)
		}
		return nil, d.engine.Direct.Typing(ctx, userID, *p.PeerID, typing)
	}

	return nil, utils.NewInvalidInputError("unknown intent " + intent.Type)
}

// toggleGroupPin unpins messageID when it is the pinned message of the group
// and pins it otherwise.
func (d *IntentDispatcher) toggleGroupPin(ctx context.Context, userID, groupID, messageID uuid.UUID) (interface{}, error) {
	group, err := d.engine.Groups.GetGroup(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	target := &messageID
	if group.PinnedMessageID != nil && *group.PinnedMessageID == messageID {
		target = nil
	}
	return d.engine.Groups.Pin(ctx, userID, groupID, target)
}

package database

import (
	"time"

	"gator-chat/internal/models"

	"github.com/google/uuid"
)

// Documents store ids as strings, matching the rest of the collections.

type AttachmentDocument struct {
	Kind string `bson:"kind"`
	URL  string `bson:"url"`
	Name string `bson:"name,omitempty"`
	Size int64  `bson:"size,omitempty"`
}

type ReplyDocument struct {
	MessageID string `bson:"messageId"`
	SenderID  string `bson:"senderId"`
	Text      string `bson:"text,omitempty"`
	ImageURL  string `bson:"imageUrl,omitempty"`
}

type PollOptionDocument struct {
	Text  string   `bson:"text"`
	Votes []string `bson:"votes"`
}

type PollDocument struct {
	Question string               `bson:"question"`
	Options  []PollOptionDocument `bson:"options"`
}

// DirectMessageDocument represents the MongoDB document structure for direct messages
type DirectMessageDocument struct {
	ID                 string              `bson:"_id"`
	SenderID           string              `bson:"senderId"`
	ReceiverID         string              `bson:"receiverId"`
	Text               string              `bson:"text"`
	Attachment         *AttachmentDocument `bson:"attachment,omitempty"`
	State              string              `bson:"lifecycleState"`
	ScheduledReleaseAt *time.Time          `bson:"scheduledReleaseAt,omitempty"`
	ReplyTo            *ReplyDocument      `bson:"replyTo,omitempty"`
	Reactions          map[string]string   `bson:"reactions"`
	Edited             bool                `bson:"edited"`
	EditedAt           *time.Time          `bson:"editedAt,omitempty"`
	Pinned             bool                `bson:"pinned"`
	DeletedForAll      bool                `bson:"deletedForAll"`
	DeletedFor         []string            `bson:"deletedFor"`
	Poll               *PollDocument       `bson:"poll,omitempty"`
	CreatedAt          time.Time           `bson:"createdAt"`
	SentAt             *time.Time          `bson:"sentAt,omitempty"`
	DeliveredAt        *time.Time          `bson:"deliveredAt,omitempty"`
	ReadAt             *time.Time          `bson:"readAt,omitempty"`
}

type GroupMemberDocument struct {
	UserID   string    `bson:"userId"`
	JoinedAt time.Time `bson:"joinedAt"`
	Role     string    `bson:"role"`
}

type GroupSummaryDocument struct {
	MessageID string    `bson:"messageId"`
	SenderID  *string   `bson:"senderId,omitempty"`
	Type      string    `bson:"type"`
	Text      string    `bson:"text"`
	CreatedAt time.Time `bson:"createdAt"`
}

type GroupDocument struct {
	ID               string                `bson:"_id"`
	Name             string                `bson:"name"`
	Description      string                `bson:"description"`
	AvatarURL        string                `bson:"avatarUrl"`
	OwnerID          string                `bson:"ownerId"`
	Members          []GroupMemberDocument `bson:"members"`
	PinnedMessageID  *string               `bson:"pinnedMessageId,omitempty"`
	AnnouncementOnly bool                  `bson:"announcementOnly"`
	LastMessage      *GroupSummaryDocument `bson:"lastMessage,omitempty"`
	CreatedAt        time.Time             `bson:"createdAt"`
	UpdatedAt        time.Time             `bson:"updatedAt"`
}

type GroupMessageDocument struct {
	ID            string              `bson:"_id"`
	GroupID       string              `bson:"groupId"`
	SenderID      *string             `bson:"senderId,omitempty"`
	Type          string              `bson:"type"`
	Text          string              `bson:"text"`
	Attachment    *AttachmentDocument `bson:"attachment,omitempty"`
	ReplyTo       *ReplyDocument      `bson:"replyTo,omitempty"`
	ReadBy        []string            `bson:"readBy"`
	DeletedFor    []string            `bson:"deletedFor"`
	DeletedForAll bool                `bson:"deletedForAll"`
	Mentions      []string            `bson:"mentions"`
	Poll          *PollDocument       `bson:"poll,omitempty"`
	CreatedAt     time.Time           `bson:"createdAt"`
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func parseIDs(ids []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, s := range ids {
		if id, err := uuid.Parse(s); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func optionalIDString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func parseOptionalID(s *string) *uuid.UUID {
	if s == nil {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}

func toAttachmentDocument(a *models.Attachment) *AttachmentDocument {
	if a == nil {
		return nil
	}
	return &AttachmentDocument{Kind: string(a.Kind), URL: a.URL, Name: a.Name, Size: a.Size}
}

func (d *AttachmentDocument) model() *models.Attachment {
	if d == nil {
		return nil
	}
	return &models.Attachment{Kind: models.AttachmentKind(d.Kind), URL: d.URL, Name: d.Name, Size: d.Size}
}

func toReplyDocument(r *models.ReplySnapshot) *ReplyDocument {
	if r == nil {
		return nil
	}
	return &ReplyDocument{
		MessageID: r.MessageID.String(),
		SenderID:  r.SenderID.String(),
		Text:      r.Text,
		ImageURL:  r.ImageURL,
	}
}

func (d *ReplyDocument) model() *models.ReplySnapshot {
	if d == nil {
		return nil
	}
	messageID, _ := uuid.Parse(d.MessageID)
	senderID, _ := uuid.Parse(d.SenderID)
	return &models.ReplySnapshot{MessageID: messageID, SenderID: senderID, Text: d.Text, ImageURL: d.ImageURL}
}

func toPollDocument(p *models.Poll) *PollDocument {
	if p == nil {
		return nil
	}
	doc := &PollDocument{Question: p.Question, Options: make([]PollOptionDocument, 0, len(p.Options))}
	for _, o := range p.Options {
		doc.Options = append(doc.Options, PollOptionDocument{Text: o.Text, Votes: idStrings(o.Votes)})
	}
	return doc
}

func (d *PollDocument) model() *models.Poll {
	if d == nil {
		return nil
	}
	p := &models.Poll{Question: d.Question, Options: make([]models.PollOption, 0, len(d.Options))}
	for _, o := range d.Options {
		p.Options = append(p.Options, models.PollOption{Text: o.Text, Votes: parseIDs(o.Votes)})
	}
	return p
}

func toDirectMessageDocument(m *models.DirectMessage) DirectMessageDocument {
	reactions := make(map[string]string, len(m.Reactions))
	for k, v := range m.Reactions {
		reactions[k] = v
	}
	return DirectMessageDocument{
		ID:                 m.ID.String(),
		SenderID:           m.SenderID.String(),
		ReceiverID:         m.ReceiverID.String(),
		Text:               m.Text,
		Attachment:         toAttachmentDocument(m.Attachment),
		State:              string(m.State),
		ScheduledReleaseAt: m.ScheduledReleaseAt,
		ReplyTo:            toReplyDocument(m.ReplyTo),
		Reactions:          reactions,
		Edited:             m.Edited,
		EditedAt:           m.EditedAt,
		Pinned:             m.Pinned,
		DeletedForAll:      m.DeletedForAll,
		DeletedFor:         idStrings(m.DeletedFor),
		Poll:               toPollDocument(m.Poll),
		CreatedAt:          m.CreatedAt,
		SentAt:             m.SentAt,
		DeliveredAt:        m.DeliveredAt,
		ReadAt:             m.ReadAt,
	}
}

func (d *DirectMessageDocument) model() *models.DirectMessage {
	id, _ := uuid.Parse(d.ID)
	senderID, _ := uuid.Parse(d.SenderID)
	receiverID, _ := uuid.Parse(d.ReceiverID)
	reactions := d.Reactions
	if reactions == nil {
		reactions = map[string]string{}
	}
	return &models.DirectMessage{
		ID:                 id,
		SenderID:           senderID,
		ReceiverID:         receiverID,
		Text:               d.Text,
		Attachment:         d.Attachment.model(),
		State:              models.LifecycleState(d.State),
		ScheduledReleaseAt: d.ScheduledReleaseAt,
		ReplyTo:            d.ReplyTo.model(),
		Reactions:          reactions,
		Edited:             d.Edited,
		EditedAt:           d.EditedAt,
		Pinned:             d.Pinned,
		DeletedForAll:      d.DeletedForAll,
		DeletedFor:         parseIDs(d.DeletedFor),
		Poll:               d.Poll.model(),
		CreatedAt:          d.CreatedAt,
		SentAt:             d.SentAt,
		DeliveredAt:        d.DeliveredAt,
		ReadAt:             d.ReadAt,
	}
}

func toGroupDocument(g *models.Group) GroupDocument {
	doc := GroupDocument{
		ID:               g.ID.String(),
		Name:             g.Name,
		Description:      g.Description,
		AvatarURL:        g.AvatarURL,
		OwnerID:          g.OwnerID.String(),
		Members:          make([]GroupMemberDocument, 0, len(g.Members)),
		PinnedMessageID:  optionalIDString(g.PinnedMessageID),
		AnnouncementOnly: g.AnnouncementOnly,
		CreatedAt:        g.CreatedAt,
		UpdatedAt:        g.UpdatedAt,
	}
	for _, m := range g.Members {
		doc.Members = append(doc.Members, toMemberDocument(m))
	}
	if g.LastMessage != nil {
		doc.LastMessage = toSummaryDocument(g.LastMessage)
	}
	return doc
}

func toMemberDocument(m models.GroupMember) GroupMemberDocument {
	return GroupMemberDocument{UserID: m.UserID.String(), JoinedAt: m.JoinedAt, Role: string(m.Role)}
}

func toSummaryDocument(s *models.GroupMessageSummary) *GroupSummaryDocument {
	return &GroupSummaryDocument{
		MessageID: s.MessageID.String(),
		SenderID:  optionalIDString(s.SenderID),
		Type:      string(s.Type),
		Text:      s.Text,
		CreatedAt: s.CreatedAt,
	}
}

func (d *GroupDocument) model() *models.Group {
	id, _ := uuid.Parse(d.ID)
	ownerID, _ := uuid.Parse(d.OwnerID)
	g := &models.Group{
		ID:               id,
		Name:             d.Name,
		Description:      d.Description,
		AvatarURL:        d.AvatarURL,
		OwnerID:          ownerID,
		Members:          make([]models.GroupMember, 0, len(d.Members)),
		PinnedMessageID:  parseOptionalID(d.PinnedMessageID),
		AnnouncementOnly: d.AnnouncementOnly,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	for _, m := range d.Members {
		userID, err := uuid.Parse(m.UserID)
		if err != nil {
			continue
		}
		g.Members = append(g.Members, models.GroupMember{UserID: userID, JoinedAt: m.JoinedAt, Role: models.GroupRole(m.Role)})
	}
	if d.LastMessage != nil {
		messageID, _ := uuid.Parse(d.LastMessage.MessageID)
		g.LastMessage = &models.GroupMessageSummary{
			MessageID: messageID,
			SenderID:  parseOptionalID(d.LastMessage.SenderID),
			Type:      models.MessageType(d.LastMessage.Type),
			Text:      d.LastMessage.Text,
			CreatedAt: d.LastMessage.CreatedAt,
		}
	}
	return g
}

func toGroupMessageDocument(m *models.GroupMessage) GroupMessageDocument {
	return GroupMessageDocument{
		ID:            m.ID.String(),
		GroupID:       m.GroupID.String(),
		SenderID:      optionalIDString(m.SenderID),
		Type:          string(m.Type),
		Text:          m.Text,
		Attachment:    toAttachmentDocument(m.Attachment),
		ReplyTo:       toReplyDocument(m.ReplyTo),
		ReadBy:        idStrings(m.ReadBy),
		DeletedFor:    idStrings(m.DeletedFor),
		DeletedForAll: m.DeletedForAll,
		Mentions:      idStrings(m.Mentions),
		Poll:          toPollDocument(m.Poll),
		CreatedAt:     m.CreatedAt,
	}
}

func (d *GroupMessageDocument) model() *models.GroupMessage {
	id, _ := uuid.Parse(d.ID)
	groupID, _ := uuid.Parse(d.GroupID)
	return &models.GroupMessage{
		ID:            id,
		GroupID:       groupID,
		SenderID:      parseOptionalID(d.SenderID),
		Type:          models.MessageType(d.Type),
		Text:          d.Text,
		Attachment:    d.Attachment.model(),
		ReplyTo:       d.ReplyTo.model(),
		ReadBy:        parseIDs(d.ReadBy),
		DeletedFor:    parseIDs(d.DeletedFor),
		DeletedForAll: d.DeletedForAll,
		Mentions:      parseIDs(d.Mentions),
		Poll:          d.Poll.model(),
		CreatedAt:     d.CreatedAt,
	}
}

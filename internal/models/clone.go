package models

import (
	"time"

	"github.com/google/uuid"
)

func cloneIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return nil
	}
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func (a *Attachment) Clone() *Attachment {
	if a == nil {
		return nil
	}
	v := *a
	return &v
}

func (r *ReplySnapshot) Clone() *ReplySnapshot {
	if r == nil {
		return nil
	}
	v := *r
	return &v
}

func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	out := &Poll{Question: p.Question, Options: make([]PollOption, len(p.Options))}
	for i, o := range p.Options {
		out.Options[i] = PollOption{Text: o.Text, Votes: cloneIDs(o.Votes)}
		if out.Options[i].Votes == nil {
			out.Options[i].Votes = []uuid.UUID{}
		}
	}
	return out
}

func (m *DirectMessage) Clone() *DirectMessage {
	if m == nil {
		return nil
	}
	out := *m
	out.Attachment = m.Attachment.Clone()
	out.ReplyTo = m.ReplyTo.Clone()
	out.Poll = m.Poll.Clone()
	out.DeletedFor = cloneIDs(m.DeletedFor)
	out.ScheduledReleaseAt = cloneTime(m.ScheduledReleaseAt)
	out.EditedAt = cloneTime(m.EditedAt)
	out.SentAt = cloneTime(m.SentAt)
	out.DeliveredAt = cloneTime(m.DeliveredAt)
	out.ReadAt = cloneTime(m.ReadAt)
	out.Reactions = make(map[string]string, len(m.Reactions))
	for k, v := range m.Reactions {
		out.Reactions[k] = v
	}
	return &out
}

func (m *GroupMessage) Clone() *GroupMessage {
	if m == nil {
		return nil
	}
	out := *m
	out.SenderID = cloneUUID(m.SenderID)
	out.Attachment = m.Attachment.Clone()
	out.ReplyTo = m.ReplyTo.Clone()
	out.Poll = m.Poll.Clone()
	out.ReadBy = cloneIDs(m.ReadBy)
	out.DeletedFor = cloneIDs(m.DeletedFor)
	out.Mentions = cloneIDs(m.Mentions)
	return &out
}

func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	out := *g
	out.Members = make([]GroupMember, len(g.Members))
	copy(out.Members, g.Members)
	out.PinnedMessageID = cloneUUID(g.PinnedMessageID)
	if g.LastMessage != nil {
		lm := *g.LastMessage
		lm.SenderID = cloneUUID(g.LastMessage.SenderID)
		out.LastMessage = &lm
	}
	return &out
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Friends = cloneIDs(u.Friends)
	out.BlockedUsers = cloneIDs(u.BlockedUsers)
	return &out
}

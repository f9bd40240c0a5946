package models

import (
	"github.com/google/uuid"
)

// AttachmentKind names the union member of a message body besides text.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment references a blob previously stored by the uploader.
type Attachment struct {
	Kind AttachmentKind `json:"kind"`
	URL  string         `json:"url"`
	Name string         `json:"name,omitempty"`
	Size int64          `json:"size,omitempty"`
}

// Valid reports whether the attachment has a known kind and a reference.
func (a *Attachment) Valid() bool {
	if a == nil || a.URL == "" {
		return false
	}
	switch a.Kind {
	case AttachmentImage, AttachmentAudio, AttachmentFile:
		return true
	}
	return false
}

// ReplySnapshot is the quoted message captured when the reply was sent. It
// does not follow later edits or deletions of the original.
type ReplySnapshot struct {
	MessageID uuid.UUID `json:"messageId"`
	SenderID  uuid.UUID `json:"senderId"`
	Text      string    `json:"text,omitempty"`
	ImageURL  string    `json:"imageUrl,omitempty"`
}

// MinPollOptions is the smallest number of options a poll may have.
const MinPollOptions = 2

type PollOption struct {
	Text  string      `json:"text"`
	Votes []uuid.UUID `json:"votes"`
}

type Poll struct {
	Question string       `json:"question"`
	Options  []PollOption `json:"options"`
}

// NewPoll builds a poll with empty voter sets.
func NewPoll(question string, options []string) *Poll {
	p := &Poll{Question: question, Options: make([]PollOption, 0, len(options))}
	for _, o := range options {
		p.Options = append(p.Options, PollOption{Text: o, Votes: []uuid.UUID{}})
	}
	return p
}

// Vote records a single-choice vote for userID, removing any earlier vote by
// the same user from every option.
func (p *Poll) Vote(userID uuid.UUID, option int) {
	for i := range p.Options {
		p.Options[i].Votes = removeID(p.Options[i].Votes, userID)
	}
	p.Options[option].Votes = append(p.Options[option].Votes, userID)
}

func removeID(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

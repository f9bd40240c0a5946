package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the read model of the social graph consumed by the gate.
type User struct {
	ID           uuid.UUID   `json:"id"`
	Username     string      `json:"username"`
	AvatarURL    string      `json:"avatarUrl,omitempty"`
	Friends      []uuid.UUID `json:"friends"`
	BlockedUsers []uuid.UUID `json:"blockedUsers"`
	CreatedAt    time.Time   `json:"createdAt"`
	LastActive   time.Time   `json:"lastActive"`
}

func (u *User) HasFriend(id uuid.UUID) bool {
	return containsID(u.Friends, id)
}

func (u *User) HasBlocked(id uuid.UUID) bool {
	return containsID(u.BlockedUsers, id)
}

package models

import "time"

// Conversation represents a direct or group conversation.
type Conversation struct {
	ID           string        `db:"id" json:"id"`
	Name         string        `db:"name" json:"name,omitempty"`
	IsGroup      bool          `db:"is_group" json:"is_group"`
	OwnerID      string        `db:"owner_id" json:"owner_id,omitempty"`
	AvatarURL    string        `db:"avatar_url" json:"avatar_url,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
}

// Participant is a member of a conversation.
type Participant struct {
	ConversationID string     `db:"conversation_id" json:"conversation_id"`
	UserID         string     `db:"user_id" json:"user_id"`
	Name           string     `db:"name" json:"name,omitempty"`
	JoinedAt       time.Time  `db:"joined_at" json:"joined_at"`
	LastSeen       *time.Time `db:"last_seen" json:"last_seen,omitempty"`
}

// ConversationSettings models per-user conversation state.
type ConversationSettings struct {
	ConversationID string `db:"conversation_id" json:"conversation_id"`
	UserID         string `db:"user_id" json:"user_id"`
	Muted          bool   `db:"muted" json:"muted"`
	Pinned         bool   `db:"pinned" json:"pinned"`
	Archived       bool   `db:"archived" json:"archived"`
}

// ConversationSummary provides an API-friendly view of a conversation for a user.
type ConversationSummary struct {
	ConversationID string    `db:"id" json:"conversation_id"`
	Name           string    `db:"name" json:"name,omitempty"`
	IsGroup        bool      `db:"is_group" json:"is_group"`
	Muted          bool      `db:"muted" json:"muted"`
	Pinned         bool      `db:"pinned" json:"pinned"`
	Archived       bool      `db:"archived" json:"archived"`
	Created        time.Time `db:"created_at" json:"created_at"`
}

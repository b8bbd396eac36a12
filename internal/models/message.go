package models

import "time"

// Message represents a message within a conversation. The ID is
// server-assigned and unique within the conversation's message list.
type Message struct {
	ID             string       `db:"id" json:"id"`
	ConversationID string       `db:"conversation_id" json:"conversation_id"`
	SenderID       string       `db:"sender_id" json:"sender_id"`
	SenderName     string       `db:"sender_name" json:"sender_name,omitempty"`
	Content        *string      `db:"content" json:"content"`
	Edited         bool         `db:"edited" json:"edited"`
	Deleted        bool         `db:"deleted" json:"deleted"`
	Reactions      ReactionSet  `json:"reactions,omitempty"`
	DeliveredTo    []string     `json:"delivered_to,omitempty"`
	ReadBy         []string     `json:"read_by,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// ReactionSet maps an emoji to the set of user IDs that reacted with it.
type ReactionSet map[string][]string

// Add records a reaction. Adding the same (emoji, user) pair twice is a no-op.
func (r ReactionSet) Add(emoji, userID string) {
	for _, id := range r[emoji] {
		if id == userID {
			return
		}
	}
	r[emoji] = append(r[emoji], userID)
}

// Remove drops a user's reaction for an emoji. Empty emoji buckets are deleted.
func (r ReactionSet) Remove(emoji, userID string) {
	users := r[emoji]
	for i, id := range users {
		if id == userID {
			r[emoji] = append(users[:i], users[i+1:]...)
			break
		}
	}
	if len(r[emoji]) == 0 {
		delete(r, emoji)
	}
}

// Attachment is a file attached to a message. Attachment-only messages
// carry a nil Content.
type Attachment struct {
	ID        string `db:"id" json:"id"`
	MessageID string `db:"message_id" json:"message_id"`
	URL       string `db:"url" json:"url"`
	Name      string `db:"name" json:"name"`
	MimeType  string `db:"mime_type" json:"mime_type"`
	Size      int64  `db:"size" json:"size"`
}

// ContainsID reports whether ids already holds id.
func ContainsID(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

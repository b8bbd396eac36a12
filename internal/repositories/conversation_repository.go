package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	CreateConversation(ctx context.Context, ownerID, name string, isGroup bool, memberIDs []string) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ListConversations(ctx context.Context, userID string, archived bool) ([]models.ConversationSummary, error)
	UpdateSettings(ctx context.Context, conversationID, userID string, muted, pinned, archived *bool) error
	AddMember(ctx context.Context, conversationID, userID, name string) error
	RemoveMember(ctx context.Context, conversationID, userID string) error
	UpdateLastSeen(ctx context.Context, conversationID, userID string) error
	SetAvatarURL(ctx context.Context, conversationID, avatarURL string) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// CreateConversation creates a conversation with its initial members. The
// owner is always a member.
func (r *ConversationRepo) CreateConversation(ctx context.Context, ownerID, name string, isGroup bool, memberIDs []string) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer tx.Rollback()

	var conv models.Conversation
	id := uuid.NewString()
	if err := tx.QueryRowxContext(ctx,
		`INSERT INTO conversations (id, name, is_group, owner_id) VALUES ($1, $2, $3, $4)
         RETURNING id, name, is_group, owner_id, avatar_url, created_at`,
		id, name, isGroup, ownerID).
		Scan(&conv.ID, &conv.Name, &conv.IsGroup, &conv.OwnerID, &conv.AvatarURL, &conv.CreatedAt); err != nil {
		return models.Conversation{}, err
	}

	members := append([]string{ownerID}, memberIDs...)
	seen := map[string]bool{}
	for _, userID := range members {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1, $2)`,
			conv.ID, userID); err != nil {
			return models.Conversation{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return r.GetConversation(ctx, conv.ID)
}

// GetConversation fetches a conversation and its participants.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT id, name, is_group, owner_id, avatar_url, created_at FROM conversations WHERE id=$1`,
		conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}

	err = r.db.SelectContext(ctx, &conv.Participants,
		`SELECT conversation_id, user_id, name, joined_at, last_seen FROM conversation_members
         WHERE conversation_id=$1 ORDER BY joined_at`, conversationID)
	return conv, err
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id=$1 AND user_id=$2)`,
		conversationID, userID)
	return exists, err
}

// ListConversations returns the user's conversations, split by archived
// state, pinned first.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID string, archived bool) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.name, c.is_group, c.created_at,
            COALESCE(s.muted, FALSE) AS muted,
            COALESCE(s.pinned, FALSE) AS pinned,
            COALESCE(s.archived, FALSE) AS archived
        FROM conversations c
        JOIN conversation_members m ON m.conversation_id = c.id AND m.user_id=$1
        LEFT JOIN conversation_settings s ON s.conversation_id = c.id AND s.user_id=$1
        WHERE COALESCE(s.archived, FALSE) = $2
        ORDER BY COALESCE(s.pinned, FALSE) DESC, c.created_at DESC`

	var result []models.ConversationSummary
	err := r.db.SelectContext(ctx, &result, query, userID, archived)
	return result, err
}

// UpdateSettings patches the user's per-conversation flags. Nil fields
// keep their current value.
func (r *ConversationRepo) UpdateSettings(ctx context.Context, conversationID, userID string, muted, pinned, archived *bool) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conversation_settings (conversation_id, user_id, muted, pinned, archived)
         VALUES ($1, $2, COALESCE($3, FALSE), COALESCE($4, FALSE), COALESCE($5, FALSE))
         ON CONFLICT (conversation_id, user_id) DO UPDATE SET
            muted = COALESCE($3, conversation_settings.muted),
            pinned = COALESCE($4, conversation_settings.pinned),
            archived = COALESCE($5, conversation_settings.archived)`,
		conversationID, userID, muted, pinned, archived)
	return err
}

// AddMember adds a user to the conversation. Re-adding is a no-op.
func (r *ConversationRepo) AddMember(ctx context.Context, conversationID, userID, name string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conversation_members (conversation_id, user_id, name) VALUES ($1, $2, $3)
         ON CONFLICT (conversation_id, user_id) DO NOTHING`,
		conversationID, userID, name)
	return err
}

// RemoveMember removes a user from the conversation.
func (r *ConversationRepo) RemoveMember(ctx context.Context, conversationID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM conversation_members WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, userID)
	return err
}

// UpdateLastSeen stamps the user's last-seen time in the conversation.
func (r *ConversationRepo) UpdateLastSeen(ctx context.Context, conversationID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE conversation_members SET last_seen = NOW() WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, userID)
	return err
}

// SetAvatarURL updates the conversation avatar.
func (r *ConversationRepo) SetAvatarURL(ctx context.Context, conversationID, avatarURL string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET avatar_url=$2 WHERE id=$1`, conversationID, avatarURL)
	return err
}

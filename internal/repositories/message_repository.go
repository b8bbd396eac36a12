package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository abstracts message persistence.
type MessageRepository interface {
	CreateMessage(ctx context.Context, conversationID, senderID, senderName string, content *string, attachments []models.Attachment) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	EditMessage(ctx context.Context, messageID, senderID, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID, senderID string) error
	ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]models.Message, error)
	AddReaction(ctx context.Context, messageID, userID, emoji string) error
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) error
	AddReceipts(ctx context.Context, messageIDs []string, userID, kind string) error
}

// MessageRepo is a sqlx implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage persists a message with its attachments and returns the
// full record including the server-assigned id.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID, senderID, senderName string, content *string, attachments []models.Attachment) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var msg models.Message
	id := uuid.NewString()
	if err := tx.QueryRowxContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, sender_name, content)
         VALUES ($1, $2, $3, $4, $5)
         RETURNING id, conversation_id, sender_id, sender_name, content, edited, deleted, created_at`,
		id, conversationID, senderID, senderName, content).
		Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderName, &msg.Content, &msg.Edited, &msg.Deleted, &msg.CreatedAt); err != nil {
		return models.Message{}, err
	}

	for _, att := range attachments {
		attID := uuid.NewString()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attachments (id, message_id, url, name, mime_type, size) VALUES ($1, $2, $3, $4, $5, $6)`,
			attID, msg.ID, att.URL, att.Name, att.MimeType, att.Size); err != nil {
			return models.Message{}, err
		}
		att.ID = attID
		att.MessageID = msg.ID
		msg.Attachments = append(msg.Attachments, att)
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// GetMessage fetches a single message with its reactions and receipts.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT id, conversation_id, sender_id, sender_name, content, edited, deleted, created_at
         FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	if err := r.hydrate(ctx, []*models.Message{&msg}); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// EditMessage replaces a message's content. Only the sender may edit.
func (r *MessageRepo) EditMessage(ctx context.Context, messageID, senderID, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx,
		`UPDATE messages SET content=$3, edited=TRUE WHERE id=$1 AND sender_id=$2 AND deleted=FALSE
         RETURNING id, conversation_id, sender_id, sender_name, content, edited, deleted, created_at`,
		messageID, senderID, content).
		Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderName, &msg.Content, &msg.Edited, &msg.Deleted, &msg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// DeleteMessage tombstones a message: the row stays, the content goes.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID, senderID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET deleted=TRUE, content=NULL WHERE id=$1 AND sender_id=$2`,
		messageID, senderID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ListMessages returns a page of messages ordered oldest first. A
// non-empty before id restricts to messages created earlier than it.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT id, conversation_id, sender_id, sender_name, content, edited, deleted, created_at
        FROM messages WHERE conversation_id=$1`
	args := []interface{}{conversationID}
	if before != "" {
		query += ` AND created_at < (SELECT created_at FROM messages WHERE id=$2)`
		args = append(args, before)
	}
	query += ` ORDER BY created_at DESC LIMIT ` + strconv.Itoa(limit)

	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, err
	}

	// Reverse to oldest-first for the client's append-ordered list.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	refs := make([]*models.Message, len(msgs))
	for i := range msgs {
		refs[i] = &msgs[i]
	}
	if err := r.hydrate(ctx, refs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// AddReaction records a reaction; duplicates are no-ops.
func (r *MessageRepo) AddReaction(ctx context.Context, messageID, userID, emoji string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO message_reactions (message_id, emoji, user_id) VALUES ($1, $2, $3)
         ON CONFLICT DO NOTHING`, messageID, emoji, userID)
	return err
}

// RemoveReaction removes a user's reaction for an emoji.
func (r *MessageRepo) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM message_reactions WHERE message_id=$1 AND emoji=$2 AND user_id=$3`,
		messageID, emoji, userID)
	return err
}

// AddReceipts records read or delivered receipts with set semantics.
func (r *MessageRepo) AddReceipts(ctx context.Context, messageIDs []string, userID, kind string) error {
	for _, messageID := range messageIDs {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO message_receipts (message_id, user_id, kind) VALUES ($1, $2, $3)
             ON CONFLICT DO NOTHING`, messageID, userID, kind); err != nil {
			return err
		}
	}
	return nil
}

// hydrate loads reactions, receipts and attachments for a message batch.
func (r *MessageRepo) hydrate(ctx context.Context, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	ids := make([]string, len(msgs))
	byID := make(map[string]*models.Message, len(msgs))
	for i, msg := range msgs {
		ids[i] = msg.ID
		byID[msg.ID] = msg
	}

	query, args, err := sqlx.In(`SELECT message_id, emoji, user_id FROM message_reactions WHERE message_id IN (?)`, ids)
	if err != nil {
		return err
	}
	rows, err := r.db.QueryxContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return err
	}
	for rows.Next() {
		var messageID, emoji, userID string
		if err := rows.Scan(&messageID, &emoji, &userID); err != nil {
			rows.Close()
			return err
		}
		msg := byID[messageID]
		if msg.Reactions == nil {
			msg.Reactions = models.ReactionSet{}
		}
		msg.Reactions.Add(emoji, userID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	query, args, err = sqlx.In(`SELECT message_id, user_id, kind FROM message_receipts WHERE message_id IN (?)`, ids)
	if err != nil {
		return err
	}
	rows, err = r.db.QueryxContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return err
	}
	for rows.Next() {
		var messageID, userID, kind string
		if err := rows.Scan(&messageID, &userID, &kind); err != nil {
			rows.Close()
			return err
		}
		msg := byID[messageID]
		if kind == "read" {
			msg.ReadBy = append(msg.ReadBy, userID)
		} else {
			msg.DeliveredTo = append(msg.DeliveredTo, userID)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	query, args, err = sqlx.In(`SELECT id, message_id, url, name, mime_type, size FROM attachments WHERE message_id IN (?)`, ids)
	if err != nil {
		return err
	}
	var attachments []models.Attachment
	if err := r.db.SelectContext(ctx, &attachments, r.db.Rebind(query), args...); err != nil {
		return err
	}
	for _, att := range attachments {
		msg := byID[att.MessageID]
		msg.Attachments = append(msg.Attachments, att)
	}
	return nil
}

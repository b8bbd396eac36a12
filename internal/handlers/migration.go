package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-sync/internal/migration"
	"chat-sync/internal/telemetry"
)

// MigrationHandler imports conversations and messages from a legacy
// Postgres install. Jobs run in-process; state lives in memory and is
// lost on restart, which is acceptable for a one-shot import tool.
type MigrationHandler struct {
	dest  *sqlx.DB
	audit *telemetry.AuditEmitter

	mu   sync.RWMutex
	jobs map[string]*migration.JobStatus
}

// NewMigrationHandler builds a MigrationHandler writing into dest.
func NewMigrationHandler(dest *sqlx.DB, audit *telemetry.AuditEmitter) *MigrationHandler {
	return &MigrationHandler{
		dest:  dest,
		audit: audit,
		jobs:  make(map[string]*migration.JobStatus),
	}
}

func sourceDSN(params migration.ConnectionParams) string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		params.Host, params.Port, params.Database, params.Username, params.Password)
}

func openSource(ctx context.Context, params migration.ConnectionParams) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", sourceDSN(params))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// TestConnection verifies the source database is reachable.
func (h *MigrationHandler) TestConnection(c *gin.Context) {
	var params migration.ConnectionParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	src, err := openSource(c.Request.Context(), params)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "source unreachable"})
		return
	}
	src.Close()

	c.Status(http.StatusNoContent)
}

// Preview counts what a migration from the source would import.
func (h *MigrationHandler) Preview(c *gin.Context) {
	var params migration.ConnectionParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	src, err := openSource(c.Request.Context(), params)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "source unreachable"})
		return
	}
	defer src.Close()

	var preview migration.Preview
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM conversations", &preview.Conversations},
		{"SELECT COUNT(*) FROM messages", &preview.Messages},
		{"SELECT COUNT(DISTINCT sender_id) FROM messages", &preview.Users},
		{"SELECT COUNT(*) FROM attachments", &preview.Attachments},
	}
	for _, count := range counts {
		if err := src.GetContext(c.Request.Context(), count.dest, count.query); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to inspect source"})
			return
		}
	}

	c.JSON(http.StatusOK, preview)
}

// StartJob launches an import job and returns its id.
func (h *MigrationHandler) StartJob(c *gin.Context) {
	var params migration.ConnectionParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID := uuid.NewString()
	job := &migration.JobStatus{
		JobID:     jobID,
		Status:    migration.StatusPending,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	h.mu.Lock()
	h.jobs[jobID] = job
	h.mu.Unlock()

	if h.audit != nil {
		h.audit.Emit(c.Request.Context(), "INFO", "Migration started", requestIDFromContext(c), userIDFromContext(c))
	}
	go h.run(jobID, params)

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// JobStatus reports the current state of a job.
func (h *MigrationHandler) JobStatus(c *gin.Context) {
	h.mu.RLock()
	job, ok := h.jobs[c.Param("job_id")]
	var snapshot migration.JobStatus
	if ok {
		snapshot = *job
	}
	h.mu.RUnlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *MigrationHandler) update(jobID string, fn func(*migration.JobStatus)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if job, ok := h.jobs[jobID]; ok {
		fn(job)
		job.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}
}

func (h *MigrationHandler) fail(jobID string, err error) {
	log.Printf("migration job %s failed: %v", jobID, err)
	h.update(jobID, func(job *migration.JobStatus) {
		job.Status = migration.StatusFailed
		job.Error = err.Error()
	})
}

func (h *MigrationHandler) run(jobID string, params migration.ConnectionParams) {
	ctx := context.Background()

	src, err := openSource(ctx, params)
	if err != nil {
		h.fail(jobID, err)
		return
	}
	defer src.Close()

	var total int
	if err := src.GetContext(ctx, &total, "SELECT COUNT(*) FROM messages"); err != nil {
		h.fail(jobID, err)
		return
	}
	h.update(jobID, func(job *migration.JobStatus) {
		job.Status = migration.StatusRunning
		job.Total = total
	})

	if err := h.copyConversations(ctx, src); err != nil {
		h.fail(jobID, err)
		return
	}
	if err := h.copyMessages(ctx, src, jobID); err != nil {
		h.fail(jobID, err)
		return
	}

	h.update(jobID, func(job *migration.JobStatus) {
		job.Status = migration.StatusCompleted
		job.Progress = job.Total
	})
	log.Printf("migration job %s completed: %d messages", jobID, total)
}

type legacyConversation struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	IsGroup   bool      `db:"is_group"`
	OwnerID   string    `db:"owner_id"`
	CreatedAt time.Time `db:"created_at"`
}

type legacyMember struct {
	ConversationID string `db:"conversation_id"`
	UserID         string `db:"user_id"`
	Name           string `db:"name"`
}

type legacyMessage struct {
	ID             string    `db:"id"`
	ConversationID string    `db:"conversation_id"`
	SenderID       string    `db:"sender_id"`
	SenderName     string    `db:"sender_name"`
	Content        *string   `db:"content"`
	CreatedAt      time.Time `db:"created_at"`
}

func (h *MigrationHandler) copyConversations(ctx context.Context, src *sqlx.DB) error {
	var convs []legacyConversation
	if err := src.SelectContext(ctx, &convs,
		`SELECT id, name, is_group, owner_id, created_at FROM conversations ORDER BY created_at`); err != nil {
		return err
	}
	for _, conv := range convs {
		if _, err := h.dest.ExecContext(ctx,
			`INSERT INTO conversations (id, name, is_group, owner_id, created_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO NOTHING`,
			conv.ID, conv.Name, conv.IsGroup, conv.OwnerID, conv.CreatedAt); err != nil {
			return err
		}
	}

	var members []legacyMember
	if err := src.SelectContext(ctx, &members,
		`SELECT conversation_id, user_id, name FROM conversation_members`); err != nil {
		return err
	}
	for _, member := range members {
		if _, err := h.dest.ExecContext(ctx,
			`INSERT INTO conversation_members (conversation_id, user_id, name, joined_at)
			 VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (conversation_id, user_id) DO NOTHING`,
			member.ConversationID, member.UserID, member.Name); err != nil {
			return err
		}
	}
	return nil
}

func (h *MigrationHandler) copyMessages(ctx context.Context, src *sqlx.DB, jobID string) error {
	const batchSize = 500

	offset := 0
	for {
		var msgs []legacyMessage
		if err := src.SelectContext(ctx, &msgs,
			`SELECT id, conversation_id, sender_id, sender_name, content, created_at
			 FROM messages ORDER BY created_at, id LIMIT $1 OFFSET $2`, batchSize, offset); err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		for _, msg := range msgs {
			if _, err := h.dest.ExecContext(ctx,
				`INSERT INTO messages (id, conversation_id, sender_id, sender_name, content, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (id) DO NOTHING`,
				msg.ID, msg.ConversationID, msg.SenderID, msg.SenderName, msg.Content, msg.CreatedAt); err != nil {
				return err
			}
		}

		offset += len(msgs)
		h.update(jobID, func(job *migration.JobStatus) {
			job.Progress = offset
		})
	}
}

package client

import (
	"context"
	"fmt"
	"time"

	"chat-sync/internal/api"
	"chat-sync/internal/models"
	"chat-sync/internal/state"
	"chat-sync/internal/transport"
)

// Config wires a Client to a chat server and a local identity.
type Config struct {
	// ServerURL is the REST base URL, e.g. "http://localhost:8083".
	ServerURL string
	// WSURL is the websocket base URL, e.g. "ws://localhost:8083".
	WSURL string
	// Token is the bearer token for both surfaces.
	Token         string
	LocalUserID   string
	LocalUserName string
	// TypingTTL bounds typing indicators on both sides. Zero means the
	// default.
	TypingTTL time.Duration
	// ConnectDebounce coalesces rapid conversation switches. Zero means
	// the default.
	ConnectDebounce time.Duration
	// NewSession overrides the transport factory, for tests.
	NewSession SessionFactory
}

// Client is the UI-facing surface of the synchronization layer. Durable
// writes go through the REST API first, apply optimistically from the
// response, and only then broadcast on the data channel, so the
// envelope always carries a final server-assigned id.
type Client struct {
	api        *api.Client
	engine     *state.Engine
	supervisor *Supervisor
	pageSize   int
}

// New builds a Client. Call Open to attach a conversation.
func New(cfg Config) (*Client, error) {
	if cfg.LocalUserID == "" {
		return nil, fmt.Errorf("client: LocalUserID is required")
	}

	factory := cfg.NewSession
	if factory == nil {
		factory = func(h transport.Handlers) transport.Session {
			return transport.NewWebSocketSession(h)
		}
	}

	engine := state.New(state.Config{
		LocalUserID:   cfg.LocalUserID,
		LocalUserName: cfg.LocalUserName,
		TypingTTL:     cfg.TypingTTL,
	}, nil)
	supervisor := NewSupervisor(engine, factory, cfg.WSURL, cfg.Token, cfg.ConnectDebounce)
	engine.SetSender(supervisor)

	return &Client{
		api:        api.New(cfg.ServerURL, cfg.Token),
		engine:     engine,
		supervisor: supervisor,
		pageSize:   50,
	}, nil
}

// Engine exposes queries and the change subscription.
func (c *Client) Engine() *state.Engine { return c.engine }

// Connected reports whether the data channel is usable.
func (c *Client) Connected() bool { return c.supervisor.Connected() }

// Open fetches a conversation over REST, seeds the engine, and requests
// a (debounced) channel connection for it.
func (c *Client) Open(ctx context.Context, conversationID string) error {
	conv, err := c.api.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	msgs, err := c.api.ListMessages(ctx, conversationID, c.pageSize, "")
	if err != nil {
		return err
	}
	c.engine.SetConversation(conv, msgs)
	c.supervisor.Switch(conversationID)
	return nil
}

// LeaveView evicts a conversation's state when the UI navigates away.
func (c *Client) LeaveView(conversationID string) {
	c.engine.EvictConversation(conversationID)
}

// Close tears down the channel and announces offline.
func (c *Client) Close() {
	c.supervisor.Close()
}

// SendMessage creates the message over REST, inserts it locally, then
// broadcasts. Sending implies the user stopped typing.
func (c *Client) SendMessage(ctx context.Context, conversationID string, content string) (models.Message, error) {
	c.engine.CancelLocalTyping()
	c.engine.EmitTyping(ctx, false)

	msg, err := c.api.CreateMessage(ctx, conversationID, &content, nil)
	if err != nil {
		return models.Message{}, err
	}
	c.engine.InsertLocal(msg)
	c.engine.EmitMessage(ctx, msg)
	return msg, nil
}

// SendAttachments creates an attachment-only message.
func (c *Client) SendAttachments(ctx context.Context, conversationID string, attachments []models.Attachment) (models.Message, error) {
	msg, err := c.api.CreateMessage(ctx, conversationID, nil, attachments)
	if err != nil {
		return models.Message{}, err
	}
	c.engine.InsertLocal(msg)
	c.engine.EmitMessage(ctx, msg)
	return msg, nil
}

// EditMessage commits the edit over REST, applies it locally, then
// broadcasts.
func (c *Client) EditMessage(ctx context.Context, conversationID, messageID, content string) error {
	if _, err := c.api.EditMessage(ctx, conversationID, messageID, content); err != nil {
		return err
	}
	c.engine.ApplyLocalEdit(conversationID, messageID, content)
	c.engine.EmitEdit(ctx, messageID, content)
	return nil
}

// DeleteMessage commits the delete over REST, tombstones locally, then
// broadcasts. Remote peers remove the entry outright on receipt.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	if err := c.api.DeleteMessage(ctx, conversationID, messageID); err != nil {
		return err
	}
	c.engine.MarkLocalDeleted(conversationID, messageID)
	c.engine.EmitDelete(ctx, messageID)
	return nil
}

// AddReaction commits the reaction over the authoritative REST path and
// broadcasts an informational hint.
func (c *Client) AddReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	if _, err := c.api.AddReaction(ctx, conversationID, messageID, emoji); err != nil {
		return err
	}
	c.engine.ApplyLocalReaction(conversationID, messageID, emoji, c.engine.LocalUserID(), true)
	c.engine.EmitReaction(ctx, messageID, emoji)
	return nil
}

// RemoveReaction removes the caller's reaction over REST.
func (c *Client) RemoveReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	if _, err := c.api.RemoveReaction(ctx, conversationID, messageID, emoji); err != nil {
		return err
	}
	c.engine.ApplyLocalReaction(conversationID, messageID, emoji, c.engine.LocalUserID(), false)
	return nil
}

// MarkRead records the local read receipts and broadcasts them.
func (c *Client) MarkRead(ctx context.Context, conversationID string, messageIDs []string) {
	c.engine.MarkLocalRead(conversationID, messageIDs)
	c.engine.EmitRead(ctx, messageIDs)
}

// MarkDelivered broadcasts delivery receipts for newly received messages.
func (c *Client) MarkDelivered(ctx context.Context, messageIDs []string) {
	c.engine.EmitDelivered(ctx, messageIDs)
}

// StartTyping announces typing; the engine auto-cancels after the TTL.
func (c *Client) StartTyping(ctx context.Context) {
	c.engine.EmitTyping(ctx, true)
}

// StopTyping announces the idle transition explicitly.
func (c *Client) StopTyping(ctx context.Context) {
	c.engine.EmitTyping(ctx, false)
}

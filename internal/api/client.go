package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"chat-sync/internal/models"
)

// Client talks to the chat REST API. All durable writes go through here;
// the data channel only carries real-time echoes of effects this API has
// already committed.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// New builds a client for the given base URL, e.g. "http://localhost:8083".
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &Error{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// CreateMessage creates a message; the returned record carries the
// server-assigned id the broadcast envelope must use.
func (c *Client) CreateMessage(ctx context.Context, conversationID string, content *string, attachments []models.Attachment) (models.Message, error) {
	req := struct {
		Content     *string             `json:"content"`
		Attachments []models.Attachment `json:"attachments,omitempty"`
	}{Content: content, Attachments: attachments}

	var resp struct {
		Message models.Message `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/conversations/"+conversationID+"/messages", req, &resp)
	return resp.Message, err
}

// EditMessage replaces a message's content.
func (c *Client) EditMessage(ctx context.Context, conversationID, messageID, content string) (models.Message, error) {
	req := struct {
		Content string `json:"content"`
	}{Content: content}

	var resp struct {
		Message models.Message `json:"message"`
	}
	err := c.do(ctx, http.MethodPut, "/conversations/"+conversationID+"/messages/"+messageID, req, &resp)
	return resp.Message, err
}

// DeleteMessage deletes a message for all participants.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+conversationID+"/messages/"+messageID, nil, nil)
}

// AddReaction records a reaction; the response carries the authoritative
// reaction state.
func (c *Client) AddReaction(ctx context.Context, conversationID, messageID, emoji string) (models.Message, error) {
	req := struct {
		Emoji string `json:"emoji"`
	}{Emoji: emoji}

	var resp struct {
		Message models.Message `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/conversations/"+conversationID+"/messages/"+messageID+"/reactions", req, &resp)
	return resp.Message, err
}

// RemoveReaction removes the caller's reaction for an emoji.
func (c *Client) RemoveReaction(ctx context.Context, conversationID, messageID, emoji string) (models.Message, error) {
	var resp struct {
		Message models.Message `json:"message"`
	}
	err := c.do(ctx, http.MethodDelete, "/conversations/"+conversationID+"/messages/"+messageID+"/reactions/"+emoji, nil, &resp)
	return resp.Message, err
}

// GetConversation fetches a conversation with its participants.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var resp struct {
		Conversation models.Conversation `json:"conversation"`
	}
	err := c.do(ctx, http.MethodGet, "/conversations/"+conversationID, nil, &resp)
	return resp.Conversation, err
}

// ListMessages fetches a page of a conversation's messages, newest last.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]models.Message, error) {
	path := fmt.Sprintf("/conversations/%s/messages?limit=%d", conversationID, limit)
	if before != "" {
		path += "&before=" + before
	}
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &resp)
	return resp.Messages, err
}

// ListConversations lists the caller's conversations.
func (c *Client) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	err := c.do(ctx, http.MethodGet, "/conversations", nil, &resp)
	return resp.Conversations, err
}

// ListArchivedConversations lists the caller's archived conversations.
func (c *Client) ListArchivedConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	err := c.do(ctx, http.MethodGet, "/conversations/archived", nil, &resp)
	return resp.Conversations, err
}

// UpdateSettings patches the caller's per-conversation settings
// (mute, pin, archive).
func (c *Client) UpdateSettings(ctx context.Context, conversationID string, muted, pinned, archived *bool) error {
	req := struct {
		Muted    *bool `json:"muted,omitempty"`
		Pinned   *bool `json:"pinned,omitempty"`
		Archived *bool `json:"archived,omitempty"`
	}{Muted: muted, Pinned: pinned, Archived: archived}
	return c.do(ctx, http.MethodPatch, "/conversations/"+conversationID+"/settings", req, nil)
}

// LeaveConversation removes the caller from a conversation.
func (c *Client) LeaveConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+conversationID+"/me", nil, nil)
}

// AddMember adds a user to a group conversation.
func (c *Client) AddMember(ctx context.Context, conversationID, userID string) error {
	req := struct {
		UserID string `json:"user_id"`
	}{UserID: userID}
	return c.do(ctx, http.MethodPost, "/conversations/"+conversationID+"/members", req, nil)
}

// RemoveMember removes a user from a group conversation.
func (c *Client) RemoveMember(ctx context.Context, conversationID, userID string) error {
	return c.do(ctx, http.MethodDelete, "/conversations/"+conversationID+"/members/"+userID, nil, nil)
}

// UploadAvatar uploads a conversation avatar and returns its URL.
func (c *Client) UploadAvatar(ctx context.Context, conversationID, filename string, content io.Reader) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/conversations/"+conversationID+"/avatar", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Status: resp.StatusCode}
	}

	var out struct {
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.AvatarURL, nil
}

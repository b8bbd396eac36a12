package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
	"chat-sync/internal/wire"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversations/c1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"conversation": models.Conversation{
			ID: "c1",
			Participants: []models.Participant{
				{ConversationID: "c1", UserID: "me", Name: "Me"},
				{ConversationID: "c1", UserID: "u2", Name: "Bob"},
			},
		}})
	})
	mux.HandleFunc("GET /conversations/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		content := "first"
		json.NewEncoder(w).Encode(map[string]any{"messages": []models.Message{
			{ID: "m1", ConversationID: "c1", SenderID: "u2", Content: &content},
		}})
	})
	mux.HandleFunc("POST /conversations/c1/messages", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Content *string `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"message": models.Message{
			ID: "srv-1", ConversationID: "c1", SenderID: "me", SenderName: "Me", Content: req.Content,
		}})
	})
	mux.HandleFunc("PUT /conversations/c1/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		content := "edited"
		json.NewEncoder(w).Encode(map[string]any{"message": models.Message{
			ID: "m1", ConversationID: "c1", SenderID: "me", Content: &content, Edited: true,
		}})
	})
	mux.HandleFunc("DELETE /conversations/c1/messages/m1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T) (*Client, *sessionRecorder) {
	t.Helper()
	srv := newTestServer(t)
	recorder := &sessionRecorder{}

	c, err := New(Config{
		ServerURL:       srv.URL,
		WSURL:           "ws://ignored",
		Token:           "tok",
		LocalUserID:     "me",
		LocalUserName:   "Me",
		TypingTTL:       50 * time.Millisecond,
		ConnectDebounce: 10 * time.Millisecond,
		NewSession:      recorder.factory,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.Open(context.Background(), "c1"))
	require.Eventually(t, func() bool {
		return c.Connected()
	}, time.Second, 5*time.Millisecond)
	return c, recorder
}

func TestNewRequiresLocalUserID(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestOpenSeedsConversationAndConnects(t *testing.T) {
	c, _ := newTestClient(t)

	msgs := c.Engine().Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "c1", c.Engine().ActiveConversation())
}

func TestSendMessageUsesServerAssignedID(t *testing.T) {
	c, recorder := newTestClient(t)

	msg, err := c.SendMessage(context.Background(), "c1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", msg.ID)

	msgs := c.Engine().Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "srv-1", msgs[1].ID)

	envs := recorder.last().envelopes(t)
	require.NotEmpty(t, envs)

	// Sending implies stopped-typing, then the broadcast itself.
	last := envs[len(envs)-1]
	require.Equal(t, wire.TypeMessage, last.Type)
	assert.Equal(t, "srv-1", last.Data.ID)

	typing := envs[len(envs)-2]
	require.Equal(t, wire.TypeTyping, typing.Type)
	assert.False(t, *typing.IsTyping)
}

func TestEditMessageAppliesAndBroadcasts(t *testing.T) {
	c, recorder := newTestClient(t)

	require.NoError(t, c.EditMessage(context.Background(), "c1", "m1", "edited"))

	msgs := c.Engine().Messages("c1")
	assert.Equal(t, "edited", *msgs[0].Content)
	assert.True(t, msgs[0].Edited)

	envs := recorder.last().envelopes(t)
	last := envs[len(envs)-1]
	assert.Equal(t, wire.TypeEdit, last.Type)
	assert.Equal(t, "m1", last.MessageID)
	assert.Equal(t, "edited", last.Content)
}

func TestDeleteMessageTombstonesLocally(t *testing.T) {
	c, recorder := newTestClient(t)

	require.NoError(t, c.DeleteMessage(context.Background(), "c1", "m1"))

	// Local deletes tombstone; only remote delete envelopes remove.
	msgs := c.Engine().Messages("c1")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Deleted)
	assert.Nil(t, msgs[0].Content)

	envs := recorder.last().envelopes(t)
	last := envs[len(envs)-1]
	assert.Equal(t, wire.TypeDelete, last.Type)
	assert.Equal(t, "m1", last.MessageID)
}

func TestMarkReadRecordsLocallyAndBroadcasts(t *testing.T) {
	c, recorder := newTestClient(t)

	c.MarkRead(context.Background(), "c1", []string{"m1"})

	msgs := c.Engine().Messages("c1")
	assert.Contains(t, msgs[0].ReadBy, "me")

	envs := recorder.last().envelopes(t)
	last := envs[len(envs)-1]
	assert.Equal(t, wire.TypeRead, last.Type)
	assert.Equal(t, []string{"m1"}, last.MessageIDs)
}

func TestLeaveViewEvictsState(t *testing.T) {
	c, _ := newTestClient(t)

	c.LeaveView("c1")
	assert.Empty(t, c.Engine().Messages("c1"))
	assert.Empty(t, c.Engine().ActiveConversation())
}

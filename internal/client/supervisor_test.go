package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
	"chat-sync/internal/state"
	"chat-sync/internal/transport"
	"chat-sync/internal/wire"
)

// fakeSession drives supervisor handlers from tests instead of a real
// websocket.
type fakeSession struct {
	handlers transport.Handlers

	mu           sync.Mutex
	connectURL   string
	token        string
	published    [][]byte
	disconnected bool
}

func (s *fakeSession) Connect(ctx context.Context, serverURL, token string) error {
	s.mu.Lock()
	s.connectURL = serverURL
	s.token = token
	s.mu.Unlock()
	s.handlers.OnConnected()
	return nil
}

func (s *fakeSession) Disconnect() {
	s.mu.Lock()
	s.disconnected = true
	s.mu.Unlock()
}

func (s *fakeSession) PublishData(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	s.published = append(s.published, append([]byte(nil), payload...))
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) envelopes(t *testing.T) []wire.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	envs := make([]wire.Envelope, 0, len(s.published))
	for _, payload := range s.published {
		env, err := wire.Decode(payload)
		require.NoError(t, err)
		envs = append(envs, env)
	}
	return envs
}

type sessionRecorder struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (r *sessionRecorder) factory(h transport.Handlers) transport.Session {
	session := &fakeSession{handlers: h}
	r.mu.Lock()
	r.sessions = append(r.sessions, session)
	r.mu.Unlock()
	return session
}

func (r *sessionRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *sessionRecorder) last() *fakeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) == 0 {
		return nil
	}
	return r.sessions[len(r.sessions)-1]
}

func newTestSupervisor(t *testing.T) (*state.Engine, *Supervisor, *sessionRecorder) {
	t.Helper()
	recorder := &sessionRecorder{}
	engine := state.New(state.Config{LocalUserID: "me", LocalUserName: "Me", TypingTTL: 50 * time.Millisecond}, nil)
	sup := NewSupervisor(engine, recorder.factory, "ws://localhost:8083", "tok", 20*time.Millisecond)
	engine.SetSender(sup)
	return engine, sup, recorder
}

func TestSwitchDebounceCoalescesRapidSwitches(t *testing.T) {
	engine, sup, recorder := newTestSupervisor(t)

	sup.Switch("a")
	sup.Switch("b")
	sup.Switch("c")

	require.Eventually(t, func() bool {
		return sup.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	// Only the final target was dialed.
	assert.Equal(t, 1, recorder.count())
	session := recorder.last()
	assert.Equal(t, "ws://localhost:8083/ws/conversations/c", session.connectURL)
	assert.Equal(t, "tok", session.token)
	assert.Equal(t, "c", engine.ActiveConversation())
}

func TestSwitchToConnectedConversationIsNoOp(t *testing.T) {
	_, sup, recorder := newTestSupervisor(t)

	sup.Switch("a")
	require.Eventually(t, func() bool {
		return sup.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	sup.Switch("a")
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, recorder.count())
}

func TestSwitchTearsDownPreviousSession(t *testing.T) {
	_, sup, recorder := newTestSupervisor(t)

	sup.Switch("a")
	require.Eventually(t, func() bool {
		return sup.State() == StateConnected
	}, time.Second, 5*time.Millisecond)
	first := recorder.last()

	sup.Switch("b")
	require.Eventually(t, func() bool {
		return recorder.count() == 2 && sup.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	first.mu.Lock()
	defer first.mu.Unlock()
	assert.True(t, first.disconnected)
}

func TestPublishWhileDisconnectedReturnsError(t *testing.T) {
	_, sup, _ := newTestSupervisor(t)

	err := sup.Publish(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestEmitWhileDisconnectedIsSilentlyDropped(t *testing.T) {
	engine, sup, recorder := newTestSupervisor(t)

	require.False(t, sup.Connected())
	engine.EmitMessage(context.Background(), models.Message{ID: "m1", ConversationID: "c1", SenderID: "me"})
	engine.EmitRead(context.Background(), []string{"m1"})

	assert.Equal(t, 0, recorder.count())
}

func TestConnectAnnouncesPresenceOnline(t *testing.T) {
	_, sup, recorder := newTestSupervisor(t)

	sup.Switch("a")
	require.Eventually(t, func() bool {
		return sup.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	envs := recorder.last().envelopes(t)
	require.NotEmpty(t, envs)
	assert.Equal(t, wire.TypePresence, envs[0].Type)
	assert.Equal(t, "me", envs[0].UserID)
	assert.Equal(t, wire.StatusOnline, envs[0].Status)
}

func TestReconnectCycle(t *testing.T) {
	_, sup, recorder := newTestSupervisor(t)

	sup.Switch("a")
	require.Eventually(t, func() bool {
		return sup.State() == StateConnected
	}, time.Second, 5*time.Millisecond)
	session := recorder.last()

	session.handlers.OnReconnecting()
	assert.Equal(t, StateReconnecting, sup.State())
	assert.False(t, sup.Connected())

	session.handlers.OnReconnected()
	assert.Equal(t, StateConnected, sup.State())
	assert.True(t, sup.Connected())

	// Presence was re-announced after the gap.
	envs := session.envelopes(t)
	presence := 0
	for _, env := range envs {
		if env.Type == wire.TypePresence && env.Status == wire.StatusOnline {
			presence++
		}
	}
	assert.Equal(t, 2, presence)
}

func TestParticipantDisconnectedClearsTypingAndPresence(t *testing.T) {
	engine, sup, recorder := newTestSupervisor(t)

	sup.Switch("c1")
	require.Eventually(t, func() bool {
		return sup.State() == StateConnected
	}, time.Second, 5*time.Millisecond)
	session := recorder.last()

	engine.ApplyInbound(wire.Envelope{Type: wire.TypeTyping, UserID: "u2", UserName: "Bob", IsTyping: wire.Bool(true)})
	engine.ApplyPresence("u2", true, nil)
	require.Len(t, engine.TypingUsers("c1"), 1)

	session.handlers.OnParticipantDisconnected("u2")

	assert.Empty(t, engine.TypingUsers("c1"))
	assert.False(t, engine.IsOnline("u2"))
	_, ok := engine.LastSeen("u2")
	assert.True(t, ok)
}

func TestParticipantConnectedMarksOnline(t *testing.T) {
	engine, sup, recorder := newTestSupervisor(t)

	sup.Switch("c1")
	require.Eventually(t, func() bool {
		return sup.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	recorder.last().handlers.OnParticipantConnected("u2")
	assert.True(t, engine.IsOnline("u2"))
}

func TestOnDataAppliesEnvelopeAndDropsGarbage(t *testing.T) {
	engine, sup, recorder := newTestSupervisor(t)

	sup.Switch("c1")
	require.Eventually(t, func() bool {
		return sup.State() == StateConnected
	}, time.Second, 5*time.Millisecond)
	session := recorder.last()

	payload, err := wire.Encode(wire.Envelope{Type: wire.TypeMessage, Data: &models.Message{
		ID: "m1", ConversationID: "c1", SenderID: "u2",
	}})
	require.NoError(t, err)
	session.handlers.OnData(payload, "u2")
	require.Len(t, engine.Messages("c1"), 1)

	// Garbage must not disturb the channel.
	session.handlers.OnData([]byte("not json"), "u2")
	session.handlers.OnData([]byte(`{"type":"poke"}`), "u2")
	assert.Len(t, engine.Messages("c1"), 1)
}

func TestCloseEmitsOfflineThenDisconnects(t *testing.T) {
	_, sup, recorder := newTestSupervisor(t)

	sup.Switch("a")
	require.Eventually(t, func() bool {
		return sup.State() == StateConnected
	}, time.Second, 5*time.Millisecond)
	session := recorder.last()

	sup.Close()

	envs := session.envelopes(t)
	require.NotEmpty(t, envs)
	last := envs[len(envs)-1]
	assert.Equal(t, wire.TypePresence, last.Type)
	assert.Equal(t, wire.StatusOffline, last.Status)
	assert.NotEmpty(t, last.LastSeen)

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.True(t, session.disconnected)

	assert.Equal(t, StateDisconnected, sup.State())
	assert.False(t, sup.Connected())
}

// stallSession holds Connect open until released, simulating a dial
// still in flight.
type stallSession struct {
	fakeSession
	release chan struct{}
}

func (s *stallSession) Connect(ctx context.Context, serverURL, token string) error {
	<-s.release
	return s.fakeSession.Connect(ctx, serverURL, token)
}

func TestCloseDuringConnectDoesNotResurrectSession(t *testing.T) {
	engine := state.New(state.Config{LocalUserID: "me", LocalUserName: "Me", TypingTTL: 50 * time.Millisecond}, nil)
	session := &stallSession{release: make(chan struct{})}
	factory := func(h transport.Handlers) transport.Session {
		session.handlers = h
		return session
	}
	sup := NewSupervisor(engine, factory, "ws://localhost:8083", "tok", time.Millisecond)
	engine.SetSender(sup)

	sup.Switch("a")
	require.Eventually(t, func() bool {
		return sup.State() == StateConnecting
	}, time.Second, time.Millisecond)

	// Teardown lands while the dial is still blocked. When the dial
	// completes the session must be severed, not adopted.
	sup.Close()
	close(session.release)

	require.Eventually(t, func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return session.disconnected
	}, time.Second, time.Millisecond)
	assert.Equal(t, StateDisconnected, sup.State())
	assert.False(t, sup.Connected())
}

func TestCloseWithoutSessionIsSafe(t *testing.T) {
	_, sup, _ := newTestSupervisor(t)
	sup.Close()
	assert.Equal(t, StateDisconnected, sup.State())
}

package client

import (
	"context"
	"log"
	"sync"
	"time"

	"chat-sync/internal/observability"
	"chat-sync/internal/state"
	"chat-sync/internal/transport"
	"chat-sync/internal/wire"
)

// DefaultConnectDebounce coalesces rapid conversation switches into a
// single connection attempt targeting the final conversation.
const DefaultConnectDebounce = 300 * time.Millisecond

const connectTimeout = 10 * time.Second

// SupervisorState is the per-conversation connection state.
type SupervisorState int

const (
	StateIdle SupervisorState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
)

func (s SupervisorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// SessionFactory builds a fresh transport session wired to handlers. Each
// conversation owns exactly one session; switching conversations tears
// the old session down and builds a new one.
type SessionFactory func(h transport.Handlers) transport.Session

// Supervisor drives the connection lifecycle for the active conversation:
// debounced connects, presence announcements on connect and reconnect,
// and orderly teardown. It is the engine's Sender, so its connected flag
// doubles as the outbound send guard, and the single authority feeding
// presence into the engine: both transport participant events and
// presence envelopes are normalized here before they touch state.
type Supervisor struct {
	engine     *state.Engine
	newSession SessionFactory
	serverURL  string
	token      string
	debounce   time.Duration

	mu             sync.Mutex
	st             SupervisorState
	session        transport.Session
	conversationID string
	pending        string
	debounceTimer  *time.Timer
	inProgress     bool
	connected      bool
	closed         bool
}

// NewSupervisor builds a supervisor. serverURL is the websocket base URL,
// e.g. "ws://localhost:8083".
func NewSupervisor(engine *state.Engine, newSession SessionFactory, serverURL, token string, debounce time.Duration) *Supervisor {
	if debounce <= 0 {
		debounce = DefaultConnectDebounce
	}
	return &Supervisor{
		engine:     engine,
		newSession: newSession,
		serverURL:  serverURL,
		token:      token,
		debounce:   debounce,
		st:         StateIdle,
	}
}

// State returns the current connection state.
func (s *Supervisor) State() SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// Connected implements state.Sender. While false, the engine drops
// outbound envelopes silently.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Publish implements state.Sender.
func (s *Supervisor) Publish(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	session := s.session
	connected := s.connected
	s.mu.Unlock()

	if session == nil || !connected {
		return transport.ErrNotConnected
	}
	return session.PublishData(ctx, payload)
}

// Switch requests a connection to a conversation's channel. Calls within
// the debounce window supersede each other; only the final target is
// dialed.
func (s *Supervisor) Switch(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = conversationID
	s.closed = false
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.debounce, s.connectPending)
}

func (s *Supervisor) connectPending() {
	s.mu.Lock()
	target := s.pending
	if target == "" {
		s.mu.Unlock()
		return
	}
	if s.inProgress {
		// A connection attempt is already in flight; the rapid re-trigger
		// is a no-op.
		s.mu.Unlock()
		return
	}
	if s.st == StateConnected && s.conversationID == target {
		s.mu.Unlock()
		return
	}
	s.inProgress = true
	old := s.session
	s.session = nil
	s.st = StateConnecting
	s.connected = false
	s.conversationID = target
	s.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}

	session := s.newSession(s.handlers())
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := session.Connect(ctx, s.serverURL+"/ws/conversations/"+target, s.token); err != nil {
		log.Printf("supervisor: connect to conversation %s failed: %v", target, err)
		s.mu.Lock()
		s.st = StateDisconnected
		s.connected = false
		s.inProgress = false
		s.session = nil
		s.mu.Unlock()
		return
	}

	// Close may have run while the dial was in flight. The late session
	// must not survive it.
	s.mu.Lock()
	if s.closed {
		s.st = StateDisconnected
		s.connected = false
		s.inProgress = false
		s.session = nil
		s.mu.Unlock()
		session.Disconnect()
	} else {
		s.mu.Unlock()
	}
}

func (s *Supervisor) handlers() transport.Handlers {
	return transport.Handlers{
		OnConnected: func() {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			s.st = StateConnected
			s.connected = true
			s.inProgress = false
			conversationID := s.conversationID
			s.mu.Unlock()

			s.engine.SetActiveConversation(conversationID)
			s.engine.EmitPresence(context.Background(), wire.StatusOnline)
		},
		OnReconnecting: func() {
			// Transient loss: activate the send guard but keep typing and
			// presence state intact.
			s.mu.Lock()
			s.st = StateReconnecting
			s.connected = false
			s.mu.Unlock()
		},
		OnReconnected: func() {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			s.st = StateConnected
			s.connected = true
			s.mu.Unlock()

			// Remote peers may have timed presence out during the gap.
			s.engine.EmitPresence(context.Background(), wire.StatusOnline)
		},
		OnDisconnected: func(reason string) {
			s.mu.Lock()
			s.st = StateDisconnected
			s.connected = false
			s.mu.Unlock()
			log.Printf("supervisor: transport disconnected: %s", reason)
		},
		OnParticipantConnected: func(identity string) {
			s.engine.ApplyPresence(identity, true, nil)
		},
		OnParticipantDisconnected: func(identity string) {
			s.engine.ClearTyping(s.engine.ActiveConversation(), identity)
			now := time.Now().UTC()
			s.engine.ApplyPresence(identity, false, &now)
		},
		OnData: func(payload []byte, identity string) {
			env, err := wire.Decode(payload)
			if err != nil {
				// One malformed frame must not disrupt the channel.
				observability.IncDecodeError()
				log.Printf("supervisor: dropping frame from %s: %v", identity, err)
				return
			}
			s.engine.ApplyInbound(env)
		},
	}
}

// Close tears the active session down in a fixed order: best-effort
// offline announcement, then timers, then the transport, then the
// in-progress flag.
func (s *Supervisor) Close() {
	s.engine.EmitPresence(context.Background(), wire.StatusOffline)

	s.mu.Lock()
	s.closed = true
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	s.pending = ""
	session := s.session
	s.session = nil
	s.st = StateDisconnected
	s.connected = false
	s.mu.Unlock()

	s.engine.CancelLocalTyping()

	if session != nil {
		session.Disconnect()
	}

	s.mu.Lock()
	s.inProgress = false
	s.mu.Unlock()
}

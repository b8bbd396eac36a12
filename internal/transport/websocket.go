package transport

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-sync/internal/observability"
	"chat-sync/internal/wire"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 5 * time.Second
	reconnectAttempts  = 10
)

// WebSocketSession implements Session over a gorilla/websocket client.
// Read errors trigger an internal reconnect cycle with bounded
// exponential backoff before the session gives up and reports
// disconnected.
type WebSocketSession struct {
	handlers Handlers
	dialer   *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	url    string
	token  string

	// writeMu serializes data frames. gorilla allows only one
	// concurrent writer per connection, and PublishData is called from
	// the caller's goroutines as well as the engine's timers.
	writeMu sync.Mutex
}

// NewWebSocketSession builds a session delivering events to handlers.
func NewWebSocketSession(handlers Handlers) *WebSocketSession {
	return &WebSocketSession{
		handlers: handlers,
		dialer:   websocket.DefaultDialer,
	}
}

// Connect dials the conversation channel and starts the read loop.
func (s *WebSocketSession) Connect(ctx context.Context, serverURL, token string) error {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := s.dialer.DialContext(ctx, serverURL, header)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.closed = false
	s.url = serverURL
	s.token = token
	s.mu.Unlock()

	observability.IncActiveSessions()
	if s.handlers.OnConnected != nil {
		s.handlers.OnConnected()
	}

	go s.readLoop(conn)
	go s.pingLoop(conn)
	return nil
}

// Disconnect severs the connection. The read loop exits without
// attempting to reconnect.
func (s *WebSocketSession) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = conn.Close()
		observability.DecActiveSessions()
	}
}

// PublishData sends one payload frame. The server attributes the sender
// from the authenticated connection, so the payload is the bare envelope.
func (s *WebSocketSession) PublishData(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *WebSocketSession) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.handleReadError(conn, err)
			return
		}
		s.dispatch(payload)
	}
}

func (s *WebSocketSession) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		current := s.conn
		s.mu.Unlock()
		if current != conn {
			return
		}
		// WriteControl is safe alongside PublishData's writer.
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			return
		}
	}
}

func (s *WebSocketSession) dispatch(payload []byte) {
	frame, err := wire.DecodeFrame(payload)
	if err != nil {
		log.Printf("transport: dropping malformed frame: %v", err)
		return
	}

	switch frame.Event {
	case wire.FrameData:
		if s.handlers.OnData != nil {
			s.handlers.OnData(frame.Payload, frame.Identity)
		}
	case wire.FrameJoin:
		if s.handlers.OnParticipantConnected != nil {
			s.handlers.OnParticipantConnected(frame.Identity)
		}
	case wire.FrameLeft:
		if s.handlers.OnParticipantDisconnected != nil {
			s.handlers.OnParticipantDisconnected(frame.Identity)
		}
	default:
		log.Printf("transport: dropping frame with unknown event %q", frame.Event)
	}
}

// handleReadError runs the reconnect cycle after a transport-level
// failure. Explicit Disconnect never reconnects.
func (s *WebSocketSession) handleReadError(conn *websocket.Conn, readErr error) {
	s.mu.Lock()
	if s.closed || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	url, token := s.url, s.token
	s.mu.Unlock()

	observability.DecActiveSessions()
	if s.handlers.OnReconnecting != nil {
		s.handlers.OnReconnecting()
	}

	delay := reconnectBaseDelay
	for attempt := 0; attempt < reconnectAttempts; attempt++ {
		time.Sleep(delay)
		if delay *= 2; delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		header := http.Header{}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
		next, _, err := s.dialer.Dial(url, header)
		if err != nil {
			log.Printf("transport: reconnect attempt %d failed: %v", attempt+1, err)
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = next.Close()
			return
		}
		s.conn = next
		s.mu.Unlock()

		observability.IncActiveSessions()
		observability.IncReconnect()
		if s.handlers.OnReconnected != nil {
			s.handlers.OnReconnected()
		}
		go s.readLoop(next)
		go s.pingLoop(next)
		return
	}

	if s.handlers.OnDisconnected != nil {
		s.handlers.OnDisconnected(readErr.Error())
	}
}

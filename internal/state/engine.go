package state

import (
	"context"
	"log"
	"sync"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/wire"
)

// DefaultTypingTTL bounds how long a typing indicator survives without a
// refresh, on both the sending and the receiving side.
const DefaultTypingTTL = 3 * time.Second

// Sender delivers encoded envelopes to the active conversation's data
// channel. The Connection Supervisor implements it; while it reports not
// connected, outbound envelopes are dropped without error.
type Sender interface {
	Connected() bool
	Publish(ctx context.Context, payload []byte) error
}

// Config carries the local identity and tunables for an Engine.
type Config struct {
	LocalUserID   string
	LocalUserName string
	TypingTTL     time.Duration
}

// EventKind labels a state change for subscribers.
type EventKind string

const (
	EventMessageAdded    EventKind = "message_added"
	EventMessageEdited   EventKind = "message_edited"
	EventMessageRemoved  EventKind = "message_removed"
	EventMessageUpdated  EventKind = "message_updated"
	EventTypingChanged   EventKind = "typing_changed"
	EventPresenceChanged EventKind = "presence_changed"
)

// Event describes a single state mutation.
type Event struct {
	Kind           EventKind
	ConversationID string
	UserID         string
	MessageID      string
}

// Engine reconciles locally-optimistic conversation state against
// envelopes arriving over the data channel. It is the only component
// allowed to mutate message, typing and presence state; every mutation
// funnels through its apply/emit methods.
type Engine struct {
	cfg    Config
	sender Sender

	mu                 sync.RWMutex
	activeConversation string
	conversations      map[string]models.Conversation
	messages           map[string][]models.Message
	typing             map[string]map[string]*typingEntry
	presence           map[string]bool
	lastSeen           map[string]time.Time

	localTypingMu    sync.Mutex
	localTypingTimer *time.Timer

	subsMu sync.RWMutex
	subs   []func(Event)
}

type typingEntry struct {
	userName string
	seq      uint64
	timer    *time.Timer
}

// New builds an Engine for the given local identity.
func New(cfg Config, sender Sender) *Engine {
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = DefaultTypingTTL
	}
	return &Engine{
		cfg:           cfg,
		sender:        sender,
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
		typing:        make(map[string]map[string]*typingEntry),
		presence:      make(map[string]bool),
		lastSeen:      make(map[string]time.Time),
	}
}

// SetSender attaches the outbound sender. The supervisor implements
// Sender but also needs the engine, so wiring happens in two steps.
func (e *Engine) SetSender(sender Sender) {
	e.mu.Lock()
	e.sender = sender
	e.mu.Unlock()
}

// LocalUserID returns the configured local identity.
func (e *Engine) LocalUserID() string { return e.cfg.LocalUserID }

// Subscribe registers a callback invoked after every state mutation.
func (e *Engine) Subscribe(fn func(Event)) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.subs = append(e.subs, fn)
}

func (e *Engine) notify(ev Event) {
	e.subsMu.RLock()
	subs := make([]func(Event), len(e.subs))
	copy(subs, e.subs)
	e.subsMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// SetConversation seeds a conversation and its loaded message window,
// typically from a REST fetch. Seeding replaces any previous window.
func (e *Engine) SetConversation(conv models.Conversation, msgs []models.Message) {
	e.mu.Lock()
	e.conversations[conv.ID] = conv
	e.messages[conv.ID] = append([]models.Message(nil), msgs...)
	e.mu.Unlock()
	e.notify(Event{Kind: EventMessageUpdated, ConversationID: conv.ID})
}

// SetActiveConversation marks the conversation whose data channel is
// currently attached. Envelopes that carry no conversation id (typing,
// read, delivered, edit, delete) target this conversation.
func (e *Engine) SetActiveConversation(conversationID string) {
	e.mu.Lock()
	e.activeConversation = conversationID
	e.mu.Unlock()
}

// ActiveConversation returns the currently attached conversation id.
func (e *Engine) ActiveConversation() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeConversation
}

// EvictConversation drops a conversation's state when the UI navigates
// away. Presence is global and survives eviction.
func (e *Engine) EvictConversation(conversationID string) {
	e.mu.Lock()
	delete(e.conversations, conversationID)
	delete(e.messages, conversationID)
	if entries, ok := e.typing[conversationID]; ok {
		for _, entry := range entries {
			entry.timer.Stop()
		}
		delete(e.typing, conversationID)
	}
	if e.activeConversation == conversationID {
		e.activeConversation = ""
	}
	e.mu.Unlock()
}

// ApplyInbound applies a decoded envelope to local state. Every envelope
// whose embedded sender equals the local user is discarded whole: the
// local UI was already updated through the originating REST call, and
// re-applying the echo could double-apply side effects. Failures are
// absorbed here; nothing propagates to the caller.
func (e *Engine) ApplyInbound(env wire.Envelope) {
	observability.IncEnvelope(string(env.Type), "inbound")

	switch env.Type {
	case wire.TypeMessage:
		if env.Data == nil || env.Data.SenderID == e.cfg.LocalUserID {
			return
		}
		e.addMessage(*env.Data)

	case wire.TypeTyping:
		if env.UserID == e.cfg.LocalUserID {
			return
		}
		conversationID := e.ActiveConversation()
		if conversationID == "" {
			return
		}
		if env.IsTyping != nil && *env.IsTyping {
			e.setTyping(conversationID, env.UserID, env.UserName)
		} else {
			e.clearTyping(conversationID, env.UserID)
		}

	case wire.TypeRead:
		if env.UserID == e.cfg.LocalUserID {
			return
		}
		e.addReceipts(env.UserID, env.MessageIDs, true)

	case wire.TypeDelivered:
		if env.UserID == e.cfg.LocalUserID {
			return
		}
		e.addReceipts(env.UserID, env.MessageIDs, false)

	case wire.TypeReaction:
		// Reaction state is sourced from the REST response, never from the
		// data channel. The envelope is informational only.
		return

	case wire.TypeEdit:
		e.applyEdit(env.MessageID, env.Content)

	case wire.TypeDelete:
		e.removeMessage(env.MessageID)

	case wire.TypePresence:
		if env.UserID == e.cfg.LocalUserID {
			return
		}
		var lastSeen *time.Time
		if env.LastSeen != "" {
			if ts, err := time.Parse(time.RFC3339, env.LastSeen); err == nil {
				lastSeen = &ts
			}
		}
		e.ApplyPresence(env.UserID, env.Status == wire.StatusOnline, lastSeen)
	}
}

// addMessage appends a message to its conversation, never inserting a
// duplicate id into the same list.
func (e *Engine) addMessage(msg models.Message) {
	e.mu.Lock()
	for _, existing := range e.messages[msg.ConversationID] {
		if existing.ID == msg.ID {
			e.mu.Unlock()
			return
		}
	}
	e.messages[msg.ConversationID] = append(e.messages[msg.ConversationID], msg)
	e.mu.Unlock()
	e.notify(Event{Kind: EventMessageAdded, ConversationID: msg.ConversationID, MessageID: msg.ID})
}

// addReceipts records read or delivered receipts with set semantics.
// Message ids outside the loaded window are skipped silently.
func (e *Engine) addReceipts(userID string, messageIDs []string, read bool) {
	conversationID := e.ActiveConversation()
	if conversationID == "" {
		return
	}

	e.mu.Lock()
	changed := false
	msgs := e.messages[conversationID]
	for i := range msgs {
		if !models.ContainsID(messageIDs, msgs[i].ID) {
			continue
		}
		if read {
			if !models.ContainsID(msgs[i].ReadBy, userID) {
				msgs[i].ReadBy = append(msgs[i].ReadBy, userID)
				changed = true
			}
		} else {
			if !models.ContainsID(msgs[i].DeliveredTo, userID) {
				msgs[i].DeliveredTo = append(msgs[i].DeliveredTo, userID)
				changed = true
			}
		}
	}
	e.mu.Unlock()

	if changed {
		e.notify(Event{Kind: EventMessageUpdated, ConversationID: conversationID, UserID: userID})
	}
}

// applyEdit replaces a message's content in place. A miss (message not in
// the loaded window, or arriving before its message) is a silent no-op:
// there is no buffering or retry for out-of-order frames.
func (e *Engine) applyEdit(messageID, content string) {
	conversationID := e.ActiveConversation()
	if conversationID == "" {
		return
	}

	e.mu.Lock()
	msgs := e.messages[conversationID]
	found := false
	for i := range msgs {
		if msgs[i].ID == messageID {
			text := content
			msgs[i].Content = &text
			msgs[i].Edited = true
			found = true
			break
		}
	}
	e.mu.Unlock()

	if found {
		e.notify(Event{Kind: EventMessageEdited, ConversationID: conversationID, MessageID: messageID})
	}
}

// removeMessage removes a message from the list outright. Remote deletes
// are hard removals; only REST-originated local deletes tombstone.
func (e *Engine) removeMessage(messageID string) {
	conversationID := e.ActiveConversation()
	if conversationID == "" {
		return
	}

	e.mu.Lock()
	msgs := e.messages[conversationID]
	found := false
	for i := range msgs {
		if msgs[i].ID == messageID {
			e.messages[conversationID] = append(msgs[:i], msgs[i+1:]...)
			found = true
			break
		}
	}
	e.mu.Unlock()

	if found {
		e.notify(Event{Kind: EventMessageRemoved, ConversationID: conversationID, MessageID: messageID})
	}
}

// ApplyPresence is the single write path for presence. The Connection
// Supervisor funnels both transport participant events and presence
// envelopes through here, so the two sources cannot race each other into
// inconsistent state.
func (e *Engine) ApplyPresence(userID string, online bool, lastSeen *time.Time) {
	e.mu.Lock()
	e.presence[userID] = online
	if lastSeen != nil {
		e.lastSeen[userID] = *lastSeen
		for id, conv := range e.conversations {
			for i := range conv.Participants {
				if conv.Participants[i].UserID == userID {
					ts := *lastSeen
					conv.Participants[i].LastSeen = &ts
					e.conversations[id] = conv
				}
			}
		}
	}
	e.mu.Unlock()
	e.notify(Event{Kind: EventPresenceChanged, UserID: userID})
}

// ClearTyping removes a user's typing entry, e.g. when the transport
// reports the participant disconnected.
func (e *Engine) ClearTyping(conversationID, userID string) {
	e.clearTyping(conversationID, userID)
}

func (e *Engine) setTyping(conversationID, userID, userName string) {
	e.mu.Lock()
	entries, ok := e.typing[conversationID]
	if !ok {
		entries = make(map[string]*typingEntry)
		e.typing[conversationID] = entries
	}
	var seq uint64
	if existing, ok := entries[userID]; ok {
		existing.timer.Stop()
		seq = existing.seq + 1
	}
	entry := &typingEntry{userName: userName, seq: seq}
	// Receive-side expiry: a lost typing:false frame must not wedge the
	// indicator forever.
	entry.timer = time.AfterFunc(e.cfg.TypingTTL, func() {
		e.expireTyping(conversationID, userID, seq)
	})
	entries[userID] = entry
	e.mu.Unlock()
	e.notify(Event{Kind: EventTypingChanged, ConversationID: conversationID, UserID: userID})
}

func (e *Engine) clearTyping(conversationID, userID string) {
	e.mu.Lock()
	entries := e.typing[conversationID]
	entry, ok := entries[userID]
	if ok {
		entry.timer.Stop()
		delete(entries, userID)
	}
	e.mu.Unlock()
	if ok {
		e.notify(Event{Kind: EventTypingChanged, ConversationID: conversationID, UserID: userID})
	}
}

func (e *Engine) expireTyping(conversationID, userID string, seq uint64) {
	e.mu.Lock()
	entries := e.typing[conversationID]
	entry, ok := entries[userID]
	if ok && entry.seq == seq {
		delete(entries, userID)
	} else {
		ok = false
	}
	e.mu.Unlock()
	if ok {
		e.notify(Event{Kind: EventTypingChanged, ConversationID: conversationID, UserID: userID})
	}
}

// Messages returns a copy of a conversation's loaded message window.
func (e *Engine) Messages(conversationID string) []models.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.Message(nil), e.messages[conversationID]...)
}

// Conversation returns the seeded conversation record, if present.
func (e *Engine) Conversation(conversationID string) (models.Conversation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	conv, ok := e.conversations[conversationID]
	return conv, ok
}

// TypingUsers returns userID -> display name for users currently typing
// in a conversation. A user absent from the map is not typing.
func (e *Engine) TypingUsers(conversationID string) map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]string, len(e.typing[conversationID]))
	for userID, entry := range e.typing[conversationID] {
		out[userID] = entry.userName
	}
	return out
}

// IsOnline reports a user's presence. Unknown users are offline.
func (e *Engine) IsOnline(userID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.presence[userID]
}

// LastSeen returns the last-seen timestamp reported for a user.
func (e *Engine) LastSeen(userID string) (time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ts, ok := e.lastSeen[userID]
	return ts, ok
}

func (e *Engine) emit(ctx context.Context, env wire.Envelope) {
	e.mu.RLock()
	sender := e.sender
	e.mu.RUnlock()

	if sender == nil || !sender.Connected() {
		// Fire-and-forget: chat state is authoritative via REST, the data
		// channel is a low-latency hint. No queue, no retry.
		observability.IncDroppedSend()
		return
	}
	payload, err := wire.Encode(env)
	if err != nil {
		log.Printf("encode envelope failed: %v", err)
		return
	}
	observability.IncEnvelope(string(env.Type), "outbound")
	if err := sender.Publish(ctx, payload); err != nil {
		log.Printf("publish %s envelope failed: %v", env.Type, err)
	}
}

// EmitMessage broadcasts a message already created through the REST path.
func (e *Engine) EmitMessage(ctx context.Context, msg models.Message) {
	e.emit(ctx, wire.Envelope{Type: wire.TypeMessage, Data: &msg})
}

// EmitTyping broadcasts the local typing state. A true transition arms an
// auto-cancel timer that emits false after the typing TTL unless the
// caller cancels first (message sent, input cleared).
func (e *Engine) EmitTyping(ctx context.Context, isTyping bool) {
	e.localTypingMu.Lock()
	if e.localTypingTimer != nil {
		e.localTypingTimer.Stop()
		e.localTypingTimer = nil
	}
	if isTyping {
		e.localTypingTimer = time.AfterFunc(e.cfg.TypingTTL, func() {
			e.EmitTyping(context.Background(), false)
		})
	}
	e.localTypingMu.Unlock()

	e.emit(ctx, wire.Envelope{
		Type:     wire.TypeTyping,
		UserID:   e.cfg.LocalUserID,
		UserName: e.cfg.LocalUserName,
		IsTyping: wire.Bool(isTyping),
	})
}

// CancelLocalTyping stops the auto-cancel timer without emitting.
func (e *Engine) CancelLocalTyping() {
	e.localTypingMu.Lock()
	if e.localTypingTimer != nil {
		e.localTypingTimer.Stop()
		e.localTypingTimer = nil
	}
	e.localTypingMu.Unlock()
}

// EmitRead broadcasts read receipts for the given message ids.
func (e *Engine) EmitRead(ctx context.Context, messageIDs []string) {
	if len(messageIDs) == 0 {
		return
	}
	e.emit(ctx, wire.Envelope{Type: wire.TypeRead, UserID: e.cfg.LocalUserID, MessageIDs: messageIDs})
}

// EmitDelivered broadcasts delivery receipts for the given message ids.
func (e *Engine) EmitDelivered(ctx context.Context, messageIDs []string) {
	if len(messageIDs) == 0 {
		return
	}
	e.emit(ctx, wire.Envelope{Type: wire.TypeDelivered, UserID: e.cfg.LocalUserID, MessageIDs: messageIDs})
}

// EmitReaction broadcasts a reaction hint. Receivers treat it as
// informational; the REST response is the source of truth.
func (e *Engine) EmitReaction(ctx context.Context, messageID, emoji string) {
	e.emit(ctx, wire.Envelope{
		Type:      wire.TypeReaction,
		MessageID: messageID,
		Emoji:     emoji,
		UserID:    e.cfg.LocalUserID,
		UserName:  e.cfg.LocalUserName,
	})
}

// EmitEdit broadcasts an edit already committed through the REST path.
func (e *Engine) EmitEdit(ctx context.Context, messageID, content string) {
	e.emit(ctx, wire.Envelope{Type: wire.TypeEdit, MessageID: messageID, Content: content})
}

// EmitDelete broadcasts a delete already committed through the REST path.
func (e *Engine) EmitDelete(ctx context.Context, messageID string) {
	e.emit(ctx, wire.Envelope{Type: wire.TypeDelete, MessageID: messageID})
}

// EmitPresence broadcasts the local user's presence.
func (e *Engine) EmitPresence(ctx context.Context, status string) {
	env := wire.Envelope{Type: wire.TypePresence, UserID: e.cfg.LocalUserID, Status: status}
	if status == wire.StatusOffline {
		env.LastSeen = time.Now().UTC().Format(time.RFC3339)
	}
	e.emit(ctx, env)
}

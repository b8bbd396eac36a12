package state

import "chat-sync/internal/models"

// Local operations apply effects already confirmed by the REST API. The
// data-channel echo of these effects is suppressed on receipt, so the
// REST response path is the only writer for self-authored changes.

// InsertLocal inserts a message returned by the REST create call.
func (e *Engine) InsertLocal(msg models.Message) {
	e.addMessage(msg)
}

// ApplyLocalEdit applies an edit confirmed by the REST API.
func (e *Engine) ApplyLocalEdit(conversationID, messageID, content string) {
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

// MarkLocalDeleted tombstones a message deleted through the REST API:
// the deleted flag is set and the content cleared, but the entry stays in
// the list. Remote delete envelopes, by contrast, remove outright.
func (e *Engine) MarkLocalDeleted(conversationID, messageID string) {
	e.mu.Lock()
	msgs := e.messages[conversationID]
	found := false
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Deleted = true
			msgs[i].Content = nil
			found = true
			break
		}
	}
	e.mu.Unlock()
	if found {
		e.notify(Event{Kind: EventMessageUpdated, ConversationID: conversationID, MessageID: messageID})
	}
}

// ApplyLocalReaction applies a reaction change confirmed by the REST API.
func (e *Engine) ApplyLocalReaction(conversationID, messageID, emoji, userID string, added bool) {
	e.mu.Lock()
	msgs := e.messages[conversationID]
	found := false
	for i := range msgs {
		if msgs[i].ID == messageID {
			if msgs[i].Reactions == nil {
				msgs[i].Reactions = models.ReactionSet{}
			}
			if added {
				msgs[i].Reactions.Add(emoji, userID)
			} else {
				msgs[i].Reactions.Remove(emoji, userID)
			}
			found = true
			break
		}
	}
	e.mu.Unlock()
	if found {
		e.notify(Event{Kind: EventMessageUpdated, ConversationID: conversationID, MessageID: messageID})
	}
}

// MarkLocalRead records the local user in the read-by sets, mirroring the
// receipts broadcast to peers.
func (e *Engine) MarkLocalRead(conversationID string, messageIDs []string) {
	e.mu.Lock()
	msgs := e.messages[conversationID]
	changed := false
	for i := range msgs {
		if models.ContainsID(messageIDs, msgs[i].ID) && !models.ContainsID(msgs[i].ReadBy, e.cfg.LocalUserID) {
			msgs[i].ReadBy = append(msgs[i].ReadBy, e.cfg.LocalUserID)
			changed = true
		}
	}
	e.mu.Unlock()
	if changed {
		e.notify(Event{Kind: EventMessageUpdated, ConversationID: conversationID})
	}
}

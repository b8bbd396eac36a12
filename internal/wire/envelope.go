package wire

import (
	"encoding/json"
	"fmt"

	"chat-sync/internal/models"
)

// Type discriminates the envelope union. The union is closed: a payload
// with any other discriminator fails to decode.
type Type string

const (
	TypeMessage   Type = "message"
	TypeTyping    Type = "typing"
	TypeRead      Type = "read"
	TypeDelivered Type = "delivered"
	TypeReaction  Type = "reaction"
	TypeEdit      Type = "edit"
	TypeDelete    Type = "delete"
	TypePresence  Type = "presence"
)

// Presence status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Envelope is the typed payload exchanged over a conversation's data
// channel, one UTF-8 JSON object per frame. Only the fields of the active
// variant are populated; everything else stays at its zero value and is
// omitted on the wire.
type Envelope struct {
	Type Type `json:"type"`

	// message
	Data *models.Message `json:"data,omitempty"`

	// typing, read, delivered, reaction, presence
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`

	// typing
	IsTyping *bool `json:"isTyping,omitempty"`

	// read, delivered
	MessageIDs []string `json:"messageIds,omitempty"`

	// reaction, edit, delete
	MessageID string `json:"messageId,omitempty"`

	// edit
	Content string `json:"content,omitempty"`

	// reaction
	Emoji string `json:"emoji,omitempty"`

	// presence
	Status   string `json:"status,omitempty"`
	LastSeen string `json:"lastSeen,omitempty"`
}

// DecodeError describes a frame that could not be decoded into a known
// envelope. Callers log it and drop the frame; one malformed frame must
// not disrupt the rest of the channel's traffic.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode envelope: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes an envelope to its wire form.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses and validates a wire frame. Any malformed payload,
// unknown discriminator, or missing required field yields a *DecodeError.
func Decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, &DecodeError{Reason: "malformed json", Err: err}
	}
	if env.Type == "" {
		return Envelope{}, &DecodeError{Reason: "missing type"}
	}
	if err := env.validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (env *Envelope) validate() error {
	switch env.Type {
	case TypeMessage:
		if env.Data == nil {
			return &DecodeError{Reason: "message without data"}
		}
		if env.Data.ID == "" || env.Data.SenderID == "" || env.Data.ConversationID == "" {
			return &DecodeError{Reason: "message data missing id, sender_id or conversation_id"}
		}
	case TypeTyping:
		if env.UserID == "" {
			return &DecodeError{Reason: "typing without userId"}
		}
		if env.IsTyping == nil {
			return &DecodeError{Reason: "typing without isTyping"}
		}
	case TypeRead, TypeDelivered:
		if env.UserID == "" {
			return &DecodeError{Reason: string(env.Type) + " without userId"}
		}
		if len(env.MessageIDs) == 0 {
			return &DecodeError{Reason: string(env.Type) + " without messageIds"}
		}
	case TypeReaction:
		if env.MessageID == "" || env.Emoji == "" || env.UserID == "" {
			return &DecodeError{Reason: "reaction missing messageId, emoji or userId"}
		}
	case TypeEdit:
		if env.MessageID == "" {
			return &DecodeError{Reason: "edit without messageId"}
		}
	case TypeDelete:
		if env.MessageID == "" {
			return &DecodeError{Reason: "delete without messageId"}
		}
	case TypePresence:
		if env.UserID == "" {
			return &DecodeError{Reason: "presence without userId"}
		}
		if env.Status != StatusOnline && env.Status != StatusOffline {
			return &DecodeError{Reason: "presence with unknown status"}
		}
	default:
		return &DecodeError{Reason: fmt.Sprintf("unknown type %q", env.Type)}
	}
	return nil
}

// Bool returns a pointer for the typing flag.
func Bool(v bool) *bool { return &v }

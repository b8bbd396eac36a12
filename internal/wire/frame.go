package wire

import "encoding/json"

// Frame events exchanged between the relay server and a session. Data
// flowing client-to-server is a bare envelope; the server wraps it in a
// Frame so receivers learn the sender's identity, and uses Frames to
// announce participants joining and leaving.
const (
	FrameData = "data"
	FrameJoin = "joined"
	FrameLeft = "left"
)

// Frame is the server-to-client wrapper around relayed payloads and
// participant lifecycle events.
type Frame struct {
	Event    string          `json:"event"`
	Identity string          `json:"identity,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// EncodeFrame serializes a frame.
func EncodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses a server frame.
func DecodeFrame(payload []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Frame{}, &DecodeError{Reason: "malformed frame", Err: err}
	}
	if f.Event == "" {
		return Frame{}, &DecodeError{Reason: "frame without event"}
	}
	return f, nil
}

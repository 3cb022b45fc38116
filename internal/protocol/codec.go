package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// OutboundMessage is a user message sent to the server.
type OutboundMessage struct {
	Type     string `msgpack:"type" json:"type"`
	ThreadID string `msgpack:"thread_id,omitempty" json:"thread_id,omitempty"`
	ID       string `msgpack:"id,omitempty" json:"id,omitempty"`
	Content  string `msgpack:"content,omitempty" json:"content,omitempty"`
}

// NewUserMessage builds an outbound user message for a thread.
func NewUserMessage(threadID, id, text string) OutboundMessage {
	return OutboundMessage{
		Type:     TypeMessage,
		ThreadID: threadID,
		ID:       id,
		Content:  text,
	}
}

// NewStopGeneration builds the request that cancels generation on a thread.
func NewStopGeneration(threadID string) OutboundMessage {
	return OutboundMessage{Type: TypeStopGeneration, ThreadID: threadID}
}

// Encode serializes an outbound payload as MessagePack.
func Encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode msgpack: %w", err)
	}
	return data, nil
}

// DecodeBinary decodes a MessagePack frame. Payloads that are not a map
// come back as a RawFrame holding the original bytes; it never fails.
func DecodeBinary(data []byte) (Frame, bool) {
	var m map[string]any
	if err := msgpack.Unmarshal(data, &m); err != nil || m == nil {
		return &RawFrame{Data: data}, false
	}
	return FromMap(m), true
}

// DecodeText decodes a JSON text frame. Anything that is not a JSON object
// is passed through as a RawFrame holding the string; it never fails.
func DecodeText(data []byte) (Frame, bool) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return &RawFrame{Text: string(data)}, false
	}
	return FromMap(m), true
}

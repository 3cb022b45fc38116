package protocol

import (
	"fmt"
	"strings"
)

// Frame type discriminators.
const (
	TypeMessage           = "message"
	TypeChunk             = "chunk"
	TypeJobStatus         = "job_status"
	TypeNodeStatus        = "node_status"
	TypeGenerationStopped = "generation_stopped"
	TypeError             = "error"
	TypeStopGeneration    = "stop_generation"
)

// Kind identifies the variant of a decoded Frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindMessage
	KindChunk
	KindJobStatus
	KindNodeStatus
	KindGenerationStopped
	KindError
	KindRaw
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return TypeMessage
	case KindChunk:
		return TypeChunk
	case KindJobStatus:
		return TypeJobStatus
	case KindNodeStatus:
		return TypeNodeStatus
	case KindGenerationStopped:
		return TypeGenerationStopped
	case KindError:
		return TypeError
	case KindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Frame is one decoded inbound unit. The concrete type is one of the
// *Frame structs in this file; switch on it or on Kind().
type Frame interface {
	Kind() Kind
	Thread() string
}

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Part is one element of structured message content.
type Part struct {
	Type   string
	Text   string
	Fields map[string]any
}

// Content is either plain text or a list of structured parts.
type Content struct {
	Text  string
	Parts []Part
}

// TextContent wraps a plain string.
func TextContent(s string) Content {
	return Content{Text: s}
}

// Structured reports whether the content carries a parts list.
func (c Content) Structured() bool {
	return len(c.Parts) > 0
}

// String flattens the content to display text.
func (c Content) String() string {
	if !c.Structured() {
		return c.Text
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// MessageFrame is a complete, server-authoritative message.
type MessageFrame struct {
	ThreadID string
	ID       string
	Role     Role
	Content  Content
}

// ChunkFrame is a partial assistant content fragment.
type ChunkFrame struct {
	ThreadID string
	Content  string
	Done     bool
}

// JobStatusFrame reports the state of the job behind a thread.
type JobStatusFrame struct {
	ThreadID string
	Status   string
	Error    string
}

// NodeStatusFrame reports progress of a single workflow node.
type NodeStatusFrame struct {
	ThreadID string
	Status   string
	NodeName string
}

// GenerationStoppedFrame acknowledges a user-initiated stop.
type GenerationStoppedFrame struct {
	ThreadID string
}

// ErrorFrame is a server-reported error.
type ErrorFrame struct {
	ThreadID string
	Code     string
	Message  string
}

// UnknownFrame is a structured frame with an unrecognized type.
type UnknownFrame struct {
	ThreadID string
	Type     string
	Fields   map[string]any
}

// RawFrame carries a payload that could not be decoded as a structured
// frame. Text frames keep their string, binary frames their bytes.
type RawFrame struct {
	Text string
	Data []byte
}

func (*MessageFrame) Kind() Kind           { return KindMessage }
func (*ChunkFrame) Kind() Kind             { return KindChunk }
func (*JobStatusFrame) Kind() Kind         { return KindJobStatus }
func (*NodeStatusFrame) Kind() Kind        { return KindNodeStatus }
func (*GenerationStoppedFrame) Kind() Kind { return KindGenerationStopped }
func (*ErrorFrame) Kind() Kind             { return KindError }
func (*UnknownFrame) Kind() Kind           { return KindUnknown }
func (*RawFrame) Kind() Kind               { return KindRaw }

func (f *MessageFrame) Thread() string           { return f.ThreadID }
func (f *ChunkFrame) Thread() string             { return f.ThreadID }
func (f *JobStatusFrame) Thread() string         { return f.ThreadID }
func (f *NodeStatusFrame) Thread() string        { return f.ThreadID }
func (f *GenerationStoppedFrame) Thread() string { return f.ThreadID }
func (f *ErrorFrame) Thread() string             { return f.ThreadID }
func (f *UnknownFrame) Thread() string           { return f.ThreadID }
func (f *RawFrame) Thread() string               { return "" }

// FromMap builds a typed Frame from a decoded envelope. A map without a
// string "type" field becomes an UnknownFrame.
func FromMap(m map[string]any) Frame {
	typ := strings.ReplaceAll(stringField(m, "type"), "-", "_")
	thread := stringField(m, "thread_id")

	switch typ {
	case TypeMessage:
		return &MessageFrame{
			ThreadID: thread,
			ID:       stringField(m, "id"),
			Role:     Role(stringField(m, "role")),
			Content:  contentField(m["content"]),
		}
	case TypeChunk:
		return &ChunkFrame{
			ThreadID: thread,
			Content:  stringField(m, "content"),
			Done:     boolField(m, "done"),
		}
	case TypeJobStatus:
		return &JobStatusFrame{
			ThreadID: thread,
			Status:   stringField(m, "status"),
			Error:    stringField(m, "error"),
		}
	case TypeNodeStatus:
		return &NodeStatusFrame{
			ThreadID: thread,
			Status:   stringField(m, "status"),
			NodeName: stringField(m, "node_name"),
		}
	case TypeGenerationStopped:
		return &GenerationStoppedFrame{ThreadID: thread}
	case TypeError:
		msg := stringField(m, "message")
		if msg == "" {
			msg = stringField(m, "error")
		}
		return &ErrorFrame{
			ThreadID: thread,
			Code:     stringField(m, "code"),
			Message:  msg,
		}
	default:
		return &UnknownFrame{ThreadID: thread, Type: typ, Fields: m}
	}
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func contentField(v any) Content {
	switch c := v.(type) {
	case string:
		return Content{Text: c}
	case []byte:
		return Content{Text: string(c)}
	case []any:
		parts := make([]Part, 0, len(c))
		for _, item := range c {
			switch p := item.(type) {
			case map[string]any:
				parts = append(parts, Part{
					Type:   stringField(p, "type"),
					Text:   stringField(p, "text"),
					Fields: p,
				})
			case string:
				parts = append(parts, Part{Type: "text", Text: p})
			}
		}
		return Content{Parts: parts}
	default:
		return Content{}
	}
}

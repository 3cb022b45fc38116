package stream

import (
	"time"

	"github.com/rickgao/streamlink/internal/protocol"
)

// Status is the aggregation status of one thread.
type Status int

const (
	StatusIdle Status = iota
	StatusStreaming
	StatusStopping
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusStreaming:
		return "streaming"
	case StatusStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MessageState is the lifecycle of a Message.
type MessageState int

const (
	// MessageStreaming is a local placeholder built from chunks.
	MessageStreaming MessageState = iota
	// MessagePartial is a placeholder whose stream ended with the connection.
	MessagePartial
	// MessageFinal is server-confirmed.
	MessageFinal
)

// String returns the string representation of a MessageState.
func (s MessageState) String() string {
	switch s {
	case MessageStreaming:
		return "streaming"
	case MessagePartial:
		return "partial"
	case MessageFinal:
		return "final"
	default:
		return "unknown"
	}
}

// Message is one entry in a thread.
type Message struct {
	LocalID   string // Assigned on creation, survives placeholder replacement
	ID        string // Server-assigned, empty for placeholders
	ThreadID  string
	Role      protocol.Role
	Content   protocol.Content
	State     MessageState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Unfinalized reports whether the message is a placeholder that a full
// message may still replace.
func (m Message) Unfinalized() bool {
	return m.State == MessageStreaming
}

// ThreadView is a point-in-time copy of a thread's derived state.
type ThreadView struct {
	ID            string
	Messages      []Message
	Status        Status
	Running       bool   // A job is in progress
	Failed        bool   // The last job failed
	FailureReason string // Reason reported with the failure
	Caption       string // Current node progress label
	LastError     string // Last server error message
}

// Stats holds aggregator counters.
type Stats struct {
	FramesProcessed      int64
	DroppedWhileStopping int64
	UnknownFrames        int64
	RawFrames            int64
	MessagesFinalized    int64
	Threads              int
}

// MessageSink receives every message once it becomes final.
type MessageSink interface {
	MessageFinalized(m Message)
}

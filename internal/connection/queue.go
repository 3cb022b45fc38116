package connection

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/rickgao/streamlink/internal/buffer"
)

// QueuedMessage is an outbound payload waiting for a live connection.
type QueuedMessage struct {
	Seq      uint64
	Payload  any
	QueuedAt time.Time
}

// MessageQueue buffers outbound payloads issued before the socket opens.
type MessageQueue struct {
	buf *buffer.Growable[QueuedMessage]
	seq atomic.Uint64
}

// NewMessageQueue creates an empty queue.
func NewMessageQueue(capacity int) *MessageQueue {
	return &MessageQueue{buf: buffer.New[QueuedMessage](capacity)}
}

// Enqueue appends a payload.
func (q *MessageQueue) Enqueue(payload any) QueuedMessage {
	msg := QueuedMessage{
		Seq:      q.seq.Add(1),
		Payload:  payload,
		QueuedAt: time.Now(),
	}
	q.buf.Push(msg)
	return msg
}

// Flush takes every queued message and passes each to send in FIFO order.
// The queue is emptied before the first send, so anything enqueued while
// flushing stays queued for the next flush. All items are attempted; the
// returned error joins the individual failures.
func (q *MessageQueue) Flush(send func(QueuedMessage) error) (int, error) {
	items := q.buf.Drain(0)

	var errs []error
	sent := 0
	for _, msg := range items {
		if err := send(msg); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// Clear discards pending messages and returns how many were dropped.
func (q *MessageQueue) Clear() int {
	return q.buf.Clear()
}

// Len returns the number of pending messages.
func (q *MessageQueue) Len() int {
	return q.buf.Len()
}

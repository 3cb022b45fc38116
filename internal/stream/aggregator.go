package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/streamlink/internal/protocol"
)

// Job status values with defined effects.
const (
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// NodeCompleted clears the progress caption.
const NodeCompleted = "completed"

type thread struct {
	id        string
	messages  []Message
	status    Status
	running   bool
	failed    bool
	reason    string
	caption   string
	lastError string
}

func (t *thread) last() *Message {
	if len(t.messages) == 0 {
		return nil
	}
	return &t.messages[len(t.messages)-1]
}

// placeholder returns the last message if it is an unfinalized assistant
// message.
func (t *thread) placeholder() *Message {
	m := t.last()
	if m == nil || m.Role != protocol.RoleAssistant || !m.Unfinalized() {
		return nil
	}
	return m
}

func (t *thread) view() ThreadView {
	return ThreadView{
		ID:            t.id,
		Messages:      append([]Message(nil), t.messages...),
		Status:        t.status,
		Running:       t.running,
		Failed:        t.failed,
		FailureReason: t.reason,
		Caption:       t.caption,
		LastError:     t.lastError,
	}
}

// Aggregator applies inbound frames to per-thread state. It never returns
// an error from Consume; malformed or unknown frames are counted and
// ignored.
type Aggregator struct {
	logger *slog.Logger
	sink   MessageSink
	now    func() time.Time

	mu      sync.RWMutex
	threads map[string]*thread
	order   []string

	processed int64
	dropped   int64
	unknown   int64
	raw       int64
	finalized int64
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithSink registers a sink for finalized messages.
func WithSink(s MessageSink) Option {
	return func(a *Aggregator) {
		a.sink = s
	}
}

// NewAggregator creates an empty aggregator.
func NewAggregator(logger *slog.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		logger:  logger,
		now:     time.Now,
		threads: make(map[string]*thread),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Consume applies one frame.
func (a *Aggregator) Consume(f protocol.Frame) error {
	a.mu.Lock()
	final := a.apply(f)
	a.mu.Unlock()

	if a.sink != nil {
		for _, m := range final {
			a.sink.MessageFinalized(m)
		}
	}
	return nil
}

// ConnectionOpened seals any stream left over from a previous connection.
func (a *Aggregator) ConnectionOpened() {
	a.EndStreams()
}

// EndStreams marks every streaming placeholder as partial and returns
// streaming or stopping threads to idle. It returns the number of
// placeholders sealed.
func (a *Aggregator) EndStreams() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	sealed := 0
	for _, t := range a.threads {
		if m := t.placeholder(); m != nil {
			m.State = MessagePartial
			m.UpdatedAt = a.now()
			sealed++
		}
		if t.status != StatusIdle {
			t.status = StatusIdle
		}
	}
	if sealed > 0 {
		a.logger.Info("ended interrupted streams", "placeholders", sealed)
	}
	return sealed
}

// BeginStop marks a thread as stopping. Until a terminating frame arrives
// only generation_stopped, error and job_status frames are applied to it.
func (a *Aggregator) BeginStop(threadID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.threadLocked(threadID)
	t.status = StatusStopping
	a.logger.Debug("thread stopping", "thread", threadID)
}

// MarkRunning records that a job was started on a thread and clears any
// previous failure.
func (a *Aggregator) MarkRunning(threadID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.threadLocked(threadID)
	t.running = true
	t.failed = false
	t.reason = ""
	t.lastError = ""
}

// Thread returns a snapshot of one thread.
func (a *Aggregator) Thread(threadID string) (ThreadView, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.threads[threadID]
	if !ok {
		return ThreadView{ID: threadID}, false
	}
	return t.view(), true
}

// Threads returns thread ids in first-seen order.
func (a *Aggregator) Threads() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.order...)
}

// Stats returns aggregator counters.
func (a *Aggregator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Stats{
		FramesProcessed:      a.processed,
		DroppedWhileStopping: a.dropped,
		UnknownFrames:        a.unknown,
		RawFrames:            a.raw,
		MessagesFinalized:    a.finalized,
		Threads:              len(a.threads),
	}
}

func (a *Aggregator) threadLocked(id string) *thread {
	t, ok := a.threads[id]
	if !ok {
		t = &thread{id: id}
		a.threads[id] = t
		a.order = append(a.order, id)
	}
	return t
}

// apply dispatches one frame and returns messages that became final.
func (a *Aggregator) apply(f protocol.Frame) []Message {
	switch fr := f.(type) {
	case *protocol.RawFrame:
		a.raw++
		return nil
	case *protocol.UnknownFrame:
		a.unknown++
		a.logger.Debug("ignoring unknown frame", "type", fr.Type)
		return nil
	}

	t := a.threadLocked(f.Thread())
	if t.status == StatusStopping && !passesStop(f) {
		a.dropped++
		return nil
	}
	a.processed++

	switch fr := f.(type) {
	case *protocol.ChunkFrame:
		a.applyChunk(t, fr)
	case *protocol.MessageFrame:
		return a.applyMessage(t, fr)
	case *protocol.JobStatusFrame:
		a.applyJobStatus(t, fr)
	case *protocol.NodeStatusFrame:
		if fr.Status == NodeCompleted {
			t.caption = ""
		} else if fr.NodeName != "" {
			t.caption = fr.NodeName
		} else {
			t.caption = fr.Status
		}
	case *protocol.GenerationStoppedFrame:
		t.status = StatusIdle
		t.running = false
	case *protocol.ErrorFrame:
		t.status = StatusIdle
		t.lastError = fr.Message
		a.logger.Warn("server error", "thread", t.id, "code", fr.Code, "message", fr.Message)
	}
	return nil
}

// passesStop reports whether a frame is applied while a thread is stopping.
func passesStop(f protocol.Frame) bool {
	switch f.Kind() {
	case protocol.KindGenerationStopped, protocol.KindError, protocol.KindJobStatus:
		return true
	}
	return false
}

func (a *Aggregator) applyChunk(t *thread, c *protocol.ChunkFrame) {
	now := a.now()
	if m := t.placeholder(); m != nil {
		m.Content.Text += c.Content
		m.UpdatedAt = now
	} else {
		t.messages = append(t.messages, Message{
			LocalID:   uuid.NewString(),
			ThreadID:  t.id,
			Role:      protocol.RoleAssistant,
			Content:   protocol.TextContent(c.Content),
			State:     MessageStreaming,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	// done ends the burst, not the message: it stays open for further
	// chunks and for the full message that replaces it.
	if c.Done {
		t.status = StatusIdle
		return
	}
	t.status = StatusStreaming
}

func (a *Aggregator) applyMessage(t *thread, fr *protocol.MessageFrame) []Message {
	now := a.now()
	msg := Message{
		ID:        fr.ID,
		ThreadID:  t.id,
		Role:      fr.Role,
		Content:   fr.Content,
		State:     MessageFinal,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if fr.Role == protocol.RoleAssistant {
		if m := t.placeholder(); m != nil {
			msg.LocalID = m.LocalID
			msg.CreatedAt = m.CreatedAt
			*m = msg
			if t.status == StatusStreaming {
				t.status = StatusIdle
			}
			a.finalized++
			return []Message{msg}
		}
	}

	msg.LocalID = uuid.NewString()
	t.messages = append(t.messages, msg)
	a.finalized++
	return []Message{msg}
}

func (a *Aggregator) applyJobStatus(t *thread, fr *protocol.JobStatusFrame) {
	switch fr.Status {
	case JobCompleted:
		t.running = false
	case JobFailed:
		t.running = false
		t.failed = true
		t.reason = fr.Error
		a.logger.Warn("job failed", "thread", t.id, "reason", fr.Error)
	default:
		return
	}
	if t.status == StatusStopping {
		t.status = StatusIdle
	}
}

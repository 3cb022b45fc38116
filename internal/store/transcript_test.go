package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/streamlink/internal/protocol"
	"github.com/rickgao/streamlink/internal/stream"
)

// fakeDB records queued inserts. Local ids already seen count as conflicts.
type fakeDB struct {
	mu      sync.Mutex
	rows    [][]any
	seen    map[uuid.UUID]bool
	batches int
	execErr error
}

func newFakeDB() *fakeDB {
	return &fakeDB{seen: make(map[uuid.UUID]bool)}
}

func (db *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.batches++

	res := &fakeResults{err: db.execErr}
	for _, q := range b.QueuedQueries {
		id := q.Arguments[0].(uuid.UUID)
		if db.seen[id] {
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 0"))
			continue
		}
		db.seen[id] = true
		db.rows = append(db.rows, q.Arguments)
		res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 1"))
	}
	return res
}

func (db *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if !strings.Contains(sql, "chat_messages") {
		return pgconn.CommandTag{}, errors.New("unexpected sql")
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (db *fakeDB) snapshot() [][]any {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([][]any(nil), db.rows...)
}

type fakeResults struct {
	tags []pgconn.CommandTag
	next int
	err  error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	tag := r.tags[r.next]
	r.next++
	return tag, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func finalMessage(thread, text string) stream.Message {
	now := time.Now()
	return stream.Message{
		LocalID:   uuid.NewString(),
		ID:        "srv-" + text,
		ThreadID:  thread,
		Role:      protocol.RoleAssistant,
		Content:   protocol.TextContent(text),
		State:     stream.MessageFinal,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestTransform(t *testing.T) {
	msg := finalMessage("t1", "hello")

	row, err := transform(msg)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if row.LocalID.String() != msg.LocalID {
		t.Errorf("LocalID = %s, want %s", row.LocalID, msg.LocalID)
	}
	if row.MessageID == nil || *row.MessageID != "srv-hello" {
		t.Errorf("MessageID = %v, want srv-hello", row.MessageID)
	}
	if row.ThreadID != "t1" || row.Role != "assistant" || row.Content != "hello" {
		t.Errorf("row = %+v", row)
	}
	if row.State != "final" {
		t.Errorf("State = %s, want final", row.State)
	}
	if row.Parts != nil {
		t.Errorf("Parts = %s, want nil for plain text", row.Parts)
	}
}

func TestTransform_StructuredAndUnconfirmed(t *testing.T) {
	msg := finalMessage("t1", "")
	msg.ID = ""
	msg.Content = protocol.Content{Parts: []protocol.Part{
		{Type: "text", Text: "a"},
		{Type: "image", Fields: map[string]any{"type": "image", "url": "https://example.com/x.png"}},
	}}

	row, err := transform(msg)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if row.MessageID != nil {
		t.Errorf("MessageID = %v, want nil", *row.MessageID)
	}
	if !strings.Contains(string(row.Parts), `"url":"https://example.com/x.png"`) {
		t.Errorf("Parts = %s", row.Parts)
	}
	if !strings.Contains(string(row.Parts), `"text":"a"`) {
		t.Errorf("Parts = %s", row.Parts)
	}
}

func TestTransform_BadLocalID(t *testing.T) {
	msg := finalMessage("t1", "x")
	msg.LocalID = "not-a-uuid"
	if _, err := transform(msg); err == nil {
		t.Error("expected error for invalid local id")
	}
}

func TestTranscriptWriter_FlushOnBatchSize(t *testing.T) {
	db := newFakeDB()
	w := NewTranscriptWriter(WriterConfig{BatchSize: 2, FlushInterval: time.Hour, BufferSize: 4}, db, nil)

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	w.MessageFinalized(finalMessage("t1", "one"))
	w.MessageFinalized(finalMessage("t1", "two"))

	deadline := time.Now().Add(2 * time.Second)
	for len(db.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(db.snapshot()); got != 2 {
		t.Fatalf("inserted %d rows, want 2", got)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("Stop: %v", err)
	}

	stats := w.Stats()
	if stats.Received != 2 || stats.Inserts != 2 || stats.Flushes != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestTranscriptWriter_StopFlushesRemainder(t *testing.T) {
	db := newFakeDB()
	w := NewTranscriptWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, db, nil)

	ctx := context.Background()
	w.Start(ctx)

	for _, text := range []string{"a", "b", "c"} {
		w.MessageFinalized(finalMessage("t1", text))
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	rows := db.snapshot()
	if len(rows) != 3 {
		t.Fatalf("inserted %d rows, want 3", len(rows))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got := rows[i][4]; got != want {
			t.Errorf("row %d content = %v, want %s", i, got, want)
		}
	}

	w.MessageFinalized(finalMessage("t1", "late"))
	if w.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1 after Stop", w.Stats().Dropped)
	}
}

func TestTranscriptWriter_FlushInterval(t *testing.T) {
	db := newFakeDB()
	w := NewTranscriptWriter(WriterConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, db, nil)

	ctx := context.Background()
	w.Start(ctx)
	defer w.Stop(ctx)

	w.MessageFinalized(finalMessage("t1", "tick"))

	deadline := time.Now().Add(2 * time.Second)
	for len(db.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(db.snapshot()) != 1 {
		t.Fatal("ticker did not flush the partial batch")
	}
}

func TestTranscriptWriter_Conflicts(t *testing.T) {
	db := newFakeDB()
	w := NewTranscriptWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, db, nil)

	ctx := context.Background()
	w.Start(ctx)

	msg := finalMessage("t1", "dup")
	w.MessageFinalized(msg)
	w.MessageFinalized(msg)
	w.Stop(ctx)

	stats := w.Stats()
	if stats.Inserts != 1 || stats.Conflicts != 1 {
		t.Errorf("Inserts = %d, Conflicts = %d, want 1 and 1", stats.Inserts, stats.Conflicts)
	}
}

func TestTranscriptWriter_InsertError(t *testing.T) {
	db := newFakeDB()
	db.execErr = errors.New("connection reset")
	w := NewTranscriptWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, db, nil)

	ctx := context.Background()
	w.Start(ctx)
	w.MessageFinalized(finalMessage("t1", "x"))

	if err := w.Stop(ctx); err == nil {
		t.Error("expected final flush error")
	}
	if w.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", w.Stats().Errors)
	}
}

func TestTranscriptWriter_WithAggregator(t *testing.T) {
	db := newFakeDB()
	w := NewTranscriptWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, db, nil)
	agg := stream.NewAggregator(nil, stream.WithSink(w))

	ctx := context.Background()
	w.Start(ctx)

	agg.Consume(&protocol.ChunkFrame{ThreadID: "t1", Content: "Hel"})
	agg.Consume(&protocol.ChunkFrame{ThreadID: "t1", Content: "lo", Done: true})
	agg.Consume(&protocol.MessageFrame{ThreadID: "t1", ID: "m1", Role: protocol.RoleAssistant, Content: protocol.TextContent("Hello")})
	w.Stop(ctx)

	rows := db.snapshot()
	if len(rows) != 1 {
		t.Fatalf("inserted %d rows, want 1 (chunks are never persisted)", len(rows))
	}
	if rows[0][4] != "Hello" {
		t.Errorf("content = %v, want Hello", rows[0][4])
	}
}

func TestEnsureSchema(t *testing.T) {
	if err := EnsureSchema(context.Background(), newFakeDB()); err != nil {
		t.Errorf("EnsureSchema: %v", err)
	}
	if !strings.Contains(schemaSQL, "local_id     UUID PRIMARY KEY") {
		t.Error("schema must key chat_messages by local_id")
	}
}

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WriterConfig configures transcript batching.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the initial capacity of the input buffer.
	BufferSize int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
		BufferSize:    256,
	}
}

// BatchSender is the subset of *pgxpool.Pool the writer needs.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// messageRow represents a row to be inserted into the chat_messages table.
type messageRow struct {
	LocalID     uuid.UUID // Primary key
	MessageID   *string   // Server id, NULL when never confirmed
	ThreadID    string
	Role        string
	Content     string // Flattened text
	Parts       []byte // JSON parts for structured content, NULL otherwise
	State       string
	CreatedAt   time.Time
	FinalizedAt time.Time
}

// WriterMetrics tracks writer statistics.
type WriterMetrics struct {
	Received  int64
	Dropped   int64
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

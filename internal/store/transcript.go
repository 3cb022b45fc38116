package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/streamlink/internal/buffer"
	"github.com/rickgao/streamlink/internal/protocol"
	"github.com/rickgao/streamlink/internal/stream"
)

const insertMessageSQL = `
	INSERT INTO chat_messages (local_id, message_id, thread_id, role, content, parts, state, created_at, finalized_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (local_id) DO NOTHING
`

// TranscriptWriter batches finalized messages into the chat_messages table.
type TranscriptWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the aggregator
	input *buffer.Growable[stream.Message]

	// Database
	db BatchSender

	// Batching
	batch   []messageRow
	batchMu sync.Mutex

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	consumed chan struct{}
	wg       sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewTranscriptWriter creates a new TranscriptWriter.
func NewTranscriptWriter(cfg WriterConfig, db BatchSender, logger *slog.Logger) *TranscriptWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &TranscriptWriter{
		cfg:    cfg,
		input:  buffer.New[stream.Message](cfg.BufferSize),
		db:     db,
		logger: logger,
		batch:  make([]messageRow, 0, cfg.BatchSize),
	}
}

// MessageFinalized queues a message for persistence. It never blocks.
func (w *TranscriptWriter) MessageFinalized(m stream.Message) {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	if !w.input.Push(m) {
		w.metrics.Dropped++
		return
	}
	w.metrics.Received++
}

// Start begins consuming messages and writing to the database.
func (w *TranscriptWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.consumed = make(chan struct{})

	// Consumer goroutine
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("transcript writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued messages, flushes and shuts down the writer.
func (w *TranscriptWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping transcript writer")

	// Closing the input lets the consumer drain what is already queued.
	w.input.Close()
	if w.consumed != nil {
		select {
		case <-w.consumed:
		case <-ctx.Done():
			w.logger.Warn("transcript writer drain timed out", "pending", w.input.Len())
		}
	}

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("transcript writer stop timed out")
	}

	// Final flush
	err := w.flush(ctx)
	w.logger.Info("transcript writer stopped")
	return err
}

// Stats returns current metrics.
func (w *TranscriptWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop moves messages from the input buffer into the batch until the
// buffer is closed and empty.
func (w *TranscriptWriter) consumeLoop() {
	defer close(w.consumed)

	for {
		msg, ok := w.input.Receive()
		if !ok {
			return
		}
		w.handleMessage(msg)
	}
}

// flushLoop periodically flushes the batch.
func (w *TranscriptWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// handleMessage transforms and adds a message to the batch.
func (w *TranscriptWriter) handleMessage(msg stream.Message) {
	row, err := transform(msg)
	if err != nil {
		w.logger.Warn("dropping message", "local_id", msg.LocalID, "error", err)
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts a stream.Message to a messageRow.
func transform(msg stream.Message) (messageRow, error) {
	localID, err := uuid.Parse(msg.LocalID)
	if err != nil {
		return messageRow{}, fmt.Errorf("parse local id: %w", err)
	}

	var parts []byte
	if msg.Content.Structured() {
		parts, err = partsJSON(msg.Content)
		if err != nil {
			return messageRow{}, err
		}
	}

	var messageID *string
	if msg.ID != "" {
		id := msg.ID
		messageID = &id
	}

	finalizedAt := msg.UpdatedAt
	if finalizedAt.IsZero() {
		finalizedAt = time.Now()
	}

	return messageRow{
		LocalID:     localID,
		MessageID:   messageID,
		ThreadID:    msg.ThreadID,
		Role:        string(msg.Role),
		Content:     msg.Content.String(),
		Parts:       parts,
		State:       msg.State.String(),
		CreatedAt:   msg.CreatedAt,
		FinalizedAt: finalizedAt,
	}, nil
}

func partsJSON(c protocol.Content) ([]byte, error) {
	out := make([]map[string]any, 0, len(c.Parts))
	for _, p := range c.Parts {
		if p.Fields != nil {
			out = append(out, p.Fields)
			continue
		}
		out = append(out, map[string]any{"type": p.Type, "text": p.Text})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode content parts: %w", err)
	}
	return data, nil
}

// flush writes the current batch to the database.
func (w *TranscriptWriter) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]messageRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return err
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed messages",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *TranscriptWriter) batchInsert(ctx context.Context, rows []messageRow) (conflicts int, err error) {
	if w.db == nil {
		return 0, fmt.Errorf("no database configured")
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertMessageSQL,
			r.LocalID, r.MessageID, r.ThreadID, r.Role, r.Content, r.Parts, r.State, r.CreatedAt, r.FinalizedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

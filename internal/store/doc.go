// Package store persists finalized chat messages to PostgreSQL.
//
// The TranscriptWriter receives messages from the stream aggregator, batches
// them and inserts them into chat_messages. Inserts are append-only and keyed
// by the message's local id, so replays are ignored (ON CONFLICT DO NOTHING).
// Streaming chunks are never written.
package store

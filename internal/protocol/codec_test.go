package protocol

import (
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestDecodeBinary_Chunk(t *testing.T) {
	data, err := Encode(map[string]any{
		"type":      "chunk",
		"thread_id": "t1",
		"content":   "Hel",
		"done":      false,
	})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	f, ok := DecodeBinary(data)
	if !ok {
		t.Fatal("DecodeBinary reported fallback for a valid map")
	}
	chunk, isChunk := f.(*ChunkFrame)
	if !isChunk {
		t.Fatalf("frame = %T, want *ChunkFrame", f)
	}
	if chunk.ThreadID != "t1" {
		t.Errorf("ThreadID = %q, want t1", chunk.ThreadID)
	}
	if chunk.Content != "Hel" {
		t.Errorf("Content = %q, want Hel", chunk.Content)
	}
	if chunk.Done {
		t.Error("Done = true, want false")
	}
}

func TestDecodeBinary_NotAMap(t *testing.T) {
	data, _ := msgpack.Marshal("just a string")

	f, ok := DecodeBinary(data)
	if ok {
		t.Error("DecodeBinary ok = true for non-map payload")
	}
	raw, isRaw := f.(*RawFrame)
	if !isRaw {
		t.Fatalf("frame = %T, want *RawFrame", f)
	}
	if string(raw.Data) != string(data) {
		t.Error("RawFrame should carry the original bytes")
	}
}

func TestDecodeBinary_Garbage(t *testing.T) {
	f, ok := DecodeBinary([]byte{0xc1, 0xff, 0x00})
	if ok {
		t.Error("DecodeBinary ok = true for garbage")
	}
	if f.Kind() != KindRaw {
		t.Errorf("Kind() = %v, want raw", f.Kind())
	}
}

func TestDecodeText_JSON(t *testing.T) {
	f, ok := DecodeText([]byte(`{"type":"job_status","thread_id":"t9","status":"failed","error":"boom"}`))
	if !ok {
		t.Fatal("DecodeText reported fallback for valid JSON")
	}
	job, isJob := f.(*JobStatusFrame)
	if !isJob {
		t.Fatalf("frame = %T, want *JobStatusFrame", f)
	}
	if job.Status != "failed" || job.Error != "boom" || job.ThreadID != "t9" {
		t.Errorf("job = %+v", job)
	}
}

func TestDecodeText_RawFallback(t *testing.T) {
	f, ok := DecodeText([]byte("pong"))
	if ok {
		t.Error("DecodeText ok = true for plain text")
	}
	raw, isRaw := f.(*RawFrame)
	if !isRaw {
		t.Fatalf("frame = %T, want *RawFrame", f)
	}
	if raw.Text != "pong" {
		t.Errorf("Text = %q, want pong", raw.Text)
	}
}

func TestFromMap_MessageStructuredContent(t *testing.T) {
	f := FromMap(map[string]any{
		"type": "message",
		"id":   "srv-1",
		"role": "assistant",
		"content": []any{
			map[string]any{"type": "text", "text": "Hello "},
			map[string]any{"type": "text", "text": "World"},
		},
	})

	msg, ok := f.(*MessageFrame)
	if !ok {
		t.Fatalf("frame = %T, want *MessageFrame", f)
	}
	if msg.Role != RoleAssistant {
		t.Errorf("Role = %q, want assistant", msg.Role)
	}
	if !msg.Content.Structured() {
		t.Fatal("Content should be structured")
	}
	if got := msg.Content.String(); got != "Hello World" {
		t.Errorf("Content.String() = %q, want %q", got, "Hello World")
	}
}

func TestFromMap_Kinds(t *testing.T) {
	tests := []struct {
		typ  string
		want Kind
	}{
		{"message", KindMessage},
		{"chunk", KindChunk},
		{"job_status", KindJobStatus},
		{"node-status", KindNodeStatus},
		{"generation_stopped", KindGenerationStopped},
		{"error", KindError},
		{"telemetry", KindUnknown},
		{"", KindUnknown},
	}

	for _, tt := range tests {
		f := FromMap(map[string]any{"type": tt.typ})
		if f.Kind() != tt.want {
			t.Errorf("FromMap(type=%q).Kind() = %v, want %v", tt.typ, f.Kind(), tt.want)
		}
	}
}

func TestFromMap_ErrorFallsBackToErrorField(t *testing.T) {
	f := FromMap(map[string]any{"type": "error", "error": "rate limited"})
	e, ok := f.(*ErrorFrame)
	if !ok {
		t.Fatalf("frame = %T, want *ErrorFrame", f)
	}
	if e.Message != "rate limited" {
		t.Errorf("Message = %q, want %q", e.Message, "rate limited")
	}
}

func TestEncode_OutboundMessageRoundTrip(t *testing.T) {
	data, err := Encode(NewUserMessage("t1", "local-1", "hi"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var m map[string]any
	if err := msgpack.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if m["type"] != "message" || m["thread_id"] != "t1" || m["content"] != "hi" {
		t.Errorf("decoded = %v", m)
	}

	stop, _ := Encode(NewStopGeneration("t1"))
	f, _ := DecodeBinary(stop)
	unknown, ok := f.(*UnknownFrame)
	if !ok || unknown.Type != TypeStopGeneration {
		t.Fatalf("stop frame decoded as %#v", f)
	}
	if _, has := unknown.Fields["content"]; has {
		t.Error("empty content should be omitted")
	}
}

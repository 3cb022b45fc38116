package connection

import (
	"errors"
	"testing"
)

func TestMessageQueue_FlushFIFO(t *testing.T) {
	q := NewMessageQueue(2)
	for _, p := range []string{"a", "b", "c", "d"} {
		q.Enqueue(p)
	}
	if q.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", q.Len())
	}

	var got []string
	n, err := q.Flush(func(m QueuedMessage) error {
		got = append(got, m.Payload.(string))
		return nil
	})
	if err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	if n != 4 {
		t.Errorf("Flush sent %d, want 4", n)
	}
	want := []string{"a", "b", "c", "d"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %q, want %q", i, got[i], want[i])
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() after flush = %d, want 0", q.Len())
	}
}

func TestMessageQueue_SeqIncreases(t *testing.T) {
	q := NewMessageQueue(4)
	a := q.Enqueue("a")
	b := q.Enqueue("b")
	if b.Seq <= a.Seq {
		t.Errorf("seq not increasing: %d then %d", a.Seq, b.Seq)
	}
	if a.QueuedAt.IsZero() {
		t.Error("QueuedAt not set")
	}
}

func TestMessageQueue_EnqueueDuringFlushIsKept(t *testing.T) {
	q := NewMessageQueue(4)
	q.Enqueue("first")
	q.Enqueue("second")

	var sent []string
	_, err := q.Flush(func(m QueuedMessage) error {
		sent = append(sent, m.Payload.(string))
		if m.Payload == "first" {
			q.Enqueue("late")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Flush error: %v", err)
	}

	if len(sent) != 2 {
		t.Fatalf("sent %v, want only the snapshot", sent)
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (late item retained)", q.Len())
	}

	var later []string
	q.Flush(func(m QueuedMessage) error {
		later = append(later, m.Payload.(string))
		return nil
	})
	if len(later) != 1 || later[0] != "late" {
		t.Errorf("second flush = %v, want [late]", later)
	}
}

func TestMessageQueue_FlushAttemptsAll(t *testing.T) {
	q := NewMessageQueue(4)
	q.Enqueue("ok1")
	q.Enqueue("bad")
	q.Enqueue("ok2")

	errBad := errors.New("bad payload")
	var attempted int
	n, err := q.Flush(func(m QueuedMessage) error {
		attempted++
		if m.Payload == "bad" {
			return errBad
		}
		return nil
	})

	if attempted != 3 {
		t.Errorf("attempted %d, want 3", attempted)
	}
	if n != 2 {
		t.Errorf("sent %d, want 2", n)
	}
	if !errors.Is(err, errBad) {
		t.Errorf("error = %v, want to wrap %v", err, errBad)
	}
	if q.Len() != 0 {
		t.Errorf("failed item requeued: Len() = %d", q.Len())
	}
}

func TestMessageQueue_Clear(t *testing.T) {
	q := NewMessageQueue(4)
	q.Enqueue(1)
	q.Enqueue(2)

	if n := q.Clear(); n != 2 {
		t.Errorf("Clear() = %d, want 2", n)
	}

	calls := 0
	q.Flush(func(QueuedMessage) error { calls++; return nil })
	if calls != 0 {
		t.Errorf("flush after clear sent %d items", calls)
	}
}

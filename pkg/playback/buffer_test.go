package playback

import (
	"io"
	"testing"
	"time"
)

func TestAppendBufferRoundTrip(t *testing.T) {
	b := newAppendBuffer(64)
	if err := b.Append([]byte("hello ")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := b.Append([]byte("world")); err != nil {
		t.Fatalf("append: %v", err)
	}
	b.Close()

	data, err := io.ReadAll(b)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected data %q", data)
	}
	if _, err := io.ReadAll(b); err != nil {
		t.Fatalf("read after drain: %v", err)
	}
}

func TestAppendBufferBackpressure(t *testing.T) {
	b := newAppendBuffer(4)
	if err := b.Append([]byte("abcd")); err != nil {
		t.Fatalf("append: %v", err)
	}

	unblocked := make(chan error, 1)
	go func() {
		unblocked <- b.Append([]byte("ef"))
	}()

	select {
	case err := <-unblocked:
		t.Fatalf("append must block while full, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	buf := make([]byte, 4)
	if _, err := b.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	select {
	case err := <-unblocked:
		if err != nil {
			t.Fatalf("append after drain: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("append never unblocked")
	}
}

func TestAppendBufferSingleAppendInFlight(t *testing.T) {
	b := newAppendBuffer(1)
	if err := b.Append([]byte("x")); err != nil {
		t.Fatalf("append: %v", err)
	}
	entered := make(chan struct{})
	go func() {
		close(entered)
		_ = b.Append([]byte("y")) // blocks on backpressure
	}()
	<-entered
	time.Sleep(20 * time.Millisecond)

	if err := b.Append([]byte("z")); err != ErrAppendBusy {
		t.Fatalf("expected ErrAppendBusy, got %v", err)
	}
	b.CloseDiscard()
}

func TestAppendBufferCloseRejectsAppend(t *testing.T) {
	b := newAppendBuffer(16)
	b.Close()
	if err := b.Append([]byte("late")); err != ErrBufferClosed {
		t.Fatalf("expected ErrBufferClosed, got %v", err)
	}
}

func TestAppendBufferCloseDiscard(t *testing.T) {
	b := newAppendBuffer(16)
	_ = b.Append([]byte("unheard"))
	b.CloseDiscard()
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer after discard, got %d", b.Len())
	}
	if _, err := b.Read(make([]byte, 4)); err != io.EOF {
		t.Fatalf("expected EOF after discard, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition never met")
}

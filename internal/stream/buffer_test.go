package stream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func readAll(t *testing.T, c *Client) ([]byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []byte
	for {
		chunk, err := c.Read(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, chunk...)
	}
}

func TestBufferFanOut(t *testing.T) {
	b := NewBuffer(1 << 20)

	if _, err := b.Write([]byte("hello ")); err != nil {
		t.Fatalf("write: %v", err)
	}

	c1, err := b.Attach("ua-1", "10.0.0.1:1234")
	if err != nil {
		t.Fatalf("attach c1: %v", err)
	}
	c2, err := b.Attach("ua-2", "10.0.0.2:1234")
	if err != nil {
		t.Fatalf("attach c2: %v", err)
	}

	if _, err := b.Write([]byte("world")); err != nil {
		t.Fatalf("write: %v", err)
	}
	b.Close()

	for i, c := range []*Client{c1, c2} {
		got, err := readAll(t, c)
		if !errors.Is(err, io.EOF) {
			t.Fatalf("client %d: want EOF, got %v", i, err)
		}
		if string(got) != "hello world" {
			t.Fatalf("client %d: got %q", i, got)
		}
		if c.BytesRead() != uint64(len("hello world")) {
			t.Fatalf("client %d: bytes read %d", i, c.BytesRead())
		}
	}
}

func TestBufferLateAttachSeesRetainedData(t *testing.T) {
	b := NewBuffer(1 << 20)
	b.Write([]byte("abc"))
	b.Write([]byte("def"))

	c, err := b.Attach("ua", "addr")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	b.Close()

	got, err := readAll(t, c)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("want EOF, got %v", err)
	}
	if string(got) != "abcdef" {
		t.Fatalf("got %q", got)
	}
}

func TestBufferEvictionDisconnectsLaggingClient(t *testing.T) {
	// Room for roughly two 4-byte chunks.
	b := NewBuffer(8)

	c, err := b.Attach("ua", "addr")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	// The client never reads while the producer laps the buffer.
	for i := 0; i < 10; i++ {
		if _, err := b.Write([]byte("xxxx")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Read(ctx); !errors.Is(err, ErrClientLagging) {
		t.Fatalf("want ErrClientLagging, got %v", err)
	}
}

func TestBufferKeepsNewestChunkUnderPressure(t *testing.T) {
	b := NewBuffer(1)
	b.Write([]byte("old!"))
	b.Write([]byte("new!"))

	c, err := b.Attach("ua", "addr")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	b.Close()

	got, err := readAll(t, c)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("want EOF, got %v", err)
	}
	if string(got) != "new!" {
		t.Fatalf("got %q", got)
	}
}

func TestBufferCloseWithErrorAfterDrain(t *testing.T) {
	b := NewBuffer(1 << 20)
	c, err := b.Attach("ua", "addr")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	b.Write([]byte("partial"))
	crash := errors.New("process crashed")
	b.CloseWithError(crash)

	got, err := readAll(t, c)
	if !errors.Is(err, crash) {
		t.Fatalf("want crash error, got %v", err)
	}
	if string(got) != "partial" {
		t.Fatalf("buffered data lost: got %q", got)
	}
}

func TestBufferAttachAfterClose(t *testing.T) {
	b := NewBuffer(1 << 20)
	b.Close()
	if _, err := b.Attach("ua", "addr"); !errors.Is(err, ErrBufferClosed) {
		t.Fatalf("want ErrBufferClosed, got %v", err)
	}
}

func TestBufferWriteAfterClose(t *testing.T) {
	b := NewBuffer(1 << 20)
	b.Close()
	if _, err := b.Write([]byte("x")); !errors.Is(err, ErrBufferClosed) {
		t.Fatalf("want ErrBufferClosed, got %v", err)
	}
}

func TestClientReadContextCancel(t *testing.T) {
	b := NewBuffer(1 << 20)
	c, err := b.Attach("ua", "addr")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Read(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("read did not observe cancellation")
	}
}

func TestBufferIdleTracking(t *testing.T) {
	b := NewBuffer(1 << 20)
	if b.IdleSince().IsZero() {
		t.Fatal("fresh buffer should report idle")
	}

	c, err := b.Attach("ua", "addr")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !b.IdleSince().IsZero() {
		t.Fatal("buffer with a client should not report idle")
	}
	if b.ClientCount() != 1 {
		t.Fatalf("client count %d", b.ClientCount())
	}

	if remaining := c.Close(); remaining != 0 {
		t.Fatalf("remaining %d", remaining)
	}
	if b.IdleSince().IsZero() {
		t.Fatal("buffer should report idle after last detach")
	}
}

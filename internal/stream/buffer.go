// Package stream manages extraction sessions: the fan-out buffer that
// duplicates one subprocess output to every attached client, the per-source
// session lifecycle, and the registry that deduplicates concurrent requests.
package stream

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrBufferClosed is returned when attaching to a closed buffer.
var ErrBufferClosed = errors.New("buffer closed")

// ErrClientLagging is returned to a reader that fell behind the buffer's
// eviction horizon. The producer never blocks on slow consumers; a consumer
// that cannot keep up is disconnected instead.
var ErrClientLagging = errors.New("client fell behind buffer horizon")

// chunk is one write from the producer, identified by sequence number.
type chunk struct {
	seq  uint64
	data []byte
}

// Buffer is a single-producer broadcast buffer. The producer appends chunks;
// each attached client reads them independently through its own cursor, so
// bytes are duplicated per client rather than consumed. Old chunks are
// evicted once the buffer exceeds its byte bound.
type Buffer struct {
	maxBytes int

	mu        sync.Mutex
	chunks    []chunk
	firstSeq  uint64
	nextSeq   uint64
	bytes     int
	closed    bool
	closeErr  error
	clients   map[uuid.UUID]*Client
	idleSince time.Time

	totalBytes atomic.Uint64
}

// NewBuffer creates a buffer bounded to maxBytes of retained chunk data.
func NewBuffer(maxBytes int) *Buffer {
	return &Buffer{
		maxBytes:  maxBytes,
		clients:   make(map[uuid.UUID]*Client),
		idleSince: time.Now(),
	}
}

// Write appends a copy of p as one chunk and wakes all waiting clients.
// Implements io.Writer so the producer pump can use it directly.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	data := make([]byte, len(p))
	copy(data, p)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, ErrBufferClosed
	}

	b.chunks = append(b.chunks, chunk{seq: b.nextSeq, data: data})
	b.nextSeq++
	b.bytes += len(data)

	for b.bytes > b.maxBytes && len(b.chunks) > 1 {
		evicted := b.chunks[0]
		b.chunks = b.chunks[1:]
		b.bytes -= len(evicted.data)
		b.firstSeq = evicted.seq + 1
	}

	clients := b.clientsLocked()
	b.mu.Unlock()

	b.totalBytes.Add(uint64(len(data)))

	for _, c := range clients {
		c.notify()
	}
	return len(p), nil
}

// Close marks the end of the stream. Readers drain remaining chunks and
// then receive io.EOF.
func (b *Buffer) Close() {
	b.CloseWithError(nil)
}

// CloseWithError marks the end of the stream with a terminal error that
// readers receive after draining. A nil err behaves like Close.
func (b *Buffer) CloseWithError(err error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.closeErr = err
	clients := b.clientsLocked()
	b.mu.Unlock()

	for _, c := range clients {
		c.notify()
	}
}

// Attach registers a new client reading from the earliest retained chunk.
func (b *Buffer) Attach(userAgent, remoteAddr string) (*Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBufferClosed
	}

	c := newClient(b, userAgent, remoteAddr)
	c.nextSeq = b.firstSeq
	b.clients[c.ID] = c
	b.idleSince = time.Time{}
	return c, nil
}

// detach removes a client and returns the remaining client count.
func (b *Buffer) detach(id uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.clients, id)
	remaining := len(b.clients)
	if remaining == 0 {
		b.idleSince = time.Now()
	}
	return remaining
}

// ClientCount returns the number of attached clients.
func (b *Buffer) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// IdleSince returns when the buffer last lost its final client, or the zero
// time while clients are attached.
func (b *Buffer) IdleSince() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.idleSince
}

// BytesWritten returns the total bytes the producer has written.
func (b *Buffer) BytesWritten() uint64 {
	return b.totalBytes.Load()
}

// next returns the chunk at seq, or the buffer's terminal condition.
func (b *Buffer) next(seq uint64) ([]byte, uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if seq < b.firstSeq {
		return nil, seq, ErrClientLagging
	}
	if seq < b.nextSeq {
		c := b.chunks[seq-b.firstSeq]
		return c.data, c.seq + 1, nil
	}
	if b.closed {
		if b.closeErr != nil {
			return nil, seq, b.closeErr
		}
		return nil, seq, io.EOF
	}
	return nil, seq, nil
}

// clientsLocked snapshots the client set. Caller holds b.mu.
func (b *Buffer) clientsLocked() []*Client {
	out := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		out = append(out, c)
	}
	return out
}

package stream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Client is one consumer attached to a Buffer. Each client has its own
// cursor; reads never affect other clients.
type Client struct {
	ID          uuid.UUID
	ConnectedAt time.Time
	UserAgent   string
	RemoteAddr  string

	buf       *Buffer
	nextSeq   uint64
	bytesRead atomic.Uint64
	waitCh    chan struct{}
}

func newClient(b *Buffer, userAgent, remoteAddr string) *Client {
	return &Client{
		ID:          uuid.New(),
		ConnectedAt: time.Now(),
		UserAgent:   userAgent,
		RemoteAddr:  remoteAddr,
		buf:         b,
		waitCh:      make(chan struct{}, 1),
	}
}

// notify signals the client that new data is available. Non-blocking.
func (c *Client) notify() {
	select {
	case c.waitCh <- struct{}{}:
	default:
	}
}

// Read returns the next chunk, blocking until data arrives, the stream
// ends (io.EOF or the buffer's terminal error), the client lags out
// (ErrClientLagging), or ctx is done. The returned slice is shared with
// other clients and must not be modified.
func (c *Client) Read(ctx context.Context) ([]byte, error) {
	for {
		data, next, err := c.buf.next(c.nextSeq)
		if err != nil {
			return nil, err
		}
		if data != nil {
			c.nextSeq = next
			c.bytesRead.Add(uint64(len(data)))
			return data, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.waitCh:
		}
	}
}

// Close detaches the client from its buffer and returns the number of
// clients still attached.
func (c *Client) Close() int {
	return c.buf.detach(c.ID)
}

// BytesRead returns the total bytes this client has consumed.
func (c *Client) BytesRead() uint64 {
	return c.bytesRead.Load()
}

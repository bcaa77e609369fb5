package tcp

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/cory-johannsen/craftd/internal/session"
)

// Conn wraps a client TCP connection. Outbound packets go through a bounded
// Queue drained by a single writer goroutine; reads come straight off the
// socket through a buffered reader.
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader
	queue  *session.Queue

	readTimeout  time.Duration
	writeTimeout time.Duration

	writerDone chan struct{}
	closeOnce  sync.Once
	writeErr   error
}

// NewConn wraps raw and starts its writer goroutine.
//
// Precondition: raw must be a valid, open network connection.
// Postcondition: Returns a Conn whose Queue is ready for Send.
func NewConn(raw net.Conn, readTimeout, writeTimeout time.Duration, queueSize int) *Conn {
	c := &Conn{
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		queue:        session.NewQueue(queueSize),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		writerDone:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Queue returns the outbound sink for this connection.
func (c *Conn) Queue() *session.Queue {
	return c.queue
}

// writeLoop writes queued packets in order. Once the queue is closed it
// flushes what is already buffered and closes the socket. A failed write
// closes the queue so producers see ErrQueueClosed.
func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	defer c.raw.Close()

	events := c.queue.Events()
	for {
		select {
		case data := <-events:
			if err := c.write(data); err != nil {
				c.writeErr = err
				_ = c.queue.Close()
				return
			}
		case <-c.queue.Done():
			for {
				select {
				case data := <-events:
					if err := c.write(data); err != nil {
						c.writeErr = err
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Conn) write(data []byte) error {
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.raw.Write(data)
	return err
}

// Read reads inbound bytes, applying the read timeout to each call.
func (c *Conn) Read(p []byte) (int, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	return c.reader.Read(p)
}

// Close closes the queue, waits for queued packets to be flushed and the
// socket to close, and returns the writer's error if a write failed.
//
// Postcondition: The connection is closed and the writer goroutine has exited.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.queue.Close()
	})
	<-c.writerDone
	return c.writeErr
}

// Done is closed once the writer goroutine has exited and the socket is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.writerDone
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

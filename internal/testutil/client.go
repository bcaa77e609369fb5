package testutil

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

// PacketClient is a raw game protocol test client for integration testing.
type PacketClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

// NewPacketClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected PacketClient or fails the test.
func NewPacketClient(t *testing.T, addr string) *PacketClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	t.Logf("packet client connected to %s [%s]", addr, time.Since(start))
	return &PacketClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
		t:      t,
	}
}

// ReadN reads exactly n bytes or fails the test on timeout.
func (c *PacketClient) ReadN(n int, timeout time.Duration) []byte {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		c.t.Fatalf("reading %d bytes: %v", n, err)
	}
	return buf
}

// ReadTag reads one packet tag.
func (c *PacketClient) ReadTag(timeout time.Duration) byte {
	c.t.Helper()
	return c.ReadN(1, timeout)[0]
}

// ReadString reads a string with a 16-bit big-endian length prefix.
func (c *PacketClient) ReadString(timeout time.Duration) string {
	c.t.Helper()
	n := binary.BigEndian.Uint16(c.ReadN(2, timeout))
	return string(c.ReadN(int(n), timeout))
}

// WaitClosed reads until the server closes the connection, failing the test
// if that does not happen within timeout. It returns the bytes read on the way.
func (c *PacketClient) WaitClosed(timeout time.Duration) []byte {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	rest, err := io.ReadAll(c.reader)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			c.t.Fatalf("server did not close the connection within %s", timeout)
		}
	}
	return rest
}

// Write sends raw bytes to the server.
func (c *PacketClient) Write(data []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write(data); err != nil {
		c.t.Fatalf("writing %d bytes: %v", len(data), err)
	}
}

// Close closes the underlying connection.
func (c *PacketClient) Close() {
	c.conn.Close()
}

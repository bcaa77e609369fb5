package tcp

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/craftd/internal/session"
)

func TestConnWritesInOrder(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	conn := NewConn(server, time.Second, time.Second, 4)

	q := conn.Queue()
	require.NoError(t, q.Send([]byte("a")))
	require.NoError(t, q.Send([]byte("bc")))
	require.NoError(t, q.Send([]byte("def")))

	buf := make([]byte, 6)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(buf))

	require.NoError(t, conn.Close())
}

func TestConnCloseFlushesQueued(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	conn := NewConn(server, time.Second, time.Second, 4)

	require.NoError(t, conn.Queue().Send([]byte("last")))
	require.NoError(t, conn.Queue().Close())

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Equal(t, "last", string(data))

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not exit")
	}
	assert.NoError(t, conn.Close())
}

func TestConnWriteFailureClosesQueue(t *testing.T) {
	server, client := net.Pipe()
	conn := NewConn(server, time.Second, time.Second, 4)
	client.Close()

	require.NoError(t, conn.Queue().Send([]byte("lost")))
	require.Eventually(t, conn.Queue().IsClosed, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, conn.Queue().Send([]byte("more")), session.ErrQueueClosed)
	assert.Error(t, conn.Close())
}

func TestConnWriteTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	conn := NewConn(server, time.Second, 50*time.Millisecond, 4)

	// Nobody reads from client, so the pipe write stalls until the deadline.
	require.NoError(t, conn.Queue().Send([]byte("stalled")))
	require.Eventually(t, conn.Queue().IsClosed, 2*time.Second, 10*time.Millisecond)
	assert.Error(t, conn.Close())
}

func TestConnReadTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	conn := NewConn(server, 50*time.Millisecond, time.Second, 4)
	defer conn.Close()

	_, err := conn.Read(make([]byte, 8))
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

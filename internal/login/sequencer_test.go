package login

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/craftd/internal/chunk"
	"github.com/cory-johannsen/craftd/internal/protocol"
	"github.com/cory-johannsen/craftd/internal/session"
)

var errSinkBroken = errors.New("broken pipe")

// recordingSink captures every packet and fails once failAfter sends succeeded.
type recordingSink struct {
	mu        sync.Mutex
	packets   [][]byte
	failAfter int
	closes    int
}

func (r *recordingSink) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAfter > 0 && len(r.packets) >= r.failAfter {
		return errSinkBroken
	}
	r.packets = append(r.packets, append([]byte(nil), data...))
	return nil
}

func (r *recordingSink) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

func (r *recordingSink) tags() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	tags := make([]byte, len(r.packets))
	for i, p := range r.packets {
		tags[i] = p[0]
	}
	return tags
}

func (r *recordingSink) packet(i int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.packets[i]
}

type fakeAccessList struct {
	banned map[string]string
	err    error
}

func (f fakeAccessList) Lookup(_ context.Context, username string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	reason, ok := f.banned[username]
	return reason, ok, nil
}

// cancellingProvider cancels the login context after n chunks were served.
type cancellingProvider struct {
	next   chunk.Provider
	n      int
	cancel context.CancelFunc
	served int
}

func (c *cancellingProvider) Compressed(ctx context.Context, key chunk.Key) ([]byte, error) {
	c.served++
	if c.served == c.n {
		c.cancel()
	}
	return c.next.Compressed(ctx, key)
}

func newTestSequencer(t *testing.T, opts ...Option) (*Sequencer, *session.Registry) {
	t.Helper()
	cache, err := chunk.NewCache(chunk.NewProvider(chunk.Placeholder{}), 128)
	require.NoError(t, err)
	reg := session.NewRegistry()
	return NewSequencer(reg, cache, DefaultWorld(), zaptest.NewLogger(t), opts...), reg
}

func connect(t *testing.T, q *Sequencer, reg *session.Registry, id uint64, sink *recordingSink) *session.Session {
	t.Helper()
	s := session.New(id, sink)
	require.NoError(t, reg.Insert(s))
	require.NoError(t, q.Handshake(context.Background(), s))
	return s
}

func validCreds() Credentials {
	return Credentials{Username: "Notch", ProtocolVersion: protocol.Version}
}

func expectedLoginTags() []byte {
	tags := []byte{protocol.TagLoginResponse, protocol.TagPreChunk}
	for i := 0; i < (2*StreamRadius+1)*(2*StreamRadius+1); i++ {
		tags = append(tags, protocol.TagPreChunk, protocol.TagMapChunk)
	}
	return append(tags, protocol.TagSpawnPosition, protocol.TagPlayerMoveLook)
}

func TestHandshake(t *testing.T) {
	q, reg := newTestSequencer(t)
	sink := &recordingSink{}
	s := connect(t, q, reg, 1, sink)

	assert.Equal(t, session.StateAwaitingCredentials, s.State())
	assert.Equal(t, []byte{protocol.TagHandshake, 0x00, 0x01, '-'}, sink.packet(0))
}

func TestHandshake_WrongState(t *testing.T) {
	q, reg := newTestSequencer(t)
	s := connect(t, q, reg, 1, &recordingSink{})
	assert.ErrorIs(t, q.Handshake(context.Background(), s), session.ErrUnexpectedState)
}

func TestLogin_FullSequence(t *testing.T) {
	q, reg := newTestSequencer(t)
	sink := &recordingSink{}
	s := connect(t, q, reg, 7, sink)

	require.NoError(t, q.Login(context.Background(), s, validCreds()))

	assert.Equal(t, session.StateSpawned, s.State())
	assert.Equal(t, "Notch", s.Name())
	assert.Equal(t, append([]byte{protocol.TagHandshake}, expectedLoginTags()...), sink.tags())
	assert.Equal(t, 0, sink.closes)

	resp := sink.packet(1)
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(resp[1:5]))

	sentinel := sink.packet(2)
	assert.Equal(t, []byte{protocol.TagPreChunk, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}, sentinel)

	// First streamed column is (-4, -4) at world origin (-64, 0, -64).
	pre := sink.packet(3)
	assert.Equal(t, int32(-4), int32(binary.BigEndian.Uint32(pre[1:5])))
	assert.Equal(t, int32(-4), int32(binary.BigEndian.Uint32(pre[5:9])))
	mc := sink.packet(4)
	assert.Equal(t, int32(-64), int32(binary.BigEndian.Uint32(mc[1:5])))
	assert.Equal(t, int16(0), int16(binary.BigEndian.Uint16(mc[5:7])))
	assert.Equal(t, int32(-64), int32(binary.BigEndian.Uint32(mc[7:11])))
	assert.Equal(t, []byte{15, 127, 15}, mc[11:14])

	n := len(sink.tags())
	spawn := sink.packet(n - 2)
	assert.Equal(t, []byte{protocol.TagSpawnPosition, 0, 0, 0, 32, 0, 0, 1, 4, 0, 0, 0, 32}, spawn)

	look := sink.packet(n - 1)
	assert.Equal(t, 0.0, math.Float64frombits(binary.BigEndian.Uint64(look[1:9])))
	assert.Equal(t, 128.2, math.Float64frombits(binary.BigEndian.Uint64(look[9:17])))
	assert.Equal(t, 128.1, math.Float64frombits(binary.BigEndian.Uint64(look[17:25])))
	assert.Equal(t, byte(0), look[len(look)-1])

	_, ok := reg.Get(7)
	assert.True(t, ok)
}

func TestLogin_CustomWorld(t *testing.T) {
	cache, err := chunk.NewCache(chunk.NewProvider(chunk.Placeholder{}), 128)
	require.NoError(t, err)
	reg := session.NewRegistry()
	world := DefaultWorld()
	world.Seed = 42
	world.Dimension = -1
	q := NewSequencer(reg, cache, world, zaptest.NewLogger(t))

	sink := &recordingSink{}
	s := connect(t, q, reg, 1, sink)
	require.NoError(t, q.Login(context.Background(), s, validCreds()))

	resp := sink.packet(1)
	assert.Equal(t, uint64(42), binary.BigEndian.Uint64(resp[9:17]))
	assert.Equal(t, byte(0xFF), resp[17])
}

func TestLogin_VersionMismatch(t *testing.T) {
	q, reg := newTestSequencer(t)
	sink := &recordingSink{}
	s := connect(t, q, reg, 1, sink)

	creds := validCreds()
	creds.ProtocolVersion = 7
	err := q.Login(context.Background(), s, creds)
	assert.ErrorIs(t, err, ErrIncompatibleVersion)

	assert.Equal(t, []byte{protocol.TagHandshake, protocol.TagDisconnect}, sink.tags())
	kick := sink.packet(1)
	assert.Equal(t, ReasonIncompatibleVersion, string(kick[3:]))
	assert.Equal(t, session.StateDisconnected, s.State())
	assert.Equal(t, 1, sink.closes)
	assert.Equal(t, 0, reg.Len())
}

func TestEntityID(t *testing.T) {
	id, ok := EntityID(1)
	assert.True(t, ok)
	assert.Equal(t, int32(1), id)

	id, ok = EntityID(math.MaxInt32)
	assert.True(t, ok)
	assert.Equal(t, int32(math.MaxInt32), id)

	_, ok = EntityID(math.MaxInt32 + 1)
	assert.False(t, ok)
}

func TestLogin_SessionIDOutOfEntityRange(t *testing.T) {
	q, reg := newTestSequencer(t)
	sink := &recordingSink{}
	s := connect(t, q, reg, math.MaxInt32+1, sink)

	err := q.Login(context.Background(), s, validCreds())
	assert.ErrorIs(t, err, ErrEntityIDRange)

	assert.Equal(t, []byte{protocol.TagHandshake, protocol.TagDisconnect}, sink.tags())
	assert.Equal(t, ReasonServerFull, string(sink.packet(1)[3:]))
	assert.Equal(t, session.StateDisconnected, s.State())
	assert.Equal(t, 0, reg.Len())
}

func TestLogin_WrongState(t *testing.T) {
	q, reg := newTestSequencer(t)
	s := session.New(1, &recordingSink{})
	require.NoError(t, reg.Insert(s))
	assert.ErrorIs(t, q.Login(context.Background(), s, validCreds()), session.ErrUnexpectedState)
}

func TestLogin_Password(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	q, reg := newTestSequencer(t, WithPasswordHash(string(hash)))

	good := &recordingSink{}
	s := connect(t, q, reg, 1, good)
	creds := validCreds()
	creds.Password = "hunter2"
	require.NoError(t, q.Login(context.Background(), s, creds))

	bad := &recordingSink{}
	s2 := connect(t, q, reg, 2, bad)
	creds.Password = "wrong"
	assert.ErrorIs(t, q.Login(context.Background(), s2, creds), ErrInvalidPassword)
	assert.Equal(t, []byte{protocol.TagHandshake, protocol.TagDisconnect}, bad.tags())
	assert.Equal(t, ReasonInvalidPassword, string(bad.packet(1)[3:]))
	assert.Equal(t, 1, reg.Len())
}

func TestLogin_Banned(t *testing.T) {
	access := fakeAccessList{banned: map[string]string{"griefer": "Griefing spawn.", "quiet": ""}}
	q, reg := newTestSequencer(t, WithAccessList(access))

	sink := &recordingSink{}
	s := connect(t, q, reg, 1, sink)
	creds := validCreds()
	creds.Username = "griefer"
	assert.ErrorIs(t, q.Login(context.Background(), s, creds), ErrBanned)
	assert.Equal(t, "Griefing spawn.", string(sink.packet(1)[3:]))

	sink2 := &recordingSink{}
	s2 := connect(t, q, reg, 2, sink2)
	creds.Username = "quiet"
	assert.ErrorIs(t, q.Login(context.Background(), s2, creds), ErrBanned)
	assert.Equal(t, ReasonBanned, string(sink2.packet(1)[3:]))

	sink3 := &recordingSink{}
	s3 := connect(t, q, reg, 3, sink3)
	require.NoError(t, q.Login(context.Background(), s3, validCreds()))
	assert.Equal(t, 1, reg.Len())
}

func TestLogin_AccessListError(t *testing.T) {
	q, reg := newTestSequencer(t, WithAccessList(fakeAccessList{err: errors.New("db down")}))
	sink := &recordingSink{}
	s := connect(t, q, reg, 1, sink)

	assert.Error(t, q.Login(context.Background(), s, validCreds()))
	assert.Equal(t, ReasonUnavailable, string(sink.packet(1)[3:]))
	assert.Equal(t, session.StateDisconnected, s.State())
}

func TestLogin_SinkFailureDisconnects(t *testing.T) {
	q, reg := newTestSequencer(t)
	sink := &recordingSink{failAfter: 10}
	s := connect(t, q, reg, 1, sink)

	err := q.Login(context.Background(), s, validCreds())
	assert.ErrorIs(t, err, errSinkBroken)
	assert.Equal(t, session.StateDisconnected, s.State())
	assert.Equal(t, 1, sink.closes)
	assert.Equal(t, 0, reg.Len())
	assert.Len(t, sink.tags(), 10)
}

func TestLogin_ContextCancelled(t *testing.T) {
	cache, err := chunk.NewCache(chunk.NewProvider(chunk.Placeholder{}), 128)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	provider := &cancellingProvider{next: cache, n: 3, cancel: cancel}

	reg := session.NewRegistry()
	q := NewSequencer(reg, provider, DefaultWorld(), zaptest.NewLogger(t))
	sink := &recordingSink{}
	s := connect(t, q, reg, 1, sink)

	err = q.Login(ctx, s, validCreds())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, session.StateDisconnected, s.State())
	assert.Equal(t, 0, reg.Len())
	// handshake, login response, sentinel, then three full columns.
	assert.Len(t, sink.tags(), 3+3*2)
}

func TestDisconnect_Idempotent(t *testing.T) {
	q, reg := newTestSequencer(t)
	sink := &recordingSink{}
	s := connect(t, q, reg, 1, sink)

	q.Disconnect(s)
	q.Disconnect(s)
	assert.Equal(t, 1, sink.closes)
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, session.StateDisconnected, s.State())
}

func TestDisconnect_UnregisteredSession(t *testing.T) {
	q, _ := newTestSequencer(t)
	sink := &recordingSink{}
	s := session.New(9, sink)
	q.Disconnect(s)
	assert.Equal(t, 1, sink.closes)
}

func TestPropertyAnyFailurePointDisconnects(t *testing.T) {
	total := 1 + len(expectedLoginTags())
	rapid.Check(t, func(rt *rapid.T) {
		failAfter := rapid.IntRange(1, total-1).Draw(rt, "failAfter")
		q, reg := newTestSequencer(t)
		sink := &recordingSink{failAfter: failAfter}
		s := session.New(1, sink)
		if err := reg.Insert(s); err != nil {
			rt.Fatalf("insert: %v", err)
		}

		err := q.Handshake(context.Background(), s)
		if err == nil {
			err = q.Login(context.Background(), s, validCreds())
		}
		if !errors.Is(err, errSinkBroken) {
			rt.Fatalf("fail after %d: got %v", failAfter, err)
		}
		if s.State() != session.StateDisconnected || reg.Len() != 0 || sink.closes != 1 {
			rt.Fatalf("fail after %d: state %s, registered %d, closes %d", failAfter, s.State(), reg.Len(), sink.closes)
		}
	})
}

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newTestSession(id uint64) *Session {
	return New(id, NewQueue(4))
}

func snapshot(r *Registry) []uint64 {
	var ids []uint64
	r.ForEach(func(s *Session) {
		ids = append(ids, s.ID())
	})
	return ids
}

func TestQueue_Send(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Send([]byte("hello")))

	data := <-q.Events()
	assert.Equal(t, []byte("hello"), data)
}

func TestQueue_SendClosed(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Close())
	assert.True(t, q.IsClosed())
	assert.ErrorIs(t, q.Send([]byte("fail")), ErrQueueClosed)
}

func TestQueue_SendBlocksUntilClosed(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Send([]byte("first")))

	errCh := make(chan error, 1)
	go func() { errCh <- q.Send([]byte("second")) }()

	select {
	case <-errCh:
		t.Fatal("send on a full queue returned early")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, q.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked send was not released by Close")
	}
}

func TestQueue_TrySendFull(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.TrySend([]byte{1}))
	assert.ErrorIs(t, q.TrySend([]byte{2}), ErrQueueFull)

	assert.Equal(t, []byte{1}, <-q.Events())
	require.NoError(t, q.TrySend([]byte{3}))

	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.TrySend([]byte{4}), ErrQueueClosed)
}

// plainSink has no TrySend.
type plainSink struct{ got [][]byte }

func (p *plainSink) Send(data []byte) error {
	p.got = append(p.got, data)
	return nil
}

func TestSession_TrySend(t *testing.T) {
	s := New(1, NewQueue(1))
	require.NoError(t, s.TrySend([]byte{1}))
	assert.ErrorIs(t, s.TrySend([]byte{2}), ErrQueueFull)

	sink := &plainSink{}
	p := New(2, sink)
	require.NoError(t, p.TrySend([]byte{9}))
	assert.Equal(t, [][]byte{{9}}, sink.got)
}

func TestQueue_CloseIdempotent(t *testing.T) {
	q := NewQueue(4)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.True(t, q.IsClosed())
}

func TestSession_NameAndState(t *testing.T) {
	s := newTestSession(1)
	assert.Equal(t, uint64(1), s.ID())
	assert.Empty(t, s.Name())
	assert.Equal(t, StateConnected, s.State())

	s.SetName("Notch")
	assert.Equal(t, "Notch", s.Name())

	require.NoError(t, s.Advance(StateConnected, StateHandshakeSent))
	err := s.Advance(StateConnected, StateHandshakeSent)
	assert.ErrorIs(t, err, ErrUnexpectedState)
	assert.Equal(t, StateHandshakeSent, s.State())
}

func TestSession_MarkDisconnectedOnce(t *testing.T) {
	s := newTestSession(1)
	assert.True(t, s.MarkDisconnected())
	assert.False(t, s.MarkDisconnected())
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, "disconnected", s.State().String())
}

func TestSession_CloseClosesSink(t *testing.T) {
	q := NewQueue(1)
	s := New(1, q)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, q.IsClosed())
	assert.ErrorIs(t, s.Send([]byte("x")), ErrQueueClosed)
}

func TestRegistry_Insert(t *testing.T) {
	r := NewRegistry()
	s := newTestSession(1)
	require.NoError(t, r.Insert(s))
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get(1)
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestRegistry_InsertDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Insert(newTestSession(1)))
	err := r.Insert(newTestSession(1))
	assert.ErrorIs(t, err, ErrDuplicateSession)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	s := newTestSession(1)
	require.NoError(t, r.Insert(s))
	require.NoError(t, r.Remove(s))
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, snapshot(r))
}

func TestRegistry_RemoveNotFound(t *testing.T) {
	r := NewRegistry()
	s := newTestSession(1)
	assert.ErrorIs(t, r.Remove(s), ErrSessionNotFound)

	require.NoError(t, r.Insert(s))
	require.NoError(t, r.Remove(s))
	assert.ErrorIs(t, r.Remove(s), ErrSessionNotFound)
}

func TestRegistry_RemoveStaleSessionKeepsCurrent(t *testing.T) {
	r := NewRegistry()
	current := newTestSession(1)
	require.NoError(t, r.Insert(current))

	assert.ErrorIs(t, r.Remove(newTestSession(1)), ErrSessionNotFound)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ForEachVisitsEachOnce(t *testing.T) {
	r := NewRegistry()
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, r.Insert(newTestSession(i)))
	}
	assert.ElementsMatch(t, []uint64{1, 2, 3}, snapshot(r))
}

func TestRegistry_ForEachMayMutateVisitedSession(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Insert(newTestSession(1)))

	r.ForEach(func(s *Session) {
		s.SetName("renamed")
	})

	s, _ := r.Get(1)
	assert.Equal(t, "renamed", s.Name())
}

func TestRegistry_SnapshotsRunConcurrently(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Insert(newTestSession(1)))

	secondVisiting := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ForEach(func(*Session) {
			<-secondVisiting
		})
	}()

	finished := make(chan struct{})
	go func() {
		r.ForEach(func(*Session) {
			close(secondVisiting)
		})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("second snapshot blocked behind the first")
	}
	<-done
}

func TestRegistry_InsertWaitsForSnapshot(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Insert(newTestSession(1)))

	visiting := make(chan struct{})
	release := make(chan struct{})
	go r.ForEach(func(*Session) {
		close(visiting)
		<-release
	})
	<-visiting

	inserted := make(chan error, 1)
	go func() { inserted <- r.Insert(newTestSession(2)) }()

	select {
	case <-inserted:
		t.Fatal("insert ran during a snapshot")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-inserted:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("insert never completed")
	}
}

func TestRegistry_Close(t *testing.T) {
	r := NewRegistry()
	q := NewQueue(1)
	s := New(1, q)
	require.NoError(t, r.Insert(s))

	assert.Equal(t, 1, r.Close())
	assert.Equal(t, 0, r.Len())
	assert.True(t, q.IsClosed())
	assert.Equal(t, StateDisconnected, s.State())
	assert.ErrorIs(t, r.Insert(newTestSession(2)), ErrRegistryClosed)
}

func TestRegistry_ConcurrentInsertRemove(t *testing.T) {
	r := NewRegistry()
	const n = 100
	sessions := make([]*Session, n)
	for i := range sessions {
		sessions[i] = newTestSession(uint64(i + 1))
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_ = r.Insert(sessions[i])
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, r.Len())

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_ = r.Remove(sessions[i])
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_SnapshotsConsistentUnderChurn(t *testing.T) {
	r := NewRegistry()
	const stable, removed, churn = 20, 20, 50

	for i := uint64(1); i <= stable+removed; i++ {
		require.NoError(t, r.Insert(newTestSession(i)))
	}
	for i := uint64(stable + 1); i <= stable+removed; i++ {
		s, _ := r.Get(i)
		require.NoError(t, r.Remove(s))
	}

	var wg sync.WaitGroup
	wg.Add(churn)
	for i := 0; i < churn; i++ {
		go func(id uint64) {
			defer wg.Done()
			s := newTestSession(id)
			_ = r.Insert(s)
			_ = r.Remove(s)
		}(uint64(1000 + i))
	}

	errs := make(chan string, 100)
	var readers sync.WaitGroup
	readers.Add(10)
	for i := 0; i < 10; i++ {
		go func() {
			defer readers.Done()
			for j := 0; j < 20; j++ {
				seen := map[uint64]int{}
				r.ForEach(func(s *Session) { seen[s.ID()]++ })
				for id, count := range seen {
					if count != 1 {
						errs <- "session visited more than once"
					}
					if id > stable && id <= stable+removed {
						errs <- "removed session visited"
					}
				}
				for id := uint64(1); id <= stable; id++ {
					if seen[id] != 1 {
						errs <- "stable session missing"
					}
				}
			}
		}()
	}
	wg.Wait()
	readers.Wait()
	close(errs)

	for msg := range errs {
		t.Error(msg)
	}
	assert.Equal(t, stable, r.Len())
}

// Property: after any sequence of inserts and removes, a snapshot equals the
// set predicted by applying the same operations to a plain map.
func TestPropertyRegistryMatchesModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRegistry()
		pool := make([]*Session, 8)
		for i := range pool {
			pool[i] = newTestSession(uint64(i + 1))
		}
		model := map[uint64]bool{}

		ops := rapid.IntRange(1, 60).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			s := pool[rapid.IntRange(0, len(pool)-1).Draw(t, "session")]
			if rapid.Bool().Draw(t, "insert") {
				err := r.Insert(s)
				if model[s.ID()] != (err != nil) {
					t.Fatalf("insert %d: err=%v, registered=%v", s.ID(), err, model[s.ID()])
				}
				model[s.ID()] = true
			} else {
				err := r.Remove(s)
				if model[s.ID()] != (err == nil) {
					t.Fatalf("remove %d: err=%v, registered=%v", s.ID(), err, model[s.ID()])
				}
				delete(model, s.ID())
			}

			seen := map[uint64]bool{}
			r.ForEach(func(s *Session) {
				if seen[s.ID()] {
					t.Fatalf("session %d visited twice", s.ID())
				}
				seen[s.ID()] = true
			})
			if len(seen) != len(model) {
				t.Fatalf("snapshot has %d sessions, model has %d", len(seen), len(model))
			}
			for id := range model {
				if !seen[id] {
					t.Fatalf("session %d missing from snapshot", id)
				}
			}
		}
	})
}

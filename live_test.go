package curvecare

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records subscribe/cancel calls and lets tests push batches.
type fakeTransport struct {
	mu         sync.Mutex
	subscribes int
	cancels    int
	afters     []time.Time
	onBatch    func([]Message)
	failNext   bool
}

func (f *fakeTransport) subscribe(groupID string, after time.Time, onBatch func([]Message)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	f.afters = append(f.afters, after)
	if f.failNext {
		f.failNext = false
		return nil, context.DeadlineExceeded
	}
	f.onBatch = onBatch
	return func() {
		f.mu.Lock()
		f.cancels++
		f.mu.Unlock()
	}, nil
}

func (f *fakeTransport) push(batch []Message) {
	f.mu.Lock()
	onBatch := f.onBatch
	f.mu.Unlock()
	if onBatch != nil {
		onBatch(batch)
	}
}

func (f *fakeTransport) counts() (subscribes, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.cancels
}

func newLiveTestMessenger(t *testing.T, tr *fakeTransport) *Messenger {
	t.Helper()
	client := NewClient("test-token")
	m := NewMessenger(client, NewMemoryStorage(),
		WithSubscribe(tr.subscribe),
		WithAuthenticate(func(ctx context.Context) error { return nil }),
	)
	t.Cleanup(m.Close)
	return m
}

func TestAttach(t *testing.T) {
	t.Run("attaches share one subscription", func(t *testing.T) {
		tr := &fakeTransport{}
		m := newLiveTestMessenger(t, tr)

		d1 := m.Attach("g1")
		d2 := m.Attach("g1")

		subs, _ := tr.counts()
		assert.Equal(t, 1, subs)

		d1()
		_, cancels := tr.counts()
		assert.Equal(t, 0, cancels, "still one consumer attached")

		d2()
		_, cancels = tr.counts()
		assert.Equal(t, 1, cancels)
	})

	t.Run("double detach is a no-op", func(t *testing.T) {
		tr := &fakeTransport{}
		m := newLiveTestMessenger(t, tr)

		d1 := m.Attach("g1")
		d2 := m.Attach("g1")

		d1()
		d1() // repeated call from the same consumer must not steal d2's ref

		_, cancels := tr.counts()
		assert.Equal(t, 0, cancels)

		d2()
		_, cancels = tr.counts()
		assert.Equal(t, 1, cancels)
	})

	t.Run("reattach after teardown resubscribes", func(t *testing.T) {
		tr := &fakeTransport{}
		m := newLiveTestMessenger(t, tr)

		d := m.Attach("g1")
		d()
		m.Attach("g1")

		subs, _ := tr.counts()
		assert.Equal(t, 2, subs)
	})

	t.Run("groups subscribe independently", func(t *testing.T) {
		tr := &fakeTransport{}
		m := newLiveTestMessenger(t, tr)

		m.Attach("g1")
		m.Attach("g2")

		subs, _ := tr.counts()
		assert.Equal(t, 2, subs)
	})

	t.Run("default lookback window without history", func(t *testing.T) {
		tr := &fakeTransport{}
		m := newLiveTestMessenger(t, tr)

		before := time.Now().Add(-defaultSeenWindow)
		m.Attach("g1")
		after := time.Now().Add(-defaultSeenWindow)

		tr.mu.Lock()
		got := tr.afters[0]
		tr.mu.Unlock()
		assert.False(t, got.Before(before))
		assert.False(t, got.After(after))
	})

	t.Run("resumes from last seen message", func(t *testing.T) {
		tr := &fakeTransport{}
		m := newLiveTestMessenger(t, tr)

		seen := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
		m.seen.advance("g1", seen)

		m.Attach("g1")

		tr.mu.Lock()
		got := tr.afters[0]
		tr.mu.Unlock()
		assert.Equal(t, seen, got)
	})

	t.Run("slow subscribe does not block other groups", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		subscribe := func(groupID string, after time.Time, onBatch func([]Message)) (func(), error) {
			if groupID == "g1" {
				close(started)
				<-release
			}
			return func() {}, nil
		}

		client := NewClient("test-token")
		m := NewMessenger(client, NewMemoryStorage(),
			WithSubscribe(subscribe),
			WithAuthenticate(func(ctx context.Context) error { return nil }),
		)
		t.Cleanup(func() {
			close(release)
			m.Close()
		})

		go m.Attach("g1")
		<-started

		done := make(chan struct{})
		go func() {
			m.Attach("g2")
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("attach stuck behind another group's transport call")
		}
	})

	t.Run("subscribe failure still returns a working detach", func(t *testing.T) {
		tr := &fakeTransport{failNext: true}
		m := newLiveTestMessenger(t, tr)

		d := m.Attach("g1")
		require.NotNil(t, d)
		d() // must not panic even though there is no transport cancel

		// The group is released, so a new attach tries the transport again.
		m.Attach("g1")
		subs, _ := tr.counts()
		assert.Equal(t, 2, subs)
	})
}

func TestLiveBatches(t *testing.T) {
	t.Run("batch merges into cache and emits", func(t *testing.T) {
		tr := &fakeTransport{}
		m := newLiveTestMessenger(t, tr)

		var got []Message
		m.On(EventMessageNew, func(event string, payload any) {
			got = payload.([]Message)
		})

		m.cache.Write("g1", []Message{msg("m1", "2026-01-01T10:00:00Z")})
		m.Attach("g1")

		tr.push([]Message{msg("m2", "2026-01-01T11:00:00Z")})

		require.Len(t, got, 1)
		assert.Equal(t, "m2", got[0].ID)

		entry, ok := m.cache.Read("g1")
		require.True(t, ok)
		require.Len(t, entry.Messages, 2)
		assert.Equal(t, "m2", entry.Messages[1].ID)
		assert.Equal(t, StatusConfirmed, entry.Messages[1].Status)
	})

	t.Run("batch advances last seen", func(t *testing.T) {
		tr := &fakeTransport{}
		m := newLiveTestMessenger(t, tr)

		m.Attach("g1")
		tr.push([]Message{msg("m1", "2026-03-01T08:00:00Z")})

		seen, ok := m.seen.get("g1")
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), seen)
	})

	t.Run("empty batch is ignored", func(t *testing.T) {
		tr := &fakeTransport{}
		m := newLiveTestMessenger(t, tr)

		m.Attach("g1")
		tr.push(nil)

		_, ok := m.cache.Read("g1")
		assert.False(t, ok)
	})

	t.Run("deleted records are dropped from the stream", func(t *testing.T) {
		tr := &fakeTransport{}
		m := newLiveTestMessenger(t, tr)

		deleted := msg("m1", "2026-01-01T10:00:00Z")
		deleted.Deleted = true

		m.Attach("g1")
		tr.push([]Message{deleted})

		// A replayed created-then-deleted record never reaches the cache.
		_, ok := m.cache.Read("g1")
		assert.False(t, ok)
	})

	t.Run("mixed batch keeps only live records", func(t *testing.T) {
		tr := &fakeTransport{}
		m := newLiveTestMessenger(t, tr)

		deleted := msg("m1", "2026-01-01T10:00:00Z")
		deleted.Deleted = true

		var got []Message
		m.On(EventMessageNew, func(event string, payload any) {
			got = payload.([]Message)
		})

		m.Attach("g1")
		tr.push([]Message{deleted, msg("m2", "2026-01-01T11:00:00Z")})

		require.Len(t, got, 1)
		assert.Equal(t, "m2", got[0].ID)

		entry, ok := m.cache.Read("g1")
		require.True(t, ok)
		require.Len(t, entry.Messages, 1)
		assert.Equal(t, "m2", entry.Messages[0].ID)
	})

	t.Run("handler panic does not kill the subscription", func(t *testing.T) {
		tr := &fakeTransport{}
		m := newLiveTestMessenger(t, tr)

		m.On(EventMessageNew, func(event string, payload any) {
			panic("listener bug")
		})

		m.Attach("g1")
		assert.NotPanics(t, func() {
			tr.push([]Message{msg("m1", "2026-01-01T10:00:00Z")})
		})

		// The merge still happened before the listener blew up.
		entry, ok := m.cache.Read("g1")
		require.True(t, ok)
		assert.Len(t, entry.Messages, 1)
	})
}

func TestLiveClose(t *testing.T) {
	tr := &fakeTransport{}
	m := newLiveTestMessenger(t, tr)

	m.Attach("g1")
	m.Attach("g2")
	m.Close()

	_, cancels := tr.counts()
	assert.Equal(t, 2, cancels)
}

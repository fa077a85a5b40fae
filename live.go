package curvecare

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// liveBatchLimit caps subscription pages; the live stream only needs to
	// catch incremental additions, never full history.
	liveBatchLimit = 10
	// defaultSeenWindow is how far back the first subscription for a group
	// looks when no message has been observed yet.
	defaultSeenWindow = 5 * time.Minute

	authHandshakeTimeout = 10 * time.Second
)

// SubscribeFunc establishes a realtime subscription for one group, delivering
// batches of newly created messages with createdAt after the given time,
// oldest first. The returned function cancels the subscription.
type SubscribeFunc func(groupID string, after time.Time, onBatch func([]Message)) (func(), error)

// DetachFunc releases one live-view attachment. Safe to call more than once;
// only the first call decrements.
type DetachFunc func()

type liveSub struct {
	refs   int
	cancel func()
}

// LiveManager keeps at most one realtime subscription per group, ref-counted
// across concurrent UI consumers. It is owned by a Messenger and shares its
// cache and last-seen state.
type LiveManager struct {
	messenger    *Messenger
	subscribe    SubscribeFunc
	authenticate func(context.Context) error
	log          zerolog.Logger

	authOnce sync.Once

	mu   sync.Mutex
	subs map[string]*liveSub
	rt   *RealtimeClient
}

func newLiveManager(m *Messenger) *LiveManager {
	return &LiveManager{
		messenger: m,
		log:       zerolog.Nop(),
		subs:      make(map[string]*liveSub),
	}
}

// ensureTransport lazily builds the default websocket transport, unless a
// custom SubscribeFunc was injected.
func (l *LiveManager) ensureTransport() {
	if l.subscribe != nil {
		return
	}
	rt := NewRealtimeClient(l.messenger.client.BaseURL(), &RealtimeConfig{
		Token:         l.messenger.client.Token(),
		AutoReconnect: true,
	})
	rt.log = l.log
	l.rt = rt
	l.subscribe = rt.Subscribe
	if l.authenticate == nil {
		l.authenticate = rt.Connect
	}
}

// Attach registers a live consumer for a group. The first attach creates the
// subscription; later attaches share it. A transport failure is logged and
// the attach still succeeds — the consumer just sees no live updates.
func (l *LiveManager) Attach(groupID string) DetachFunc {
	l.mu.Lock()
	l.ensureTransport()
	authenticate := l.authenticate
	l.mu.Unlock()

	// One-time handshake per session. A failure does not block the attach;
	// the subscription may then fail at the transport layer, which is caught
	// below.
	l.authOnce.Do(func() {
		if authenticate == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), authHandshakeTimeout)
		defer cancel()
		if err := authenticate(ctx); err != nil {
			l.log.Warn().Err(err).Msg("live auth handshake failed, attaching optimistically")
		}
	})

	l.mu.Lock()
	if s, ok := l.subs[groupID]; ok {
		s.refs++
		l.mu.Unlock()
		return l.detachFunc(groupID)
	}

	after, ok := l.messenger.seen.get(groupID)
	if !ok {
		after = time.Now().Add(-defaultSeenWindow)
	}
	s := &liveSub{refs: 1}
	l.subs[groupID] = s
	subscribe := l.subscribe
	l.mu.Unlock()

	// The transport call is network I/O; holding the lock here would
	// serialize attaches across unrelated groups.
	cancel, err := subscribe(groupID, after, func(batch []Message) {
		l.handleBatch(groupID, batch)
	})

	l.mu.Lock()
	if cur, active := l.subs[groupID]; active && cur == s {
		if err != nil {
			l.log.Warn().Err(err).Str("group", groupID).Msg("live subscription failed; no live updates")
		} else {
			s.cancel = cancel
		}
		l.mu.Unlock()
		return l.detachFunc(groupID)
	}
	l.mu.Unlock()

	// Released (or replaced) while the subscribe was in flight; undo the
	// transport subscription we just created.
	if cancel != nil {
		cancel()
	}
	return l.detachFunc(groupID)
}

// detachFunc binds a release to one attach call. The once guard makes
// double-detach from the same consumer a no-op.
func (l *LiveManager) detachFunc(groupID string) DetachFunc {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(groupID) })
	}
}

func (l *LiveManager) release(groupID string) {
	l.mu.Lock()
	s, ok := l.subs[groupID]
	if !ok {
		l.mu.Unlock()
		return
	}
	s.refs--
	if s.refs > 0 {
		l.mu.Unlock()
		return
	}
	delete(l.subs, groupID)
	cancel := s.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// handleBatch merges one batch of live messages. Any failure here is
// contained: a bad batch never tears down the subscription. Deleted records
// are dropped even if the server replays them after a reconnect; the stream
// carries additions only.
func (l *LiveManager) handleBatch(groupID string, batch []Message) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Str("group", groupID).Msg("live batch handler panicked")
		}
	}()
	kept := batch[:0:0]
	for _, m := range batch {
		if !m.Deleted {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return
	}
	l.messenger.handleLiveBatch(groupID, kept)
	l.log.Debug().Str("group", groupID).Int("count", len(kept)).Msg("live batch merged")
}

// Close tears down every subscription and the default transport.
func (l *LiveManager) Close() {
	l.mu.Lock()
	subs := l.subs
	l.subs = make(map[string]*liveSub)
	rt := l.rt
	l.mu.Unlock()

	for _, s := range subs {
		if s.cancel != nil {
			s.cancel()
		}
	}
	if rt != nil {
		_ = rt.Disconnect()
	}
}

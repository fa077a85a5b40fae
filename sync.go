package curvecare

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultCacheTTL is the age beyond which a cache entry is unusable and
	// a synchronous refetch is required.
	DefaultCacheTTL = 24 * time.Hour
	// DefaultFreshFor is the age below which a cache entry is served without
	// any revalidation.
	DefaultFreshFor = 5 * time.Minute
	// DefaultPageSize is the message page size when the caller does not set one.
	DefaultPageSize = 20

	backgroundFetchTimeout = 30 * time.Second
)

// ErrEmptyMessage is returned by SendMessage when the text is blank.
var ErrEmptyMessage = errors.New("message text is empty")

// ============================================================================
// Events
// ============================================================================

const (
	// EventMessageLocal fires when an optimistic record is appended locally.
	EventMessageLocal = "message.local"
	// EventMessageConfirmed fires when the server confirms a sent message.
	EventMessageConfirmed = "message.confirmed"
	// EventMessageFailed fires when a send fails.
	EventMessageFailed = "message.failed"
	// EventMessageNew fires when live messages are merged into a group.
	EventMessageNew = "message.new"
	// EventMessagesRefreshed fires after a background revalidation rewrites
	// the cache.
	EventMessagesRefreshed = "messages.refreshed"
)

// EventHandler handles messenger events. The payload is a Message for the
// per-message events and a []Message for batch events.
type EventHandler func(event string, payload any)

type eventEmitter struct {
	mu        sync.RWMutex
	listeners map[string][]EventHandler
}

func (e *eventEmitter) On(event string, handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], handler)
}

func (e *eventEmitter) emit(event string, payload any) {
	e.mu.RLock()
	handlers := e.listeners[event]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }() // swallow panics in user callbacks
			h(event, payload)
		}()
	}
}

// ============================================================================
// Last-seen tracking
// ============================================================================

// seenTracker records, per group, the newest message timestamp observed from
// either a fetch or a live batch. Advances are monotonic.
type seenTracker struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newSeenTracker() *seenTracker {
	return &seenTracker{last: make(map[string]time.Time)}
}

func (t *seenTracker) get(groupID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.last[groupID]
	return ts, ok
}

func (t *seenTracker) advance(groupID string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts.After(t.last[groupID]) {
		t.last[groupID] = ts
	}
}

// advanceFrom advances the group's last-seen timestamp to the newest
// parseable creation time in msgs.
func (t *seenTracker) advanceFrom(groupID string, msgs []Message) {
	var max time.Time
	for _, m := range msgs {
		if ts, ok := m.CreatedTime(); ok && ts.After(max) {
			max = ts
		}
	}
	t.advance(groupID, max)
}

// ============================================================================
// Messenger
// ============================================================================

// Messenger is the session-scoped messaging facade: cached reads with
// stale-while-revalidate, optimistic sends, and ref-counted live
// subscriptions. Create one per signed-in session and drop it on logout.
type Messenger struct {
	eventEmitter

	client *Client
	cache  *MessageCache
	seen   *seenTracker
	live   *LiveManager
	log    zerolog.Logger

	ttl      time.Duration
	freshFor time.Duration
	now      func() time.Time

	mu           sync.Mutex
	revalidating map[string]struct{}
}

// MessengerOption configures a Messenger.
type MessengerOption func(*Messenger)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) MessengerOption {
	return func(m *Messenger) { m.log = log }
}

// WithCacheTTL overrides the cache time-to-live.
func WithCacheTTL(ttl time.Duration) MessengerOption {
	return func(m *Messenger) { m.ttl = ttl }
}

// WithFreshFor overrides the freshness threshold below which cached reads
// skip revalidation.
func WithFreshFor(d time.Duration) MessengerOption {
	return func(m *Messenger) { m.freshFor = d }
}

// WithSubscribe overrides the realtime subscription transport. The default
// connects a RealtimeClient against the API's websocket endpoint.
func WithSubscribe(fn SubscribeFunc) MessengerOption {
	return func(m *Messenger) { m.live.subscribe = fn }
}

// WithAuthenticate overrides the one-time handshake performed before the
// first live subscription.
func WithAuthenticate(fn func(context.Context) error) MessengerOption {
	return func(m *Messenger) { m.live.authenticate = fn }
}

// NewMessenger creates a messenger over the given API client and storage
// substrate.
func NewMessenger(client *Client, storage Storage, opts ...MessengerOption) *Messenger {
	m := &Messenger{
		eventEmitter: eventEmitter{listeners: make(map[string][]EventHandler)},
		client:       client,
		seen:         newSeenTracker(),
		log:          zerolog.Nop(),
		ttl:          DefaultCacheTTL,
		freshFor:     DefaultFreshFor,
		now:          time.Now,
		revalidating: make(map[string]struct{}),
	}
	m.live = newLiveManager(m)

	for _, opt := range opts {
		opt(m)
	}

	m.cache = NewMessageCache(storage, m.log)
	m.live.log = m.log
	return m
}

// GetMessagesOptions configures a GetMessages call.
type GetMessagesOptions struct {
	// Force skips the cache entirely and always fetches from the network.
	Force bool
	// Limit caps the page size; defaults to DefaultPageSize.
	Limit int
	// Before restricts the fetch to messages created before this RFC3339
	// timestamp. Requests with Before set bypass the cache, which only
	// holds the latest page.
	Before string
}

// GetMessages returns the messages for a group.
//
// A fresh cache entry is returned without touching the network. A stale
// entry within the TTL is returned immediately while a single background
// revalidation merges newer messages into the cache. An expired or missing
// entry forces a synchronous fetch, whose failure is returned to the caller.
func (m *Messenger) GetMessages(ctx context.Context, groupID string, opts GetMessagesOptions) ([]Message, error) {
	if opts.Limit <= 0 {
		opts.Limit = DefaultPageSize
	}

	useCache := !opts.Force && opts.Before == ""
	if useCache {
		if entry, ok := m.cache.Read(groupID); ok {
			age := entry.Age(m.now())
			if age < m.ttl {
				if age >= m.freshFor {
					m.revalidate(groupID, opts.Limit)
				}
				return entry.Messages, nil
			}
		}
	}

	msgs, err := m.fetch(ctx, groupID, opts.Limit, opts.Before)
	if err != nil {
		return nil, err
	}
	if opts.Before == "" {
		m.cache.Write(groupID, msgs)
		m.seen.advanceFrom(groupID, msgs)
	}
	return msgs, nil
}

// fetch pulls a page from the network and normalizes it.
func (m *Messenger) fetch(ctx context.Context, groupID string, limit int, before string) ([]Message, error) {
	msgs, err := m.client.Groups.Messages(ctx, groupID, &PageOptions{Limit: limit, Before: before})
	if err != nil {
		return nil, fmt.Errorf("fetch messages for group %s: %w", groupID, err)
	}
	for i := range msgs {
		if msgs[i].Status == "" {
			msgs[i].Status = StatusConfirmed
		}
		if msgs[i].GroupID == "" {
			msgs[i].GroupID = groupID
		}
	}
	// Normalize ordering; the merge against an empty base is just a
	// stable sort by creation time.
	return MergeMessages(nil, msgs), nil
}

// revalidate kicks off at most one background refresh per group. Failures
// are logged and swallowed; the cached data stays the last known-good state.
func (m *Messenger) revalidate(groupID string, limit int) {
	m.mu.Lock()
	if _, busy := m.revalidating[groupID]; busy {
		m.mu.Unlock()
		return
	}
	m.revalidating[groupID] = struct{}{}
	m.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.log.Error().Interface("panic", r).Str("group", groupID).Msg("revalidation panicked")
			}
			m.mu.Lock()
			delete(m.revalidating, groupID)
			m.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), backgroundFetchTimeout)
		defer cancel()

		msgs, err := m.fetch(ctx, groupID, limit, "")
		if err != nil {
			m.log.Debug().Err(err).Str("group", groupID).Msg("background revalidation failed")
			return
		}
		merged := m.mergeIntoCache(groupID, msgs)
		m.emit(EventMessagesRefreshed, merged)
	}()
}

// SendMessage validates, appends an optimistic local record, posts to the
// network, and reconciles the confirmed record into the cache by ID.
func (m *Messenger) SendMessage(ctx context.Context, groupID, text string, opts *SendMessageOptions) (*Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	clientID := newClientID()
	local := Message{
		ID:        "local-" + clientID,
		ClientID:  clientID,
		GroupID:   groupID,
		SenderID:  "__self__",
		Text:      text,
		Kind:      KindText,
		Status:    StatusPending,
		CreatedAt: m.now().UTC().Format(time.RFC3339Nano),
	}
	if opts != nil {
		if opts.Kind != "" {
			local.Kind = opts.Kind
		}
		local.MediaURL = opts.MediaURL
	}

	m.mergeIntoCache(groupID, []Message{local})
	m.emit(EventMessageLocal, local)

	sent, err := m.client.Groups.Send(ctx, groupID, clientID, text, opts)
	if err != nil {
		local.Status = StatusFailed
		m.mergeIntoCache(groupID, []Message{local})
		m.emit(EventMessageFailed, local)
		return nil, fmt.Errorf("send message to group %s: %w", groupID, err)
	}

	confirmed := *sent
	confirmed.ClientID = clientID
	confirmed.Status = StatusConfirmed
	if confirmed.GroupID == "" {
		confirmed.GroupID = groupID
	}
	if confirmed.ID != local.ID {
		// Server assigned its own ID; drop the placeholder so the merge
		// does not leave both records behind.
		m.removeFromCache(groupID, local.ID)
	}
	m.mergeIntoCache(groupID, []Message{confirmed})
	m.emit(EventMessageConfirmed, confirmed)
	return &confirmed, nil
}

// Attach subscribes the session to live updates for a group. Multiple
// concurrent attaches share one subscription; each returned DetachFunc must
// be called once when its consumer goes away.
func (m *Messenger) Attach(groupID string) DetachFunc {
	return m.live.Attach(groupID)
}

// ClearCache drops all cached message lists, e.g. on logout.
func (m *Messenger) ClearCache() {
	m.cache.ClearAll()
}

// Close tears down all live subscriptions and the realtime transport. The
// cache is left intact for the next session.
func (m *Messenger) Close() {
	m.live.Close()
}

// mergeIntoCache merges incoming into the group's cache entry, always
// against a freshly-read base so interleaved writers never drop each
// other's messages. Returns the merged list.
func (m *Messenger) mergeIntoCache(groupID string, incoming []Message) []Message {
	base, _ := m.cache.Read(groupID)
	merged := MergeMessages(base.Messages, incoming)
	m.cache.Write(groupID, merged)
	m.seen.advanceFrom(groupID, incoming)
	return merged
}

// removeFromCache drops one message by ID from the group's cache entry.
func (m *Messenger) removeFromCache(groupID, messageID string) {
	base, ok := m.cache.Read(groupID)
	if !ok {
		return
	}
	kept := base.Messages[:0:0]
	for _, msg := range base.Messages {
		if msg.ID != messageID {
			kept = append(kept, msg)
		}
	}
	m.cache.Write(groupID, kept)
}

// handleLiveBatch merges a batch of live messages into the cache; called by
// the live manager.
func (m *Messenger) handleLiveBatch(groupID string, batch []Message) {
	for i := range batch {
		if batch[i].Status == "" {
			batch[i].Status = StatusConfirmed
		}
		if batch[i].GroupID == "" {
			batch[i].GroupID = groupID
		}
	}
	m.mergeIntoCache(groupID, batch)
	m.emit(EventMessageNew, batch)
}

// ============================================================================
// Helpers
// ============================================================================

func newClientID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().UnixMilli())
	}
	b[6] = (b[6] & 0x0f) | 0x40 // Version 4
	b[8] = (b[8] & 0x3f) | 0x80 // Variant 10
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

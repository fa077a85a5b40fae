// Package curvecare provides the Go SDK for the CurveCare platform.
//
// Covers the REST API (groups, pain logs, brace wear sessions, calendar) and
// the cached, realtime-aware group messaging layer.
//
// Example:
//
//	client := curvecare.NewClient("cc-token-...")
//
//	// Thin REST access
//	groups, _ := client.Groups.List(ctx)
//	client.Pain.Log(ctx, &curvecare.PainLog{Level: 4, Location: "lumbar"})
//
//	// Cached messaging (see Messenger)
//	m := curvecare.NewMessenger(client, curvecare.NewMemoryStorage())
//	msgs, _ := m.GetMessages(ctx, "group-123", curvecare.GetMessagesOptions{Limit: 20})
package curvecare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseURL = "https://api.curvecare.app"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the CurveCare API client. Sub-clients group related endpoints.
type Client struct {
	mu         sync.RWMutex
	token      string
	baseURL    string
	userAgent  string
	httpClient *http.Client

	Account  *AccountClient
	Groups   *GroupsClient
	Pain     *PainClient
	Wear     *WearClient
	Calendar *CalendarClient
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithUserAgent(agent string) ClientOption {
	return func(c *Client) { c.userAgent = agent }
}

// NewClient creates a new CurveCare client.
// token is optional — pass "" and call SetToken after Account.Login.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Account = &AccountClient{client: c}
	c.Groups = &GroupsClient{client: c}
	c.Pain = &PainClient{client: c}
	c.Wear = &WearClient{client: c}
	c.Calendar = &CalendarClient{client: c}
	return c
}

// SetToken sets or updates the bearer token, e.g. after login or refresh.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Result](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// resultErr converts a non-OK envelope into an error.
func resultErr(r *Result, action string) error {
	if r.Error != nil {
		return fmt.Errorf("%s: %w", action, r.Error)
	}
	return fmt.Errorf("%s failed", action)
}

func pageQuery(opts *PageOptions) map[string]string {
	if opts == nil {
		return nil
	}
	q := map[string]string{}
	if opts.Limit > 0 {
		q["limit"] = fmt.Sprintf("%d", opts.Limit)
	}
	if opts.Before != "" {
		q["before"] = opts.Before
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

func rangeQuery(opts *RangeOptions) map[string]string {
	if opts == nil {
		return nil
	}
	q := map[string]string{}
	if opts.From != "" {
		q["from"] = opts.From
	}
	if opts.To != "" {
		q["to"] = opts.To
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// ============================================================================
// Account
// ============================================================================

// AccountClient handles authentication and identity.
type AccountClient struct{ client *Client }

// Login exchanges credentials for a bearer token and stores it on the client.
func (a *AccountClient) Login(ctx context.Context, email, password string) (*TokenData, error) {
	res, err := a.client.do(ctx, "POST", "/api/v1/auth/login", map[string]string{
		"email": email, "password": password,
	}, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "login")
	}
	var data TokenData
	if err := res.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	a.client.SetToken(data.Token)
	return &data, nil
}

// Refresh exchanges the current token for a fresh one and stores it.
func (a *AccountClient) Refresh(ctx context.Context) (*TokenData, error) {
	res, err := a.client.do(ctx, "POST", "/api/v1/auth/refresh", nil, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "refresh token")
	}
	var data TokenData
	if err := res.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	a.client.SetToken(data.Token)
	return &data, nil
}

// Me returns the signed-in account.
func (a *AccountClient) Me(ctx context.Context) (*User, error) {
	res, err := a.client.do(ctx, "GET", "/api/v1/me", nil, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "fetch account")
	}
	var user User
	if err := res.Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}
	return &user, nil
}

// ============================================================================
// Groups
// ============================================================================

// GroupsClient handles community groups and group messaging.
type GroupsClient struct{ client *Client }

func (g *GroupsClient) List(ctx context.Context) ([]Group, error) {
	res, err := g.client.do(ctx, "GET", "/api/v1/groups", nil, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "list groups")
	}
	var groups []Group
	if err := res.Decode(&groups); err != nil {
		return nil, fmt.Errorf("failed to decode groups: %w", err)
	}
	return groups, nil
}

func (g *GroupsClient) Get(ctx context.Context, groupID string) (*Group, error) {
	res, err := g.client.do(ctx, "GET", "/api/v1/groups/"+groupID, nil, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "fetch group")
	}
	var group Group
	if err := res.Decode(&group); err != nil {
		return nil, fmt.Errorf("failed to decode group: %w", err)
	}
	return &group, nil
}

func (g *GroupsClient) Join(ctx context.Context, groupID string) error {
	res, err := g.client.do(ctx, "POST", "/api/v1/groups/"+groupID+"/join", nil, nil)
	if err != nil {
		return err
	}
	if !res.OK {
		return resultErr(res, "join group")
	}
	return nil
}

func (g *GroupsClient) Leave(ctx context.Context, groupID string) error {
	res, err := g.client.do(ctx, "POST", "/api/v1/groups/"+groupID+"/leave", nil, nil)
	if err != nil {
		return err
	}
	if !res.OK {
		return resultErr(res, "leave group")
	}
	return nil
}

// Messages fetches a page of group messages from the network, oldest first.
// Most callers want Messenger.GetMessages, which layers caching on top.
func (g *GroupsClient) Messages(ctx context.Context, groupID string, opts *PageOptions) ([]Message, error) {
	res, err := g.client.do(ctx, "GET", "/api/v1/groups/"+groupID+"/messages", nil, pageQuery(opts))
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "fetch messages")
	}
	var msgs []Message
	if err := res.Decode(&msgs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return msgs, nil
}

// Send posts a message to a group and returns the server-confirmed record.
// Most callers want Messenger.SendMessage, which adds the optimistic local
// record and cache reconciliation.
func (g *GroupsClient) Send(ctx context.Context, groupID, clientID, text string, opts *SendMessageOptions) (*Message, error) {
	payload := map[string]any{"text": text, "kind": KindText}
	if clientID != "" {
		payload["clientId"] = clientID
	}
	if opts != nil {
		if opts.Kind != "" {
			payload["kind"] = opts.Kind
		}
		if opts.MediaURL != "" {
			payload["mediaUrl"] = opts.MediaURL
		}
	}

	res, err := g.client.do(ctx, "POST", "/api/v1/groups/"+groupID+"/messages", payload, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "send message")
	}
	var msg Message
	if err := res.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}

// ============================================================================
// Pain logging
// ============================================================================

// PainClient handles pain journal entries.
type PainClient struct{ client *Client }

func (p *PainClient) Log(ctx context.Context, entry *PainLog) (*PainLog, error) {
	if entry == nil || entry.Level < 0 || entry.Level > 10 {
		return nil, fmt.Errorf("pain level must be between 0 and 10")
	}
	if entry.LoggedAt == "" {
		entry.LoggedAt = time.Now().UTC().Format(time.RFC3339)
	}
	res, err := p.client.do(ctx, "POST", "/api/v1/pain-logs", entry, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "log pain")
	}
	var created PainLog
	if err := res.Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode pain log: %w", err)
	}
	return &created, nil
}

func (p *PainClient) List(ctx context.Context, opts *RangeOptions) ([]PainLog, error) {
	res, err := p.client.do(ctx, "GET", "/api/v1/pain-logs", nil, rangeQuery(opts))
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "list pain logs")
	}
	var logs []PainLog
	if err := res.Decode(&logs); err != nil {
		return nil, fmt.Errorf("failed to decode pain logs: %w", err)
	}
	return logs, nil
}

// ============================================================================
// Brace wear tracking
// ============================================================================

// WearClient handles brace wear sessions.
type WearClient struct{ client *Client }

// Start begins a wear session. Only one session can run at a time; the
// server rejects a second start.
func (w *WearClient) Start(ctx context.Context) (*WearSession, error) {
	res, err := w.client.do(ctx, "POST", "/api/v1/wear-sessions/start", nil, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "start wear session")
	}
	var session WearSession
	if err := res.Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode wear session: %w", err)
	}
	return &session, nil
}

// Stop ends a running wear session.
func (w *WearClient) Stop(ctx context.Context, sessionID string) (*WearSession, error) {
	res, err := w.client.do(ctx, "POST", "/api/v1/wear-sessions/"+sessionID+"/stop", nil, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "stop wear session")
	}
	var session WearSession
	if err := res.Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to decode wear session: %w", err)
	}
	return &session, nil
}

func (w *WearClient) List(ctx context.Context, opts *RangeOptions) ([]WearSession, error) {
	res, err := w.client.do(ctx, "GET", "/api/v1/wear-sessions", nil, rangeQuery(opts))
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "list wear sessions")
	}
	var sessions []WearSession
	if err := res.Decode(&sessions); err != nil {
		return nil, fmt.Errorf("failed to decode wear sessions: %w", err)
	}
	return sessions, nil
}

// ============================================================================
// Calendar
// ============================================================================

// CalendarClient handles appointments and exercise reminders.
type CalendarClient struct{ client *Client }

func (c *CalendarClient) List(ctx context.Context, opts *RangeOptions) ([]CalendarEvent, error) {
	res, err := c.client.do(ctx, "GET", "/api/v1/calendar/events", nil, rangeQuery(opts))
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "list events")
	}
	var events []CalendarEvent
	if err := res.Decode(&events); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	return events, nil
}

func (c *CalendarClient) Create(ctx context.Context, event *CalendarEvent) (*CalendarEvent, error) {
	if event == nil || event.Title == "" || event.StartsAt == "" {
		return nil, fmt.Errorf("event title and start time are required")
	}
	res, err := c.client.do(ctx, "POST", "/api/v1/calendar/events", event, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "create event")
	}
	var created CalendarEvent
	if err := res.Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return &created, nil
}

func (c *CalendarClient) Delete(ctx context.Context, eventID string) error {
	res, err := c.client.do(ctx, "DELETE", "/api/v1/calendar/events/"+eventID, nil, nil)
	if err != nil {
		return err
	}
	if !res.OK {
		return resultErr(res, "delete event")
	}
	return nil
}

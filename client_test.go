package curvecare

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okEnvelope(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	out, err := json.Marshal(Result{OK: true, Data: data})
	require.NoError(t, err)
	return out
}

func TestClientAuth(t *testing.T) {
	t.Run("login stores the token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/v1/auth/login", r.URL.Path)
			require.Equal(t, http.MethodPost, r.Method)

			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "mia@example.com", body["email"])

			w.Write(okEnvelope(t, TokenData{Token: "tok-123", UserID: "u1"}))
		}))
		defer server.Close()

		client := NewClient("", WithBaseURL(server.URL))
		token, err := client.Account.Login(context.Background(), "mia@example.com", "hunter2")
		require.NoError(t, err)
		assert.Equal(t, "tok-123", token.Token)
		assert.Equal(t, "tok-123", client.Token())
	})

	t.Run("bearer header on authenticated requests", func(t *testing.T) {
		var gotAuth string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			w.Write(okEnvelope(t, User{ID: "u1", Email: "mia@example.com"}))
		}))
		defer server.Close()

		client := NewClient("tok-123", WithBaseURL(server.URL))
		_, err := client.Account.Me(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Bearer tok-123", gotAuth)
	})

	t.Run("api error surfaces code and message", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(Result{OK: false, Error: &APIError{Code: "unauthorized", Message: "bad token"}})
		}))
		defer server.Close()

		client := NewClient("stale", WithBaseURL(server.URL))
		_, err := client.Account.Me(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unauthorized")
		assert.Contains(t, err.Error(), "bad token")
	})
}

func TestGroupsClient(t *testing.T) {
	t.Run("messages passes pagination", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/api/v1/groups/g1/messages", r.URL.Path)
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			assert.Equal(t, "2026-01-01T00:00:00Z", r.URL.Query().Get("before"))
			w.Write(okEnvelope(t, []Message{msg("m1", "2025-12-31T10:00:00Z")}))
		}))
		defer server.Close()

		client := NewClient("tok", WithBaseURL(server.URL))
		msgs, err := client.Groups.Messages(context.Background(), "g1", &PageOptions{Limit: 5, Before: "2026-01-01T00:00:00Z"})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
	})

	t.Run("send posts the client id", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "hello", body["text"])
			assert.Equal(t, "c-42", body["clientId"])
			w.Write(okEnvelope(t, Message{ID: "srv-1", Text: "hello"}))
		}))
		defer server.Close()

		client := NewClient("tok", WithBaseURL(server.URL))
		sent, err := client.Groups.Send(context.Background(), "g1", "c-42", "hello", nil)
		require.NoError(t, err)
		assert.Equal(t, "srv-1", sent.ID)
	})
}

func TestMessageCreatedTime(t *testing.T) {
	t.Run("parses RFC3339 with nanoseconds", func(t *testing.T) {
		m := Message{CreatedAt: "2026-01-01T10:00:00.123456789Z"}
		ts, ok := m.CreatedTime()
		require.True(t, ok)
		assert.Equal(t, 123456789, ts.Nanosecond())
	})

	t.Run("parses plain RFC3339", func(t *testing.T) {
		m := Message{CreatedAt: "2026-01-01T10:00:00+02:00"}
		_, ok := m.CreatedTime()
		assert.True(t, ok)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		for _, s := range []string{"", "yesterday", "1700000000"} {
			m := Message{CreatedAt: s}
			_, ok := m.CreatedTime()
			assert.False(t, ok, "input %q", s)
		}
	})
}

func TestClientOptions(t *testing.T) {
	t.Run("trailing slash trimmed from base url", func(t *testing.T) {
		client := NewClient("tok", WithBaseURL("https://example.com/"))
		assert.Equal(t, "https://example.com", client.BaseURL())
	})

	t.Run("timeout sets the http client", func(t *testing.T) {
		client := NewClient("tok", WithTimeout(5*time.Second))
		assert.Equal(t, 5*time.Second, client.httpClient.Timeout)
	})
}

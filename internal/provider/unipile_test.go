package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *UnipileClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewUnipileClient(UnipileOptions{BaseURL: srv.URL, APIKey: "test-key", Timeout: 5 * time.Second, BreakerFailures: 2, BreakerCooldown: time.Minute})
}

func TestExtractSlug(t *testing.T) {
	assert.Equal(t, "john-doe", ExtractSlug("https://www.linkedin.com/in/john-doe/"))
	assert.Equal(t, "john-doe", ExtractSlug("linkedin.com/in/john-doe?trk=abc"))
	assert.Equal(t, "jöhn", ExtractSlug("https://linkedin.com/in/j%C3%B6hn"))
	assert.Equal(t, "john-doe", ExtractSlug(" john-doe "))
	assert.Equal(t, "", ExtractSlug("https://example.com/profile/x"))
	assert.Equal(t, "", ExtractSlug(""))
}

func TestIsProviderID(t *testing.T) {
	assert.True(t, IsProviderID("ACoAAB12345"))
	assert.False(t, IsProviderID("john-doe"))
}

func TestTruncateInvitation(t *testing.T) {
	long := strings.Repeat("é", 310)
	assert.Len(t, []rune(TruncateInvitation(long)), MaxInvitationLength)
	assert.Equal(t, "short", TruncateInvitation("short"))
}

func TestUnipile_ResolveID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "/api/v1/users/john-doe", r.URL.Path)
		assert.Equal(t, "acc-1", r.URL.Query().Get("account_id"))
		_, _ = w.Write([]byte(`{"provider_id":"ACoAAA1"}`))
	})
	id, err := c.ResolveID(context.Background(), "acc-1", "john-doe")
	require.NoError(t, err)
	assert.Equal(t, "ACoAAA1", id)
}

func TestUnipile_SendConnectionRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/users/invite", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ACoAAA1", body["provider_id"])
		assert.Len(t, []rune(body["message"]), MaxInvitationLength)
		w.WriteHeader(http.StatusCreated)
	})
	err := c.SendConnectionRequest(context.Background(), "acc-1", "ACoAAA1", strings.Repeat("x", 400))
	assert.NoError(t, err)
}

func TestUnipile_ProviderErrorKeepsText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"status":422,"type":"errors/already_invited_recently","title":"Already invited"}`))
	})
	err := c.SendConnectionRequest(context.Background(), "acc-1", "ACoAAA1", "hi")
	pe, ok := appErrors.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, 422, pe.StatusCode)
	assert.Contains(t, pe.Message, "already_invited_recently")
}

func TestUnipile_SendMessageUsesExistingChat(t *testing.T) {
	var posted atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/chats":
			_, _ = w.Write([]byte(`{"items":[{"id":"c1","attendee_provider_id":"ACoOther"},{"id":"c2","attendee_provider_id":"ACoAAA1"}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/chats/c2/messages":
			posted.Add(1)
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	chatID, err := c.SendMessage(context.Background(), "acc-1", "ACoAAA1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "c2", chatID)
	assert.Equal(t, int32(1), posted.Load())
}

func TestUnipile_SendMessageStartsChat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/chats":
			_, _ = w.Write([]byte(`{"items":[]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/chats":
			assert.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "ACoAAA1", r.FormValue("attendees_ids"))
			assert.Equal(t, "hello", r.FormValue("text"))
			assert.Empty(t, r.FormValue("linkedin[inmail]"))
			_, _ = w.Write([]byte(`{"chat_id":"new-chat"}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	chatID, err := c.SendMessage(context.Background(), "acc-1", "ACoAAA1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "new-chat", chatID)
}

func TestUnipile_StartInMail(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "true", r.FormValue("linkedin[inmail]"))
		_, _ = w.Write([]byte(`{"chat_id":"im-1"}`))
	})
	chatID, err := c.StartChat(context.Background(), "acc-1", "ACoAAA1", "hello", true)
	require.NoError(t, err)
	assert.Equal(t, "im-1", chatID)
}

func TestUnipile_ListChatMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"items":[
			{"id":"m2","chat_id":"c1","sender_id":"ACoAAA1","text":"Sounds good","is_sender":0,"timestamp":"2025-07-09T10:00:00.000Z"},
			{"id":"m1","chat_id":"c1","sender_id":"me","text":"Hi","is_sender":1,"timestamp":"2025-07-08T10:00:00.000Z"}
		]}`))
	})
	msgs, err := c.ListChatMessages(context.Background(), "c1", 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.False(t, msgs[0].IsSender)
	assert.True(t, msgs[1].IsSender)
	assert.Equal(t, 2025, msgs[0].CreatedAt.Year())
}

func TestUnipile_ListSentInvitationsFollowsCursor(t *testing.T) {
	var pages int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/invite/sent", r.URL.Path)
		assert.Equal(t, "acc-1", r.URL.Query().Get("account_id"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		if atomic.AddInt32(&pages, 1) == 1 {
			assert.Empty(t, r.URL.Query().Get("cursor"))
			_, _ = w.Write([]byte(`{"items":[{"invited_user_id":"ACoAAA1","invited_user_public_id":"ada-l"}],"cursor":"p2"}`))
			return
		}
		assert.Equal(t, "p2", r.URL.Query().Get("cursor"))
		_, _ = w.Write([]byte(`{"items":[{"invited_user_id":"ACoAAA2"}],"cursor":null}`))
	})
	got, err := c.ListSentInvitations(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, []Member{{ProviderID: "ACoAAA1", PublicID: "ada-l"}, {ProviderID: "ACoAAA2"}}, got)
	assert.Equal(t, int32(2), atomic.LoadInt32(&pages))
}

func TestUnipile_ListRelationsStopsAtPageCap(t *testing.T) {
	var pages int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/relations", r.URL.Path)
		atomic.AddInt32(&pages, 1)
		_, _ = w.Write([]byte(`{"items":[{"provider_id":"ACoAAA1","public_identifier":"ada-l"}],"cursor":"more"}`))
	})
	got, err := c.ListRelations(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Len(t, got, maxRelationPages)
	assert.Equal(t, int32(maxRelationPages), atomic.LoadInt32(&pages))
}

func TestUnipile_ListRelationsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid account"}`))
	})
	_, err := c.ListRelations(context.Background(), "acc-1")
	pe, ok := appErrors.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
}

func TestUnipile_BreakerOpensOnServerErrorsOnly(t *testing.T) {
	var calls, status atomic.Int32
	status.Store(http.StatusBadRequest)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(int(status.Load()))
	})

	for i := 0; i < 3; i++ {
		_, err := c.ResolveID(context.Background(), "acc", "x")
		_, ok := appErrors.AsProviderError(err)
		assert.True(t, ok, "4xx keeps the breaker closed")
	}

	status.Store(http.StatusBadGateway)
	for i := 0; i < 2; i++ {
		_, _ = c.ResolveID(context.Background(), "acc", "x")
	}
	before := calls.Load()
	_, err := c.ResolveID(context.Background(), "acc", "x")
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, before, calls.Load(), "open breaker short-circuits")
}

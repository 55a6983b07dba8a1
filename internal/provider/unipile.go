package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
)

// UnipileOptions configures the Unipile client. Zero pacing and breaker
// values fall back to the client defaults.
type UnipileOptions struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	BreakerFailures   uint32
	BreakerCooldown   time.Duration
	Logger            *zap.Logger
}

// UnipileClient is the HTTP implementation of Client.
type UnipileClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ Client = (*UnipileClient)(nil)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("provider circuit open")

func NewUnipileClient(opts UnipileOptions) *UnipileClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	logger := opts.Logger.Named("unipile")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "unipile",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// 4xx responses are verdicts about a recipient and do not trip the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if pe, ok := appErrors.AsProviderError(err); ok {
				return pe.StatusCode < http.StatusInternalServerError
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &UnipileClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: cb,
		logger:  logger,
	}
}

type apiError struct {
	Status int    `json:"status"`
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func errorFromResponse(status int, body []byte) error {
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil {
		parts := make([]string, 0, 3)
		for _, s := range []string{ae.Type, ae.Title, ae.Detail} {
			if s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			return appErrors.NewProviderError(status, strings.Join(parts, ": "))
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		text = http.StatusText(status)
	}
	return appErrors.NewProviderError(status, text)
}

// do sends one request through the limiter and breaker and decodes a JSON
// response into out when out is non-nil.
func (c *UnipileClient) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, u, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-API-KEY", c.apiKey)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, errorFromResponse(resp.StatusCode, data)
		}
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
			}
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

func (c *UnipileClient) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, query, body, contentType, out)
}

func (c *UnipileClient) ResolveID(ctx context.Context, accountID, slug string) (string, error) {
	var profile struct {
		ProviderID string `json:"provider_id"`
	}
	path := "/api/v1/users/" + url.PathEscape(slug)
	if err := c.doJSON(ctx, http.MethodGet, path, url.Values{"account_id": {accountID}}, nil, &profile); err != nil {
		return "", err
	}
	if profile.ProviderID == "" {
		return "", appErrors.NewProviderError(http.StatusNotFound, "profile "+slug+" has no provider id")
	}
	return profile.ProviderID, nil
}

func (c *UnipileClient) SendConnectionRequest(ctx context.Context, accountID, providerID, message string) error {
	payload := map[string]string{
		"account_id":  accountID,
		"provider_id": providerID,
	}
	if message != "" {
		payload["message"] = TruncateInvitation(message)
	}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/users/invite", nil, payload, nil)
}

func (c *UnipileClient) StartChat(ctx context.Context, accountID, providerID, text string, inmail bool) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"account_id", accountID},
		{"attendees_ids", providerID},
		{"text", text},
	}
	if inmail {
		fields = append(fields, [2]string{"linkedin[api]", "classic"}, [2]string{"linkedin[inmail]", "true"})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	var created struct {
		ChatID string `json:"chat_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/chats", nil, &buf, w.FormDataContentType(), &created); err != nil {
		return "", err
	}
	return created.ChatID, nil
}

// chatLookupLimit bounds the chat scan SendMessage does to find a thread.
const chatLookupLimit = 100

func (c *UnipileClient) SendMessage(ctx context.Context, accountID, providerID, text string) (string, error) {
	chats, err := c.ListChats(ctx, accountID, chatLookupLimit)
	if err != nil {
		return "", err
	}
	for _, chat := range chats {
		if chat.AttendeeProviderID != providerID {
			continue
		}
		path := "/api/v1/chats/" + url.PathEscape(chat.ID) + "/messages"
		if err := c.doJSON(ctx, http.MethodPost, path, nil, map[string]string{"text": text}, nil); err != nil {
			return "", err
		}
		return chat.ID, nil
	}
	return c.StartChat(ctx, accountID, providerID, text, false)
}

type chatList struct {
	Items []struct {
		ID                 string `json:"id"`
		AttendeeProviderID string `json:"attendee_provider_id"`
		Name               string `json:"name"`
	} `json:"items"`
}

func (c *UnipileClient) ListChats(ctx context.Context, accountID string, limit int) ([]Chat, error) {
	q := url.Values{"account_id": {accountID}, "limit": {strconv.Itoa(limit)}}
	var list chatList
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/chats", q, nil, &list); err != nil {
		return nil, err
	}
	chats := make([]Chat, 0, len(list.Items))
	for _, it := range list.Items {
		chats = append(chats, Chat{ID: it.ID, AttendeeProviderID: it.AttendeeProviderID, Name: it.Name})
	}
	return chats, nil
}

type messageList struct {
	Items []struct {
		ID        string `json:"id"`
		ChatID    string `json:"chat_id"`
		SenderID  string `json:"sender_id"`
		Text      string `json:"text"`
		IsSender  int    `json:"is_sender"`
		Timestamp string `json:"timestamp"`
	} `json:"items"`
}

func (l messageList) messages() []Message {
	out := make([]Message, 0, len(l.Items))
	for _, it := range l.Items {
		created, _ := time.Parse(time.RFC3339, it.Timestamp)
		out = append(out, Message{
			ID:        it.ID,
			ChatID:    it.ChatID,
			SenderID:  it.SenderID,
			Text:      it.Text,
			IsSender:  it.IsSender != 0,
			CreatedAt: created,
		})
	}
	return out
}

// ListChatMessages returns the most recent messages of a chat, newest first.
func (c *UnipileClient) ListChatMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	path := "/api/v1/chats/" + url.PathEscape(chatID) + "/messages"
	var list messageList
	if err := c.doJSON(ctx, http.MethodGet, path, url.Values{"limit": {strconv.Itoa(limit)}}, nil, &list); err != nil {
		return nil, err
	}
	return list.messages(), nil
}

// ListRecentMessages returns the account's latest messages across chats, newest first.
func (c *UnipileClient) ListRecentMessages(ctx context.Context, accountID string, limit int) ([]Message, error) {
	q := url.Values{"account_id": {accountID}, "limit": {strconv.Itoa(limit)}}
	var list messageList
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/messages", q, nil, &list); err != nil {
		return nil, err
	}
	return list.messages(), nil
}

const (
	memberPageSize     = 100
	maxInvitationPages = 20
	maxRelationPages   = 50
)

type invitationPage struct {
	Items []struct {
		InvitedUserID       string `json:"invited_user_id"`
		InvitedUserPublicID string `json:"invited_user_public_id"`
	} `json:"items"`
	Cursor string `json:"cursor"`
}

type relationPage struct {
	Items []struct {
		ProviderID       string `json:"provider_id"`
		PublicIdentifier string `json:"public_identifier"`
	} `json:"items"`
	Cursor string `json:"cursor"`
}

// ListSentInvitations walks the pending sent invitations page by page.
func (c *UnipileClient) ListSentInvitations(ctx context.Context, accountID string) ([]Member, error) {
	var out []Member
	cursor := ""
	for page := 0; page < maxInvitationPages; page++ {
		var list invitationPage
		if err := c.doJSON(ctx, http.MethodGet, "/api/v1/users/invite/sent", memberQuery(accountID, cursor), nil, &list); err != nil {
			return nil, err
		}
		for _, it := range list.Items {
			out = append(out, Member{ProviderID: it.InvitedUserID, PublicID: it.InvitedUserPublicID})
		}
		if list.Cursor == "" || len(list.Items) == 0 {
			break
		}
		cursor = list.Cursor
	}
	return out, nil
}

// ListRelations walks the account's connections page by page.
func (c *UnipileClient) ListRelations(ctx context.Context, accountID string) ([]Member, error) {
	var out []Member
	cursor := ""
	for page := 0; page < maxRelationPages; page++ {
		var list relationPage
		if err := c.doJSON(ctx, http.MethodGet, "/api/v1/users/relations", memberQuery(accountID, cursor), nil, &list); err != nil {
			return nil, err
		}
		for _, it := range list.Items {
			out = append(out, Member{ProviderID: it.ProviderID, PublicID: it.PublicIdentifier})
		}
		if list.Cursor == "" || len(list.Items) == 0 {
			break
		}
		cursor = list.Cursor
	}
	return out, nil
}

func memberQuery(accountID, cursor string) url.Values {
	q := url.Values{"account_id": {accountID}, "limit": {strconv.Itoa(memberPageSize)}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return q
}

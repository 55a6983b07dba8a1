// Package provider talks to the LinkedIn automation provider. Failures are
// reported as *appErrors.ProviderError so the outcome classifier can read the
// provider's own wording.
package provider

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Client is the set of provider operations the engine uses.
type Client interface {
	// ResolveID turns a vanity slug into the canonical provider id.
	ResolveID(ctx context.Context, accountID, slug string) (string, error)
	SendConnectionRequest(ctx context.Context, accountID, providerID, message string) error
	// StartChat opens a new conversation, as an InMail when inmail is set.
	StartChat(ctx context.Context, accountID, providerID, text string, inmail bool) (string, error)
	// SendMessage continues the existing conversation with providerID, or
	// starts one when none exists.
	SendMessage(ctx context.Context, accountID, providerID, text string) (string, error)
	ListChats(ctx context.Context, accountID string, limit int) ([]Chat, error)
	ListChatMessages(ctx context.Context, chatID string, limit int) ([]Message, error)
	ListRecentMessages(ctx context.Context, accountID string, limit int) ([]Message, error)
	// ListSentInvitations returns the account's connection requests that are
	// still awaiting an answer.
	ListSentInvitations(ctx context.Context, accountID string) ([]Member, error)
	// ListRelations returns the account's first-degree connections.
	ListRelations(ctx context.Context, accountID string) ([]Member, error)
}

// Member identifies a LinkedIn user by provider id and vanity slug. Either
// may be empty.
type Member struct {
	ProviderID string
	PublicID   string
}

// Chat is a one-to-one conversation.
type Chat struct {
	ID                 string
	AttendeeProviderID string
	Name               string
}

// Message is one message of a chat. IsSender is true for messages the
// account itself sent.
type Message struct {
	ID        string
	ChatID    string
	SenderID  string
	Text      string
	IsSender  bool
	CreatedAt time.Time
}

// MaxInvitationLength is the provider's limit for connection request notes.
const MaxInvitationLength = 300

// providerIDPrefix marks canonical LinkedIn member ids.
const providerIDPrefix = "ACo"

// IsProviderID reports whether id is already canonical.
func IsProviderID(id string) bool {
	return strings.HasPrefix(id, providerIDPrefix)
}

var profileURLPattern = regexp.MustCompile(`linkedin\.com/in/([^/?#]+)`)

// ExtractSlug returns the vanity slug of a recipient given as a profile URL
// or as a bare slug. It returns "" when nothing usable is left.
func ExtractSlug(recipient string) string {
	recipient = strings.TrimSpace(recipient)
	if m := profileURLPattern.FindStringSubmatch(recipient); m != nil {
		slug, err := url.PathUnescape(m[1])
		if err != nil {
			slug = m[1]
		}
		return strings.TrimSpace(slug)
	}
	if strings.Contains(recipient, "/") || strings.Contains(recipient, " ") {
		return ""
	}
	return recipient
}

// TruncateInvitation cuts message to the invitation limit on a rune boundary.
func TruncateInvitation(message string) string {
	r := []rune(message)
	if len(r) <= MaxInvitationLength {
		return message
	}
	return string(r[:MaxInvitationLength])
}

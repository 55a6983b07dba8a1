// internal/model/prospect.go
package model

import (
	"strings"
	"time"
)

const (
	ProspectStatusPending               = "pending"
	ProspectStatusApproved              = "approved"
	ProspectStatusConnectionRequestSent = "connection_request_sent"
	ProspectStatusAlreadyInvited        = "already_invited"
	ProspectStatusConnected             = "connected"
	ProspectStatusMessaging             = "messaging"
	ProspectStatusInMailSent            = "inmail_sent"
	ProspectStatusReplied               = "replied"
	ProspectStatusFailed                = "failed"
	ProspectStatusInvitationDeclined    = "invitation_declined"
	ProspectStatusOptedOut              = "opted_out"
	ProspectStatusConverted             = "converted"
	ProspectStatusNotInterested         = "not_interested"
)

var stopStatuses = map[string]bool{
	ProspectStatusReplied:       true,
	ProspectStatusOptedOut:      true,
	ProspectStatusConverted:     true,
	ProspectStatusNotInterested: true,
}

// IsStopStatus reports whether no further messages may be sent to a prospect in this status.
func IsStopStatus(status string) bool {
	return stopStatuses[status]
}

// AwaitingReplyStatuses are the statuses polled for inbound replies.
var AwaitingReplyStatuses = []string{
	ProspectStatusConnectionRequestSent,
	ProspectStatusAlreadyInvited,
	ProspectStatusConnected,
	ProspectStatusMessaging,
	ProspectStatusInMailSent,
}

type Prospect struct {
	ID                     int64      `db:"id" json:"id"`
	CampaignID             int64      `db:"campaign_id" json:"campaign_id"`
	FirstName              string     `db:"first_name" json:"first_name"`
	LastName               string     `db:"last_name" json:"last_name"`
	CompanyName            string     `db:"company_name" json:"company_name"`
	Title                  string     `db:"title" json:"title"`
	RecipientID            string     `db:"recipient_id" json:"recipient_id"`
	Status                 string     `db:"status" json:"status"`
	ContactedAt            *time.Time `db:"contacted_at" json:"contacted_at,omitempty"`
	RespondedAt            *time.Time `db:"responded_at" json:"responded_at,omitempty"`
	LastProcessedMessageID string     `db:"last_processed_message_id" json:"last_processed_message_id,omitempty"`
	FollowUpDueAt          *time.Time `db:"follow_up_due_at" json:"follow_up_due_at,omitempty"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at"`
}

func (p *Prospect) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// CanReceiveFollowUp is true once the connection is accepted or a conversation exists.
func (p *Prospect) CanReceiveFollowUp() bool {
	return p.Status == ProspectStatusConnected || p.Status == ProspectStatusMessaging
}

// ReplyCandidate is a prospect joined with the sending identity of its campaign.
type ReplyCandidate struct {
	Prospect
	WorkspaceID       int64  `db:"workspace_id"`
	AccountID         int64  `db:"account_id"`
	ProviderAccountID string `db:"provider_account_id"`
}

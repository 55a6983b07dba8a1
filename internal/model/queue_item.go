// internal/model/queue_item.go
package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	QueueStatusPending    = "pending"
	QueueStatusProcessing = "processing"
	QueueStatusSent       = "sent"
	QueueStatusFailed     = "failed"
	QueueStatusSkipped    = "skipped"
	QueueStatusCancelled  = "cancelled"
)

const (
	MessageTypeConnectionRequest = "connection_request"
	MessageTypeMessage           = "message"
	MessageTypeFollowUp          = "follow_up"
	MessageTypeOpenInMail        = "open_inmail"
)

// Message classes counted independently by the rate limiter.
const (
	ClassConnectionRequest = "connection_request"
	ClassMessage           = "message"
)

// QueueItem is one scheduled outbound message in send_queue.
type QueueItem struct {
	ID                 int64      `db:"id" json:"id"`
	CampaignID         int64      `db:"campaign_id" json:"campaign_id"`
	ProspectID         int64      `db:"prospect_id" json:"prospect_id"`
	AccountID          int64      `db:"account_id" json:"account_id"`
	MessageType        string     `db:"message_type" json:"message_type"`
	Message            string     `db:"message" json:"message"`
	RecipientID        string     `db:"recipient_id" json:"recipient_id"`
	ScheduledFor       time.Time  `db:"scheduled_for" json:"scheduled_for"`
	Status             string     `db:"status" json:"status"`
	ErrorMessage       string     `db:"error_message" json:"error_message,omitempty"`
	SentAt             *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	RequiresConnection bool       `db:"requires_connection" json:"requires_connection"`
	RetryCount         int        `db:"retry_count" json:"retry_count"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// FollowUpType returns the message type stored for the n-th follow-up (1-based).
func FollowUpType(n int) string {
	return fmt.Sprintf("%s_%d", MessageTypeFollowUp, n)
}

// IsFollowUp matches both "follow_up" and the numbered "follow_up_N" forms.
func IsFollowUp(messageType string) bool {
	return strings.HasPrefix(messageType, MessageTypeFollowUp)
}

// ClassOf maps a message type to its rate-limit class.
func ClassOf(messageType string) string {
	if messageType == MessageTypeConnectionRequest {
		return ClassConnectionRequest
	}
	return ClassMessage
}

// SendRecord is a successful send used to derive per-account counters.
type SendRecord struct {
	MessageType string    `db:"message_type"`
	SentAt      time.Time `db:"sent_at"`
}

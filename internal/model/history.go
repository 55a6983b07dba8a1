package model

import "time"

// HistoryRecord is the audit row written for every confirmed send.
type HistoryRecord struct {
	ID          int64     `db:"id" json:"id"`
	QueueItemID int64     `db:"queue_item_id" json:"queue_item_id"`
	CampaignID  int64     `db:"campaign_id" json:"campaign_id"`
	ProspectID  int64     `db:"prospect_id" json:"prospect_id"`
	AccountID   int64     `db:"account_id" json:"account_id"`
	MessageType string    `db:"message_type" json:"message_type"`
	Message     string    `db:"message" json:"message"`
	ChatID      string    `db:"chat_id" json:"chat_id,omitempty"`
	SentAt      time.Time `db:"sent_at" json:"sent_at"`
}

const ReplyDraftStatusPendingGeneration = "pending_generation"

// ReplyDraft hands an inbound reply to the downstream reply agent.
// At most one exists per inbound message id.
type ReplyDraft struct {
	ID                 int64     `db:"id" json:"id"`
	WorkspaceID        int64     `db:"workspace_id" json:"workspace_id"`
	CampaignID         int64     `db:"campaign_id" json:"campaign_id"`
	ProspectID         int64     `db:"prospect_id" json:"prospect_id"`
	InboundMessageID   string    `db:"inbound_message_id" json:"inbound_message_id"`
	InboundMessageText string    `db:"inbound_message_text" json:"inbound_message_text"`
	InboundMessageAt   time.Time `db:"inbound_message_at" json:"inbound_message_at"`
	Channel            string    `db:"channel" json:"channel"`
	ProspectName       string    `db:"prospect_name" json:"prospect_name"`
	DraftText          string    `db:"draft_text" json:"draft_text"`
	ApprovalToken      string    `db:"approval_token" json:"approval_token"`
	ExpiresAt          time.Time `db:"expires_at" json:"expires_at"`
	Status             string    `db:"status" json:"status"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

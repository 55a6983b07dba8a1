package queue

import (
	"time"

	"go.uber.org/zap"
)

// Alert kinds
const (
	AlertDailyCapReached   = "daily_cap_reached"
	AlertProviderWarning   = "provider_warning"
	AlertAccountRestricted = "account_restricted"
)

// Alert is an operator notification.
type Alert struct {
	Kind        string    `json:"kind"`
	AccountID   int64     `json:"account_id"`
	CampaignID  int64     `json:"campaign_id,omitempty"`
	QueueItemID int64     `json:"queue_item_id,omitempty"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
}

// ReplyEvent announces a newly detected inbound reply.
type ReplyEvent struct {
	WorkspaceID      int64     `json:"workspace_id"`
	CampaignID       int64     `json:"campaign_id"`
	ProspectID       int64     `json:"prospect_id"`
	DraftID          int64     `json:"draft_id"`
	InboundMessageID string    `json:"inbound_message_id"`
	Text             string    `json:"text"`
	ReceivedAt       time.Time `json:"received_at"`
}

// Notifier publishes best-effort notifications. Publish failures are logged
// and never returned.
type Notifier struct {
	Queue  Queue
	Logger *zap.Logger
}

func (n *Notifier) log() *zap.Logger {
	if n.Logger == nil {
		return zap.NewNop()
	}
	return n.Logger
}

func (n *Notifier) Alert(a Alert) {
	if n == nil || n.Queue == nil {
		return
	}
	if err := n.Queue.Publish(TopicOperatorAlerts, a); err != nil {
		n.log().Warn("operator alert not delivered", zap.String("kind", a.Kind), zap.Int64("account_id", a.AccountID), zap.Error(err))
	}
}

func (n *Notifier) ReplyReceived(e ReplyEvent) {
	if n == nil || n.Queue == nil {
		return
	}
	if err := n.Queue.Publish(TopicReplyEvents, e); err != nil {
		n.log().Warn("reply event not delivered", zap.Int64("prospect_id", e.ProspectID), zap.Error(err))
	}
}

// StartAlertSubscriber logs every operator alert. Undecodable payloads are
// dropped rather than retried.
func StartAlertSubscriber(q Queue, logger *zap.Logger) error {
	return q.Subscribe(TopicOperatorAlerts, func(payload any) error {
		a, err := Decode[Alert](payload)
		if err != nil {
			logger.Warn("invalid alert payload", zap.Error(err))
			return nil
		}
		logger.Warn("operator alert",
			zap.String("kind", a.Kind),
			zap.Int64("account_id", a.AccountID),
			zap.Int64("campaign_id", a.CampaignID),
			zap.Int64("queue_item_id", a.QueueItemID),
			zap.String("message", a.Message),
			zap.Time("at", a.At),
		)
		return nil
	})
}

// StartReplyEventSubscriber logs reply events for deployments without a
// downstream consumer on the broker.
func StartReplyEventSubscriber(q Queue, logger *zap.Logger) error {
	return q.Subscribe(TopicReplyEvents, func(payload any) error {
		e, err := Decode[ReplyEvent](payload)
		if err != nil {
			logger.Warn("invalid reply event payload", zap.Error(err))
			return nil
		}
		logger.Info("reply received",
			zap.Int64("campaign_id", e.CampaignID),
			zap.Int64("prospect_id", e.ProspectID),
			zap.Int64("draft_id", e.DraftID),
			zap.String("inbound_message_id", e.InboundMessageID),
			zap.Time("received_at", e.ReceivedAt),
		)
		return nil
	})
}

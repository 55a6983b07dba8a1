package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/metrics"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/outcome"
	"github.com/unclebandit/outreach-engine/internal/provider"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/ratelimit"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

// InMailFollowUpDelay is when an InMail recipient becomes due for a follow-up.
const InMailFollowUpDelay = 3 * 24 * time.Hour

// bookkeepingTimeout bounds state writes that must happen even after the
// invocation context has expired.
const bookkeepingTimeout = 10 * time.Second

const malformedRecipientMessage = "malformed recipient identifier"

// DispatchResult describes what happened to a claimed item.
type DispatchResult struct {
	ItemID int64
	Sent   bool
	// Released is set when the claim was given back without a provider verdict.
	Released bool
	Outcome  *outcome.Outcome
	ChatID   string
	Message  string
}

// Category returns "sent", "released" or the failure category.
func (r DispatchResult) Category() string {
	switch {
	case r.Sent:
		return "sent"
	case r.Released:
		return "released"
	case r.Outcome != nil:
		return string(r.Outcome.Category)
	default:
		return ""
	}
}

// Dispatcher sends one claimed item through the provider and records the result.
type Dispatcher struct {
	Queue      repository.QueueRepositoryInterface
	Campaigns  repository.CampaignRepositoryInterface
	Prospects  repository.ProspectRepositoryInterface
	History    repository.HistoryRepositoryInterface
	Provider   provider.Client
	Classifier *outcome.Classifier
	Notifier   *queue.Notifier
	Logger     *zap.Logger
	Now        func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Dispatcher) classifier() *outcome.Classifier {
	if d.Classifier == nil {
		return outcome.Default()
	}
	return d.Classifier
}

// detached returns a context that survives cancellation of ctx.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}

// Dispatch never leaves state changed before the provider confirms a send.
// Provider verdicts are classified and applied; transport failures and
// timeouts release the claim. The returned error only reports bookkeeping
// failures.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Candidate) (DispatchResult, error) {
	log := d.logger().With(
		zap.Int64("item_id", c.Item.ID),
		zap.Int64("account_id", c.Item.AccountID),
		zap.Int64("campaign_id", c.Item.CampaignID),
		zap.String("message_type", c.Item.MessageType),
	)
	res := DispatchResult{ItemID: c.Item.ID}

	recipient, err := d.normalizeRecipient(ctx, c)
	if err != nil {
		return d.fail(ctx, c, err, log)
	}

	text := Personalize(c.Item.Message, c.Prospect)
	accountID := c.Account.ProviderAccountID

	switch {
	case c.Item.MessageType == model.MessageTypeConnectionRequest:
		err = d.Provider.SendConnectionRequest(ctx, accountID, recipient, text)
	case c.Item.MessageType == model.MessageTypeOpenInMail:
		res.ChatID, err = d.Provider.StartChat(ctx, accountID, recipient, text, true)
	case c.Item.MessageType == model.MessageTypeMessage, model.IsFollowUp(c.Item.MessageType):
		res.ChatID, err = d.Provider.SendMessage(ctx, accountID, recipient, text)
	default:
		err = appErrors.NewProviderError(http.StatusBadRequest, "unsupported message type "+c.Item.MessageType)
	}
	if err != nil {
		return d.fail(ctx, c, err, log)
	}

	res.Sent = true
	return res, d.recordSent(ctx, c, text, res.ChatID, log)
}

// normalizeRecipient returns the canonical provider id, persisting the slug
// and then the resolved id on both the item and the prospect.
func (d *Dispatcher) normalizeRecipient(ctx context.Context, c *Candidate) (string, error) {
	recipient := c.Item.RecipientID
	if recipient == "" && c.Prospect != nil {
		recipient = c.Prospect.RecipientID
	}
	if provider.IsProviderID(recipient) {
		return recipient, nil
	}

	slug := provider.ExtractSlug(recipient)
	if slug == "" {
		return "", appErrors.NewProviderError(http.StatusBadRequest, malformedRecipientMessage)
	}
	if slug != recipient {
		if err := d.persistRecipient(ctx, c, slug); err != nil {
			return "", err
		}
	}

	id, err := d.Provider.ResolveID(ctx, c.Account.ProviderAccountID, slug)
	if err != nil {
		return "", err
	}
	if !provider.IsProviderID(id) {
		return "", appErrors.NewProviderError(http.StatusBadRequest, fmt.Sprintf("%s: resolved %q", malformedRecipientMessage, id))
	}
	if err := d.persistRecipient(ctx, c, id); err != nil {
		return "", err
	}
	return id, nil
}

func (d *Dispatcher) persistRecipient(ctx context.Context, c *Candidate, recipient string) error {
	if err := d.Queue.UpdateRecipient(ctx, c.Item.ID, recipient); err != nil {
		return fmt.Errorf("persist recipient on item: %w", err)
	}
	c.Item.RecipientID = recipient
	if c.Prospect != nil {
		if err := d.Prospects.UpdateRecipient(ctx, c.Prospect.ID, recipient); err != nil {
			return fmt.Errorf("persist recipient on prospect: %w", err)
		}
		c.Prospect.RecipientID = recipient
	}
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, c *Candidate, cause error, log *zap.Logger) (DispatchResult, error) {
	res := DispatchResult{ItemID: c.Item.ID, Message: cause.Error()}
	wctx, cancel := detached(ctx)
	defer cancel()

	if _, ok := appErrors.AsProviderError(cause); !ok || errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, context.Canceled) {
		released, err := d.Queue.Release(wctx, c.Item.ID)
		if err != nil {
			return res, fmt.Errorf("release item %d: %w", c.Item.ID, err)
		}
		res.Released = released
		metrics.DispatchTotal.WithLabelValues("released").Inc()
		log.Warn("dispatch aborted, claim released", zap.Bool("released", released), zap.Error(cause))
		return res, nil
	}

	o := d.classifier().ClassifyError(cause)
	res.Outcome = &o
	metrics.DispatchTotal.WithLabelValues(string(o.Category)).Inc()
	log = log.With(zap.String("category", string(o.Category)))

	if o.Requeue() {
		if err := d.Queue.Reschedule(wctx, c.Item.ID, d.now().Add(o.RescheduleAfter), cause.Error()); err != nil {
			return res, fmt.Errorf("reschedule item %d: %w", c.Item.ID, err)
		}
	} else if err := d.Queue.UpdateStatus(wctx, c.Item.ID, o.QueueStatus, cause.Error()); err != nil {
		return res, fmt.Errorf("update item %d: %w", c.Item.ID, err)
	}

	if o.ProspectStatus != "" && c.Prospect != nil {
		if err := d.Prospects.UpdateStatus(wctx, c.Prospect.ID, o.ProspectStatus); err != nil {
			return res, fmt.Errorf("update prospect %d: %w", c.Prospect.ID, err)
		}
	}
	if o.PauseCampaign {
		if err := d.Campaigns.UpdateStatus(wctx, c.Campaign.ID, model.CampaignStatusPaused); err != nil {
			return res, fmt.Errorf("pause campaign %d: %w", c.Campaign.ID, err)
		}
		log.Warn("campaign paused after provider warning")
	}
	if o.Notify {
		kind := queue.AlertAccountRestricted
		if o.Category == outcome.CategoryWarning {
			kind = queue.AlertProviderWarning
		}
		d.Notifier.Alert(queue.Alert{
			Kind:        kind,
			AccountID:   c.Item.AccountID,
			CampaignID:  c.Item.CampaignID,
			QueueItemID: c.Item.ID,
			Message:     cause.Error(),
			At:          d.now(),
		})
	}

	log.Info("dispatch failed", zap.String("queue_status", o.QueueStatus), zap.Error(cause))
	return res, nil
}

func (d *Dispatcher) recordSent(ctx context.Context, c *Candidate, text, chatID string, log *zap.Logger) error {
	now := d.now()
	wctx, cancel := detached(ctx)
	defer cancel()

	metrics.DispatchTotal.WithLabelValues("sent").Inc()

	if err := d.Queue.MarkSent(wctx, c.Item.ID, now); err != nil {
		return fmt.Errorf("mark item %d sent: %w", c.Item.ID, err)
	}
	err := d.History.Insert(wctx, &model.HistoryRecord{
		QueueItemID: c.Item.ID,
		CampaignID:  c.Item.CampaignID,
		ProspectID:  c.Item.ProspectID,
		AccountID:   c.Item.AccountID,
		MessageType: c.Item.MessageType,
		Message:     text,
		ChatID:      chatID,
		SentAt:      now,
	})
	if err != nil {
		log.Error("history insert failed", zap.Error(err))
	}

	if c.Prospect != nil {
		var status string
		var followUpDue *time.Time
		switch {
		case c.Item.MessageType == model.MessageTypeConnectionRequest:
			status = model.ProspectStatusConnectionRequestSent
		case c.Item.MessageType == model.MessageTypeOpenInMail:
			status = model.ProspectStatusInMailSent
			due := now.Add(InMailFollowUpDelay)
			followUpDue = &due
		default:
			status = model.ProspectStatusMessaging
		}
		if err := d.Prospects.MarkContacted(wctx, c.Prospect.ID, status, now, followUpDue); err != nil {
			return fmt.Errorf("update prospect %d: %w", c.Prospect.ID, err)
		}
	}

	if err := d.Campaigns.MarkExecuted(wctx, c.Campaign.ID, now); err != nil {
		log.Warn("mark campaign executed failed", zap.Error(err))
	}

	if ratelimit.CrossedDailyCap(c.SentToday, c.Class, c.Limits) {
		d.Notifier.Alert(queue.Alert{
			Kind:        queue.AlertDailyCapReached,
			AccountID:   c.Item.AccountID,
			CampaignID:  c.Item.CampaignID,
			QueueItemID: c.Item.ID,
			Message:     fmt.Sprintf("%s daily cap reached (%d)", c.Class, c.SentToday+1),
			At:          now,
		})
	}

	log.Info("message sent", zap.String("chat_id", chatID))
	return nil
}

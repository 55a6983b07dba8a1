package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/metrics"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/ratelimit"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/schedule"
)

// historyWindow is how far back send history is read for rate limiting.
const historyWindow = 7 * 24 * time.Hour

// AwaitingConnectionDelay postpones items that need an accepted connection.
const AwaitingConnectionDelay = 24 * time.Hour

const awaitingConnectionNote = "awaiting connection acceptance"

// Candidate is a claimed queue item with everything needed to dispatch it.
type Candidate struct {
	Item     model.QueueItem
	Campaign *model.Campaign
	Account  *model.Account
	Prospect *model.Prospect
	Class    string
	Limits   ratelimit.Limits
	// SentToday is the account's count for Class in the last 24h before this send.
	SentToday int
}

// Selector picks the first sendable item of a batch and claims it.
type Selector struct {
	Queue     repository.QueueRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Accounts  repository.AccountRepositoryInterface
	Prospects repository.ProspectRepositoryInterface
	Calendar  *schedule.Calendar
	Limits    ratelimit.Limits
	// Hours fills the working hours of campaigns that leave them unset.
	Hours     schedule.Settings
	Logger    *zap.Logger
	Now       func() time.Time
}

type classKey struct {
	accountID  int64
	campaignID int64
	class      string
}

// selection memoizes lookups and blocks for one pass over a batch.
type selection struct {
	now          time.Time
	blocked      map[int64]string
	classBlocked map[classKey]string
	campaigns    map[int64]*model.Campaign
	accounts     map[int64]*model.Account
	history      map[int64][]model.SendRecord
}

func (s *Selector) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Selector) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Selector) calendar() *schedule.Calendar {
	if s.Calendar == nil {
		return schedule.DefaultCalendar()
	}
	return s.Calendar
}

// ScheduleSettings returns the sending window of a campaign. Unset working
// hours are taken from fallback.
func ScheduleSettings(c *model.Campaign, fallback schedule.Settings) schedule.Settings {
	s := schedule.Settings{
		CountryCode:       c.CountryCode,
		Timezone:          c.Timezone,
		WorkingHoursStart: c.WorkingHoursStart,
		WorkingHoursEnd:   c.WorkingHoursEnd,
		SkipWeekends:      c.SkipWeekends,
		SkipHolidays:      c.SkipHolidays,
	}
	if s.WorkingHoursStart == 0 && s.WorkingHoursEnd == 0 {
		s.WorkingHoursStart, s.WorkingHoursEnd = fallback.WorkingHoursStart, fallback.WorkingHoursEnd
	}
	return s
}

// SelectNext walks items in order and returns the first one that passes the
// campaign, prospect, schedule and rate checks and is successfully claimed.
// It returns nil when nothing in the batch can be sent now.
func (s *Selector) SelectNext(ctx context.Context, items []model.QueueItem) (*Candidate, error) {
	sel := &selection{
		now:          s.now(),
		blocked:      make(map[int64]string),
		classBlocked: make(map[classKey]string),
		campaigns:    make(map[int64]*model.Campaign),
		accounts:     make(map[int64]*model.Account),
		history:      make(map[int64][]model.SendRecord),
	}

	for i := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := s.evaluate(ctx, sel, items[i])
		if err != nil {
			s.logger().Warn("skipping queue item", zap.Int64("item_id", items[i].ID), zap.Error(err))
			continue
		}
		if c != nil {
			return c, nil
		}
	}
	return nil, nil
}

func (s *Selector) block(reason string) {
	metrics.SelectorBlockedTotal.WithLabelValues(reason).Inc()
}

func (s *Selector) evaluate(ctx context.Context, sel *selection, item model.QueueItem) (*Candidate, error) {
	log := s.logger().With(zap.Int64("item_id", item.ID), zap.Int64("account_id", item.AccountID))

	if reason, ok := sel.blocked[item.AccountID]; ok {
		s.block(reason)
		return nil, nil
	}

	campaign, err := s.campaign(ctx, sel, item.CampaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.IsActive() {
		s.block("campaign_" + campaign.Status)
		return nil, nil
	}

	prospect, err := s.Prospects.GetByID(ctx, item.ProspectID)
	if err != nil {
		return nil, err
	}
	if model.IsStopStatus(prospect.Status) {
		n, err := s.Queue.CancelPendingForProspect(ctx, prospect.ID, fmt.Sprintf("Prospect %s - sequence stopped", prospect.Status))
		if err != nil {
			return nil, err
		}
		log.Info("cancelled items of stopped prospect", zap.Int64("prospect_id", prospect.ID), zap.Int64("cancelled", n))
		s.block("prospect_stopped")
		return nil, nil
	}
	if item.RequiresConnection && !prospect.CanReceiveFollowUp() {
		if err := s.Queue.Postpone(ctx, item.ID, sel.now.Add(AwaitingConnectionDelay), awaitingConnectionNote); err != nil {
			return nil, err
		}
		s.block("awaiting_connection")
		return nil, nil
	}

	verdict := s.calendar().Evaluate(sel.now, ScheduleSettings(campaign, s.Hours))
	if !verdict.Allowed {
		sel.blocked[item.AccountID] = verdict.Reason
		log.Debug("account outside send window", zap.String("reason", verdict.Reason), zap.Time("local", verdict.Local))
		s.block(verdict.Reason)
		return nil, nil
	}

	class := model.ClassOf(item.MessageType)
	limits := s.Limits.WithDailyOverride(class, campaign.DailyLimit)
	key := classKey{accountID: item.AccountID, class: class}
	if limits != s.Limits {
		key.campaignID = campaign.ID
	}
	if reason, ok := sel.classBlocked[key]; ok {
		s.block(reason)
		return nil, nil
	}

	history, err := s.history(ctx, sel, item.AccountID)
	if err != nil {
		return nil, err
	}
	decision := ratelimit.Check(item.AccountID, class, history, sel.now, limits)
	if !decision.Allowed {
		if decision.Reason == ratelimit.ReasonSpacing {
			sel.blocked[item.AccountID] = string(decision.Reason)
		} else {
			sel.classBlocked[key] = string(decision.Reason)
		}
		log.Debug("rate limited", zap.String("reason", string(decision.Reason)), zap.String("detail", decision.Detail))
		s.block(string(decision.Reason))
		return nil, nil
	}

	account, err := s.account(ctx, sel, item.AccountID)
	if err != nil {
		return nil, err
	}

	claimed, err := s.Queue.Claim(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		metrics.ClaimsLostTotal.Inc()
		log.Debug("claim lost to concurrent invocation")
		return nil, nil
	}

	return &Candidate{
		Item:      *claimed,
		Campaign:  campaign,
		Account:   account,
		Prospect:  prospect,
		Class:     class,
		Limits:    limits,
		SentToday: decision.Tally.Day,
	}, nil
}

func (s *Selector) campaign(ctx context.Context, sel *selection, id int64) (*model.Campaign, error) {
	if c, ok := sel.campaigns[id]; ok {
		return c, nil
	}
	c, err := s.Campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	sel.campaigns[id] = c
	return c, nil
}

func (s *Selector) account(ctx context.Context, sel *selection, id int64) (*model.Account, error) {
	if a, ok := sel.accounts[id]; ok {
		return a, nil
	}
	a, err := s.Accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	sel.accounts[id] = a
	return a, nil
}

func (s *Selector) history(ctx context.Context, sel *selection, accountID int64) ([]model.SendRecord, error) {
	if h, ok := sel.history[accountID]; ok {
		return h, nil
	}
	h, err := s.Queue.ListRecentSends(ctx, accountID, sel.now.Add(-historyWindow))
	if err != nil {
		return nil, err
	}
	sel.history[accountID] = h
	return h, nil
}

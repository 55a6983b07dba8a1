// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/schedule"
)

// FollowUpOffsets are the days after the first touch at which follow-ups
// are scheduled, one per follow-up template.
var FollowUpOffsets = []int{3, 8, 13, 18, 23}

// ProspectSpacing separates the first touches of consecutive prospects.
const ProspectSpacing = 5 * time.Minute

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ProspectRepo repository.ProspectRepositoryInterface
	QueueRepo    repository.QueueRepositoryInterface
	Calendar     *schedule.Calendar
	Hours        schedule.Settings
	Logger       *zap.Logger
	Now          func() time.Time
}

// Result struct for EnqueueCampaign
type EnqueueResult struct {
	CampaignID      int64 `json:"campaign_id"`
	ProspectsQueued int   `json:"prospects_queued"`
	ItemsCreated    int   `json:"items_created"`
	Skipped         int   `json:"skipped"`
}

type CampaignDetails struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	CampaignType   string         `json:"campaign_type"`
	Status         string         `json:"status"`
	AccountID      int64          `json:"account_id"`
	DailyLimit     *int           `json:"daily_limit,omitempty"`
	LastExecutedAt *time.Time     `json:"last_executed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      *time.Time     `json:"updated_at"`
	Stats          map[string]int `json:"stats"`
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *CampaignService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *CampaignService) calendar() *schedule.Calendar {
	if s.Calendar == nil {
		return schedule.DefaultCalendar()
	}
	return s.Calendar
}

func (s *CampaignService) CreateCampaign(ctx context.Context, c *model.Campaign) (*model.Campaign, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, fmt.Errorf("campaign name is required")
	}
	if c.AccountID == 0 {
		return nil, fmt.Errorf("campaign account is required")
	}
	switch c.CampaignType {
	case model.CampaignTypeConnector, model.CampaignTypeMessenger, model.CampaignTypeOpenInMail:
	case "":
		c.CampaignType = model.CampaignTypeConnector
	default:
		return nil, fmt.Errorf("unknown campaign type %q", c.CampaignType)
	}
	if len(c.FollowUpTemplates) > len(FollowUpOffsets) {
		return nil, fmt.Errorf("at most %d follow-up templates are supported", len(FollowUpOffsets))
	}
	if c.DailyLimit != nil && *c.DailyLimit < 0 {
		return nil, fmt.Errorf("daily limit cannot be negative")
	}
	c.Status = model.CampaignStatusDraft

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RenderPreview renders the first-touch template, or overrideTemplate when
// given, for one prospect.
func (s *CampaignService) RenderPreview(ctx context.Context, campaignID, prospectID int64, overrideTemplate *string) (string, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return "", err
	}
	prospect, err := s.ProspectRepo.GetByID(ctx, prospectID)
	if err != nil {
		return "", err
	}

	template := campaign.ConnectionTemplate
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	}
	if strings.TrimSpace(template) == "" {
		return "", fmt.Errorf("template cannot be empty")
	}
	return RenderTemplate(template, PersonalizationData(prospect)), nil
}

// EnqueueCampaign schedules the sequence of every approved prospect that has
// no queue items yet and activates the campaign. First touches are spaced
// ProspectSpacing apart starting at the next send window.
func (s *CampaignService) EnqueueCampaign(ctx context.Context, campaignID int64) (*EnqueueResult, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status == model.CampaignStatusCompleted {
		return nil, fmt.Errorf("campaign %d is %s: %w", campaignID, campaign.Status, appErrors.ErrInvalidState)
	}
	if strings.TrimSpace(campaign.ConnectionTemplate) == "" {
		return nil, fmt.Errorf("campaign %d has no first-touch template", campaignID)
	}

	prospects, err := s.ProspectRepo.ListApprovedForCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	settings := ScheduleSettings(campaign, s.Hours)
	slot, err := s.calendar().NextWindow(s.now(), settings)
	if err != nil {
		return nil, err
	}

	result := &EnqueueResult{CampaignID: campaignID}
	var items []*model.QueueItem
	for i := range prospects {
		p := &prospects[i]
		exists, err := s.QueueRepo.HasItemsForProspect(ctx, campaignID, p.ID)
		if err != nil {
			return nil, err
		}
		if exists {
			result.Skipped++
			continue
		}

		seq, err := s.sequence(campaign, p, slot, settings)
		if err != nil {
			return nil, err
		}
		items = append(items, seq...)
		result.ProspectsQueued++

		if slot, err = s.calendar().NextWindow(slot.Add(ProspectSpacing), settings); err != nil {
			return nil, err
		}
	}

	if len(items) > 0 {
		if err := s.QueueRepo.CreateItems(ctx, items); err != nil {
			return nil, err
		}
	}
	result.ItemsCreated = len(items)

	if campaign.Status != model.CampaignStatusActive {
		if err := s.CampaignRepo.UpdateStatus(ctx, campaignID, model.CampaignStatusActive); err != nil {
			return result, err
		}
	}

	s.logger().Info("campaign enqueued",
		zap.Int64("campaign_id", campaignID),
		zap.Int("prospects", result.ProspectsQueued),
		zap.Int("items", result.ItemsCreated),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (s *CampaignService) sequence(c *model.Campaign, p *model.Prospect, first time.Time, settings schedule.Settings) ([]*model.QueueItem, error) {
	data := PersonalizationData(p)
	firstType := model.MessageTypeConnectionRequest
	switch c.CampaignType {
	case model.CampaignTypeMessenger:
		firstType = model.MessageTypeMessage
	case model.CampaignTypeOpenInMail:
		firstType = model.MessageTypeOpenInMail
	}

	items := []*model.QueueItem{{
		CampaignID:   c.ID,
		ProspectID:   p.ID,
		AccountID:    c.AccountID,
		MessageType:  firstType,
		Message:      RenderTemplate(c.ConnectionTemplate, data),
		RecipientID:  p.RecipientID,
		ScheduledFor: first,
		Status:       model.QueueStatusPending,
	}}

	for n, tmpl := range c.FollowUpTemplates {
		if n >= len(FollowUpOffsets) {
			break
		}
		if strings.TrimSpace(tmpl) == "" {
			continue
		}
		at, err := s.calendar().NextWindow(first.AddDate(0, 0, FollowUpOffsets[n]), settings)
		if err != nil {
			return nil, err
		}
		items = append(items, &model.QueueItem{
			CampaignID:         c.ID,
			ProspectID:         p.ID,
			AccountID:          c.AccountID,
			MessageType:        model.FollowUpType(n + 1),
			Message:            RenderTemplate(tmpl, data),
			RecipientID:        p.RecipientID,
			ScheduledFor:       at,
			Status:             model.QueueStatusPending,
			RequiresConnection: c.CampaignType == model.CampaignTypeConnector,
		})
	}
	return items, nil
}

func (s *CampaignService) PauseCampaign(ctx context.Context, campaignID int64) error {
	return s.transition(ctx, campaignID, model.CampaignStatusActive, model.CampaignStatusPaused)
}

func (s *CampaignService) ResumeCampaign(ctx context.Context, campaignID int64) error {
	return s.transition(ctx, campaignID, model.CampaignStatusPaused, model.CampaignStatusActive)
}

func (s *CampaignService) transition(ctx context.Context, campaignID int64, from, to string) error {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status != from {
		return fmt.Errorf("campaign %d is %s, expected %s: %w", campaignID, campaign.Status, from, appErrors.ErrInvalidState)
	}
	if err := s.CampaignRepo.UpdateStatus(ctx, campaignID, to); err != nil {
		return err
	}
	s.logger().Info("campaign status changed", zap.Int64("campaign_id", campaignID), zap.String("from", from), zap.String("to", to))
	return nil
}

// StopProspect moves a prospect to a terminal status and cancels its
// pending items. It returns the number of cancelled items.
func (s *CampaignService) StopProspect(ctx context.Context, prospectID int64, status string) (int64, error) {
	if !model.IsStopStatus(status) || status == model.ProspectStatusReplied {
		return 0, fmt.Errorf("%q is not a stop status: %w", status, appErrors.ErrInvalidState)
	}
	if _, err := s.ProspectRepo.GetByID(ctx, prospectID); err != nil {
		return 0, err
	}
	if err := s.ProspectRepo.UpdateStatus(ctx, prospectID, status); err != nil {
		return 0, err
	}
	return s.QueueRepo.CancelPendingForProspect(ctx, prospectID, fmt.Sprintf("Prospect %s - sequence stopped", status))
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, campaignType, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, campaignType, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID int64) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	counts, err := s.QueueRepo.StatsByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	stats := map[string]int{
		"total":                    0,
		model.QueueStatusPending:    0,
		model.QueueStatusProcessing: 0,
		model.QueueStatusSent:       0,
		model.QueueStatusFailed:     0,
		model.QueueStatusSkipped:    0,
		model.QueueStatusCancelled:  0,
	}
	for status, n := range counts {
		if _, ok := stats[status]; ok {
			stats[status] = n
		}
		stats["total"] += n
	}

	return &CampaignDetails{
		ID:             campaign.ID,
		Name:           campaign.Name,
		CampaignType:   campaign.CampaignType,
		Status:         campaign.Status,
		AccountID:      campaign.AccountID,
		DailyLimit:     campaign.DailyLimit,
		LastExecutedAt: campaign.LastExecutedAt,
		CreatedAt:      campaign.CreatedAt,
		UpdatedAt:      campaign.UpdatedAt,
		Stats:          stats,
	}, nil
}

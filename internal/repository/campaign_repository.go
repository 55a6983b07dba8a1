package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

type CampaignRepositoryInterface interface {
	ListCampaigns(ctx context.Context, offset, limit int, campaignType, status string) ([]*model.Campaign, int, error)
	GetByID(ctx context.Context, id int64) (*model.Campaign, error)
	UpdateStatus(ctx context.Context, campaignID int64, status string) error
	MarkExecuted(ctx context.Context, campaignID int64, at time.Time) error
	Create(ctx context.Context, c *model.Campaign) error
}

type CampaignRepository struct {
	DB *sqlx.DB
}

const campaignColumns = `id, workspace_id, account_id, name, channel, campaign_type, status,
        country_code, timezone, working_hours_start, working_hours_end, skip_weekends, skip_holidays,
        daily_limit, connection_template, follow_up_templates, last_executed_at, created_at, updated_at`

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	if c.Channel == "" {
		c.Channel = model.AccountTypeLinkedIn
	}
	if c.FollowUpTemplates == nil {
		c.FollowUpTemplates = []string{}
	}
	query := `
        INSERT INTO campaigns
        (workspace_id, account_id, name, channel, campaign_type, status, country_code, timezone,
         working_hours_start, working_hours_end, skip_weekends, skip_holidays, daily_limit,
         connection_template, follow_up_templates)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        RETURNING id, created_at
    `
	return r.DB.QueryRowxContext(ctx, query,
		c.WorkspaceID, c.AccountID, c.Name, c.Channel, c.CampaignType, c.Status, c.CountryCode, c.Timezone,
		c.WorkingHoursStart, c.WorkingHoursEnd, c.SkipWeekends, c.SkipHolidays, c.DailyLimit,
		c.ConnectionTemplate, c.FollowUpTemplates,
	).Scan(&c.ID, &c.CreatedAt)
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, campaignID int64, status string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE campaigns SET status = $1, updated_at = NOW() WHERE id = $2`, status, campaignID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	return nil
}

func (r *CampaignRepository) MarkExecuted(ctx context.Context, campaignID int64, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE campaigns SET last_executed_at = $1 WHERE id = $2`, at, campaignID)
	return err
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	var c model.Campaign
	err := r.DB.GetContext(ctx, &c, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, campaignType, status string) ([]*model.Campaign, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if campaignType != "" {
		where += fmt.Sprintf(" AND campaign_type=$%d", argPos)
		args = append(args, campaignType)
		argPos++
	}
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.GetContext(ctx, &total, `SELECT COUNT(*) FROM campaigns`+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	campaigns := []*model.Campaign{}
	if err := r.DB.SelectContext(ctx, &campaigns, query, append(args, limit, offset)...); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)

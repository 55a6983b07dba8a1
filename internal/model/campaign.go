// internal/model/campaign.go
package model

import (
	"time"

	"github.com/lib/pq"
)

const (
	CampaignStatusDraft     = "draft"
	CampaignStatusActive    = "active"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
)

const (
	CampaignTypeConnector  = "connector"
	CampaignTypeMessenger  = "messenger"
	CampaignTypeOpenInMail = "open_inmail"
)

type Campaign struct {
	ID           int64  `db:"id" json:"id"`
	WorkspaceID  int64  `db:"workspace_id" json:"workspace_id"`
	AccountID    int64  `db:"account_id" json:"account_id"`
	Name         string `db:"name" json:"name"`
	Channel      string `db:"channel" json:"channel"`
	CampaignType string `db:"campaign_type" json:"campaign_type"`
	Status       string `db:"status" json:"status"`

	CountryCode       string `db:"country_code" json:"country_code"`
	Timezone          string `db:"timezone" json:"timezone"`
	WorkingHoursStart int    `db:"working_hours_start" json:"working_hours_start"`
	WorkingHoursEnd   int    `db:"working_hours_end" json:"working_hours_end"`
	SkipWeekends      bool   `db:"skip_weekends" json:"skip_weekends"`
	SkipHolidays      bool   `db:"skip_holidays" json:"skip_holidays"`
	DailyLimit        *int   `db:"daily_limit" json:"daily_limit,omitempty"`

	ConnectionTemplate string         `db:"connection_template" json:"connection_template"`
	FollowUpTemplates  pq.StringArray `db:"follow_up_templates" json:"follow_up_templates"`

	LastExecutedAt *time.Time `db:"last_executed_at" json:"last_executed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// IsActive reports whether queue items of the campaign may be dispatched.
func (c *Campaign) IsActive() bool {
	return c.Status == CampaignStatusActive
}

package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/outreach-engine/internal/model"
)

type DraftRepositoryInterface interface {
	CreateIfAbsent(ctx context.Context, d *model.ReplyDraft) (bool, error)
}

type DraftRepository struct {
	DB *sqlx.DB
}

// CreateIfAbsent inserts the draft unless one already exists for the same
// inbound message. It reports whether a row was written.
func (r *DraftRepository) CreateIfAbsent(ctx context.Context, d *model.ReplyDraft) (bool, error) {
	query := `
        INSERT INTO reply_drafts
        (workspace_id, campaign_id, prospect_id, inbound_message_id, inbound_message_text, inbound_message_at,
         channel, prospect_name, draft_text, approval_token, expires_at, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (inbound_message_id) DO NOTHING
        RETURNING id, created_at
    `
	err := r.DB.QueryRowxContext(ctx, query,
		d.WorkspaceID, d.CampaignID, d.ProspectID, d.InboundMessageID, d.InboundMessageText, d.InboundMessageAt,
		d.Channel, d.ProspectName, d.DraftText, d.ApprovalToken, d.ExpiresAt, d.Status,
	).Scan(&d.ID, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

var _ DraftRepositoryInterface = (*DraftRepository)(nil)

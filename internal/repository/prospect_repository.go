package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

// ProspectRepositoryInterface defines methods used by service
type ProspectRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.Prospect, error)
	Create(ctx context.Context, p *model.Prospect) error
	UpdateStatus(ctx context.Context, id int64, status string) error
	MarkContacted(ctx context.Context, id int64, status string, at time.Time, followUpDueAt *time.Time) error
	UpdateRecipient(ctx context.Context, id int64, recipientID string) error
	MarkReplied(ctx context.Context, id int64, at time.Time) (bool, error)
	SetLastProcessedMessage(ctx context.Context, id int64, messageID string) error
	ListReplyCandidates(ctx context.Context, statuses []string, repliedSince time.Time) ([]model.ReplyCandidate, error)
	ListApprovedForCampaign(ctx context.Context, campaignID int64) ([]model.Prospect, error)
	ListConnectionCandidates(ctx context.Context, limit int) ([]model.ReplyCandidate, error)
	MarkConnected(ctx context.Context, id int64, at, followUpDueAt time.Time) (bool, error)
	MarkDeclined(ctx context.Context, id int64) (bool, error)
}

// ProspectRepository is the concrete implementation
type ProspectRepository struct {
	DB *sqlx.DB
}

const prospectColumns = `p.id, p.campaign_id, p.first_name, p.last_name, p.company_name, p.title,
        p.recipient_id, p.status, p.contacted_at, p.responded_at, p.last_processed_message_id,
        p.follow_up_due_at, p.created_at, p.updated_at`

func (r *ProspectRepository) GetByID(ctx context.Context, id int64) (*model.Prospect, error) {
	var p model.Prospect
	err := r.DB.GetContext(ctx, &p, `SELECT `+prospectColumns+` FROM prospects p WHERE p.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewProspectNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProspectRepository) Create(ctx context.Context, p *model.Prospect) error {
	if p.Status == "" {
		p.Status = model.ProspectStatusPending
	}
	query := `
        INSERT INTO prospects (campaign_id, first_name, last_name, company_name, title, recipient_id, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at, updated_at
    `
	return r.DB.QueryRowxContext(ctx, query,
		p.CampaignID, p.FirstName, p.LastName, p.CompanyName, p.Title, p.RecipientID, p.Status,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *ProspectRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE prospects SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

// MarkContacted records a confirmed send. contacted_at keeps its first value;
// a nil followUpDueAt leaves the existing due date untouched.
func (r *ProspectRepository) MarkContacted(ctx context.Context, id int64, status string, at time.Time, followUpDueAt *time.Time) error {
	query := `
        UPDATE prospects
        SET status = $2, contacted_at = COALESCE(contacted_at, $3),
            follow_up_due_at = COALESCE($4, follow_up_due_at), updated_at = NOW()
        WHERE id = $1
    `
	_, err := r.DB.ExecContext(ctx, query, id, status, at, followUpDueAt)
	return err
}

func (r *ProspectRepository) UpdateRecipient(ctx context.Context, id int64, recipientID string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE prospects SET recipient_id = $2, updated_at = NOW() WHERE id = $1`, id, recipientID)
	return err
}

// MarkReplied flips the prospect to replied and clears its follow-up due date.
// It reports true only for the call that performed the transition.
func (r *ProspectRepository) MarkReplied(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `
        UPDATE prospects
        SET status = 'replied', responded_at = COALESCE(responded_at, $2),
            follow_up_due_at = NULL, updated_at = NOW()
        WHERE id = $1 AND status <> 'replied'
    `
	res, err := r.DB.ExecContext(ctx, query, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *ProspectRepository) SetLastProcessedMessage(ctx context.Context, id int64, messageID string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE prospects SET last_processed_message_id = $2, updated_at = NOW() WHERE id = $1`, id, messageID)
	return err
}

// ListReplyCandidates returns prospects awaiting a reply plus those that
// replied since repliedSince, with the sending account of their campaign.
func (r *ProspectRepository) ListReplyCandidates(ctx context.Context, statuses []string, repliedSince time.Time) ([]model.ReplyCandidate, error) {
	query := `
        SELECT ` + prospectColumns + `, c.workspace_id, c.account_id, a.provider_account_id
        FROM prospects p
        JOIN campaigns c ON c.id = p.campaign_id
        JOIN accounts a ON a.id = c.account_id
        WHERE p.status = ANY($1)
           OR (p.status = 'replied' AND p.responded_at >= $2)
        ORDER BY c.account_id, p.id
    `
	out := []model.ReplyCandidate{}
	if err := r.DB.SelectContext(ctx, &out, query, pq.Array(statuses), repliedSince); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ProspectRepository) ListApprovedForCampaign(ctx context.Context, campaignID int64) ([]model.Prospect, error) {
	out := []model.Prospect{}
	err := r.DB.SelectContext(ctx, &out,
		`SELECT `+prospectColumns+` FROM prospects p WHERE p.campaign_id = $1 AND p.status = $2 ORDER BY p.id`,
		campaignID, model.ProspectStatusApproved)
	return out, err
}

// ListConnectionCandidates returns prospects with an unanswered connection
// request, oldest request first, with the sending account of their campaign.
func (r *ProspectRepository) ListConnectionCandidates(ctx context.Context, limit int) ([]model.ReplyCandidate, error) {
	query := `
        SELECT ` + prospectColumns + `, c.workspace_id, c.account_id, a.provider_account_id
        FROM prospects p
        JOIN campaigns c ON c.id = p.campaign_id
        JOIN accounts a ON a.id = c.account_id
        WHERE p.status = 'connection_request_sent'
        ORDER BY p.contacted_at NULLS FIRST, p.id
        LIMIT $1
    `
	out := []model.ReplyCandidate{}
	if err := r.DB.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkConnected records an accepted connection request. It reports true only
// when the prospect was still waiting on it.
func (r *ProspectRepository) MarkConnected(ctx context.Context, id int64, at, followUpDueAt time.Time) (bool, error) {
	query := `
        UPDATE prospects
        SET status = 'connected', connection_accepted_at = $2,
            follow_up_due_at = $3, updated_at = NOW()
        WHERE id = $1 AND status = 'connection_request_sent'
    `
	res, err := r.DB.ExecContext(ctx, query, id, at, followUpDueAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkDeclined flips a prospect whose request vanished without acceptance.
func (r *ProspectRepository) MarkDeclined(ctx context.Context, id int64) (bool, error) {
	query := `
        UPDATE prospects
        SET status = 'invitation_declined', follow_up_due_at = NULL, updated_at = NOW()
        WHERE id = $1 AND status = 'connection_request_sent'
    `
	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

var _ ProspectRepositoryInterface = (*ProspectRepository)(nil)

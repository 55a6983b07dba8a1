package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/outreach-engine/internal/model"
)

type QueueRepositoryInterface interface {
	FindDueItems(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error)
	Claim(ctx context.Context, id int64) (*model.QueueItem, error)
	Release(ctx context.Context, id int64) (bool, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time) error
	UpdateStatus(ctx context.Context, id int64, status, errMsg string) error
	Reschedule(ctx context.Context, id int64, at time.Time, errMsg string) error
	Postpone(ctx context.Context, id int64, at time.Time, note string) error
	UpdateRecipient(ctx context.Context, id int64, recipientID string) error
	ListRecentSends(ctx context.Context, accountID int64, since time.Time) ([]model.SendRecord, error)
	CancelPendingForProspect(ctx context.Context, prospectID int64, reason string) (int64, error)
	FailStaleProcessing(ctx context.Context, olderThan time.Time, reason string) (int64, error)

	// Enqueue and reporting
	CreateItems(ctx context.Context, items []*model.QueueItem) error
	HasItemsForProspect(ctx context.Context, campaignID, prospectID int64) (bool, error)
	StatsByCampaign(ctx context.Context, campaignID int64) (map[string]int, error)
}

type QueueRepository struct {
	DB *sqlx.DB
}

// queueColumns selects a send_queue row aliased q joined with its campaign c.
const queueColumns = `q.id, q.campaign_id, q.prospect_id, c.account_id, q.message_type, q.message,
        q.recipient_id, q.scheduled_for, q.status, q.error_message, q.sent_at,
        q.requires_connection, q.retry_count, q.created_at, q.updated_at`

// FindDueItems returns pending items whose scheduled time has passed, oldest first.
func (r *QueueRepository) FindDueItems(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	query := `
        SELECT ` + queueColumns + `
        FROM send_queue q
        JOIN campaigns c ON c.id = q.campaign_id
        WHERE q.status = 'pending' AND q.scheduled_for <= $1
        ORDER BY q.scheduled_for ASC, q.id ASC
        LIMIT $2
    `
	items := []model.QueueItem{}
	if err := r.DB.SelectContext(ctx, &items, query, now, limit); err != nil {
		return nil, fmt.Errorf("find due items: %w", err)
	}
	return items, nil
}

// Claim moves an item from pending to processing in a single conditional
// statement. A nil item with a nil error means another invocation owns it.
func (r *QueueRepository) Claim(ctx context.Context, id int64) (*model.QueueItem, error) {
	query := `
        UPDATE send_queue q
        SET status = 'processing', updated_at = NOW()
        FROM campaigns c
        WHERE q.id = $1 AND q.status = 'pending' AND c.id = q.campaign_id
        RETURNING ` + queueColumns
	var item model.QueueItem
	err := r.DB.GetContext(ctx, &item, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim item %d: %w", id, err)
	}
	return &item, nil
}

// Release returns a claimed item to pending. It reports false when the item
// was no longer processing.
func (r *QueueRepository) Release(ctx context.Context, id int64) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE send_queue SET status = 'pending', updated_at = NOW() WHERE id = $1 AND status = 'processing'`, id)
	if err != nil {
		return false, fmt.Errorf("release item %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *QueueRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	query := `
        UPDATE send_queue
        SET status = 'sent', sent_at = $2, error_message = '', updated_at = NOW()
        WHERE id = $1
    `
	_, err := r.DB.ExecContext(ctx, query, id, sentAt)
	return err
}

func (r *QueueRepository) UpdateStatus(ctx context.Context, id int64, status, errMsg string) error {
	query := `UPDATE send_queue SET status = $2, error_message = $3, updated_at = NOW() WHERE id = $1`
	_, err := r.DB.ExecContext(ctx, query, id, status, errMsg)
	return err
}

// Reschedule puts an item back to pending at a later time and counts the retry.
func (r *QueueRepository) Reschedule(ctx context.Context, id int64, at time.Time, errMsg string) error {
	query := `
        UPDATE send_queue
        SET status = 'pending', scheduled_for = $2, error_message = $3,
            retry_count = retry_count + 1, updated_at = NOW()
        WHERE id = $1
    `
	_, err := r.DB.ExecContext(ctx, query, id, at, errMsg)
	return err
}

// Postpone moves a pending item without counting a retry.
func (r *QueueRepository) Postpone(ctx context.Context, id int64, at time.Time, note string) error {
	query := `
        UPDATE send_queue
        SET scheduled_for = $2, error_message = $3, updated_at = NOW()
        WHERE id = $1 AND status = 'pending'
    `
	_, err := r.DB.ExecContext(ctx, query, id, at, note)
	return err
}

func (r *QueueRepository) UpdateRecipient(ctx context.Context, id int64, recipientID string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE send_queue SET recipient_id = $2, updated_at = NOW() WHERE id = $1`, id, recipientID)
	return err
}

// ListRecentSends returns the account's sends since the given time. Items
// still processing count as sends at their claim time, so an overlapping
// invocation sees them.
func (r *QueueRepository) ListRecentSends(ctx context.Context, accountID int64, since time.Time) ([]model.SendRecord, error) {
	query := `
        SELECT q.message_type, COALESCE(q.sent_at, q.updated_at) AS sent_at
        FROM send_queue q
        JOIN campaigns c ON c.id = q.campaign_id
        WHERE c.account_id = $1
          AND q.status IN ('sent', 'processing')
          AND COALESCE(q.sent_at, q.updated_at) >= $2
        ORDER BY COALESCE(q.sent_at, q.updated_at) DESC
    `
	sends := []model.SendRecord{}
	if err := r.DB.SelectContext(ctx, &sends, query, accountID, since); err != nil {
		return nil, fmt.Errorf("list sends for account %d: %w", accountID, err)
	}
	return sends, nil
}

// CancelPendingForProspect cancels only pending items; sent and in-flight rows are left alone.
func (r *QueueRepository) CancelPendingForProspect(ctx context.Context, prospectID int64, reason string) (int64, error) {
	query := `
        UPDATE send_queue
        SET status = 'cancelled', error_message = $2, updated_at = NOW()
        WHERE prospect_id = $1 AND status = 'pending'
    `
	res, err := r.DB.ExecContext(ctx, query, prospectID, reason)
	if err != nil {
		return 0, fmt.Errorf("cancel pending for prospect %d: %w", prospectID, err)
	}
	return res.RowsAffected()
}

// FailStaleProcessing fails items stuck in processing since before olderThan.
// Their provider outcome is unknown, so they are not retried.
func (r *QueueRepository) FailStaleProcessing(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	query := `
        UPDATE send_queue
        SET status = 'failed', error_message = $2, updated_at = NOW()
        WHERE status = 'processing' AND updated_at < $1
    `
	res, err := r.DB.ExecContext(ctx, query, olderThan, reason)
	if err != nil {
		return 0, fmt.Errorf("fail stale processing: %w", err)
	}
	return res.RowsAffected()
}

// CreateItems inserts all items in one transaction.
func (r *QueueRepository) CreateItems(ctx context.Context, items []*model.QueueItem) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	query := `
        INSERT INTO send_queue
        (campaign_id, prospect_id, message_type, message, recipient_id, scheduled_for, status, requires_connection)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at, updated_at
    `
	for _, it := range items {
		if it.Status == "" {
			it.Status = model.QueueStatusPending
		}
		row := tx.QueryRowxContext(ctx, query,
			it.CampaignID, it.ProspectID, it.MessageType, it.Message,
			it.RecipientID, it.ScheduledFor, it.Status, it.RequiresConnection)
		if err := row.Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return fmt.Errorf("insert queue item for prospect %d: %w", it.ProspectID, err)
		}
	}
	return tx.Commit()
}

func (r *QueueRepository) HasItemsForProspect(ctx context.Context, campaignID, prospectID int64) (bool, error) {
	var exists bool
	err := r.DB.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM send_queue WHERE campaign_id = $1 AND prospect_id = $2)`,
		campaignID, prospectID)
	return exists, err
}

func (r *QueueRepository) StatsByCampaign(ctx context.Context, campaignID int64) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM send_queue WHERE campaign_id = $1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{
		model.QueueStatusPending: 0,
		model.QueueStatusSent:    0,
		model.QueueStatusFailed:  0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

var _ QueueRepositoryInterface = (*QueueRepository)(nil)

package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/outreach-engine/internal/model"
)

type HistoryRepositoryInterface interface {
	Insert(ctx context.Context, h *model.HistoryRecord) error
}

// HistoryRepository writes the message_history audit trail.
type HistoryRepository struct {
	DB *sqlx.DB
}

func (r *HistoryRepository) Insert(ctx context.Context, h *model.HistoryRecord) error {
	query := `
        INSERT INTO message_history
        (queue_item_id, campaign_id, prospect_id, account_id, message_type, message, chat_id, sent_at)
        VALUES (:queue_item_id, :campaign_id, :prospect_id, :account_id, :message_type, :message, :chat_id, :sent_at)
        RETURNING id
    `
	rows, err := r.DB.NamedQueryContext(ctx, query, h)
	if err != nil {
		return err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&h.ID); err != nil {
			return err
		}
	}
	return rows.Err()
}

var _ HistoryRepositoryInterface = (*HistoryRepository)(nil)

package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
)

type AccountRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.Account, error)
	Create(ctx context.Context, a *model.Account) error
}

type AccountRepository struct {
	DB *sqlx.DB
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	var a model.Account
	err := r.DB.GetContext(ctx, &a, `
        SELECT id, workspace_id, provider_account_id, display_name, account_type, created_at
        FROM accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewAccountNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts the account, or returns the existing row for the same provider account.
func (r *AccountRepository) Create(ctx context.Context, a *model.Account) error {
	if a.AccountType == "" {
		a.AccountType = model.AccountTypeLinkedIn
	}
	query := `
        INSERT INTO accounts (workspace_id, provider_account_id, display_name, account_type)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (provider_account_id) DO UPDATE SET display_name = EXCLUDED.display_name
        RETURNING id, created_at
    `
	return r.DB.QueryRowxContext(ctx, query, a.WorkspaceID, a.ProviderAccountID, a.DisplayName, a.AccountType).
		Scan(&a.ID, &a.CreatedAt)
}

var _ AccountRepositoryInterface = (*AccountRepository)(nil)

package model

import "time"

const (
	AccountTypeLinkedIn = "linkedin"
	AccountTypeEmail    = "email"
)

// Account is a sending identity connected through the messaging provider.
// Send counters are never stored here; they are derived from send_queue history.
type Account struct {
	ID                int64     `db:"id" json:"id"`
	WorkspaceID       int64     `db:"workspace_id" json:"workspace_id"`
	ProviderAccountID string    `db:"provider_account_id" json:"provider_account_id"`
	DisplayName       string    `db:"display_name" json:"display_name"`
	AccountType       string    `db:"account_type" json:"account_type"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

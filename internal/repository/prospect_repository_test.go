package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

var prospectRowColumns = []string{
	"id", "campaign_id", "first_name", "last_name", "company_name", "title",
	"recipient_id", "status", "contacted_at", "responded_at", "last_processed_message_id",
	"follow_up_due_at", "created_at", "updated_at",
}

func TestProspectRepository_GetByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := &repository.ProspectRepository{DB: db}

	mock.ExpectQuery(`FROM prospects p WHERE p.id = \$1`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(prospectRowColumns))

	_, err := repo.GetByID(context.Background(), 9)
	assert.True(t, appErrors.IsNotFound(err))
}

func TestProspectRepository_MarkReplied(t *testing.T) {
	db, mock := newMock(t)
	repo := &repository.ProspectRepository{DB: db}
	at := time.Date(2025, 7, 9, 14, 0, 0, 0, time.UTC)

	mock.ExpectExec(`SET status = 'replied'.*follow_up_due_at = NULL.*status <> 'replied'`).
		WithArgs(int64(4), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'replied'`).
		WithArgs(int64(4), at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := repo.MarkReplied(context.Background(), 4, at)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = repo.MarkReplied(context.Background(), 4, at)
	require.NoError(t, err)
	assert.False(t, first)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProspectRepository_ListReplyCandidates(t *testing.T) {
	db, mock := newMock(t)
	repo := &repository.ProspectRepository{DB: db}
	since := time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC)
	created := since.Add(-time.Hour)

	cols := append(append([]string{}, prospectRowColumns...), "workspace_id", "account_id", "provider_account_id")
	mock.ExpectQuery(`JOIN accounts a ON a.id = c.account_id.*p.status = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg(), since).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(1), int64(2), "Ada", "Lovelace", "Engines", "CTO",
			"ACoAAA1", "messaging", nil, nil, "", nil, created, created,
			int64(77), int64(3), "acc_unipile_1"))

	out, err := repo.ListReplyCandidates(context.Background(), model.AwaitingReplyStatuses, since)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Ada Lovelace", out[0].FullName())
	assert.Equal(t, int64(3), out[0].AccountID)
	assert.Equal(t, "acc_unipile_1", out[0].ProviderAccountID)
}

func TestProspectRepository_ListConnectionCandidates(t *testing.T) {
	db, mock := newMock(t)
	repo := &repository.ProspectRepository{DB: db}
	contacted := time.Date(2025, 7, 7, 10, 0, 0, 0, time.UTC)

	cols := append(append([]string{}, prospectRowColumns...), "workspace_id", "account_id", "provider_account_id")
	mock.ExpectQuery(`WHERE p.status = 'connection_request_sent'\s+ORDER BY p.contacted_at NULLS FIRST, p.id\s+LIMIT \$1`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(1), int64(2), "Ada", "Lovelace", "Engines", "CTO",
			"ACoAAA1", "connection_request_sent", contacted, nil, "", nil, contacted, contacted,
			int64(77), int64(3), "acc_unipile_1"))

	out, err := repo.ListConnectionCandidates(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "acc_unipile_1", out[0].ProviderAccountID)
	require.NotNil(t, out[0].ContactedAt)
	assert.True(t, contacted.Equal(*out[0].ContactedAt))
}

func TestProspectRepository_MarkConnectedOnlyFromPendingRequest(t *testing.T) {
	db, mock := newMock(t)
	repo := &repository.ProspectRepository{DB: db}
	at := time.Date(2025, 7, 9, 14, 0, 0, 0, time.UTC)
	due := at.Add(24 * time.Hour)

	mock.ExpectExec(`SET status = 'connected', connection_accepted_at = \$2.*status = 'connection_request_sent'`).
		WithArgs(int64(4), at, due).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'connected'`).
		WithArgs(int64(4), at, due).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkConnected(context.Background(), 4, at, due)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkConnected(context.Background(), 4, at, due)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProspectRepository_MarkDeclined(t *testing.T) {
	db, mock := newMock(t)
	repo := &repository.ProspectRepository{DB: db}

	mock.ExpectExec(`SET status = 'invitation_declined'.*status = 'connection_request_sent'`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkDeclined(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDraftRepository_CreateIfAbsent(t *testing.T) {
	db, mock := newMock(t)
	repo := &repository.DraftRepository{DB: db}
	at := time.Date(2025, 7, 9, 14, 0, 0, 0, time.UTC)
	d := &model.ReplyDraft{InboundMessageID: "msg-1", InboundMessageAt: at, ExpiresAt: at.Add(48 * time.Hour)}

	mock.ExpectQuery(`INSERT INTO reply_drafts.*ON CONFLICT \(inbound_message_id\) DO NOTHING`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(5, at))
	mock.ExpectQuery(`INSERT INTO reply_drafts`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))

	created, err := repo.CreateIfAbsent(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(5), d.ID)

	created, err = repo.CreateIfAbsent(context.Background(), d)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepository_UpdateStatusNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := &repository.CampaignRepository{DB: db}

	mock.ExpectExec(`UPDATE campaigns SET status = \$1`).
		WithArgs("paused", int64(12)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), 12, model.CampaignStatusPaused)
	assert.True(t, appErrors.IsNotFound(err))
}

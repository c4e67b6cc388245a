package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
)

func TestIncrementUnread_LocksRowAndReturnsNewCount(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "prospects" WHERE id = \$1.*FOR UPDATE`).
		WithArgs(int64(11), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "unread_count", "has_unread_sms"}).
			AddRow(11, 4, true))
	mock.ExpectExec(`UPDATE "prospects" SET`).
		WithArgs(true, 5, AnyTime{}, int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	count, err := repo.IncrementUnread(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestIncrementUnread_ProspectMissing(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "prospects" WHERE id = \$1.*FOR UPDATE`).
		WithArgs(int64(99), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.IncrementUnread(ctx, 99)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPropagateOptOut_ReturnsAffectedRows(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE "prospects" SET`).
		WithArgs(true, AnyTime{}, int64(2), "2068887773", false).
		WillReturnResult(sqlmock.NewResult(0, 3))

	affected, err := repo.PropagateOptOut(ctx, 2, "2068887773")
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)
}

func TestFindProspectForInbound_FallsBackWithinCompany(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := context.Background()

	// Both the assigned-number match and the phone fallback carry the
	// company constraint; a prospect of another company never resolves.
	mock.ExpectQuery(`SELECT \* FROM "prospects" WHERE company_id = \$1 AND phone_raw = \$2 AND phone_number_id = \$3`).
		WithArgs(int64(3), "2068887773", int64(5), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT \* FROM "prospects" WHERE company_id = \$1 AND phone_raw = \$2`).
		WithArgs(int64(3), "2068887773", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "phone_raw"}).
			AddRow(8, 3, "2068887773"))

	prospect, err := repo.FindProspectForInbound(ctx, 3, "2068887773", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(8), prospect.ID)
	assert.Equal(t, int64(3), prospect.CompanyID)
}

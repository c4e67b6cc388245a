package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/hearthline/api/telephony-engine/internal/apperrors"
	"gitlab.com/hearthline/api/telephony-engine/internal/model"
)

func TestClaimAvailableNumber_WinsSecondCandidateAfterLostRace(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "relay_numbers" WHERE status = \$1 AND id NOT IN`).
		WithArgs(model.RelayStatusActive, int64(6), 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "phone", "status"}).
			AddRow(1, "9995550001", model.RelayStatusActive).
			AddRow(2, "9995550002", model.RelayStatusActive))
	// First CAS loses to a concurrent claim, second wins.
	mock.ExpectExec(`UPDATE "relay_numbers" SET`).
		WithArgs(model.RelayStatusPending, AnyTime{}, int64(1), model.RelayStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE "relay_numbers" SET`).
		WithArgs(model.RelayStatusPending, AnyTime{}, int64(2), model.RelayStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := repo.ClaimAvailableNumber(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(2), claimed.ID)
	assert.Equal(t, model.RelayStatusPending, claimed.Status)
}

func TestClaimAvailableNumber_PoolExhausted(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT \* FROM "relay_numbers" WHERE status = \$1 AND id NOT IN`).
		WithArgs(model.RelayStatusActive, int64(6), 10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.ClaimAvailableNumber(ctx, 6)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Contains(t, err.Error(), model.RelayErrNoAvailableNumbers)
}

func TestCountAgentLeases(t *testing.T) {
	repo, mock, teardown := newTestRepo(t)
	t.Cleanup(teardown)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT count\(\*\) FROM "prospect_relays" WHERE agent_profile_id = \$1`).
		WithArgs(int64(6)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(16))

	count, err := repo.CountAgentLeases(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(16), count)
}

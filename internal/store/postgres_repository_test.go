package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/score-service/internal/domain"
)

var (
	lockAccountSQL    = regexp.QuoteMeta(lockAccountScoreQuery)
	ledgerTotalsSQL   = `FROM account_scores s`
	openReferenceSQL  = regexp.QuoteMeta(openTransferReferenceExistsQuery)
	consumptionRefSQL = regexp.QuoteMeta(consumptionReferenceExistsQuery)
	insertTransferSQL = `INSERT INTO score_transfers`
	lockTransfersSQL  = `FROM score_transfers`
	reverseSQL        = regexp.QuoteMeta(reverseTransferQuery)
)

func setupRepositoryTest(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	repo := NewPostgresRepository(mockPool)
	repo.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	return repo, mockPool
}

func totalsRows(mockPool pgxmock.PgxPoolIface, origin, incoming, outgoing, consumed int64) *pgxmock.Rows {
	return mockPool.NewRows([]string{"score", "incoming", "outgoing", "consumed"}).
		AddRow(origin, incoming, outgoing, consumed)
}

func lockedRow(mockPool pgxmock.PgxPoolIface, id uuid.UUID) *pgxmock.Rows {
	return mockPool.NewRows([]string{"id"}).AddRow(id)
}

func existsRow(mockPool pgxmock.PgxPoolIface, exists bool) *pgxmock.Rows {
	return mockPool.NewRows([]string{"exists"}).AddRow(exists)
}

func TestPostgresRepository_FindAccountScore(t *testing.T) {
	repo, mockPool := setupRepositoryTest(t)
	id := uuid.New()
	now := time.Now()

	t.Run("Found", func(t *testing.T) {
		rows := mockPool.NewRows([]string{"id", "national_code", "account_number", "score", "account_type", "is_bulk_inserted", "inserted_at", "updated_at"}).
			AddRow(id, "0012345678", "1001", int64(1000), "manual", false, now, now)
		mockPool.ExpectQuery(regexp.QuoteMeta(findAccountScoreQuery)).
			WithArgs("0012345678", "1001").
			WillReturnRows(rows)

		account, err := repo.FindAccountScore(context.Background(), domain.AccountIdentity{NationalCode: " 0012345678 ", AccountNumber: "1001"})
		require.NoError(t, err)
		assert.Equal(t, id, account.ID)
		assert.Equal(t, int64(1000), account.Score)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mockPool.ExpectQuery(regexp.QuoteMeta(findAccountScoreQuery)).
			WithArgs("0012345678", "9999").
			WillReturnError(pgx.ErrNoRows)

		account, err := repo.FindAccountScore(context.Background(), domain.AccountIdentity{NationalCode: "0012345678", AccountNumber: "9999"})
		require.ErrorIs(t, err, domain.ErrNotFound)
		assert.Nil(t, account)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresRepository_GetLedgerTotals(t *testing.T) {
	repo, mockPool := setupRepositoryTest(t)
	id := uuid.New()

	mockPool.ExpectQuery(ledgerTotalsSQL).WithArgs(id).WillReturnRows(totalsRows(mockPool, 1000, 50, 200, 100))

	totals, err := repo.GetLedgerTotals(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.LedgerTotals{Origin: 1000, Incoming: 50, Outgoing: 200, Consumed: 100}, totals)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresRepository_CreateTransfer(t *testing.T) {
	from := uuid.New()
	to := uuid.New()
	ref := "TRX-1"

	t.Run("Success", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)
		createdAt := time.Now()

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(lockAccountSQL).WithArgs(from).WillReturnRows(lockedRow(mockPool, from))
		mockPool.ExpectQuery(openReferenceSQL).WithArgs(ref).WillReturnRows(existsRow(mockPool, false))
		mockPool.ExpectQuery(ledgerTotalsSQL).WithArgs(from).WillReturnRows(totalsRows(mockPool, 1000, 0, 0, 0))
		mockPool.ExpectQuery(insertTransferSQL).
			WithArgs(pgxmock.AnyArg(), from, to, int64(200), &ref, (*string)(nil)).
			WillReturnRows(mockPool.NewRows([]string{"created_at"}).AddRow(createdAt))
		mockPool.ExpectExec(regexp.QuoteMeta(insertTransferDescriptionQuery)).
			WithArgs(pgxmock.AnyArg(), "gift").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		record, err := repo.CreateTransfer(context.Background(), CreateTransferParams{
			FromScoreID:   from,
			ToScoreID:     to,
			Amount:        200,
			ReferenceCode: &ref,
			Description:   "gift",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(200), record.Score)
		assert.Equal(t, createdAt, record.CreatedAt)
		assert.Equal(t, "gift", record.Description)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("InsufficientScore", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(lockAccountSQL).WithArgs(from).WillReturnRows(lockedRow(mockPool, from))
		mockPool.ExpectQuery(ledgerTotalsSQL).WithArgs(from).WillReturnRows(totalsRows(mockPool, 1000, 0, 900, 0))
		mockPool.ExpectRollback()

		_, err := repo.CreateTransfer(context.Background(), CreateTransferParams{FromScoreID: from, ToScoreID: to, Amount: 200})
		require.ErrorIs(t, err, domain.ErrInsufficientScore)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("DuplicateReferenceBeforeInsert", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(lockAccountSQL).WithArgs(from).WillReturnRows(lockedRow(mockPool, from))
		mockPool.ExpectQuery(openReferenceSQL).WithArgs(ref).WillReturnRows(existsRow(mockPool, true))
		mockPool.ExpectRollback()

		_, err := repo.CreateTransfer(context.Background(), CreateTransferParams{FromScoreID: from, ToScoreID: to, Amount: 10, ReferenceCode: &ref})
		require.ErrorIs(t, err, domain.ErrDuplicateReference)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("UniqueViolationOnInsert", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(lockAccountSQL).WithArgs(from).WillReturnRows(lockedRow(mockPool, from))
		mockPool.ExpectQuery(openReferenceSQL).WithArgs(ref).WillReturnRows(existsRow(mockPool, false))
		mockPool.ExpectQuery(ledgerTotalsSQL).WithArgs(from).WillReturnRows(totalsRows(mockPool, 1000, 0, 0, 0))
		mockPool.ExpectQuery(insertTransferSQL).
			WithArgs(pgxmock.AnyArg(), from, to, int64(10), &ref, (*string)(nil)).
			WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
		mockPool.ExpectRollback()

		_, err := repo.CreateTransfer(context.Background(), CreateTransferParams{FromScoreID: from, ToScoreID: to, Amount: 10, ReferenceCode: &ref})
		require.ErrorIs(t, err, domain.ErrDuplicateReference)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("MissingReceiver", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(lockAccountSQL).WithArgs(from).WillReturnRows(lockedRow(mockPool, from))
		mockPool.ExpectQuery(ledgerTotalsSQL).WithArgs(from).WillReturnRows(totalsRows(mockPool, 1000, 0, 0, 0))
		mockPool.ExpectQuery(insertTransferSQL).
			WithArgs(pgxmock.AnyArg(), from, to, int64(10), (*string)(nil), (*string)(nil)).
			WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})
		mockPool.ExpectRollback()

		_, err := repo.CreateTransfer(context.Background(), CreateTransferParams{FromScoreID: from, ToScoreID: to, Amount: 10})
		require.ErrorIs(t, err, domain.ErrReceiverNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("RejectsSelfTransferWithoutQuery", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)

		_, err := repo.CreateTransfer(context.Background(), CreateTransferParams{FromScoreID: from, ToScoreID: from, Amount: 10})
		require.ErrorIs(t, err, domain.ErrValidationFailed)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresRepository_ReverseTransfers(t *testing.T) {
	ref := "TRX-9"
	sender := uuid.New()
	receiver := uuid.New()
	first := uuid.New()
	second := uuid.New()
	created := time.Now().Add(-time.Hour)

	lockedTransfers := func(mockPool pgxmock.PgxPoolIface) *pgxmock.Rows {
		return mockPool.NewRows([]string{"id", "from_score_id", "to_score_id", "score", "reference_code", "reversed_score", "reversed_at", "created_at"}).
			AddRow(first, sender, receiver, int64(100), &ref, int64(60), (*time.Time)(nil), created).
			AddRow(second, sender, receiver, int64(100), &ref, int64(0), (*time.Time)(nil), created.Add(time.Minute))
	}

	t.Run("SpreadsOldestFirst", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(lockTransfersSQL).WithArgs(ref).WillReturnRows(lockedTransfers(mockPool))
		mockPool.ExpectQuery(lockAccountSQL).WithArgs(receiver).WillReturnRows(lockedRow(mockPool, receiver))
		mockPool.ExpectQuery(ledgerTotalsSQL).WithArgs(receiver).WillReturnRows(totalsRows(mockPool, 0, 140, 0, 0))
		mockPool.ExpectExec(reverseSQL).WithArgs(first, int64(40), pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectExec(reverseSQL).WithArgs(second, int64(30), pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()

		result, err := repo.ReverseTransfers(context.Background(), ref, 70)
		require.NoError(t, err)
		assert.Equal(t, int64(70), result.Reversed)
		assert.Equal(t, int64(70), result.Remaining)
		require.Len(t, result.Transfers, 2)
		assert.Equal(t, int64(100), result.Transfers[0].ReversedScore)
		assert.Equal(t, int64(30), result.Transfers[1].ReversedScore)
		assert.NotNil(t, result.Transfers[1].ReversedAt)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("ExceedsRemaining", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(lockTransfersSQL).WithArgs(ref).WillReturnRows(lockedTransfers(mockPool))
		mockPool.ExpectRollback()

		_, err := repo.ReverseTransfers(context.Background(), ref, 141)
		require.ErrorIs(t, err, domain.ErrValidationFailed)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("ReceiverAlreadySpent", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(lockTransfersSQL).WithArgs(ref).WillReturnRows(lockedTransfers(mockPool))
		mockPool.ExpectQuery(lockAccountSQL).WithArgs(receiver).WillReturnRows(lockedRow(mockPool, receiver))
		mockPool.ExpectQuery(ledgerTotalsSQL).WithArgs(receiver).WillReturnRows(totalsRows(mockPool, 0, 140, 0, 120))
		mockPool.ExpectRollback()

		_, err := repo.ReverseTransfers(context.Background(), ref, 70)
		require.ErrorIs(t, err, domain.ErrInsufficientScore)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("UnknownReference", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(lockTransfersSQL).WithArgs("nope").
			WillReturnRows(mockPool.NewRows([]string{"id", "from_score_id", "to_score_id", "score", "reference_code", "reversed_score", "reversed_at", "created_at"}))
		mockPool.ExpectRollback()

		_, err := repo.ReverseTransfers(context.Background(), "nope", 1)
		require.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresRepository_CreateConsumption(t *testing.T) {
	scoreID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)
		now := time.Now()

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(lockAccountSQL).WithArgs(scoreID).WillReturnRows(lockedRow(mockPool, scoreID))
		mockPool.ExpectQuery(consumptionRefSQL).WithArgs("CNS-1").WillReturnRows(existsRow(mockPool, false))
		mockPool.ExpectQuery(ledgerTotalsSQL).WithArgs(scoreID).WillReturnRows(totalsRows(mockPool, 500, 0, 0, 0))
		mockPool.ExpectQuery(`INSERT INTO score_consumptions`).
			WithArgs(pgxmock.AnyArg(), scoreID, int64(300), "CNS-1", "0101", "P-7").
			WillReturnRows(mockPool.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mockPool.ExpectExec(`INSERT INTO score_consumption_descriptions`).
			WithArgs("CNS-1", "loan fee").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		record, err := repo.CreateConsumption(context.Background(), &domain.ConsumptionRecord{
			ScoreID:       scoreID,
			Score:         300,
			ReferenceCode: "CNS-1",
			Description:   "loan fee",
			BranchCode:    "0101",
			PersonalCode:  "P-7",
		})
		require.NoError(t, err)
		assert.False(t, record.Status)
		assert.NotEqual(t, uuid.Nil, record.ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("InsufficientUsable", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(lockAccountSQL).WithArgs(scoreID).WillReturnRows(lockedRow(mockPool, scoreID))
		mockPool.ExpectQuery(consumptionRefSQL).WithArgs("CNS-2").WillReturnRows(existsRow(mockPool, false))
		mockPool.ExpectQuery(ledgerTotalsSQL).WithArgs(scoreID).WillReturnRows(totalsRows(mockPool, 500, 0, 0, 300))
		mockPool.ExpectRollback()

		_, err := repo.CreateConsumption(context.Background(), &domain.ConsumptionRecord{ScoreID: scoreID, Score: 300, ReferenceCode: "CNS-2"})
		require.ErrorIs(t, err, domain.ErrInsufficientScore)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresRepository_SettleConsumptions(t *testing.T) {
	columns := []string{"id", "score_id", "score", "reference_code", "description", "branch_code", "personal_code", "status", "created_at", "updated_at"}
	scoreID := uuid.New()
	now := time.Now()

	t.Run("AcceptOwnedPending", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(`FROM score_consumptions`).WithArgs("CNS-1").
			WillReturnRows(mockPool.NewRows(columns).AddRow(uuid.New(), scoreID, int64(300), "CNS-1", "", "0101", "P-7", false, now, now))
		mockPool.ExpectExec(regexp.QuoteMeta(acceptConsumptionsQuery)).WithArgs("CNS-1", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()

		records, err := repo.AcceptConsumptions(context.Background(), "CNS-1", "0101")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.True(t, records[0].Status)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("CancelOtherBranchForbidden", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(`FROM score_consumptions`).WithArgs("CNS-1").
			WillReturnRows(mockPool.NewRows(columns).AddRow(uuid.New(), scoreID, int64(300), "CNS-1", "", "0101", "P-7", false, now, now))
		mockPool.ExpectRollback()

		_, err := repo.CancelConsumptions(context.Background(), "CNS-1", "0202")
		require.ErrorIs(t, err, domain.ErrForbidden)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("CancelAcceptedIsNotFound", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(`FROM score_consumptions`).WithArgs("CNS-1").
			WillReturnRows(mockPool.NewRows(columns).AddRow(uuid.New(), scoreID, int64(300), "CNS-1", "", "0101", "P-7", true, now, now))
		mockPool.ExpectRollback()

		_, err := repo.CancelConsumptions(context.Background(), "CNS-1", "0101")
		require.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("CancelDeletesRowsAndDescription", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)

		mockPool.ExpectBegin()
		mockPool.ExpectQuery(`FROM score_consumptions`).WithArgs("CNS-1").
			WillReturnRows(mockPool.NewRows(columns).AddRow(uuid.New(), scoreID, int64(300), "CNS-1", "", "0101", "P-7", false, now, now))
		mockPool.ExpectExec(regexp.QuoteMeta(deleteConsumptionsQuery)).WithArgs("CNS-1").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mockPool.ExpectExec(regexp.QuoteMeta(deleteConsumptionDescriptionQuery)).WithArgs("CNS-1").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mockPool.ExpectCommit()

		records, err := repo.CancelConsumptions(context.Background(), "CNS-1", "0101")
		require.NoError(t, err)
		assert.Len(t, records, 1)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresRepository_ReferenceExistsUnknownNamespace(t *testing.T) {
	repo, _ := setupRepositoryTest(t)

	_, err := repo.ReferenceExists(context.Background(), domain.ReferenceNamespace("other"), "x")
	require.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestPostgresRepository_ListTransfersClampsLimit(t *testing.T) {
	repo, mockPool := setupRepositoryTest(t)
	id := uuid.New()

	mockPool.ExpectQuery(`LIMIT \$2 OFFSET \$3`).WithArgs(id, 100, 0).
		WillReturnRows(mockPool.NewRows([]string{"id", "from_score_id", "to_score_id", "score", "reference_code", "description", "reversed_score", "reversed_at", "created_at"}))

	transfers, err := repo.ListTransfersByAccount(context.Background(), id, domain.TransferListOptions{Limit: 500, Offset: -3})
	require.NoError(t, err)
	assert.Empty(t, transfers)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPlanReversal(t *testing.T) {
	a := domain.TransferRecord{ID: uuid.New(), Score: 50, ReversedScore: 50}
	b := domain.TransferRecord{ID: uuid.New(), Score: 80, ReversedScore: 10}
	c := domain.TransferRecord{ID: uuid.New(), Score: 40}

	plan := planReversal([]domain.TransferRecord{a, b, c}, 90)
	assert.Equal(t, map[uuid.UUID]int64{b.ID: 70, c.ID: 20}, plan)
}

func TestMigrationURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/score", MigrationURL("postgres://u:p@db:5432/score"))
	assert.Equal(t, "pgx5://u@db/score?sslmode=disable", MigrationURL("postgresql://u@db/score?sslmode=disable"))
	assert.Equal(t, "pgx5://already", MigrationURL("pgx5://already"))
}

func TestMapTransferWriteErrorPassesThrough(t *testing.T) {
	base := errors.New("boom")
	err := mapTransferWriteError(base, nil)
	assert.ErrorIs(t, err, base)
	assert.ErrorIs(t, err, domain.ErrInternal)
	assert.NotErrorIs(t, err, domain.ErrDuplicateReference)
}

func TestPostgresRepository_StorageFailuresAreInternal(t *testing.T) {
	connErr := errors.New("connection reset by peer")

	t.Run("Begin", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)
		mockPool.ExpectBegin().WillReturnError(connErr)

		_, err := repo.CreateTransfer(context.Background(), CreateTransferParams{FromScoreID: uuid.New(), ToScoreID: uuid.New(), Amount: 10})
		require.ErrorIs(t, err, domain.ErrInternal)
		assert.ErrorIs(t, err, connErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Query", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)
		mockPool.ExpectQuery(`WHERE t.reference_code = \$1`).WithArgs("TRX-1").WillReturnError(connErr)

		_, err := repo.FindTransfersByReference(context.Background(), "TRX-1")
		require.ErrorIs(t, err, domain.ErrInternal)
		assert.ErrorIs(t, err, connErr)
	})

	t.Run("Scan", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)
		mockPool.ExpectQuery(regexp.QuoteMeta(findAccountScoreQuery)).WithArgs("1", "A").WillReturnError(connErr)

		_, err := repo.FindAccountScore(context.Background(), domain.AccountIdentity{NationalCode: "1", AccountNumber: "A"})
		require.ErrorIs(t, err, domain.ErrInternal)
		assert.NotErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Commit", func(t *testing.T) {
		repo, mockPool := setupRepositoryTest(t)
		scoreID := uuid.New()
		mockPool.ExpectBegin()
		mockPool.ExpectQuery(`FROM score_consumptions`).WithArgs("CNS-1").
			WillReturnRows(mockPool.NewRows([]string{"id", "score_id", "score", "reference_code", "description", "branch_code", "personal_code", "status", "created_at", "updated_at"}).
				AddRow(uuid.New(), scoreID, int64(100), "CNS-1", "", "0101", "P-7", false, time.Now(), time.Now()))
		mockPool.ExpectExec(regexp.QuoteMeta(acceptConsumptionsQuery)).WithArgs("CNS-1", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit().WillReturnError(connErr)

		_, err := repo.AcceptConsumptions(context.Background(), "CNS-1", "0101")
		require.ErrorIs(t, err, domain.ErrInternal)
	})
}

func TestAccountLocksLeaveForeignKeyChecksFree(t *testing.T) {
	// FOR UPDATE would block the KEY SHARE lock taken by the receiver's foreign-key check.
	for _, query := range []string{lockAccountScoreQuery, lockAccountScoreByIdentityQuery, lockTransfersByReferenceQuery} {
		assert.Contains(t, query, "FOR NO KEY UPDATE")
		assert.NotRegexp(t, `FOR UPDATE`, query)
	}
}

func TestTransferDescriptionsFollowTheTransferRow(t *testing.T) {
	assert.Contains(t, transferSelect, "d.transfer_id = t.id")
	assert.NotContains(t, insertTransferDescriptionQuery, "ON CONFLICT")
}

/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL for the score ledger: account score origins, transfers,
 * consumptions and their description side tables.
 *
 * Every mutating method runs in a single transaction. Debits lock the debited
 * account score row with `SELECT ... FOR NO KEY UPDATE` before the balance is re-derived,
 * so two concurrent debits against one account serialize instead of both passing a
 * stale check. Reference-code reservation is the partial unique index hit by the
 * insert inside that same transaction. The lock mode leaves foreign-key checks free, so
 * transfers running in opposite directions between two accounts do not deadlock.
 *
 * Driver and transaction failures are wrapped with domain.ErrInternal.
 *
 * @dependencies
 * - context, errors, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/transfa/score-service/internal/domain"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// DB is the subset of *pgxpool.Pool used by the repository.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// querier is satisfied by both DB and pgx.Tx so read helpers can run inside or outside a
// transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	accountScoreColumns = `id, national_code, account_number, score, account_type, is_bulk_inserted, inserted_at, updated_at`

	findAccountScoreQuery = `SELECT ` + accountScoreColumns + ` FROM account_scores WHERE national_code = $1 AND account_number = $2`

	lockAccountScoreByIdentityQuery = `SELECT ` + accountScoreColumns + ` FROM account_scores WHERE national_code = $1 AND account_number = $2 FOR NO KEY UPDATE`

	lockAccountScoreQuery = `SELECT id FROM account_scores WHERE id = $1 FOR NO KEY UPDATE`

	insertAccountScoreQuery = `
		INSERT INTO account_scores (id, national_code, account_number, score, account_type, is_bulk_inserted)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (national_code, account_number) DO NOTHING
		RETURNING ` + accountScoreColumns

	updateAccountScoreQuery = `UPDATE account_scores SET score = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at`

	ledgerTotalsQuery = `
		SELECT s.score,
		       COALESCE((SELECT SUM(t.score - t.reversed_score) FROM score_transfers t WHERE t.to_score_id = s.id), 0)::bigint,
		       COALESCE((SELECT SUM(t.score - t.reversed_score) FROM score_transfers t WHERE t.from_score_id = s.id), 0)::bigint,
		       COALESCE((SELECT SUM(c.score) FROM score_consumptions c WHERE c.score_id = s.id), 0)::bigint
		FROM account_scores s
		WHERE s.id = $1`

	openTransferReferenceExistsQuery = `SELECT EXISTS (SELECT 1 FROM score_transfers WHERE reference_code = $1 AND reversed_score < score)`

	consumptionReferenceExistsQuery = `SELECT EXISTS (SELECT 1 FROM score_consumptions WHERE reference_code = $1)`

	insertTransferQuery = `
		INSERT INTO score_transfers (id, from_score_id, to_score_id, score, reference_code, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	insertTransferDescriptionQuery = `INSERT INTO score_transfer_descriptions (transfer_id, description) VALUES ($1, $2)`

	transferSelect = `
		SELECT t.id, t.from_score_id, t.to_score_id, t.score, t.reference_code,
		       COALESCE(d.description, t.description, '') AS description,
		       t.reversed_score, t.reversed_at, t.created_at
		FROM score_transfers t
		LEFT JOIN score_transfer_descriptions d ON d.transfer_id = t.id`

	findTransfersByReferenceQuery = transferSelect + `
		WHERE t.reference_code = $1
		ORDER BY t.created_at, t.id`

	listTransfersByAccountQuery = transferSelect + `
		WHERE t.from_score_id = $1 OR t.to_score_id = $1
		ORDER BY t.created_at DESC
		LIMIT $2 OFFSET $3`

	lockTransfersByReferenceQuery = `
		SELECT id, from_score_id, to_score_id, score, reference_code, reversed_score, reversed_at, created_at
		FROM score_transfers
		WHERE reference_code = $1
		ORDER BY created_at, id
		FOR NO KEY UPDATE`

	reverseTransferQuery = `UPDATE score_transfers SET reversed_score = reversed_score + $2, reversed_at = $3 WHERE id = $1`

	insertConsumptionQuery = `
		INSERT INTO score_consumptions (id, score_id, score, reference_code, branch_code, personal_code, status)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		RETURNING created_at, updated_at`

	insertConsumptionDescriptionQuery = `
		INSERT INTO score_consumption_descriptions (reference_code, description)
		VALUES ($1, $2)
		ON CONFLICT (reference_code) DO NOTHING`

	findConsumptionsByReferenceQuery = `
		SELECT c.id, c.score_id, c.score, c.reference_code, COALESCE(d.description, '') AS description,
		       c.branch_code, c.personal_code, c.status, c.created_at, c.updated_at
		FROM score_consumptions c
		LEFT JOIN score_consumption_descriptions d ON d.reference_code = c.reference_code
		WHERE c.reference_code = $1
		ORDER BY c.created_at, c.id`

	lockConsumptionsByReferenceQuery = `
		SELECT id, score_id, score, reference_code, '' AS description,
		       branch_code, personal_code, status, created_at, updated_at
		FROM score_consumptions
		WHERE reference_code = $1
		ORDER BY created_at, id
		FOR UPDATE`

	acceptConsumptionsQuery = `UPDATE score_consumptions SET status = TRUE, updated_at = $2 WHERE reference_code = $1 AND status = FALSE`

	deleteConsumptionsQuery = `DELETE FROM score_consumptions WHERE reference_code = $1 AND status = FALSE`

	deleteConsumptionDescriptionQuery = `DELETE FROM score_consumption_descriptions WHERE reference_code = $1`
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db  DB
	now func() time.Time
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ Repository = (*PostgresRepository)(nil)

// FindAccountScore retrieves the account score row of a party.
func (r *PostgresRepository) FindAccountScore(ctx context.Context, identity domain.AccountIdentity) (*domain.AccountScore, error) {
	identity = identity.Normalize()
	account, err := scanAccountScore(r.db.QueryRow(ctx, findAccountScoreQuery, identity.NationalCode, identity.AccountNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account score %s/%s: %w", identity.NationalCode, identity.AccountNumber, domain.ErrNotFound)
		}
		return nil, storeError("failed to find account score", err)
	}
	return account, nil
}

// UpsertAccountScore creates the account score row if the party has none yet. The boolean
// result reports whether a row was created; an existing row is returned untouched.
func (r *PostgresRepository) UpsertAccountScore(ctx context.Context, account *domain.AccountScore) (*domain.AccountScore, bool, error) {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	identity := account.Identity().Normalize()
	if account.AccountType == "" {
		account.AccountType = "manual"
	}

	created, err := scanAccountScore(r.db.QueryRow(ctx, insertAccountScoreQuery,
		account.ID,
		identity.NationalCode,
		identity.AccountNumber,
		account.Score,
		account.AccountType,
		account.IsBulkInserted,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, storeError("failed to insert account score", err)
	}

	existing, err := r.FindAccountScore(ctx, identity)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// CorrectAccountScore administratively replaces the origin score of a party. The correction is
// refused when it would leave the derived usable score negative.
func (r *PostgresRepository) CorrectAccountScore(ctx context.Context, identity domain.AccountIdentity, score int64) (*domain.AccountScore, error) {
	if score < 0 {
		return nil, fmt.Errorf("origin score must not be negative: %w", domain.ErrValidationFailed)
	}
	identity = identity.Normalize()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	account, err := scanAccountScore(tx.QueryRow(ctx, lockAccountScoreByIdentityQuery, identity.NationalCode, identity.AccountNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account score %s/%s: %w", identity.NationalCode, identity.AccountNumber, domain.ErrNotFound)
		}
		return nil, storeError("failed to lock account score", err)
	}

	totals, err := ledgerTotals(ctx, tx, account.ID)
	if err != nil {
		return nil, err
	}
	totals.Origin = score
	if usable, _ := domain.ComputeBalance(totals); usable < 0 {
		return nil, fmt.Errorf("correction leaves usable score at %d: %w", usable, domain.ErrInsufficientScore)
	}

	if err := tx.QueryRow(ctx, updateAccountScoreQuery, account.ID, score).Scan(&account.UpdatedAt); err != nil {
		return nil, storeError("failed to update account score", err)
	}
	account.Score = score

	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("failed to commit account score correction", err)
	}
	return account, nil
}

// GetLedgerTotals aggregates the ledger of one account score.
func (r *PostgresRepository) GetLedgerTotals(ctx context.Context, accountScoreID uuid.UUID) (domain.LedgerTotals, error) {
	return ledgerTotals(ctx, r.db, accountScoreID)
}

// ReferenceExists reports whether a reference code is already taken in the given namespace.
func (r *PostgresRepository) ReferenceExists(ctx context.Context, namespace domain.ReferenceNamespace, code string) (bool, error) {
	return referenceExists(ctx, r.db, namespace, code)
}

// CreateTransfer appends a transfer after re-validating reference uniqueness and the sender's
// transferable score under a row lock on the sender.
func (r *PostgresRepository) CreateTransfer(ctx context.Context, params CreateTransferParams) (*domain.TransferRecord, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive: %w", domain.ErrValidationFailed)
	}
	if params.FromScoreID == params.ToScoreID {
		return nil, fmt.Errorf("transfer parties must differ: %w", domain.ErrValidationFailed)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := lockAccountScore(ctx, tx, params.FromScoreID); err != nil {
		return nil, err
	}

	if params.ReferenceCode != nil {
		exists, err := referenceExists(ctx, tx, domain.ReferenceNamespaceTransfer, *params.ReferenceCode)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("transfer reference %q: %w", *params.ReferenceCode, domain.ErrDuplicateReference)
		}
	}

	totals, err := ledgerTotals(ctx, tx, params.FromScoreID)
	if err != nil {
		return nil, err
	}
	if _, transferable := domain.ComputeBalance(totals); transferable < params.Amount {
		return nil, fmt.Errorf("transferable score %d is below %d: %w", transferable, params.Amount, domain.ErrInsufficientScore)
	}

	record := &domain.TransferRecord{
		ID:            uuid.New(),
		FromScoreID:   params.FromScoreID,
		ToScoreID:     params.ToScoreID,
		Score:         params.Amount,
		ReferenceCode: params.ReferenceCode,
		Description:   params.Description,
	}

	// Long descriptions of referenced transfers live in the side table.
	var inlineDescription *string
	if params.ReferenceCode == nil && params.Description != "" {
		inlineDescription = &params.Description
	}

	err = tx.QueryRow(ctx, insertTransferQuery,
		record.ID,
		record.FromScoreID,
		record.ToScoreID,
		record.Score,
		record.ReferenceCode,
		inlineDescription,
	).Scan(&record.CreatedAt)
	if err != nil {
		return nil, mapTransferWriteError(err, params.ReferenceCode)
	}

	if params.ReferenceCode != nil && params.Description != "" {
		if _, err := tx.Exec(ctx, insertTransferDescriptionQuery, record.ID, params.Description); err != nil {
			return nil, storeError("failed to store transfer description", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("failed to commit transfer", err)
	}
	return record, nil
}

// FindTransfersByReference returns every transfer carrying the reference code, oldest first.
func (r *PostgresRepository) FindTransfersByReference(ctx context.Context, code string) ([]domain.TransferRecord, error) {
	rows, err := r.db.Query(ctx, findTransfersByReferenceQuery, code)
	if err != nil {
		return nil, storeError("failed to query transfers", err)
	}
	return collectTransfers(rows)
}

// ListTransfersByAccount pages the transfers where the account is sender or receiver.
func (r *PostgresRepository) ListTransfersByAccount(ctx context.Context, accountScoreID uuid.UUID, opts domain.TransferListOptions) ([]domain.TransferRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(ctx, listTransfersByAccountQuery, accountScoreID, limit, offset)
	if err != nil {
		return nil, storeError("failed to list transfers", err)
	}
	return collectTransfers(rows)
}

// ReverseTransfers reverses amount across the transfers of a reference code, oldest first.
// The receivers lose what the senders regain, so each receiver must still hold enough
// usable score to give the reversed part back.
func (r *PostgresRepository) ReverseTransfers(ctx context.Context, code string, amount int64) (*domain.ReversalResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reverse amount must be positive: %w", domain.ErrValidationFailed)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, lockTransfersByReferenceQuery, code)
	if err != nil {
		return nil, storeError("failed to lock transfers", err)
	}
	transfers, err := collectLockedTransfers(rows)
	if err != nil {
		return nil, err
	}
	if len(transfers) == 0 {
		return nil, fmt.Errorf("transfer reference %q: %w", code, domain.ErrNotFound)
	}

	var remaining int64
	for _, t := range transfers {
		remaining += t.Remaining()
	}
	if amount > remaining {
		return nil, fmt.Errorf("reverse amount %d exceeds reversible %d: %w", amount, remaining, domain.ErrValidationFailed)
	}

	plan := planReversal(transfers, amount)

	if err := lockReceivers(ctx, tx, transfers, plan); err != nil {
		return nil, err
	}

	now := r.now()
	for i := range transfers {
		take := plan[transfers[i].ID]
		if take == 0 {
			continue
		}
		if _, err := tx.Exec(ctx, reverseTransferQuery, transfers[i].ID, take, now); err != nil {
			return nil, storeError(fmt.Sprintf("failed to reverse transfer %s", transfers[i].ID), err)
		}
		transfers[i].ReversedScore += take
		reversedAt := now
		transfers[i].ReversedAt = &reversedAt
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("failed to commit reversal", err)
	}

	return &domain.ReversalResult{
		ReferenceCode: code,
		Reversed:      amount,
		Remaining:     remaining - amount,
		Transfers:     transfers,
	}, nil
}

// CreateConsumption appends a pending consumption after re-validating the account's usable
// score under a row lock.
func (r *PostgresRepository) CreateConsumption(ctx context.Context, record *domain.ConsumptionRecord) (*domain.ConsumptionRecord, error) {
	if record.Score <= 0 {
		return nil, fmt.Errorf("consumption amount must be positive: %w", domain.ErrValidationFailed)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := lockAccountScore(ctx, tx, record.ScoreID); err != nil {
		return nil, err
	}

	exists, err := referenceExists(ctx, tx, domain.ReferenceNamespaceConsumption, record.ReferenceCode)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("consumption reference %q: %w", record.ReferenceCode, domain.ErrDuplicateReference)
	}

	totals, err := ledgerTotals(ctx, tx, record.ScoreID)
	if err != nil {
		return nil, err
	}
	if usable, _ := domain.ComputeBalance(totals); usable < record.Score {
		return nil, fmt.Errorf("usable score %d is below %d: %w", usable, record.Score, domain.ErrInsufficientScore)
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.Status = false

	err = tx.QueryRow(ctx, insertConsumptionQuery,
		record.ID,
		record.ScoreID,
		record.Score,
		record.ReferenceCode,
		record.BranchCode,
		record.PersonalCode,
	).Scan(&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("consumption reference %q: %w", record.ReferenceCode, domain.ErrDuplicateReference)
		}
		return nil, storeError("failed to insert consumption", err)
	}

	if record.Description != "" {
		if _, err := tx.Exec(ctx, insertConsumptionDescriptionQuery, record.ReferenceCode, record.Description); err != nil {
			return nil, storeError("failed to store consumption description", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("failed to commit consumption", err)
	}
	return record, nil
}

// FindConsumptionsByReference returns the consumption rows of a reference code.
func (r *PostgresRepository) FindConsumptionsByReference(ctx context.Context, code string) ([]domain.ConsumptionRecord, error) {
	rows, err := r.db.Query(ctx, findConsumptionsByReferenceQuery, code)
	if err != nil {
		return nil, storeError("failed to query consumptions", err)
	}
	return collectConsumptions(rows)
}

// AcceptConsumptions finalizes every pending row of a reference code owned by branchCode.
func (r *PostgresRepository) AcceptConsumptions(ctx context.Context, code string, branchCode string) ([]domain.ConsumptionRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	records, err := lockOwnedConsumptions(ctx, tx, code, branchCode)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.IsAccepted() {
			return nil, fmt.Errorf("consumption reference %q already accepted: %w", code, domain.ErrValidationFailed)
		}
	}

	now := r.now()
	if _, err := tx.Exec(ctx, acceptConsumptionsQuery, code, now); err != nil {
		return nil, storeError("failed to accept consumption", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("failed to commit consumption acceptance", err)
	}

	for i := range records {
		records[i].Status = true
		records[i].UpdatedAt = now
	}
	return records, nil
}

// CancelConsumptions hard-deletes every pending row of a reference code owned by branchCode.
// Accepted consumptions cannot be cancelled and are reported as not found.
func (r *PostgresRepository) CancelConsumptions(ctx context.Context, code string, branchCode string) ([]domain.ConsumptionRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, storeError("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	records, err := lockOwnedConsumptions(ctx, tx, code, branchCode)
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.IsAccepted() {
			return nil, fmt.Errorf("pending consumption reference %q: %w", code, domain.ErrNotFound)
		}
	}

	if _, err := tx.Exec(ctx, deleteConsumptionsQuery, code); err != nil {
		return nil, storeError("failed to delete consumption", err)
	}
	if _, err := tx.Exec(ctx, deleteConsumptionDescriptionQuery, code); err != nil {
		return nil, storeError("failed to delete consumption description", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeError("failed to commit consumption cancellation", err)
	}
	return records, nil
}

func lockAccountScore(ctx context.Context, q querier, id uuid.UUID) error {
	var locked uuid.UUID
	if err := q.QueryRow(ctx, lockAccountScoreQuery, id).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("account score %s: %w", id, domain.ErrNotFound)
		}
		return storeError("failed to lock account score", err)
	}
	return nil
}

func ledgerTotals(ctx context.Context, q querier, accountScoreID uuid.UUID) (domain.LedgerTotals, error) {
	var totals domain.LedgerTotals
	err := q.QueryRow(ctx, ledgerTotalsQuery, accountScoreID).Scan(
		&totals.Origin,
		&totals.Incoming,
		&totals.Outgoing,
		&totals.Consumed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LedgerTotals{}, fmt.Errorf("account score %s: %w", accountScoreID, domain.ErrNotFound)
		}
		return domain.LedgerTotals{}, storeError("failed to aggregate ledger", err)
	}
	return totals, nil
}

func referenceExists(ctx context.Context, q querier, namespace domain.ReferenceNamespace, code string) (bool, error) {
	var query string
	switch namespace {
	case domain.ReferenceNamespaceTransfer:
		query = openTransferReferenceExistsQuery
	case domain.ReferenceNamespaceConsumption:
		query = consumptionReferenceExistsQuery
	default:
		return false, fmt.Errorf("unknown reference namespace %q: %w", namespace, domain.ErrValidationFailed)
	}

	var exists bool
	if err := q.QueryRow(ctx, query, code).Scan(&exists); err != nil {
		return false, storeError("failed to check reference code", err)
	}
	return exists, nil
}

// planReversal spreads amount over transfers oldest first. amount must not exceed the sum of
// their remainders.
func planReversal(transfers []domain.TransferRecord, amount int64) map[uuid.UUID]int64 {
	plan := make(map[uuid.UUID]int64, len(transfers))
	left := amount
	for _, t := range transfers {
		if left == 0 {
			break
		}
		take := t.Remaining()
		if take > left {
			take = left
		}
		if take == 0 {
			continue
		}
		plan[t.ID] = take
		left -= take
	}
	return plan
}

// lockReceivers locks every receiver touched by a reversal plan in id order and checks it can
// give back what it received.
func lockReceivers(ctx context.Context, tx pgx.Tx, transfers []domain.TransferRecord, plan map[uuid.UUID]int64) error {
	owed := make(map[uuid.UUID]int64)
	for _, t := range transfers {
		if take := plan[t.ID]; take > 0 {
			owed[t.ToScoreID] += take
		}
	}

	for _, receiverID := range sortedIDs(owed) {
		if err := lockAccountScore(ctx, tx, receiverID); err != nil {
			return err
		}
		totals, err := ledgerTotals(ctx, tx, receiverID)
		if err != nil {
			return err
		}
		if usable, _ := domain.ComputeBalance(totals); usable < owed[receiverID] {
			return fmt.Errorf("receiver %s holds %d usable score, reversal needs %d: %w", receiverID, usable, owed[receiverID], domain.ErrInsufficientScore)
		}
	}
	return nil
}

func lockOwnedConsumptions(ctx context.Context, tx pgx.Tx, code string, branchCode string) ([]domain.ConsumptionRecord, error) {
	rows, err := tx.Query(ctx, lockConsumptionsByReferenceQuery, code)
	if err != nil {
		return nil, storeError("failed to lock consumptions", err)
	}
	records, err := collectConsumptions(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("consumption reference %q: %w", code, domain.ErrNotFound)
	}
	for _, record := range records {
		if record.BranchCode != branchCode {
			return nil, fmt.Errorf("consumption reference %q belongs to another branch: %w", code, domain.ErrForbidden)
		}
	}
	return records, nil
}

func mapTransferWriteError(err error, referenceCode *string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			code := ""
			if referenceCode != nil {
				code = *referenceCode
			}
			return fmt.Errorf("transfer reference %q: %w", code, domain.ErrDuplicateReference)
		case pgForeignKeyViolation:
			return fmt.Errorf("transfer receiver: %w", domain.ErrReceiverNotFound)
		}
	}
	return storeError("failed to insert transfer", err)
}

func scanAccountScore(row pgx.Row) (*domain.AccountScore, error) {
	var account domain.AccountScore
	err := row.Scan(
		&account.ID,
		&account.NationalCode,
		&account.AccountNumber,
		&account.Score,
		&account.AccountType,
		&account.IsBulkInserted,
		&account.InsertedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func collectTransfers(rows pgx.Rows) ([]domain.TransferRecord, error) {
	defer rows.Close()

	var transfers []domain.TransferRecord
	for rows.Next() {
		var t domain.TransferRecord
		if err := rows.Scan(
			&t.ID,
			&t.FromScoreID,
			&t.ToScoreID,
			&t.Score,
			&t.ReferenceCode,
			&t.Description,
			&t.ReversedScore,
			&t.ReversedAt,
			&t.CreatedAt,
		); err != nil {
			return nil, storeError("failed to scan transfer", err)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("failed to read transfers", err)
	}
	return transfers, nil
}

func collectLockedTransfers(rows pgx.Rows) ([]domain.TransferRecord, error) {
	defer rows.Close()

	var transfers []domain.TransferRecord
	for rows.Next() {
		var t domain.TransferRecord
		if err := rows.Scan(
			&t.ID,
			&t.FromScoreID,
			&t.ToScoreID,
			&t.Score,
			&t.ReferenceCode,
			&t.ReversedScore,
			&t.ReversedAt,
			&t.CreatedAt,
		); err != nil {
			return nil, storeError("failed to scan transfer", err)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("failed to read transfers", err)
	}
	return transfers, nil
}

func collectConsumptions(rows pgx.Rows) ([]domain.ConsumptionRecord, error) {
	defer rows.Close()

	var records []domain.ConsumptionRecord
	for rows.Next() {
		var c domain.ConsumptionRecord
		if err := rows.Scan(
			&c.ID,
			&c.ScoreID,
			&c.Score,
			&c.ReferenceCode,
			&c.Description,
			&c.BranchCode,
			&c.PersonalCode,
			&c.Status,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, storeError("failed to scan consumption", err)
		}
		records = append(records, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("failed to read consumptions", err)
	}
	return records, nil
}

func sortedIDs(ids map[uuid.UUID]int64) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// storeError marks a driver or transaction failure as internal and keeps err in the chain.
func storeError(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, domain.ErrInternal, err)
}

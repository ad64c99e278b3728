/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * ledger data access required by the score-service. Business logic depends on this
 * interface only, so coordinators can be tested against stubs and fakes.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For record identifiers.
 * - internal/domain: For the ledger models.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/transfa/score-service/internal/domain"
)

// Repository defines the set of methods for interacting with the ledger store.
type Repository interface {
	// Account score methods
	FindAccountScore(ctx context.Context, identity domain.AccountIdentity) (*domain.AccountScore, error)
	UpsertAccountScore(ctx context.Context, account *domain.AccountScore) (*domain.AccountScore, bool, error)
	CorrectAccountScore(ctx context.Context, identity domain.AccountIdentity, score int64) (*domain.AccountScore, error)

	// Balance aggregates
	GetLedgerTotals(ctx context.Context, accountScoreID uuid.UUID) (domain.LedgerTotals, error)

	// Idempotency registry
	ReferenceExists(ctx context.Context, namespace domain.ReferenceNamespace, code string) (bool, error)

	// Transfer methods
	CreateTransfer(ctx context.Context, params CreateTransferParams) (*domain.TransferRecord, error)
	FindTransfersByReference(ctx context.Context, code string) ([]domain.TransferRecord, error)
	ListTransfersByAccount(ctx context.Context, accountScoreID uuid.UUID, opts domain.TransferListOptions) ([]domain.TransferRecord, error)
	ReverseTransfers(ctx context.Context, code string, amount int64) (*domain.ReversalResult, error)

	// Consumption methods
	CreateConsumption(ctx context.Context, record *domain.ConsumptionRecord) (*domain.ConsumptionRecord, error)
	FindConsumptionsByReference(ctx context.Context, code string) ([]domain.ConsumptionRecord, error)
	AcceptConsumptions(ctx context.Context, code string, branchCode string) ([]domain.ConsumptionRecord, error)
	CancelConsumptions(ctx context.Context, code string, branchCode string) ([]domain.ConsumptionRecord, error)
}

// CreateTransferParams carries everything the transfer commit needs. Both account score rows
// have already been resolved by the coordinator.
type CreateTransferParams struct {
	FromScoreID   uuid.UUID
	ToScoreID     uuid.UUID
	Amount        int64
	ReferenceCode *string
	Description   string
}

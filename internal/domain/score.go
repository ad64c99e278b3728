/**
 * @description
 * This file defines the core domain models for the score-service ledger.
 * These structs represent the ledger records (account score origins, transfers and
 * consumptions), the derived balance, and the request DTOs used by the coordinators,
 * the repository and the API layer.
 *
 * @notes
 * - Scores are plain non-negative integers stored as `int64`; every aggregate is computed
 *   in 64-bit so sums over long histories do not overflow.
 * - There is no mutable balance column anywhere. `Balance` is always derived from the
 *   ledger by `ComputeBalance`.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// AccountScore identifies a (national code, account number) pair and carries its origin score.
// This struct maps directly to the `account_scores` table.
type AccountScore struct {
	ID             uuid.UUID `json:"id"`
	NationalCode   string    `json:"national_code"`
	AccountNumber  string    `json:"account_number"`
	Score          int64     `json:"score"` // origin score, never the derived balance
	AccountType    string    `json:"account_type"`
	IsBulkInserted bool      `json:"is_bulk_inserted"`
	InsertedAt     time.Time `json:"inserted_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Identity returns the party identity of the account score row.
func (a AccountScore) Identity() AccountIdentity {
	return AccountIdentity{NationalCode: a.NationalCode, AccountNumber: a.AccountNumber}
}

// AccountIdentity is the natural key of a party. A single national code may hold several
// accounts, so both fields are needed to tell two parties apart.
type AccountIdentity struct {
	NationalCode  string `json:"national_code"`
	AccountNumber string `json:"account_number"`
}

// Normalize trims surrounding whitespace from both parts of the identity.
func (i AccountIdentity) Normalize() AccountIdentity {
	return AccountIdentity{
		NationalCode:  strings.TrimSpace(i.NationalCode),
		AccountNumber: strings.TrimSpace(i.AccountNumber),
	}
}

// IsZero reports whether either part of the identity is missing.
func (i AccountIdentity) IsZero() bool {
	n := i.Normalize()
	return n.NationalCode == "" || n.AccountNumber == ""
}

// SameParty reports whether two identities address the same account.
func (i AccountIdentity) SameParty(other AccountIdentity) bool {
	a, b := i.Normalize(), other.Normalize()
	return a.NationalCode == b.NationalCode && a.AccountNumber == b.AccountNumber
}

// TransferRecord is an edge between two account scores. Only the reversal columns are ever
// updated after insert; a transfer is never deleted.
type TransferRecord struct {
	ID            uuid.UUID  `json:"id"`
	FromScoreID   uuid.UUID  `json:"from_score_id"`
	ToScoreID     uuid.UUID  `json:"to_score_id"`
	Score         int64      `json:"score"`
	ReferenceCode *string    `json:"reference_code,omitempty"`
	Description   string     `json:"description,omitempty"`
	ReversedScore int64      `json:"reversed_score"`
	ReversedAt    *time.Time `json:"reversed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Remaining is the part of the transfer that has not been reversed yet.
func (t TransferRecord) Remaining() int64 {
	if t.ReversedScore >= t.Score {
		return 0
	}
	return t.Score - t.ReversedScore
}

// ConsumptionRecord is a debit against one account score. Status false means the consumption
// is pending; pending rows still reserve score until they are cancelled.
type ConsumptionRecord struct {
	ID            uuid.UUID `json:"id"`
	ScoreID       uuid.UUID `json:"score_id"`
	Score         int64     `json:"score"`
	ReferenceCode string    `json:"reference_code"`
	Description   string    `json:"description,omitempty"`
	BranchCode    string    `json:"branch_code"`
	PersonalCode  string    `json:"personal_code"`
	Status        bool      `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsAccepted reports whether the consumption has been finalized.
func (c ConsumptionRecord) IsAccepted() bool {
	return c.Status
}

// LedgerTotals holds the raw aggregates the balance is derived from.
type LedgerTotals struct {
	Origin   int64 `json:"origin"`
	Incoming int64 `json:"incoming"`
	Outgoing int64 `json:"outgoing"`
	Consumed int64 `json:"consumed"`
}

// Balance is the derived view of an account score.
type Balance struct {
	AccountScoreID    uuid.UUID    `json:"account_score_id"`
	UsableScore       int64        `json:"usable_score"`
	TransferableScore int64        `json:"transferable_score"`
	Totals            LedgerTotals `json:"totals"`
}

// ComputeBalance derives usable and transferable score from ledger aggregates.
//
// Usable score is the origin plus everything received, minus everything sent and every
// consumption row regardless of its status. Transferable score ignores incoming transfers and
// is capped by usable score, so received score is spent first and an outbound transfer can
// never leave the account below zero.
func ComputeBalance(totals LedgerTotals) (usable int64, transferable int64) {
	usable = totals.Origin + totals.Incoming - totals.Outgoing - totals.Consumed
	transferable = totals.Origin - totals.Outgoing
	if usable < transferable {
		transferable = usable
	}
	if transferable < 0 {
		transferable = 0
	}
	return usable, transferable
}

// NewBalance builds a Balance for the given account from its aggregates.
func NewBalance(accountScoreID uuid.UUID, totals LedgerTotals) Balance {
	usable, transferable := ComputeBalance(totals)
	return Balance{
		AccountScoreID:    accountScoreID,
		UsableScore:       usable,
		TransferableScore: transferable,
		Totals:            totals,
	}
}

// TransferRequest is the input of the transfer coordinator.
type TransferRequest struct {
	From          AccountIdentity `json:"from"`
	To            AccountIdentity `json:"to"`
	Amount        int64           `json:"amount"`
	ReferenceCode *string         `json:"reference_code,omitempty"`
	Description   string          `json:"description,omitempty"`
}

// Operator is the bank employee acting on a consumption.
type Operator struct {
	BranchCode   string `json:"branch_code"`
	PersonalCode string `json:"personal_code"`
}

// ConsumptionRequest is the input of the consumption coordinator's propose step.
type ConsumptionRequest struct {
	Account       AccountIdentity `json:"account"`
	Amount        int64           `json:"amount"`
	ReferenceCode *string         `json:"reference_code,omitempty"`
	Description   string          `json:"description,omitempty"`
	Operator      Operator        `json:"operator"`
}

// ReversalRequest is the input of the reversal coordinator.
type ReversalRequest struct {
	ReferenceCode string `json:"reference_code"`
	Amount        int64  `json:"amount"`
}

// ReversalResult describes how a reversal was spread over the transfers of a reference code.
type ReversalResult struct {
	ReferenceCode string           `json:"reference_code"`
	Reversed      int64            `json:"reversed"`
	Remaining     int64            `json:"remaining"`
	Transfers     []TransferRecord `json:"transfers"`
}

// TransferListOptions pages an account's transfer history.
type TransferListOptions struct {
	Limit  int
	Offset int
}

// ReferenceNamespace selects which record kind a reference code belongs to.
type ReferenceNamespace string

const (
	ReferenceNamespaceTransfer    ReferenceNamespace = "transfer"
	ReferenceNamespaceConsumption ReferenceNamespace = "consumption"
)

// OptionalReference trims a caller supplied reference code and returns nil when it is blank.
func OptionalReference(code *string) *string {
	if code == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*code)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

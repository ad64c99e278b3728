package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys of the ledger events published after a successful commit.
const (
	EventTransferCreated     = "score.transfer.created"
	EventTransferReversed    = "score.transfer.reversed"
	EventConsumptionProposed = "score.consumption.proposed"
	EventConsumptionAccepted = "score.consumption.accepted"
	EventConsumptionCanceled = "score.consumption.cancelled"
	EventAccountProvisioned  = "score.account.provisioned"
)

// LedgerEvent is the audit payload emitted for every committed ledger mutation.
type LedgerEvent struct {
	EventID       uuid.UUID           `json:"event_id"`
	EventType     string              `json:"event_type"`
	ReferenceCode string              `json:"reference_code,omitempty"`
	Amount        int64               `json:"amount"`
	Transfers     []TransferRecord    `json:"transfers,omitempty"`
	Consumptions  []ConsumptionRecord `json:"consumptions,omitempty"`
	ActingBranch  string              `json:"acting_branch,omitempty"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

// AccountProvisionedEvent is consumed from the on-boarding pipeline to bulk-create account
// score origins.
type AccountProvisionedEvent struct {
	EventID       string    `json:"event_id"`
	NationalCode  string    `json:"national_code"`
	AccountNumber string    `json:"account_number"`
	Score         int64     `json:"score"`
	AccountType   string    `json:"account_type"`
	OccurredAt    time.Time `json:"occurred_at"`
}

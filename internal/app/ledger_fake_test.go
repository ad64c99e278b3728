package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/score-service/internal/domain"
	"github.com/transfa/score-service/internal/store"
	"github.com/transfa/score-service/pkg/corebanking"
)

// memLedger is an in-memory store.Repository. A single mutex stands in for the row locks
// of the Postgres implementation, so commits re-check balances the same way.
type memLedger struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]*domain.AccountScore
	transfers    []*domain.TransferRecord
	consumptions []*domain.ConsumptionRecord
	clock        time.Time
}

var _ store.Repository = (*memLedger)(nil)

func newMemLedger() *memLedger {
	return &memLedger{
		accounts: make(map[uuid.UUID]*domain.AccountScore),
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memLedger) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memLedger) addAccount(nationalCode, accountNumber string, score int64) *domain.AccountScore {
	m.mu.Lock()
	defer m.mu.Unlock()
	account := &domain.AccountScore{
		ID:            uuid.New(),
		NationalCode:  nationalCode,
		AccountNumber: accountNumber,
		Score:         score,
		AccountType:   "manual",
		InsertedAt:    m.tick(),
	}
	m.accounts[account.ID] = account
	return account
}

func (m *memLedger) findLocked(identity domain.AccountIdentity) *domain.AccountScore {
	identity = identity.Normalize()
	for _, account := range m.accounts {
		if account.Identity().SameParty(identity) {
			return account
		}
	}
	return nil
}

func (m *memLedger) totalsLocked(id uuid.UUID) domain.LedgerTotals {
	totals := domain.LedgerTotals{Origin: m.accounts[id].Score}
	for _, t := range m.transfers {
		if t.ToScoreID == id {
			totals.Incoming += t.Remaining()
		}
		if t.FromScoreID == id {
			totals.Outgoing += t.Remaining()
		}
	}
	for _, c := range m.consumptions {
		if c.ScoreID == id {
			totals.Consumed += c.Score
		}
	}
	return totals
}

func (m *memLedger) referenceExistsLocked(namespace domain.ReferenceNamespace, code string) bool {
	switch namespace {
	case domain.ReferenceNamespaceTransfer:
		for _, t := range m.transfers {
			if t.ReferenceCode != nil && *t.ReferenceCode == code && t.Remaining() > 0 {
				return true
			}
		}
	case domain.ReferenceNamespaceConsumption:
		for _, c := range m.consumptions {
			if c.ReferenceCode == code {
				return true
			}
		}
	}
	return false
}

func (m *memLedger) FindAccountScore(ctx context.Context, identity domain.AccountIdentity) (*domain.AccountScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account := m.findLocked(identity)
	if account == nil {
		return nil, fmt.Errorf("account score: %w", domain.ErrNotFound)
	}
	copied := *account
	return &copied, nil
}

func (m *memLedger) UpsertAccountScore(ctx context.Context, account *domain.AccountScore) (*domain.AccountScore, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.findLocked(account.Identity()); existing != nil {
		copied := *existing
		return &copied, false, nil
	}
	stored := *account
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.InsertedAt = m.tick()
	m.accounts[stored.ID] = &stored
	copied := stored
	return &copied, true, nil
}

func (m *memLedger) CorrectAccountScore(ctx context.Context, identity domain.AccountIdentity, score int64) (*domain.AccountScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account := m.findLocked(identity)
	if account == nil {
		return nil, fmt.Errorf("account score: %w", domain.ErrNotFound)
	}
	totals := m.totalsLocked(account.ID)
	totals.Origin = score
	if usable, _ := domain.ComputeBalance(totals); usable < 0 {
		return nil, domain.ErrInsufficientScore
	}
	account.Score = score
	account.UpdatedAt = m.tick()
	copied := *account
	return &copied, nil
}

func (m *memLedger) GetLedgerTotals(ctx context.Context, accountScoreID uuid.UUID) (domain.LedgerTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountScoreID]; !ok {
		return domain.LedgerTotals{}, domain.ErrNotFound
	}
	return m.totalsLocked(accountScoreID), nil
}

func (m *memLedger) ReferenceExists(ctx context.Context, namespace domain.ReferenceNamespace, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.referenceExistsLocked(namespace, code), nil
}

func (m *memLedger) CreateTransfer(ctx context.Context, params store.CreateTransferParams) (*domain.TransferRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[params.FromScoreID]; !ok {
		return nil, domain.ErrNotFound
	}
	if _, ok := m.accounts[params.ToScoreID]; !ok {
		return nil, domain.ErrReceiverNotFound
	}
	if params.ReferenceCode != nil && m.referenceExistsLocked(domain.ReferenceNamespaceTransfer, *params.ReferenceCode) {
		return nil, domain.ErrDuplicateReference
	}
	if _, transferable := domain.ComputeBalance(m.totalsLocked(params.FromScoreID)); transferable < params.Amount {
		return nil, domain.ErrInsufficientScore
	}
	record := &domain.TransferRecord{
		ID:            uuid.New(),
		FromScoreID:   params.FromScoreID,
		ToScoreID:     params.ToScoreID,
		Score:         params.Amount,
		ReferenceCode: params.ReferenceCode,
		Description:   params.Description,
		CreatedAt:     m.tick(),
	}
	m.transfers = append(m.transfers, record)
	copied := *record
	return &copied, nil
}

func (m *memLedger) FindTransfersByReference(ctx context.Context, code string) ([]domain.TransferRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TransferRecord
	for _, t := range m.transfers {
		if t.ReferenceCode != nil && *t.ReferenceCode == code {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memLedger) ListTransfersByAccount(ctx context.Context, accountScoreID uuid.UUID, opts domain.TransferListOptions) ([]domain.TransferRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TransferRecord
	for i := len(m.transfers) - 1; i >= 0; i-- {
		t := m.transfers[i]
		if t.FromScoreID == accountScoreID || t.ToScoreID == accountScoreID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memLedger) ReverseTransfers(ctx context.Context, code string, amount int64) (*domain.ReversalResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []*domain.TransferRecord
	var remaining int64
	for _, t := range m.transfers {
		if t.ReferenceCode != nil && *t.ReferenceCode == code {
			rows = append(rows, t)
			remaining += t.Remaining()
		}
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}
	if amount > remaining {
		return nil, domain.ErrValidationFailed
	}

	plan := make(map[uuid.UUID]int64)
	owed := make(map[uuid.UUID]int64)
	left := amount
	for _, t := range rows {
		take := t.Remaining()
		if take > left {
			take = left
		}
		if take > 0 {
			plan[t.ID] = take
			owed[t.ToScoreID] += take
			left -= take
		}
	}
	for receiver, need := range owed {
		if usable, _ := domain.ComputeBalance(m.totalsLocked(receiver)); usable < need {
			return nil, domain.ErrInsufficientScore
		}
	}

	now := m.tick()
	result := &domain.ReversalResult{ReferenceCode: code, Reversed: amount, Remaining: remaining - amount}
	for _, t := range rows {
		if take := plan[t.ID]; take > 0 {
			t.ReversedScore += take
			at := now
			t.ReversedAt = &at
		}
		result.Transfers = append(result.Transfers, *t)
	}
	return result, nil
}

func (m *memLedger) CreateConsumption(ctx context.Context, record *domain.ConsumptionRecord) (*domain.ConsumptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[record.ScoreID]; !ok {
		return nil, domain.ErrNotFound
	}
	if m.referenceExistsLocked(domain.ReferenceNamespaceConsumption, record.ReferenceCode) {
		return nil, domain.ErrDuplicateReference
	}
	if usable, _ := domain.ComputeBalance(m.totalsLocked(record.ScoreID)); usable < record.Score {
		return nil, domain.ErrInsufficientScore
	}
	stored := *record
	stored.ID = uuid.New()
	stored.CreatedAt = m.tick()
	stored.UpdatedAt = stored.CreatedAt
	m.consumptions = append(m.consumptions, &stored)
	copied := stored
	return &copied, nil
}

func (m *memLedger) FindConsumptionsByReference(ctx context.Context, code string) ([]domain.ConsumptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ConsumptionRecord
	for _, c := range m.consumptions {
		if c.ReferenceCode == code {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memLedger) ownedLocked(code, branchCode string) ([]*domain.ConsumptionRecord, error) {
	var rows []*domain.ConsumptionRecord
	for _, c := range m.consumptions {
		if c.ReferenceCode == code {
			rows = append(rows, c)
		}
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}
	for _, c := range rows {
		if c.BranchCode != branchCode {
			return nil, domain.ErrForbidden
		}
	}
	return rows, nil
}

func (m *memLedger) AcceptConsumptions(ctx context.Context, code string, branchCode string) ([]domain.ConsumptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.ownedLocked(code, branchCode)
	if err != nil {
		return nil, err
	}
	for _, c := range rows {
		if c.Status {
			return nil, domain.ErrValidationFailed
		}
	}
	now := m.tick()
	var out []domain.ConsumptionRecord
	for _, c := range rows {
		c.Status = true
		c.UpdatedAt = now
		out = append(out, *c)
	}
	return out, nil
}

func (m *memLedger) CancelConsumptions(ctx context.Context, code string, branchCode string) ([]domain.ConsumptionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, err := m.ownedLocked(code, branchCode)
	if err != nil {
		return nil, err
	}
	for _, c := range rows {
		if c.Status {
			return nil, domain.ErrNotFound
		}
	}
	var out []domain.ConsumptionRecord
	kept := m.consumptions[:0]
	for _, c := range m.consumptions {
		if c.ReferenceCode == code {
			out = append(out, *c)
			continue
		}
		kept = append(kept, c)
	}
	m.consumptions = kept
	return out, nil
}

// publisherStub records published events.
type publisherStub struct {
	mu     sync.Mutex
	err    error
	events []domain.LedgerEvent
	keys   []string
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	if event, ok := body.(domain.LedgerEvent); ok {
		p.events = append(p.events, event)
	}
	return p.err
}

func (p *publisherStub) Close() {}

func (p *publisherStub) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// bankStub serves core-banking lookups from maps keyed by national code, CIF/account and
// branch code.
type bankStub struct {
	customers map[string]string
	deposits  map[string]corebanking.Deposit
	branches  map[string]string
	err       error
	calls     int
}

func newBankStub() *bankStub {
	return &bankStub{
		customers: map[string]string{},
		deposits:  map[string]corebanking.Deposit{},
		branches:  map[string]string{},
	}
}

func (b *bankStub) addDeposit(nationalCode, accountNumber, depositType, branchCode, status string) {
	cif := "CIF-" + nationalCode
	b.customers[nationalCode] = cif
	b.deposits[cif+"/"+accountNumber] = corebanking.Deposit{
		AccountNumber: accountNumber,
		DepositType:   depositType,
		BranchCode:    branchCode,
		Status:        status,
	}
}

func (b *bankStub) ResolveCustomer(ctx context.Context, nationalCode string) (*corebanking.Customer, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	cif, ok := b.customers[nationalCode]
	if !ok {
		return nil, corebanking.ErrNotFound
	}
	return &corebanking.Customer{CIF: cif, NationalCode: nationalCode}, nil
}

func (b *bankStub) ResolveDeposit(ctx context.Context, cif string, accountNumber string) (*corebanking.Deposit, error) {
	b.calls++
	deposit, ok := b.deposits[cif+"/"+accountNumber]
	if !ok {
		return nil, corebanking.ErrNotFound
	}
	return &deposit, nil
}

func (b *bankStub) BranchData(ctx context.Context, branchCode string) (*corebanking.Branch, error) {
	b.calls++
	province, ok := b.branches[branchCode]
	if !ok {
		return nil, corebanking.ErrNotFound
	}
	return &corebanking.Branch{Code: branchCode, Province: province}, nil
}

// limiterStub counts calls per subject.
type limiterStub struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (int, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, 0, l.err
	}
	if l.counts == nil {
		l.counts = map[string]int{}
	}
	key := strings.Join([]string{scope, subject}, ":")
	l.counts[key]++
	return l.counts[key], 60, nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/transfa/score-service/internal/domain"
	"github.com/transfa/score-service/internal/logger"
	"github.com/transfa/score-service/internal/store"
	"github.com/transfa/score-service/pkg/corebanking"
	"go.uber.org/zap"
)

const transferRateLimitScope = "score_transfer"

// Transfer moves score from one party to another. Checks run in a fixed order and the
// first violation is returned; the balance and reference checks are repeated inside the
// commit transaction under a lock on the sender.
func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferRecord, error) {
	log := logger.FromContext(ctx, s.logger)

	from := req.From.Normalize()
	to := req.To.Normalize()
	reference := domain.OptionalReference(req.ReferenceCode)
	description := strings.TrimSpace(req.Description)

	if req.Amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive: %w", domain.ErrValidationFailed)
	}
	if from.IsZero() || to.IsZero() {
		return nil, fmt.Errorf("sender and receiver identities are required: %w", domain.ErrValidationFailed)
	}
	if req.Amount > s.maxTransfer {
		return nil, fmt.Errorf("amount %d is above %d: %w", req.Amount, s.maxTransfer, domain.ErrOverflowMaxTransferable)
	}
	if from.SameParty(to) {
		return nil, fmt.Errorf("sender and receiver are the same party: %w", domain.ErrValidationFailed)
	}

	if err := s.throttleTransfer(ctx, from.NationalCode); err != nil {
		return nil, err
	}

	if err := s.checkDeposits(ctx, from, to); err != nil {
		return nil, err
	}

	if reference != nil {
		exists, err := s.repo.ReferenceExists(ctx, domain.ReferenceNamespaceTransfer, *reference)
		if err != nil {
			return nil, fmt.Errorf("failed to check reference code: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("transfer reference %q: %w", *reference, domain.ErrDuplicateReference)
		}
	}

	sender, err := s.repo.FindAccountScore(ctx, from)
	if err != nil {
		return nil, err
	}
	balance, err := s.balanceOf(ctx, sender)
	if err != nil {
		return nil, err
	}
	if balance.TransferableScore < req.Amount {
		return nil, fmt.Errorf("transferable score %d is below %d: %w", balance.TransferableScore, req.Amount, domain.ErrInsufficientScore)
	}

	receiver, err := s.repo.FindAccountScore(ctx, to)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("receiver %s/%s: %w", to.NationalCode, to.AccountNumber, domain.ErrReceiverNotFound)
		}
		return nil, err
	}

	record, err := s.repo.CreateTransfer(ctx, store.CreateTransferParams{
		FromScoreID:   sender.ID,
		ToScoreID:     receiver.ID,
		Amount:        req.Amount,
		ReferenceCode: reference,
		Description:   description,
	})
	if err != nil {
		log.Warn("transfer rejected at commit",
			zap.String("from_score_id", sender.ID.String()),
			zap.Int64("amount", req.Amount),
			zap.Error(err),
		)
		return nil, err
	}

	log.Info("transfer committed",
		zap.String("transfer_id", record.ID.String()),
		zap.String("from_score_id", sender.ID.String()),
		zap.String("to_score_id", receiver.ID.String()),
		zap.Int64("amount", record.Score),
	)

	event := domain.LedgerEvent{
		EventType: domain.EventTransferCreated,
		Amount:    record.Score,
		Transfers: []domain.TransferRecord{*record},
	}
	if reference != nil {
		event.ReferenceCode = *reference
	}
	s.publish(ctx, event)

	return record, nil
}

// GetTransfers returns the transfers recorded under a reference code.
func (s *Service) GetTransfers(ctx context.Context, referenceCode string) ([]domain.TransferRecord, error) {
	code := strings.TrimSpace(referenceCode)
	if code == "" {
		return nil, fmt.Errorf("reference code is required: %w", domain.ErrValidationFailed)
	}
	transfers, err := s.repo.FindTransfersByReference(ctx, code)
	if err != nil {
		return nil, err
	}
	if len(transfers) == 0 {
		return nil, fmt.Errorf("transfer reference %q: %w", code, domain.ErrNotFound)
	}
	return transfers, nil
}

// ListTransfers pages the transfer history of an account, newest first.
func (s *Service) ListTransfers(ctx context.Context, identity domain.AccountIdentity, opts domain.TransferListOptions) ([]domain.TransferRecord, error) {
	identity = identity.Normalize()
	if identity.IsZero() {
		return nil, fmt.Errorf("national code and account number are required: %w", domain.ErrValidationFailed)
	}
	account, err := s.repo.FindAccountScore(ctx, identity)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTransfersByAccount(ctx, account.ID, opts)
}

func (s *Service) throttleTransfer(ctx context.Context, nationalCode string) error {
	if s.limiter == nil || s.transferRateLimit <= 0 {
		return nil
	}

	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, transferRateLimitScope, nationalCode, s.transferRateLimit, time.Minute)
	if err != nil {
		// Throttling is best effort; a Redis outage must not block transfers.
		logger.FromContext(ctx, s.logger).Warn("transfer rate limiter unavailable", zap.Error(err))
		return nil
	}
	if count > s.transferRateLimit {
		return fmt.Errorf("retry after %ds: %w", retryAfter, domain.ErrRateLimited)
	}
	return nil
}

// checkDeposits applies the core-banking rules: both deposits open, of the same type, held
// in branches of the same province.
func (s *Service) checkDeposits(ctx context.Context, from, to domain.AccountIdentity) error {
	if s.bank == nil {
		return nil
	}

	senderDeposit, err := s.resolveDeposit(ctx, from)
	if err != nil {
		return err
	}
	receiverDeposit, err := s.resolveDeposit(ctx, to)
	if err != nil {
		return err
	}

	if !senderDeposit.IsOpen() {
		return fmt.Errorf("sender deposit %s is %q: %w", from.AccountNumber, senderDeposit.Status, domain.ErrNotActive)
	}
	if !receiverDeposit.IsOpen() {
		return fmt.Errorf("receiver deposit %s is %q: %w", to.AccountNumber, receiverDeposit.Status, domain.ErrNotActive)
	}
	if !strings.EqualFold(strings.TrimSpace(senderDeposit.DepositType), strings.TrimSpace(receiverDeposit.DepositType)) {
		return fmt.Errorf("deposit types %q and %q: %w", senderDeposit.DepositType, receiverDeposit.DepositType, domain.ErrDifferentDepositType)
	}

	if senderDeposit.BranchCode == receiverDeposit.BranchCode {
		return nil
	}
	senderBranch, err := s.bank.BranchData(ctx, senderDeposit.BranchCode)
	if err != nil {
		return upstreamError("branch lookup", err)
	}
	receiverBranch, err := s.bank.BranchData(ctx, receiverDeposit.BranchCode)
	if err != nil {
		return upstreamError("branch lookup", err)
	}
	if !strings.EqualFold(strings.TrimSpace(senderBranch.Province), strings.TrimSpace(receiverBranch.Province)) {
		return fmt.Errorf("provinces %q and %q: %w", senderBranch.Province, receiverBranch.Province, domain.ErrDifferentProvince)
	}
	return nil
}

func (s *Service) resolveDeposit(ctx context.Context, identity domain.AccountIdentity) (*corebanking.Deposit, error) {
	customer, err := s.bank.ResolveCustomer(ctx, identity.NationalCode)
	if err != nil {
		return nil, upstreamError("customer lookup", err)
	}
	deposit, err := s.bank.ResolveDeposit(ctx, customer.CIF, identity.AccountNumber)
	if err != nil {
		return nil, upstreamError("deposit lookup", err)
	}
	return deposit, nil
}

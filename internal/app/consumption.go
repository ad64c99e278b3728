package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/score-service/internal/domain"
	"github.com/transfa/score-service/internal/logger"
	"go.uber.org/zap"
)

const generatedConsumptionPrefix = "CNS-"

// ProposeConsumption reserves score of an account for a branch. The record stays pending
// until it is accepted or cancelled, and it counts against usable score in both states.
func (s *Service) ProposeConsumption(ctx context.Context, req domain.ConsumptionRequest) (*domain.ConsumptionRecord, error) {
	account := req.Account.Normalize()
	operator := normalizeOperator(req.Operator)

	if req.Amount <= 0 {
		return nil, fmt.Errorf("consumption amount must be positive: %w", domain.ErrValidationFailed)
	}
	if account.IsZero() {
		return nil, fmt.Errorf("national code and account number are required: %w", domain.ErrValidationFailed)
	}
	if operator.BranchCode == "" || operator.PersonalCode == "" {
		return nil, fmt.Errorf("operator branch and personal code are required: %w", domain.ErrValidationFailed)
	}

	var code string
	if reference := domain.OptionalReference(req.ReferenceCode); reference != nil {
		code = *reference
		exists, err := s.repo.ReferenceExists(ctx, domain.ReferenceNamespaceConsumption, code)
		if err != nil {
			return nil, fmt.Errorf("failed to check reference code: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("consumption reference %q: %w", code, domain.ErrDuplicateReference)
		}
	} else {
		code = generatedConsumptionPrefix + uuid.NewString()
	}

	scoreAccount, err := s.repo.FindAccountScore(ctx, account)
	if err != nil {
		return nil, err
	}
	balance, err := s.balanceOf(ctx, scoreAccount)
	if err != nil {
		return nil, err
	}
	if balance.UsableScore < req.Amount {
		return nil, fmt.Errorf("usable score %d is below %d: %w", balance.UsableScore, req.Amount, domain.ErrInsufficientScore)
	}

	record, err := s.repo.CreateConsumption(ctx, &domain.ConsumptionRecord{
		ScoreID:       scoreAccount.ID,
		Score:         req.Amount,
		ReferenceCode: code,
		Description:   strings.TrimSpace(req.Description),
		BranchCode:    operator.BranchCode,
		PersonalCode:  operator.PersonalCode,
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.logger).Info("consumption proposed",
		zap.String("reference_code", code),
		zap.String("score_id", scoreAccount.ID.String()),
		zap.Int64("amount", record.Score),
		zap.String("branch_code", operator.BranchCode),
	)
	s.publish(ctx, domain.LedgerEvent{
		EventType:     domain.EventConsumptionProposed,
		ReferenceCode: code,
		Amount:        record.Score,
		Consumptions:  []domain.ConsumptionRecord{*record},
		ActingBranch:  operator.BranchCode,
	})
	return record, nil
}

// AcceptConsumption finalizes the pending consumption rows of a reference code.
func (s *Service) AcceptConsumption(ctx context.Context, referenceCode string, operator domain.Operator) ([]domain.ConsumptionRecord, error) {
	code, operator, err := consumptionTarget(referenceCode, operator)
	if err != nil {
		return nil, err
	}

	records, err := s.repo.AcceptConsumptions(ctx, code, operator.BranchCode)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.logger).Info("consumption accepted",
		zap.String("reference_code", code),
		zap.Int("rows", len(records)),
		zap.String("branch_code", operator.BranchCode),
	)
	s.publish(ctx, domain.LedgerEvent{
		EventType:     domain.EventConsumptionAccepted,
		ReferenceCode: code,
		Amount:        sumConsumptions(records),
		Consumptions:  records,
		ActingBranch:  operator.BranchCode,
	})
	return records, nil
}

// CancelConsumption deletes the pending consumption rows of a reference code, releasing the
// reserved score. The deleted rows travel in the published event.
func (s *Service) CancelConsumption(ctx context.Context, referenceCode string, operator domain.Operator) ([]domain.ConsumptionRecord, error) {
	code, operator, err := consumptionTarget(referenceCode, operator)
	if err != nil {
		return nil, err
	}

	records, err := s.repo.CancelConsumptions(ctx, code, operator.BranchCode)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.logger).Info("consumption cancelled",
		zap.String("reference_code", code),
		zap.Int("rows", len(records)),
		zap.String("branch_code", operator.BranchCode),
	)
	s.publish(ctx, domain.LedgerEvent{
		EventType:     domain.EventConsumptionCanceled,
		ReferenceCode: code,
		Amount:        sumConsumptions(records),
		Consumptions:  records,
		ActingBranch:  operator.BranchCode,
	})
	return records, nil
}

// ListConsumptions returns the consumption rows of a reference code.
func (s *Service) ListConsumptions(ctx context.Context, referenceCode string) ([]domain.ConsumptionRecord, error) {
	code := strings.TrimSpace(referenceCode)
	if code == "" {
		return nil, fmt.Errorf("reference code is required: %w", domain.ErrValidationFailed)
	}
	records, err := s.repo.FindConsumptionsByReference(ctx, code)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("consumption reference %q: %w", code, domain.ErrNotFound)
	}
	return records, nil
}

func consumptionTarget(referenceCode string, operator domain.Operator) (string, domain.Operator, error) {
	code := strings.TrimSpace(referenceCode)
	operator = normalizeOperator(operator)
	if code == "" {
		return "", operator, fmt.Errorf("reference code is required: %w", domain.ErrValidationFailed)
	}
	if operator.BranchCode == "" {
		return "", operator, fmt.Errorf("operator branch code is required: %w", domain.ErrValidationFailed)
	}
	return code, operator, nil
}

func normalizeOperator(operator domain.Operator) domain.Operator {
	return domain.Operator{
		BranchCode:   strings.TrimSpace(operator.BranchCode),
		PersonalCode: strings.TrimSpace(operator.PersonalCode),
	}
}

func sumConsumptions(records []domain.ConsumptionRecord) int64 {
	var total int64
	for _, record := range records {
		total += record.Score
	}
	return total
}

package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/transfa/score-service/internal/domain"
	"github.com/transfa/score-service/internal/logger"
	"go.uber.org/zap"
)

// Reverse undoes part or all of the transfers recorded under a reference code. The amount
// is taken from the oldest transfer first, and the transfer rows themselves record what was
// reversed.
func (s *Service) Reverse(ctx context.Context, req domain.ReversalRequest) (*domain.ReversalResult, error) {
	code := strings.TrimSpace(req.ReferenceCode)
	if code == "" {
		return nil, fmt.Errorf("reference code is required: %w", domain.ErrValidationFailed)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("reverse amount must be positive: %w", domain.ErrValidationFailed)
	}

	result, err := s.repo.ReverseTransfers(ctx, code, req.Amount)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.logger).Info("transfer reversed",
		zap.String("reference_code", code),
		zap.Int64("reversed", result.Reversed),
		zap.Int64("remaining", result.Remaining),
	)
	s.publish(ctx, domain.LedgerEvent{
		EventType:     domain.EventTransferReversed,
		ReferenceCode: code,
		Amount:        result.Reversed,
		Transfers:     result.Transfers,
	})
	return result, nil
}

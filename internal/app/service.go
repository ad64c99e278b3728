/**
 * @description
 * This file contains the core business logic for the score-service. The `Service`
 * struct orchestrates every ledger operation, coordinating between the ledger
 * repository, the core-banking lookup service and the message broker.
 *
 * Key features:
 * - Derives usable and transferable score from the append-only ledger.
 * - Runs the transfer, consumption and reversal coordinators.
 * - Publishes audit events to RabbitMQ after each committed mutation.
 *
 * @dependencies
 * - github.com/google/uuid: For event ids and generated reference codes.
 * - go.uber.org/zap: Structured logging.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/corebanking, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/score-service/internal/domain"
	"github.com/transfa/score-service/internal/logger"
	"github.com/transfa/score-service/internal/store"
	"github.com/transfa/score-service/pkg/corebanking"
	"github.com/transfa/score-service/pkg/rabbitmq"
	"go.uber.org/zap"
)

const (
	DefaultMaxTransferScore = 1_000_000
	DefaultEventsExchange   = "score.events"
)

// CoreBanking is the subset of the core-banking client used by the transfer coordinator.
type CoreBanking interface {
	ResolveCustomer(ctx context.Context, nationalCode string) (*corebanking.Customer, error)
	ResolveDeposit(ctx context.Context, cif string, accountNumber string) (*corebanking.Deposit, error)
	BranchData(ctx context.Context, branchCode string) (*corebanking.Branch, error)
}

// RateLimiter counts attempts of subject within scope over a fixed window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Options tunes a Service.
type Options struct {
	MaxTransferScore int64
	EventsExchange   string
	Logger           *zap.Logger
}

// Service provides the core business logic for the score ledger.
type Service struct {
	repo          store.Repository
	bank          CoreBanking
	eventProducer rabbitmq.Publisher
	exchange      string
	maxTransfer   int64
	logger        *zap.Logger
	now           func() time.Time

	limiter           RateLimiter
	transferRateLimit int
}

// NewService creates a new score service instance. bank may be nil, in which case the
// deposit, province and activity checks of transfers are skipped.
func NewService(repo store.Repository, bank CoreBanking, producer rabbitmq.Publisher, opts Options) *Service {
	if opts.MaxTransferScore <= 0 {
		opts.MaxTransferScore = DefaultMaxTransferScore
	}
	if strings.TrimSpace(opts.EventsExchange) == "" {
		opts.EventsExchange = DefaultEventsExchange
	}
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{Logger: opts.Logger}
	}
	return &Service{
		repo:          repo,
		bank:          bank,
		eventProducer: producer,
		exchange:      opts.EventsExchange,
		maxTransfer:   opts.MaxTransferScore,
		logger:        logger.Component(opts.Logger, "score_service"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetTransferRateLimiter enables per-sender throttling of transfers. A non-positive
// perMinute disables it.
func (s *Service) SetTransferRateLimiter(limiter RateLimiter, perMinute int) {
	s.limiter = limiter
	s.transferRateLimit = perMinute
}

// ComputeBalance derives the usable and transferable score of an account.
func (s *Service) ComputeBalance(ctx context.Context, identity domain.AccountIdentity) (*domain.Balance, error) {
	identity = identity.Normalize()
	if identity.IsZero() {
		return nil, fmt.Errorf("national code and account number are required: %w", domain.ErrValidationFailed)
	}

	account, err := s.repo.FindAccountScore(ctx, identity)
	if err != nil {
		return nil, err
	}
	return s.balanceOf(ctx, account)
}

func (s *Service) balanceOf(ctx context.Context, account *domain.AccountScore) (*domain.Balance, error) {
	totals, err := s.repo.GetLedgerTotals(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate ledger: %w", err)
	}
	balance := domain.NewBalance(account.ID, totals)
	return &balance, nil
}

// RegisterAccountScore creates the origin score of a party, or returns the existing one.
func (s *Service) RegisterAccountScore(ctx context.Context, account domain.AccountScore) (*domain.AccountScore, bool, error) {
	identity := account.Identity().Normalize()
	if identity.IsZero() {
		return nil, false, fmt.Errorf("national code and account number are required: %w", domain.ErrValidationFailed)
	}
	if account.Score < 0 {
		return nil, false, fmt.Errorf("origin score must not be negative: %w", domain.ErrValidationFailed)
	}
	account.NationalCode = identity.NationalCode
	account.AccountNumber = identity.AccountNumber
	account.AccountType = strings.TrimSpace(account.AccountType)

	stored, created, err := s.repo.UpsertAccountScore(ctx, &account)
	if err != nil {
		return nil, false, err
	}
	if created {
		logger.FromContext(ctx, s.logger).Info("account score registered",
			zap.String("account_score_id", stored.ID.String()),
			zap.Int64("score", stored.Score),
			zap.Bool("bulk", stored.IsBulkInserted),
		)
	}
	return stored, created, nil
}

// CorrectAccountScore replaces the origin score of a party.
func (s *Service) CorrectAccountScore(ctx context.Context, identity domain.AccountIdentity, score int64) (*domain.AccountScore, error) {
	identity = identity.Normalize()
	if identity.IsZero() {
		return nil, fmt.Errorf("national code and account number are required: %w", domain.ErrValidationFailed)
	}
	if score < 0 {
		return nil, fmt.Errorf("origin score must not be negative: %w", domain.ErrValidationFailed)
	}

	account, err := s.repo.CorrectAccountScore(ctx, identity, score)
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx, s.logger).Info("account score corrected",
		zap.String("account_score_id", account.ID.String()),
		zap.Int64("score", score),
	)
	return account, nil
}

// publish emits a ledger event. The mutation is already committed, so a failed publish is
// logged and never surfaces to the caller.
func (s *Service) publish(ctx context.Context, event domain.LedgerEvent) {
	event.EventID = uuid.New()
	event.OccurredAt = s.now()

	if err := s.eventProducer.Publish(ctx, s.exchange, event.EventType, event); err != nil {
		logger.FromContext(ctx, s.logger).Warn("ledger event publish failed",
			zap.String("event_type", event.EventType),
			zap.String("reference_code", event.ReferenceCode),
			zap.Error(err),
		)
	}
}

// upstreamError folds core-banking failures into the ledger error taxonomy.
func upstreamError(op string, err error) error {
	if errors.Is(err, corebanking.ErrNotFound) {
		return fmt.Errorf("%s: %v: %w", op, err, domain.ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %v: %w", op, err, domain.ErrUpstream)
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/transfa/score-service/internal/domain"
	"github.com/transfa/score-service/internal/logger"
	"go.uber.org/zap"
)

const bulkAccountType = "bulk"

// AccountProvisioningConsumer creates account score origins from the on-boarding pipeline.
type AccountProvisioningConsumer struct {
	service *Service
	logger  *zap.Logger
}

func NewAccountProvisioningConsumer(service *Service, log *zap.Logger) *AccountProvisioningConsumer {
	return &AccountProvisioningConsumer{service: service, logger: logger.Component(log, "account_provisioning_consumer")}
}

// HandleMessage returns false only for failures worth retrying. Malformed or invalid
// payloads are acknowledged and dropped.
func (c *AccountProvisioningConsumer) HandleMessage(body []byte) bool {
	var event domain.AccountProvisionedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("failed to unmarshal payload", zap.Error(err))
		return true
	}

	identity := domain.AccountIdentity{NationalCode: event.NationalCode, AccountNumber: event.AccountNumber}.Normalize()
	if identity.IsZero() {
		c.logger.Warn("missing identity in event", zap.String("event_id", event.EventID))
		return true
	}

	accountType := strings.TrimSpace(event.AccountType)
	if accountType == "" {
		accountType = bulkAccountType
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	account, created, err := c.service.RegisterAccountScore(ctx, domain.AccountScore{
		NationalCode:   identity.NationalCode,
		AccountNumber:  identity.AccountNumber,
		Score:          event.Score,
		AccountType:    accountType,
		IsBulkInserted: true,
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidationFailed) {
			c.logger.Warn("invalid provisioning event; dropping", zap.String("event_id", event.EventID), zap.Error(err))
			return true
		}
		c.logger.Error("processing error", zap.String("event_id", event.EventID), zap.Error(err))
		return false
	}

	if !created {
		c.logger.Info("account score already provisioned; acknowledging",
			zap.String("event_id", event.EventID),
			zap.String("account_score_id", account.ID.String()),
		)
	}
	return true
}

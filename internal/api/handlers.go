/**
 * @description
 * This file contains the HTTP handlers for the score-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - internal/domain: For models and the error taxonomy.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/score-service/internal/domain"
	"github.com/transfa/score-service/internal/logger"
	"go.uber.org/zap"
)

// LedgerService is the application service behind the handlers.
type LedgerService interface {
	ComputeBalance(ctx context.Context, identity domain.AccountIdentity) (*domain.Balance, error)
	RegisterAccountScore(ctx context.Context, account domain.AccountScore) (*domain.AccountScore, bool, error)
	CorrectAccountScore(ctx context.Context, identity domain.AccountIdentity, score int64) (*domain.AccountScore, error)
	Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferRecord, error)
	GetTransfers(ctx context.Context, referenceCode string) ([]domain.TransferRecord, error)
	ListTransfers(ctx context.Context, identity domain.AccountIdentity, opts domain.TransferListOptions) ([]domain.TransferRecord, error)
	Reverse(ctx context.Context, req domain.ReversalRequest) (*domain.ReversalResult, error)
	ProposeConsumption(ctx context.Context, req domain.ConsumptionRequest) (*domain.ConsumptionRecord, error)
	AcceptConsumption(ctx context.Context, referenceCode string, operator domain.Operator) ([]domain.ConsumptionRecord, error)
	CancelConsumption(ctx context.Context, referenceCode string, operator domain.Operator) ([]domain.ConsumptionRecord, error)
	ListConsumptions(ctx context.Context, referenceCode string) ([]domain.ConsumptionRecord, error)
}

// ScoreHandlers holds the application service that handlers will use.
type ScoreHandlers struct {
	service LedgerService
	logger  *zap.Logger
}

// NewScoreHandlers creates a new instance of ScoreHandlers.
func NewScoreHandlers(service LedgerService, log *zap.Logger) *ScoreHandlers {
	return &ScoreHandlers{service: service, logger: logger.Component(log, "api")}
}

type registerAccountRequest struct {
	NationalCode  string `json:"national_code"`
	AccountNumber string `json:"account_number"`
	Score         int64  `json:"score"`
	AccountType   string `json:"account_type"`
}

type correctScoreRequest struct {
	Score *int64 `json:"score"`
}

type transferRequest struct {
	From          domain.AccountIdentity `json:"from"`
	To            domain.AccountIdentity `json:"to"`
	Amount        int64                  `json:"amount"`
	ReferenceCode *string                `json:"reference_code"`
	Description   string                 `json:"description"`
}

type reversalRequest struct {
	Amount int64 `json:"amount"`
}

type consumptionRequest struct {
	NationalCode  string  `json:"national_code"`
	AccountNumber string  `json:"account_number"`
	Amount        int64   `json:"amount"`
	ReferenceCode *string `json:"reference_code"`
	Description   string  `json:"description"`
}

// mapLedgerError translates the ledger error taxonomy to an HTTP status and a client message.
// Upstream and unexpected failures get an opaque message.
func mapLedgerError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrReceiverNotFound):
		return http.StatusNotFound, "Receiver account score not found."
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "Not found."
	case errors.Is(err, domain.ErrValidationFailed):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrDuplicateReference):
		return http.StatusConflict, "Reference code already used."
	case errors.Is(err, domain.ErrInsufficientScore):
		return http.StatusUnprocessableEntity, "Insufficient score."
	case errors.Is(err, domain.ErrOverflowMaxTransferable):
		return http.StatusUnprocessableEntity, "Amount exceeds the maximum transferable score."
	case errors.Is(err, domain.ErrDifferentDepositType):
		return http.StatusUnprocessableEntity, "Deposits have different types."
	case errors.Is(err, domain.ErrDifferentProvince):
		return http.StatusUnprocessableEntity, "Branches are in different provinces."
	case errors.Is(err, domain.ErrNotActive):
		return http.StatusUnprocessableEntity, "Deposit is not active."
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "Operation not allowed for this branch."
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many transfer attempts. Please wait and try again."
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway, "Core banking is unavailable."
	case errors.Is(err, domain.ErrInternal):
		return http.StatusInternalServerError, "Could not process score request."
	}
	return http.StatusInternalServerError, "Could not process score request."
}

func (h *ScoreHandlers) fail(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	status, message := mapLedgerError(err)
	log := logger.FromContext(r.Context(), h.logger)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("endpoint", endpoint), zap.Error(err))
	} else {
		log.Info("request rejected", zap.String("endpoint", endpoint), zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, message)
}

func accountFromPath(r *http.Request) domain.AccountIdentity {
	return domain.AccountIdentity{
		NationalCode:  chi.URLParam(r, "nationalCode"),
		AccountNumber: chi.URLParam(r, "accountNumber"),
	}.Normalize()
}

// RegisterAccountHandler creates an account score origin. Repeating the call for an existing
// party returns the stored row with 200.
func (h *ScoreHandlers) RegisterAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req registerAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	account, created, err := h.service.RegisterAccountScore(r.Context(), domain.AccountScore{
		NationalCode:  req.NationalCode,
		AccountNumber: req.AccountNumber,
		Score:         req.Score,
		AccountType:   req.AccountType,
	})
	if err != nil {
		h.fail(w, r, "register_account", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, account)
}

// GetBalanceHandler returns the derived balance of an account.
func (h *ScoreHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.ComputeBalance(r.Context(), accountFromPath(r))
	if err != nil {
		h.fail(w, r, "get_balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// CorrectScoreHandler replaces the origin score of an account.
func (h *ScoreHandlers) CorrectScoreHandler(w http.ResponseWriter, r *http.Request) {
	var req correctScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Score == nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	account, err := h.service.CorrectAccountScore(r.Context(), accountFromPath(r), *req.Score)
	if err != nil {
		h.fail(w, r, "correct_score", err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// ListTransfersHandler pages the transfer history of an account.
func (h *ScoreHandlers) ListTransfersHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseOptionalPositiveInt(r.URL.Query().Get("limit"), 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	offset, err := parseOptionalPositiveInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offset")
		return
	}

	transfers, err := h.service.ListTransfers(r.Context(), accountFromPath(r), domain.TransferListOptions{Limit: limit, Offset: offset})
	if err != nil {
		h.fail(w, r, "list_transfers", err)
		return
	}
	if transfers == nil {
		transfers = []domain.TransferRecord{}
	}
	writeJSON(w, http.StatusOK, transfers)
}

// TransferHandler moves score between two accounts.
func (h *ScoreHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	record, err := h.service.Transfer(r.Context(), domain.TransferRequest{
		From:          req.From,
		To:            req.To,
		Amount:        req.Amount,
		ReferenceCode: req.ReferenceCode,
		Description:   req.Description,
	})
	if err != nil {
		h.fail(w, r, "transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// GetTransfersHandler returns the transfers of a reference code.
func (h *ScoreHandlers) GetTransfersHandler(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.service.GetTransfers(r.Context(), chi.URLParam(r, "referenceCode"))
	if err != nil {
		h.fail(w, r, "get_transfers", err)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

// ReverseHandler reverses part of the transfers of a reference code.
func (h *ScoreHandlers) ReverseHandler(w http.ResponseWriter, r *http.Request) {
	var req reversalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.Reverse(r.Context(), domain.ReversalRequest{
		ReferenceCode: chi.URLParam(r, "referenceCode"),
		Amount:        req.Amount,
	})
	if err != nil {
		h.fail(w, r, "reverse_transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ProposeConsumptionHandler reserves score of an account on behalf of the operator's branch.
func (h *ScoreHandlers) ProposeConsumptionHandler(w http.ResponseWriter, r *http.Request) {
	operator, ok := GetOperator(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Operator not found in context")
		return
	}

	var req consumptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	record, err := h.service.ProposeConsumption(r.Context(), domain.ConsumptionRequest{
		Account:       domain.AccountIdentity{NationalCode: req.NationalCode, AccountNumber: req.AccountNumber},
		Amount:        req.Amount,
		ReferenceCode: req.ReferenceCode,
		Description:   req.Description,
		Operator:      operator,
	})
	if err != nil {
		h.fail(w, r, "propose_consumption", err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// GetConsumptionsHandler returns the consumption rows of a reference code.
func (h *ScoreHandlers) GetConsumptionsHandler(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListConsumptions(r.Context(), chi.URLParam(r, "referenceCode"))
	if err != nil {
		h.fail(w, r, "get_consumptions", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// AcceptConsumptionHandler finalizes a pending consumption.
func (h *ScoreHandlers) AcceptConsumptionHandler(w http.ResponseWriter, r *http.Request) {
	operator, ok := GetOperator(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Operator not found in context")
		return
	}

	records, err := h.service.AcceptConsumption(r.Context(), chi.URLParam(r, "referenceCode"), operator)
	if err != nil {
		h.fail(w, r, "accept_consumption", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// CancelConsumptionHandler deletes a pending consumption.
func (h *ScoreHandlers) CancelConsumptionHandler(w http.ResponseWriter, r *http.Request) {
	operator, ok := GetOperator(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Operator not found in context")
		return
	}

	records, err := h.service.CancelConsumption(r.Context(), chi.URLParam(r, "referenceCode"), operator)
	if err != nil {
		h.fail(w, r, "cancel_consumption", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func parseOptionalPositiveInt(raw string, defaultValue int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, errors.New("must be >= 0")
	}
	return value, nil
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// internal/mpesa/service.go
package mpesa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/safarypto/safarypto/internal/db"
	"github.com/safarypto/safarypto/internal/ledger"
	"github.com/safarypto/safarypto/internal/logging"
)

// Gateway is the slice of the payment gateway the mobile-money service
// needs.
type Gateway interface {
	InitiatePush(ctx context.Context, phone string, amount decimal.Decimal, reference string) (*PushResult, error)
	InitiateB2C(ctx context.Context, phone string, amount decimal.Decimal, remarks string) (*B2CResult, error)
	QueryStatus(ctx context.Context, checkoutID string) (*QueryResult, error)
}

// Service initiates deposits and reconciles the gateway's asynchronous
// callbacks against the ledger.
type Service struct {
	gateway Gateway
	ledger  *ledger.Ledger
	gdb     *gorm.DB
}

func NewService(gateway Gateway, l *ledger.Ledger, gdb *gorm.DB) *Service {
	return &Service{gateway: gateway, ledger: l, gdb: gdb}
}

type DepositResult struct {
	Reference  string `json:"reference"`
	CheckoutID string `json:"checkoutId"`
}

// InitiateDeposit validates input, submits the push request, and records the
// pending KES transaction keyed by the returned checkout id BEFORE returning.
// The ordering matters: the callback must always find a row to reconcile.
func (s *Service) InitiateDeposit(ctx context.Context, userID int64, phone string, amount decimal.Decimal) (*DepositResult, error) {
	phone = FormatPhone(phone)
	if err := ValidatePhone(phone); err != nil {
		return nil, err
	}
	amount, err := ValidateAmount(amount)
	if err != nil {
		return nil, err
	}

	reference := ledger.GenerateReference()

	push, err := s.gateway.InitiatePush(ctx, phone, amount, reference)
	if err != nil {
		return nil, err
	}

	tx := &db.Transaction{
		UserID:      userID,
		Kind:        db.KindMpesaDeposit,
		Amount:      amount,
		Currency:    db.CurrencyKES,
		Status:      db.StatusPending,
		Reference:   reference,
		Description: "MPESA deposit initiated",
		Metadata: datatypes.JSONMap{
			db.MetaCheckoutRequestID: push.CheckoutRequestID,
			db.MetaMerchantRequestID: push.MerchantRequestID,
			db.MetaPhoneNumber:       phone,
		},
	}
	if err := s.ledger.Create(ctx, tx); err != nil {
		// The push is already in flight with no row to reconcile against;
		// that must never pass silently.
		logging.Error("failed to record pending deposit after push",
			zap.String("reference", reference),
			zap.String("checkoutRequestID", push.CheckoutRequestID),
			zap.Error(err))
		return nil, fmt.Errorf("mpesa: failed to record pending deposit: %w", err)
	}

	return &DepositResult{Reference: reference, CheckoutID: push.CheckoutRequestID}, nil
}

type PayoutResult struct {
	Reference      string `json:"reference"`
	ConversationID string `json:"conversationId"`
}

// InitiatePayout submits a B2C payment to the given phone and records the
// pending KES payout keyed by the gateway's conversation id, with the same
// row-before-return ordering as deposits.
func (s *Service) InitiatePayout(ctx context.Context, userID int64, phone string, amount decimal.Decimal, remarks string) (*PayoutResult, error) {
	phone = FormatPhone(phone)
	if err := ValidatePhone(phone); err != nil {
		return nil, err
	}
	amount, err := ValidateAmount(amount)
	if err != nil {
		return nil, err
	}

	reference := ledger.GenerateReference()

	res, err := s.gateway.InitiateB2C(ctx, phone, amount, remarks)
	if err != nil {
		return nil, err
	}

	tx := &db.Transaction{
		UserID:      userID,
		Kind:        db.KindMpesaPayout,
		Amount:      amount,
		Currency:    db.CurrencyKES,
		Status:      db.StatusPending,
		Reference:   reference,
		ToAddress:   phone,
		Description: "MPESA payout initiated",
		Metadata: datatypes.JSONMap{
			db.MetaConversationID: res.ConversationID,
			db.MetaOriginatorID:   res.OriginatorConversationID,
			db.MetaPhoneNumber:    phone,
		},
	}
	if err := s.ledger.Create(ctx, tx); err != nil {
		logging.Error("failed to record pending payout after submission",
			zap.String("reference", reference),
			zap.String("conversationID", res.ConversationID),
			zap.Error(err))
		return nil, fmt.Errorf("mpesa: failed to record pending payout: %w", err)
	}

	return &PayoutResult{Reference: reference, ConversationID: res.ConversationID}, nil
}

type ReconciliationResult struct {
	Reference string      `json:"reference"`
	Status    db.TxStatus `json:"status"`
	// Duplicate marks an at-least-once redelivery that found the row
	// already terminal. A successful no-op, never an error.
	Duplicate bool `json:"duplicate"`
}

type stkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []struct {
			Name  string          `json:"Name"`
			Value json.RawMessage `json:"Value"`
		} `json:"Item"`
	} `json:"CallbackMetadata"`
}

type callbackEnvelope struct {
	Body struct {
		StkCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// HandleCallback reconciles one inbound payment-result callback. Replays of
// an already-reconciled callback report Duplicate instead of failing, so
// delivering the same callback twice never double-credits.
func (s *Service) HandleCallback(ctx context.Context, raw []byte) (*ReconciliationResult, error) {
	var envelope callbackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Body.StkCallback == nil {
		logging.Warn("malformed gateway callback", zap.Int("payloadBytes", len(raw)))
		return nil, ErrMalformedCallback
	}
	cb := envelope.Body.StkCallback
	logger := logging.With(zap.String("checkoutRequestID", cb.CheckoutRequestID), zap.Int("resultCode", cb.ResultCode))

	tx, err := s.ledger.FindByCheckoutID(ctx, cb.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			// The gateway does not reliably resend matched callbacks, so
			// there is nothing to retry; flag for manual reconciliation.
			logger.Error("callback for unknown checkout id")
			return nil, ErrUnknownTransaction
		}
		return nil, err
	}

	if cb.ResultCode == 0 {
		return s.reconcileSuccess(ctx, logger, tx, cb)
	}
	return s.reconcileFailure(ctx, logger, tx, cb)
}

func (s *Service) reconcileSuccess(ctx context.Context, logger *zap.Logger, tx *db.Transaction, cb *stkCallback) (*ReconciliationResult, error) {
	items := foldCallbackItems(cb)

	metadata := datatypes.JSONMap{}
	for k, v := range tx.Metadata {
		metadata[k] = v
	}
	for name, value := range items {
		metadata[name] = value
	}

	receipt := stringItem(items, db.MetaMpesaReceipt)
	patch := ledger.Patch{Metadata: metadata}
	if receipt != "" {
		patch.MpesaReceipt = &receipt
	}

	updated, err := s.ledger.Transition(ctx, tx.ID,
		[]db.TxStatus{db.StatusPending}, db.StatusCompleted, patch)
	if err != nil {
		if errors.Is(err, ledger.ErrStaleTransition) {
			logger.Info("duplicate callback delivery, transaction already terminal",
				zap.String("status", string(updated.Status)))
			return &ReconciliationResult{Reference: updated.Reference, Status: updated.Status, Duplicate: true}, nil
		}
		return nil, err
	}

	s.backfillMpesaNumber(ctx, tx.UserID, stringItem(items, db.MetaPhoneNumber))

	logger.Info("deposit reconciled", zap.String("reference", updated.Reference))
	return &ReconciliationResult{Reference: updated.Reference, Status: updated.Status}, nil
}

func (s *Service) reconcileFailure(ctx context.Context, logger *zap.Logger, tx *db.Transaction, cb *stkCallback) (*ReconciliationResult, error) {
	metadata := datatypes.JSONMap{}
	for k, v := range tx.Metadata {
		metadata[k] = v
	}
	metadata[db.MetaFailureReason] = cb.ResultDesc

	updated, err := s.ledger.Transition(ctx, tx.ID,
		[]db.TxStatus{db.StatusPending}, db.StatusFailed, ledger.Patch{Metadata: metadata})
	if err != nil {
		if errors.Is(err, ledger.ErrStaleTransition) {
			return &ReconciliationResult{Reference: updated.Reference, Status: updated.Status, Duplicate: true}, nil
		}
		return nil, err
	}

	logger.Info("deposit marked failed", zap.String("reason", cb.ResultDesc))
	return &ReconciliationResult{Reference: updated.Reference, Status: updated.Status}, nil
}

type b2cResult struct {
	ResultCode       int    `json:"ResultCode"`
	ResultDesc       string `json:"ResultDesc"`
	ConversationID   string `json:"ConversationID"`
	TransactionID    string `json:"TransactionID"`
	ResultParameters *struct {
		ResultParameter []struct {
			Key   string          `json:"Key"`
			Value json.RawMessage `json:"Value"`
		} `json:"ResultParameter"`
	} `json:"ResultParameters"`
}

type b2cEnvelope struct {
	Result *b2cResult `json:"Result"`
}

// HandleB2CResult reconciles one payout result callback, with the same
// idempotency contract as HandleCallback: a redelivery that finds the row
// terminal is a Duplicate no-op.
func (s *Service) HandleB2CResult(ctx context.Context, raw []byte) (*ReconciliationResult, error) {
	var envelope b2cEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Result == nil {
		logging.Warn("malformed payout result", zap.Int("payloadBytes", len(raw)))
		return nil, ErrMalformedCallback
	}
	result := envelope.Result
	logger := logging.With(zap.String("conversationID", result.ConversationID), zap.Int("resultCode", result.ResultCode))

	tx, err := s.ledger.FindByConversationID(ctx, result.ConversationID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			logger.Error("payout result for unknown conversation id")
			return nil, ErrUnknownTransaction
		}
		return nil, err
	}

	metadata := datatypes.JSONMap{}
	for k, v := range tx.Metadata {
		metadata[k] = v
	}

	if result.ResultCode != 0 {
		metadata[db.MetaFailureReason] = result.ResultDesc
		updated, err := s.ledger.Transition(ctx, tx.ID,
			[]db.TxStatus{db.StatusPending}, db.StatusFailed, ledger.Patch{Metadata: metadata})
		if err != nil {
			if errors.Is(err, ledger.ErrStaleTransition) {
				return &ReconciliationResult{Reference: updated.Reference, Status: updated.Status, Duplicate: true}, nil
			}
			return nil, err
		}
		logger.Info("payout marked failed", zap.String("reason", result.ResultDesc))
		return &ReconciliationResult{Reference: updated.Reference, Status: updated.Status}, nil
	}

	for name, value := range foldB2CParameters(result) {
		metadata[name] = value
	}

	patch := ledger.Patch{Metadata: metadata}
	if result.TransactionID != "" {
		patch.MpesaReceipt = &result.TransactionID
	}

	updated, err := s.ledger.Transition(ctx, tx.ID,
		[]db.TxStatus{db.StatusPending}, db.StatusCompleted, patch)
	if err != nil {
		if errors.Is(err, ledger.ErrStaleTransition) {
			logger.Info("duplicate payout result, transaction already terminal",
				zap.String("status", string(updated.Status)))
			return &ReconciliationResult{Reference: updated.Reference, Status: updated.Status, Duplicate: true}, nil
		}
		return nil, err
	}

	logger.Info("payout reconciled", zap.String("reference", updated.Reference))
	return &ReconciliationResult{Reference: updated.Reference, Status: updated.Status}, nil
}

// backfillMpesaNumber stores the payer's mobile-money identifier on first
// successful deposit. Idempotent: a no-op once set.
func (s *Service) backfillMpesaNumber(ctx context.Context, userID int64, phone string) {
	if phone == "" {
		return
	}
	err := s.gdb.WithContext(ctx).
		Model(&db.User{}).
		Where("id = ? AND (mpesa_number IS NULL OR mpesa_number = '')", userID).
		Update("mpesa_number", phone).Error
	if err != nil {
		logging.Warn("failed to backfill mpesa number", zap.Int64("userID", userID), zap.Error(err))
	}
}

// stkItemKeys maps the gateway's capitalized item names onto the metadata
// keys the ledger documents, so a reconciled row never carries both
// spellings of the same fact.
var stkItemKeys = map[string]string{
	"Amount":             db.MetaAmount,
	"MpesaReceiptNumber": db.MetaMpesaReceipt,
	"TransactionDate":    db.MetaTransactionDate,
	"PhoneNumber":        db.MetaPhoneNumber,
}

// foldCallbackItems flattens the gateway's name/value list into a map under
// the normalized metadata keys. Values stay json.Number or string so numeric
// identifiers round-trip without float formatting.
func foldCallbackItems(cb *stkCallback) map[string]interface{} {
	items := map[string]interface{}{}
	if cb.CallbackMetadata == nil {
		return items
	}
	for _, item := range cb.CallbackMetadata.Item {
		name := item.Name
		if key, ok := stkItemKeys[name]; ok {
			name = key
		}
		items[name] = rawValue(item.Value)
	}
	return items
}

// b2cParameterKeys normalizes payout result parameters the same way
// stkItemKeys does for deposit items.
var b2cParameterKeys = map[string]string{
	"TransactionAmount":            db.MetaAmount,
	"TransactionReceipt":           db.MetaMpesaReceipt,
	"TransactionCompletedDateTime": db.MetaTransactionDate,
	"ReceiverPartyPublicName":      "receiverName",
}

func foldB2CParameters(result *b2cResult) map[string]interface{} {
	params := map[string]interface{}{}
	if result.ResultParameters == nil {
		return params
	}
	for _, p := range result.ResultParameters.ResultParameter {
		name := p.Key
		if key, ok := b2cParameterKeys[name]; ok {
			name = key
		}
		params[name] = rawValue(p.Value)
	}
	return params
}

func rawValue(raw json.RawMessage) interface{} {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return json.Number(string(raw))
}

func stringItem(items map[string]interface{}, name string) string {
	v, ok := items[name]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

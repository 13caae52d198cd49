// internal/ledger/ledger.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/safarypto/safarypto/internal/db"
	"github.com/safarypto/safarypto/internal/logging"
)

// Ledger is the authoritative record of monetary events. Rows are created
// pending (or already completed for synchronous operations), move through
// the status machine via Transition, and are never deleted.
type Ledger struct {
	gdb *gorm.DB
}

func New(gdb *gorm.DB) *Ledger {
	return &Ledger{gdb: gdb}
}

// Create inserts a new transaction. The reference must be set; if the draft
// carries a checkout id in metadata, at most one deposit may exist for it.
func (l *Ledger) Create(ctx context.Context, tx *db.Transaction) error {
	if tx.Reference == "" {
		return fmt.Errorf("ledger: reference is required")
	}
	if !tx.Amount.IsPositive() {
		return fmt.Errorf("ledger: amount must be positive, got %s", tx.Amount)
	}
	if tx.Status == "" {
		tx.Status = db.StatusPending
	}
	if tx.Status == db.StatusCompleted && tx.CompletedAt == nil {
		now := time.Now()
		tx.CompletedAt = &now
	}

	if _, err := l.FindByReference(ctx, tx.Reference); err == nil {
		return ErrDuplicateReference
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if checkoutID, ok := tx.Metadata[db.MetaCheckoutRequestID].(string); ok && checkoutID != "" {
		if _, err := l.FindByCheckoutID(ctx, checkoutID); err == nil {
			return ErrDuplicateReference
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
	}

	if err := l.gdb.WithContext(ctx).Create(tx).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("ledger: failed to create transaction: %w", err)
	}
	return nil
}

func (l *Ledger) FindByID(ctx context.Context, id int64) (*db.Transaction, error) {
	return l.findOne(ctx, l.gdb.WithContext(ctx).Where("id = ?", id))
}

func (l *Ledger) FindByReference(ctx context.Context, reference string) (*db.Transaction, error) {
	return l.findOne(ctx, l.gdb.WithContext(ctx).Where("reference = ?", reference))
}

func (l *Ledger) FindByHash(ctx context.Context, hash string) (*db.Transaction, error) {
	return l.findOne(ctx, l.gdb.WithContext(ctx).Where("chain_hash = ?", hash))
}

// FindByCheckoutID locates the deposit created for a gateway checkout
// session. The checkout id lives inside the metadata document.
func (l *Ledger) FindByCheckoutID(ctx context.Context, checkoutID string) (*db.Transaction, error) {
	return l.findOne(ctx, l.gdb.WithContext(ctx).
		Where(datatypes.JSONQuery("metadata").Equals(checkoutID, db.MetaCheckoutRequestID)))
}

// FindByConversationID locates the payout created for a gateway B2C
// conversation. Like the checkout id, it lives inside the metadata document.
func (l *Ledger) FindByConversationID(ctx context.Context, conversationID string) (*db.Transaction, error) {
	return l.findOne(ctx, l.gdb.WithContext(ctx).
		Where(datatypes.JSONQuery("metadata").Equals(conversationID, db.MetaConversationID)))
}

// FindByAny resolves a reference, an on-chain hash, a gateway receipt, or a
// numeric ledger id, in that order.
func (l *Ledger) FindByAny(ctx context.Context, key string) (*db.Transaction, error) {
	if tx, err := l.FindByReference(ctx, key); err == nil {
		return tx, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if tx, err := l.FindByHash(ctx, key); err == nil {
		return tx, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if tx, err := l.findOne(ctx, l.gdb.WithContext(ctx).Where("mpesa_receipt = ?", key)); err == nil {
		return tx, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		return l.FindByID(ctx, id)
	}
	return nil, ErrNotFound
}

func (l *Ledger) findOne(ctx context.Context, q *gorm.DB) (*db.Transaction, error) {
	var tx db.Transaction
	if err := q.First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ledger: lookup failed: %w", err)
	}
	return &tx, nil
}

// Patch carries the fields a transition may set alongside the status change.
// Nil pointers leave the column untouched.
type Patch struct {
	MpesaReceipt *string
	ChainHash    *string
	Description  *string
	Metadata     datatypes.JSONMap
	CompletedAt  *time.Time
}

// Transition applies a conditional status update: the row moves to the
// target status only if its current status is in from. A concurrent
// finalizer losing this race observes ErrStaleTransition, which callers on
// at-least-once delivery paths must treat as a no-op. Completion time is
// stamped automatically when the target status is completed.
func (l *Ledger) Transition(ctx context.Context, id int64, from []db.TxStatus, to db.TxStatus, patch Patch) (*db.Transaction, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	if patch.MpesaReceipt != nil {
		updates["mpesa_receipt"] = *patch.MpesaReceipt
	}
	if patch.ChainHash != nil {
		updates["chain_hash"] = *patch.ChainHash
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Metadata != nil {
		updates["metadata"] = patch.Metadata
	}
	if patch.CompletedAt != nil {
		updates["completed_at"] = *patch.CompletedAt
	} else if to == db.StatusCompleted {
		updates["completed_at"] = time.Now()
	}

	res := l.gdb.WithContext(ctx).
		Model(&db.Transaction{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("ledger: transition failed: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		current, err := l.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		logging.Warn("stale transition attempt",
			zap.Int64("id", id),
			zap.String("currentStatus", string(current.Status)),
			zap.String("requestedStatus", string(to)))
		return current, ErrStaleTransition
	}

	return l.FindByID(ctx, id)
}

// AttachChainHash records the submitted hash on a row without touching its
// status. Used when a submission times out: the outcome is unknown, the row
// must stay pending, and the hash is the only handle for later confirmation.
func (l *Ledger) AttachChainHash(ctx context.Context, id int64, hash string) error {
	err := l.gdb.WithContext(ctx).
		Model(&db.Transaction{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"chain_hash": hash, "updated_at": time.Now()}).Error
	if err != nil {
		return fmt.Errorf("ledger: failed to attach chain hash: %w", err)
	}
	return nil
}

// SumCompletedDeposits returns the exact decimal sum of the user's completed
// deposits in the given currency since the cutoff. Summed in Go rather than
// SQL so the arithmetic stays fixed-point on every backing store.
func (l *Ledger) SumCompletedDeposits(ctx context.Context, userID int64, currency db.Currency, since time.Time) (decimal.Decimal, error) {
	var rows []db.Transaction
	err := l.gdb.WithContext(ctx).
		Where("user_id = ? AND kind = ? AND status = ? AND currency = ? AND created_at >= ?",
			userID, db.KindMpesaDeposit, db.StatusCompleted, currency, since).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: deposit sum failed: %w", err)
	}

	total := decimal.Zero
	for _, tx := range rows {
		total = total.Add(tx.Amount)
	}
	return total, nil
}

func (l *Ledger) ListByUser(ctx context.Context, userID int64, limit int) ([]db.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var rows []db.Transaction
	err := l.gdb.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: history lookup failed: %w", err)
	}
	return rows, nil
}

// internal/ledger/ledger_test.go
package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/safarypto/safarypto/internal/db"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&db.User{}, &db.Wallet{}, &db.Transaction{}))
	return gdb
}

func pendingDeposit(reference, checkoutID string) *db.Transaction {
	return &db.Transaction{
		UserID:    1,
		Kind:      db.KindMpesaDeposit,
		Amount:    decimal.NewFromInt(500),
		Currency:  db.CurrencyKES,
		Status:    db.StatusPending,
		Reference: reference,
		Metadata:  datatypes.JSONMap{db.MetaCheckoutRequestID: checkoutID},
	}
}

func TestCreateAndFind(t *testing.T) {
	l := New(newTestDB(t))
	ctx := context.Background()

	tx := pendingDeposit("TXREF1", "ws_CO_1")
	require.NoError(t, l.Create(ctx, tx))
	assert.NotZero(t, tx.ID)

	byRef, err := l.FindByReference(ctx, "TXREF1")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, byRef.ID)
	assert.True(t, byRef.Amount.Equal(decimal.NewFromInt(500)))

	byCheckout, err := l.FindByCheckoutID(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, byCheckout.ID)

	_, err = l.FindByReference(ctx, "TXMISSING")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.FindByCheckoutID(ctx, "ws_CO_other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateDuplicateReference(t *testing.T) {
	l := New(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, l.Create(ctx, pendingDeposit("TXREF1", "ws_CO_1")))
	err := l.Create(ctx, pendingDeposit("TXREF1", "ws_CO_2"))
	assert.ErrorIs(t, err, ErrDuplicateReference)
}

func TestCreateDuplicateCheckoutID(t *testing.T) {
	l := New(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, l.Create(ctx, pendingDeposit("TXREF1", "ws_CO_1")))
	err := l.Create(ctx, pendingDeposit("TXREF2", "ws_CO_1"))
	assert.ErrorIs(t, err, ErrDuplicateReference)
}

func TestCreateRejectsNonPositiveAmount(t *testing.T) {
	l := New(newTestDB(t))

	tx := pendingDeposit("TXREF1", "ws_CO_1")
	tx.Amount = decimal.Zero
	assert.Error(t, l.Create(context.Background(), tx))
}

func TestTransitionCompletesOnce(t *testing.T) {
	l := New(newTestDB(t))
	ctx := context.Background()

	tx := pendingDeposit("TXREF1", "ws_CO_1")
	require.NoError(t, l.Create(ctx, tx))

	receipt := "SBL12345"
	updated, err := l.Transition(ctx, tx.ID,
		[]db.TxStatus{db.StatusPending}, db.StatusCompleted, Patch{MpesaReceipt: &receipt})
	require.NoError(t, err)
	assert.Equal(t, db.StatusCompleted, updated.Status)
	assert.Equal(t, "SBL12345", updated.MpesaReceipt)
	require.NotNil(t, updated.CompletedAt)

	// Second attempt observes the terminal status and must fail stale.
	again, err := l.Transition(ctx, tx.ID,
		[]db.TxStatus{db.StatusPending}, db.StatusCompleted, Patch{})
	assert.ErrorIs(t, err, ErrStaleTransition)
	assert.Equal(t, db.StatusCompleted, again.Status)
}

func TestTransitionFromTerminalStates(t *testing.T) {
	l := New(newTestDB(t))
	ctx := context.Background()

	for i, terminal := range []db.TxStatus{db.StatusCompleted, db.StatusFailed, db.StatusCancelled} {
		tx := pendingDeposit(fmt.Sprintf("TXREF%d", i), fmt.Sprintf("ws_CO_%d", i))
		require.NoError(t, l.Create(ctx, tx))

		_, err := l.Transition(ctx, tx.ID, []db.TxStatus{db.StatusPending}, terminal, Patch{})
		require.NoError(t, err)

		for _, next := range []db.TxStatus{db.StatusPending, db.StatusCompleted, db.StatusFailed, db.StatusCancelled} {
			if next == terminal {
				continue
			}
			_, err := l.Transition(ctx, tx.ID, []db.TxStatus{db.StatusPending}, next, Patch{})
			assert.ErrorIs(t, err, ErrStaleTransition, "from %s to %s", terminal, next)
		}
	}
}

func TestTransitionMissingRow(t *testing.T) {
	l := New(newTestDB(t))

	_, err := l.Transition(context.Background(), 9999,
		[]db.TxStatus{db.StatusPending}, db.StatusCompleted, Patch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindByConversationID(t *testing.T) {
	l := New(newTestDB(t))
	ctx := context.Background()

	tx := &db.Transaction{
		UserID:    1,
		Kind:      db.KindMpesaPayout,
		Amount:    decimal.NewFromInt(500),
		Currency:  db.CurrencyKES,
		Status:    db.StatusPending,
		Reference: "TXPAY1",
		Metadata:  datatypes.JSONMap{db.MetaConversationID: "AG_1"},
	}
	require.NoError(t, l.Create(ctx, tx))

	got, err := l.FindByConversationID(ctx, "AG_1")
	require.NoError(t, err)
	assert.Equal(t, tx.ID, got.ID)

	_, err = l.FindByConversationID(ctx, "AG_other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttachChainHashKeepsStatus(t *testing.T) {
	l := New(newTestDB(t))
	ctx := context.Background()

	tx := pendingDeposit("TXREF1", "ws_CO_1")
	require.NoError(t, l.Create(ctx, tx))

	hash := "0xfeedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedface"
	require.NoError(t, l.AttachChainHash(ctx, tx.ID, hash))

	got, err := l.FindByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, hash, got.ChainHash)
	assert.Equal(t, db.StatusPending, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestFindByAny(t *testing.T) {
	l := New(newTestDB(t))
	ctx := context.Background()

	tx := pendingDeposit("TXREF1", "ws_CO_1")
	require.NoError(t, l.Create(ctx, tx))

	receipt := "SBL777"
	hash := "0xabadbabeabadbabeabadbabeabadbabeabadbabeabadbabeabadbabeabadbabe"
	_, err := l.Transition(ctx, tx.ID, []db.TxStatus{db.StatusPending}, db.StatusCompleted,
		Patch{MpesaReceipt: &receipt, ChainHash: &hash})
	require.NoError(t, err)

	for _, key := range []string{"TXREF1", receipt, hash, fmt.Sprint(tx.ID)} {
		got, err := l.FindByAny(ctx, key)
		require.NoError(t, err, "key %q", key)
		assert.Equal(t, tx.ID, got.ID)
	}

	_, err = l.FindByAny(ctx, "nothing-matches")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSumCompletedDepositsWindow(t *testing.T) {
	gdb := newTestDB(t)
	l := New(gdb)
	ctx := context.Background()

	mk := func(ref string, amount int64, status db.TxStatus, age time.Duration) {
		tx := &db.Transaction{
			UserID:    1,
			Kind:      db.KindMpesaDeposit,
			Amount:    decimal.NewFromInt(amount),
			Currency:  db.CurrencyKES,
			Status:    status,
			Reference: ref,
		}
		require.NoError(t, l.Create(ctx, tx))
		if age > 0 {
			require.NoError(t, gdb.Model(tx).Update("created_at", time.Now().Add(-age)).Error)
		}
	}

	mk("TXA", 600, db.StatusCompleted, 0)
	mk("TXB", 400, db.StatusCompleted, time.Hour)
	mk("TXC", 1000, db.StatusPending, 0)              // not completed
	mk("TXD", 5000, db.StatusCompleted, 48*time.Hour) // outside window

	sum, err := l.SumCompletedDeposits(ctx, 1, db.CurrencyKES, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(1000)), "got %s", sum)

	sum, err = l.SumCompletedDeposits(ctx, 2, db.CurrencyKES, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestListByUser(t *testing.T) {
	l := New(newTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Create(ctx, pendingDeposit(fmt.Sprintf("TXREF%d", i), fmt.Sprintf("ws_CO_%d", i))))
	}

	rows, err := l.ListByUser(ctx, 1, 3)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"merchantops/internal/apperror"
	"merchantops/internal/events"
	"merchantops/internal/model"
	"merchantops/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerDebit_ConcurrentNeverOverdraws(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateWallet(t, f.db, f.tenantID, 10000)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
		other        []error
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.ledger.Debit(ctx, LedgerMovement{
				TenantID:      f.tenantID,
				Amount:        1000,
				ReferenceType: model.RefTypeWithdrawal,
				ReferenceID:   fmt.Sprintf("wd-%02d", i),
				Actor:         f.finance,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperror.ErrInsufficientFunds):
				insufficient++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 10, insufficient)
	assert.Equal(t, int64(0), testutil.Balance(t, f.db, f.tenantID))
	assert.Equal(t, int64(10), testutil.Count(t, f.db, &model.LedgerEntry{}, "direction = ?", model.DirectionDebit))
	assert.Len(t, f.recorder.OfType(events.WalletDebited), 10)

	res, err := f.ledger.Reconcile(ctx, f.tenantID)
	require.NoError(t, err)
	assert.True(t, res.Balanced)
	assert.Equal(t, int64(0), res.LedgerSum)
}

func TestLedgerDebit_InsufficientFundsHasNoEffect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateWallet(t, f.db, f.tenantID, 500)

	_, err := f.ledger.Debit(ctx, LedgerMovement{
		TenantID: f.tenantID, Amount: 501, ReferenceType: model.RefTypeWithdrawal, ReferenceID: "wd-1",
	})
	require.ErrorIs(t, err, apperror.ErrInsufficientFunds)
	assert.True(t, apperror.IsRetryable(err))
	assert.Contains(t, err.Error(), "5.00")

	assert.Equal(t, int64(500), testutil.Balance(t, f.db, f.tenantID))
	assert.Zero(t, testutil.Count(t, f.db, &model.LedgerEntry{}, "direction = ?", model.DirectionDebit))
	assert.Empty(t, f.recorder.OfType(events.WalletDebited))
}

func TestLedgerDebit_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Debit(ctx, LedgerMovement{TenantID: f.tenantID, Amount: 0, ReferenceType: "X", ReferenceID: "1"})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.ledger.Debit(ctx, LedgerMovement{TenantID: f.tenantID, Amount: 100})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.ledger.Debit(ctx, LedgerMovement{TenantID: f.tenantID, Amount: 100, ReferenceType: "X", ReferenceID: "1"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestLedgerCredit_CreatesWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry, err := f.ledger.Credit(ctx, LedgerMovement{
		TenantID: f.tenantID, Amount: 2500, ReferenceType: model.RefTypeReferralReward, ReferenceID: "ref-7",
	})
	require.NoError(t, err)
	assert.Equal(t, model.DirectionCredit, entry.Direction)
	assert.Equal(t, "NGN", entry.Currency)

	summary, err := f.ledger.Summary(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), summary.Balance)
	assert.Equal(t, "25.00", summary.BalanceDisplay)
	assert.False(t, summary.PinSet)
	assert.Nil(t, summary.LockedUntil)

	credited := f.recorder.OfType(events.WalletCredited)
	require.Len(t, credited, 1)
	assert.Equal(t, "ref-7", credited[0].Payload["entity_id"])
}

func TestLedgerReconcile_DetectsMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateWallet(t, f.db, f.tenantID, 10000)

	res, err := f.ledger.Reconcile(ctx, f.tenantID)
	require.NoError(t, err)
	assert.True(t, res.Balanced)

	require.NoError(t, f.db.Model(&model.Wallet{}).
		Where("tenant_id = ?", f.tenantID).
		Update("available_balance", 12000).Error)

	res, err = f.ledger.Reconcile(ctx, f.tenantID)
	require.NoError(t, err)
	assert.False(t, res.Balanced)
	assert.Equal(t, int64(2000), res.Difference)
	assert.Len(t, f.recorder.OfType(events.LedgerReconcileMismatched), 1)

	_, err = f.ledger.Reconcile(ctx, uuid.New())
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestLedgerRefundOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateWallet(t, f.db, f.tenantID, 20000)
	order := testutil.CreateOrder(t, f.db, f.tenantID, 15000)

	partial, err := f.ledger.RefundOrder(ctx, RefundOrderInput{
		TenantID: f.tenantID, OrderID: order.ID, Amount: 5000, Reason: "damaged item", Actor: f.finance,
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPartiallyRefunded, partial.OrderStatus)
	assert.Equal(t, int64(5000), partial.RefundedAmount)
	assert.Equal(t, "50.00", partial.AmountDisplay)

	_, err = f.ledger.RefundOrder(ctx, RefundOrderInput{TenantID: f.tenantID, OrderID: order.ID, Amount: 10001})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	full, err := f.ledger.RefundOrder(ctx, RefundOrderInput{TenantID: f.tenantID, OrderID: order.ID, Amount: 10000})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusRefunded, full.OrderStatus)
	assert.Equal(t, int64(15000), full.RefundedAmount)

	_, err = f.ledger.RefundOrder(ctx, RefundOrderInput{TenantID: f.tenantID, OrderID: order.ID, Amount: 1})
	assert.ErrorIs(t, err, apperror.ErrConflict)

	assert.Equal(t, int64(5000), testutil.Balance(t, f.db, f.tenantID))
	assert.Equal(t, int64(2), testutil.Count(t, f.db, &model.OrderEvent{}, "order_id = ?", order.ID))

	// nested debits do not emit wallet events of their own
	assert.Empty(t, f.recorder.OfType(events.WalletDebited))

	_, err = f.ledger.RefundOrder(ctx, RefundOrderInput{TenantID: uuid.New(), OrderID: order.ID, Amount: 1})
	assert.ErrorIs(t, err, apperror.ErrForbidden)
	_, err = f.ledger.RefundOrder(ctx, RefundOrderInput{TenantID: f.tenantID, OrderID: uuid.New(), Amount: 1})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestLedgerRefundOrder_InsufficientFundsRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateWallet(t, f.db, f.tenantID, 1000)
	order := testutil.CreateOrder(t, f.db, f.tenantID, 15000)

	_, err := f.ledger.RefundOrder(ctx, RefundOrderInput{TenantID: f.tenantID, OrderID: order.ID, Amount: 15000})
	require.ErrorIs(t, err, apperror.ErrInsufficientFunds)

	unchanged, err := f.repos.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, unchanged.Status)
	assert.Zero(t, unchanged.RefundedAmount)
	assert.Zero(t, testutil.Count(t, f.db, &model.OrderEvent{}, "order_id = ?", order.ID))
	assert.Equal(t, int64(1000), testutil.Balance(t, f.db, f.tenantID))
}

func TestLedgerHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateWallet(t, f.db, f.tenantID, 10000)

	for i := 0; i < 3; i++ {
		_, err := f.ledger.Debit(ctx, LedgerMovement{
			TenantID: f.tenantID, Amount: 1250, ReferenceType: model.RefTypeWithdrawal, ReferenceID: fmt.Sprintf("wd-%d", i),
		})
		require.NoError(t, err)
	}

	all, err := f.ledger.History(ctx, f.tenantID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	limited, err := f.ledger.History(ctx, f.tenantID, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, model.DirectionDebit, limited[0].Direction)
	assert.Equal(t, "12.50", limited[0].AmountDisplay)

	empty, err := f.ledger.History(ctx, uuid.New(), 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"merchantops/internal/apperror"
	"merchantops/internal/events"
	"merchantops/internal/model"
	"merchantops/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *captureSender) SendOTP(_ context.Context, w *model.Withdrawal, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codes == nil {
		c.codes = map[string]string{}
	}
	c.codes[w.ID.String()] = code
	return nil
}

func (c *captureSender) code(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[id]
}

func newWithdrawalService(f *fixture, sender OTPSender) *withdrawalService {
	return NewWithdrawalService(f.tx, f.repos.wallets, f.repos.withdrawals, f.ledger, sender, f.recorder,
		10*time.Minute, "NGN", zerolog.Nop()).(*withdrawalService)
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestWithdrawal_OTPFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := &captureSender{}
	svc := newWithdrawalService(f, sender)
	testutil.CreateWallet(t, f.db, f.tenantID, 10000)
	require.NoError(t, svc.SetPin(ctx, f.tenantID, "1234"))

	w, err := svc.Initiate(ctx, f.tenantID, f.finance, InitiateWithdrawalDTO{Amount: 5000, BankAccountID: "gtb-0123", Pin: "1234"})
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalPendingOTP, w.Status)
	assert.NotNil(t, w.OTPExpiresAt)
	code := sender.code(w.ID)
	require.Len(t, code, 6)
	id := uuid.MustParse(w.ID)

	issued := f.recorder.OfType(events.WithdrawalOTPIssued)
	require.Len(t, issued, 1)
	assert.NotContains(t, issued[0].Payload, "otp")

	// wrong code
	_, err = svc.Confirm(ctx, f.tenantID, id, f.finance, wrongCode(code))
	require.ErrorIs(t, err, apperror.ErrInvalidOTP)
	assert.Equal(t, int64(10000), testutil.Balance(t, f.db, f.tenantID))

	// expired code
	svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	_, err = svc.Confirm(ctx, f.tenantID, id, f.finance, code)
	require.ErrorIs(t, err, apperror.ErrInvalidOTP)
	assert.Contains(t, err.Error(), "expired")
	svc.now = time.Now

	stored, err := f.repos.withdrawals.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalPendingOTP, stored.Status)
	assert.Equal(t, int64(10000), testutil.Balance(t, f.db, f.tenantID))

	confirmed, err := svc.Confirm(ctx, f.tenantID, id, f.finance, code)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalProcessing, confirmed.Status)
	assert.Nil(t, confirmed.OTPExpiresAt)

	assert.Equal(t, int64(5000), testutil.Balance(t, f.db, f.tenantID))
	debits, err := f.repos.ledger.ListByReference(ctx, model.RefTypeWithdrawal, w.ID)
	require.NoError(t, err)
	require.Len(t, debits, 1)
	assert.Equal(t, int64(5000), debits[0].Amount)
	assert.Equal(t, model.DirectionDebit, debits[0].Direction)

	stored, err = f.repos.withdrawals.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, stored.OTPCode)
	assert.Nil(t, stored.OTPExpiresAt)

	_, err = svc.Confirm(ctx, f.tenantID, id, f.finance, code)
	assert.ErrorIs(t, err, apperror.ErrConflict)
	assert.Len(t, f.recorder.OfType(events.WithdrawalConfirmed), 1)
}

func TestWithdrawal_ConfirmInsufficientFundsStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := &captureSender{}
	svc := newWithdrawalService(f, sender)
	testutil.CreateWallet(t, f.db, f.tenantID, 6000)
	require.NoError(t, svc.SetPin(ctx, f.tenantID, "4321"))

	w, err := svc.Initiate(ctx, f.tenantID, f.finance, InitiateWithdrawalDTO{Amount: 5000, BankAccountID: "acc", Pin: "4321"})
	require.NoError(t, err)

	_, err = f.ledger.Debit(ctx, LedgerMovement{TenantID: f.tenantID, Amount: 2000, ReferenceType: model.RefTypeRefund, ReferenceID: "o-1"})
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, f.tenantID, uuid.MustParse(w.ID), f.finance, sender.code(w.ID))
	require.ErrorIs(t, err, apperror.ErrInsufficientFunds)

	stored, err := f.repos.withdrawals.FindByID(ctx, uuid.MustParse(w.ID))
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalPendingOTP, stored.Status)
	assert.NotNil(t, stored.OTPCode)
	assert.Equal(t, int64(4000), testutil.Balance(t, f.db, f.tenantID))
}

func TestWithdrawal_InitiateChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := newWithdrawalService(f, &captureSender{})
	testutil.CreateWallet(t, f.db, f.tenantID, 1000)

	_, err := svc.Initiate(ctx, f.tenantID, f.finance, InitiateWithdrawalDTO{Amount: 500, BankAccountID: "acc", Pin: "1234"})
	assert.ErrorIs(t, err, apperror.ErrValidation, "PIN not set")

	assert.ErrorIs(t, svc.SetPin(ctx, f.tenantID, "12ab"), apperror.ErrValidation)
	assert.ErrorIs(t, svc.SetPin(ctx, f.tenantID, "123"), apperror.ErrValidation)
	require.NoError(t, svc.SetPin(ctx, f.tenantID, "123456"))

	_, err = svc.Initiate(ctx, f.tenantID, f.finance, InitiateWithdrawalDTO{Amount: 5000, BankAccountID: "acc", Pin: "123456"})
	assert.ErrorIs(t, err, apperror.ErrInsufficientFunds)

	_, err = svc.Initiate(ctx, f.tenantID, f.finance, InitiateWithdrawalDTO{Amount: 0, BankAccountID: "acc", Pin: "123456"})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	assert.Zero(t, testutil.Count(t, f.db, &model.Withdrawal{}, ""))
}

func TestWithdrawal_PinLockout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := newWithdrawalService(f, &captureSender{})
	testutil.CreateWallet(t, f.db, f.tenantID, 1000)
	require.NoError(t, svc.SetPin(ctx, f.tenantID, "2468"))

	for i := 1; i < maxPinAttempts; i++ {
		err := svc.VerifyPin(ctx, f.tenantID, "0000")
		require.ErrorIs(t, err, apperror.ErrValidation, "attempt %d", i)
	}
	err := svc.VerifyPin(ctx, f.tenantID, "0000")
	require.ErrorIs(t, err, apperror.ErrWalletLocked)

	err = svc.VerifyPin(ctx, f.tenantID, "2468")
	assert.ErrorIs(t, err, apperror.ErrWalletLocked)

	summary, err := f.ledger.Summary(ctx, f.tenantID)
	require.NoError(t, err)
	assert.NotNil(t, summary.LockedUntil)

	// lock expires
	svc.now = func() time.Time { return time.Now().Add(pinLockout + time.Minute) }
	require.NoError(t, svc.VerifyPin(ctx, f.tenantID, "2468"))

	wallet, err := f.repos.wallets.FindByTenant(ctx, f.tenantID)
	require.NoError(t, err)
	assert.Zero(t, wallet.FailedPinAttempts)
	assert.Nil(t, wallet.LockedUntil)
}

func TestWithdrawal_PayoutOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := &captureSender{}
	svc := newWithdrawalService(f, sender)
	testutil.CreateWallet(t, f.db, f.tenantID, 10000)
	require.NoError(t, svc.SetPin(ctx, f.tenantID, "1357"))

	confirm := func(amount int64) uuid.UUID {
		w, err := svc.Initiate(ctx, f.tenantID, f.finance, InitiateWithdrawalDTO{Amount: amount, BankAccountID: "acc", Pin: "1357"})
		require.NoError(t, err)
		_, err = svc.Confirm(ctx, f.tenantID, uuid.MustParse(w.ID), f.finance, sender.code(w.ID))
		require.NoError(t, err)
		return uuid.MustParse(w.ID)
	}

	paid := confirm(3000)
	done, err := svc.MarkCompleted(ctx, f.tenantID, paid, "PAYSTACK-991")
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalCompleted, done.Status)
	assert.Equal(t, "PAYSTACK-991", done.ProviderRef)

	_, err = svc.MarkFailed(ctx, uuid.Nil, paid, "late failure")
	assert.ErrorIs(t, err, apperror.ErrConflict)

	bounced := confirm(4000)
	assert.Equal(t, int64(3000), testutil.Balance(t, f.db, f.tenantID))

	_, err = svc.MarkFailed(ctx, uuid.New(), bounced, "account closed")
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	failed, err := svc.MarkFailed(ctx, f.tenantID, bounced, "account closed")
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalFailed, failed.Status)
	assert.Equal(t, "account closed", failed.FailureReason)
	assert.Equal(t, int64(7000), testutil.Balance(t, f.db, f.tenantID))

	reversals, err := f.repos.ledger.ListByReference(ctx, model.RefTypeWithdrawalReversal, bounced.String())
	require.NoError(t, err)
	require.Len(t, reversals, 1)
	assert.Equal(t, model.DirectionCredit, reversals[0].Direction)

	res, err := f.ledger.Reconcile(ctx, f.tenantID)
	require.NoError(t, err)
	assert.True(t, res.Balanced)

	list, total, err := svc.List(ctx, f.tenantID, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)
}

package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"merchantops/internal/apperror"
	"merchantops/internal/events"
	"merchantops/internal/model"
	"merchantops/internal/repository"
	"merchantops/internal/tracing"
	"merchantops/pkg/pagination"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	maxPinAttempts = 5
	pinLockout     = 15 * time.Minute
)

var pinPattern = regexp.MustCompile(`^\d{4,6}$`)

// OTPSender delivers a withdrawal code to the merchant out of band.
type OTPSender interface {
	SendOTP(ctx context.Context, w *model.Withdrawal, code string) error
}

// LogOTPSender writes codes to the log. Development only.
type LogOTPSender struct {
	Log zerolog.Logger
}

func (s LogOTPSender) SendOTP(_ context.Context, w *model.Withdrawal, code string) error {
	s.Log.Debug().Str("reference", w.ReferenceCode).Str("otp", code).Msg("withdrawal otp issued")
	return nil
}

// --- DTOs ---

type SetPinDTO struct {
	Pin string `json:"pin" binding:"required"`
}

type InitiateWithdrawalDTO struct {
	Amount        int64  `json:"amount" binding:"required,gt=0"`
	BankAccountID string `json:"bank_account_id" binding:"required"`
	Pin           string `json:"pin" binding:"required"`
}

type ConfirmWithdrawalDTO struct {
	OTP string `json:"otp" binding:"required"`
}

type CompleteWithdrawalDTO struct {
	ProviderRef string `json:"provider_ref"`
	Success     bool   `json:"success"`
	Reason      string `json:"reason"`
}

type WithdrawalResponse struct {
	ID            string  `json:"id"`
	ReferenceCode string  `json:"reference_code"`
	Status        string  `json:"status"`
	Amount        int64   `json:"amount"`
	AmountDisplay string  `json:"amount_display"`
	Currency      string  `json:"currency"`
	BankAccountID string  `json:"bank_account_id"`
	OTPExpiresAt  *string `json:"otp_expires_at,omitempty"`
	ProviderRef   string  `json:"provider_ref,omitempty"`
	FailureReason string  `json:"failure_reason,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// --- Interface ---

type WithdrawalService interface {
	SetPin(ctx context.Context, tenantID uuid.UUID, pin string) error
	VerifyPin(ctx context.Context, tenantID uuid.UUID, pin string) error
	Initiate(ctx context.Context, tenantID uuid.UUID, actor Actor, req InitiateWithdrawalDTO) (WithdrawalResponse, error)
	Confirm(ctx context.Context, tenantID, withdrawalID uuid.UUID, actor Actor, otp string) (WithdrawalResponse, error)
	MarkCompleted(ctx context.Context, tenantID, withdrawalID uuid.UUID, providerRef string) (WithdrawalResponse, error)
	MarkFailed(ctx context.Context, tenantID, withdrawalID uuid.UUID, reason string) (WithdrawalResponse, error)
	List(ctx context.Context, tenantID uuid.UUID, page, limit int) ([]WithdrawalResponse, int64, error)
}

type withdrawalService struct {
	tx          repository.TransactionManager
	wallets     repository.WalletRepository
	withdrawals repository.WithdrawalRepository
	ledger      LedgerService
	sender      OTPSender
	publisher   events.Publisher
	otpTTL      time.Duration
	currency    string
	log         zerolog.Logger
	now         func() time.Time
}

func NewWithdrawalService(
	tx repository.TransactionManager,
	wallets repository.WalletRepository,
	withdrawals repository.WithdrawalRepository,
	ledger LedgerService,
	sender OTPSender,
	publisher events.Publisher,
	otpTTL time.Duration,
	currency string,
	log zerolog.Logger,
) WithdrawalService {
	return &withdrawalService{
		tx:          tx,
		wallets:     wallets,
		withdrawals: withdrawals,
		ledger:      ledger,
		sender:      sender,
		publisher:   publisher,
		otpTTL:      otpTTL,
		currency:    currency,
		log:         log,
		now:         time.Now,
	}
}

// --- Implementation ---

func (s *withdrawalService) SetPin(ctx context.Context, tenantID uuid.UUID, pin string) error {
	if !pinPattern.MatchString(pin) {
		return apperror.New(apperror.ErrValidation, "wallet.set_pin", "PIN must be 4 to 6 digits")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash PIN: %w", err)
	}

	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.wallets.Ensure(txCtx, tenantID, s.currency); err != nil {
			return fmt.Errorf("failed to ensure wallet: %w", err)
		}
		if err := s.wallets.SetPin(txCtx, tenantID, string(hash)); err != nil {
			return fmt.Errorf("failed to store PIN: %w", err)
		}
		return nil
	})
}

// VerifyPin checks the transaction PIN. Five consecutive failures lock the
// wallet for fifteen minutes.
func (s *withdrawalService) VerifyPin(ctx context.Context, tenantID uuid.UUID, pin string) error {
	const op = "wallet.verify_pin"

	wallet, err := s.wallets.FindByTenant(ctx, tenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.New(apperror.ErrNotFound, op, "no wallet for tenant")
	}
	if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}
	if !wallet.PinSet || wallet.PinHash == "" {
		return apperror.New(apperror.ErrValidation, op, "PIN not set")
	}

	now := s.now()
	if wallet.IsLocked(now) {
		return apperror.New(apperror.ErrWalletLocked, op, "locked until %s", wallet.LockedUntil.UTC().Format(time.RFC3339))
	}

	if bcrypt.CompareHashAndPassword([]byte(wallet.PinHash), []byte(pin)) != nil {
		if err := s.wallets.RecordPinFailure(ctx, tenantID, maxPinAttempts, now.Add(pinLockout).UTC()); err != nil {
			return fmt.Errorf("failed to record PIN failure: %w", err)
		}
		remaining := maxPinAttempts - (wallet.FailedPinAttempts + 1)
		if remaining <= 0 {
			return apperror.New(apperror.ErrWalletLocked, op, "too many invalid PIN attempts")
		}
		return apperror.New(apperror.ErrValidation, op, "invalid PIN, %d attempts remaining", remaining)
	}

	if wallet.FailedPinAttempts > 0 || wallet.LockedUntil != nil {
		if err := s.wallets.ResetPinFailures(ctx, tenantID); err != nil {
			return fmt.Errorf("failed to reset PIN attempts: %w", err)
		}
	}
	return nil
}

func (s *withdrawalService) Initiate(ctx context.Context, tenantID uuid.UUID, actor Actor, req InitiateWithdrawalDTO) (WithdrawalResponse, error) {
	const op = "wallet.initiate_withdrawal"

	if req.Amount <= 0 {
		return WithdrawalResponse{}, apperror.New(apperror.ErrValidation, op, "amount must be positive")
	}
	if err := s.VerifyPin(ctx, tenantID, req.Pin); err != nil {
		return WithdrawalResponse{}, err
	}

	// Advisory only; the guarded debit at confirmation is authoritative.
	wallet, err := s.wallets.FindByTenant(ctx, tenantID)
	if err != nil {
		return WithdrawalResponse{}, fmt.Errorf("failed to load wallet: %w", err)
	}
	if wallet.AvailableBalance < req.Amount {
		return WithdrawalResponse{}, apperror.New(apperror.ErrInsufficientFunds, op, "balance %s is below %s",
			formatMinor(wallet.AvailableBalance), formatMinor(req.Amount))
	}

	code, err := generateOTP()
	if err != nil {
		return WithdrawalResponse{}, fmt.Errorf("failed to generate otp: %w", err)
	}
	ref, err := generateReference()
	if err != nil {
		return WithdrawalResponse{}, fmt.Errorf("failed to generate reference: %w", err)
	}

	expires := s.now().Add(s.otpTTL).UTC()
	w := &model.Withdrawal{
		TenantID:      tenantID,
		RequestedBy:   actor.ID,
		Amount:        req.Amount,
		Currency:      wallet.Currency,
		BankAccountID: req.BankAccountID,
		ReferenceCode: ref,
		Status:        model.WithdrawalPendingOTP,
		OTPCode:       &code,
		OTPExpiresAt:  &expires,
	}
	if err := s.withdrawals.Create(ctx, w); err != nil {
		return WithdrawalResponse{}, fmt.Errorf("failed to create withdrawal: %w", err)
	}

	if s.sender != nil {
		if err := s.sender.SendOTP(ctx, w, code); err != nil {
			s.log.Error().Err(err).Str("reference", ref).Msg("otp delivery failed")
		}
	}
	events.Emit(ctx, s.publisher, s.log, events.New(tenantID, events.WithdrawalOTPIssued, actor.event(), ref,
		map[string]interface{}{
			"entity_id":      w.ID.String(),
			"reference_code": ref,
			"amount":         w.Amount,
			"amount_display": formatMinor(w.Amount),
			"otp_expires_at": expires.Format(time.RFC3339),
		}))

	return toWithdrawalResponse(*w), nil
}

// Confirm checks the OTP and then, in one transaction, debits the wallet,
// moves the withdrawal to PROCESSING and clears the OTP. On any failure the
// withdrawal stays PENDING_OTP.
func (s *withdrawalService) Confirm(ctx context.Context, tenantID, withdrawalID uuid.UUID, actor Actor, otp string) (resp WithdrawalResponse, err error) {
	const op = "wallet.confirm_withdrawal"

	ctx, span := tracing.Start(ctx, op, map[string]string{"withdrawal_id": withdrawalID.String()})
	defer func() { tracing.End(span, err) }()

	var w *model.Withdrawal
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		w, err = s.load(txCtx, op, tenantID, withdrawalID)
		if err != nil {
			return err
		}
		if w.Status != model.WithdrawalPendingOTP {
			return apperror.New(apperror.ErrConflict, op, "withdrawal is %s", w.Status)
		}
		if w.OTPCode == nil || subtle.ConstantTimeCompare([]byte(*w.OTPCode), []byte(strings.TrimSpace(otp))) != 1 {
			return apperror.New(apperror.ErrInvalidOTP, op, "code does not match")
		}
		if w.OTPExpiresAt == nil || !s.now().Before(*w.OTPExpiresAt) {
			return apperror.New(apperror.ErrInvalidOTP, op, "code expired")
		}

		if _, err := s.ledger.Debit(txCtx, LedgerMovement{
			TenantID:      w.TenantID,
			Amount:        w.Amount,
			ReferenceType: model.RefTypeWithdrawal,
			ReferenceID:   w.ID.String(),
			Description:   "Withdrawal " + w.ReferenceCode,
			Actor:         actor,
		}); err != nil {
			return err
		}

		moved, err := s.withdrawals.Transition(txCtx, w.ID, model.WithdrawalPendingOTP, map[string]interface{}{
			"status":         model.WithdrawalProcessing,
			"otp_code":       nil,
			"otp_expires_at": nil,
		})
		if err != nil {
			return fmt.Errorf("failed to update withdrawal: %w", err)
		}
		if !moved {
			return apperror.New(apperror.ErrConflict, op, "withdrawal already confirmed")
		}
		w.Status = model.WithdrawalProcessing
		w.OTPCode = nil
		w.OTPExpiresAt = nil
		return nil
	})
	if err != nil {
		return WithdrawalResponse{}, err
	}

	events.Emit(ctx, s.publisher, s.log, events.New(w.TenantID, events.WithdrawalConfirmed, actor.event(), w.ReferenceCode,
		map[string]interface{}{
			"entity_id":      w.ID.String(),
			"reference_code": w.ReferenceCode,
			"amount":         w.Amount,
			"amount_display": formatMinor(w.Amount),
		}))
	return toWithdrawalResponse(*w), nil
}

// MarkCompleted records a successful payout. A nil tenantID skips the
// ownership check (payout callbacks and ops tooling).
func (s *withdrawalService) MarkCompleted(ctx context.Context, tenantID, withdrawalID uuid.UUID, providerRef string) (WithdrawalResponse, error) {
	const op = "wallet.complete_withdrawal"

	w, err := s.load(ctx, op, tenantID, withdrawalID)
	if err != nil {
		return WithdrawalResponse{}, err
	}
	moved, err := s.withdrawals.Transition(ctx, w.ID, model.WithdrawalProcessing, map[string]interface{}{
		"status":       model.WithdrawalCompleted,
		"provider_ref": providerRef,
	})
	if err != nil {
		return WithdrawalResponse{}, fmt.Errorf("failed to update withdrawal: %w", err)
	}
	if !moved {
		return WithdrawalResponse{}, apperror.New(apperror.ErrConflict, op, "withdrawal is %s", w.Status)
	}
	w.Status = model.WithdrawalCompleted
	w.ProviderRef = providerRef

	events.Emit(ctx, s.publisher, s.log, events.New(w.TenantID, events.WithdrawalCompleted, events.System, w.ReferenceCode,
		map[string]interface{}{"entity_id": w.ID.String(), "provider_ref": providerRef}))
	return toWithdrawalResponse(*w), nil
}

// MarkFailed records a payout failure and returns the funds to the wallet with
// a WITHDRAWAL_REVERSAL credit.
func (s *withdrawalService) MarkFailed(ctx context.Context, tenantID, withdrawalID uuid.UUID, reason string) (WithdrawalResponse, error) {
	const op = "wallet.fail_withdrawal"

	var w *model.Withdrawal
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		w, err = s.load(txCtx, op, tenantID, withdrawalID)
		if err != nil {
			return err
		}
		moved, err := s.withdrawals.Transition(txCtx, w.ID, model.WithdrawalProcessing, map[string]interface{}{
			"status":         model.WithdrawalFailed,
			"failure_reason": reason,
		})
		if err != nil {
			return fmt.Errorf("failed to update withdrawal: %w", err)
		}
		if !moved {
			return apperror.New(apperror.ErrConflict, op, "withdrawal is %s", w.Status)
		}

		if _, err := s.ledger.Credit(txCtx, LedgerMovement{
			TenantID:      w.TenantID,
			Amount:        w.Amount,
			ReferenceType: model.RefTypeWithdrawalReversal,
			ReferenceID:   w.ID.String(),
			Description:   "Reversal of withdrawal " + w.ReferenceCode,
			Actor:         SystemActor,
		}); err != nil {
			return err
		}
		w.Status = model.WithdrawalFailed
		w.FailureReason = reason
		return nil
	})
	if err != nil {
		return WithdrawalResponse{}, err
	}

	events.Emit(ctx, s.publisher, s.log, events.New(w.TenantID, events.WithdrawalFailed, events.System, w.ReferenceCode,
		map[string]interface{}{"entity_id": w.ID.String(), "reason": reason, "amount": w.Amount}))
	return toWithdrawalResponse(*w), nil
}

func (s *withdrawalService) List(ctx context.Context, tenantID uuid.UUID, page, limit int) ([]WithdrawalResponse, int64, error) {
	p := pagination.New(page, limit)
	items, total, err := s.withdrawals.ListByTenant(ctx, tenantID, p.Page, p.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch withdrawals: %w", err)
	}
	result := make([]WithdrawalResponse, 0, len(items))
	for _, w := range items {
		result = append(result, toWithdrawalResponse(w))
	}
	return result, total, nil
}

// load fetches a withdrawal; a non-nil tenantID must own it.
func (s *withdrawalService) load(ctx context.Context, op string, tenantID, id uuid.UUID) (*model.Withdrawal, error) {
	w, err := s.withdrawals.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.New(apperror.ErrNotFound, op, "withdrawal %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load withdrawal: %w", err)
	}
	if tenantID != uuid.Nil && w.TenantID != tenantID {
		return nil, apperror.New(apperror.ErrForbidden, op, "withdrawal belongs to another tenant")
	}
	return w, nil
}

// generateOTP returns a uniformly random 6-digit code.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func generateReference() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "WD-" + strings.ToUpper(hex.EncodeToString(b)), nil
}

func toWithdrawalResponse(w model.Withdrawal) WithdrawalResponse {
	resp := WithdrawalResponse{
		ID:            w.ID.String(),
		ReferenceCode: w.ReferenceCode,
		Status:        w.Status,
		Amount:        w.Amount,
		AmountDisplay: formatMinor(w.Amount),
		Currency:      w.Currency,
		BankAccountID: w.BankAccountID,
		ProviderRef:   w.ProviderRef,
		FailureReason: w.FailureReason,
		CreatedAt:     w.CreatedAt.Format(time.RFC3339),
	}
	if w.OTPExpiresAt != nil {
		s := w.OTPExpiresAt.Format(time.RFC3339)
		resp.OTPExpiresAt = &s
	}
	return resp
}

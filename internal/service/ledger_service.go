package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"merchantops/internal/apperror"
	"merchantops/internal/events"
	"merchantops/internal/metrics"
	"merchantops/internal/model"
	"merchantops/internal/repository"
	"merchantops/internal/tracing"
	"merchantops/pkg/pagination"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// --- DTOs ---

type LedgerMovement struct {
	TenantID      uuid.UUID
	Amount        int64
	ReferenceType string
	ReferenceID   string
	Description   string
	Actor         Actor
}

type RefundOrderInput struct {
	TenantID  uuid.UUID
	OrderID   uuid.UUID
	Amount    int64
	Reason    string
	RequestID uuid.UUID
	Actor     Actor
}

type RefundResult struct {
	OrderID        string `json:"order_id"`
	OrderStatus    string `json:"order_status"`
	RefundedAmount int64  `json:"refunded_amount"`
	TotalAmount    int64  `json:"total_amount"`
	LedgerEntryID  string `json:"ledger_entry_id"`
	Amount         int64  `json:"amount"`
	AmountDisplay  string `json:"amount_display"`
}

type WalletSummaryResponse struct {
	TenantID       string  `json:"tenant_id"`
	Balance        int64   `json:"balance"`
	BalanceDisplay string  `json:"balance_display"`
	Currency       string  `json:"currency"`
	PinSet         bool    `json:"pin_set"`
	LockedUntil    *string `json:"locked_until"`
}

type LedgerEntryResponse struct {
	ID            string `json:"id"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
	Direction     string `json:"direction"`
	Amount        int64  `json:"amount"`
	AmountDisplay string `json:"amount_display"`
	Currency      string `json:"currency"`
	Description   string `json:"description"`
	CreatedAt     string `json:"created_at"`
}

type ReconcileResult struct {
	TenantID      string `json:"tenant_id"`
	WalletBalance int64  `json:"wallet_balance"`
	LedgerSum     int64  `json:"ledger_sum"`
	Difference    int64  `json:"difference"`
	Balanced      bool   `json:"balanced"`
}

// --- Interface ---

type LedgerService interface {
	Debit(ctx context.Context, m LedgerMovement) (*model.LedgerEntry, error)
	Credit(ctx context.Context, m LedgerMovement) (*model.LedgerEntry, error)
	RefundOrder(ctx context.Context, in RefundOrderInput) (*RefundResult, error)
	Reconcile(ctx context.Context, tenantID uuid.UUID) (ReconcileResult, error)
	Summary(ctx context.Context, tenantID uuid.UUID) (WalletSummaryResponse, error)
	History(ctx context.Context, tenantID uuid.UUID, limit int) ([]LedgerEntryResponse, error)
}

type ledgerService struct {
	tx        repository.TransactionManager
	wallets   repository.WalletRepository
	ledger    repository.LedgerRepository
	orders    repository.OrderRepository
	publisher events.Publisher
	currency  string
	log       zerolog.Logger
}

func NewLedgerService(
	tx repository.TransactionManager,
	wallets repository.WalletRepository,
	ledger repository.LedgerRepository,
	orders repository.OrderRepository,
	publisher events.Publisher,
	currency string,
	log zerolog.Logger,
) LedgerService {
	return &ledgerService{
		tx:        tx,
		wallets:   wallets,
		ledger:    ledger,
		orders:    orders,
		publisher: publisher,
		currency:  currency,
		log:       log,
	}
}

// --- Implementation ---

// Debit decrements the wallet with a guarded update and appends one DEBIT entry.
// When ctx already carries a transaction the debit joins it and no event is
// emitted; the enclosing operation reports the outcome.
func (s *ledgerService) Debit(ctx context.Context, m LedgerMovement) (entry *model.LedgerEntry, err error) {
	const op = "ledger.debit"
	if err := validateMovement(op, m); err != nil {
		return nil, err
	}

	ctx, span := tracing.Start(ctx, op, map[string]string{"reference_type": m.ReferenceType, "reference_id": m.ReferenceID})
	defer func() { tracing.End(span, err) }()

	owned := !repository.InTx(ctx)
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		ok, err := s.wallets.Debit(txCtx, m.TenantID, m.Amount)
		if err != nil {
			return fmt.Errorf("failed to debit wallet: %w", err)
		}
		wallet, err := s.wallets.FindByTenant(txCtx, m.TenantID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.New(apperror.ErrNotFound, op, "no wallet for tenant")
		}
		if err != nil {
			return fmt.Errorf("failed to load wallet: %w", err)
		}
		if !ok {
			return apperror.New(apperror.ErrInsufficientFunds, op, "balance %s is below %s",
				formatMinor(wallet.AvailableBalance), formatMinor(m.Amount))
		}

		entry = &model.LedgerEntry{
			TenantID:      m.TenantID,
			ReferenceType: m.ReferenceType,
			ReferenceID:   m.ReferenceID,
			Direction:     model.DirectionDebit,
			Amount:        m.Amount,
			Currency:      wallet.Currency,
			Description:   m.Description,
		}
		if err := s.ledger.Create(txCtx, entry); err != nil {
			return fmt.Errorf("failed to write ledger entry: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, apperror.ErrInsufficientFunds) {
			metrics.RecordDebit(m.ReferenceType, "insufficient_funds")
		}
		return nil, err
	}

	metrics.RecordDebit(m.ReferenceType, "ok")
	if owned {
		s.emitMovement(ctx, events.WalletDebited, m, entry)
	}
	return entry, nil
}

// Credit increments the wallet, creating it on first use, and appends one CREDIT entry.
func (s *ledgerService) Credit(ctx context.Context, m LedgerMovement) (*model.LedgerEntry, error) {
	const op = "ledger.credit"
	if err := validateMovement(op, m); err != nil {
		return nil, err
	}

	owned := !repository.InTx(ctx)
	var entry *model.LedgerEntry
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.wallets.Ensure(txCtx, m.TenantID, s.currency); err != nil {
			return fmt.Errorf("failed to ensure wallet: %w", err)
		}
		if _, err := s.wallets.Credit(txCtx, m.TenantID, m.Amount); err != nil {
			return fmt.Errorf("failed to credit wallet: %w", err)
		}
		wallet, err := s.wallets.FindByTenant(txCtx, m.TenantID)
		if err != nil {
			return fmt.Errorf("failed to load wallet: %w", err)
		}

		entry = &model.LedgerEntry{
			TenantID:      m.TenantID,
			ReferenceType: m.ReferenceType,
			ReferenceID:   m.ReferenceID,
			Direction:     model.DirectionCredit,
			Amount:        m.Amount,
			Currency:      wallet.Currency,
			Description:   m.Description,
		}
		if err := s.ledger.Create(txCtx, entry); err != nil {
			return fmt.Errorf("failed to write ledger entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if owned {
		s.emitMovement(ctx, events.WalletCredited, m, entry)
	}
	return entry, nil
}

// RefundOrder returns money to the customer of an order: the wallet is debited,
// the order moves to REFUNDED or PARTIALLY_REFUNDED and a timeline event is
// written, all in one transaction.
func (s *ledgerService) RefundOrder(ctx context.Context, in RefundOrderInput) (*RefundResult, error) {
	const op = "ledger.refund_order"
	if in.Amount <= 0 {
		return nil, apperror.New(apperror.ErrValidation, op, "refund amount must be positive")
	}

	var result *RefundResult
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, in.OrderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.New(apperror.ErrNotFound, op, "order %s", in.OrderID)
		}
		if err != nil {
			return fmt.Errorf("failed to load order: %w", err)
		}
		if order.TenantID != in.TenantID {
			return apperror.New(apperror.ErrForbidden, op, "order belongs to another tenant")
		}
		if !order.IsRefundable() {
			return apperror.New(apperror.ErrConflict, op, "order %s is %s", order.OrderCode, order.Status)
		}
		if order.RefundedAmount+in.Amount > order.TotalAmount {
			return apperror.New(apperror.ErrValidation, op, "refund of %s exceeds refundable %s",
				formatMinor(in.Amount), formatMinor(order.TotalAmount-order.RefundedAmount))
		}

		entry, err := s.Debit(txCtx, LedgerMovement{
			TenantID:      in.TenantID,
			Amount:        in.Amount,
			ReferenceType: model.RefTypeRefund,
			ReferenceID:   order.ID.String(),
			Description:   refundDescription(order.OrderCode, in.Reason),
			Actor:         in.Actor,
		})
		if err != nil {
			return err
		}

		applied, err := s.orders.ApplyRefund(txCtx, order.ID, in.Amount)
		if err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		if !applied {
			return apperror.New(apperror.ErrConflict, op, "order %s changed during refund", order.OrderCode)
		}

		updated, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to reload order: %w", err)
		}

		meta, _ := json.Marshal(map[string]interface{}{
			"amount":          in.Amount,
			"ledger_entry_id": entry.ID.String(),
			"request_id":      in.RequestID.String(),
		})
		if err := s.orders.CreateEvent(txCtx, &model.OrderEvent{
			OrderID:  order.ID,
			Type:     model.OrderEventRefundIssued,
			Message:  fmt.Sprintf("Refund of %s %s issued", formatMinor(in.Amount), order.Currency),
			ActorID:  actorID(in.Actor),
			Metadata: string(meta),
		}); err != nil {
			return fmt.Errorf("failed to write order event: %w", err)
		}

		result = &RefundResult{
			OrderID:        order.ID.String(),
			OrderStatus:    updated.Status,
			RefundedAmount: updated.RefundedAmount,
			TotalAmount:    updated.TotalAmount,
			LedgerEntryID:  entry.ID.String(),
			Amount:         in.Amount,
			AmountDisplay:  formatMinor(in.Amount),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ledgerService) Reconcile(ctx context.Context, tenantID uuid.UUID) (ReconcileResult, error) {
	wallet, err := s.wallets.FindByTenant(ctx, tenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ReconcileResult{}, apperror.New(apperror.ErrNotFound, "ledger.reconcile", "no wallet for tenant")
	}
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("failed to load wallet: %w", err)
	}

	sum, err := s.ledger.SignedSum(ctx, tenantID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("failed to sum ledger: %w", err)
	}

	res := ReconcileResult{
		TenantID:      tenantID.String(),
		WalletBalance: wallet.AvailableBalance,
		LedgerSum:     sum,
		Difference:    wallet.AvailableBalance - sum,
		Balanced:      wallet.AvailableBalance == sum,
	}
	if !res.Balanced {
		metrics.RecordLedgerMismatch()
		s.log.Error().
			Str("tenant_id", res.TenantID).
			Int64("wallet_balance", res.WalletBalance).
			Int64("ledger_sum", res.LedgerSum).
			Msg("ledger does not reconcile with wallet balance")
		events.Emit(ctx, s.publisher, s.log, events.New(tenantID, events.LedgerReconcileMismatched, events.System, "",
			map[string]interface{}{
				"wallet_balance": res.WalletBalance,
				"ledger_sum":     res.LedgerSum,
				"difference":     res.Difference,
			}))
	}
	return res, nil
}

func (s *ledgerService) Summary(ctx context.Context, tenantID uuid.UUID) (WalletSummaryResponse, error) {
	wallet, err := s.wallets.FindByTenant(ctx, tenantID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// No wallet yet reads as an empty one.
		return WalletSummaryResponse{
			TenantID:       tenantID.String(),
			BalanceDisplay: formatMinor(0),
			Currency:       s.currency,
		}, nil
	}
	if err != nil {
		return WalletSummaryResponse{}, fmt.Errorf("failed to load wallet: %w", err)
	}

	resp := WalletSummaryResponse{
		TenantID:       tenantID.String(),
		Balance:        wallet.AvailableBalance,
		BalanceDisplay: formatMinor(wallet.AvailableBalance),
		Currency:       wallet.Currency,
		PinSet:         wallet.PinSet,
	}
	if wallet.IsLocked(time.Now()) {
		until := wallet.LockedUntil.Format(time.RFC3339)
		resp.LockedUntil = &until
	}
	return resp, nil
}

func (s *ledgerService) History(ctx context.Context, tenantID uuid.UUID, limit int) ([]LedgerEntryResponse, error) {
	limit = pagination.Clamp(limit, pagination.DefaultFeedLimit, pagination.MaxFeedLimit)

	entries, err := s.ledger.ListRecent(ctx, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ledger: %w", err)
	}

	result := make([]LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		result = append(result, LedgerEntryResponse{
			ID:            e.ID.String(),
			ReferenceType: e.ReferenceType,
			ReferenceID:   e.ReferenceID,
			Direction:     e.Direction,
			Amount:        e.Amount,
			AmountDisplay: formatMinor(e.Amount),
			Currency:      e.Currency,
			Description:   e.Description,
			CreatedAt:     e.CreatedAt.Format(time.RFC3339),
		})
	}
	return result, nil
}

func (s *ledgerService) emitMovement(ctx context.Context, eventType string, m LedgerMovement, entry *model.LedgerEntry) {
	events.Emit(ctx, s.publisher, s.log, events.New(m.TenantID, eventType, m.Actor.event(), "",
		map[string]interface{}{
			"ledger_entry_id": entry.ID.String(),
			"reference_type":  entry.ReferenceType,
			"entity_id":       entry.ReferenceID,
			"amount":          entry.Amount,
			"amount_display":  formatMinor(entry.Amount),
			"currency":        entry.Currency,
		}))
}

func validateMovement(op string, m LedgerMovement) error {
	if m.TenantID == uuid.Nil {
		return apperror.New(apperror.ErrValidation, op, "tenant is required")
	}
	if m.Amount <= 0 {
		return apperror.New(apperror.ErrValidation, op, "amount must be positive")
	}
	if m.ReferenceType == "" || m.ReferenceID == "" {
		return apperror.New(apperror.ErrValidation, op, "reference type and id are required")
	}
	return nil
}

// formatMinor renders minor units (kobo, cents) as a major-unit string.
func formatMinor(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

func refundDescription(orderCode, reason string) string {
	if reason == "" {
		return "Refund for order " + orderCode
	}
	return "Refund for order " + orderCode + ": " + reason
}

package repository

import (
	"context"
	"time"

	"merchantops/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ApprovalFilter narrows List results. Zero values are ignored.
type ApprovalFilter struct {
	TenantID        uuid.UUID
	Status          string
	ExecutionStatus string
	ActionType      string
}

// Decision holds the columns written on the PENDING -> terminal transition.
type Decision struct {
	Status         string
	DecidedBy      uuid.UUID
	DecidedByLabel string
	DecisionReason string
	DecidedAt      time.Time
}

type ApprovalRepository interface {
	Create(ctx context.Context, req *model.ApprovalRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error)
	List(ctx context.Context, filter ApprovalFilter, page, limit int) ([]model.ApprovalRequest, int64, error)
	DecideIfPending(ctx context.Context, id uuid.UUID, d Decision) (bool, error)
	ClaimExecution(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	SetExecutionStatus(ctx context.Context, id uuid.UUID, attempt int, from, to string) (bool, error)
	FindStuck(ctx context.Context, startedBefore time.Time) ([]model.ApprovalRequest, error)
}

type approvalRepository struct {
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) ApprovalRepository {
	return &approvalRepository{db: db}
}

func (r *approvalRepository) Create(ctx context.Context, req *model.ApprovalRequest) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *approvalRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.ApprovalRequest, error) {
	var req model.ApprovalRequest
	if err := GetDB(ctx, r.db).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *approvalRepository) List(ctx context.Context, filter ApprovalFilter, page, limit int) ([]model.ApprovalRequest, int64, error) {
	var requests []model.ApprovalRequest
	var total int64

	query := GetDB(ctx, r.db).Model(&model.ApprovalRequest{})
	if filter.TenantID != uuid.Nil {
		query = query.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.ExecutionStatus != "" {
		query = query.Where("execution_status = ?", filter.ExecutionStatus)
	}
	if filter.ActionType != "" {
		query = query.Where("action_type = ?", filter.ActionType)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&requests).Error; err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

// DecideIfPending applies the decision only while the row is still PENDING.
// It reports false when another decision won the race.
func (r *approvalRepository) DecideIfPending(ctx context.Context, id uuid.UUID, d Decision) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.ApprovalRequest{}).
		Where("id = ? AND status = ?", id, model.ApprovalPending).
		Updates(map[string]interface{}{
			"status":           d.Status,
			"decided_by":       d.DecidedBy,
			"decided_by_label": d.DecidedByLabel,
			"decision_reason":  d.DecisionReason,
			"decided_at":       d.DecidedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClaimExecution moves an approved request into RUNNING and bumps the attempt
// counter. Only one caller can claim a NOT_STARTED or FAILED request.
func (r *approvalRepository) ClaimExecution(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.ApprovalRequest{}).
		Where("id = ? AND status = ? AND execution_status IN ?", id, model.ApprovalApproved,
			[]string{model.ExecutionNotStarted, model.ExecutionFailed}).
		Updates(map[string]interface{}{
			"execution_status":     model.ExecutionRunning,
			"execution_attempts":   gorm.Expr("execution_attempts + 1"),
			"execution_started_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetExecutionStatus moves attempt from one execution status to another. It
// reports false when the attempt is no longer current, e.g. it was released and
// a later attempt has claimed the request.
func (r *approvalRepository) SetExecutionStatus(ctx context.Context, id uuid.UUID, attempt int, from, to string) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.ApprovalRequest{}).
		Where("id = ? AND execution_attempts = ? AND execution_status = ?", id, attempt, from).
		Update("execution_status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *approvalRepository) FindStuck(ctx context.Context, startedBefore time.Time) ([]model.ApprovalRequest, error) {
	var requests []model.ApprovalRequest
	err := GetDB(ctx, r.db).
		Where("execution_status = ? AND execution_started_at < ?", model.ExecutionRunning, startedBefore).
		Order("execution_started_at ASC").
		Find(&requests).Error
	return requests, err
}

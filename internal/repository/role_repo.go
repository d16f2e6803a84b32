package repository

import (
	"context"

	"merchantops/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RoleRepository interface {
	Create(ctx context.Context, role *model.Role) error
	FindByName(ctx context.Context, name string) (*model.Role, error)
	ListAll(ctx context.Context) ([]model.Role, error)
	ListPermissions(ctx context.Context) ([]model.Permission, error)
	FindOrCreatePermission(ctx context.Context, perm *model.Permission) error
	ReplacePermissions(ctx context.Context, roleID uuid.UUID, permIDs []uuid.UUID) error

	UpsertMembership(ctx context.Context, m *model.Membership) error
	FindMembership(ctx context.Context, tenantID, userID uuid.UUID) (*model.Membership, error)
	ListMemberships(ctx context.Context, tenantID uuid.UUID) ([]model.Membership, error)
	GetPermissionCodes(ctx context.Context, tenantID, userID uuid.UUID) ([]string, error)
}

type roleRepository struct {
	db *gorm.DB
}

func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &roleRepository{db: db}
}

func (r *roleRepository) Create(ctx context.Context, role *model.Role) error {
	return GetDB(ctx, r.db).Create(role).Error
}

func (r *roleRepository) FindByName(ctx context.Context, name string) (*model.Role, error) {
	var role model.Role
	if err := GetDB(ctx, r.db).Preload("Permissions").Where("name = ?", name).First(&role).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) ListAll(ctx context.Context) ([]model.Role, error) {
	var roles []model.Role
	if err := GetDB(ctx, r.db).Preload("Permissions").Order("created_at asc").Find(&roles).Error; err != nil {
		return nil, err
	}
	return roles, nil
}

func (r *roleRepository) ListPermissions(ctx context.Context) ([]model.Permission, error) {
	var perms []model.Permission
	if err := GetDB(ctx, r.db).Order("\"group\" asc, name asc").Find(&perms).Error; err != nil {
		return nil, err
	}
	return perms, nil
}

func (r *roleRepository) FindOrCreatePermission(ctx context.Context, perm *model.Permission) error {
	return GetDB(ctx, r.db).
		Where("code = ?", perm.Code).
		FirstOrCreate(perm).Error
}

func (r *roleRepository) ReplacePermissions(ctx context.Context, roleID uuid.UUID, permIDs []uuid.UUID) error {
	db := GetDB(ctx, r.db)
	var role model.Role
	if err := db.First(&role, "id = ?", roleID).Error; err != nil {
		return err
	}

	var perms []model.Permission
	if len(permIDs) > 0 {
		if err := db.Where("id IN ?", permIDs).Find(&perms).Error; err != nil {
			return err
		}
	}

	return db.Model(&role).Association("Permissions").Replace(perms)
}

// UpsertMembership creates the membership or moves the user to a new role.
func (r *roleRepository) UpsertMembership(ctx context.Context, m *model.Membership) error {
	return GetDB(ctx, r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role_id", "display_name"}),
		}).
		Omit("Role").
		Create(m).Error
}

func (r *roleRepository) FindMembership(ctx context.Context, tenantID, userID uuid.UUID) (*model.Membership, error) {
	var m model.Membership
	if err := GetDB(ctx, r.db).
		Preload("Role.Permissions").
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *roleRepository) ListMemberships(ctx context.Context, tenantID uuid.UUID) ([]model.Membership, error) {
	var ms []model.Membership
	err := GetDB(ctx, r.db).
		Preload("Role").
		Where("tenant_id = ?", tenantID).
		Order("created_at asc").
		Find(&ms).Error
	return ms, err
}

// GetPermissionCodes returns the capability codes the member's role grants.
// It returns gorm.ErrRecordNotFound when the user is not a member of the tenant.
func (r *roleRepository) GetPermissionCodes(ctx context.Context, tenantID, userID uuid.UUID) ([]string, error) {
	m, err := r.FindMembership(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(m.Role.Permissions))
	for _, p := range m.Role.Permissions {
		codes = append(codes, p.Code)
	}
	return codes, nil
}

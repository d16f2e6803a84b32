package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role groups capabilities that can be granted to tenant members
type Role struct {
	ID          uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string       `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	Description string       `gorm:"type:text" json:"description"`
	IsSystem    bool         `gorm:"default:false" json:"is_system"` // Prevent deletion of built-in roles
	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (r *Role) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Permission is a single capability code, e.g. "approvals.decide"
type Permission struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Code  string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"code"`
	Name  string    `gorm:"type:varchar(255);not null" json:"name"`
	Group string    `gorm:"type:varchar(50);not null;index" json:"group"`
}

func (p *Permission) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Membership binds a user to a tenant with one role
type Membership struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_membership_tenant_user" json:"tenant_id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_membership_tenant_user" json:"user_id"`
	DisplayName string    `gorm:"type:varchar(255)" json:"display_name"`
	RoleID      uuid.UUID `gorm:"type:uuid;not null" json:"role_id"`
	Role        Role      `gorm:"foreignKey:RoleID" json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

func (m *Membership) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

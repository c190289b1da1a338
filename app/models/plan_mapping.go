package models

import (
	"time"

	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

// PlanMapping maps a provider product reference (price id, entitlement id)
// to a tier. Active rows are merged into the tier tables at startup.
type PlanMapping struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	Provider        Provider          `gorm:"type:varchar(20);not null;index:ux_plan_mappings_ref,unique,priority:1" json:"provider" validate:"required,oneof=card_processor iap_broker"`
	ProviderPlanRef string            `gorm:"type:varchar(191);not null;index:ux_plan_mappings_ref,unique,priority:2" json:"provider_plan_ref" validate:"required,max=191"`
	Tier            entitlements.Tier `gorm:"type:varchar(16);not null;default:'free'" json:"tier" validate:"required,oneof=free pro elite"`
	IsActive        bool              `gorm:"not null;index" json:"is_active"`
	CreatedAt       time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PlanMapping) TableName() string {
	return "billing_plan_mappings"
}

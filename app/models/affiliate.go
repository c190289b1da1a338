package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Affiliate is a user who earns commission on payments made by the users
// they referred. RateTier and CommissionRate only ever move upwards.
type Affiliate struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;uniqueIndex:ux_affiliates_user" json:"user_id" validate:"required"`
	ReferralCode   string    `gorm:"type:varchar(32);not null;uniqueIndex:ux_affiliates_referral_code" json:"referral_code" validate:"required,min=4,max=32,alphanum"`
	IsActive       bool      `gorm:"default:true;index" json:"is_active"`
	RateTier       string    `gorm:"type:varchar(16);not null;default:'base'" json:"rate_tier"`
	CommissionRate float64   `gorm:"type:decimal(5,2);not null;default:20" json:"commission_rate" validate:"gte=0,lte=100"`
	ConvertedCount int       `gorm:"not null;default:0" json:"converted_count"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *Affiliate) Validate() error {
	return validator.New().Struct(a)
}

package models

import "time"

// Referral attributes a referred user to the affiliate whose code they used.
// A user can be referred at most once.
type Referral struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	AffiliateID    uint      `gorm:"not null;index" json:"affiliate_id"`
	ReferrerUserID uint      `gorm:"not null;index" json:"referrer_user_id"`
	UserID         uint      `gorm:"not null;uniqueIndex:ux_referrals_user" json:"user_id"`
	ReferralCode   string    `gorm:"type:varchar(32);not null" json:"referral_code"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

package models

import "time"

// CustomerLink remembers which user a provider customer id belongs to, so
// later events that omit user metadata can still be attributed.
type CustomerLink struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	UserID             uint      `gorm:"not null;index" json:"user_id"`
	Provider           Provider  `gorm:"type:varchar(20);not null;index:ux_customer_links_provider_customer,unique,priority:1" json:"provider"`
	ProviderCustomerID string    `gorm:"type:varchar(191);not null;index:ux_customer_links_provider_customer,unique,priority:2" json:"provider_customer_id"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CustomerLink) TableName() string {
	return "billing_customer_links"
}

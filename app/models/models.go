package models

// All lists every persisted model, in dependency order, for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&SubscriptionRecord{},
		&WebhookEvent{},
		&CustomerLink{},
		&PlanMapping{},
		&Affiliate{},
		&Referral{},
		&Commission{},
	}
}

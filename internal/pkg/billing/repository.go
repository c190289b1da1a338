package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/tiergate/app/models"
	"github.com/ManuelReschke/tiergate/internal/pkg/commission"
	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

var entitlingStatuses = []models.SubscriptionStatus{
	models.SubscriptionStatusActive,
	models.SubscriptionStatusTrialing,
	models.SubscriptionStatusPastDue,
}

// Repository provides DB operations used by the reconciler. Methods that
// load subscription rows lock them when running inside Transaction.
type Repository interface {
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, error)
	MarkWebhookProcessed(ctx context.Context, id uint, outcome string, userID uint, processingError string) error

	FindCustomerLink(ctx context.Context, provider models.Provider, customerID string) (*models.CustomerLink, error)
	UpsertCustomerLink(ctx context.Context, link *models.CustomerLink) error

	FindSubscription(ctx context.Context, provider models.Provider, subscriptionID string) (*models.SubscriptionRecord, error)
	InsertSubscriptionIfNotExists(ctx context.Context, rec *models.SubscriptionRecord) (bool, error)
	SaveSubscription(ctx context.Context, rec *models.SubscriptionRecord) error
	ListSubscriptionsByUser(ctx context.Context, userID uint) ([]models.SubscriptionRecord, error)
	UpdateResolution(ctx context.Context, recordID uint, resolvedFor *uint, superseded bool) error
	ResolvedTier(ctx context.Context, userID uint) (entitlements.Tier, bool, error)

	ListActivePlanMappings(ctx context.Context) ([]models.PlanMapping, error)
	UpsertPlanMapping(ctx context.Context, m *models.PlanMapping) error

	Commissions() commission.Repository
}

type GormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepository{db: tx})
	})
}

func (r *GormRepository) Commissions() commission.Repository {
	return commission.NewRepository(r.db)
}

func (r *GormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		if errors.Is(tx.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *GormRepository) MarkWebhookProcessed(ctx context.Context, id uint, outcome string, userID uint, processingError string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"outcome":          outcome,
		"user_id":          userID,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *GormRepository) FindCustomerLink(ctx context.Context, provider models.Provider, customerID string) (*models.CustomerLink, error) {
	var link models.CustomerLink
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_customer_id = ?", provider, customerID).
		First(&link).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *GormRepository) UpsertCustomerLink(ctx context.Context, link *models.CustomerLink) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_customer_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "updated_at"}),
	}).Create(link).Error
}

func (r *GormRepository) FindSubscription(ctx context.Context, provider models.Provider, subscriptionID string) (*models.SubscriptionRecord, error) {
	var rec models.SubscriptionRecord
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider = ? AND provider_subscription_id = ?", provider, subscriptionID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// InsertSubscriptionIfNotExists returns false when a concurrent delivery
// created the same (provider, provider_subscription_id) first.
func (r *GormRepository) InsertSubscriptionIfNotExists(ctx context.Context, rec *models.SubscriptionRecord) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_subscription_id"},
		},
		DoNothing: true,
	}).Create(rec)
	if tx.Error != nil {
		if errors.Is(tx.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *GormRepository) SaveSubscription(ctx context.Context, rec *models.SubscriptionRecord) error {
	return r.db.WithContext(ctx).Save(rec).Error
}

func (r *GormRepository) ListSubscriptionsByUser(ctx context.Context, userID uint) ([]models.SubscriptionRecord, error) {
	var recs []models.SubscriptionRecord
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&recs).Error
	return recs, err
}

func (r *GormRepository) UpdateResolution(ctx context.Context, recordID uint, resolvedFor *uint, superseded bool) error {
	return r.db.WithContext(ctx).Model(&models.SubscriptionRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"resolved_for": resolvedFor,
			"superseded":   superseded,
		}).Error
}

// ResolvedTier implements entitlements.RecordSource.
func (r *GormRepository) ResolvedTier(ctx context.Context, userID uint) (entitlements.Tier, bool, error) {
	var rec models.SubscriptionRecord
	err := r.db.WithContext(ctx).
		Select("tier").
		Where("resolved_for = ? AND status IN ?", userID, entitlingStatuses).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return rec.Tier, true, nil
}

func (r *GormRepository) ListActivePlanMappings(ctx context.Context) ([]models.PlanMapping, error) {
	var out []models.PlanMapping
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *GormRepository) UpsertPlanMapping(ctx context.Context, m *models.PlanMapping) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_plan_ref"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"tier", "is_active", "updated_at"}),
	}).Create(m).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.WithContext(ctx).
		Where("provider = ? AND provider_plan_ref = ?", m.Provider, m.ProviderPlanRef).
		First(m).Error
}

// TierTables merges active persisted plan mappings into the configured card
// and IAP tier tables. Configured entries win on conflicts.
func TierTables(ctx context.Context, repo Repository, card, iap *entitlements.TierTable) (*entitlements.TierTable, *entitlements.TierTable, error) {
	mappings, err := repo.ListActivePlanMappings(ctx)
	if err != nil {
		return nil, nil, err
	}
	cardRefs := map[string]entitlements.Tier{}
	iapRefs := map[string]entitlements.Tier{}
	for _, m := range mappings {
		switch m.Provider {
		case models.ProviderCardProcessor:
			cardRefs[m.ProviderPlanRef] = m.Tier
		case models.ProviderIAPBroker:
			iapRefs[m.ProviderPlanRef] = m.Tier
		}
	}
	return card.With(cardRefs), iap.With(iapRefs), nil
}

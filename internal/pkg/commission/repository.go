package commission

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/tiergate/app/models"
)

// Repository is the commission engine's view of storage. The reconciler
// hands in a transaction-scoped instance so commissions commit together with
// the subscription change that caused them.
type Repository interface {
	FindReferral(ctx context.Context, userID uint) (*models.Referral, error)
	FindAffiliateByUserID(ctx context.Context, userID uint) (*models.Affiliate, error)
	FindAffiliateByCode(ctx context.Context, code string) (*models.Affiliate, error)
	CreateAffiliate(ctx context.Context, a *models.Affiliate) error
	CreateReferralIfNotExists(ctx context.Context, r *models.Referral) (bool, error)
	CreateCommissionIfNotExists(ctx context.Context, c *models.Commission) (bool, error)
	FindCommissionBySourceEvent(ctx context.Context, sourceEventID string) (*models.Commission, error)
	CountConversions(ctx context.Context, affiliateID uint) (int64, error)
	UpdateAffiliateRate(ctx context.Context, affiliateID uint, rateTier string, rate float64, converted int) error
	ListCommissions(ctx context.Context, affiliateID uint, currency string) ([]models.Commission, error)
}

type GormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) FindReferral(ctx context.Context, userID uint) (*models.Referral, error) {
	var ref models.Referral
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&ref).Error; err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *GormRepository) FindAffiliateByUserID(ctx context.Context, userID uint) (*models.Affiliate, error) {
	var a models.Affiliate
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *GormRepository) FindAffiliateByCode(ctx context.Context, code string) (*models.Affiliate, error) {
	var a models.Affiliate
	if err := r.db.WithContext(ctx).Where("referral_code = ?", code).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *GormRepository) CreateAffiliate(ctx context.Context, a *models.Affiliate) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *GormRepository) CreateReferralIfNotExists(ctx context.Context, ref *models.Referral) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(ref)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepository) CreateCommissionIfNotExists(ctx context.Context, c *models.Commission) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_event_id"}},
		DoNothing: true,
	}).Create(c)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepository) FindCommissionBySourceEvent(ctx context.Context, sourceEventID string) (*models.Commission, error) {
	var c models.Commission
	if err := r.db.WithContext(ctx).Where("source_event_id = ?", sourceEventID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CountConversions counts distinct referred users with at least one commission.
func (r *GormRepository) CountConversions(ctx context.Context, affiliateID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Commission{}).
		Where("affiliate_id = ?", affiliateID).
		Distinct("referred_user_id").
		Count(&n).Error
	return n, err
}

func (r *GormRepository) UpdateAffiliateRate(ctx context.Context, affiliateID uint, rateTier string, rate float64, converted int) error {
	return r.db.WithContext(ctx).Model(&models.Affiliate{}).
		Where("id = ?", affiliateID).
		Updates(map[string]interface{}{
			"rate_tier":       rateTier,
			"commission_rate": rate,
			"converted_count": converted,
		}).Error
}

func (r *GormRepository) ListCommissions(ctx context.Context, affiliateID uint, currency string) ([]models.Commission, error) {
	var out []models.Commission
	q := r.db.WithContext(ctx).Where("affiliate_id = ?", affiliateID)
	if currency != "" {
		q = q.Where("currency = ?", currency)
	}
	if err := q.Order("period_start ASC, id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

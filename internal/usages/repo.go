package usages

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/calderahq/commerce-backend/pkg/db/models"
)

// Repository persists the append-only campaign usage ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	InsertTx(tx *gorm.DB, usage *models.CampaignUsage) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CampaignUsage, error)
	FindActiveByOrderTx(tx *gorm.DB, orderID uuid.UUID) ([]models.CampaignUsage, error)

	// MarkReversedTx flips the reversal flag. Returns false when the row was
	// already reversed, making double reversal detectable without a read.
	MarkReversedTx(tx *gorm.DB, id uuid.UUID, reversedAt time.Time) (bool, error)

	// SumsForCampaignTx returns the non-reversed amount sum and row count.
	SumsForCampaignTx(tx *gorm.DB, campaignID uuid.UUID) (decimal.Decimal, int, error)
	SumsForCustomerTx(tx *gorm.DB, campaignID, customerID uuid.UUID) (decimal.Decimal, int, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a usage ledger repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) InsertTx(tx *gorm.DB, usage *models.CampaignUsage) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	return tx.Create(usage).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CampaignUsage, error) {
	var usage models.CampaignUsage
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&usage).Error
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

func (r *repository) FindActiveByOrderTx(tx *gorm.DB, orderID uuid.UUID) ([]models.CampaignUsage, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	var rows []models.CampaignUsage
	err := tx.
		Where("order_id = ? AND is_reversed = ?", orderID, false).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) MarkReversedTx(tx *gorm.DB, id uuid.UUID, reversedAt time.Time) (bool, error) {
	if tx == nil {
		return false, gorm.ErrInvalidTransaction
	}
	result := tx.Model(&models.CampaignUsage{}).
		Where("id = ? AND is_reversed = ?", id, false).
		Updates(map[string]any{
			"is_reversed": true,
			"reversed_at": reversedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

type usageSums struct {
	Total decimal.Decimal
	Count int
}

func (r *repository) SumsForCampaignTx(tx *gorm.DB, campaignID uuid.UUID) (decimal.Decimal, int, error) {
	if tx == nil {
		return decimal.Zero, 0, gorm.ErrInvalidTransaction
	}
	var sums usageSums
	err := tx.Model(&models.CampaignUsage{}).
		Select("COALESCE(SUM(discount_amount), 0) AS total, COUNT(*) AS count").
		Where("campaign_id = ? AND is_reversed = ?", campaignID, false).
		Scan(&sums).Error
	if err != nil {
		return decimal.Zero, 0, err
	}
	return sums.Total, sums.Count, nil
}

func (r *repository) SumsForCustomerTx(tx *gorm.DB, campaignID, customerID uuid.UUID) (decimal.Decimal, int, error) {
	if tx == nil {
		return decimal.Zero, 0, gorm.ErrInvalidTransaction
	}
	var sums usageSums
	err := tx.Model(&models.CampaignUsage{}).
		Select("COALESCE(SUM(discount_amount), 0) AS total, COUNT(*) AS count").
		Where("campaign_id = ? AND customer_id = ? AND is_reversed = ?", campaignID, customerID, false).
		Scan(&sums).Error
	if err != nil {
		return decimal.Zero, 0, err
	}
	return sums.Total, sums.Count, nil
}

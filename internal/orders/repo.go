package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/calderahq/commerce-backend/pkg/db/models"
	"github.com/calderahq/commerce-backend/pkg/enums"
	"github.com/calderahq/commerce-backend/pkg/pagination"
)

// Repository persists orders, line items and customer lookups.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Order, error)

	// LockByID takes a FOR UPDATE lock on the order row so status checks and
	// transitions are serialized. Items are loaded separately.
	LockByID(tx *gorm.DB, id uuid.UUID) (*models.Order, error)
	FindItemsTx(tx *gorm.DB, orderID uuid.UUID) ([]models.OrderLineItem, error)

	ApproveTx(tx *gorm.DB, id uuid.UUID, discount, total decimal.Decimal, approvedAt time.Time) error
	CloseTx(tx *gorm.DB, id uuid.UUID, status enums.OrderStatus, closedAt time.Time) error

	FindCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
}

// ListFilter narrows order listings.
type ListFilter struct {
	CustomerID *uuid.UUID
	Status     *enums.OrderStatus
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})

	if filter.CustomerID != nil {
		query = query.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	return rows, err
}

func (r *repository) LockByID(tx *gorm.DB, id uuid.UUID) (*models.Order, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	query := tx
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var order models.Order
	err := query.Where("id = ?", id).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindItemsTx(tx *gorm.DB, orderID uuid.UUID) ([]models.OrderLineItem, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	var items []models.OrderLineItem
	err := tx.
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

func (r *repository) ApproveTx(tx *gorm.DB, id uuid.UUID, discount, total decimal.Decimal, approvedAt time.Time) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	return tx.Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          enums.OrderStatusApproved,
			"discount_amount": discount,
			"total_amount":    total,
			"approved_at":     approvedAt,
		}).Error
}

func (r *repository) CloseTx(tx *gorm.DB, id uuid.UUID, status enums.OrderStatus, closedAt time.Time) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	return tx.Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"cancelled_at": closedAt,
		}).Error
}

func (r *repository) FindCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	err := r.db.WithContext(ctx).
		Where("id = ? AND is_deleted = ?", id, false).
		First(&customer).Error
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

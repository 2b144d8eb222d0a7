package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/calderahq/commerce-backend/pkg/enums"
)

// DiscountRule is a single discount computation plus targeting configuration
// belonging to exactly one campaign. Restriction rows are only consulted when
// the matching target type is "specific".
type DiscountRule struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CampaignID uuid.UUID `gorm:"column:campaign_id;type:uuid;not null"`

	DiscountType      enums.DiscountType `gorm:"column:discount_type;type:discount_type;not null"`
	DiscountValue     decimal.Decimal    `gorm:"column:discount_value;type:numeric(14,4);not null"`
	MaxDiscountAmount *decimal.Decimal   `gorm:"column:max_discount_amount;type:numeric(14,2)"`

	ProductTargetType  enums.ProductTargetType  `gorm:"column:product_target_type;type:product_target_type;not null;default:'all_products'"`
	CustomerTargetType enums.CustomerTargetType `gorm:"column:customer_target_type;type:customer_target_type;not null;default:'all_customers'"`

	MinOrderAmount *decimal.Decimal `gorm:"column:min_order_amount;type:numeric(14,2)"`
	MinQuantity    *int             `gorm:"column:min_quantity"`

	IsDeleted bool `gorm:"column:is_deleted;not null;default:false"`

	Products      []DiscountRuleProduct      `gorm:"foreignKey:DiscountRuleID;constraint:OnDelete:CASCADE"`
	Categories    []DiscountRuleCategory     `gorm:"foreignKey:DiscountRuleID;constraint:OnDelete:CASCADE"`
	Brands        []DiscountRuleBrand        `gorm:"foreignKey:DiscountRuleID;constraint:OnDelete:CASCADE"`
	Customers     []DiscountRuleCustomer     `gorm:"foreignKey:DiscountRuleID;constraint:OnDelete:CASCADE"`
	CustomerTiers []DiscountRuleCustomerTier `gorm:"foreignKey:DiscountRuleID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// DiscountRuleProduct restricts a rule to a specific product.
type DiscountRuleProduct struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DiscountRuleID uuid.UUID `gorm:"column:discount_rule_id;type:uuid;not null;uniqueIndex:ux_rule_product,where:is_deleted = false"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_rule_product,where:is_deleted = false"`
	IsDeleted      bool      `gorm:"column:is_deleted;not null;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// DiscountRuleCategory restricts a rule to a product category.
type DiscountRuleCategory struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DiscountRuleID uuid.UUID `gorm:"column:discount_rule_id;type:uuid;not null;uniqueIndex:ux_rule_category,where:is_deleted = false"`
	CategoryID     uuid.UUID `gorm:"column:category_id;type:uuid;not null;uniqueIndex:ux_rule_category,where:is_deleted = false"`
	IsDeleted      bool      `gorm:"column:is_deleted;not null;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// DiscountRuleBrand restricts a rule to a brand.
type DiscountRuleBrand struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DiscountRuleID uuid.UUID `gorm:"column:discount_rule_id;type:uuid;not null;uniqueIndex:ux_rule_brand,where:is_deleted = false"`
	BrandID        uuid.UUID `gorm:"column:brand_id;type:uuid;not null;uniqueIndex:ux_rule_brand,where:is_deleted = false"`
	IsDeleted      bool      `gorm:"column:is_deleted;not null;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// DiscountRuleCustomer restricts a rule to a specific customer.
type DiscountRuleCustomer struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DiscountRuleID uuid.UUID `gorm:"column:discount_rule_id;type:uuid;not null;uniqueIndex:ux_rule_customer,where:is_deleted = false"`
	CustomerID     uuid.UUID `gorm:"column:customer_id;type:uuid;not null;uniqueIndex:ux_rule_customer,where:is_deleted = false"`
	IsDeleted      bool      `gorm:"column:is_deleted;not null;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// DiscountRuleCustomerTier restricts a rule to a customer pricing tier.
type DiscountRuleCustomerTier struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DiscountRuleID uuid.UUID          `gorm:"column:discount_rule_id;type:uuid;not null;uniqueIndex:ux_rule_tier,where:is_deleted = false"`
	Tier           enums.CustomerTier `gorm:"column:tier;type:customer_tier;not null;uniqueIndex:ux_rule_tier,where:is_deleted = false"`
	IsDeleted      bool               `gorm:"column:is_deleted;not null;default:false"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
}

// HasProductRestrictions reports whether any live product-side restriction
// row exists. Rules targeting specific products must have at least one.
func (r DiscountRule) HasProductRestrictions() bool {
	for _, p := range r.Products {
		if !p.IsDeleted {
			return true
		}
	}
	for _, c := range r.Categories {
		if !c.IsDeleted {
			return true
		}
	}
	for _, b := range r.Brands {
		if !b.IsDeleted {
			return true
		}
	}
	return false
}

// HasCustomerRestrictions reports whether any live customer-side restriction
// row exists.
func (r DiscountRule) HasCustomerRestrictions() bool {
	for _, c := range r.Customers {
		if !c.IsDeleted {
			return true
		}
	}
	for _, t := range r.CustomerTiers {
		if !t.IsDeleted {
			return true
		}
	}
	return false
}

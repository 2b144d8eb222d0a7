package campaigns

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/calderahq/commerce-backend/pkg/db/models"
	"github.com/calderahq/commerce-backend/pkg/enums"
	"github.com/calderahq/commerce-backend/pkg/pagination"
)

// CreateInput carries the fields required to create a campaign in draft.
type CreateInput struct {
	Name        string
	Description *string
	Priority    int
	StartDate   time.Time
	EndDate     time.Time

	TotalBudgetLimitAmount   *decimal.Decimal
	TotalBudgetLimitCurrency *enums.Currency
	TotalUsageLimit          *int

	PerCustomerBudgetLimitAmount   *decimal.Decimal
	PerCustomerBudgetLimitCurrency *enums.Currency
	PerCustomerUsageLimit          *int
}

// UpdateInput updates mutable campaign fields. Nil pointers leave the stored
// value untouched.
type UpdateInput struct {
	Name        *string
	Description *string
	Priority    *int
	StartDate   *time.Time
	EndDate     *time.Time

	TotalBudgetLimitAmount   *decimal.Decimal
	TotalBudgetLimitCurrency *enums.Currency
	TotalUsageLimit          *int

	PerCustomerBudgetLimitAmount   *decimal.Decimal
	PerCustomerBudgetLimitCurrency *enums.Currency
	PerCustomerUsageLimit          *int
}

// RuleInput creates or replaces a discount rule on a campaign.
type RuleInput struct {
	DiscountType      enums.DiscountType
	DiscountValue     decimal.Decimal
	MaxDiscountAmount *decimal.Decimal

	ProductTargetType  enums.ProductTargetType
	CustomerTargetType enums.CustomerTargetType

	MinOrderAmount *decimal.Decimal
	MinQuantity    *int

	ProductIDs  []uuid.UUID
	CategoryIDs []uuid.UUID
	BrandIDs    []uuid.UUID
	CustomerIDs []uuid.UUID
	Tiers       []enums.CustomerTier
}

// ListInput filters and paginates campaign listings.
type ListInput struct {
	Status    *enums.CampaignStatus
	RunningAt *time.Time
	Page      pagination.Params
}

// ListResult is one page of campaigns plus the cursor for the next page.
type ListResult struct {
	Campaigns  []models.Campaign
	NextCursor string
}

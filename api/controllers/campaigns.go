package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/calderahq/commerce-backend/api/responses"
	"github.com/calderahq/commerce-backend/api/validators"
	"github.com/calderahq/commerce-backend/internal/campaigns"
	"github.com/calderahq/commerce-backend/pkg/enums"
	pkgerrors "github.com/calderahq/commerce-backend/pkg/errors"
	"github.com/calderahq/commerce-backend/pkg/logger"
	"github.com/calderahq/commerce-backend/pkg/pagination"
)

type budgetLimitPayload struct {
	Amount   string `json:"amount" validate:"required"`
	Currency string `json:"currency" validate:"required,len=3"`
}

type createCampaignRequest struct {
	Name        string    `json:"name" validate:"required,min=1,max=200"`
	Description *string   `json:"description,omitempty"`
	Priority    int       `json:"priority"`
	StartDate   time.Time `json:"start_date" validate:"required"`
	EndDate     time.Time `json:"end_date" validate:"required"`

	TotalBudgetLimit *budgetLimitPayload `json:"total_budget_limit,omitempty"`
	TotalUsageLimit  *int                `json:"total_usage_limit,omitempty" validate:"omitempty,gt=0"`

	PerCustomerBudgetLimit *budgetLimitPayload `json:"per_customer_budget_limit,omitempty"`
	PerCustomerUsageLimit  *int                `json:"per_customer_usage_limit,omitempty" validate:"omitempty,gt=0"`
}

type updateCampaignRequest struct {
	Name        *string    `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string    `json:"description,omitempty"`
	Priority    *int       `json:"priority,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`

	TotalBudgetLimit *budgetLimitPayload `json:"total_budget_limit,omitempty"`
	TotalUsageLimit  *int                `json:"total_usage_limit,omitempty" validate:"omitempty,gt=0"`

	PerCustomerBudgetLimit *budgetLimitPayload `json:"per_customer_budget_limit,omitempty"`
	PerCustomerUsageLimit  *int                `json:"per_customer_usage_limit,omitempty" validate:"omitempty,gt=0"`
}

type changeCampaignStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft active paused ended"`
}

type campaignRuleRequest struct {
	DiscountType      string  `json:"discount_type" validate:"required,oneof=percentage fixed_amount"`
	DiscountValue     string  `json:"discount_value" validate:"required"`
	MaxDiscountAmount *string `json:"max_discount_amount,omitempty"`

	ProductTargetType  string `json:"product_target_type,omitempty" validate:"omitempty,oneof=all_products specific"`
	CustomerTargetType string `json:"customer_target_type,omitempty" validate:"omitempty,oneof=all_customers specific"`

	MinOrderAmount *string `json:"min_order_amount,omitempty"`
	MinQuantity    *int    `json:"min_quantity,omitempty" validate:"omitempty,gt=0"`

	ProductIDs    []uuid.UUID `json:"product_ids,omitempty"`
	CategoryIDs   []uuid.UUID `json:"category_ids,omitempty"`
	BrandIDs      []uuid.UUID `json:"brand_ids,omitempty"`
	CustomerIDs   []uuid.UUID `json:"customer_ids,omitempty"`
	CustomerTiers []string    `json:"customer_tiers,omitempty" validate:"omitempty,dive,oneof=standard silver gold platinum"`
}

func CreateCampaign(svc campaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCampaignRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := campaigns.CreateInput{
			Name:        req.Name,
			Description: req.Description,
			Priority:    req.Priority,
			StartDate:   req.StartDate,
			EndDate:     req.EndDate,
		}
		if err := applyBudgetLimit(req.TotalBudgetLimit, "total_budget_limit",
			&input.TotalBudgetLimitAmount, &input.TotalBudgetLimitCurrency); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := applyBudgetLimit(req.PerCustomerBudgetLimit, "per_customer_budget_limit",
			&input.PerCustomerBudgetLimitAmount, &input.PerCustomerBudgetLimitCurrency); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input.TotalUsageLimit = req.TotalUsageLimit
		input.PerCustomerUsageLimit = req.PerCustomerUsageLimit

		campaign, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, campaign)
	}
}

func GetCampaign(svc campaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "campaignID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		campaign, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, campaign)
	}
}

func ListCampaigns(svc campaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := campaigns.ListInput{
			Page: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, parseErr := enums.ParseCampaignStatus(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid status filter"))
				return
			}
			input.Status = &status
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("running")); raw == "true" {
			now := time.Now().UTC()
			input.RunningAt = &now
		}

		result, err := svc.List(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"campaigns":   result.Campaigns,
			"next_cursor": result.NextCursor,
		})
	}
}

func UpdateCampaign(svc campaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "campaignID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updateCampaignRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := campaigns.UpdateInput{
			Name:        req.Name,
			Description: req.Description,
			Priority:    req.Priority,
			StartDate:   req.StartDate,
			EndDate:     req.EndDate,
		}
		if err := applyBudgetLimit(req.TotalBudgetLimit, "total_budget_limit",
			&input.TotalBudgetLimitAmount, &input.TotalBudgetLimitCurrency); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := applyBudgetLimit(req.PerCustomerBudgetLimit, "per_customer_budget_limit",
			&input.PerCustomerBudgetLimitAmount, &input.PerCustomerBudgetLimitCurrency); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input.TotalUsageLimit = req.TotalUsageLimit
		input.PerCustomerUsageLimit = req.PerCustomerUsageLimit

		campaign, err := svc.Update(r.Context(), id, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, campaign)
	}
}

func ChangeCampaignStatus(svc campaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "campaignID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req changeCampaignStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseCampaignStatus(req.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		campaign, err := svc.ChangeStatus(r.Context(), id, status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, campaign)
	}
}

func DeleteCampaign(svc campaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathUUID(r, "campaignID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}

func AddCampaignRule(svc campaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		campaignID, err := pathUUID(r, "campaignID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req campaignRuleRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := ruleInputFromRequest(req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rule, err := svc.AddRule(r.Context(), campaignID, *input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, rule)
	}
}

func DeleteCampaignRule(svc campaigns.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ruleID, err := pathUUID(r, "ruleID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.DeleteRule(r.Context(), ruleID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}

func ruleInputFromRequest(req campaignRuleRequest) (*campaigns.RuleInput, error) {
	discountType, err := enums.ParseDiscountType(req.DiscountType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid discount type")
	}
	value, err := parseAmount(req.DiscountValue, "discount_value")
	if err != nil {
		return nil, err
	}

	input := &campaigns.RuleInput{
		DiscountType:       discountType,
		DiscountValue:      value,
		ProductTargetType:  enums.ProductTargetAll,
		CustomerTargetType: enums.CustomerTargetAll,
		MinQuantity:        req.MinQuantity,
		ProductIDs:         req.ProductIDs,
		CategoryIDs:        req.CategoryIDs,
		BrandIDs:           req.BrandIDs,
		CustomerIDs:        req.CustomerIDs,
	}
	if req.ProductTargetType != "" {
		target, parseErr := enums.ParseProductTargetType(req.ProductTargetType)
		if parseErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid product target type")
		}
		input.ProductTargetType = target
	}
	if req.CustomerTargetType != "" {
		target, parseErr := enums.ParseCustomerTargetType(req.CustomerTargetType)
		if parseErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid customer target type")
		}
		input.CustomerTargetType = target
	}
	if req.MaxDiscountAmount != nil {
		amount, parseErr := parseAmount(*req.MaxDiscountAmount, "max_discount_amount")
		if parseErr != nil {
			return nil, parseErr
		}
		input.MaxDiscountAmount = &amount
	}
	if req.MinOrderAmount != nil {
		amount, parseErr := parseAmount(*req.MinOrderAmount, "min_order_amount")
		if parseErr != nil {
			return nil, parseErr
		}
		input.MinOrderAmount = &amount
	}
	for _, raw := range req.CustomerTiers {
		tier, parseErr := enums.ParseCustomerTier(raw)
		if parseErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid customer tier")
		}
		input.Tiers = append(input.Tiers, tier)
	}
	return input, nil
}

func applyBudgetLimit(payload *budgetLimitPayload, field string, amount **decimal.Decimal, currency **enums.Currency) error {
	if payload == nil {
		return nil
	}
	parsed, err := parseAmount(payload.Amount, field+".amount")
	if err != nil {
		return err
	}
	cur, err := enums.ParseCurrency(payload.Currency)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency").WithDetails(map[string]any{"field": field + ".currency"})
	}
	*amount = &parsed
	*currency = &cur
	return nil
}

func parseAmount(raw, field string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid decimal amount").WithDetails(map[string]any{"field": field})
	}
	return value, nil
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := chi.URLParam(r, key)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid id in path").WithDetails(map[string]any{"field": key})
	}
	return id, nil
}

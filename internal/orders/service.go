package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/calderahq/commerce-backend/internal/budget"
	"github.com/calderahq/commerce-backend/internal/campaigns"
	"github.com/calderahq/commerce-backend/internal/discount"
	"github.com/calderahq/commerce-backend/internal/eligibility"
	"github.com/calderahq/commerce-backend/internal/rates"
	"github.com/calderahq/commerce-backend/internal/usages"
	"github.com/calderahq/commerce-backend/pkg/db/models"
	"github.com/calderahq/commerce-backend/pkg/enums"
	pkgerrors "github.com/calderahq/commerce-backend/pkg/errors"
	"github.com/calderahq/commerce-backend/pkg/logger"
	"github.com/calderahq/commerce-backend/pkg/outbox"
	"github.com/calderahq/commerce-backend/pkg/outbox/payloads"
	"github.com/calderahq/commerce-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service drives the order lifecycle. Discounts are applied at approval time
// and reversed when an approved order is cancelled.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, input ListInput) (*ListResult, error)

	// Preview evaluates the order without writing anything.
	Preview(ctx context.Context, orderID uuid.UUID) (*Evaluation, error)

	// Approve applies the winning discount, records the usage and flips the
	// order to approved, all in one transaction.
	Approve(ctx context.Context, orderID uuid.UUID) (*Evaluation, error)

	// Cancel reverses an approved order's usages and closes it.
	Cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error)

	// Reject closes a pending order without discount bookkeeping.
	Reject(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

// Params wires the order service dependencies.
type Params struct {
	Repo       Repository
	Campaigns  campaigns.Repository
	Usages     usages.Service
	Budget     *budget.Checker
	Evaluator  *eligibility.Evaluator
	Calculator *discount.Calculator
	Converter  rates.Converter
	Tx         txRunner
	Outbox     outboxEmitter
	Logger     *logger.Logger
}

type service struct {
	repo       Repository
	campaigns  campaigns.Repository
	usages     usages.Service
	budget     *budget.Checker
	evaluator  *eligibility.Evaluator
	calculator *discount.Calculator
	converter  rates.Converter
	tx         txRunner
	outbox     outboxEmitter
	logg       *logger.Logger
}

// NewService builds the order workflow service.
func NewService(params Params) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Campaigns == nil {
		return nil, fmt.Errorf("campaigns repository required")
	}
	if params.Usages == nil {
		return nil, fmt.Errorf("usages service required")
	}
	if params.Budget == nil {
		return nil, fmt.Errorf("budget checker required")
	}
	if params.Evaluator == nil {
		return nil, fmt.Errorf("eligibility evaluator required")
	}
	if params.Calculator == nil {
		return nil, fmt.Errorf("discount calculator required")
	}
	if params.Converter == nil {
		return nil, fmt.Errorf("currency converter required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:       params.Repo,
		campaigns:  params.Campaigns,
		usages:     params.Usages,
		budget:     params.Budget,
		evaluator:  params.Evaluator,
		calculator: params.Calculator,
		converter:  params.Converter,
		tx:         params.Tx,
		outbox:     params.Outbox,
		logg:       params.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if !input.Currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid currency %q", input.Currency))
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one line item")
	}
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item quantity must be positive")
		}
		if item.UnitPrice.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item unit price cannot be negative")
		}
	}

	if _, err := s.repo.FindCustomer(ctx, input.CustomerID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading customer")
	}

	order := &models.Order{
		ID:         uuid.New(),
		CustomerID: input.CustomerID,
		Status:     enums.OrderStatusPending,
		Currency:   input.Currency,
	}
	subtotal := decimal.Zero
	for _, item := range input.Items {
		line := models.OrderLineItem{
			ID:         uuid.New(),
			OrderID:    order.ID,
			ProductID:  item.ProductID,
			CategoryID: item.CategoryID,
			BrandID:    item.BrandID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		}
		subtotal = subtotal.Add(line.LineAmount())
		order.Items = append(order.Items, line)
	}
	order.SubtotalAmount = subtotal
	order.TotalAmount = subtotal

	created, err := s.repo.Create(ctx, order)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating order")
	}

	s.logg.Info(s.logg.WithOrderID(ctx, created.ID.String()), "order created")
	return created, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, input ListInput) (*ListResult, error) {
	rows, err := s.repo.List(ctx, ListFilter{
		CustomerID: input.CustomerID,
		Status:     input.Status,
	}, input.Page)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing orders")
	}

	limit := pagination.NormalizeLimit(input.Page.Limit)
	result := &ListResult{Orders: rows}
	if len(rows) > limit {
		result.Orders = rows[:limit]
		last := result.Orders[limit-1]
		result.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return result, nil
}

func (s *service) Preview(ctx context.Context, orderID uuid.UUID) (*Evaluation, error) {
	var evaluation *Evaluation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, customer, err := s.loadOrderForEvaluation(ctx, tx, orderID)
		if err != nil {
			return err
		}
		evaluation, err = s.evaluate(ctx, tx, order, customer, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return evaluation, nil
}

func (s *service) Approve(ctx context.Context, orderID uuid.UUID) (*Evaluation, error) {
	var evaluation *Evaluation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, customer, err := s.loadOrderForEvaluation(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("order is %s, only pending orders can be approved", order.Status))
		}

		evaluation, err = s.evaluate(ctx, tx, order, customer, true)
		if err != nil {
			return err
		}

		approvedAt := time.Now().UTC()
		if err := s.repo.ApproveTx(tx, order.ID, evaluation.DiscountAmount, evaluation.TotalAmount, approvedAt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "approving order")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderApproved,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderApprovedEvent{
				OrderID:        order.ID,
				CustomerID:     order.CustomerID,
				Currency:       order.Currency,
				SubtotalAmount: evaluation.SubtotalAmount,
				DiscountAmount: evaluation.DiscountAmount,
				TotalAmount:    evaluation.TotalAmount,
				ApprovedAt:     approvedAt,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emitting order approved event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, orderID.String())
	s.logg.Info(s.logg.WithField(ctx, "discount_amount", evaluation.DiscountAmount.String()), "order approved")
	return evaluation, nil
}

func (s *service) Cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.close(ctx, orderID, enums.OrderStatusApproved, enums.OrderStatusCancelled)
}

func (s *service) Reject(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.close(ctx, orderID, enums.OrderStatusPending, enums.OrderStatusRejected)
}

func (s *service) close(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus) (*models.Order, error) {
	var closed *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.repo.LockByID(tx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "locking order")
		}
		if order.Status != from {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("order is %s, expected %s", order.Status, from))
		}

		reversedCount, err := s.usages.ReverseForOrderTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}

		closedAt := time.Now().UTC()
		if err := s.repo.CloseTx(tx, order.ID, to, closedAt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "closing order")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderCancelledEvent{
				OrderID:       order.ID,
				CustomerID:    order.CustomerID,
				Status:        to,
				ReversedCount: reversedCount,
				CancelledAt:   closedAt,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emitting order cancelled event")
		}

		order.Status = to
		order.CancelledAt = &closedAt
		closed = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, orderID.String())
	s.logg.Info(s.logg.WithField(ctx, "status", string(to)), "order closed")
	return closed, nil
}

func (s *service) loadOrderForEvaluation(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, *models.Customer, error) {
	order, err := s.repo.LockByID(tx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "locking order")
	}

	items, err := s.repo.FindItemsTx(tx, order.ID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order items")
	}
	order.Items = items

	customer, err := s.repo.WithTx(tx).FindCustomer(ctx, order.CustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading customer")
	}
	return order, customer, nil
}

// evaluate walks the applicable rules in priority order and applies the first
// one the budget allows. Budget denials are not terminal: the campaign is
// skipped and the next candidate is tried.
func (s *service) evaluate(ctx context.Context, tx *gorm.DB, order *models.Order, customer *models.Customer, commit bool) (*Evaluation, error) {
	now := time.Now().UTC()
	orderCtx := eligibility.ContextFromOrder(*order, *customer)

	candidates, err := s.campaigns.WithTx(tx).FindRunnable(ctx, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading runnable campaigns")
	}

	applicable, err := s.evaluator.FindApplicableRules(ctx, candidates, orderCtx, now)
	if err != nil {
		return nil, err
	}

	evaluation := &Evaluation{
		OrderID:        order.ID,
		SubtotalAmount: order.SubtotalAmount,
		DiscountAmount: decimal.Zero,
		TotalAmount:    order.SubtotalAmount,
		Currency:       order.Currency,
	}

	for _, candidate := range applicable {
		budgetCurrency := candidate.Campaign.BudgetCurrency()

		amount, err := s.calculator.Compute(ctx, discount.Input{
			Rule:           candidate.Rule,
			MatchedAmount:  candidate.MatchedAmount,
			OrderCurrency:  order.Currency,
			BudgetCurrency: budgetCurrency,
		})
		if err != nil {
			return nil, err
		}
		if !amount.IsPositive() {
			continue
		}

		// budget accounting happens in the campaign budget currency
		budgetAmount, err := s.converter.Convert(ctx, amount, order.Currency, budgetCurrency)
		if err != nil {
			return nil, err
		}
		budgetAmount = budgetAmount.Round(budgetCurrency.Exponent())

		campaign, err := s.campaigns.LockByID(tx, candidate.Campaign.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "locking campaign")
		}
		if !campaign.IsRunning(now) {
			evaluation.SkippedReasons = append(evaluation.SkippedReasons, "campaign_no_longer_running")
			continue
		}

		decision, err := s.budget.Check(ctx, tx, campaign, order.CustomerID, budgetAmount)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checking campaign budget")
		}
		if !decision.Allowed {
			evaluation.SkippedReasons = append(evaluation.SkippedReasons, decision.Reason)
			logCtx := s.logg.WithCampaignID(ctx, campaign.ID.String())
			s.logg.Info(s.logg.WithField(logCtx, "reason", decision.Reason), "campaign skipped by budget")
			continue
		}

		applied := &AppliedDiscount{
			CampaignID:     campaign.ID,
			DiscountRuleID: candidate.Rule.ID,
			Amount:         amount,
			Currency:       order.Currency,
		}
		if commit {
			// a targeted rule that matched a single line attributes the
			// usage to that line item; broader matches stay order-level
			var orderItemID *uuid.UUID
			if len(candidate.MatchedLineIDs) == 1 {
				itemID := candidate.MatchedLineIDs[0]
				orderItemID = &itemID
			}
			usage, err := s.usages.RecordTx(ctx, tx, usages.RecordInput{
				CampaignID:     campaign.ID,
				DiscountRuleID: candidate.Rule.ID,
				CustomerID:     order.CustomerID,
				OrderID:        order.ID,
				OrderItemID:    orderItemID,
				Amount:         budgetAmount,
				Currency:       budgetCurrency,
				UsedAt:         now,
			})
			if err != nil {
				return nil, err
			}
			applied.UsageID = &usage.ID
		}

		evaluation.Applied = applied
		evaluation.DiscountAmount = amount
		evaluation.TotalAmount = order.SubtotalAmount.Sub(amount)
		break
	}

	return evaluation, nil
}

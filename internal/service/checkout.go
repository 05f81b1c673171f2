package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/roomdesk/api/internal/commission"
	"github.com/roomdesk/api/internal/database"
	"github.com/roomdesk/api/internal/enum"
	"github.com/roomdesk/api/internal/notify"
	"github.com/shopspring/decimal"
)

// CheckoutRequest records what was collected for an order. One salesperson,
// if any, is credited for every line.
type CheckoutRequest struct {
	ReceivedAmount decimal.Decimal
	SalespersonID  *uuid.UUID
}

// CompleteRequest closes an order. When ReceivedAmount is set the checkout
// runs first, in the same transaction.
type CompleteRequest struct {
	ReceivedAmount *decimal.Decimal
	SalespersonID  *uuid.UUID
}

// Checkout stamps received amount, discount rate and every line's
// salesperson and company commission. The order stays in progress.
func (s *OrderService) Checkout(ctx context.Context, id string, req CheckoutRequest) (*Order, error) {
	if !req.ReceivedAmount.IsPositive() {
		return nil, ErrInvalidReceivedAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	current, err := loadOrderForUpdate(ctx, store, id)
	if err != nil {
		return nil, err
	}
	if current.Status != enum.OrderStatusInProgress {
		return nil, ErrOrderClosed
	}

	order, items, err := s.checkout(ctx, store, current, req.ReceivedAmount, req.SalespersonID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.metrics.Checkout(ctx, req.ReceivedAmount)
	out := toOrder(order, items)
	s.publish(ctx, notify.KindOrderCheckout, out.ID, out)
	return out, nil
}

// CompleteOrder optionally checks the order out, then marks it completed and
// releases its room and technicians, deleting the room when it is temporary.
func (s *OrderService) CompleteOrder(ctx context.Context, id string, req CompleteRequest) (*Order, error) {
	if req.ReceivedAmount != nil && !req.ReceivedAmount.IsPositive() {
		return nil, ErrInvalidReceivedAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := loadOrderForUpdate(ctx, store, id)
	if err != nil {
		return nil, err
	}
	if order.Status != enum.OrderStatusInProgress {
		return nil, ErrOrderClosed
	}

	var items []database.OrderItem
	if req.ReceivedAmount != nil {
		order, items, err = s.checkout(ctx, store, order, *req.ReceivedAmount, req.SalespersonID)
		if err != nil {
			return nil, err
		}
	} else {
		items, err = store.ListOrderItemsByOrder(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list order items: %w", err)
		}
	}

	now := s.now()
	order, err = store.UpdateOrderStatus(ctx, database.UpdateOrderStatusParams{
		ID:          id,
		Status:      enum.OrderStatusCompleted,
		CompletedAt: pgTime(now),
		UpdatedAt:   pgTime(now),
	})
	if err != nil {
		return nil, fmt.Errorf("complete order: %w", err)
	}
	if err := releaseResources(ctx, store, order, technicianIDs(items)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	if req.ReceivedAmount != nil {
		s.metrics.Checkout(ctx, *req.ReceivedAmount)
	}
	s.metrics.Transition(ctx, enum.OrderStatusCompleted)
	out := toOrder(order, items)
	s.publish(ctx, notify.KindOrderCompleted, out.ID, out)
	return out, nil
}

// checkout runs the commission pipeline on a locked order. For every line,
// in order, the salesperson commission is attached before the company
// commission is computed, since profit-mode rules are net of it.
func (s *OrderService) checkout(ctx context.Context, store OrderStore, order database.Order, received decimal.Decimal, salespersonID *uuid.UUID) (database.Order, []database.OrderItem, error) {
	var (
		sp     *commission.Salesperson
		spID   pgtype.UUID
		spName pgtype.Text
	)
	if salespersonID != nil {
		row, err := store.GetSalesperson(ctx, *salespersonID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return database.Order{}, nil, ErrSalespersonNotFound
			}
			return database.Order{}, nil, fmt.Errorf("get salesperson: %w", err)
		}
		sp = &commission.Salesperson{
			CommissionType: row.CommissionType,
			CommissionRate: numericToDecimal(row.CommissionRate),
		}
		spID = pgUUID(row.ID)
		spName = pgText(row.Name)
	}

	items, err := store.ListOrderItemsByOrder(ctx, order.ID)
	if err != nil {
		return database.Order{}, nil, fmt.Errorf("list order items: %w", err)
	}

	rate := commission.DiscountRate(received, numericToDecimal(order.TotalAmount))
	rules := make(map[uuid.UUID]*commission.Rule)

	stamped := make([]database.OrderItem, 0, len(items))
	for _, it := range items {
		line := commissionItem(it)
		line.SalespersonCommission = commission.SalespersonCommission(line, sp, rate)

		rule, err := lookupRule(ctx, store, rules, line.RuleID)
		if err != nil {
			return database.Order{}, nil, err
		}
		company := commission.ItemCompanyCommission(line, rate, rule)

		updated, err := store.UpdateOrderItemCommission(ctx, database.UpdateOrderItemCommissionParams{
			ID:                      it.ID,
			SalespersonID:           spID,
			SalespersonName:         spName,
			SalespersonCommission:   decimalToNumeric(line.SalespersonCommission),
			CompanyCommissionAmount: decimalToNumeric(company),
		})
		if err != nil {
			return database.Order{}, nil, fmt.Errorf("update order item commission: %w", err)
		}
		stamped = append(stamped, updated)
	}

	updated, err := store.UpdateOrderCheckout(ctx, database.UpdateOrderCheckoutParams{
		ID:             order.ID,
		ReceivedAmount: decimalToNumeric(received),
		DiscountRate:   rateToNumeric(rate),
		UpdatedAt:      pgTime(s.now()),
	})
	if err != nil {
		return database.Order{}, nil, fmt.Errorf("update order checkout: %w", err)
	}
	return updated, stamped, nil
}

// lookupRule reads the current definition of a rule, caching per checkout.
// Lines without a rule, or whose rule was deleted, get nil.
func lookupRule(ctx context.Context, store OrderStore, cache map[uuid.UUID]*commission.Rule, id uuid.UUID) (*commission.Rule, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	if rule, ok := cache[id]; ok {
		return rule, nil
	}
	row, err := store.GetCommissionRule(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			cache[id] = nil
			return nil, nil
		}
		return nil, fmt.Errorf("get commission rule: %w", err)
	}
	rule := toRule(row)
	cache[id] = &rule
	return &rule, nil
}

// OrderProfit reports what the business keeps of an order's collection
// under the current rule table. An order not yet checked out is valued at
// its total.
func (s *OrderService) OrderProfit(ctx context.Context, id string) (*ProfitReport, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	items, err := store.ListOrderItemsByOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	ruleRows, err := store.ListCommissionRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list commission rules: %w", err)
	}

	received := numericToDecimal(order.TotalAmount)
	if order.ReceivedAmount.Valid {
		received = numericToDecimal(order.ReceivedAmount)
	}
	rate := numericToDecimal(order.DiscountRate)

	rules := make([]commission.Rule, len(ruleRows))
	for i, r := range ruleRows {
		rules[i] = toRule(r)
	}
	lines := make([]commission.Item, len(items))
	report := &ProfitReport{
		OrderID:        order.ID,
		ReceivedAmount: received,
		DiscountRate:   rate,
	}
	for i, it := range items {
		lines[i] = commissionItem(it)
		report.TechnicianCommission = report.TechnicianCommission.Add(lines[i].TechnicianCommission)
		report.SalespersonCommission = report.SalespersonCommission.Add(lines[i].SalespersonCommission)
	}
	report.Profit = commission.OrderProfit(lines, received, rate, rules)
	report.CompanyCommission = received.
		Sub(report.TechnicianCommission).
		Sub(report.SalespersonCommission).
		Sub(report.Profit)
	return report, nil
}

func commissionItem(it database.OrderItem) commission.Item {
	line := commission.Item{
		Price:                 numericToDecimal(it.Price),
		TechnicianCommission:  numericToDecimal(it.TechnicianCommission),
		SalespersonCommission: numericToDecimal(it.SalespersonCommission),
	}
	if it.CompanyCommissionRuleID.Valid {
		line.RuleID = uuid.UUID(it.CompanyCommissionRuleID.Bytes)
	}
	return line
}

func toRule(r database.CompanyCommissionRule) commission.Rule {
	return commission.Rule{
		ID:             r.ID,
		CommissionType: r.CommissionType,
		CommissionRate: numericToDecimal(r.CommissionRate),
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/roomdesk/api/internal/database"
	"github.com/roomdesk/api/internal/enum"
	"github.com/roomdesk/api/internal/notify"
	"github.com/shopspring/decimal"
)

// ItemInput describes one service line. A line either names a technician,
// in which case price, commission and rule come from the technician's
// service assignment, or carries its own ServiceName and Price. Explicit
// values always win over the catalog.
type ItemInput struct {
	// ID refers to an existing line of the order being updated; its
	// snapshots (including checkout commissions) are kept unless the
	// service changes, in which case the line is priced again for its
	// technician.
	ID                      *uuid.UUID
	ServiceID               uuid.UUID
	ServiceName             string
	TechnicianID            *uuid.UUID
	Price                   *decimal.Decimal
	TechnicianCommission    *decimal.Decimal
	CompanyCommissionRuleID *uuid.UUID
	Status                  string
}

// resolveItem builds the insert params for in. prev, when not nil, is the
// stored line in replaces and seeds every snapshot field.
func (s *OrderService) resolveItem(ctx context.Context, store OrderStore, in ItemInput, prev *database.OrderItem) (database.CreateOrderItemParams, error) {
	var p database.CreateOrderItemParams
	if prev != nil {
		p = itemParams(*prev)
	} else {
		p.Status = enum.OrderItemStatusPending
	}

	if in.ServiceID != uuid.Nil {
		p.ServiceID = in.ServiceID
	}
	if p.ServiceID == uuid.Nil {
		return p, fmt.Errorf("%w: service_id is required", ErrInvalidItem)
	}

	var ruleID pgtype.UUID
	ruleFromCatalog := false
	techChanged := in.TechnicianID != nil && (prev == nil || !prev.TechnicianID.Valid || uuid.UUID(prev.TechnicianID.Bytes) != *in.TechnicianID)
	serviceChanged := prev != nil && prev.ServiceID != p.ServiceID

	techID := in.TechnicianID
	if serviceChanged {
		// A new service invalidates every snapshot taken for the old one.
		p.ServiceName = ""
		p.Price = pgtype.Numeric{}
		p.TechnicianCommission = pgtype.Numeric{}
		p.SalespersonID = pgtype.UUID{}
		p.SalespersonName = pgtype.Text{}
		p.SalespersonCommission = decimalToNumeric(decimal.Zero)
		p.CompanyCommissionAmount = decimalToNumeric(decimal.Zero)
		if techID == nil && prev.TechnicianID.Valid {
			id := uuid.UUID(prev.TechnicianID.Bytes)
			techID = &id
		}
	}

	if techID != nil && (prev == nil || techChanged || serviceChanged) {
		assignment, err := store.GetTechnicianService(ctx, database.GetTechnicianServiceParams{
			TechnicianID: *techID,
			ServiceID:    p.ServiceID,
		})
		switch {
		case err == nil:
			p.TechnicianID = pgUUID(assignment.TechnicianID)
			p.TechnicianName = pgText(assignment.TechnicianName)
			p.ServiceName = assignment.ServiceName
			p.Price = assignment.Price
			p.TechnicianCommission = assignment.Commission
			ruleID = assignment.CompanyCommissionRuleID
			ruleFromCatalog = true
		case errors.Is(err, pgx.ErrNoRows):
			// No assignment: the line must carry its own snapshot.
			if in.Price == nil || strings.TrimSpace(in.ServiceName) == "" {
				return p, ErrTechnicianServiceNotFound
			}
			tech, err := store.GetTechnician(ctx, *techID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return p, ErrTechnicianNotFound
				}
				return p, fmt.Errorf("get technician: %w", err)
			}
			p.TechnicianID = pgUUID(tech.ID)
			p.TechnicianName = pgText(tech.Name)
		default:
			return p, fmt.Errorf("get technician service: %w", err)
		}
	}

	if name := strings.TrimSpace(in.ServiceName); name != "" {
		p.ServiceName = name
	}
	if in.Price != nil {
		if in.Price.IsNegative() {
			return p, fmt.Errorf("%w: price must be >= 0", ErrInvalidItem)
		}
		p.Price = decimalToNumeric(*in.Price)
	}
	if in.TechnicianCommission != nil {
		if in.TechnicianCommission.IsNegative() {
			return p, fmt.Errorf("%w: technician_commission must be >= 0", ErrInvalidItem)
		}
		p.TechnicianCommission = decimalToNumeric(*in.TechnicianCommission)
	}
	if p.ServiceName == "" || !p.Price.Valid {
		return p, fmt.Errorf("%w: service_name and price are required without a technician assignment", ErrInvalidItem)
	}
	if !p.TechnicianCommission.Valid {
		p.TechnicianCommission = decimalToNumeric(decimal.Zero)
	}

	if in.Status != "" {
		if !isItemStatus(in.Status) {
			return p, ErrInvalidItemStatus
		}
		p.Status = in.Status
	}

	switch {
	case in.CompanyCommissionRuleID != nil:
		ruleID = pgUUID(*in.CompanyCommissionRuleID)
	case prev != nil && !ruleFromCatalog && !serviceChanged:
		// keep the stored rule snapshot
		return p, nil
	}
	if err := snapshotRule(ctx, store, &p, ruleID); err != nil {
		return p, err
	}
	return p, nil
}

// snapshotRule copies the rule onto p. Without a rule id the default rule is
// used; a rule that no longer exists leaves only its id behind.
func snapshotRule(ctx context.Context, store OrderStore, p *database.CreateOrderItemParams, ruleID pgtype.UUID) error {
	var (
		rule database.CompanyCommissionRule
		err  error
	)
	if ruleID.Valid {
		rule, err = store.GetCommissionRule(ctx, uuid.UUID(ruleID.Bytes))
	} else {
		rule, err = store.GetDefaultCommissionRule(ctx)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			p.CompanyCommissionRuleID = ruleID
			p.CompanyCommissionRuleName = pgtype.Text{}
			p.CompanyCommissionType = pgtype.Text{}
			p.CompanyCommissionRate = pgtype.Numeric{}
			return nil
		}
		return fmt.Errorf("get commission rule: %w", err)
	}
	p.CompanyCommissionRuleID = pgUUID(rule.ID)
	p.CompanyCommissionRuleName = pgText(rule.Name)
	p.CompanyCommissionType = pgText(rule.CommissionType)
	p.CompanyCommissionRate = rule.CommissionRate
	return nil
}

// itemParams copies a stored line into insert params, keeping its id.
func itemParams(it database.OrderItem) database.CreateOrderItemParams {
	return database.CreateOrderItemParams{
		ID:                        pgUUID(it.ID),
		OrderID:                   it.OrderID,
		Position:                  it.Position,
		ServiceID:                 it.ServiceID,
		ServiceName:               it.ServiceName,
		TechnicianID:              it.TechnicianID,
		TechnicianName:            it.TechnicianName,
		Price:                     it.Price,
		TechnicianCommission:      it.TechnicianCommission,
		SalespersonID:             it.SalespersonID,
		SalespersonName:           it.SalespersonName,
		SalespersonCommission:     it.SalespersonCommission,
		CompanyCommissionRuleID:   it.CompanyCommissionRuleID,
		CompanyCommissionRuleName: it.CompanyCommissionRuleName,
		CompanyCommissionType:     it.CompanyCommissionType,
		CompanyCommissionRate:     it.CompanyCommissionRate,
		CompanyCommissionAmount:   it.CompanyCommissionAmount,
		Status:                    it.Status,
		CompletedAt:               it.CompletedAt,
	}
}

func insertItems(ctx context.Context, store OrderStore, orderID string, items []database.CreateOrderItemParams) ([]database.OrderItem, error) {
	created := make([]database.OrderItem, 0, len(items))
	for _, p := range items {
		p.OrderID = orderID
		if !p.SalespersonCommission.Valid {
			p.SalespersonCommission = decimalToNumeric(decimal.Zero)
		}
		if !p.CompanyCommissionAmount.Valid {
			p.CompanyCommissionAmount = decimalToNumeric(decimal.Zero)
		}
		item, err := store.CreateOrderItem(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
		created = append(created, item)
	}
	return created, nil
}

// AddItem appends a line to an open order and marks its technician busy.
func (s *OrderService) AddItem(ctx context.Context, orderID string, in ItemInput) (*Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	current, err := loadOrderForUpdate(ctx, store, orderID)
	if err != nil {
		return nil, err
	}
	if current.Status != enum.OrderStatusInProgress {
		return nil, ErrOrderClosed
	}
	items, err := store.ListOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}

	in.ID = nil
	p, err := s.resolveItem(ctx, store, in, nil)
	if err != nil {
		return nil, err
	}
	p.Position = nextPosition(items)

	created, err := insertItems(ctx, store, orderID, []database.CreateOrderItemParams{p})
	if err != nil {
		return nil, err
	}
	items = append(items, created...)

	if err := setTechnicians(ctx, store, technicianIDs(created), enum.TechnicianStatusBusy); err != nil {
		return nil, err
	}

	order, err := store.UpdateOrderTotal(ctx, database.UpdateOrderTotalParams{
		ID:          orderID,
		TotalAmount: decimalToNumeric(itemsTotal(items)),
		UpdatedAt:   pgTime(s.now()),
	})
	if err != nil {
		return nil, fmt.Errorf("update order total: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	out := toOrder(order, items)
	s.publish(ctx, notify.KindOrderUpdated, out.ID, out)
	return out, nil
}

// RemoveItem deletes a line from an open order. Removing the last line
// cancels the order and releases its room and technicians.
func (s *OrderService) RemoveItem(ctx context.Context, orderID string, itemID uuid.UUID) (*Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	current, err := loadOrderForUpdate(ctx, store, orderID)
	if err != nil {
		return nil, err
	}
	if current.Status != enum.OrderStatusInProgress {
		return nil, ErrOrderClosed
	}
	items, err := store.ListOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}

	var removed *database.OrderItem
	remaining := make([]database.OrderItem, 0, len(items))
	for i := range items {
		if items[i].ID == itemID {
			removed = &items[i]
			continue
		}
		remaining = append(remaining, items[i])
	}
	if removed == nil {
		return nil, ErrItemNotFound
	}

	n, err := store.DeleteOrderItem(ctx, database.DeleteOrderItemParams{ID: itemID, OrderID: orderID})
	if err != nil {
		return nil, fmt.Errorf("delete order item: %w", err)
	}
	if n == 0 {
		return nil, ErrItemNotFound
	}

	now := s.now()
	order, err := store.UpdateOrderTotal(ctx, database.UpdateOrderTotalParams{
		ID:          orderID,
		TotalAmount: decimalToNumeric(itemsTotal(remaining)),
		UpdatedAt:   pgTime(now),
	})
	if err != nil {
		return nil, fmt.Errorf("update order total: %w", err)
	}

	kind := notify.KindOrderUpdated
	if len(remaining) == 0 {
		if order, err = cancel(ctx, store, order, order.Notes, now); err != nil {
			return nil, err
		}
		if err := releaseResources(ctx, store, order, technicianIDs(items)); err != nil {
			return nil, err
		}
		kind = notify.KindOrderCancelled
	} else if err := setTechnicians(ctx, store, idleTechnicians([]database.OrderItem{*removed}, remaining), enum.TechnicianStatusAvailable); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	if kind == notify.KindOrderCancelled {
		s.metrics.Transition(ctx, enum.OrderStatusCancelled)
	}
	out := toOrder(order, remaining)
	s.publish(ctx, kind, out.ID, out)
	return out, nil
}

// UpdateItemStatus records progress on one line. Completing a line frees its
// technician once they have no other unfinished line on the order.
func (s *OrderService) UpdateItemStatus(ctx context.Context, orderID string, itemID uuid.UUID, status string) (*Order, error) {
	if !isItemStatus(status) {
		return nil, ErrInvalidItemStatus
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	current, err := loadOrderForUpdate(ctx, store, orderID)
	if err != nil {
		return nil, err
	}
	if current.Status != enum.OrderStatusInProgress {
		return nil, ErrOrderClosed
	}

	now := s.now()
	params := database.UpdateOrderItemStatusParams{ID: itemID, OrderID: orderID, Status: status}
	if status == enum.OrderItemStatusCompleted {
		params.CompletedAt = pgTime(now)
	}
	updated, err := store.UpdateOrderItemStatus(ctx, params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("update order item status: %w", err)
	}

	items, err := store.ListOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}

	switch status {
	case enum.OrderItemStatusCompleted:
		if err := setTechnicians(ctx, store, idleTechnicians([]database.OrderItem{updated}, items), enum.TechnicianStatusAvailable); err != nil {
			return nil, err
		}
	default:
		// Reopened or still waiting: the technician is tied up again.
		if err := setTechnicians(ctx, store, technicianIDs([]database.OrderItem{updated}), enum.TechnicianStatusBusy); err != nil {
			return nil, err
		}
	}

	order, err := store.TouchOrder(ctx, database.TouchOrderParams{ID: orderID, UpdatedAt: pgTime(now)})
	if err != nil {
		return nil, fmt.Errorf("touch order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	out := toOrder(order, items)
	s.publish(ctx, notify.KindOrderUpdated, out.ID, out)
	return out, nil
}

// idleTechnicians returns the technicians of released that have no
// unfinished line left in remaining.
func idleTechnicians(released, remaining []database.OrderItem) []uuid.UUID {
	busy := make(map[uuid.UUID]bool)
	for _, it := range remaining {
		if it.TechnicianID.Valid && it.Status != enum.OrderItemStatusCompleted {
			busy[uuid.UUID(it.TechnicianID.Bytes)] = true
		}
	}
	var idle []uuid.UUID
	for _, id := range technicianIDs(released) {
		if !busy[id] {
			idle = append(idle, id)
		}
	}
	return idle
}

func nextPosition(items []database.OrderItem) int32 {
	var last int32
	for _, it := range items {
		if it.Position > last {
			last = it.Position
		}
	}
	return last + 1
}

func isItemStatus(s string) bool {
	switch s {
	case enum.OrderItemStatusPending, enum.OrderItemStatusInProgress, enum.OrderItemStatusCompleted:
		return true
	}
	return false
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/roomdesk/api/internal/database"
	"github.com/roomdesk/api/internal/enum"
	"github.com/roomdesk/api/internal/metrics"
	"github.com/roomdesk/api/internal/notify"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxOrderIDRetries = 3

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Errors returned by the order service.
var (
	ErrOrderNotFound             = errors.New("order not found")
	ErrItemNotFound              = errors.New("order item not found")
	ErrRoomNotFound              = errors.New("room not found")
	ErrRoomRequired              = errors.New("room_id is required")
	ErrTechnicianNotFound        = errors.New("technician not found")
	ErrTechnicianServiceNotFound = errors.New("technician does not offer this service")
	ErrSalespersonNotFound       = errors.New("salesperson not found")
	ErrInvalidItem               = errors.New("invalid item")
	ErrInvalidItemStatus         = errors.New("invalid item status")
	ErrInvalidStatus             = errors.New("invalid status")
	ErrInvalidReceivedAmount     = errors.New("received_amount must be > 0")
	ErrTotalMismatch             = errors.New("total_amount does not match the sum of item prices")
	ErrReasonRequired            = errors.New("cancellation reason is required")
	ErrNoOrderIDs                = errors.New("order ids are required")
	ErrStaffRequired             = errors.New("acting staff member is required")
	ErrOrderClosed               = errors.New("order is no longer in progress")
	ErrConflict                  = errors.New("order was modified concurrently")
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods the order service needs.
// Satisfied by *database.Queries (and its WithTx variant).
type OrderStore interface {
	NextOrderSequence(ctx context.Context, arg database.NextOrderSequenceParams) (int32, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	GetOrder(ctx context.Context, id string) (database.Order, error)
	GetOrderForUpdate(ctx context.Context, id string) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	UpdateOrder(ctx context.Context, arg database.UpdateOrderParams) (database.Order, error)
	UpdateOrderTotal(ctx context.Context, arg database.UpdateOrderTotalParams) (database.Order, error)
	TouchOrder(ctx context.Context, arg database.TouchOrderParams) (database.Order, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
	UpdateOrderCheckout(ctx context.Context, arg database.UpdateOrderCheckoutParams) (database.Order, error)
	CancelOrder(ctx context.Context, arg database.CancelOrderParams) (database.Order, error)
	MarkOrdersHandedOver(ctx context.Context, arg database.MarkOrdersHandedOverParams) ([]database.Order, error)
	DeleteOrder(ctx context.Context, id string) (int64, error)

	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	ListOrderItemsByOrder(ctx context.Context, orderID string) ([]database.OrderItem, error)
	ListOrderItemsByOrders(ctx context.Context, orderIDs []string) ([]database.OrderItem, error)
	DeleteOrderItemsByOrder(ctx context.Context, orderID string) error
	DeleteOrderItem(ctx context.Context, arg database.DeleteOrderItemParams) (int64, error)
	UpdateOrderItemCommission(ctx context.Context, arg database.UpdateOrderItemCommissionParams) (database.OrderItem, error)
	UpdateOrderItemStatus(ctx context.Context, arg database.UpdateOrderItemStatusParams) (database.OrderItem, error)

	GetRoom(ctx context.Context, id uuid.UUID) (database.Room, error)
	SetRoomStatus(ctx context.Context, arg database.SetRoomStatusParams) error
	DeleteTemporaryRoom(ctx context.Context, id uuid.UUID) (int64, error)
	GetTechnician(ctx context.Context, id uuid.UUID) (database.Technician, error)
	SetTechniciansStatus(ctx context.Context, arg database.SetTechniciansStatusParams) error
	GetTechnicianService(ctx context.Context, arg database.GetTechnicianServiceParams) (database.GetTechnicianServiceRow, error)
	GetSalesperson(ctx context.Context, id uuid.UUID) (database.Salesperson, error)
	GetCommissionRule(ctx context.Context, id uuid.UUID) (database.CompanyCommissionRule, error)
	GetDefaultCommissionRule(ctx context.Context) (database.CompanyCommissionRule, error)
	ListCommissionRules(ctx context.Context) ([]database.CompanyCommissionRule, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx).
// This allows the service to create store instances from transactions.
type NewOrderStore func(db database.DBTX) OrderStore

// OrderService owns the order lifecycle: every mutation runs in one
// transaction and its change event is published only after commit.
type OrderService struct {
	pool      TxBeginner
	newStore  NewOrderStore
	publisher notify.Publisher
	logger    *zap.Logger
	metrics   *metrics.Recorder
	loc       *time.Location
	now       func() time.Time
}

// NewOrderService creates a new OrderService. loc is the business timezone
// used for order ids; nil means UTC.
func NewOrderService(pool TxBeginner, newStore NewOrderStore, publisher notify.Publisher, logger *zap.Logger, rec *metrics.Recorder, loc *time.Location) *OrderService {
	if publisher == nil {
		publisher = notify.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &OrderService{
		pool:      pool,
		newStore:  newStore,
		publisher: publisher,
		logger:    logger,
		metrics:   rec,
		loc:       loc,
		now:       time.Now,
	}
}

// CreateOrderRequest is the input for creating an order.
type CreateOrderRequest struct {
	RoomID         uuid.UUID
	CustomerName   string
	CustomerPhone  string
	Items          []ItemInput
	TotalAmount    *decimal.Decimal
	ReceivedAmount *decimal.Decimal
	Notes          string
	// Occupy marks the room occupied and the assigned technicians busy.
	Occupy bool
}

// UpdateOrderRequest carries a partial update; nil fields are left unchanged.
// A non-nil Items replaces the whole item list.
type UpdateOrderRequest struct {
	RoomID          *uuid.UUID
	CustomerName    *string
	CustomerPhone   *string
	Notes           *string
	TotalAmount     *decimal.Decimal
	Items           []ItemInput
	ExpectedVersion *int32
}

// ListOrdersFilter narrows ListOrders. Zero values mean "any".
type ListOrdersFilter struct {
	Status         string
	HandoverStatus string
	RoomID         *uuid.UUID
	From           *time.Time
	To             *time.Time
	Limit          int32
	Offset         int32
}

// CreateOrder validates the request, resolves item snapshots and stores the
// order with its items in one transaction. Retries up to maxOrderIDRetries
// times when another transaction already claimed the generated id.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if req.RoomID == uuid.Nil {
		return nil, ErrRoomRequired
	}
	if req.ReceivedAmount != nil && !req.ReceivedAmount.IsPositive() {
		return nil, ErrInvalidReceivedAmount
	}

	// A rolled back attempt also rolls back its sequence increment, so each
	// retry asks for a value past the id that collided.
	var floor int32
	for attempt := 0; attempt < maxOrderIDRetries; attempt++ {
		order, seq, err := s.createOrderTx(ctx, req, floor)
		if err == nil {
			s.metrics.OrderCreated(ctx)
			s.publish(ctx, notify.KindOrderCreated, order.ID, order)
			return order, nil
		}
		if !isOrderIDConflict(err) {
			return nil, err
		}
		s.logger.Warn("order id already taken",
			zap.Int("attempt", attempt+1),
			zap.Int32("sequence", seq),
			zap.Error(err),
		)
		floor = seq + 1
	}
	return nil, ErrConflict
}

// checkDistinctItemIDs rejects a replacement list that names the same stored
// line twice.
func checkDistinctItemIDs(items []ItemInput) error {
	seen := make(map[uuid.UUID]bool, len(items))
	for i, in := range items {
		if in.ID == nil {
			continue
		}
		if seen[*in.ID] {
			return fmt.Errorf("item[%d]: %w: duplicate id %s", i, ErrInvalidItem, *in.ID)
		}
		seen[*in.ID] = true
	}
	return nil
}

// isOrderIDConflict checks if the error is a unique constraint violation
// on the order id (pgconn error code 23505).
func isOrderIDConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_pkey"
	}
	return false
}

// orderID formats the id of the seq-th order of the business day of t.
func orderID(t time.Time, seq int32) string {
	return t.Format("20060102150405") + fmt.Sprintf("%03d", seq)
}

// createOrderTx returns the sequence it drew along with the result so a
// caller can retry past a colliding id.
func (s *OrderService) createOrderTx(ctx context.Context, req CreateOrderRequest, floor int32) (*Order, int32, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	room, err := store.GetRoom(ctx, req.RoomID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrRoomNotFound
		}
		return nil, 0, fmt.Errorf("get room: %w", err)
	}

	items := make([]database.CreateOrderItemParams, 0, len(req.Items))
	for i, in := range req.Items {
		params, err := s.resolveItem(ctx, store, in, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("item[%d]: %w", i, err)
		}
		params.Position = int32(i + 1)
		items = append(items, params)
	}

	total, err := checkTotal(req.TotalAmount, itemParamsTotal(items))
	if err != nil {
		return nil, 0, err
	}

	receivedAmount := pgtype.Numeric{}
	if req.ReceivedAmount != nil {
		receivedAmount = decimalToNumeric(*req.ReceivedAmount)
	}

	now := s.now().In(s.loc)
	seq, err := store.NextOrderSequence(ctx, database.NextOrderSequenceParams{
		BusinessDate: pgtype.Date{
			Time:  time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
			Valid: true,
		},
		Floor: floor,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("next order sequence: %w", err)
	}

	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		ID:             orderID(now, seq),
		RoomID:         pgUUID(room.ID),
		RoomName:       room.Name,
		CustomerName:   pgText(req.CustomerName),
		CustomerPhone:  pgText(req.CustomerPhone),
		Status:         enum.OrderStatusInProgress,
		HandoverStatus: enum.HandoverStatusPending,
		TotalAmount:    decimalToNumeric(total),
		ReceivedAmount: receivedAmount,
		DiscountRate:   rateToNumeric(decimal.NewFromInt(1)),
		Notes:          pgText(req.Notes),
		CreatedAt:      pgTime(now),
	})
	if err != nil {
		return nil, seq, fmt.Errorf("create order: %w", err)
	}

	created, err := insertItems(ctx, store, order.ID, items)
	if err != nil {
		return nil, seq, err
	}

	if req.Occupy {
		if err := store.SetRoomStatus(ctx, database.SetRoomStatusParams{ID: room.ID, Status: enum.RoomStatusOccupied}); err != nil {
			return nil, seq, fmt.Errorf("occupy room: %w", err)
		}
		if err := setTechnicians(ctx, store, technicianIDs(created), enum.TechnicianStatusBusy); err != nil {
			return nil, seq, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, seq, fmt.Errorf("commit tx: %w", err)
	}
	return toOrder(order, created), seq, nil
}

// UpdateOrder applies a partial update. Commission snapshots, received amount
// and discount rate already stamped by a checkout are left as they are.
func (s *OrderService) UpdateOrder(ctx context.Context, id string, req UpdateOrderRequest) (*Order, error) {
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
	if req.ExpectedVersion != nil && *req.ExpectedVersion != current.Version {
		return nil, ErrConflict
	}

	params := database.UpdateOrderParams{
		ID:            id,
		RoomID:        current.RoomID,
		RoomName:      current.RoomName,
		CustomerName:  current.CustomerName,
		CustomerPhone: current.CustomerPhone,
		Notes:         current.Notes,
		UpdatedAt:     pgTime(s.now()),
	}
	if req.ExpectedVersion != nil {
		params.ExpectedVersion = pgtype.Int4{Int32: *req.ExpectedVersion, Valid: true}
	}
	if req.RoomID != nil {
		room, err := store.GetRoom(ctx, *req.RoomID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrRoomNotFound
			}
			return nil, fmt.Errorf("get room: %w", err)
		}
		params.RoomID = pgUUID(room.ID)
		params.RoomName = room.Name
	}
	if req.CustomerName != nil {
		params.CustomerName = pgText(*req.CustomerName)
	}
	if req.CustomerPhone != nil {
		params.CustomerPhone = pgText(*req.CustomerPhone)
	}
	if req.Notes != nil {
		params.Notes = pgText(*req.Notes)
	}

	items, err := store.ListOrderItemsByOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}

	if req.Items != nil {
		if err := checkDistinctItemIDs(req.Items); err != nil {
			return nil, err
		}
		existing := make(map[uuid.UUID]*database.OrderItem, len(items))
		for i := range items {
			existing[items[i].ID] = &items[i]
		}
		replacement := make([]database.CreateOrderItemParams, 0, len(req.Items))
		for i, in := range req.Items {
			var prev *database.OrderItem
			if in.ID != nil {
				prev = existing[*in.ID]
			}
			p, err := s.resolveItem(ctx, store, in, prev)
			if err != nil {
				return nil, fmt.Errorf("item[%d]: %w", i, err)
			}
			p.Position = int32(i + 1)
			replacement = append(replacement, p)
		}
		if err := store.DeleteOrderItemsByOrder(ctx, id); err != nil {
			return nil, fmt.Errorf("delete order items: %w", err)
		}
		if items, err = insertItems(ctx, store, id, replacement); err != nil {
			return nil, err
		}
	}

	total, err := checkTotal(req.TotalAmount, itemsTotal(items))
	if err != nil {
		return nil, err
	}
	params.TotalAmount = decimalToNumeric(total)

	order, err := store.UpdateOrder(ctx, params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	out := toOrder(order, items)
	s.publish(ctx, notify.KindOrderUpdated, out.ID, out)
	return out, nil
}

// UpdateOrderStatus sets status without checking the transition. Moving to
// completed stamps completed_at.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, id, status string) (*Order, error) {
	if !isOrderStatus(status) {
		return nil, ErrInvalidStatus
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	now := s.now()
	params := database.UpdateOrderStatusParams{ID: id, Status: status, UpdatedAt: pgTime(now)}
	if status == enum.OrderStatusCompleted {
		params.CompletedAt = pgTime(now)
	}
	order, err := store.UpdateOrderStatus(ctx, params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}
	items, err := store.ListOrderItemsByOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.metrics.Transition(ctx, status)
	out := toOrder(order, items)
	s.publish(ctx, notify.KindOrderStatusUpdated, out.ID, out)
	return out, nil
}

// DeleteOrder hard-deletes an order and its items. Room and technicians are
// left alone.
func (s *OrderService) DeleteOrder(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := s.newStore(tx).DeleteOrder(ctx, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if n == 0 {
		return ErrOrderNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.publish(ctx, notify.KindOrderDeleted, id, nil)
	return nil
}

// GetOrder returns the order with its items.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*Order, error) {
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
	return toOrder(order, items), nil
}

// ListOrders returns matching orders, newest first, with their items.
func (s *OrderService) ListOrders(ctx context.Context, f ListOrdersFilter) ([]Order, error) {
	if f.Status != "" && !isOrderStatus(f.Status) {
		return nil, ErrInvalidStatus
	}
	if f.HandoverStatus != "" && f.HandoverStatus != enum.HandoverStatusPending && f.HandoverStatus != enum.HandoverStatusHandedOver {
		return nil, ErrInvalidStatus
	}

	params := database.ListOrdersParams{
		Status:         pgText(f.Status),
		HandoverStatus: pgText(f.HandoverStatus),
		Limit:          f.Limit,
		Offset:         f.Offset,
	}
	if params.Limit <= 0 {
		params.Limit = defaultListLimit
	}
	if params.Limit > maxListLimit {
		params.Limit = maxListLimit
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	if f.RoomID != nil {
		params.RoomID = pgUUID(*f.RoomID)
	}
	if f.From != nil {
		params.StartDate = pgTime(*f.From)
	}
	if f.To != nil {
		params.EndDate = pgTime(*f.To)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)
	orders, err := store.ListOrders(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return withItems(ctx, store, orders)
}

// CancelOrder cancels an open order, appending the reason to its notes and
// releasing its room and technicians.
func (s *OrderService) CancelOrder(ctx context.Context, id, reason string) (*Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
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
	items, err := store.ListOrderItemsByOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}

	order, err := cancel(ctx, store, current, appendNote(current.Notes, "Cancelled: "+reason), s.now())
	if err != nil {
		return nil, err
	}
	if err := releaseResources(ctx, store, order, technicianIDs(items)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.metrics.Transition(ctx, enum.OrderStatusCancelled)
	out := toOrder(order, items)
	s.publish(ctx, notify.KindOrderCancelled, out.ID, out)
	return out, nil
}

// HandOverRequest names the orders closed out at a shift change and the
// staff member signing them off.
// HandOverRequest names the orders being handed over and the staff member
// doing it.
type HandOverRequest struct {
	OrderIDs  []string
	StaffID   uuid.UUID
	StaffName string
}

// HandOver marks a batch of orders as reviewed at shift close and records who
// signed them off. Either every id is handed over or none is.
func (s *OrderService) HandOver(ctx context.Context, req HandOverRequest) ([]Order, error) {
	if req.StaffID == uuid.Nil {
		return nil, ErrStaffRequired
	}
	unique := make([]string, 0, len(req.OrderIDs))
	seen := make(map[string]bool, len(req.OrderIDs))
	for _, id := range req.OrderIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return nil, ErrNoOrderIDs
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	orders, err := store.MarkOrdersHandedOver(ctx, database.MarkOrdersHandedOverParams{
		IDs:            unique,
		HandoverAt:     pgTime(s.now()),
		HandoverBy:     pgUUID(req.StaffID),
		HandoverByName: pgText(req.StaffName),
	})
	if err != nil {
		return nil, fmt.Errorf("mark orders handed over: %w", err)
	}
	if len(orders) != len(unique) {
		found := make(map[string]bool, len(orders))
		for _, o := range orders {
			found[o.ID] = true
		}
		var missing []string
		for _, id := range unique {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, strings.Join(missing, ", "))
	}

	out, err := withItems(ctx, store, orders)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	s.logger.Info("orders handed over",
		zap.Strings("order_ids", unique),
		zap.String("staff_id", req.StaffID.String()),
	)
	s.publish(ctx, notify.KindOrdersHandedOver, "", out)
	return out, nil
}

// publish sends a change event for a committed mutation. Failures are logged
// and never reach the caller.
func (s *OrderService) publish(ctx context.Context, kind, orderID string, payload any) {
	event := notify.Event{Kind: kind, OrderID: orderID, OccurredAt: s.now()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error("marshal order event", zap.String("kind", kind), zap.String("order_id", orderID), zap.Error(err))
			return
		}
		event.Payload = data
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("publish order event", zap.String("kind", kind), zap.String("order_id", orderID), zap.Error(err))
	}
}

// --- Helpers ---

func loadOrderForUpdate(ctx context.Context, store OrderStore, id string) (database.Order, error) {
	order, err := store.GetOrderForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderNotFound
		}
		return database.Order{}, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

func withItems(ctx context.Context, store OrderStore, orders []database.Order) ([]Order, error) {
	out := make([]Order, 0, len(orders))
	if len(orders) == 0 {
		return out, nil
	}
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	items, err := store.ListOrderItemsByOrders(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	byOrder := make(map[string][]database.OrderItem, len(orders))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	for _, o := range orders {
		out = append(out, *toOrder(o, byOrder[o.ID]))
	}
	return out, nil
}

func cancel(ctx context.Context, store OrderStore, order database.Order, notes pgtype.Text, now time.Time) (database.Order, error) {
	cancelled, err := store.CancelOrder(ctx, database.CancelOrderParams{
		ID:        order.ID,
		Notes:     notes,
		UpdatedAt: pgTime(now),
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, ErrOrderClosed
		}
		return database.Order{}, fmt.Errorf("cancel order: %w", err)
	}
	return cancelled, nil
}

// releaseResources frees the order's room (deleting it when temporary) and
// the given technicians.
func releaseResources(ctx context.Context, store OrderStore, order database.Order, techs []uuid.UUID) error {
	if order.RoomID.Valid {
		roomID := uuid.UUID(order.RoomID.Bytes)
		deleted, err := store.DeleteTemporaryRoom(ctx, roomID)
		if err != nil {
			return fmt.Errorf("delete temporary room: %w", err)
		}
		if deleted == 0 {
			if err := store.SetRoomStatus(ctx, database.SetRoomStatusParams{ID: roomID, Status: enum.RoomStatusAvailable}); err != nil {
				return fmt.Errorf("release room: %w", err)
			}
		}
	}
	return setTechnicians(ctx, store, techs, enum.TechnicianStatusAvailable)
}

func setTechnicians(ctx context.Context, store OrderStore, ids []uuid.UUID, status string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := store.SetTechniciansStatus(ctx, database.SetTechniciansStatusParams{IDs: ids, Status: status}); err != nil {
		return fmt.Errorf("set technicians %s: %w", status, err)
	}
	return nil
}

// technicianIDs returns the distinct technicians assigned to items, in order.
func technicianIDs(items []database.OrderItem) []uuid.UUID {
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, it := range items {
		if !it.TechnicianID.Valid {
			continue
		}
		id := uuid.UUID(it.TechnicianID.Bytes)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func appendNote(notes pgtype.Text, line string) pgtype.Text {
	if !notes.Valid || strings.TrimSpace(notes.String) == "" {
		return pgText(line)
	}
	return pgText(notes.String + "\n" + line)
}

// checkTotal returns the order total for items summing to sum. A supplied
// total must match it to the cent.
func checkTotal(supplied *decimal.Decimal, sum decimal.Decimal) (decimal.Decimal, error) {
	if supplied != nil && !supplied.Round(2).Equal(sum.Round(2)) {
		return decimal.Zero, fmt.Errorf("%w: got %s, items sum to %s", ErrTotalMismatch, supplied.StringFixed(2), sum.StringFixed(2))
	}
	return sum, nil
}

func itemsTotal(items []database.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(numericToDecimal(it.Price))
	}
	return total
}

func itemParamsTotal(items []database.CreateOrderItemParams) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(numericToDecimal(it.Price))
	}
	return total
}

func isOrderStatus(s string) bool {
	switch s {
	case enum.OrderStatusInProgress, enum.OrderStatusCompleted, enum.OrderStatusCancelled:
		return true
	}
	return false
}

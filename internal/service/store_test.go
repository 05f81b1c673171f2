package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/roomdesk/api/internal/database"
	"github.com/roomdesk/api/internal/enum"
)

// mockTx implements pgx.Tx with only the methods we need.
// The unused methods panic so we catch accidental calls.
type mockTx struct {
	commitErr error
	commits   int
	rollbacks int
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	m.commits++
	return nil
}
func (m *mockTx) Rollback(ctx context.Context) error { m.rollbacks++; return nil }
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

// mockTxBeginner implements TxBeginner.
type mockTxBeginner struct {
	tx  pgx.Tx
	err error
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.tx, m.err
}

type techService struct {
	price      string
	commission string
	ruleID     uuid.UUID
}

// memStore is an in-memory OrderStore. It does not roll back; tests that
// care about atomicity inspect what was written before the failure. The one
// exception is the order sequence: a failed CreateOrder undoes the last
// increment the way the aborted transaction would. Primary keys of orders
// and items are enforced with the same errors Postgres returns.
type memStore struct {
	mu sync.Mutex

	sequences    map[time.Time]int32
	lastSeqDate  time.Time
	seqBefore    int32
	orders       map[string]database.Order
	items        map[uuid.UUID]database.OrderItem
	rooms        map[uuid.UUID]database.Room
	technicians  map[uuid.UUID]database.Technician
	services     map[uuid.UUID]string
	assignments  map[[2]uuid.UUID]techService
	salespersons map[uuid.UUID]database.Salesperson
	rules        map[uuid.UUID]database.CompanyCommissionRule

	// createOrderErr, when set, is returned by the next CreateOrder calls
	// until it is consumed failCreates times.
	createOrderErr error
	failCreates    int
}

func newMemStore() *memStore {
	return &memStore{
		sequences:    map[time.Time]int32{},
		orders:       map[string]database.Order{},
		items:        map[uuid.UUID]database.OrderItem{},
		rooms:        map[uuid.UUID]database.Room{},
		technicians:  map[uuid.UUID]database.Technician{},
		services:     map[uuid.UUID]string{},
		assignments:  map[[2]uuid.UUID]techService{},
		salespersons: map[uuid.UUID]database.Salesperson{},
		rules:        map[uuid.UUID]database.CompanyCommissionRule{},
	}
}

// --- fixtures ---

func (m *memStore) addRoom(name string, temporary bool) uuid.UUID {
	id := uuid.New()
	m.rooms[id] = database.Room{ID: id, Name: name, Status: enum.RoomStatusAvailable, IsTemporary: temporary}
	return id
}

func (m *memStore) addTechnician(name string) uuid.UUID {
	id := uuid.New()
	m.technicians[id] = database.Technician{ID: id, Name: name, Status: enum.TechnicianStatusAvailable}
	return id
}

func (m *memStore) addService(name string) uuid.UUID {
	id := uuid.New()
	m.services[id] = name
	return id
}

func (m *memStore) assign(tech, service uuid.UUID, price, commission string, rule uuid.UUID) {
	m.assignments[[2]uuid.UUID{tech, service}] = techService{price: price, commission: commission, ruleID: rule}
}

func (m *memStore) addSalesperson(name, commissionType, rate string) uuid.UUID {
	id := uuid.New()
	m.salespersons[id] = database.Salesperson{ID: id, Name: name, CommissionType: commissionType, CommissionRate: makeNumeric(rate)}
	return id
}

func (m *memStore) addRule(name, commissionType, rate string, isDefault bool) uuid.UUID {
	id := uuid.New()
	m.rules[id] = database.CompanyCommissionRule{ID: id, Name: name, CommissionType: commissionType, CommissionRate: makeNumeric(rate), IsDefault: isDefault}
	return id
}

func makeNumeric(val string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(val)
	return n
}

// --- OrderStore ---

func (m *memStore) NextOrderSequence(ctx context.Context, arg database.NextOrderSequenceParams) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	day := arg.BusinessDate.Time
	m.lastSeqDate = day
	m.seqBefore = m.sequences[day]
	next := m.sequences[day] + 1
	if arg.Floor > next {
		next = arg.Floor
	}
	m.sequences[day] = next
	return next, nil
}

func (m *memStore) rollbackSequence() {
	m.sequences[m.lastSeqDate] = m.seqBefore
}

// seedOrder stores a bare order under id, as if another writer took it.
func (m *memStore) seedOrder(id string) {
	m.orders[id] = database.Order{ID: id, Status: enum.OrderStatusInProgress, HandoverStatus: enum.HandoverStatusPending}
}

func (m *memStore) CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createOrderErr != nil && m.failCreates > 0 {
		m.failCreates--
		m.rollbackSequence()
		return database.Order{}, m.createOrderErr
	}
	if _, taken := m.orders[arg.ID]; taken {
		m.rollbackSequence()
		return database.Order{}, &pgconn.PgError{Code: "23505", ConstraintName: "orders_pkey"}
	}
	o := database.Order{
		ID:             arg.ID,
		RoomID:         arg.RoomID,
		RoomName:       arg.RoomName,
		CustomerName:   arg.CustomerName,
		CustomerPhone:  arg.CustomerPhone,
		Status:         arg.Status,
		HandoverStatus: arg.HandoverStatus,
		TotalAmount:    arg.TotalAmount,
		ReceivedAmount: arg.ReceivedAmount,
		DiscountRate:   arg.DiscountRate,
		Notes:          arg.Notes,
		Version:        1,
		CreatedAt:      arg.CreatedAt.Time,
		UpdatedAt:      arg.CreatedAt.Time,
	}
	m.orders[o.ID] = o
	return o, nil
}

func (m *memStore) GetOrder(ctx context.Context, id string) (database.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (m *memStore) GetOrderForUpdate(ctx context.Context, id string) (database.Order, error) {
	return m.GetOrder(ctx, id)
}

func (m *memStore) ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []database.Order{}
	for _, o := range m.orders {
		if arg.Status.Valid && o.Status != arg.Status.String {
			continue
		}
		if arg.HandoverStatus.Valid && o.HandoverStatus != arg.HandoverStatus.String {
			continue
		}
		if arg.RoomID.Valid && o.RoomID != arg.RoomID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if int(arg.Offset) >= len(out) {
		return []database.Order{}, nil
	}
	out = out[arg.Offset:]
	if int(arg.Limit) < len(out) {
		out = out[:arg.Limit]
	}
	return out, nil
}

func (m *memStore) mutate(id string, fn func(o *database.Order)) (database.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return database.Order{}, pgx.ErrNoRows
	}
	fn(&o)
	o.Version++
	m.orders[id] = o
	return o, nil
}

func (m *memStore) UpdateOrder(ctx context.Context, arg database.UpdateOrderParams) (database.Order, error) {
	m.mu.Lock()
	o, ok := m.orders[arg.ID]
	m.mu.Unlock()
	if !ok || (arg.ExpectedVersion.Valid && o.Version != arg.ExpectedVersion.Int32) {
		return database.Order{}, pgx.ErrNoRows
	}
	return m.mutate(arg.ID, func(o *database.Order) {
		o.RoomID = arg.RoomID
		o.RoomName = arg.RoomName
		o.CustomerName = arg.CustomerName
		o.CustomerPhone = arg.CustomerPhone
		o.TotalAmount = arg.TotalAmount
		o.Notes = arg.Notes
		o.UpdatedAt = arg.UpdatedAt.Time
	})
}

func (m *memStore) UpdateOrderTotal(ctx context.Context, arg database.UpdateOrderTotalParams) (database.Order, error) {
	return m.mutate(arg.ID, func(o *database.Order) {
		o.TotalAmount = arg.TotalAmount
		o.UpdatedAt = arg.UpdatedAt.Time
	})
}

func (m *memStore) TouchOrder(ctx context.Context, arg database.TouchOrderParams) (database.Order, error) {
	return m.mutate(arg.ID, func(o *database.Order) { o.UpdatedAt = arg.UpdatedAt.Time })
}

func (m *memStore) UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error) {
	return m.mutate(arg.ID, func(o *database.Order) {
		o.Status = arg.Status
		if arg.CompletedAt.Valid {
			o.CompletedAt = arg.CompletedAt
		}
		o.UpdatedAt = arg.UpdatedAt.Time
	})
}

func (m *memStore) UpdateOrderCheckout(ctx context.Context, arg database.UpdateOrderCheckoutParams) (database.Order, error) {
	return m.mutate(arg.ID, func(o *database.Order) {
		o.ReceivedAmount = arg.ReceivedAmount
		o.DiscountRate = arg.DiscountRate
		o.UpdatedAt = arg.UpdatedAt.Time
	})
}

func (m *memStore) CancelOrder(ctx context.Context, arg database.CancelOrderParams) (database.Order, error) {
	m.mu.Lock()
	o, ok := m.orders[arg.ID]
	m.mu.Unlock()
	if !ok || o.Status != enum.OrderStatusInProgress {
		return database.Order{}, pgx.ErrNoRows
	}
	return m.mutate(arg.ID, func(o *database.Order) {
		o.Status = enum.OrderStatusCancelled
		o.Notes = arg.Notes
		o.UpdatedAt = arg.UpdatedAt.Time
	})
}

func (m *memStore) MarkOrdersHandedOver(ctx context.Context, arg database.MarkOrdersHandedOverParams) ([]database.Order, error) {
	var out []database.Order
	for _, id := range arg.IDs {
		o, err := m.mutate(id, func(o *database.Order) {
			o.HandoverStatus = enum.HandoverStatusHandedOver
			o.HandoverAt = arg.HandoverAt
			o.HandoverBy = arg.HandoverBy
			o.HandoverByName = arg.HandoverByName
			o.UpdatedAt = arg.HandoverAt.Time
		})
		if err == nil {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) DeleteOrder(ctx context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return 0, nil
	}
	delete(m.orders, id)
	for itemID, it := range m.items {
		if it.OrderID == id {
			delete(m.items, itemID)
		}
	}
	return 1, nil
}

func (m *memStore) CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	if arg.ID.Valid {
		id = uuid.UUID(arg.ID.Bytes)
	}
	if _, taken := m.items[id]; taken {
		return database.OrderItem{}, &pgconn.PgError{Code: "23505", ConstraintName: "order_items_pkey"}
	}
	it := database.OrderItem{
		ID:                        id,
		OrderID:                   arg.OrderID,
		Position:                  arg.Position,
		ServiceID:                 arg.ServiceID,
		ServiceName:               arg.ServiceName,
		TechnicianID:              arg.TechnicianID,
		TechnicianName:            arg.TechnicianName,
		Price:                     arg.Price,
		TechnicianCommission:      arg.TechnicianCommission,
		SalespersonID:             arg.SalespersonID,
		SalespersonName:           arg.SalespersonName,
		SalespersonCommission:     arg.SalespersonCommission,
		CompanyCommissionRuleID:   arg.CompanyCommissionRuleID,
		CompanyCommissionRuleName: arg.CompanyCommissionRuleName,
		CompanyCommissionType:     arg.CompanyCommissionType,
		CompanyCommissionRate:     arg.CompanyCommissionRate,
		CompanyCommissionAmount:   arg.CompanyCommissionAmount,
		Status:                    arg.Status,
		CompletedAt:               arg.CompletedAt,
		CreatedAt:                 time.Now(),
	}
	m.items[id] = it
	return it, nil
}

func (m *memStore) ListOrderItemsByOrder(ctx context.Context, orderID string) ([]database.OrderItem, error) {
	return m.ListOrderItemsByOrders(ctx, []string{orderID})
}

func (m *memStore) ListOrderItemsByOrders(ctx context.Context, orderIDs []string) ([]database.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]bool{}
	for _, id := range orderIDs {
		want[id] = true
	}
	out := []database.OrderItem{}
	for _, it := range m.items {
		if want[it.OrderID] {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderID != out[j].OrderID {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (m *memStore) DeleteOrderItemsByOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, it := range m.items {
		if it.OrderID == orderID {
			delete(m.items, id)
		}
	}
	return nil
}

func (m *memStore) DeleteOrderItem(ctx context.Context, arg database.DeleteOrderItemParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[arg.ID]
	if !ok || it.OrderID != arg.OrderID {
		return 0, nil
	}
	delete(m.items, arg.ID)
	return 1, nil
}

func (m *memStore) UpdateOrderItemCommission(ctx context.Context, arg database.UpdateOrderItemCommissionParams) (database.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[arg.ID]
	if !ok {
		return database.OrderItem{}, pgx.ErrNoRows
	}
	it.SalespersonID = arg.SalespersonID
	it.SalespersonName = arg.SalespersonName
	it.SalespersonCommission = arg.SalespersonCommission
	it.CompanyCommissionAmount = arg.CompanyCommissionAmount
	m.items[arg.ID] = it
	return it, nil
}

func (m *memStore) UpdateOrderItemStatus(ctx context.Context, arg database.UpdateOrderItemStatusParams) (database.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[arg.ID]
	if !ok || it.OrderID != arg.OrderID {
		return database.OrderItem{}, pgx.ErrNoRows
	}
	it.Status = arg.Status
	it.CompletedAt = arg.CompletedAt
	m.items[arg.ID] = it
	return it, nil
}

func (m *memStore) GetRoom(ctx context.Context, id uuid.UUID) (database.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return database.Room{}, pgx.ErrNoRows
	}
	return r, nil
}

func (m *memStore) SetRoomStatus(ctx context.Context, arg database.SetRoomStatusParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[arg.ID]; ok {
		r.Status = arg.Status
		m.rooms[arg.ID] = r
	}
	return nil
}

func (m *memStore) DeleteTemporaryRoom(ctx context.Context, id uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[id]; ok && r.IsTemporary {
		delete(m.rooms, id)
		return 1, nil
	}
	return 0, nil
}

func (m *memStore) GetTechnician(ctx context.Context, id uuid.UUID) (database.Technician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.technicians[id]
	if !ok {
		return database.Technician{}, pgx.ErrNoRows
	}
	return t, nil
}

func (m *memStore) SetTechniciansStatus(ctx context.Context, arg database.SetTechniciansStatusParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range arg.IDs {
		if t, ok := m.technicians[id]; ok {
			t.Status = arg.Status
			m.technicians[id] = t
		}
	}
	return nil
}

func (m *memStore) GetTechnicianService(ctx context.Context, arg database.GetTechnicianServiceParams) (database.GetTechnicianServiceRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[[2]uuid.UUID{arg.TechnicianID, arg.ServiceID}]
	if !ok {
		return database.GetTechnicianServiceRow{}, pgx.ErrNoRows
	}
	row := database.GetTechnicianServiceRow{
		TechnicianID:   arg.TechnicianID,
		TechnicianName: m.technicians[arg.TechnicianID].Name,
		ServiceID:      arg.ServiceID,
		ServiceName:    m.services[arg.ServiceID],
		Price:          makeNumeric(a.price),
		Commission:     makeNumeric(a.commission),
	}
	if a.ruleID != uuid.Nil {
		row.CompanyCommissionRuleID = pgtype.UUID{Bytes: a.ruleID, Valid: true}
	}
	return row, nil
}

func (m *memStore) GetSalesperson(ctx context.Context, id uuid.UUID) (database.Salesperson, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.salespersons[id]
	if !ok {
		return database.Salesperson{}, pgx.ErrNoRows
	}
	return sp, nil
}

func (m *memStore) GetCommissionRule(ctx context.Context, id uuid.UUID) (database.CompanyCommissionRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return database.CompanyCommissionRule{}, pgx.ErrNoRows
	}
	return r, nil
}

func (m *memStore) GetDefaultCommissionRule(ctx context.Context) (database.CompanyCommissionRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.IsDefault {
			return r, nil
		}
	}
	return database.CompanyCommissionRule{}, pgx.ErrNoRows
}

func (m *memStore) ListCommissionRules(ctx context.Context) ([]database.CompanyCommissionRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []database.CompanyCommissionRule{}
	for _, r := range m.rules {
		out = append(out, r)
	}
	return out, nil
}

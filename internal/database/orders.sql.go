package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, room_id, room_name, customer_name, customer_phone, status, handover_status,
    total_amount, received_amount, discount_rate, notes, version,
    created_at, updated_at, completed_at, handover_at, handover_by, handover_by_name`

func scanOrder(row pgx.Row) (Order, error) {
	var i Order
	err := row.Scan(
		&i.ID,
		&i.RoomID,
		&i.RoomName,
		&i.CustomerName,
		&i.CustomerPhone,
		&i.Status,
		&i.HandoverStatus,
		&i.TotalAmount,
		&i.ReceivedAmount,
		&i.DiscountRate,
		&i.Notes,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.CompletedAt,
		&i.HandoverAt,
		&i.HandoverBy,
		&i.HandoverByName,
	)
	return i, err
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	items := []Order{}
	for rows.Next() {
		i, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const nextOrderSequence = `-- name: NextOrderSequence :one
INSERT INTO order_sequences (business_date, last_value)
VALUES ($1, GREATEST($2::int, 1))
ON CONFLICT (business_date) DO UPDATE
    SET last_value = GREATEST(order_sequences.last_value + 1, $2::int)
RETURNING last_value
`

type NextOrderSequenceParams struct {
	BusinessDate pgtype.Date
	// Floor is the smallest value the caller will accept; 0 means none.
	Floor int32
}

// NextOrderSequence atomically reserves the next per-day order sequence.
// Concurrent callers on the same business date serialize on the row lock, so
// no two transactions ever receive the same value.
func (q *Queries) NextOrderSequence(ctx context.Context, arg NextOrderSequenceParams) (int32, error) {
	row := q.db.QueryRow(ctx, nextOrderSequence, arg.BusinessDate, arg.Floor)
	var last_value int32
	err := row.Scan(&last_value)
	return last_value, err
}

const createOrder = `-- name: CreateOrder :one
INSERT INTO orders (
    id, room_id, room_name, customer_name, customer_phone, status, handover_status,
    total_amount, received_amount, discount_rate, notes, created_at, updated_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12
)
RETURNING ` + orderColumns

type CreateOrderParams struct {
	ID             string
	RoomID         pgtype.UUID
	RoomName       string
	CustomerName   pgtype.Text
	CustomerPhone  pgtype.Text
	Status         string
	HandoverStatus string
	TotalAmount    pgtype.Numeric
	ReceivedAmount pgtype.Numeric
	DiscountRate   pgtype.Numeric
	Notes          pgtype.Text
	CreatedAt      pgtype.Timestamptz
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, createOrder,
		arg.ID,
		arg.RoomID,
		arg.RoomName,
		arg.CustomerName,
		arg.CustomerPhone,
		arg.Status,
		arg.HandoverStatus,
		arg.TotalAmount,
		arg.ReceivedAmount,
		arg.DiscountRate,
		arg.Notes,
		arg.CreatedAt,
	)
	return scanOrder(row)
}

const getOrder = `-- name: GetOrder :one
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1
`

func (q *Queries) GetOrder(ctx context.Context, id string) (Order, error) {
	row := q.db.QueryRow(ctx, getOrder, id)
	return scanOrder(row)
}

const getOrderForUpdate = `-- name: GetOrderForUpdate :one
SELECT ` + orderColumns + `
FROM orders
WHERE id = $1
FOR UPDATE
`

func (q *Queries) GetOrderForUpdate(ctx context.Context, id string) (Order, error) {
	row := q.db.QueryRow(ctx, getOrderForUpdate, id)
	return scanOrder(row)
}

const listOrders = `-- name: ListOrders :many
SELECT ` + orderColumns + `
FROM orders
WHERE ($1::text IS NULL OR status = $1)
  AND ($2::text IS NULL OR handover_status = $2)
  AND ($3::uuid IS NULL OR room_id = $3)
  AND ($4::timestamptz IS NULL OR created_at >= $4)
  AND ($5::timestamptz IS NULL OR created_at < $5)
ORDER BY created_at DESC, id DESC
LIMIT $6 OFFSET $7
`

type ListOrdersParams struct {
	Status         pgtype.Text
	HandoverStatus pgtype.Text
	RoomID         pgtype.UUID
	StartDate      pgtype.Timestamptz
	EndDate        pgtype.Timestamptz
	Limit          int32
	Offset         int32
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, listOrders,
		arg.Status,
		arg.HandoverStatus,
		arg.RoomID,
		arg.StartDate,
		arg.EndDate,
		arg.Limit,
		arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

const updateOrder = `-- name: UpdateOrder :one
UPDATE orders
SET room_id        = $2,
    room_name      = $3,
    customer_name  = $4,
    customer_phone = $5,
    total_amount   = $6,
    notes          = $7,
    version        = version + 1,
    updated_at     = $8
WHERE id = $1
  AND ($9::int IS NULL OR version = $9)
RETURNING ` + orderColumns

type UpdateOrderParams struct {
	ID              string
	RoomID          pgtype.UUID
	RoomName        string
	CustomerName    pgtype.Text
	CustomerPhone   pgtype.Text
	TotalAmount     pgtype.Numeric
	Notes           pgtype.Text
	UpdatedAt       pgtype.Timestamptz
	ExpectedVersion pgtype.Int4
}

// UpdateOrder rewrites the mutable order columns. When ExpectedVersion is set
// and no longer matches, no row is returned (pgx.ErrNoRows).
func (q *Queries) UpdateOrder(ctx context.Context, arg UpdateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrder,
		arg.ID,
		arg.RoomID,
		arg.RoomName,
		arg.CustomerName,
		arg.CustomerPhone,
		arg.TotalAmount,
		arg.Notes,
		arg.UpdatedAt,
		arg.ExpectedVersion,
	)
	return scanOrder(row)
}

const updateOrderTotal = `-- name: UpdateOrderTotal :one
UPDATE orders
SET total_amount = $2,
    version      = version + 1,
    updated_at   = $3
WHERE id = $1
RETURNING ` + orderColumns

type UpdateOrderTotalParams struct {
	ID          string
	TotalAmount pgtype.Numeric
	UpdatedAt   pgtype.Timestamptz
}

func (q *Queries) UpdateOrderTotal(ctx context.Context, arg UpdateOrderTotalParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderTotal, arg.ID, arg.TotalAmount, arg.UpdatedAt)
	return scanOrder(row)
}

const touchOrder = `-- name: TouchOrder :one
UPDATE orders
SET version    = version + 1,
    updated_at = $2
WHERE id = $1
RETURNING ` + orderColumns

type TouchOrderParams struct {
	ID        string
	UpdatedAt pgtype.Timestamptz
}

// TouchOrder bumps version and updated_at after a change to the order's items
// that leaves the order row itself untouched.
func (q *Queries) TouchOrder(ctx context.Context, arg TouchOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, touchOrder, arg.ID, arg.UpdatedAt)
	return scanOrder(row)
}

const updateOrderStatus = `-- name: UpdateOrderStatus :one
UPDATE orders
SET status       = $2,
    completed_at = COALESCE($3, completed_at),
    version      = version + 1,
    updated_at   = $4
WHERE id = $1
RETURNING ` + orderColumns

type UpdateOrderStatusParams struct {
	ID          string
	Status      string
	CompletedAt pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderStatus, arg.ID, arg.Status, arg.CompletedAt, arg.UpdatedAt)
	return scanOrder(row)
}

const updateOrderCheckout = `-- name: UpdateOrderCheckout :one
UPDATE orders
SET received_amount = $2,
    discount_rate   = $3,
    version         = version + 1,
    updated_at      = $4
WHERE id = $1
RETURNING ` + orderColumns

type UpdateOrderCheckoutParams struct {
	ID             string
	ReceivedAmount pgtype.Numeric
	DiscountRate   pgtype.Numeric
	UpdatedAt      pgtype.Timestamptz
}

func (q *Queries) UpdateOrderCheckout(ctx context.Context, arg UpdateOrderCheckoutParams) (Order, error) {
	row := q.db.QueryRow(ctx, updateOrderCheckout, arg.ID, arg.ReceivedAmount, arg.DiscountRate, arg.UpdatedAt)
	return scanOrder(row)
}

const cancelOrder = `-- name: CancelOrder :one
UPDATE orders
SET status     = 'cancelled',
    notes      = $2,
    version    = version + 1,
    updated_at = $3
WHERE id = $1
  AND status = 'in_progress'
RETURNING ` + orderColumns

type CancelOrderParams struct {
	ID        string
	Notes     pgtype.Text
	UpdatedAt pgtype.Timestamptz
}

// CancelOrder only matches open orders; completed or already cancelled
// orders yield pgx.ErrNoRows.
func (q *Queries) CancelOrder(ctx context.Context, arg CancelOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, cancelOrder, arg.ID, arg.Notes, arg.UpdatedAt)
	return scanOrder(row)
}

const markOrdersHandedOver = `-- name: MarkOrdersHandedOver :many
UPDATE orders
SET handover_status  = 'handed_over',
    handover_at      = $2,
    handover_by      = $3,
    handover_by_name = $4,
    version          = version + 1,
    updated_at       = $2
WHERE id = ANY($1::text[])
RETURNING ` + orderColumns

type MarkOrdersHandedOverParams struct {
	IDs            []string
	HandoverAt     pgtype.Timestamptz
	HandoverBy     pgtype.UUID
	HandoverByName pgtype.Text
}

func (q *Queries) MarkOrdersHandedOver(ctx context.Context, arg MarkOrdersHandedOverParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, markOrdersHandedOver, arg.IDs, arg.HandoverAt, arg.HandoverBy, arg.HandoverByName)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

const deleteOrder = `-- name: DeleteOrder :execrows
DELETE FROM orders
WHERE id = $1
`

func (q *Queries) DeleteOrder(ctx context.Context, id string) (int64, error) {
	result, err := q.db.Exec(ctx, deleteOrder, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

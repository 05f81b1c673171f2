package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderItemColumns = `id, order_id, position, service_id, service_name, technician_id, technician_name,
    price, technician_commission, salesperson_id, salesperson_name, salesperson_commission,
    company_commission_rule_id, company_commission_rule_name, company_commission_type,
    company_commission_rate, company_commission_amount, status, completed_at, created_at`

func scanOrderItem(row pgx.Row) (OrderItem, error) {
	var i OrderItem
	err := row.Scan(
		&i.ID,
		&i.OrderID,
		&i.Position,
		&i.ServiceID,
		&i.ServiceName,
		&i.TechnicianID,
		&i.TechnicianName,
		&i.Price,
		&i.TechnicianCommission,
		&i.SalespersonID,
		&i.SalespersonName,
		&i.SalespersonCommission,
		&i.CompanyCommissionRuleID,
		&i.CompanyCommissionRuleName,
		&i.CompanyCommissionType,
		&i.CompanyCommissionRate,
		&i.CompanyCommissionAmount,
		&i.Status,
		&i.CompletedAt,
		&i.CreatedAt,
	)
	return i, err
}

func collectOrderItems(rows pgx.Rows) ([]OrderItem, error) {
	defer rows.Close()
	items := []OrderItem{}
	for rows.Next() {
		i, err := scanOrderItem(rows)
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

const createOrderItem = `-- name: CreateOrderItem :one
INSERT INTO order_items (
    id, order_id, position, service_id, service_name, technician_id, technician_name,
    price, technician_commission, salesperson_id, salesperson_name, salesperson_commission,
    company_commission_rule_id, company_commission_rule_name, company_commission_type,
    company_commission_rate, company_commission_amount, status, completed_at
) VALUES (
    COALESCE($1::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
    $15, $16, $17, $18, $19
)
RETURNING ` + orderItemColumns

// CreateOrderItemParams.ID may be left invalid to have the database assign one.
type CreateOrderItemParams struct {
	ID                        pgtype.UUID
	OrderID                   string
	Position                  int32
	ServiceID                 uuid.UUID
	ServiceName               string
	TechnicianID              pgtype.UUID
	TechnicianName            pgtype.Text
	Price                     pgtype.Numeric
	TechnicianCommission      pgtype.Numeric
	SalespersonID             pgtype.UUID
	SalespersonName           pgtype.Text
	SalespersonCommission     pgtype.Numeric
	CompanyCommissionRuleID   pgtype.UUID
	CompanyCommissionRuleName pgtype.Text
	CompanyCommissionType     pgtype.Text
	CompanyCommissionRate     pgtype.Numeric
	CompanyCommissionAmount   pgtype.Numeric
	Status                    string
	CompletedAt               pgtype.Timestamptz
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, createOrderItem,
		arg.ID,
		arg.OrderID,
		arg.Position,
		arg.ServiceID,
		arg.ServiceName,
		arg.TechnicianID,
		arg.TechnicianName,
		arg.Price,
		arg.TechnicianCommission,
		arg.SalespersonID,
		arg.SalespersonName,
		arg.SalespersonCommission,
		arg.CompanyCommissionRuleID,
		arg.CompanyCommissionRuleName,
		arg.CompanyCommissionType,
		arg.CompanyCommissionRate,
		arg.CompanyCommissionAmount,
		arg.Status,
		arg.CompletedAt,
	)
	return scanOrderItem(row)
}

const listOrderItemsByOrder = `-- name: ListOrderItemsByOrder :many
SELECT ` + orderItemColumns + `
FROM order_items
WHERE order_id = $1
ORDER BY position, created_at
`

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItemsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	return collectOrderItems(rows)
}

const listOrderItemsByOrders = `-- name: ListOrderItemsByOrders :many
SELECT ` + orderItemColumns + `
FROM order_items
WHERE order_id = ANY($1::text[])
ORDER BY order_id, position, created_at
`

func (q *Queries) ListOrderItemsByOrders(ctx context.Context, orderIDs []string) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItemsByOrders, orderIDs)
	if err != nil {
		return nil, err
	}
	return collectOrderItems(rows)
}

const deleteOrderItemsByOrder = `-- name: DeleteOrderItemsByOrder :exec
DELETE FROM order_items
WHERE order_id = $1
`

func (q *Queries) DeleteOrderItemsByOrder(ctx context.Context, orderID string) error {
	_, err := q.db.Exec(ctx, deleteOrderItemsByOrder, orderID)
	return err
}

const deleteOrderItem = `-- name: DeleteOrderItem :execrows
DELETE FROM order_items
WHERE id = $1 AND order_id = $2
`

type DeleteOrderItemParams struct {
	ID      uuid.UUID
	OrderID string
}

func (q *Queries) DeleteOrderItem(ctx context.Context, arg DeleteOrderItemParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteOrderItem, arg.ID, arg.OrderID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const updateOrderItemCommission = `-- name: UpdateOrderItemCommission :one
UPDATE order_items
SET salesperson_id            = $2,
    salesperson_name          = $3,
    salesperson_commission    = $4,
    company_commission_amount = $5
WHERE id = $1
RETURNING ` + orderItemColumns

type UpdateOrderItemCommissionParams struct {
	ID                      uuid.UUID
	SalespersonID           pgtype.UUID
	SalespersonName         pgtype.Text
	SalespersonCommission   pgtype.Numeric
	CompanyCommissionAmount pgtype.Numeric
}

func (q *Queries) UpdateOrderItemCommission(ctx context.Context, arg UpdateOrderItemCommissionParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, updateOrderItemCommission,
		arg.ID,
		arg.SalespersonID,
		arg.SalespersonName,
		arg.SalespersonCommission,
		arg.CompanyCommissionAmount,
	)
	return scanOrderItem(row)
}

const updateOrderItemStatus = `-- name: UpdateOrderItemStatus :one
UPDATE order_items
SET status       = $3,
    completed_at = $4
WHERE id = $1 AND order_id = $2
RETURNING ` + orderItemColumns

type UpdateOrderItemStatusParams struct {
	ID          uuid.UUID
	OrderID     string
	Status      string
	CompletedAt pgtype.Timestamptz
}

func (q *Queries) UpdateOrderItemStatus(ctx context.Context, arg UpdateOrderItemStatusParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, updateOrderItemStatus, arg.ID, arg.OrderID, arg.Status, arg.CompletedAt)
	return scanOrderItem(row)
}

package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const getRoom = `-- name: GetRoom :one
SELECT id, name, status, is_temporary, created_at
FROM rooms
WHERE id = $1
`

func (q *Queries) GetRoom(ctx context.Context, id uuid.UUID) (Room, error) {
	row := q.db.QueryRow(ctx, getRoom, id)
	var i Room
	err := row.Scan(&i.ID, &i.Name, &i.Status, &i.IsTemporary, &i.CreatedAt)
	return i, err
}

const setRoomStatus = `-- name: SetRoomStatus :exec
UPDATE rooms
SET status = $2
WHERE id = $1
`

type SetRoomStatusParams struct {
	ID     uuid.UUID
	Status string
}

// SetRoomStatus is a no-op for rooms that no longer exist.
func (q *Queries) SetRoomStatus(ctx context.Context, arg SetRoomStatusParams) error {
	_, err := q.db.Exec(ctx, setRoomStatus, arg.ID, arg.Status)
	return err
}

const deleteTemporaryRoom = `-- name: DeleteTemporaryRoom :execrows
DELETE FROM rooms
WHERE id = $1 AND is_temporary
`

func (q *Queries) DeleteTemporaryRoom(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, deleteTemporaryRoom, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const getTechnician = `-- name: GetTechnician :one
SELECT id, name, status, created_at
FROM technicians
WHERE id = $1
`

func (q *Queries) GetTechnician(ctx context.Context, id uuid.UUID) (Technician, error) {
	row := q.db.QueryRow(ctx, getTechnician, id)
	var i Technician
	err := row.Scan(&i.ID, &i.Name, &i.Status, &i.CreatedAt)
	return i, err
}

const setTechniciansStatus = `-- name: SetTechniciansStatus :exec
UPDATE technicians
SET status = $2
WHERE id = ANY($1::uuid[])
`

type SetTechniciansStatusParams struct {
	IDs    []uuid.UUID
	Status string
}

func (q *Queries) SetTechniciansStatus(ctx context.Context, arg SetTechniciansStatusParams) error {
	_, err := q.db.Exec(ctx, setTechniciansStatus, arg.IDs, arg.Status)
	return err
}

const getTechnicianService = `-- name: GetTechnicianService :one
SELECT ts.technician_id, t.name AS technician_name, ts.service_id, s.name AS service_name,
       ts.price, ts.commission, ts.company_commission_rule_id
FROM technician_services ts
JOIN technicians t ON t.id = ts.technician_id
JOIN services s ON s.id = ts.service_id
WHERE ts.technician_id = $1 AND ts.service_id = $2
`

type GetTechnicianServiceParams struct {
	TechnicianID uuid.UUID
	ServiceID    uuid.UUID
}

type GetTechnicianServiceRow struct {
	TechnicianID            uuid.UUID
	TechnicianName          string
	ServiceID               uuid.UUID
	ServiceName             string
	Price                   pgtype.Numeric
	Commission              pgtype.Numeric
	CompanyCommissionRuleID pgtype.UUID
}

func (q *Queries) GetTechnicianService(ctx context.Context, arg GetTechnicianServiceParams) (GetTechnicianServiceRow, error) {
	row := q.db.QueryRow(ctx, getTechnicianService, arg.TechnicianID, arg.ServiceID)
	var i GetTechnicianServiceRow
	err := row.Scan(
		&i.TechnicianID,
		&i.TechnicianName,
		&i.ServiceID,
		&i.ServiceName,
		&i.Price,
		&i.Commission,
		&i.CompanyCommissionRuleID,
	)
	return i, err
}

const getSalesperson = `-- name: GetSalesperson :one
SELECT id, name, commission_type, commission_rate, created_at
FROM salespersons
WHERE id = $1
`

func (q *Queries) GetSalesperson(ctx context.Context, id uuid.UUID) (Salesperson, error) {
	row := q.db.QueryRow(ctx, getSalesperson, id)
	var i Salesperson
	err := row.Scan(&i.ID, &i.Name, &i.CommissionType, &i.CommissionRate, &i.CreatedAt)
	return i, err
}

const getCommissionRule = `-- name: GetCommissionRule :one
SELECT id, name, commission_type, commission_rate, is_default, created_at
FROM company_commission_rules
WHERE id = $1
`

func (q *Queries) GetCommissionRule(ctx context.Context, id uuid.UUID) (CompanyCommissionRule, error) {
	row := q.db.QueryRow(ctx, getCommissionRule, id)
	var i CompanyCommissionRule
	err := row.Scan(&i.ID, &i.Name, &i.CommissionType, &i.CommissionRate, &i.IsDefault, &i.CreatedAt)
	return i, err
}

const getDefaultCommissionRule = `-- name: GetDefaultCommissionRule :one
SELECT id, name, commission_type, commission_rate, is_default, created_at
FROM company_commission_rules
WHERE is_default
LIMIT 1
`

func (q *Queries) GetDefaultCommissionRule(ctx context.Context) (CompanyCommissionRule, error) {
	row := q.db.QueryRow(ctx, getDefaultCommissionRule)
	var i CompanyCommissionRule
	err := row.Scan(&i.ID, &i.Name, &i.CommissionType, &i.CommissionRate, &i.IsDefault, &i.CreatedAt)
	return i, err
}

const listCommissionRules = `-- name: ListCommissionRules :many
SELECT id, name, commission_type, commission_rate, is_default, created_at
FROM company_commission_rules
ORDER BY is_default DESC, name
`

func (q *Queries) ListCommissionRules(ctx context.Context) ([]CompanyCommissionRule, error) {
	rows, err := q.db.Query(ctx, listCommissionRules)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []CompanyCommissionRule{}
	for rows.Next() {
		var i CompanyCommissionRule
		if err := rows.Scan(&i.ID, &i.Name, &i.CommissionType, &i.CommissionRate, &i.IsDefault, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Order is a row of the orders table. room_id carries no foreign key so the
// order survives deletion of its room; room_name is the snapshot shown instead.
type Order struct {
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
	Version        int32
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    pgtype.Timestamptz
	HandoverAt     pgtype.Timestamptz
	HandoverBy     pgtype.UUID
	HandoverByName pgtype.Text
}

// OrderItem is a row of the order_items table. Every *Name, price and
// commission column is a snapshot taken when the line was added or checked out.
type OrderItem struct {
	ID                        uuid.UUID
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
	CreatedAt                 time.Time
}

type Room struct {
	ID          uuid.UUID
	Name        string
	Status      string
	IsTemporary bool
	CreatedAt   time.Time
}

type Technician struct {
	ID        uuid.UUID
	Name      string
	Status    string
	CreatedAt time.Time
}

type Salesperson struct {
	ID             uuid.UUID
	Name           string
	CommissionType string
	CommissionRate pgtype.Numeric
	CreatedAt      time.Time
}

type CompanyCommissionRule struct {
	ID             uuid.UUID
	Name           string
	CommissionType string
	CommissionRate pgtype.Numeric
	IsDefault      bool
	CreatedAt      time.Time
}

package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/roomdesk/api/internal/database"
	"github.com/shopspring/decimal"
)

// Order is the state of an order returned to callers and carried by change
// events.
type Order struct {
	ID             string           `json:"id"`
	RoomID         *uuid.UUID       `json:"room_id"`
	RoomName       string           `json:"room_name"`
	CustomerName   *string          `json:"customer_name"`
	CustomerPhone  *string          `json:"customer_phone"`
	Status         string           `json:"status"`
	HandoverStatus string           `json:"handover_status"`
	Items          []OrderItem      `json:"items"`
	TotalAmount    decimal.Decimal  `json:"total_amount"`
	ReceivedAmount *decimal.Decimal `json:"received_amount"`
	DiscountRate   decimal.Decimal  `json:"discount_rate"`
	Notes          *string          `json:"notes"`
	Version        int32            `json:"version"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	CompletedAt    *time.Time       `json:"completed_at"`
	HandoverAt     *time.Time       `json:"handover_at"`
	HandoverBy     *uuid.UUID       `json:"handover_by"`
	HandoverByName *string          `json:"handover_by_name"`
}

// OrderItem is one service line of an Order.
type OrderItem struct {
	ID                        uuid.UUID        `json:"id"`
	Position                  int32            `json:"position"`
	ServiceID                 uuid.UUID        `json:"service_id"`
	ServiceName               string           `json:"service_name"`
	TechnicianID              *uuid.UUID       `json:"technician_id"`
	TechnicianName            *string          `json:"technician_name"`
	Price                     decimal.Decimal  `json:"price"`
	TechnicianCommission      decimal.Decimal  `json:"technician_commission"`
	SalespersonID             *uuid.UUID       `json:"salesperson_id"`
	SalespersonName           *string          `json:"salesperson_name"`
	SalespersonCommission     decimal.Decimal  `json:"salesperson_commission"`
	CompanyCommissionRuleID   *uuid.UUID       `json:"company_commission_rule_id"`
	CompanyCommissionRuleName *string          `json:"company_commission_rule_name"`
	CompanyCommissionType     *string          `json:"company_commission_type"`
	CompanyCommissionRate     *decimal.Decimal `json:"company_commission_rate"`
	CompanyCommissionAmount   decimal.Decimal  `json:"company_commission_amount"`
	Status                    string           `json:"status"`
	CompletedAt               *time.Time       `json:"completed_at"`
}

// ProfitReport breaks down where the money collected for an order went.
type ProfitReport struct {
	OrderID               string          `json:"order_id"`
	ReceivedAmount        decimal.Decimal `json:"received_amount"`
	DiscountRate          decimal.Decimal `json:"discount_rate"`
	TechnicianCommission  decimal.Decimal `json:"technician_commission"`
	SalespersonCommission decimal.Decimal `json:"salesperson_commission"`
	CompanyCommission     decimal.Decimal `json:"company_commission"`
	Profit                decimal.Decimal `json:"profit"`
}

func toOrder(o database.Order, items []database.OrderItem) *Order {
	out := &Order{
		ID:             o.ID,
		RoomID:         uuidPtr(o.RoomID),
		RoomName:       o.RoomName,
		CustomerName:   textPtr(o.CustomerName),
		CustomerPhone:  textPtr(o.CustomerPhone),
		Status:         o.Status,
		HandoverStatus: o.HandoverStatus,
		Items:          make([]OrderItem, 0, len(items)),
		TotalAmount:    numericToDecimal(o.TotalAmount),
		ReceivedAmount: numericPtr(o.ReceivedAmount),
		DiscountRate:   numericToDecimal(o.DiscountRate),
		Notes:          textPtr(o.Notes),
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		CompletedAt:    timePtr(o.CompletedAt),
		HandoverAt:     timePtr(o.HandoverAt),
		HandoverBy:     uuidPtr(o.HandoverBy),
		HandoverByName: textPtr(o.HandoverByName),
	}
	for _, it := range items {
		out.Items = append(out.Items, toOrderItem(it))
	}
	return out
}

func toOrderItem(it database.OrderItem) OrderItem {
	return OrderItem{
		ID:                        it.ID,
		Position:                  it.Position,
		ServiceID:                 it.ServiceID,
		ServiceName:               it.ServiceName,
		TechnicianID:              uuidPtr(it.TechnicianID),
		TechnicianName:            textPtr(it.TechnicianName),
		Price:                     numericToDecimal(it.Price),
		TechnicianCommission:      numericToDecimal(it.TechnicianCommission),
		SalespersonID:             uuidPtr(it.SalespersonID),
		SalespersonName:           textPtr(it.SalespersonName),
		SalespersonCommission:     numericToDecimal(it.SalespersonCommission),
		CompanyCommissionRuleID:   uuidPtr(it.CompanyCommissionRuleID),
		CompanyCommissionRuleName: textPtr(it.CompanyCommissionRuleName),
		CompanyCommissionType:     textPtr(it.CompanyCommissionType),
		CompanyCommissionRate:     numericPtr(it.CompanyCommissionRate),
		CompanyCommissionAmount:   numericToDecimal(it.CompanyCommissionAmount),
		Status:                    it.Status,
		CompletedAt:               timePtr(it.CompletedAt),
	}
}

// --- pgtype helpers ---

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func numericPtr(n pgtype.Numeric) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := numericToDecimal(n)
	return &d
}

// decimalToNumeric rounds money to cents.
func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}

// rateToNumeric keeps six decimal places, enough for a discount ratio.
func rateToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(6))
	return n
}

func uuidPtr(u pgtype.UUID) *uuid.UUID {
	if !u.Valid {
		return nil
	}
	id := uuid.UUID(u.Bytes)
	return &id
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

func pgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func pgTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

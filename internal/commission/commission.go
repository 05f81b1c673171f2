// Package commission computes how the money collected for an order is split
// between technician, salesperson and company. Every function is pure: the
// same inputs always produce the same amounts and nothing is read or written
// outside the arguments.
//
// Amounts are never rounded here; callers round when persisting.
package commission

import (
	"github.com/google/uuid"
	"github.com/roomdesk/api/internal/enum"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Item is the part of an order line the calculator needs.
type Item struct {
	Price                 decimal.Decimal
	TechnicianCommission  decimal.Decimal
	SalespersonCommission decimal.Decimal
	// RuleID is uuid.Nil when the line carries no company commission rule.
	RuleID uuid.UUID
}

// Salesperson is the payout policy of the salesperson credited at checkout.
type Salesperson struct {
	CommissionType string
	CommissionRate decimal.Decimal
}

// Rule is a company commission rule.
type Rule struct {
	ID             uuid.UUID
	CommissionType string
	CommissionRate decimal.Decimal
}

// DiscountRate returns received/total, or 1 when total is zero.
func DiscountRate(received, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.NewFromInt(1)
	}
	return received.Div(total)
}

// SalespersonCommission returns the salesperson's cut of one line.
// A fixed commission is paid per line and ignores the discount; a percentage
// commission scales with what was actually collected.
func SalespersonCommission(item Item, sp *Salesperson, discountRate decimal.Decimal) decimal.Decimal {
	if sp == nil {
		return decimal.Zero
	}
	switch sp.CommissionType {
	case enum.SalespersonCommissionFixed:
		return sp.CommissionRate
	case enum.SalespersonCommissionPercentage:
		return item.Price.Mul(sp.CommissionRate).Div(hundred).Mul(discountRate)
	}
	return decimal.Zero
}

// ItemCompanyCommission returns the company's cut of one line under rule.
// In profit mode the line's SalespersonCommission must already be set.
func ItemCompanyCommission(item Item, discountRate decimal.Decimal, rule *Rule) decimal.Decimal {
	if rule == nil {
		return decimal.Zero
	}
	received := item.Price.Mul(discountRate)
	switch rule.CommissionType {
	case enum.CommissionTypeRevenue:
		return received.Mul(rule.CommissionRate).Div(hundred)
	case enum.CommissionTypeProfit:
		profit := received.Sub(item.TechnicianCommission).Sub(item.SalespersonCommission)
		return profit.Mul(rule.CommissionRate).Div(hundred)
	}
	return decimal.Zero
}

// OrderProfit returns what the business keeps of received after paying every
// party. Company commission is recomputed per line from rules; a line whose
// rule is absent from rules contributes zero.
func OrderProfit(items []Item, received, discountRate decimal.Decimal, rules []Rule) decimal.Decimal {
	byID := make(map[uuid.UUID]*Rule, len(rules))
	for i := range rules {
		byID[rules[i].ID] = &rules[i]
	}

	profit := received
	for _, item := range items {
		profit = profit.Sub(item.TechnicianCommission).Sub(item.SalespersonCommission)
		if rule, ok := byID[item.RuleID]; ok && item.RuleID != uuid.Nil {
			profit = profit.Sub(ItemCompanyCommission(item, discountRate, rule))
		}
	}
	return profit
}

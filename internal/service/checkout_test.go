package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/roomdesk/api/internal/enum"
	"github.com/roomdesk/api/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckout_Commissions(t *testing.T) {
	tests := []struct {
		name           string
		spType         string
		spRate         string
		received       string
		wantDiscount   string
		wantSales      string
		wantCompany    string
		wantTotalAfter string
	}{
		{"full payment percentage salesperson", enum.SalespersonCommissionPercentage, "10", "100", "1", "10", "35", "100"},
		{"half payment percentage salesperson", enum.SalespersonCommissionPercentage, "10", "50", "0.5", "5", "12.5", "100"},
		{"fixed salesperson ignores discount", enum.SalespersonCommissionFixed, "15", "100", "1", "15", "32.5", "100"},
		{"overpayment", enum.SalespersonCommissionPercentage, "10", "120", "1.2", "12", "44", "100"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			sp := f.store.addSalesperson("Rina", tc.spType, tc.spRate)
			order := f.createMassageOrder(t)

			out, err := f.svc.Checkout(context.Background(), order.ID, CheckoutRequest{
				ReceivedAmount: dec(tc.received),
				SalespersonID:  &sp,
			})
			require.NoError(t, err)

			assert.Equal(t, enum.OrderStatusInProgress, out.Status)
			assertDecimal(t, tc.wantDiscount, out.DiscountRate)
			require.NotNil(t, out.ReceivedAmount)
			assertDecimal(t, tc.received, *out.ReceivedAmount)
			assertDecimal(t, tc.wantTotalAfter, out.TotalAmount)

			require.Len(t, out.Items, 1)
			item := out.Items[0]
			assertDecimal(t, tc.wantSales, item.SalespersonCommission)
			assertDecimal(t, tc.wantCompany, item.CompanyCommissionAmount)
			require.NotNil(t, item.SalespersonID)
			assert.Equal(t, sp, *item.SalespersonID)
			assert.Equal(t, "Rina", *item.SalespersonName)

			assert.Equal(t, notify.KindOrderCheckout, f.events.last(t).Kind)
		})
	}
}

func TestCheckout_WithoutSalesperson(t *testing.T) {
	f := newFixture(t)
	order := f.createMassageOrder(t)

	out, err := f.svc.Checkout(context.Background(), order.ID, CheckoutRequest{ReceivedAmount: dec("100")})
	require.NoError(t, err)

	assertDecimal(t, "0", out.Items[0].SalespersonCommission)
	assert.Nil(t, out.Items[0].SalespersonID)
	assertDecimal(t, "40", out.Items[0].CompanyCommissionAmount)
}

func TestCheckout_RevenueRule(t *testing.T) {
	f := newFixture(t)
	revenue := f.store.addRule("Revenue", enum.CommissionTypeRevenue, "30", false)
	order, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		RoomID: f.room,
		Items: []ItemInput{{
			ServiceID:               f.massage,
			TechnicianID:            &f.tech,
			CompanyCommissionRuleID: &revenue,
		}},
	})
	require.NoError(t, err)

	out, err := f.svc.Checkout(context.Background(), order.ID, CheckoutRequest{ReceivedAmount: dec("80")})
	require.NoError(t, err)
	assertDecimal(t, "24", out.Items[0].CompanyCommissionAmount)
}

func TestCheckout_ZeroTotalUsesFullRate(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{RoomID: f.room})
	require.NoError(t, err)

	out, err := f.svc.Checkout(context.Background(), order.ID, CheckoutRequest{ReceivedAmount: dec("10")})
	require.NoError(t, err)
	assertDecimal(t, "1", out.DiscountRate)
	assert.Empty(t, out.Items)
}

func TestCheckout_ReadsRuleLive(t *testing.T) {
	f := newFixture(t)
	order := f.createMassageOrder(t)

	rule := f.store.rules[f.rule]
	rule.CommissionRate = makeNumeric("20")
	f.store.rules[f.rule] = rule

	out, err := f.svc.Checkout(context.Background(), order.ID, CheckoutRequest{ReceivedAmount: dec("100")})
	require.NoError(t, err)
	assertDecimal(t, "16", out.Items[0].CompanyCommissionAmount)
	// the snapshot on the line is not rewritten
	assertDecimal(t, "50", *out.Items[0].CompanyCommissionRate)
}

func TestCheckout_DeletedRuleCountsAsZero(t *testing.T) {
	f := newFixture(t)
	order := f.createMassageOrder(t)
	delete(f.store.rules, f.rule)

	out, err := f.svc.Checkout(context.Background(), order.ID, CheckoutRequest{ReceivedAmount: dec("100")})
	require.NoError(t, err)
	assertDecimal(t, "0", out.Items[0].CompanyCommissionAmount)
}

func TestCheckout_Rejections(t *testing.T) {
	f := newFixture(t)
	order := f.createMassageOrder(t)

	_, err := f.svc.Checkout(context.Background(), order.ID, CheckoutRequest{ReceivedAmount: dec("0")})
	assert.ErrorIs(t, err, ErrInvalidReceivedAmount)

	_, err = f.svc.Checkout(context.Background(), order.ID, CheckoutRequest{ReceivedAmount: dec("-5")})
	assert.ErrorIs(t, err, ErrInvalidReceivedAmount)

	ghost := uuid.New()
	_, err = f.svc.Checkout(context.Background(), order.ID, CheckoutRequest{ReceivedAmount: dec("100"), SalespersonID: &ghost})
	assert.ErrorIs(t, err, ErrSalespersonNotFound)

	_, err = f.svc.Checkout(context.Background(), "missing", CheckoutRequest{ReceivedAmount: dec("100")})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = f.svc.CancelOrder(context.Background(), order.ID, "no show")
	require.NoError(t, err)
	_, err = f.svc.Checkout(context.Background(), order.ID, CheckoutRequest{ReceivedAmount: dec("100")})
	assert.ErrorIs(t, err, ErrOrderClosed)
}

func TestCheckout_RepeatRestamps(t *testing.T) {
	f := newFixture(t)
	sp := f.store.addSalesperson("Rina", enum.SalespersonCommissionPercentage, "10")
	order := f.createMassageOrder(t)

	_, err := f.svc.Checkout(context.Background(), order.ID, CheckoutRequest{ReceivedAmount: dec("100"), SalespersonID: &sp})
	require.NoError(t, err)
	out, err := f.svc.Checkout(context.Background(), order.ID, CheckoutRequest{ReceivedAmount: dec("50")})
	require.NoError(t, err)

	assertDecimal(t, "0.5", out.DiscountRate)
	assertDecimal(t, "0", out.Items[0].SalespersonCommission)
	assertDecimal(t, "15", out.Items[0].CompanyCommissionAmount)
}

func TestCompleteOrder(t *testing.T) {
	f := newFixture(t)
	temp := f.store.addRoom("Extra bed", true)
	sp := f.store.addSalesperson("Rina", enum.SalespersonCommissionPercentage, "10")
	order, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		RoomID: temp,
		Items:  []ItemInput{{ServiceID: f.massage, TechnicianID: &f.tech}},
		Occupy: true,
	})
	require.NoError(t, err)

	out, err := f.svc.CompleteOrder(context.Background(), order.ID, CompleteRequest{
		ReceivedAmount: decPtr("100"),
		SalespersonID:  &sp,
	})
	require.NoError(t, err)

	assert.Equal(t, enum.OrderStatusCompleted, out.Status)
	assert.NotNil(t, out.CompletedAt)
	assertDecimal(t, "10", out.Items[0].SalespersonCommission)
	assertDecimal(t, "35", out.Items[0].CompanyCommissionAmount)
	assert.NotContains(t, f.store.rooms, temp)
	assert.Equal(t, enum.TechnicianStatusAvailable, f.store.technicians[f.tech].Status)
	assert.Equal(t, notify.KindOrderCompleted, f.events.last(t).Kind)

	_, err = f.svc.CompleteOrder(context.Background(), order.ID, CompleteRequest{})
	assert.ErrorIs(t, err, ErrOrderClosed)
}

func TestCompleteOrder_WithoutCheckoutKeepsRoom(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{
		RoomID: f.room,
		Items:  []ItemInput{{ServiceID: f.massage, TechnicianID: &f.tech}},
		Occupy: true,
	})
	require.NoError(t, err)

	out, err := f.svc.CompleteOrder(context.Background(), order.ID, CompleteRequest{})
	require.NoError(t, err)

	assert.Nil(t, out.ReceivedAmount)
	assert.Len(t, out.Items, 1)
	require.Contains(t, f.store.rooms, f.room)
	assert.Equal(t, enum.RoomStatusAvailable, f.store.rooms[f.room].Status)
}

func TestCompleteOrder_InvalidReceivedAmount(t *testing.T) {
	f := newFixture(t)
	order := f.createMassageOrder(t)

	_, err := f.svc.CompleteOrder(context.Background(), order.ID, CompleteRequest{ReceivedAmount: decPtr("0")})
	assert.ErrorIs(t, err, ErrInvalidReceivedAmount)
}

func TestOrderProfit(t *testing.T) {
	f := newFixture(t)
	sp := f.store.addSalesperson("Rina", enum.SalespersonCommissionPercentage, "10")
	order := f.createMassageOrder(t)

	before, err := f.svc.OrderProfit(context.Background(), order.ID)
	require.NoError(t, err)
	assertDecimal(t, "100", before.ReceivedAmount, "unpaid order is valued at its total")
	assertDecimal(t, "40", before.CompanyCommission)
	assertDecimal(t, "40", before.Profit)

	_, err = f.svc.Checkout(context.Background(), order.ID, CheckoutRequest{ReceivedAmount: dec("100"), SalespersonID: &sp})
	require.NoError(t, err)

	after, err := f.svc.OrderProfit(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, after.OrderID)
	assertDecimal(t, "100", after.ReceivedAmount)
	assertDecimal(t, "20", after.TechnicianCommission)
	assertDecimal(t, "10", after.SalespersonCommission)
	assertDecimal(t, "35", after.CompanyCommission)
	assertDecimal(t, "35", after.Profit)

	// profit follows the current rule table
	delete(f.store.rules, f.rule)
	noRule, err := f.svc.OrderProfit(context.Background(), order.ID)
	require.NoError(t, err)
	assertDecimal(t, "0", noRule.CompanyCommission)
	assertDecimal(t, "70", noRule.Profit)

	_, err = f.svc.OrderProfit(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderTotalMatchesItems(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.CreateOrder(context.Background(), CreateOrderRequest{RoomID: f.room})
	require.NoError(t, err)

	check := func(o *Order) {
		t.Helper()
		sum := dec("0")
		for _, it := range o.Items {
			sum = sum.Add(it.Price)
		}
		assert.True(t, sum.Equal(o.TotalAmount), "total %s, items %s", o.TotalAmount, sum)
	}

	o, err := f.svc.AddItem(context.Background(), order.ID, ItemInput{ServiceID: f.massage, TechnicianID: &f.tech})
	require.NoError(t, err)
	check(o)
	o, err = f.svc.AddItem(context.Background(), order.ID, ItemInput{ServiceID: f.massage, ServiceName: "Hot stone", Price: decPtr("35.50")})
	require.NoError(t, err)
	check(o)
	o, err = f.svc.RemoveItem(context.Background(), order.ID, o.Items[0].ID)
	require.NoError(t, err)
	check(o)
	o, err = f.svc.UpdateOrder(context.Background(), order.ID, UpdateOrderRequest{
		Items: []ItemInput{{ID: &o.Items[0].ID}, {ServiceID: f.massage, TechnicianID: &f.tech}},
	})
	require.NoError(t, err)
	check(o)
	assertDecimal(t, "135.5", o.TotalAmount)
}

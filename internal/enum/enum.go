package enum

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	OrderStatusInProgress = "in_progress"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

const (
	HandoverStatusPending    = "pending"
	HandoverStatusHandedOver = "handed_over"
)

const (
	OrderItemStatusPending    = "pending"
	OrderItemStatusInProgress = "in_progress"
	OrderItemStatusCompleted  = "completed"
)

const (
	RoomStatusAvailable = "available"
	RoomStatusOccupied  = "occupied"
)

const (
	TechnicianStatusAvailable = "available"
	TechnicianStatusBusy      = "busy"
)

// ── Group B: Commission policies (CHECK constrained in DB) ──

const (
	CommissionTypeNone    = "none"
	CommissionTypeRevenue = "revenue"
	CommissionTypeProfit  = "profit"
)

const (
	SalespersonCommissionFixed      = "fixed"
	SalespersonCommissionPercentage = "percentage"
)

// ── Group C: Staff roles carried in access tokens (no DB constraint) ──

const (
	RoleOwner     = "OWNER"
	RoleManager   = "MANAGER"
	RoleReception = "RECEPTION"
)

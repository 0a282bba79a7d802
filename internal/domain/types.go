package domain

import "time"

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits payment confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates payment succeeded and fulfilment has started.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the order reached the customer. Terminal.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// KnownOrderStatuses lists every status the service accepts on input.
func KnownOrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
	}
}

// IsKnownOrderStatus reports whether the value is one of the lifecycle states.
func IsKnownOrderStatus(status OrderStatus) bool {
	switch status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminalOrderStatus reports whether no further transitions leave the state.
func IsTerminalOrderStatus(status OrderStatus) bool {
	return status == OrderStatusDelivered || status == OrderStatusCancelled
}

// Order is the aggregate root for a customer order. Items carry the product
// name and unit price as they were at creation time; later catalog edits do
// not rewrite history.
type Order struct {
	ID        string
	UserID    string
	Status    OrderStatus
	Items     []OrderItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem is a single line of an order. UnitPrice is in minor currency units.
type OrderItem struct {
	ProductID   string
	ProductName string
	UnitPrice   int64
	Quantity    int64
}

// EnrichedOrder is an order view joined with the owning user's profile.
// User is nil whenever the profile could not be fetched; callers treat the
// absence as benign.
type EnrichedOrder struct {
	Order
	User *UserProfile
}

// UserProfile is the slice of the users service payload this service cares about.
type UserProfile struct {
	ID          string
	Email       string
	DisplayName string
}

// Product is a catalog entry. Price is in minor currency units.
type Product struct {
	ID        string
	Name      string
	Price     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentStatus enumerates the payment outcomes carried on the event stream.
type PaymentStatus string

const (
	// PaymentStatusSucceeded indicates the charge completed.
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	// PaymentStatusDeclined indicates the charge was rejected.
	PaymentStatusDeclined PaymentStatus = "declined"
)

// PaymentEvent is the payload consumed from the payment events subscription.
type PaymentEvent struct {
	PaymentID  string        `json:"paymentId"`
	OrderID    string        `json:"orderId"`
	UserID     string        `json:"userId"`
	Status     PaymentStatus `json:"status"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// OrderCreatedEvent is published after an order commits.
type OrderCreatedEvent struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
	Amount  int64  `json:"amount"`
}

// Pagination carries cursor paging inputs for list queries.
type Pagination struct {
	Limit  int
	Cursor string
}

// CursorPage wraps a page of results together with the continuation cursor.
// NextCursor is empty when no further pages exist.
type CursorPage[T any] struct {
	Items      []T
	NextCursor string
}

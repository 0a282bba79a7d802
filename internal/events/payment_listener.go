package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	domain "github.com/hohichh/marketplace-orders/internal/domain"
)

// PaymentOutcomeApplier applies a reconciled payment outcome to an order.
// Satisfied by the order service's system path.
type PaymentOutcomeApplier interface {
	ApplyPaymentOutcome(ctx context.Context, orderID string, status domain.OrderStatus) error
}

// Subscription is the part of the Pub/Sub subscription API the listener uses.
type Subscription interface {
	Receive(ctx context.Context, f func(ctx context.Context, msg *pubsub.Message)) error
}

// PaymentListenerDeps bundles collaborators required to construct the listener.
type PaymentListenerDeps struct {
	Subscription Subscription
	Orders       PaymentOutcomeApplier
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// PaymentListener consumes payment events and reconciles order statuses.
// Every message is acknowledged: decoding failures and downstream errors are
// logged and swallowed so the stream keeps draining, and replays of applied
// outcomes are no-ops in the order service.
type PaymentListener struct {
	sub    Subscription
	orders PaymentOutcomeApplier
	logger func(context.Context, string, map[string]any)
}

// NewPaymentListener validates dependencies and constructs a PaymentListener.
func NewPaymentListener(deps PaymentListenerDeps) (*PaymentListener, error) {
	if deps.Subscription == nil {
		return nil, errors.New("payment listener: subscription is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment listener: order service is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &PaymentListener{
		sub:    deps.Subscription,
		orders: deps.Orders,
		logger: logger,
	}, nil
}

// Run blocks receiving messages until the context is cancelled.
func (l *PaymentListener) Run(ctx context.Context) error {
	if l == nil || l.sub == nil {
		return errors.New("payment listener: not initialised")
	}
	return l.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		l.Process(ctx, msg.Data)
		msg.Ack()
	})
}

// Process handles a single payment event payload. It never returns an error
// and never panics: a panic while applying an outcome is logged and absorbed
// so the receive loop keeps draining.
func (l *PaymentListener) Process(ctx context.Context, payload []byte) {
	var event domain.PaymentEvent
	defer func() {
		if r := recover(); r != nil {
			l.logger(ctx, "payment.event.panic", map[string]any{
				"order_id": event.OrderID,
				"panic":    fmt.Sprintf("%v", r),
			})
		}
	}()
	if err := json.Unmarshal(payload, &event); err != nil {
		l.logger(ctx, "payment.event.malformed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	switch event.Status {
	case domain.PaymentStatusSucceeded:
		l.apply(ctx, event, domain.OrderStatusProcessing)
	case domain.PaymentStatusDeclined:
		l.logger(ctx, "payment.event.declined", map[string]any{
			"order_id":   event.OrderID,
			"payment_id": event.PaymentID,
		})
		l.apply(ctx, event, domain.OrderStatusCancelled)
	default:
		l.logger(ctx, "payment.event.ignored", map[string]any{
			"order_id": event.OrderID,
			"status":   string(event.Status),
		})
	}
}

func (l *PaymentListener) apply(ctx context.Context, event domain.PaymentEvent, status domain.OrderStatus) {
	if err := l.orders.ApplyPaymentOutcome(ctx, event.OrderID, status); err != nil {
		l.logger(ctx, "payment.event.apply.failed", map[string]any{
			"order_id":   event.OrderID,
			"payment_id": event.PaymentID,
			"to":         string(status),
			"error":      err.Error(),
		})
		return
	}
	l.logger(ctx, "payment.event.applied", map[string]any{
		"order_id": event.OrderID,
		"to":       string(status),
	})
}

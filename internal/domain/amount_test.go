package domain

import "testing"

func TestOrderAmountSumsLines(t *testing.T) {
	items := []OrderItem{
		{ProductID: "p1", UnitPrice: 1250, Quantity: 2},
		{ProductID: "p2", UnitPrice: 499, Quantity: 3},
	}

	if got := OrderAmount(items); got != 3997 {
		t.Fatalf("expected amount 3997, got %d", got)
	}
}

func TestOrderAmountEmpty(t *testing.T) {
	if got := OrderAmount(nil); got != 0 {
		t.Fatalf("expected zero amount for empty items, got %d", got)
	}
}

func TestIsTerminalOrderStatus(t *testing.T) {
	cases := map[OrderStatus]bool{
		OrderStatusPending:    false,
		OrderStatusProcessing: false,
		OrderStatusShipped:    false,
		OrderStatusDelivered:  true,
		OrderStatusCancelled:  true,
	}
	for status, want := range cases {
		if got := IsTerminalOrderStatus(status); got != want {
			t.Fatalf("status %s: expected terminal=%v, got %v", status, want, got)
		}
	}
}

package domain

// OrderAmount sums unit price times quantity across every item. Amounts are
// minor currency units, so the sum stays exact.
func OrderAmount(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.UnitPrice * item.Quantity
	}
	return total
}

// CloneItems returns a defensive copy of the item slice.
func CloneItems(items []OrderItem) []OrderItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]OrderItem, len(items))
	copy(out, items)
	return out
}

package tracker

import "github.com/shopspring/decimal"

// Decision is the outcome of evaluating one observed price against an item.
type Decision struct {
	// Notify is true when a price-drop message should be sent.
	Notify bool
	// Price is the observed price the decision was made on.
	Price decimal.Decimal
}

// Evaluate applies the notification policy to one observation.
//
//   - no target set: never notify
//   - no observation (extraction failed): never notify
//   - observed > target: no notification
//   - observed <= target and equal to the last notified price: suppressed
//   - observed <= target otherwise: notify
//
// Because notification memory holds only the last notified price, a price
// that rises above target and later drops back to the same value notifies
// again only if a different price was notified in between. A repeat of the
// exact last-notified price stays suppressed.
func Evaluate(observed *decimal.Decimal, it Item) Decision {
	if observed == nil || it.Target == nil {
		return Decision{}
	}
	price := *observed
	if price.GreaterThan(*it.Target) {
		return Decision{Price: price}
	}
	if it.LastNotified != nil && price.Equal(*it.LastNotified) {
		return Decision{Price: price}
	}
	return Decision{Notify: true, Price: price}
}

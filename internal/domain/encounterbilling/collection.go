package encounterbilling

import (
	"sort"

	"github.com/shopspring/decimal"
)

// This file holds the collection algorithms shared by both buckets. The
// functions are pure over an ordered slice of items; the bucket isolation is
// enforced by the repository queries that produce the slice.

// RefundOrderLess is the waterfall order for refunds: cancelled items first,
// then higher paid amounts first. It is a first-class comparator rather than
// an implicit array order so the ordering is testable on its own.
func RefundOrderLess(a, b *LineItem) bool {
	ac := a.Status == ItemCancelled
	bc := b.Status == ItemCancelled
	if ac != bc {
		return ac
	}
	return a.PaidAmount.GreaterThan(b.PaidAmount)
}

// ApplyPaymentWaterfall distributes total across items in collection order,
// paying each item up to its remaining balance before moving to the next.
// Leftover beyond the collection's outstanding balance is dropped silently.
// Returns the amount actually applied and the items touched.
func ApplyPaymentWaterfall(items []*LineItem, total decimal.Decimal) (decimal.Decimal, []*LineItem) {
	leftover := total
	var touched []*LineItem

	for _, it := range items {
		if !leftover.IsPositive() {
			break
		}
		if it.Terminal() {
			continue
		}
		remaining := it.Remaining()
		if !remaining.IsPositive() {
			continue
		}

		pay := decimal.Min(remaining, leftover)
		it.PaidAmount = it.PaidAmount.Add(pay)
		if it.PaidAmount.GreaterThanOrEqual(it.Amount) {
			it.Status = ItemPaid
		} else {
			it.Status = ItemPartiallyPaid
		}
		leftover = leftover.Sub(pay)
		touched = append(touched, it)
	}

	return total.Sub(leftover), touched
}

// RefundApplication is one item's share of a waterfall refund.
type RefundApplication struct {
	Item   *LineItem
	Amount decimal.Decimal
}

// ApplyRefundWaterfall distributes a refund of total across items ordered by
// RefundOrderLess. The registration penalty policy is evaluated per item via
// RefundableAmount. Rejects the whole request when total exceeds the
// refundable sum, reporting requested vs available.
func ApplyRefundWaterfall(items []*LineItem, total decimal.Decimal, behavior PatientBehavior, refundType RefundType) ([]RefundApplication, error) {
	if !total.IsPositive() {
		return nil, validationErrorf("refund amount must be positive")
	}

	available := decimal.Zero
	for _, it := range items {
		available = available.Add(RefundableAmount(it, behavior, refundType))
	}
	if total.GreaterThan(available) {
		return nil, &AmountError{Requested: total, Available: available}
	}

	ordered := make([]*LineItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		return RefundOrderLess(ordered[i], ordered[j])
	})

	leftover := total
	var applied []RefundApplication
	for _, it := range ordered {
		if !leftover.IsPositive() {
			break
		}
		refundable := RefundableAmount(it, behavior, refundType)
		if !refundable.IsPositive() {
			continue
		}

		amount := decimal.Min(refundable, leftover)
		it.RefundAmount = it.RefundAmount.Add(amount)
		if it.RefundAmount.GreaterThanOrEqual(it.PaidAmount) {
			it.Status = ItemRefunded
		} else {
			it.Status = ItemPartiallyRefunded
		}
		leftover = leftover.Sub(amount)
		applied = append(applied, RefundApplication{Item: it, Amount: amount})
	}

	return applied, nil
}

// CancelAll cancels every non-terminal item and stamps the penalty metadata
// on the most recently created item only. Returns the items changed.
func CancelAll(items []*LineItem, reason string, penalty decimal.Decimal, refundType RefundType, behavior PatientBehavior) []*LineItem {
	var touched []*LineItem
	var latest *LineItem

	for _, it := range items {
		if it.Terminal() {
			continue
		}
		it.Status = ItemCancelled
		it.CancelledReason = &reason
		touched = append(touched, it)
		if latest == nil || it.CreatedAt.After(latest.CreatedAt) {
			latest = it
		}
	}

	if latest != nil {
		p := penalty
		rt := refundType
		b := behavior
		latest.PenaltyAmount = &p
		latest.PenaltyType = &rt
		latest.PenaltyBehavior = &b
	}

	return touched
}

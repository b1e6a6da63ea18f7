package encounterbilling

import "github.com/shopspring/decimal"

// RefundableAmount is the single refund policy rule, evaluated per item at
// refund time: a registration fee is refundable only when the patient was
// recorded rude AND a full refund was requested; every other item type is
// refundable up to paid minus already refunded regardless of behavior.
func RefundableAmount(item *LineItem, behavior PatientBehavior, refundType RefundType) decimal.Decimal {
	if item.Type == TypeRegistration {
		if behavior != BehaviorRude || refundType != RefundFull {
			return decimal.Zero
		}
	}
	return item.Available()
}

// Package credit holds the daily credit deduction engine: the billing
// calendar, the pure deduction arithmetic, and the contracts its drivers
// (scheduler, request middleware) depend on.
package credit

import "time"

// DeductionPlan is the outcome of the pure deduction computation for a single
// tenant ledger snapshot. It carries no side effects; callers apply it to the
// ledger under a per-tenant lock.
type DeductionPlan struct {
	// Due is false when the ledger is already settled for today (or a future
	// date left behind by clock skew), or when there is nothing to deduct.
	Due bool
	// Days is the number of calendar days being charged, including days
	// missed while the process was down.
	Days int
	// Remove is the number of credits to remove: min(Days, available).
	Remove int
	// Deactivate is true when applying the plan empties the ledger.
	Deactivate bool
}

// PlanDeduction computes whether and how much to deduct for a ledger with the
// given balance and last-deduction date on the given IST calendar date.
//
// A nil lastDeducted means the tenant has never been charged; only the
// current day is billed, not the tenant's age. Otherwise every elapsed day
// since the last deduction is billed, clamped to the available balance so the
// ledger never goes negative. Re-planning on a date that is already settled
// yields a not-due plan, which is what makes deduction idempotent per day.
func PlanDeduction(credits int, lastDeducted *time.Time, today time.Time) DeductionPlan {
	today = DateOf(today)

	if lastDeducted != nil && !DateOf(*lastDeducted).Before(today) {
		return DeductionPlan{}
	}

	if credits <= 0 {
		return DeductionPlan{}
	}

	days := 1
	if lastDeducted != nil {
		days = DaysBetween(*lastDeducted, today)
	}

	remove := days
	if remove > credits {
		remove = credits
	}

	return DeductionPlan{
		Due:        true,
		Days:       days,
		Remove:     remove,
		Deactivate: credits-remove == 0,
	}
}

// DeductionDue reports whether a ledger with the given state would be charged
// on the given date. Used by diagnostics; the authoritative decision is made
// by re-planning under the lock.
func DeductionDue(credits int, lastDeducted *time.Time, today time.Time) bool {
	return PlanDeduction(credits, lastDeducted, today).Due
}

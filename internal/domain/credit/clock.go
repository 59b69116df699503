package credit

import "time"

// Clock supplies the current instant. It exists so the deduction engine and
// the scheduler can be driven by a deterministic time source in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// FixedClock is a Clock that always returns the same instant.
type FixedClock struct {
	Instant time.Time
}

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time {
	return c.Instant
}

var istLocation = loadIST()

// loadIST resolves the IST location from the zone database, falling back to a
// fixed UTC+05:30 zone when the database is unavailable (e.g. scratch images).
// IST has no DST, so the fallback is exact.
func loadIST() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*3600+30*60)
	}
	return loc
}

// IST returns the Indian Standard Time location used as the billing calendar.
func IST() *time.Location {
	return istLocation
}

// DateOf normalizes an instant to midnight of its IST calendar date.
func DateOf(t time.Time) time.Time {
	ist := t.In(istLocation)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), 0, 0, 0, 0, istLocation)
}

// Today returns the current IST calendar date according to the given clock.
func Today(clock Clock) time.Time {
	return DateOf(clock.Now())
}

// DaysBetween returns the number of whole calendar days from one IST date to
// another. Negative when to precedes from.
func DaysBetween(from, to time.Time) int {
	f := DateOf(from)
	t := DateOf(to)
	// IST has no DST transitions, so day arithmetic on normalized midnights is exact.
	return int(t.Sub(f).Hours() / 24)
}

// SameDate reports whether two instants fall on the same IST calendar date.
func SameDate(a, b time.Time) bool {
	return DateOf(a).Equal(DateOf(b))
}

// Package coverage reconciles a source's covered interval against a newly
// requested one.
package coverage

import "mp_harvester/internal/domain"

// Remaining returns the part of requested that still has to be fetched and the
// covered interval to persist once that fetch completes. ok is false when there
// is nothing to fetch.
//
// Coverage is always a single interval: a disjoint request replaces it, and the
// earlier range is forgotten. A request strictly inside covered, or one that
// contains covered on both sides, also yields ok=false.
func Remaining(covered, requested domain.Interval) (remaining, updated domain.Interval, ok bool) {
	cb, ce := covered.Begin, covered.End
	rb, re := requested.Begin, requested.End

	switch {
	case !ce.After(rb) || !re.After(cb):
		return requested, requested, true

	case cb.Before(rb) && rb.Before(ce) && ce.Before(re):
		return domain.Interval{Begin: ce, End: re}, domain.Interval{Begin: cb, End: re}, true

	case rb.Before(cb) && cb.Before(re) && re.Before(ce):
		return domain.Interval{Begin: rb, End: cb}, domain.Interval{Begin: rb, End: ce}, true

	default:
		return domain.Interval{}, covered, false
	}
}

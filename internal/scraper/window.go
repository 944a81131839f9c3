package scraper

import (
	"fmt"
	"time"
)

// WireDateFormat is the DD-MM-YYYY layout vendors expect in dispatch payloads.
const WireDateFormat = "02-01-2006"

// ClampWindow trims a requested date window so it ends no later than
// yesterday relative to now. Vendors reject discovery jobs whose window
// includes today or future dates. A window left empty by the clamp, such as
// an entirely future request, is reported as an error so the dispatch fails
// loudly instead of silently dropping the request.
func ClampWindow(w DateWindow, now time.Time) (DateWindow, error) {
	yesterday := now.UTC().Truncate(24 * time.Hour).AddDate(0, 0, -1)
	if w.End.IsZero() || w.End.After(yesterday) {
		w.End = yesterday
	}
	if w.Start.IsZero() {
		w.Start = w.End.AddDate(0, 0, -30)
	}
	if w.Start.After(w.End) {
		return DateWindow{}, fmt.Errorf("date window %s..%s is empty after clamping to %s",
			w.Start.Format(WireDateFormat), w.End.Format(WireDateFormat), yesterday.Format(WireDateFormat))
	}
	return w, nil
}

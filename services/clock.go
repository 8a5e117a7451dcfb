package services

import "time"

// nowUTC truncates to milliseconds, the precision MongoDB keeps, so values
// compare equal after a round trip.
func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

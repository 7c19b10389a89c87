package repository

import "time"

// Display timestamps are rendered in Riyadh time to match the client.
var riyadh = mustLoadRiyadh()

func mustLoadRiyadh() *time.Location {
	loc, err := time.LoadLocation("Asia/Riyadh")
	if err != nil {
		// +03, no DST
		return time.FixedZone("Asia/Riyadh", 3*60*60)
	}
	return loc
}

// FormatCreatedAt renders an epoch-milliseconds timestamp as the
// human-readable display form, e.g. "18/06/2025 10:50 AM".
func FormatCreatedAt(ms int64) string {
	return time.UnixMilli(ms).In(riyadh).Format("02/01/2006 03:04 PM")
}

package clientdata

import "time"

// TTL constants for the cached responses.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// TTLQuotaSnapshot is the default reuse window of a full quota book
	TTLQuotaSnapshot = 10 * time.Minute
	// TTLDeliveryReport keeps the goods-return report around for stale fallback
	TTLDeliveryReport = time.Hour
)

package credit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MemoKeyPrefix namespaces the short-lived "recently checked" markers used to
// throttle opportunistic deduction on the request path.
const MemoKeyPrefix = "credit:checked:"

// DefaultMemoTTL is how long a tenant is exempt from re-checking after the
// request path has run the engine for it.
const DefaultMemoTTL = 5 * time.Minute

// MemoKey returns the memo key for a tenant.
func MemoKey(tenantID uuid.UUID) string {
	return MemoKeyPrefix + tenantID.String()
}

// MemoStore is a short-TTL key/value store for the request-path throttle.
// It is an optimization only: the deduction engine never consults it for
// correctness, so a lost or stale memo is harmless.
type MemoStore interface {
	// Get reports whether the key is present and unexpired.
	Get(ctx context.Context, key string) (bool, error)
	// Set marks the key present for the given TTL.
	Set(ctx context.Context, key string, ttl time.Duration) error
	// DeleteByPrefix removes all keys with the given prefix and returns how
	// many were removed. Used by diagnostics for cache busting.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

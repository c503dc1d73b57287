// Package locker provides named, TTL'd mutual-exclusion leases with
// holder tokens (fencing pattern). Schedulers use a lease to skip
// redundant job runs on horizontally-scaled instances.
//
// The lease is a throughput optimization only. Correctness is carried by
// the conditional status updates in the store; an expired lease mid-run
// merely permits a harmless concurrent run.
package locker

import (
	"context"
	"time"
)

// Locker is a lease-with-ownership-token primitive.
type Locker interface {
	// Acquire takes the named lease for ttl if it is free. It returns
	// false, without blocking or queueing, when another holder owns it.
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Release frees the lease only if token still matches the holder;
	// it is a no-op on mismatch or expiry.
	Release(ctx context.Context, key, token string) error

	// Renew extends the lease by ttl if token still matches the holder.
	Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}

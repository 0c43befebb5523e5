package port

import (
	"context"
	"time"
)

// Lease is a handle to one lock acquisition. The fencing token ties a
// release to the acquisition that produced it, so a late release after
// TTL expiry cannot clobber a newer holder.
type Lease struct {
	Key   string
	Token string
}

type Locker interface {
	// Acquire takes the named lock, waiting up to waitTimeout. The lock
	// expires on its own after holdTTL if never released.
	Acquire(ctx context.Context, key string, holdTTL, waitTimeout time.Duration) (*Lease, error)

	// Release frees the lease. Idempotent and safe after TTL expiry; it
	// never releases a lock held by a later acquirer.
	Release(ctx context.Context, lease *Lease) error
}

// Package limiter throttles peers that keep failing admin authentication.
package limiter

import (
	"context"
	"time"
)

// Limiter tracks failed authentication attempts per peer and places temporary blocks.
type Limiter interface {
	// Allow reports whether the peer may attempt authentication, and otherwise how long it must wait.
	Allow(ctx context.Context, peer []byte) (bool, time.Duration, error)
	// Success clears the peer's failure count.
	Success(ctx context.Context, peer []byte) error
	// Failure records a failed attempt and reports whether the peer is now blocked.
	Failure(ctx context.Context, peer []byte) (bool, time.Duration, error)
}

package limiter

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/zeebo/blake3"
)

// Defaults used by the server.
const (
	DefaultWindow   = 15 * time.Minute
	DefaultMaxFails = 5
	DefaultBlockFor = 15 * time.Minute
)

const (
	allowSQL = `SELECT blocked_until FROM admin_auth_failures WHERE peer_hash=$1`

	successSQL = `DELETE FROM admin_auth_failures WHERE peer_hash=$1`

	failureSQL = `
INSERT INTO admin_auth_failures (peer_hash, fail_count, blocked_until, updated_at)
VALUES ($1, 1, 'epoch', $2)
ON CONFLICT (peer_hash) DO UPDATE
SET
  fail_count = CASE WHEN $2 - admin_auth_failures.updated_at > $3::interval THEN 1 ELSE admin_auth_failures.fail_count + 1 END,
  updated_at = $2
RETURNING fail_count`

	blockSQL = `UPDATE admin_auth_failures SET blocked_until=$2 WHERE peer_hash=$1`
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PG is a PostgreSQL-backed limiter with a sliding failure window and a fixed lockout.
type PG struct {
	db       querier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

// NewPG constructs a limiter over any pgx pool or connection. A nil now uses time.Now.
func NewPG(db querier, window time.Duration, maxFails int, blockFor time.Duration, now func() time.Time) *PG {
	if now == nil {
		now = time.Now
	}
	return &PG{db: db, window: window, maxFails: maxFails, blockFor: blockFor, now: now}
}

// HashPeer returns a stable key for a remote address. The port is ignored so reconnects share a key
// and raw addresses are never stored.
func HashPeer(addr string) []byte {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	h := blake3.Sum256([]byte(host))
	return h[:]
}

// Allow reports whether the peer is currently unblocked.
func (l *PG) Allow(ctx context.Context, peer []byte) (bool, time.Duration, error) {
	var blockedUntil time.Time
	err := l.db.QueryRow(ctx, allowSQL, peer).Scan(&blockedUntil)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	case err != nil:
		return false, 0, err
	}
	if wait := blockedUntil.Sub(l.now()); wait > 0 {
		return false, wait, nil
	}
	return true, 0, nil
}

// Success forgets the peer's failures.
func (l *PG) Success(ctx context.Context, peer []byte) error {
	_, err := l.db.Exec(ctx, successSQL, peer)
	return err
}

// Failure records a failed attempt; reaching the threshold blocks the peer for the lockout period.
func (l *PG) Failure(ctx context.Context, peer []byte) (bool, time.Duration, error) {
	now := l.now()
	var fails int
	if err := l.db.QueryRow(ctx, failureSQL, peer, now, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}
	if _, err := l.db.Exec(ctx, blockSQL, peer, now.Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}

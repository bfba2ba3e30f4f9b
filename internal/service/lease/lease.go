package lease

import (
	"context"
	"fmt"
	"time"

	appErr "crash-service/pkg/errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is a TTL-bound exclusive-ownership token over a coordination key.
// Exactly one process per mode may hold the scheduler lease at a time;
// renewal and release are CAS operations on the per-instance token so a
// process that lost ownership can never renew or delete a successor's lease.
type Lease struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func New(rdb *redis.Client, mode string, ttl time.Duration) *Lease {
	return &Lease{
		rdb:   rdb,
		key:   buildLeaseKey(mode),
		token: uuid.NewString(),
		ttl:   ttl,
	}
}

// Acquire attempts a conditional create-if-absent. ErrLeaseHeld means
// another instance currently drives this mode.
func (l *Lease) Acquire(ctx context.Context) error {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", appErr.ErrCoordinationDown, err)
	}
	if !ok {
		return appErr.ErrLeaseHeld
	}
	return nil
}

// Renew refreshes the TTL if and only if this instance still owns the key.
// A failed renewal is fatal for the caller: it must stop mutating round
// state immediately.
func (l *Lease) Renew(ctx context.Context) error {
	res, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", appErr.ErrCoordinationDown, err)
	}
	if res == 0 {
		return appErr.ErrLeaseLost
	}
	return nil
}

// Release compare-and-deletes the key. Safe to call after expiry: if a
// different process took over, its lease is left untouched.
func (l *Lease) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", appErr.ErrCoordinationDown, err)
	}
	return nil
}

func (l *Lease) Key() string { return l.key }

func buildLeaseKey(mode string) string {
	return fmt.Sprintf("crash:lease:%s", mode)
}

// Package lock implements a named mutual-exclusion primitive shared by
// independent processes through Redis.
//
// A lock is the key "lock:<resource>" holding the holder's token, written with
// SET NX and a TTL. Release deletes the key only while it still holds the
// caller's token, in one server-side step, so a holder whose lock already
// expired and was taken over cannot delete the new owner's lock.
package lock

import (
	"context"
	"time"

	"github.com/anchel/voucher-seckill/lib/redisop"
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:"

var ErrLockBusy = errors.New("lock is held by another holder")

// KEYS[1]: lock key
// ARGV[1]: holder token
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// processID identifies this process in holder tokens.
var processID = uuid.NewString()

// Handle describes one successful acquisition.
type Handle struct {
	Resource string
	Token    string
	TTL      time.Duration
}

type Locker struct {
	rdb redis.Cmdable
}

func NewLocker(rdb redis.Cmdable) *Locker {
	return &Locker{rdb: rdb}
}

// NewToken returns a holder token that is never reused across acquisitions.
func NewToken() string {
	return processID + "-" + uuid.NewString()
}

func Key(resource string) string {
	return keyPrefix + resource
}

// TryAcquire sets resource -> holderToken only if no one holds it. It reports
// whether this call created the entry. It never blocks or retries.
func (l *Locker) TryAcquire(ctx context.Context, resource, holderToken string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.Newf("lock ttl must be positive, got %s", ttl)
	}
	ok, err := redisop.SetNX(ctx, l.rdb, Key(resource), holderToken, ttl)
	if err != nil {
		return false, errors.Wrapf(err, "acquire lock %s", resource)
	}
	return ok, nil
}

// Release deletes the lock if and only if it is still held by holderToken.
// It reports whether a delete happened; false means the lock had expired or
// belongs to someone else, which is not an error.
func (l *Locker) Release(ctx context.Context, resource, holderToken string) (bool, error) {
	n, err := redisop.RunScript(ctx, l.rdb, unlockScript, []string{Key(resource)}, holderToken)
	if err != nil {
		return false, errors.Wrapf(err, "release lock %s", resource)
	}
	if n == 0 {
		log.Warn("lock Release not owner", "resource", resource)
		return false, nil
	}
	return true, nil
}

// Acquire is TryAcquire with a freshly generated token. It returns ErrLockBusy
// when the lock is held elsewhere.
func (l *Locker) Acquire(ctx context.Context, resource string, ttl time.Duration) (*Handle, error) {
	token := NewToken()
	ok, err := l.TryAcquire(ctx, resource, token, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockBusy
	}
	return &Handle{Resource: resource, Token: token, TTL: ttl}, nil
}

// Unlock releases h. Mismatches are logged by Release and swallowed here.
func (l *Locker) Unlock(ctx context.Context, h *Handle) error {
	_, err := l.Release(ctx, h.Resource, h.Token)
	return err
}

// TryWithLock runs fn while holding resource, releasing on every exit path
// including panics. It returns ErrLockBusy without running fn when the lock is
// taken.
func (l *Locker) TryWithLock(ctx context.Context, resource string, ttl time.Duration, fn func(ctx context.Context) error) (err error) {
	h, err := l.Acquire(ctx, resource, ttl)
	if err != nil {
		return err
	}
	defer func() {
		// the caller's context may already be cancelled; release must still go out
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if uerr := l.Unlock(releaseCtx, h); uerr != nil {
			log.Error("lock TryWithLock Unlock", "resource", resource, "err", uerr)
			if err == nil {
				err = uerr
			}
		}
	}()

	return fn(ctx)
}

/*
Package lock provides per-key mutual exclusion for the scheduler.

PURPOSE:
  Each calendar date is an independently lockable resource. Two proposals
  touching the same date are serialized; proposals on disjoint dates never
  contend.

IMPLEMENTATIONS:
  Local: in-process, one channel semaphore per key, refcounted so idle keys
         are released.
  Redis: SET NX PX with a random token, token-checked release via Lua.
         Use when several server instances share one store.

DEADLOCK AVOIDANCE:
  AcquireAll deduplicates and sorts keys before locking, so two callers that
  need {A, B} and {B, A} always lock A first.
*/
package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNotHeld is returned when unlocking a key this locker does not hold.
var ErrNotHeld = errors.New("lock not held")

// Locker is a blocking, context-aware keyed lock.
type Locker interface {
	// Lock blocks until key is held or ctx is done.
	Lock(ctx context.Context, key string) error
	// Unlock releases key.
	Unlock(ctx context.Context, key string) error
}

// releaseTimeout bounds the unlock calls made by the release func.
const releaseTimeout = 2 * time.Second

// AcquireAll locks every key in sorted order. On failure the keys already
// taken are released. The returned func releases everything in reverse order
// and reports every key that could not be unlocked. An ErrNotHeld from it
// means a lock expired while the caller still relied on it.
func AcquireAll(ctx context.Context, l Locker, keys []string) (func() error, error) {
	ordered := dedupeSorted(keys)
	held := make([]string, 0, len(ordered))

	release := func() error {
		rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		var errs []error
		for i := len(held) - 1; i >= 0; i-- {
			if err := l.Unlock(rctx, held[i]); err != nil {
				errs = append(errs, fmt.Errorf("unlock %s: %w", held[i], err))
			}
		}
		return errors.Join(errs...)
	}

	for _, k := range ordered {
		if err := l.Lock(ctx, k); err != nil {
			if rerr := release(); rerr != nil {
				return nil, errors.Join(err, rerr)
			}
			return nil, err
		}
		held = append(held, k)
	}
	return release, nil
}

func dedupeSorted(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package store

import (
	"context"
	"fmt"
	"os"
	"time"
)

const (
	lockPollInterval = 50 * time.Millisecond
	// lockStaleTTL guards against lock files orphaned by a crashed process.
	lockStaleTTL = 30 * time.Second
)

// acquireLock takes an exclusive advisory lock by creating path with
// O_CREATE|O_EXCL. A lock file older than the stale TTL is treated as
// abandoned and removed. The returned release func must be called on every
// exit path.
func acquireLock(ctx context.Context, path string, timeout time.Duration) (func(), error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if err == nil {
			fmt.Fprintf(f, `{"pid":%d,"time":%d}`+"\n", os.Getpid(), time.Now().Unix())
			if cerr := f.Close(); cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("close lock file: %w", cerr)
			}
			return func() { _ = os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file %s: %w", path, err)
		}
		if fi, serr := os.Stat(path); serr == nil && time.Since(fi.ModTime()) >= lockStaleTTL {
			_ = os.Remove(path)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock %s: timed out after %s", path, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w", path, ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}

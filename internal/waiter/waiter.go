// Package waiter blocks until deployment artifacts produced by another
// process show up on disk.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tendermint/aquarius/libs/log"
)

const (
	DefaultAttempts = 50
	DefaultInterval = 5 * time.Second
)

// ErrTimeout is returned when the file did not appear within the attempt
// budget.
var ErrTimeout = errors.New("timed out waiting for file")

// WaitForFile checks for path up to attempts times, sleeping interval
// between checks.
func WaitForFile(ctx context.Context, logger log.Logger, path string, attempts int, interval time.Duration) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	for i := 1; ; i++ {
		_, err := os.Stat(path)
		if err == nil {
			logger.Info("artifacts found", "path", path, "attempt", i)
			return nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("checking %s: %w", path, err)
		}
		if i >= attempts {
			return fmt.Errorf("%s after %d attempts: %w", path, attempts, ErrTimeout)
		}
		logger.Info("waiting for artifacts", "path", path, "attempt", i, "max_attempts", attempts)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

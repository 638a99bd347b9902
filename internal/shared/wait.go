package shared

import (
	"context"
	"fmt"
	"os"
	"time"
)

// WaitForFile polls for path until it exists and is non-empty, the timeout elapses, or ctx is done.
//
// Used when an operator downloads a credential file from a browser while the CLI waits.
func WaitForFile(ctx context.Context, path string, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if info, err := os.Stat(path); err == nil && !info.IsDir() && info.Size() > 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for %s", ErrTimeout, path)
		case <-ticker.C:
		}
	}
}

// Package bucket stores sliding-window throttle counters.
package bucket

import (
	"fmt"
	"time"
)

func checkArgs(key string, cost, limit int, window time.Duration) error {
	if key == "" {
		return fmt.Errorf("rate limit key is required")
	}
	if limit <= 0 || cost <= 0 {
		return fmt.Errorf("rate limit cost and limit must be positive")
	}
	if window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	return nil
}

package kafka

import (
	"fmt"
	"time"
)

const (
	defaultConnectAttempts  = 5
	defaultConnectBudget    = 30 * time.Second
	defaultConnectBaseDelay = time.Second
)

// connectWithBackoff retries fn with exponentially growing delays until it
// succeeds, the attempt count is exhausted, or the next wait would overrun
// the total budget.
func connectWithBackoff(fn func() error, attempts int, budget, baseDelay time.Duration) error {
	deadline := time.Now().Add(budget)
	delay := baseDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts || time.Now().Add(delay).After(deadline) {
			return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}

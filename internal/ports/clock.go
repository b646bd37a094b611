package ports

import "time"

// Clock abstracts time so the ack-wait loop and mux settle delay can be
// driven without real elapsed time in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d. Implementations may return early only when d <= 0.
	Sleep(d time.Duration)
}

// File: internal/driver/context.go
package driver

import "context"

// CombineContext derives a context from parent that is additionally canceled
// when secondary is canceled. Browser operations must run on a context
// descending from the tab's, but still honor the caller's deadline.
func CombineContext(parent, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(parent)
	stop := make(chan struct{})
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		case <-stop:
		}
	}()
	return combined, func() {
		close(stop)
		cancel()
	}
}

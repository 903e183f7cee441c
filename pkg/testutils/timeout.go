package testutils

import (
	"testing"
	"time"
)

var (
	ConnectTimeout = 5 * time.Second
	pollInterval   = 10 * time.Millisecond
)

// WithTimeout polls f until it returns an empty string or ConnectTimeout passes.
// A non-empty return describes the state still being waited on.
func WithTimeout(t testing.TB, f func() string) {
	t.Helper()
	deadline := time.Now().Add(ConnectTimeout)
	for {
		lastErr := f()
		if lastErr == "" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("did not reach expected state after %v: %s", ConnectTimeout, lastErr)
		}
		time.Sleep(pollInterval)
	}
}

package prometheus

import (
	"sync"

	"go.uber.org/atomic"
)

const (
	dynascaleNamespace string = "dynascale"
)

var (
	initOnce    sync.Once
	initialized atomic.Bool
)

func Init(nodeID string) {
	initOnce.Do(func() {
		initSubscriptionStats(nodeID)
		initialized.Store(true)
	})
}

package event

import (
	"testing"
	"time"

	"github.com/konozy/ordersync/internal/domain/execution"
)

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T, now func() time.Time) execution.Store {
		return NewMemoryStore(WithMemoryClock(now))
	})
}

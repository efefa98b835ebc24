package memory_test

import (
	"testing"

	"github.com/satchel-edu/satchel/pkg/cache"
	"github.com/satchel-edu/satchel/pkg/cache/store/memory"
	"github.com/satchel-edu/satchel/pkg/cache/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) cache.Store {
		s := memory.New()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

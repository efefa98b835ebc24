package badger_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/satchel-edu/satchel/pkg/cache"
	"github.com/satchel-edu/satchel/pkg/cache/store/badger"
	"github.com/satchel-edu/satchel/pkg/cache/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) cache.Store {
		s, err := badger.Open(badger.Options{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

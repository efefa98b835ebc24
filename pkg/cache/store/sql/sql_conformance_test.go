package sql_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/satchel-edu/satchel/pkg/cache"
	"github.com/satchel-edu/satchel/pkg/cache/store/sql"
	"github.com/satchel-edu/satchel/pkg/cache/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) cache.Store {
		s, err := sql.Open(sql.Options{
			Dialect: sql.DialectSQLite,
			Path:    filepath.Join(t.TempDir(), "satchel.db"),
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

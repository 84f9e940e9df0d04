package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afflux/feedsync/internal/config"
)

func TestSearchQuery_Clamped(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		expected int
	}{
		{"default", 0, 30},
		{"negative", -5, 30},
		{"in range", 50, 50},
		{"at max", 200, 200},
		{"over max", 1000, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := SearchQuery{Limit: tt.limit}
			assert.Equal(t, tt.expected, q.Clamped())
		})
	}
}

func TestPolicyCaps_Normalized(t *testing.T) {
	caps := PolicyCaps{}.normalized()
	assert.Equal(t, 25, caps.MerchantCap)
	assert.Equal(t, 40, caps.CategoryCap)
	assert.Equal(t, 200, caps.GlobalCap)

	caps = PolicyCaps{MerchantCap: 5, CategoryCap: 10, GlobalCap: 50}.normalized()
	assert.Equal(t, 5, caps.MerchantCap)
	assert.Equal(t, 10, caps.CategoryCap)
	assert.Equal(t, 50, caps.GlobalCap)
}

func TestNew_SQLite(t *testing.T) {
	st, err := New(context.Background(), config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: filepath.Join(t.TempDir(), "feedsync.db"),
	})
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, ok := st.(*SQLiteStore)
	assert.True(t, ok)
}

func TestNew_DefaultsToSQLite(t *testing.T) {
	st, err := New(context.Background(), config.StoreConfig{
		DatabaseURL: filepath.Join(t.TempDir(), "feedsync.db"),
	})
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, ok := st.(*SQLiteStore)
	assert.True(t, ok)
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(context.Background(), config.StoreConfig{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

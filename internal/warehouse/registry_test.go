package warehouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfRegistration(t *testing.T) {
	assert.True(t, IsRegistered("duckdb"), "duckdb adapter should be auto-registered")
	assert.True(t, IsRegistered("postgres"), "postgres adapter should be auto-registered")
}

func TestListAdapters(t *testing.T) {
	adapters := ListAdapters()

	assert.Contains(t, adapters, "duckdb")
	assert.Contains(t, adapters, "postgres")
	assert.IsIncreasing(t, adapters)
}

func TestIsRegistered(t *testing.T) {
	tests := []struct {
		name     string
		adapter  string
		expected bool
	}{
		{"duckdb registered", "duckdb", true},
		{"postgres registered", "postgres", true},
		{"unknown not registered", "unknown_db", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRegistered(tt.adapter), "IsRegistered(%q)", tt.adapter)
		})
	}
}

func TestGet(t *testing.T) {
	factory, ok := Get("duckdb")
	require.True(t, ok)
	require.NotNil(t, factory)

	_, ok = Get("nonexistent")
	assert.False(t, ok)
}

func TestNewAdapter(t *testing.T) {
	adapter, err := NewAdapter(Config{Type: "duckdb", Path: ":memory:"})
	require.NoError(t, err)
	require.NotNil(t, adapter)
	assert.Equal(t, "duckdb", adapter.DialectName())

	_, err = NewAdapter(Config{Type: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown warehouse type")
}

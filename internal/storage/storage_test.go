package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/companion/internal/memory"
	"github.com/aiox-platform/companion/internal/safety"
)

func TestNew_Memory(t *testing.T) {
	b, err := New(DriverMemory, nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.InMemoryRepository{}, b.Memory)
	assert.IsType(t, &safety.InMemoryStore{}, b.Incidents)
	assert.NotNil(t, b.Photos)
	assert.NotNil(t, b.Profiles)
	assert.NotNil(t, b.Audit)
}

func TestNew_PostgresNeedsPool(t *testing.T) {
	_, err := New(DriverPostgres, nil)
	assert.Error(t, err)
}

func TestNew_Unknown(t *testing.T) {
	_, err := New("sqlite", nil)
	assert.ErrorContains(t, err, "unsupported storage driver")
}

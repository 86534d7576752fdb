package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGetDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(ctx, "k", "v1"))
	require.NoError(t, m.Set(ctx, "k", "v2"))

	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Delete(ctx, "k"))
	require.NoError(t, m.Delete(ctx, "k"))
	assert.Equal(t, 0, m.Len())
}

func TestMemory_CancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Set(ctx, "k", "v"), context.Canceled)
	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%5)
			_ = m.Set(ctx, key, "v")
			_, _ = m.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, m.Len())
}

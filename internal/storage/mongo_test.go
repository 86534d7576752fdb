package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupTestMongo(t *testing.T) (*Mongo, func()) {
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	backend, err := OpenMongo(ctx, uri, "testdb")
	require.NoError(t, err)
	require.NoError(t, backend.CreateIndexes(ctx))

	cleanup := func() {
		assert.NoError(t, backend.Close(ctx))
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return backend, cleanup
}

func TestMongo_RoundTrip(t *testing.T) {
	backend, cleanup := setupTestMongo(t)
	defer cleanup()

	ctx := context.Background()

	_, err := backend.Get(ctx, "cart-user123")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, backend.Set(ctx, "cart-user123", "first"))
	require.NoError(t, backend.Set(ctx, "cart-user123", "second"))

	v, err := backend.Get(ctx, "cart-user123")
	require.NoError(t, err)
	assert.Equal(t, "second", v)

	require.NoError(t, backend.Delete(ctx, "cart-user123"))
	_, err = backend.Get(ctx, "cart-user123")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMongo_ContextCancellation(t *testing.T) {
	backend, cleanup := setupTestMongo(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
	defer cancel()

	time.Sleep(10 * time.Millisecond)

	_, err := backend.Get(ctx, "cart-user123")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "context")
}

func TestOpenMongo_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping MongoDB dial test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := OpenMongo(ctx, "mongodb://127.0.0.1:1", "testdb")
	assert.ErrorContains(t, err, "mongo ping failed")
}

package lock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSyncLocker(t *testing.T) {
	locker := NewLocalSyncLocker()
	ctx := context.Background()

	ok, err := locker.TryLock(ctx, "conn-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second acquisition is refused while held.
	ok, err = locker.TryLock(ctx, "conn-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Other connections are independent.
	ok, err = locker.TryLock(ctx, "conn-2")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, locker.Unlock(ctx, "conn-1"))
	ok, err = locker.TryLock(ctx, "conn-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalSyncLockerUnlockUnheld(t *testing.T) {
	locker := NewLocalSyncLocker()
	assert.NoError(t, locker.Unlock(context.Background(), "never-held"))
}

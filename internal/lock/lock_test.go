package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLocker(t *testing.T, l Locker, name string) {
	t.Helper()
	ctx := context.Background()

	release, err := l.TryLock(ctx, name)
	require.NoError(t, err)

	_, err = l.TryLock(ctx, name)
	assert.ErrorIs(t, err, ErrLocked)

	other, err := l.TryLock(ctx, name+"-other")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := l.TryLock(ctx, name)
	require.NoError(t, err)
	again()
}

func TestLocal(t *testing.T) {
	exerciseLocker(t, NewLocal(), "transfer_run")
}

// Runs against a real server when RESTOCK_TEST_REDIS is set, e.g. localhost:6379
func TestRedis(t *testing.T) {
	addr := os.Getenv("RESTOCK_TEST_REDIS")
	if addr == "" {
		t.Skip("RESTOCK_TEST_REDIS not set")
	}

	l, err := NewRedis(context.Background(), addr, "", 0, time.Minute, zerolog.Nop())
	require.NoError(t, err)
	defer l.Close()

	exerciseLocker(t, l, "test-"+time.Now().Format("150405.000000"))
}

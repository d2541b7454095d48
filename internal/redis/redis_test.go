package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "registration_lock:3:ada@x.com", registrationKey(3, "Ada@X.com"))
	assert.Equal(t, "checkout_lock:12", checkoutKey(12))
}

// Runs against a local Redis when one is reachable.
func TestLockRoundTrip(t *testing.T) {
	c := NewClient(&config.Config{RedisHost: "localhost", RedisPort: "6379"})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		t.Skip("redis not available")
	}

	require.NoError(t, c.LockCheckout(ctx, 987654, "a"))
	err := c.LockCheckout(ctx, 987654, "b")
	assert.True(t, errors.Is(err, ErrLocked))

	owner, err := c.CheckoutLockOwner(ctx, 987654)
	require.NoError(t, err)
	assert.Equal(t, "a", owner)

	// wrong owner leaves the lock alone
	require.NoError(t, c.UnlockCheckout(ctx, 987654, "b"))
	assert.ErrorIs(t, c.LockCheckout(ctx, 987654, "b"), ErrLocked)

	require.NoError(t, c.UnlockCheckout(ctx, 987654, "a"))
	require.NoError(t, c.LockCheckout(ctx, 987654, "b"))
	require.NoError(t, c.UnlockCheckout(ctx, 987654, "b"))
}

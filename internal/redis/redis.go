package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonasLeetTheWay/encore/internal/config"
	"github.com/go-redis/redis/v8"
)

const (
	RegistrationLockTTL = 30 * time.Second
	CheckoutLockTTL     = 30 * time.Second
)

var ErrLocked = errors.New("resource is locked")

// Deletes the key only if it still holds our owner token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type Client struct {
	rdb *redis.Client
}

func NewClient(cfg *config.Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	return &Client{rdb: rdb}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func registrationKey(eventID uint, email string) string {
	return fmt.Sprintf("registration_lock:%d:%s", eventID, strings.ToLower(email))
}

func checkoutKey(registrationID uint) string {
	return fmt.Sprintf("checkout_lock:%d", registrationID)
}

// LockRegistration guards one (event, email) pair while a registration is being written.
func (c *Client) LockRegistration(ctx context.Context, eventID uint, email, owner string) error {
	return c.lock(ctx, registrationKey(eventID, email), owner, RegistrationLockTTL)
}

func (c *Client) UnlockRegistration(ctx context.Context, eventID uint, email, owner string) error {
	return c.unlock(ctx, registrationKey(eventID, email), owner)
}

// LockCheckout keeps a registration from opening two checkout sessions at once.
func (c *Client) LockCheckout(ctx context.Context, registrationID uint, owner string) error {
	return c.lock(ctx, checkoutKey(registrationID), owner, CheckoutLockTTL)
}

func (c *Client) UnlockCheckout(ctx context.Context, registrationID uint, owner string) error {
	return c.unlock(ctx, checkoutKey(registrationID), owner)
}

// CheckoutLockOwner returns the owner token of the checkout lock
func (c *Client) CheckoutLockOwner(ctx context.Context, registrationID uint) (string, error) {
	return c.rdb.Get(ctx, checkoutKey(registrationID)).Result()
}

func (c *Client) lock(ctx context.Context, key, owner string, ttl time.Duration) error {
	result := c.rdb.SetNX(ctx, key, owner, ttl)
	if result.Err() != nil {
		return fmt.Errorf("failed to lock %s: %w", key, result.Err())
	}

	if !result.Val() {
		return fmt.Errorf("%s: %w", key, ErrLocked)
	}

	return nil
}

func (c *Client) unlock(ctx context.Context, key, owner string) error {
	return unlockScript.Run(ctx, c.rdb, []string{key}, owner).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

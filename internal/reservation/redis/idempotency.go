package redis

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-reservation/internal/logger"
)

const (
	keyPrefix      = "reservation_idem:"
	pendingMarker  = "pending"
	defaultKeyTTLH = 24
)

// Redis guards reservation attempts with a client-supplied idempotency key.
// The key is claimed with SetNX before the transaction runs and confirmed
// with the resulting booking id afterwards, so a retry after an ambiguous
// timeout observes the original booking instead of reserving twice.
type Redis struct {
	Client *redis.Client
	Logger *logger.Logger
}

func NewRedis(client *redis.Client, log *logger.Logger) *Redis {
	return &Redis{Client: client, Logger: log}
}

// keyTTL returns how long idempotency keys are remembered.
func (r *Redis) keyTTL() time.Duration {
	ttlStr := os.Getenv("IDEMPOTENCY_KEY_TTL_HOURS")
	if ttlStr == "" {
		return defaultKeyTTLH * time.Hour
	}
	ttlHours, err := strconv.Atoi(ttlStr)
	if err != nil {
		if r.Logger != nil {
			r.Logger.Warn("BOOKING", fmt.Sprintf("Invalid IDEMPOTENCY_KEY_TTL_HOURS value %q, using default %dh", ttlStr, defaultKeyTTLH))
		}
		return defaultKeyTTLH * time.Hour
	}
	return time.Duration(ttlHours) * time.Hour
}

// Claim reserves the key for this attempt. When the key was already used,
// existingBookingID carries the booking it produced; an empty id with
// claimed=false means another attempt with the same key is still in flight.
func (r *Redis) Claim(ctx context.Context, key string) (existingBookingID string, claimed bool, err error) {
	ok, err := r.Client.SetNX(ctx, keyPrefix+key, pendingMarker, r.keyTTL()).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}

	val, err := r.Client.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		// Claim expired between SetNX and Get; treat as in flight and let
		// the caller retry.
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if strings.HasPrefix(val, pendingMarker) {
		return "", false, nil
	}
	return val, false, nil
}

// Confirm records the booking the key produced, keeping the TTL window.
func (r *Redis) Confirm(ctx context.Context, key, bookingID string) error {
	return r.Client.Set(ctx, keyPrefix+key, bookingID, r.keyTTL()).Err()
}

// Release drops the claim so the key can be reused: either the claiming
// attempt failed before confirming, or the booking the key pointed at is
// gone. Callers must own the claim or have observed its mapping to be stale.
func (r *Redis) Release(ctx context.Context, key string) error {
	return r.Client.Del(ctx, keyPrefix+key).Err()
}

package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// HeldError reports the listing that blocked an acquisition.
type HeldError struct {
	ListingID string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lock: listing %s is held", e.ListingID)
}

// Keys are set all-or-nothing. A key already owned by ARGV[1] is refreshed.
var acquireHoldsScript = redis.NewScript(`for i, key in ipairs(KEYS) do
  local owner = redis.call("get", key)
  if owner and owner ~= ARGV[1] then
    return i
  end
end
for _, key in ipairs(KEYS) do
  redis.call("set", key, ARGV[1], "PX", ARGV[2])
end
return 0`)

var releaseHoldsScript = redis.NewScript(`local n = 0
for _, key in ipairs(KEYS) do
  if redis.call("get", key) == ARGV[1] then
    n = n + redis.call("del", key)
  end
end
return n`)

// Holder places short-lived holds on listings while an order awaits payment.
// Holds expire on their own; Postgres keeps the durable held_until copy.
type Holder struct {
	R      *redis.Client
	TTL    time.Duration
	Prefix string
}

func (h Holder) key(listingID string) string {
	prefix := h.Prefix
	if prefix == "" {
		prefix = "hold:listing:"
	}
	return prefix + listingID
}

func (h Holder) ttl() time.Duration {
	if h.TTL <= 0 {
		return 15 * time.Minute
	}
	return h.TTL
}

// Acquire holds every listing for owner or none of them.
func (h Holder) Acquire(ctx context.Context, owner string, listingIDs ...string) error {
	if h.R == nil || len(listingIDs) == 0 {
		return nil
	}
	keys := make([]string, len(listingIDs))
	for i, id := range listingIDs {
		keys[i] = h.key(id)
	}
	idx, err := acquireHoldsScript.Run(ctx, h.R, keys, owner, h.ttl().Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("lock: acquire holds: %w", err)
	}
	if idx > 0 {
		return &HeldError{ListingID: listingIDs[idx-1]}
	}
	return nil
}

// Release drops the holds owner still has and returns how many were removed.
func (h Holder) Release(ctx context.Context, owner string, listingIDs ...string) (int, error) {
	if h.R == nil || len(listingIDs) == 0 {
		return 0, nil
	}
	keys := make([]string, len(listingIDs))
	for i, id := range listingIDs {
		keys[i] = h.key(id)
	}
	n, err := releaseHoldsScript.Run(ctx, h.R, keys, owner).Int()
	if err != nil {
		return 0, fmt.Errorf("lock: release holds: %w", err)
	}
	return n, nil
}

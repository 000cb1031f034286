package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	processedKeyPrefix = "media:compressed:"

	markerInProgress = "processing"
	markerDone       = "done"

	DefaultClaimTTL = 5 * time.Minute
)

type ClaimResult int

const (
	// ClaimAcquired means the caller now owns the media id and must either
	// MarkProcessed or Release it.
	ClaimAcquired ClaimResult = iota
	ClaimInProgress
	ClaimDone
)

func (r ClaimResult) String() string {
	switch r {
	case ClaimAcquired:
		return "acquired"
	case ClaimInProgress:
		return "in_progress"
	case ClaimDone:
		return "done"
	default:
		return "unknown"
	}
}

// ProcessedMarkers serializes work per upload: a short-lived claim while one
// worker compresses it, then a long-lived done marker so redelivered events
// do not publish a second compressed event.
type ProcessedMarkers struct {
	client   *redis.Client
	ttl      time.Duration
	claimTTL time.Duration
}

func NewProcessedMarkers(client *redis.Client, ttl, claimTTL time.Duration) *ProcessedMarkers {
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	return &ProcessedMarkers{client: client, ttl: ttl, claimTTL: claimTTL}
}

// Claim takes the media id with SET NX. With takeover set, a claim left in
// progress by another holder is overwritten; a done marker never is.
func (m *ProcessedMarkers) Claim(ctx context.Context, mediaID string, takeover bool) (ClaimResult, error) {
	key := ProcessedKey(mediaID)
	ok, err := m.client.SetNX(ctx, key, markerInProgress, m.claimTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("claim %s: %w", mediaID, err)
	}
	if ok {
		return ClaimAcquired, nil
	}

	state, err := m.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls.
		return m.Claim(ctx, mediaID, takeover)
	}
	if err != nil {
		return 0, fmt.Errorf("read marker %s: %w", mediaID, err)
	}
	if state == markerDone {
		return ClaimDone, nil
	}
	if !takeover {
		return ClaimInProgress, nil
	}
	if err := m.client.Set(ctx, key, markerInProgress, m.claimTTL).Err(); err != nil {
		return 0, fmt.Errorf("take over claim %s: %w", mediaID, err)
	}
	return ClaimAcquired, nil
}

func (m *ProcessedMarkers) Release(ctx context.Context, mediaID string) error {
	if err := m.client.Del(ctx, ProcessedKey(mediaID)).Err(); err != nil {
		return fmt.Errorf("release claim %s: %w", mediaID, err)
	}
	return nil
}

func (m *ProcessedMarkers) MarkProcessed(ctx context.Context, mediaID string) error {
	if err := m.client.Set(ctx, ProcessedKey(mediaID), markerDone, m.ttl).Err(); err != nil {
		return fmt.Errorf("set processed marker %s: %w", mediaID, err)
	}
	return nil
}

func ProcessedKey(mediaID string) string {
	return processedKeyPrefix + mediaID
}

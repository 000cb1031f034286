package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessedKey(t *testing.T) {
	assert.Equal(t, "media:compressed:abc", ProcessedKey("abc"))
}

func TestClaimResultString(t *testing.T) {
	assert.Equal(t, "acquired", ClaimAcquired.String())
	assert.Equal(t, "in_progress", ClaimInProgress.String())
	assert.Equal(t, "done", ClaimDone.String())
}

// newTestMarkers runs against the Redis in MEDIA_TEST_REDIS_ADDR.
func newTestMarkers(t *testing.T) (*ProcessedMarkers, string) {
	t.Helper()
	addr := os.Getenv("MEDIA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MEDIA_TEST_REDIS_ADDR not set")
	}
	client := NewClient(addr)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, Ping(context.Background(), client))

	mediaID := uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), ProcessedKey(mediaID)) })
	return NewProcessedMarkers(client, time.Minute, 10*time.Second), mediaID
}

func TestProcessedMarkersClaimLifecycle(t *testing.T) {
	markers, mediaID := newTestMarkers(t)
	ctx := context.Background()

	got, err := markers.Claim(ctx, mediaID, false)
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, got)

	got, err = markers.Claim(ctx, mediaID, false)
	require.NoError(t, err)
	assert.Equal(t, ClaimInProgress, got)

	require.NoError(t, markers.Release(ctx, mediaID))
	got, err = markers.Claim(ctx, mediaID, false)
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, got)

	require.NoError(t, markers.MarkProcessed(ctx, mediaID))
	got, err = markers.Claim(ctx, mediaID, true)
	require.NoError(t, err)
	assert.Equal(t, ClaimDone, got)

	ttl, err := markers.client.TTL(ctx, ProcessedKey(mediaID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 10*time.Second)
}

func TestProcessedMarkersTakeover(t *testing.T) {
	markers, mediaID := newTestMarkers(t)
	ctx := context.Background()

	got, err := markers.Claim(ctx, mediaID, false)
	require.NoError(t, err)
	require.Equal(t, ClaimAcquired, got)

	got, err = markers.Claim(ctx, mediaID, true)
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, got)
}

func TestProcessedMarkersConcurrentClaim(t *testing.T) {
	markers, mediaID := newTestMarkers(t)
	ctx := context.Background()

	results := make(chan ClaimResult, 8)
	for i := 0; i < 8; i++ {
		go func() {
			got, err := markers.Claim(ctx, mediaID, false)
			if err != nil {
				got = ClaimResult(-1)
			}
			results <- got
		}()
	}
	acquired := 0
	for i := 0; i < 8; i++ {
		got := <-results
		require.NotEqual(t, ClaimResult(-1), got)
		if got == ClaimAcquired {
			acquired++
		}
	}
	assert.Equal(t, 1, acquired)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"media_server/server/common/events"
	"media_server/server/common/infra/cache"
	"media_server/server/common/infra/mq"
	"media_server/server/common/infra/object"
	commonlog "media_server/server/common/log"
	"media_server/server/compressor/transcode"
)

// DefaultThresholdBytes is the size below which originals are left untouched.
const DefaultThresholdBytes int64 = 8 * 1024 * 1024

type ObjectStore interface {
	Size(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

type Transcoder interface {
	Transcode(data []byte) ([]byte, error)
}

// ProcessedMarkers lets one delivery at a time own a media id and remembers
// ids already handled. It is optional.
type ProcessedMarkers interface {
	Claim(ctx context.Context, mediaID string, takeover bool) (cache.ClaimResult, error)
	Release(ctx context.Context, mediaID string) error
	MarkProcessed(ctx context.Context, mediaID string) error
}

type Worker struct {
	objects        ObjectStore
	publisher      EventPublisher
	transcoder     Transcoder
	markers        ProcessedMarkers
	thresholdBytes int64
}

func NewWorker(objects ObjectStore, publisher EventPublisher, transcoder Transcoder, markers ProcessedMarkers, thresholdBytes int64) *Worker {
	if thresholdBytes <= 0 {
		thresholdBytes = DefaultThresholdBytes
	}
	return &Worker{
		objects:        objects,
		publisher:      publisher,
		transcoder:     transcoder,
		markers:        markers,
		thresholdBytes: thresholdBytes,
	}
}

// Handle processes one media.uploaded delivery. Small originals are
// acknowledged untouched; large ones are transcoded to compressed_id and
// announced on media.compressed. Errors wrapped with mq.Permanent will not
// succeed on redelivery.
//
// A delivery claims the media id before any work. A concurrent duplicate
// finds the claim and is acknowledged without side effects. A redelivered
// message takes over a stale claim: the broker only redelivers once the
// previous holder's channel is gone.
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) (err error) {
	evt, err := events.DecodeUploaded(d.Body)
	if err != nil {
		return mq.Permanent(err)
	}
	startedAt := time.Now()

	if w.markers != nil {
		claim, claimErr := w.markers.Claim(ctx, evt.MediaID, d.Redelivered)
		switch {
		case claimErr != nil:
			commonlog.Warnf("event=media_compress action=claim status=failed media_id=%s error=%v", evt.MediaID, claimErr)
		case claim != cache.ClaimAcquired:
			commonlog.Infof("event=media_compress action=skip reason=duplicate claim=%s media_id=%s", claim, evt.MediaID)
			return nil
		default:
			defer func() {
				w.settleClaim(ctx, evt.MediaID, err)
			}()
		}
	}

	size, err := w.objects.Size(ctx, evt.MediaID)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return mq.Permanent(fmt.Errorf("original %s: %w", evt.MediaID, err))
		}
		return fmt.Errorf("stat original %s: %w", evt.MediaID, err)
	}
	if size < 0 {
		return mq.Permanent(fmt.Errorf("original %s has no declared size", evt.MediaID))
	}
	if size < w.thresholdBytes {
		commonlog.Infof("event=media_compress action=skip reason=below_threshold media_id=%s size_bytes=%d threshold_bytes=%d", evt.MediaID, size, w.thresholdBytes)
		return nil
	}

	original, err := w.objects.Get(ctx, evt.MediaID)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return mq.Permanent(fmt.Errorf("original %s: %w", evt.MediaID, err))
		}
		return fmt.Errorf("read original %s: %w", evt.MediaID, err)
	}

	compressed, err := w.transcoder.Transcode(original)
	if err != nil {
		if errors.Is(err, transcode.ErrDecode) {
			return mq.Permanent(fmt.Errorf("transcode %s: %w", evt.MediaID, err))
		}
		return fmt.Errorf("transcode %s: %w", evt.MediaID, err)
	}

	if err := w.objects.Put(ctx, evt.CompressedID, compressed, transcode.ContentType); err != nil {
		return fmt.Errorf("write compressed %s: %w", evt.CompressedID, err)
	}

	err = w.publisher.Publish(ctx, events.RoutingKeyCompressed, events.CompressedEvent{
		MediaID:      evt.MediaID,
		CompressedID: evt.CompressedID,
		Status:       events.StatusCompressed,
	})
	if err != nil {
		return fmt.Errorf("announce compressed %s: %w", evt.MediaID, err)
	}

	commonlog.Infof("event=media_compress action=compress status=ok media_id=%s compressed_id=%s original_bytes=%d compressed_bytes=%d latency_ms=%d",
		evt.MediaID, evt.CompressedID, size, len(compressed), time.Since(startedAt).Milliseconds())
	return nil
}

// settleClaim promotes the claim to done when the delivery will be acked and
// releases it when the delivery will be retried. Permanent failures are
// dead-lettered, so their claim is released too.
func (w *Worker) settleClaim(ctx context.Context, mediaID string, err error) {
	ctx = context.WithoutCancel(ctx)
	if err == nil {
		if markErr := w.markers.MarkProcessed(ctx, mediaID); markErr != nil {
			commonlog.Warnf("event=media_compress action=mark status=failed media_id=%s error=%v", mediaID, markErr)
		}
		return
	}
	if releaseErr := w.markers.Release(ctx, mediaID); releaseErr != nil {
		commonlog.Warnf("event=media_compress action=release status=failed media_id=%s error=%v", mediaID, releaseErr)
	}
}

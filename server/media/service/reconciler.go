package service

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"media_server/server/common/events"
	"media_server/server/common/infra/mq"
	commonlog "media_server/server/common/log"
	"media_server/server/media/domain"
)

type StatusUpdater interface {
	UpdateStatus(ctx context.Context, mediaID, status string) (domain.MediaRecord, error)
}

type StatusNotifier interface {
	PublishStatus(ctx context.Context, userID int32, update domain.StatusUpdate) error
}

// Reconciler applies media.compressed events to the persisted records.
// The media queue is bound to every media.* key, so other events are
// acknowledged and ignored.
type Reconciler struct {
	records  StatusUpdater
	notifier StatusNotifier
}

func NewReconciler(records StatusUpdater, notifier StatusNotifier) *Reconciler {
	return &Reconciler{records: records, notifier: notifier}
}

func (r *Reconciler) Handle(ctx context.Context, d amqp.Delivery) error {
	if d.RoutingKey != events.RoutingKeyCompressed {
		commonlog.Debugf("event=media_reconcile action=skip routing_key=%s", d.RoutingKey)
		return nil
	}

	evt, err := events.DecodeCompressed(d.Body)
	if err != nil {
		return mq.Permanent(err)
	}

	record, err := r.records.UpdateStatus(ctx, evt.MediaID, evt.Status)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			commonlog.Warnf("event=media_reconcile action=update status=skipped reason=unknown_media media_id=%s", evt.MediaID)
			return nil
		}
		return fmt.Errorf("update status of %s: %w", evt.MediaID, err)
	}
	commonlog.Infof("event=media_reconcile action=update status=ok media_id=%s compressed_id=%s user_id=%d media_status=%s", record.MediaID, evt.CompressedID, record.UserID, record.Status)

	if r.notifier != nil {
		if err := r.notifier.PublishStatus(ctx, record.UserID, domain.NewStatusUpdate(record)); err != nil {
			commonlog.Warnf("event=media_reconcile action=notify status=failed media_id=%s user_id=%d error=%v", record.MediaID, record.UserID, err)
		}
	}
	return nil
}

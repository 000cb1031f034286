package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"media_server/server/common/events"
	commonlog "media_server/server/common/log"
	"media_server/server/media/domain"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

var allowedContentTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
}

type ObjectWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

type MediaStore interface {
	Create(ctx context.Context, record domain.MediaRecord) (domain.MediaRecord, error)
	UpdateStatus(ctx context.Context, mediaID, status string) (domain.MediaRecord, error)
	GetByMediaID(ctx context.Context, mediaID string) (domain.MediaRecord, error)
	ListByUser(ctx context.Context, userID int32, page, limit int) ([]domain.MediaRecord, int64, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

type UploadInput struct {
	UserID      int32
	Description string
	ContentType string
	Data        []byte
}

type UploadResult struct {
	Message      string
	MediaID      string
	CompressedID string
	SizeBytes    int64
}

type Page struct {
	Items    []domain.MediaRecord
	Page     int
	Limit    int
	NumPages int64
}

type UploadService struct {
	objects   ObjectWriter
	records   MediaStore
	publisher EventPublisher
	newID     func() string
}

func NewUploadService(objects ObjectWriter, records MediaStore, publisher EventPublisher) *UploadService {
	return &UploadService{
		objects:   objects,
		records:   records,
		publisher: publisher,
		newID:     uuid.NewString,
	}
}

// Accept stores the original, records it and announces it on
// media.uploaded. A failed announcement is logged and does not fail the
// upload: the original and its record are already durable.
func (s *UploadService) Accept(ctx context.Context, in UploadInput) (UploadResult, error) {
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return UploadResult{}, domain.ErrDescriptionRequired
	}
	if len(in.Data) == 0 {
		return UploadResult{}, domain.ErrImageRequired
	}
	contentType := normalizeContentType(in.ContentType)
	if _, ok := allowedContentTypes[contentType]; !ok {
		return UploadResult{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedContentType, in.ContentType)
	}

	startedAt := time.Now()
	mediaID := s.newID()
	compressedID := s.newID()
	size := int64(len(in.Data))

	if err := s.objects.Put(ctx, mediaID, in.Data, contentType); err != nil {
		commonlog.Errorf("event=media_upload action=put status=failed user_id=%d media_id=%s size_bytes=%d error=%v", in.UserID, mediaID, size, err)
		return UploadResult{}, fmt.Errorf("store original: %w", err)
	}

	_, err := s.records.Create(ctx, domain.MediaRecord{
		UserID:       in.UserID,
		MediaID:      mediaID,
		CompressedID: compressedID,
		Status:       domain.StatusUploaded,
		Description:  description,
		ContentType:  contentType,
		SizeBytes:    size,
	})
	if err != nil {
		commonlog.Errorf("event=media_upload action=record status=failed user_id=%d media_id=%s error=%v", in.UserID, mediaID, err)
		return UploadResult{}, fmt.Errorf("record upload: %w", err)
	}

	err = s.publisher.Publish(ctx, events.RoutingKeyUploaded, events.UploadedEvent{MediaID: mediaID, CompressedID: compressedID})
	if err != nil {
		commonlog.Errorf("event=media_upload action=publish status=failed user_id=%d media_id=%s error=%v", in.UserID, mediaID, err)
	}

	commonlog.Infof("event=media_upload action=accept status=ok user_id=%d media_id=%s compressed_id=%s size_bytes=%d latency_ms=%d",
		in.UserID, mediaID, compressedID, size, time.Since(startedAt).Milliseconds())
	return UploadResult{
		Message:      fmt.Sprintf("Uploaded image with description: %s and Size %d kb", description, size/1024),
		MediaID:      mediaID,
		CompressedID: compressedID,
		SizeBytes:    size,
	}, nil
}

// Get returns the caller's record; records owned by someone else are
// reported as not found.
func (s *UploadService) Get(ctx context.Context, userID int32, mediaID string) (domain.MediaRecord, error) {
	record, err := s.records.GetByMediaID(ctx, strings.TrimSpace(mediaID))
	if err != nil {
		return domain.MediaRecord{}, err
	}
	if record.UserID != userID {
		return domain.MediaRecord{}, domain.ErrRecordNotFound
	}
	return record, nil
}

func (s *UploadService) List(ctx context.Context, userID int32, page, limit int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	// Keeps the row offset (page-1)*limit within an int32.
	if maxPage := math.MaxInt32/limit + 1; page > maxPage {
		page = maxPage
	}
	items, numPages, err := s.records.ListByUser(ctx, userID, page, limit)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Page: page, Limit: limit, NumPages: numPages}, nil
}

func IsValidationError(err error) bool {
	return errors.Is(err, domain.ErrDescriptionRequired) ||
		errors.Is(err, domain.ErrImageRequired) ||
		errors.Is(err, domain.ErrUnsupportedContentType)
}

func normalizeContentType(raw string) string {
	ct := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

package domain

import (
	"errors"
	"time"
)

const (
	StatusUploaded = "uploaded"

	StatusUpdateType = "media_status"
)

var (
	ErrRecordNotFound         = errors.New("media record not found")
	ErrDescriptionRequired    = errors.New("description required")
	ErrImageRequired          = errors.New("image required")
	ErrUnsupportedContentType = errors.New("unsupported content type")
)

// MediaRecord is the persisted state of one upload. MediaID is the object
// key of the original, CompressedID the key the compressor writes to.
type MediaRecord struct {
	ID           int64     `json:"id"`
	UserID       int32     `json:"user_id"`
	MediaID      string    `json:"media_id"`
	CompressedID string    `json:"compressed_id"`
	Status       string    `json:"status"`
	Description  string    `json:"description"`
	ContentType  string    `json:"content_type"`
	SizeBytes    int64     `json:"size_bytes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type StatusUpdate struct {
	Type         string    `json:"type"`
	MediaID      string    `json:"media_id"`
	CompressedID string    `json:"compressed_id"`
	Status       string    `json:"status"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NewStatusUpdate(record MediaRecord) StatusUpdate {
	return StatusUpdate{
		Type:         StatusUpdateType,
		MediaID:      record.MediaID,
		CompressedID: record.CompressedID,
		Status:       record.Status,
		UpdatedAt:    record.UpdatedAt,
	}
}

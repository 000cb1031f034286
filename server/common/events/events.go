// Package events holds the wire contract shared by the media service and the
// compression worker.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	Exchange = "media_events"

	RoutingKeyUploaded   = "media.uploaded"
	RoutingKeyCompressed = "media.compressed"
	RoutingKeyAll        = "media.#"

	// StatusCompressed is the only status the pipeline emits today; the
	// field stays a free-form string on the wire.
	StatusCompressed = "compressed"
)

var ErrMalformedEvent = errors.New("malformed event")

type UploadedEvent struct {
	MediaID      string `json:"media_id"`
	CompressedID string `json:"compressed_id"`
}

type CompressedEvent struct {
	MediaID      string `json:"media_id"`
	CompressedID string `json:"compressed_id"`
	Status       string `json:"status"`
}

func DecodeUploaded(body []byte) (UploadedEvent, error) {
	var evt UploadedEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return UploadedEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	evt.MediaID = strings.TrimSpace(evt.MediaID)
	evt.CompressedID = strings.TrimSpace(evt.CompressedID)
	if evt.MediaID == "" || evt.CompressedID == "" {
		return UploadedEvent{}, fmt.Errorf("%w: media_id and compressed_id are required", ErrMalformedEvent)
	}
	return evt, nil
}

func DecodeCompressed(body []byte) (CompressedEvent, error) {
	var evt CompressedEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return CompressedEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	evt.MediaID = strings.TrimSpace(evt.MediaID)
	evt.Status = strings.TrimSpace(evt.Status)
	if evt.MediaID == "" || evt.Status == "" {
		return CompressedEvent{}, fmt.Errorf("%w: media_id and status are required", ErrMalformedEvent)
	}
	return evt, nil
}

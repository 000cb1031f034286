package httpresp

const (
	ErrUnauthorized     = "unauthorized"
	ErrMissingToken     = "missing token"
	ErrInvalidToken     = "invalid token"
	ErrNotFound         = "media not found"
	ErrPayloadTooLarge  = "request body too large"
	ErrInvalidMultipart = "invalid multipart form"
	ErrUploadFailed     = "error uploading image"
	ErrInternal         = "internal error"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type UploadResponse struct {
	Message      string `json:"message"`
	MediaID      string `json:"media_id"`
	CompressedID string `json:"compressed_id"`
	SizeBytes    int64  `json:"size_bytes"`
}

type PageResponse[T any] struct {
	Items    []T   `json:"items"`
	Page     int   `json:"page"`
	Limit    int   `json:"limit"`
	NumPages int64 `json:"num_pages"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewStatusResponse(status string) StatusResponse {
	return StatusResponse{Status: status}
}

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"media_server/server/common/middleware"
	"media_server/server/common/transport/httpresp"
	"media_server/server/media/domain"
	"media_server/server/media/service"
)

const DefaultUploadMaxBytes int64 = 50 * 1024 * 1024

type mediaService interface {
	Accept(ctx context.Context, in service.UploadInput) (service.UploadResult, error)
	Get(ctx context.Context, userID int32, mediaID string) (domain.MediaRecord, error)
	List(ctx context.Context, userID int32, page, limit int) (service.Page, error)
}

type tokenAuth interface {
	ParseUserID(token string) (int32, error)
}

type Handler struct {
	media          mediaService
	auth           tokenAuth
	ws             gin.HandlerFunc
	uploadMaxBytes int64
}

func NewHandler(media mediaService, auth tokenAuth, ws gin.HandlerFunc, uploadMaxBytes int64) *Handler {
	if uploadMaxBytes <= 0 {
		uploadMaxBytes = DefaultUploadMaxBytes
	}
	return &Handler{media: media, auth: auth, ws: ws, uploadMaxBytes: uploadMaxBytes}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/v1/media/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpresp.NewStatusResponse("ok"))
	})

	media := r.Group("/api/v1/media")
	media.Use(middleware.AuthRequired(h.auth))
	{
		media.POST("/upload", middleware.BodyLimit(h.uploadMaxBytes), h.upload)
		media.GET("", h.list)
		media.GET("/:media_id", h.get)
	}

	if h.ws != nil {
		r.GET("/ws/media", middleware.AuthRequired(h.auth), h.ws)
	}
}

func (h *Handler) upload(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		if isBodyTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, httpresp.NewErrorResponse(httpresp.ErrPayloadTooLarge))
			return
		}
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrInvalidMultipart))
		return
	}

	in := service.UploadInput{UserID: userID}
	if values := form.Value["description"]; len(values) > 0 {
		in.Description = values[0]
	}
	if files := form.File["image"]; len(files) > 0 {
		header := files[0]
		in.ContentType = header.Header.Get("Content-Type")
		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrInvalidMultipart))
			return
		}
		in.Data, err = io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrInvalidMultipart))
			return
		}
	}

	res, err := h.media.Accept(c.Request.Context(), in)
	if err != nil {
		if service.IsValidationError(err) {
			c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(httpresp.ErrUploadFailed))
		return
	}
	c.JSON(http.StatusCreated, httpresp.UploadResponse{
		Message:      res.Message,
		MediaID:      res.MediaID,
		CompressedID: res.CompressedID,
		SizeBytes:    res.SizeBytes,
	})
}

func (h *Handler) get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	record, err := h.media.Get(c.Request.Context(), userID, c.Param("media_id"))
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(httpresp.ErrNotFound))
			return
		}
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(httpresp.ErrInternal))
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) list(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("invalid page"))
		return
	}
	limit, err := queryInt(c, "limit", service.DefaultPageLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("invalid limit"))
		return
	}

	result, err := h.media.List(c.Request.Context(), userID, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(httpresp.ErrInternal))
		return
	}
	c.JSON(http.StatusOK, httpresp.PageResponse[domain.MediaRecord]{
		Items:    result.Items,
		Page:     result.Page,
		Limit:    result.Limit,
		NumPages: result.NumPages,
	})
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

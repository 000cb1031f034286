package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"media_server/server/common/transport/httpresp"
)

const (
	ctxUserID   = "auth_user_id"
	tokenCookie = "jwt"
)

type tokenAuth interface {
	ParseUserID(token string) (int32, error)
}

// AuthRequired accepts the token from the jwt cookie set by the auth service
// or from an Authorization bearer header.
func AuthRequired(auth tokenAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := AccessToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingToken))
			return
		}
		userID, err := auth.ParseUserID(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

func AccessToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		return token, token != ""
	}
	if cookie, err := c.Cookie(tokenCookie); err == nil && strings.TrimSpace(cookie) != "" {
		return strings.TrimSpace(cookie), true
	}
	return "", false
}

func UserID(c *gin.Context) (int32, bool) {
	raw, ok := c.Get(ctxUserID)
	if !ok {
		return 0, false
	}
	userID, ok := raw.(int32)
	return userID, ok
}

// BodyLimit caps the request body; reads past the limit fail with *http.MaxBytesError.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

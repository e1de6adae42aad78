package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Baaaki/teamchat/internal/middleware"
	"github.com/Baaaki/teamchat/internal/service"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StatusOf maps an error kind to its HTTP status.
func StatusOf(kind service.Kind) int {
	switch kind {
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindConflict:
		return http.StatusConflict
	case service.KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusServiceUnavailable
	}
}

// respondError renders err as {error, error_ar, code}. Unclassified errors
// become the generic retry prompt so internal details never reach clients.
func respondError(c *gin.Context, err error) {
	e := service.AsError(err)
	status := StatusOf(e.Kind)
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{
		"error":    e.Message,
		"error_ar": e.MessageAr,
		"code":     string(e.Kind),
	})
}

var errInvalidBody = &service.Error{
	Kind:      service.KindValidation,
	Message:   "Invalid request body",
	MessageAr: "بيانات الطلب غير صالحة",
}

var errInvalidID = &service.Error{
	Kind:      service.KindValidation,
	Message:   "Invalid id",
	MessageAr: "المعرف غير صالح",
}

var errAuthRequired = &service.Error{
	Kind:      service.KindUnauthenticated,
	Message:   "Authentication required",
	MessageAr: "يجب تسجيل الدخول",
}

var errInvalidQuery = &service.Error{
	Kind:      service.KindValidation,
	Message:   "Invalid query parameter",
	MessageAr: "معامل الاستعلام غير صالح",
}

// bindJSON decodes the body and renders a validation error on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		logger.FromContext(c.Request.Context()).Debug("Request body rejected",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		respondError(c, errInvalidBody)
		return false
	}
	return true
}

// paramID parses a uuid path parameter.
func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, errInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// currentUser returns the authenticated user id. Routes using it sit behind
// middleware.Auth.
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.GetUserID(c)
	if !ok {
		respondError(c, errAuthRequired)
		return uuid.Nil, false
	}
	return id, true
}

// pageQuery reads ?before=<RFC3339 time>&limit=<n>.
func pageQuery(c *gin.Context) (*time.Time, int, bool) {
	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			respondError(c, errInvalidQuery)
			return nil, 0, false
		}
		before = &t
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, errInvalidQuery)
			return nil, 0, false
		}
		limit = n
	}
	return before, limit, true
}

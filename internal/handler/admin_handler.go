package handler

import (
	"net"
	"net/http"

	"github.com/Baaaki/teamchat/internal/middleware"
	"github.com/Baaaki/teamchat/internal/service"
	"github.com/Baaaki/teamchat/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AdminHandler struct {
	userService *service.UserService
	limiter     *middleware.RateLimiter
}

func NewAdminHandler(userService *service.UserService, limiter *middleware.RateLimiter) *AdminHandler {
	return &AdminHandler{
		userService: userService,
		limiter:     limiter,
	}
}

// Request types
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

type DeactivateBulkRequest struct {
	UserIDs []uuid.UUID `json:"user_ids" binding:"required"`
}

type BanIPRequest struct {
	IP string `json:"ip" binding:"required"`
}

var errInvalidIP = &service.Error{
	Kind:      service.KindValidation,
	Message:   "Invalid IP address",
	MessageAr: "عنوان IP غير صالح",
}

// ListUsers returns all users including deactivated ones
// GET /api/admin/users
func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.userService.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"users": users,
	})
}

// SetActive deactivates or reactivates one user
// PUT /api/admin/users/:id/active
func (h *AdminHandler) SetActive(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req SetActiveRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.userService.SetActive(c.Request.Context(), adminID, userID, *req.Active); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeactivateBulk deactivates several users at once
// POST /api/admin/users/deactivate
func (h *AdminHandler) DeactivateBulk(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	var req DeactivateBulkRequest
	if !bindJSON(c, &req) {
		return
	}

	n, err := h.userService.DeactivateBulk(c.Request.Context(), adminID, req.UserIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deactivated": n,
	})
}

// BannedIPs lists banned addresses
// GET /api/admin/bans
func (h *AdminHandler) BannedIPs(c *gin.Context) {
	ips, err := h.limiter.BannedIPs(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ips": ips,
	})
}

// BanIP blocks an address from every endpoint
// POST /api/admin/bans
func (h *AdminHandler) BanIP(c *gin.Context) {
	var req BanIPRequest
	if !bindJSON(c, &req) {
		return
	}
	if net.ParseIP(req.IP) == nil {
		respondError(c, errInvalidIP)
		return
	}

	adminID, _ := middleware.GetUserID(c)
	logger.FromContext(c.Request.Context()).Info("Admin banning IP",
		zap.String("admin_id", adminID.String()),
		zap.String("ip", req.IP),
	)
	if err := h.limiter.BanIP(c.Request.Context(), req.IP); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UnbanIP lifts a ban
// DELETE /api/admin/bans/:ip
func (h *AdminHandler) UnbanIP(c *gin.Context) {
	ip := c.Param("ip")
	if net.ParseIP(ip) == nil {
		respondError(c, errInvalidIP)
		return
	}
	if err := h.limiter.UnbanIP(c.Request.Context(), ip); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

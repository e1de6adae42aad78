package handler

import (
	"net/http"

	"github.com/Baaaki/teamchat/internal/middleware"
	"github.com/Baaaki/teamchat/internal/service"
	"github.com/gin-gonic/gin"
)

type PresenceHandler struct {
	presence *service.PresenceService
}

func NewPresenceHandler(presence *service.PresenceService) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// GET /api/presence
func (h *PresenceHandler) List(c *gin.Context) {
	statuses, err := h.presence.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": statuses})
}

// GET /api/presence/online-count
func (h *PresenceHandler) OnlineCount(c *gin.Context) {
	n, err := h.presence.GetOnlineCount(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": n})
}

// GET /api/presence/users/:userId
func (h *PresenceHandler) Get(c *gin.Context) {
	userID, ok := paramID(c, "userId")
	if !ok {
		return
	}
	st, err := h.presence.GetUserStatus(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// PUT /api/presence
func (h *PresenceHandler) SetStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.SetStatusInput
	if !bindJSON(c, &req) {
		return
	}

	p, err := h.presence.SetStatus(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// POST /api/presence/heartbeat
func (h *PresenceHandler) Heartbeat(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	h.presence.Heartbeat(c.Request.Context(), userID)
	c.Status(http.StatusNoContent)
}

// POST /api/presence/offline
// Sent by clients on page unload. Mounted behind OptionalAuth and always 204.
func (h *PresenceHandler) Offline(c *gin.Context) {
	if userID, ok := middleware.GetUserID(c); ok {
		h.presence.Offline(c.Request.Context(), userID)
	}
	c.Status(http.StatusNoContent)
}

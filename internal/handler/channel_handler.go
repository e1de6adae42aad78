package handler

import (
	"context"
	"net/http"

	"github.com/Baaaki/teamchat/internal/models"
	"github.com/Baaaki/teamchat/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ChannelHandler struct {
	channels *service.ChannelService
}

func NewChannelHandler(channels *service.ChannelService) *ChannelHandler {
	return &ChannelHandler{channels: channels}
}

type memberRequest struct {
	UserID uuid.UUID         `json:"user_id" binding:"required"`
	Role   models.MemberRole `json:"role"`
}

type roleRequest struct {
	Role models.MemberRole `json:"role" binding:"required"`
}

type notificationsRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// GET /api/channels
func (h *ChannelHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	views, err := h.channels.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": views})
}

// POST /api/channels
func (h *ChannelHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req service.CreateChannelInput
	if !bindJSON(c, &req) {
		return
	}
	channel, err := h.channels.Create(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, channel)
}

// GET /api/channels/:id
func (h *ChannelHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	channelID, ok := paramID(c, "id")
	if !ok {
		return
	}
	view, err := h.channels.Get(c.Request.Context(), userID, channelID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// PATCH /api/channels/:id
func (h *ChannelHandler) Update(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	channelID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.UpdateChannelInput
	if !bindJSON(c, &req) {
		return
	}
	channel, err := h.channels.Update(c.Request.Context(), userID, channelID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channel)
}

// POST /api/channels/:id/archive
func (h *ChannelHandler) Archive(c *gin.Context) {
	h.act(c, h.channels.Archive)
}

// POST /api/channels/:id/join
func (h *ChannelHandler) Join(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	channelID, ok := paramID(c, "id")
	if !ok {
		return
	}
	member, err := h.channels.Join(c.Request.Context(), userID, channelID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

// POST /api/channels/:id/leave
func (h *ChannelHandler) Leave(c *gin.Context) {
	h.act(c, h.channels.Leave)
}

// POST /api/channels/:id/read
func (h *ChannelHandler) MarkRead(c *gin.Context) {
	h.act(c, h.channels.MarkRead)
}

// act runs a (user, channel) operation that returns no body.
func (h *ChannelHandler) act(c *gin.Context, op func(ctx context.Context, userID, channelID uuid.UUID) error) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	channelID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := op(c.Request.Context(), userID, channelID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PUT /api/channels/:id/notifications
func (h *ChannelHandler) SetNotifications(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	channelID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req notificationsRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.channels.SetNotifications(c.Request.Context(), userID, channelID, *req.Enabled); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/channels/:id/members
func (h *ChannelHandler) Members(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	channelID, ok := paramID(c, "id")
	if !ok {
		return
	}
	members, err := h.channels.Members(c.Request.Context(), userID, channelID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// POST /api/channels/:id/members
func (h *ChannelHandler) AddMember(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	channelID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req memberRequest
	if !bindJSON(c, &req) {
		return
	}
	role := req.Role
	if role == "" {
		role = models.MemberMember
	}
	member, err := h.channels.AddMember(c.Request.Context(), userID, channelID, req.UserID, role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

// DELETE /api/channels/:id/members/:userId
func (h *ChannelHandler) RemoveMember(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	channelID, ok := paramID(c, "id")
	if !ok {
		return
	}
	targetID, ok := paramID(c, "userId")
	if !ok {
		return
	}
	if err := h.channels.RemoveMember(c.Request.Context(), userID, channelID, targetID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PUT /api/channels/:id/members/:userId/role
func (h *ChannelHandler) UpdateRole(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	channelID, ok := paramID(c, "id")
	if !ok {
		return
	}
	targetID, ok := paramID(c, "userId")
	if !ok {
		return
	}
	var req roleRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.channels.UpdateRole(c.Request.Context(), userID, channelID, targetID, req.Role); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

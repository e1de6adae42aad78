package handler

import (
	"net/http"

	"github.com/Baaaki/teamchat/internal/service"
	"github.com/gin-gonic/gin"
)

type DirectMessageHandler struct {
	dms *service.DirectMessageService
}

func NewDirectMessageHandler(dms *service.DirectMessageService) *DirectMessageHandler {
	return &DirectMessageHandler{dms: dms}
}

// GET /api/dm/conversations
func (h *DirectMessageHandler) Conversations(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	convs, err := h.dms.Conversations(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// GET /api/dm/unread
func (h *DirectMessageHandler) Unread(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	n, err := h.dms.TotalUnread(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

// GET /api/dm/users/:userId/messages?before=&limit=
// Loading a conversation marks the peer's messages as read.
func (h *DirectMessageHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	peerID, ok := paramID(c, "userId")
	if !ok {
		return
	}
	before, limit, ok := pageQuery(c)
	if !ok {
		return
	}

	page, err := h.dms.LoadPage(c.Request.Context(), userID, peerID, before, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// POST /api/dm/users/:userId/messages
func (h *DirectMessageHandler) Send(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	peerID, ok := paramID(c, "userId")
	if !ok {
		return
	}
	var req service.SendDirectInput
	if !bindJSON(c, &req) {
		return
	}
	req.FromUserID = userID
	req.ToUserID = peerID

	dm, err := h.dms.Send(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dm)
}

// PATCH /api/dm/messages/:id
func (h *DirectMessageHandler) Edit(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req editRequest
	if !bindJSON(c, &req) {
		return
	}

	dm, err := h.dms.Edit(c.Request.Context(), userID, id, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dm)
}

// DELETE /api/dm/messages/:id
func (h *DirectMessageHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.dms.Delete(c.Request.Context(), userID, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/dm/messages/:id/read
func (h *DirectMessageHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.dms.MarkRead(c.Request.Context(), userID, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

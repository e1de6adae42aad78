package handler

import (
	"net/http"

	"github.com/Baaaki/teamchat/internal/service"
	"github.com/gin-gonic/gin"
)

type MessageHandler struct {
	messageService *service.MessageService
}

func NewMessageHandler(messageService *service.MessageService) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
	}
}

type editRequest struct {
	Content string `json:"content" binding:"required"`
}

// GET /api/channels/:id/messages?before=&limit=
func (h *MessageHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	channelID, ok := paramID(c, "id")
	if !ok {
		return
	}
	before, limit, ok := pageQuery(c)
	if !ok {
		return
	}

	page, err := h.messageService.LoadPage(c.Request.Context(), userID, channelID, before, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GET /api/channels/:id/messages/search?q=
func (h *MessageHandler) Search(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	channelID, ok := paramID(c, "id")
	if !ok {
		return
	}

	messages, err := h.messageService.Search(c.Request.Context(), userID, channelID, c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// POST /api/channels/:id/messages
func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	channelID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req service.SendMessageInput
	if !bindJSON(c, &req) {
		return
	}
	req.ChannelID = channelID
	req.AuthorID = userID

	msg, err := h.messageService.Send(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// GET /api/messages/:id
func (h *MessageHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, ok := paramID(c, "id")
	if !ok {
		return
	}

	msg, err := h.messageService.Get(c.Request.Context(), userID, messageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// PATCH /api/messages/:id
func (h *MessageHandler) Edit(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req editRequest
	if !bindJSON(c, &req) {
		return
	}

	msg, err := h.messageService.Edit(c.Request.Context(), userID, messageID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DELETE /api/messages/:id
func (h *MessageHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.messageService.Delete(c.Request.Context(), userID, messageID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package handler

import (
	"net/http"

	"github.com/Baaaki/teamchat/internal/service"
	"github.com/gin-gonic/gin"
)

const formFileField = "file"

var errMissingFile = &service.Error{
	Kind:      service.KindValidation,
	Message:   "A file is required",
	MessageAr: "الملف مطلوب",
}

type FileHandler struct {
	files *service.FileService
}

func NewFileHandler(files *service.FileService) *FileHandler {
	return &FileHandler{files: files}
}

// POST /api/files
func (h *FileHandler) Upload(c *gin.Context) {
	h.upload(c, service.PurposeAttachment)
}

// POST /api/users/me/avatar
func (h *FileHandler) UploadAvatar(c *gin.Context) {
	h.upload(c, service.PurposeAvatar)
}

func (h *FileHandler) upload(c *gin.Context, purpose service.UploadPurpose) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	header, err := c.FormFile(formFileField)
	if err != nil {
		respondError(c, errMissingFile)
		return
	}
	f, err := header.Open()
	if err != nil {
		respondError(c, errMissingFile)
		return
	}
	defer f.Close()

	file, err := h.files.Upload(c.Request.Context(), service.UploadInput{
		OwnerID:  userID,
		FileName: header.Filename,
		Purpose:  purpose,
		Body:     f,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, file)
}

// GET /api/files/:id
func (h *FileHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	file, err := h.files.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

// DELETE /api/files/:id
func (h *FileHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.files.Delete(c.Request.Context(), userID, id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

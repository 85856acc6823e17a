package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/geoatlas-backend/internal/middleware"
	"github.com/yungbote/geoatlas-backend/internal/services"
)

type AssetHandler struct {
	assets services.AssetService
}

func NewAssetHandler(assets services.AssetService) *AssetHandler {
	return &AssetHandler{assets: assets}
}

type registerUploadRequest struct {
	FolderID *uuid.UUID `json:"folder_id"`
	Files    []struct {
		Stem      string `json:"stem" binding:"required"`
		Extension string `json:"extension" binding:"required"`
		Location  string `json:"location" binding:"required"`
		SizeBytes int64  `json:"size_bytes"`
	} `json:"files" binding:"required"`
}

// POST /api/assets
func (h *AssetHandler) RegisterUpload(c *gin.Context) {
	var req registerUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	files := make([]services.UploadedFile, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, services.UploadedFile{
			Stem:      f.Stem,
			Extension: f.Extension,
			Location:  f.Location,
			SizeBytes: f.SizeBytes,
		})
	}
	assets, err := h.assets.RegisterUpload(c.Request.Context(), middleware.OwnerID(c), req.FolderID, files)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"assets": assets})
}

// POST /api/assets/:id/publish
func (h *AssetHandler) Publish(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_asset_id", err)
		return
	}
	if err := h.assets.Publish(c.Request.Context(), middleware.OwnerID(c), assetID); err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"asset_id": assetID})
}

// GET /api/assets/:id/status
func (h *AssetHandler) Status(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_asset_id", err)
		return
	}
	view, err := h.assets.Status(c.Request.Context(), middleware.OwnerID(c), assetID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, view)
}

// POST /api/assets/:id/reset
func (h *AssetHandler) Reset(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_asset_id", err)
		return
	}
	if err := h.assets.Reset(c.Request.Context(), middleware.OwnerID(c), assetID); err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"asset_id": assetID})
}

// DELETE /api/assets/:id
func (h *AssetHandler) Delete(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_asset_id", err)
		return
	}
	if err := h.assets.Delete(c.Request.Context(), middleware.OwnerID(c), assetID); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": assetID})
}

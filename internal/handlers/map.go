package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/geoatlas-backend/internal/middleware"
	"github.com/yungbote/geoatlas-backend/internal/services"
)

type MapHandler struct {
	maps services.MapService
}

func NewMapHandler(maps services.MapService) *MapHandler {
	return &MapHandler{maps: maps}
}

type createMapRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// POST /api/maps
func (h *MapHandler) Create(c *gin.Context) {
	var req createMapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	m, err := h.maps.Create(c.Request.Context(), middleware.OwnerID(c), req.Name, req.Description)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"map": m})
}

// GET /api/maps
func (h *MapHandler) List(c *gin.Context) {
	maps, err := h.maps.List(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"maps": maps})
}

// GET /api/maps/:id
func (h *MapHandler) Get(c *gin.Context) {
	mapID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_map_id", err)
		return
	}
	view, err := h.maps.Get(c.Request.Context(), middleware.OwnerID(c), mapID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, view)
}

// DELETE /api/maps/:id
func (h *MapHandler) Delete(c *gin.Context) {
	mapID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_map_id", err)
		return
	}
	if err := h.maps.Delete(c.Request.Context(), middleware.OwnerID(c), mapID); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": mapID})
}

// GET /api/maps/:id/center
func (h *MapHandler) Center(c *gin.Context) {
	mapID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_map_id", err)
		return
	}
	view, err := h.maps.ComputeCenter(c.Request.Context(), middleware.OwnerID(c), mapID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, view)
}

type addLayerRequest struct {
	AssetID  uuid.UUID `json:"asset_id" binding:"required"`
	Position *int      `json:"position"`
}

// POST /api/maps/:id/layers
func (h *MapHandler) AddLayer(c *gin.Context) {
	mapID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_map_id", err)
		return
	}
	var req addLayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	position := -1
	if req.Position != nil {
		position = *req.Position
	}
	layer, err := h.maps.AddLayer(c.Request.Context(), middleware.OwnerID(c), mapID, req.AssetID, position)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"layer": layer})
}

// DELETE /api/maps/:id/layers/:layerId
func (h *MapHandler) RemoveLayer(c *gin.Context) {
	mapID, layerID, ok := h.mapAndLayer(c)
	if !ok {
		return
	}
	if err := h.maps.RemoveLayer(c.Request.Context(), middleware.OwnerID(c), mapID, layerID); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"removed": layerID})
}

type reorderRequest struct {
	LayerIDs []uuid.UUID `json:"layer_ids" binding:"required"`
}

// PUT /api/maps/:id/layers/order
func (h *MapHandler) ReorderLayers(c *gin.Context) {
	mapID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_map_id", err)
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if err := h.maps.ReorderLayers(c.Request.Context(), middleware.OwnerID(c), mapID, req.LayerIDs); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"map_id": mapID})
}

type visibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

// PATCH /api/maps/:id/layers/:layerId/visibility
func (h *MapHandler) SetLayerVisibility(c *gin.Context) {
	mapID, layerID, ok := h.mapAndLayer(c)
	if !ok {
		return
	}
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if err := h.maps.SetLayerVisibility(c.Request.Context(), middleware.OwnerID(c), mapID, layerID, *req.Visible); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"layer_id": layerID})
}

type opacityRequest struct {
	Opacity *float64 `json:"opacity" binding:"required"`
}

// PATCH /api/maps/:id/layers/:layerId/opacity
func (h *MapHandler) SetLayerOpacity(c *gin.Context) {
	mapID, layerID, ok := h.mapAndLayer(c)
	if !ok {
		return
	}
	var req opacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if err := h.maps.SetLayerOpacity(c.Request.Context(), middleware.OwnerID(c), mapID, layerID, *req.Opacity); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"layer_id": layerID})
}

func (h *MapHandler) mapAndLayer(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	mapID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_map_id", err)
		return uuid.Nil, uuid.Nil, false
	}
	layerID, err := uuid.Parse(c.Param("layerId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_layer_id", err)
		return uuid.Nil, uuid.Nil, false
	}
	return mapID, layerID, true
}

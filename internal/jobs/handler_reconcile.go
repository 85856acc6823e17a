package jobs

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/yungbote/geoatlas-backend/internal/geoserver"
	"github.com/yungbote/geoatlas-backend/internal/publish"
	"github.com/yungbote/geoatlas-backend/internal/repos"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

type ReconcileHandler struct {
	gs         geoserver.Client
	reconciler *publish.Reconciler
	mapLayers  repos.MapLayerRepo
}

func NewReconcileHandler(gs geoserver.Client, reconciler *publish.Reconciler, mapLayers repos.MapLayerRepo) *ReconcileHandler {
	return &ReconcileHandler{gs: gs, reconciler: reconciler, mapLayers: mapLayers}
}

func (h *ReconcileHandler) Type() string { return types.TaskTypeReconcile }

func (h *ReconcileHandler) Run(tc *Context) error {
	asset, err := tc.Assets.GetByID(tc.Ctx, nil, tc.AssetID())
	if err != nil {
		return err
	}
	if asset == nil {
		tc.Succeed("reconcile")
		return nil
	}
	if asset.Status != types.AssetStatusPublishing {
		tc.Log.Info("Reconcile no-op, asset already moved on",
			"asset_id", asset.ID, "status", asset.Status)
		tc.Succeed("reconcile")
		return nil
	}

	layerName, err := h.reconciler.Resolve(tc.Ctx, asset.SystematicName)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"status":              types.AssetStatusPublished,
		"external_layer_name": layerName,
	}
	// Extent capture is best effort; a map without it just opens on
	// the world view.
	if ext, extErr := h.gs.LayerExtent(tc.Ctx, asset.SystematicName, layerName, asset.Kind); extErr == nil && ext != nil {
		if b, mErr := json.Marshal(ext); mErr == nil {
			updates["spatial_extent"] = datatypes.JSON(b)
		}
	} else if extErr != nil {
		tc.Log.Warn("Could not capture layer extent", "asset_id", asset.ID, "error", extErr)
	}

	ok, err := tc.Assets.UpdateFieldsWhereStatus(tc.Ctx, nil, asset.ID,
		[]string{types.AssetStatusPublishing}, updates)
	if err != nil {
		return err
	}
	if !ok {
		tc.Succeed("reconcile")
		return nil
	}

	// Maps already referencing the asset recompose now that the layer
	// name is known.
	mapIDs, err := h.mapLayers.ListMapIDsByAssetID(tc.Ctx, nil, asset.ID)
	if err != nil {
		return err
	}
	for _, mapID := range mapIDs {
		if qErr := tc.Queue.EnqueueCompose(tc.Ctx, nil, asset.OwnerID, mapID); qErr != nil {
			return qErr
		}
	}
	tc.Succeed("reconcile")
	return nil
}

package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/geoatlas-backend/internal/publish"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

type CleanupHandler struct {
	cleanup *publish.Cleanup
}

func NewCleanupHandler(cleanup *publish.Cleanup) *CleanupHandler {
	return &CleanupHandler{cleanup: cleanup}
}

func (h *CleanupHandler) Type() string { return types.TaskTypeCleanup }

// Run deletes the external footprint named in the payload. The asset
// row is often gone by now, which is why the payload is
// self-contained.
func (h *CleanupHandler) Run(tc *Context) error {
	var spec CleanupSpec
	if len(tc.Task.Payload) > 0 {
		if err := json.Unmarshal(tc.Task.Payload, &spec); err != nil {
			return fmt.Errorf("decode cleanup payload: %w", err)
		}
	}

	target := &types.SpatialAsset{
		SystematicName:    spec.StoreName,
		ExternalStoreName: spec.StoreName,
		Kind:              spec.Kind,
	}
	if spec.LayerName != "" {
		target.ExternalLayerName = &spec.LayerName
	}
	if tc.AssetID() != uuid.Nil {
		target.ID = tc.AssetID()
	}

	// Fall back to the live row when the payload predates it having
	// names, or when cleanup was enqueued without a snapshot.
	if spec.StoreName == "" && tc.AssetID() != uuid.Nil {
		asset, err := tc.Assets.GetByID(tc.Ctx, nil, tc.AssetID())
		if err != nil {
			return err
		}
		if asset == nil {
			tc.Succeed("cleanup")
			return nil
		}
		target = asset
	}

	if err := h.cleanup.Run(tc.Ctx, target); err != nil {
		return err
	}

	// Reset chains its republish here so it cannot start while the old
	// external footprint is still being torn down.
	if spec.Republish && tc.AssetID() != uuid.Nil {
		if err := tc.Queue.EnqueueBundleCheck(tc.Ctx, nil, tc.Task.OwnerID, tc.AssetID(), 0); err != nil {
			return err
		}
	}
	tc.Succeed("cleanup")
	return nil
}

package jobs

import (
	"fmt"
	"strings"

	"github.com/yungbote/geoatlas-backend/internal/bundle"
	"github.com/yungbote/geoatlas-backend/internal/repos"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

// bundleIncompleteError retries: sidecar files usually trickle in over
// a few seconds, so the task polls until the bundle completes or the
// attempt cap gives up on it.
type bundleIncompleteError struct {
	Missing []string
}

func (e *bundleIncompleteError) Error() string {
	return fmt.Sprintf("bundle incomplete, missing: %s", strings.Join(e.Missing, ", "))
}

func (e *bundleIncompleteError) Retryable() bool { return true }

type BundleCheckHandler struct {
	parts repos.AssetPartRepo
}

func NewBundleCheckHandler(parts repos.AssetPartRepo) *BundleCheckHandler {
	return &BundleCheckHandler{parts: parts}
}

func (h *BundleCheckHandler) Type() string { return types.TaskTypeBundleCheck }

func (h *BundleCheckHandler) Run(tc *Context) error {
	asset, err := tc.Assets.GetByID(tc.Ctx, nil, tc.AssetID())
	if err != nil {
		return err
	}
	if asset == nil {
		// Deleted while queued.
		tc.Succeed("bundle_check")
		return nil
	}
	if asset.Status != types.AssetStatusPending {
		tc.Log.Info("Bundle check no-op, asset already moved on",
			"asset_id", asset.ID, "status", asset.Status)
		tc.Succeed("bundle_check")
		return nil
	}

	parts, err := h.parts.ListBundle(tc.Ctx, nil, asset.OwnerID, asset.FolderPath, asset.LogicalName)
	if err != nil {
		return err
	}
	status := bundle.Check(parts)
	if !status.Ready {
		return &bundleIncompleteError{Missing: status.Missing}
	}

	ok, err := tc.Assets.UpdateFieldsWhereStatus(tc.Ctx, nil, asset.ID,
		[]string{types.AssetStatusPending},
		map[string]interface{}{
			"status": types.AssetStatusBundling,
			"kind":   status.Kind,
		})
	if err != nil {
		return err
	}
	if !ok {
		tc.Succeed("bundle_check")
		return nil
	}

	if err := tc.Queue.EnqueuePublish(tc.Ctx, nil, asset.OwnerID, asset.ID); err != nil {
		return err
	}
	tc.Succeed("bundle_check")
	return nil
}

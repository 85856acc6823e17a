package jobs

import (
	"github.com/yungbote/geoatlas-backend/internal/publish"
	"github.com/yungbote/geoatlas-backend/internal/repos"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

type PublishHandler struct {
	parts     repos.AssetPartRepo
	publisher *publish.Publisher
	workspace string
}

func NewPublishHandler(parts repos.AssetPartRepo, publisher *publish.Publisher, workspace string) *PublishHandler {
	return &PublishHandler{parts: parts, publisher: publisher, workspace: workspace}
}

func (h *PublishHandler) Type() string { return types.TaskTypePublish }

func (h *PublishHandler) Run(tc *Context) error {
	asset, err := tc.Assets.GetByID(tc.Ctx, nil, tc.AssetID())
	if err != nil {
		return err
	}
	if asset == nil {
		tc.Succeed("publish")
		return nil
	}
	// Re-runs after a crash land here in publishing; anything past
	// that means another worker finished the job.
	if asset.Status != types.AssetStatusBundling && asset.Status != types.AssetStatusPublishing {
		tc.Log.Info("Publish no-op, asset already moved on",
			"asset_id", asset.ID, "status", asset.Status)
		tc.Succeed("publish")
		return nil
	}

	ok, err := tc.Assets.UpdateFieldsWhereStatus(tc.Ctx, nil, asset.ID,
		[]string{types.AssetStatusBundling, types.AssetStatusPublishing},
		map[string]interface{}{"status": types.AssetStatusPublishing})
	if err != nil {
		return err
	}
	if !ok {
		tc.Succeed("publish")
		return nil
	}

	parts, err := h.parts.ListBundle(tc.Ctx, nil, asset.OwnerID, asset.FolderPath, asset.LogicalName)
	if err != nil {
		return err
	}
	if err := h.publisher.Publish(tc.Ctx, asset, parts); err != nil {
		return err
	}

	if err := tc.Assets.UpdateFields(tc.Ctx, nil, asset.ID, map[string]interface{}{
		"external_store_name": asset.SystematicName,
		"external_workspace":  h.workspace,
	}); err != nil {
		return err
	}
	if err := tc.Queue.EnqueueReconcile(tc.Ctx, nil, asset.OwnerID, asset.ID); err != nil {
		return err
	}
	tc.Succeed("publish")
	return nil
}

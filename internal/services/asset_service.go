package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/geoatlas-backend/internal/bundle"
	"github.com/yungbote/geoatlas-backend/internal/jobs"
	"github.com/yungbote/geoatlas-backend/internal/naming"
	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/repos"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

// UploadedFile describes one file the caller registered. Location is
// where the worker will find the bytes at publish time.
type UploadedFile struct {
	Stem      string
	Extension string
	Location  string
	SizeBytes int64
}

// AssetStatusView is what the status endpoint returns: the asset plus
// its task history.
type AssetStatusView struct {
	Asset *types.SpatialAsset `json:"asset"`
	Tasks []*types.TaskRun    `json:"tasks"`
}

type AssetService interface {
	RegisterUpload(ctx context.Context, ownerID uuid.UUID, folderID *uuid.UUID, files []UploadedFile) ([]*types.SpatialAsset, error)
	Publish(ctx context.Context, ownerID, assetID uuid.UUID) error
	Status(ctx context.Context, ownerID, assetID uuid.UUID) (*AssetStatusView, error)
	Reset(ctx context.Context, ownerID, assetID uuid.UUID) error
	Delete(ctx context.Context, ownerID, assetID uuid.UUID) error
}

type assetService struct {
	db        *gorm.DB
	log       *logger.Logger
	assets    repos.SpatialAssetRepo
	parts     repos.AssetPartRepo
	folders   repos.FolderRepo
	tasks     repos.TaskRunRepo
	mapLayers repos.MapLayerRepo
	queue     *jobs.Queue
	workspace string
	policy    jobs.Policy
}

func NewAssetService(
	db *gorm.DB,
	baseLog *logger.Logger,
	assets repos.SpatialAssetRepo,
	parts repos.AssetPartRepo,
	folders repos.FolderRepo,
	tasks repos.TaskRunRepo,
	mapLayers repos.MapLayerRepo,
	queue *jobs.Queue,
	workspace string,
	policy jobs.Policy,
) AssetService {
	return &assetService{
		db:        db,
		log:       baseLog.With("service", "AssetService"),
		assets:    assets,
		parts:     parts,
		folders:   folders,
		tasks:     tasks,
		mapLayers: mapLayers,
		queue:     queue,
		workspace: workspace,
		policy:    policy,
	}
}

// RegisterUpload records every file as a part, but a dataset only
// comes into being around a primary file (shp or a raster image):
// sidecar-only requests attach to the existing asset for their stem
// or wait for the primary to arrive. The completeness check runs
// after a settle delay so parts trickling in over several requests
// still land in one bundle under one systematic name.
func (s *assetService) RegisterUpload(ctx context.Context, ownerID uuid.UUID, folderID *uuid.UUID, files []UploadedFile) ([]*types.SpatialAsset, error) {
	if ownerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner required", ErrInvalid)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files", ErrInvalid)
	}

	folderPath := ""
	if folderID != nil && *folderID != uuid.Nil {
		var err error
		folderPath, err = naming.FolderPath(ctx, *folderID, func(fctx context.Context, id uuid.UUID) (string, *uuid.UUID, error) {
			f, ferr := s.folders.GetByID(fctx, nil, id)
			if ferr != nil {
				return "", nil, ferr
			}
			if f == nil {
				return "", nil, fmt.Errorf("%w: folder %s", ErrNotFound, id)
			}
			if f.OwnerID != ownerID {
				return "", nil, fmt.Errorf("%w: folder %s", ErrForbidden, id)
			}
			return f.Name, f.ParentID, nil
		})
		if err != nil {
			return nil, err
		}
	}

	byStem := map[string][]UploadedFile{}
	var stems []string
	for _, f := range files {
		stem := strings.TrimSpace(f.Stem)
		ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f.Extension), "."))
		if stem == "" || ext == "" {
			return nil, fmt.Errorf("%w: file needs stem and extension", ErrInvalid)
		}
		if _, seen := byStem[stem]; !seen {
			stems = append(stems, stem)
		}
		f.Stem = stem
		f.Extension = ext
		byStem[stem] = append(byStem[stem], f)
	}

	var created []*types.SpatialAsset
	err := runInTx(ctx, s.db, func(tx *gorm.DB) error {
		for _, stem := range stems {
			group := byStem[stem]

			partRows := make([]*types.AssetPart, 0, len(group))
			for _, f := range group {
				partRows = append(partRows, &types.AssetPart{
					OwnerID:    ownerID,
					Stem:       f.Stem,
					FolderPath: folderPath,
					Extension:  f.Extension,
					Location:   f.Location,
					SizeBytes:  f.SizeBytes,
				})
			}
			if _, err := s.parts.Create(ctx, tx, partRows); err != nil {
				return err
			}

			primaryExt := ""
			for _, f := range group {
				if bundle.PrimaryExtension(f.Extension) {
					primaryExt = f.Extension
					break
				}
			}

			existing, err := s.assets.GetByBundle(ctx, tx, ownerID, folderPath, stem)
			if err != nil {
				return err
			}

			switch {
			case existing != nil:
				// Late parts join the existing dataset; a pending one
				// gets another completeness look.
				if existing.Status == types.AssetStatusPending {
					if err := s.queue.EnqueueBundleCheck(ctx, tx, ownerID, existing.ID, s.policy.BundleSettleDelay); err != nil {
						return err
					}
					created = append(created, existing)
				}
			case primaryExt != "":
				assetID := uuid.New()
				asset := &types.SpatialAsset{
					ID:             assetID,
					OwnerID:        ownerID,
					LogicalName:    stem,
					FolderPath:     folderPath,
					Kind:           bundle.KindForExtension(primaryExt),
					Status:         types.AssetStatusPending,
					SystematicName: naming.Generate(s.workspace, ownerID, folderPath, stem, assetID),
				}
				if _, err := s.assets.Create(ctx, tx, []*types.SpatialAsset{asset}); err != nil {
					return err
				}
				if err := s.queue.EnqueueBundleCheck(ctx, tx, ownerID, assetID, s.policy.BundleSettleDelay); err != nil {
					return err
				}
				created = append(created, asset)
			default:
				// Sidecars with no dataset yet. The parts are recorded
				// and wait for the primary file.
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Registered upload", "owner_id", ownerID, "assets", len(created), "folder_path", folderPath)
	return created, nil
}

// Publish forces an immediate completeness check instead of waiting
// for the settle delay.
func (s *assetService) Publish(ctx context.Context, ownerID, assetID uuid.UUID) error {
	asset, err := s.ownedAsset(ctx, ownerID, assetID)
	if err != nil {
		return err
	}
	if asset.Status != types.AssetStatusPending {
		return fmt.Errorf("%w: asset is %s, can only publish from %s",
			ErrConflict, asset.Status, types.AssetStatusPending)
	}
	return s.queue.EnqueueBundleCheck(ctx, nil, ownerID, assetID, 0)
}

func (s *assetService) Status(ctx context.Context, ownerID, assetID uuid.UUID) (*AssetStatusView, error) {
	asset, err := s.ownedAsset(ctx, ownerID, assetID)
	if err != nil {
		return nil, err
	}
	taskRuns, err := s.tasks.ListByAsset(ctx, nil, assetID)
	if err != nil {
		return nil, err
	}
	return &AssetStatusView{Asset: asset, Tasks: taskRuns}, nil
}

// Reset reruns a failed asset from scratch. The UUID survives, so the
// systematic name and therefore the external store stay the same. The
// republish is chained behind the cleanup task rather than enqueued
// here: a straggling cleanup retry must never delete the store a
// concurrent republish just recreated.
func (s *assetService) Reset(ctx context.Context, ownerID, assetID uuid.UUID) error {
	asset, err := s.ownedAsset(ctx, ownerID, assetID)
	if err != nil {
		return err
	}
	if asset.Status != types.AssetStatusError {
		return fmt.Errorf("%w: asset is %s, can only reset from %s",
			ErrConflict, asset.Status, types.AssetStatusError)
	}

	return runInTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.tasks.CancelPendingByAsset(ctx, tx, assetID); err != nil {
			return err
		}
		spec := s.cleanupSpec(asset)
		spec.Republish = true
		if err := s.queue.EnqueueCleanup(ctx, tx, ownerID, &assetID, spec); err != nil {
			return err
		}
		return s.assets.UpdateFields(ctx, tx, assetID, map[string]interface{}{
			"status":              types.AssetStatusPending,
			"external_layer_name": nil,
			"external_store_name": "",
			"external_workspace":  "",
			"spatial_extent":      nil,
			"attempt_log":         nil,
			"retry_count":         0,
		})
	})
}

// Delete removes the asset everywhere: pending tasks are canceled,
// external resources are queued for cleanup, referencing maps lose the
// layer and recompose.
func (s *assetService) Delete(ctx context.Context, ownerID, assetID uuid.UUID) error {
	asset, err := s.ownedAsset(ctx, ownerID, assetID)
	if err != nil {
		return err
	}

	return runInTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.tasks.CancelPendingByAsset(ctx, tx, assetID); err != nil {
			return err
		}

		mapIDs, err := s.mapLayers.ListMapIDsByAssetID(ctx, tx, assetID)
		if err != nil {
			return err
		}
		if err := s.mapLayers.FullDeleteByAssetID(ctx, tx, assetID); err != nil {
			return err
		}
		for _, mapID := range mapIDs {
			if err := s.queue.EnqueueCompose(ctx, tx, ownerID, mapID); err != nil {
				return err
			}
		}

		if asset.Status != types.AssetStatusPending {
			if err := s.queue.EnqueueCleanup(ctx, tx, ownerID, nil, s.cleanupSpec(asset)); err != nil {
				return err
			}
		}

		if err := s.parts.FullDeleteBundle(ctx, tx, ownerID, asset.FolderPath, asset.LogicalName); err != nil {
			return err
		}
		return s.assets.FullDeleteByID(ctx, tx, assetID)
	})
}

func (s *assetService) cleanupSpec(asset *types.SpatialAsset) jobs.CleanupSpec {
	layerName := asset.SystematicName
	if asset.ExternalLayerName != nil && *asset.ExternalLayerName != "" {
		layerName = *asset.ExternalLayerName
	}
	storeName := asset.ExternalStoreName
	if storeName == "" {
		storeName = asset.SystematicName
	}
	return jobs.CleanupSpec{StoreName: storeName, LayerName: layerName, Kind: asset.Kind}
}

func (s *assetService) ownedAsset(ctx context.Context, ownerID, assetID uuid.UUID) (*types.SpatialAsset, error) {
	if ownerID == uuid.Nil || assetID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner and asset required", ErrInvalid)
	}
	asset, err := s.assets.GetByID(ctx, nil, assetID)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, fmt.Errorf("%w: asset %s", ErrNotFound, assetID)
	}
	if asset.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: asset %s", ErrForbidden, assetID)
	}
	return asset, nil
}

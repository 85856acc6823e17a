package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/geoatlas-backend/internal/jobs"
	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

// ---------- in-memory fakes ----------

type fakeAssetRepo struct {
	assets map[uuid.UUID]*types.SpatialAsset
}

func newFakeAssetRepo() *fakeAssetRepo {
	return &fakeAssetRepo{assets: map[uuid.UUID]*types.SpatialAsset{}}
}

func (f *fakeAssetRepo) Create(ctx context.Context, tx *gorm.DB, assets []*types.SpatialAsset) ([]*types.SpatialAsset, error) {
	for _, a := range assets {
		f.assets[a.ID] = a
	}
	return assets, nil
}

func (f *fakeAssetRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.SpatialAsset, error) {
	return f.assets[id], nil
}

func (f *fakeAssetRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.SpatialAsset, error) {
	var out []*types.SpatialAsset
	for _, id := range ids {
		if a, ok := f.assets[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAssetRepo) GetByBundle(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, folderPath, stem string) (*types.SpatialAsset, error) {
	for _, a := range f.assets {
		if a.OwnerID == ownerID && a.FolderPath == folderPath && a.LogicalName == stem {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeAssetRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	a, ok := f.assets[id]
	if !ok {
		return nil
	}
	if v, ok := updates["status"].(string); ok {
		a.Status = v
	}
	if v, ok := updates["external_store_name"].(string); ok {
		a.ExternalStoreName = v
	}
	if raw, ok := updates["external_layer_name"]; ok {
		if s, isStr := raw.(string); isStr {
			a.ExternalLayerName = &s
		} else {
			a.ExternalLayerName = nil
		}
	}
	return nil
}

func (f *fakeAssetRepo) UpdateFieldsWhereStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, expected []string, updates map[string]interface{}) (bool, error) {
	a, ok := f.assets[id]
	if !ok {
		return false, nil
	}
	for _, s := range expected {
		if a.Status == s {
			return true, f.UpdateFields(ctx, tx, id, updates)
		}
	}
	return false, nil
}

func (f *fakeAssetRepo) AppendAttempt(ctx context.Context, tx *gorm.DB, id uuid.UUID, entry types.AttemptEntry) error {
	return nil
}

func (f *fakeAssetRepo) FullDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	delete(f.assets, id)
	return nil
}

type fakePartRepo struct {
	parts []*types.AssetPart
}

func (f *fakePartRepo) Create(ctx context.Context, tx *gorm.DB, parts []*types.AssetPart) ([]*types.AssetPart, error) {
	f.parts = append(f.parts, parts...)
	return parts, nil
}

func (f *fakePartRepo) ListBundle(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, folderPath, stem string) ([]*types.AssetPart, error) {
	var out []*types.AssetPart
	for _, p := range f.parts {
		if p.OwnerID == ownerID && p.FolderPath == folderPath && p.Stem == stem {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePartRepo) FullDeleteBundle(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, folderPath, stem string) error {
	var kept []*types.AssetPart
	for _, p := range f.parts {
		if !(p.OwnerID == ownerID && p.FolderPath == folderPath && p.Stem == stem) {
			kept = append(kept, p)
		}
	}
	f.parts = kept
	return nil
}

type fakeTaskRepo struct {
	created  []*types.TaskRun
	canceled []uuid.UUID
}

func (f *fakeTaskRepo) Create(ctx context.Context, tx *gorm.DB, tasks []*types.TaskRun) ([]*types.TaskRun, error) {
	for _, task := range tasks {
		if task.ID == uuid.Nil {
			task.ID = uuid.New()
		}
		f.created = append(f.created, task)
	}
	return tasks, nil
}

func (f *fakeTaskRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TaskRun, error) {
	return nil, nil
}

func (f *fakeTaskRepo) GetLatestByAsset(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, taskType string) (*types.TaskRun, error) {
	return nil, nil
}

func (f *fakeTaskRepo) ListByAsset(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) ([]*types.TaskRun, error) {
	return nil, nil
}

func (f *fakeTaskRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay, staleRunning time.Duration) (*types.TaskRun, error) {
	return nil, nil
}

func (f *fakeTaskRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (f *fakeTaskRepo) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, blocked []string, updates map[string]interface{}) (bool, error) {
	return true, nil
}

func (f *fakeTaskRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error { return nil }

func (f *fakeTaskRepo) CancelPendingByAsset(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) error {
	f.canceled = append(f.canceled, assetID)
	return nil
}

func (f *fakeTaskRepo) byType(taskType string) []*types.TaskRun {
	var out []*types.TaskRun
	for _, task := range f.created {
		if task.TaskType == taskType {
			out = append(out, task)
		}
	}
	return out
}

// ---------- fixtures ----------

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

type assetEnv struct {
	assets  *fakeAssetRepo
	parts   *fakePartRepo
	tasks   *fakeTaskRepo
	service AssetService
}

func newAssetEnv(t *testing.T) *assetEnv {
	t.Helper()
	log := testLog(t)
	e := &assetEnv{
		assets: newFakeAssetRepo(),
		parts:  &fakePartRepo{},
		tasks:  &fakeTaskRepo{},
	}
	queue := jobs.NewQueue(e.tasks, log)
	policy := jobs.Policy{MaxAttempts: 5, BundleSettleDelay: 10 * time.Second}
	e.service = NewAssetService(nil, log, e.assets, e.parts, nil, e.tasks, nil, queue, "ws", policy)
	return e
}

// ---------- tests ----------

func TestRegisterUploadSidecarsAloneCreateNoAsset(t *testing.T) {
	e := newAssetEnv(t)
	owner := uuid.New()

	created, err := e.service.RegisterUpload(context.Background(), owner, nil, []UploadedFile{
		{Stem: "parcels", Extension: "shx", Location: "/up/parcels.shx"},
		{Stem: "parcels", Extension: "dbf", Location: "/up/parcels.dbf"},
	})
	if err != nil {
		t.Fatalf("RegisterUpload: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("sidecars alone must not create a dataset, got %d", len(created))
	}
	if len(e.assets.assets) != 0 {
		t.Fatalf("expected no asset rows, got %d", len(e.assets.assets))
	}
	if len(e.parts.parts) != 2 {
		t.Fatalf("parts must still be recorded, got %d", len(e.parts.parts))
	}
	if n := len(e.tasks.byType(types.TaskTypeBundleCheck)); n != 0 {
		t.Fatalf("no dataset means no bundle check, got %d", n)
	}
}

func TestRegisterUploadPrimaryCreatesAsset(t *testing.T) {
	e := newAssetEnv(t)
	owner := uuid.New()

	created, err := e.service.RegisterUpload(context.Background(), owner, nil, []UploadedFile{
		{Stem: "parcels", Extension: "shp", Location: "/up/parcels.shp"},
	})
	if err != nil {
		t.Fatalf("RegisterUpload: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected one asset, got %d", len(created))
	}
	a := created[0]
	if a.Kind != types.AssetKindVector || a.Status != types.AssetStatusPending {
		t.Fatalf("unexpected asset %+v", a)
	}
	if a.SystematicName == "" {
		t.Fatalf("systematic name must be assigned at creation")
	}
	if n := len(e.tasks.byType(types.TaskTypeBundleCheck)); n != 1 {
		t.Fatalf("expected one bundle check, got %d", n)
	}
}

func TestRegisterUploadRasterKind(t *testing.T) {
	e := newAssetEnv(t)

	created, err := e.service.RegisterUpload(context.Background(), uuid.New(), nil, []UploadedFile{
		{Stem: "elevation", Extension: "tif", Location: "/up/elevation.tif"},
	})
	if err != nil {
		t.Fatalf("RegisterUpload: %v", err)
	}
	if len(created) != 1 || created[0].Kind != types.AssetKindRaster {
		t.Fatalf("expected one raster asset, got %+v", created)
	}
}

func TestRegisterUploadLateSidecarsJoinPendingAsset(t *testing.T) {
	e := newAssetEnv(t)
	owner := uuid.New()

	first, err := e.service.RegisterUpload(context.Background(), owner, nil, []UploadedFile{
		{Stem: "parcels", Extension: "shp", Location: "/up/parcels.shp"},
	})
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}

	second, err := e.service.RegisterUpload(context.Background(), owner, nil, []UploadedFile{
		{Stem: "parcels", Extension: "shx", Location: "/up/parcels.shx"},
		{Stem: "parcels", Extension: "dbf", Location: "/up/parcels.dbf"},
	})
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}

	if len(e.assets.assets) != 1 {
		t.Fatalf("trickled sidecars must not spawn a second asset, got %d", len(e.assets.assets))
	}
	if len(second) != 1 || second[0].ID != first[0].ID {
		t.Fatalf("second request must return the existing asset")
	}
	if second[0].SystematicName != first[0].SystematicName {
		t.Fatalf("systematic name must not change across requests")
	}
	// The late arrival re-arms the completeness check.
	if n := len(e.tasks.byType(types.TaskTypeBundleCheck)); n != 2 {
		t.Fatalf("expected two bundle checks, got %d", n)
	}
}

func TestRegisterUploadSecondPrimaryDoesNotDuplicate(t *testing.T) {
	e := newAssetEnv(t)
	owner := uuid.New()

	if _, err := e.service.RegisterUpload(context.Background(), owner, nil, []UploadedFile{
		{Stem: "parcels", Extension: "shp", Location: "/up/parcels.shp"},
	}); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if _, err := e.service.RegisterUpload(context.Background(), owner, nil, []UploadedFile{
		{Stem: "parcels", Extension: "shp", Location: "/up/parcels2.shp"},
	}); err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if len(e.assets.assets) != 1 {
		t.Fatalf("re-uploading the primary must reuse the asset, got %d", len(e.assets.assets))
	}
}

func TestResetChainsRepublishThroughCleanup(t *testing.T) {
	e := newAssetEnv(t)
	owner := uuid.New()
	layerName := "ws_x_y_parcels_deadbeef1"
	asset := &types.SpatialAsset{
		ID:                uuid.New(),
		OwnerID:           owner,
		LogicalName:       "parcels",
		Kind:              types.AssetKindVector,
		Status:            types.AssetStatusError,
		SystematicName:    "ws_x_y_parcels_deadbeef",
		ExternalStoreName: "ws_x_y_parcels_deadbeef",
		ExternalLayerName: &layerName,
	}
	e.assets.assets[asset.ID] = asset

	if err := e.service.Reset(context.Background(), owner, asset.ID); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if asset.Status != types.AssetStatusPending {
		t.Fatalf("reset must flip the asset to pending, got %s", asset.Status)
	}
	if asset.ExternalLayerName != nil {
		t.Fatalf("reset must clear the reconciled layer name")
	}
	if len(e.tasks.canceled) != 1 {
		t.Fatalf("reset must cancel pending tasks")
	}

	// The republish rides on the cleanup task, never next to it.
	if n := len(e.tasks.byType(types.TaskTypeBundleCheck)); n != 0 {
		t.Fatalf("reset must not enqueue a bundle check directly, got %d", n)
	}
	cleanups := e.tasks.byType(types.TaskTypeCleanup)
	if len(cleanups) != 1 {
		t.Fatalf("expected one cleanup, got %d", len(cleanups))
	}
	var spec jobs.CleanupSpec
	if err := json.Unmarshal(cleanups[0].Payload, &spec); err != nil {
		t.Fatalf("cleanup payload: %v", err)
	}
	if !spec.Republish {
		t.Fatalf("reset cleanup must carry the republish flag")
	}
	if spec.LayerName != layerName || spec.StoreName != asset.SystematicName {
		t.Fatalf("cleanup must target the failed run's names, got %+v", spec)
	}
}

func TestResetRejectsNonErrorStatus(t *testing.T) {
	e := newAssetEnv(t)
	owner := uuid.New()
	asset := &types.SpatialAsset{ID: uuid.New(), OwnerID: owner, Status: types.AssetStatusPublished}
	e.assets.assets[asset.ID] = asset

	if err := e.service.Reset(context.Background(), owner, asset.ID); err == nil {
		t.Fatalf("reset of a published asset must be rejected")
	}
}

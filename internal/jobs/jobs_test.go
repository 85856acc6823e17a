package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/geoatlas-backend/internal/geoserver"
	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/publish"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

// ---------- in-memory fakes ----------

type fakeAssetRepo struct {
	assets   map[uuid.UUID]*types.SpatialAsset
	attempts []types.AttemptEntry
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
	if a, ok := f.assets[id]; ok {
		applyAssetUpdates(a, updates)
	}
	return nil
}

func (f *fakeAssetRepo) UpdateFieldsWhereStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, expected []string, updates map[string]interface{}) (bool, error) {
	a, ok := f.assets[id]
	if !ok {
		return false, nil
	}
	match := false
	for _, s := range expected {
		if a.Status == s {
			match = true
		}
	}
	if !match {
		return false, nil
	}
	applyAssetUpdates(a, updates)
	return true, nil
}

func (f *fakeAssetRepo) AppendAttempt(ctx context.Context, tx *gorm.DB, id uuid.UUID, entry types.AttemptEntry) error {
	f.attempts = append(f.attempts, entry)
	return nil
}

func (f *fakeAssetRepo) FullDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	delete(f.assets, id)
	return nil
}

func applyAssetUpdates(a *types.SpatialAsset, updates map[string]interface{}) {
	if v, ok := updates["status"].(string); ok {
		a.Status = v
	}
	if v, ok := updates["kind"].(string); ok {
		a.Kind = v
	}
}

type fakePartRepo struct {
	parts []*types.AssetPart
}

func (f *fakePartRepo) Create(ctx context.Context, tx *gorm.DB, parts []*types.AssetPart) ([]*types.AssetPart, error) {
	f.parts = append(f.parts, parts...)
	return parts, nil
}

func (f *fakePartRepo) ListBundle(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, folderPath, stem string) ([]*types.AssetPart, error) {
	return f.parts, nil
}

func (f *fakePartRepo) FullDeleteBundle(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, folderPath, stem string) error {
	f.parts = nil
	return nil
}

type fakeTaskRepo struct {
	created []*types.TaskRun
	tasks   map[uuid.UUID]*types.TaskRun
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: map[uuid.UUID]*types.TaskRun{}}
}

func (f *fakeTaskRepo) Create(ctx context.Context, tx *gorm.DB, tasks []*types.TaskRun) ([]*types.TaskRun, error) {
	for _, task := range tasks {
		if task.ID == uuid.Nil {
			task.ID = uuid.New()
		}
		f.tasks[task.ID] = task
		f.created = append(f.created, task)
	}
	return tasks, nil
}

func (f *fakeTaskRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.TaskRun, error) {
	return f.tasks[id], nil
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
	_, err := f.UpdateFieldsUnlessStatus(ctx, tx, id, nil, updates)
	return err
}

func (f *fakeTaskRepo) UpdateFieldsUnlessStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, blocked []string, updates map[string]interface{}) (bool, error) {
	task, ok := f.tasks[id]
	if !ok {
		return false, nil
	}
	for _, s := range blocked {
		if task.Status == s {
			return false, nil
		}
	}
	if v, ok := updates["status"].(string); ok {
		task.Status = v
	}
	if v, ok := updates["error"].(string); ok {
		task.Error = v
	}
	return true, nil
}

func (f *fakeTaskRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error { return nil }

func (f *fakeTaskRepo) CancelPendingByAsset(ctx context.Context, tx *gorm.DB, assetID uuid.UUID) error {
	return nil
}

func (f *fakeTaskRepo) countByType(taskType string) int {
	n := 0
	for _, task := range f.created {
		if task.TaskType == taskType {
			n++
		}
	}
	return n
}

// ---------- fixtures ----------

type env struct {
	assets *fakeAssetRepo
	parts  *fakePartRepo
	tasks  *fakeTaskRepo
	queue  *Queue
	log    *logger.Logger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	tasks := newFakeTaskRepo()
	return &env{
		assets: newFakeAssetRepo(),
		parts:  &fakePartRepo{},
		tasks:  tasks,
		queue:  NewQueue(tasks, log),
		log:    log,
	}
}

func (e *env) claimedTask(taskType string, assetID uuid.UUID, attempts int) *types.TaskRun {
	task := &types.TaskRun{
		ID:       uuid.New(),
		OwnerID:  uuid.New(),
		TaskType: taskType,
		AssetID:  &assetID,
		Status:   types.TaskStatusRunning,
		Attempts: attempts,
	}
	e.tasks.tasks[task.ID] = task
	return task
}

func (e *env) context(t *testing.T, task *types.TaskRun, maxAttempts int) *Context {
	t.Helper()
	return NewContext(context.Background(), nil, task, e.tasks, e.assets, e.queue, e.log, maxAttempts)
}

// ---------- tests ----------

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	h := NewComposeHandler(nil)
	if err := r.Register(h); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(h); err == nil {
		t.Fatalf("duplicate register must fail")
	}
	if _, ok := r.Get(types.TaskTypeCompose); !ok {
		t.Fatalf("registered handler not found")
	}
}

func TestBundleCheckNoOpWhenAssetMovedOn(t *testing.T) {
	e := newEnv(t)
	asset := &types.SpatialAsset{ID: uuid.New(), Status: types.AssetStatusPublished}
	e.assets.assets[asset.ID] = asset

	task := e.claimedTask(types.TaskTypeBundleCheck, asset.ID, 1)
	h := NewBundleCheckHandler(e.parts)
	if err := h.Run(e.context(t, task, 5)); err != nil {
		t.Fatalf("no-op run must not error: %v", err)
	}
	if task.Status != types.TaskStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", task.Status)
	}
	if asset.Status != types.AssetStatusPublished {
		t.Fatalf("no-op must not change asset status, got %s", asset.Status)
	}
	if n := e.tasks.countByType(types.TaskTypePublish); n != 0 {
		t.Fatalf("no-op must not enqueue publish, got %d", n)
	}
}

func TestBundleCheckIncompleteRetries(t *testing.T) {
	e := newEnv(t)
	asset := &types.SpatialAsset{ID: uuid.New(), Status: types.AssetStatusPending}
	e.assets.assets[asset.ID] = asset
	e.parts.parts = []*types.AssetPart{
		{Stem: "x", Extension: "shp"},
		{Stem: "x", Extension: "dbf"},
	}

	task := e.claimedTask(types.TaskTypeBundleCheck, asset.ID, 1)
	tc := e.context(t, task, 5)
	h := NewBundleCheckHandler(e.parts)
	err := h.Run(tc)
	if err == nil {
		t.Fatalf("incomplete bundle must error")
	}
	tc.Fail("bundle_check", err)
	if task.Status != types.TaskStatusFailed {
		t.Fatalf("retryable failure below cap should park as failed, got %s", task.Status)
	}
	if asset.Status != types.AssetStatusPending {
		t.Fatalf("asset must stay pending while retrying, got %s", asset.Status)
	}
}

func TestBundleCheckReadyAdvances(t *testing.T) {
	e := newEnv(t)
	asset := &types.SpatialAsset{ID: uuid.New(), OwnerID: uuid.New(), Status: types.AssetStatusPending}
	e.assets.assets[asset.ID] = asset
	e.parts.parts = []*types.AssetPart{
		{Stem: "x", Extension: "shp"},
		{Stem: "x", Extension: "shx"},
		{Stem: "x", Extension: "dbf"},
	}

	task := e.claimedTask(types.TaskTypeBundleCheck, asset.ID, 1)
	h := NewBundleCheckHandler(e.parts)
	if err := h.Run(e.context(t, task, 5)); err != nil {
		t.Fatalf("ready bundle: %v", err)
	}
	if asset.Status != types.AssetStatusBundling {
		t.Fatalf("expected bundling, got %s", asset.Status)
	}
	if asset.Kind != types.AssetKindVector {
		t.Fatalf("expected vector kind, got %s", asset.Kind)
	}
	if n := e.tasks.countByType(types.TaskTypePublish); n != 1 {
		t.Fatalf("expected one publish task, got %d", n)
	}
	if task.Status != types.TaskStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", task.Status)
	}
}

func TestFailExhaustsAtAttemptCap(t *testing.T) {
	e := newEnv(t)
	asset := &types.SpatialAsset{ID: uuid.New(), Status: types.AssetStatusPending, SystematicName: "sys"}
	e.assets.assets[asset.ID] = asset

	task := e.claimedTask(types.TaskTypeBundleCheck, asset.ID, 5)
	tc := e.context(t, task, 5)
	tc.Fail("bundle_check", &bundleIncompleteError{Missing: []string{"shx"}})

	if task.Status != types.TaskStatusExhausted {
		t.Fatalf("attempt cap must exhaust, got %s", task.Status)
	}
	if asset.Status != types.AssetStatusError {
		t.Fatalf("exhaustion must flip asset to error, got %s", asset.Status)
	}
}

func TestExhaustedPublishQueuesCleanup(t *testing.T) {
	e := newEnv(t)
	asset := &types.SpatialAsset{
		ID:             uuid.New(),
		Status:         types.AssetStatusPublishing,
		Kind:           types.AssetKindVector,
		SystematicName: "sys_name",
	}
	e.assets.assets[asset.ID] = asset

	task := e.claimedTask(types.TaskTypePublish, asset.ID, 5)
	tc := e.context(t, task, 5)
	tc.Fail("publish", &bundleIncompleteError{Missing: []string{"shp"}})

	if task.Status != types.TaskStatusExhausted {
		t.Fatalf("expected exhausted, got %s", task.Status)
	}
	if n := e.tasks.countByType(types.TaskTypeCleanup); n != 1 {
		t.Fatalf("exhausted publish must queue cleanup, got %d", n)
	}
}

func TestFatalErrorSkipsRetry(t *testing.T) {
	e := newEnv(t)
	asset := &types.SpatialAsset{ID: uuid.New(), Status: types.AssetStatusPublishing}
	e.assets.assets[asset.ID] = asset

	task := e.claimedTask(types.TaskTypeBundleCheck, asset.ID, 1)
	tc := e.context(t, task, 5)
	tc.Fail("publish", &fatalErr{})

	if task.Status != types.TaskStatusExhausted {
		t.Fatalf("non-retryable error must exhaust immediately, got %s", task.Status)
	}
}

type fatalErr struct{}

func (e *fatalErr) Error() string   { return "bad input" }
func (e *fatalErr) Retryable() bool { return false }

func TestTransportFailureRetries(t *testing.T) {
	e := newEnv(t)
	asset := &types.SpatialAsset{ID: uuid.New(), Status: types.AssetStatusPublishing}
	e.assets.assets[asset.ID] = asset

	task := e.claimedTask(types.TaskTypePublish, asset.ID, 1)
	tc := e.context(t, task, 5)
	refused := &url.Error{
		Op:  "Put",
		URL: "http://catalog:8080/rest/workspaces",
		Err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
	}
	tc.Fail("publish", refused)

	if task.Status != types.TaskStatusFailed {
		t.Fatalf("connection refused below cap must park as failed, got %s", task.Status)
	}
	if asset.Status != types.AssetStatusPublishing {
		t.Fatalf("asset must keep its status while retrying, got %s", asset.Status)
	}
}

func TestUnclassifiedErrorRetries(t *testing.T) {
	e := newEnv(t)
	asset := &types.SpatialAsset{ID: uuid.New(), Status: types.AssetStatusPending}
	e.assets.assets[asset.ID] = asset

	task := e.claimedTask(types.TaskTypeBundleCheck, asset.ID, 1)
	tc := e.context(t, task, 5)
	tc.Fail("bundle_check", errors.New("pq: connection reset"))

	if task.Status != types.TaskStatusFailed {
		t.Fatalf("unclassified error below cap must park as failed, got %s", task.Status)
	}
	if asset.Status != types.AssetStatusPending {
		t.Fatalf("asset must stay pending, got %s", asset.Status)
	}
}

// nopCatalog satisfies the client interface for handler tests that
// only need deletes to succeed.
type nopCatalog struct{}

func (n *nopCatalog) EnsureWorkspace(ctx context.Context) error { return nil }
func (n *nopCatalog) DatastoreExists(ctx context.Context, name string) (bool, error) {
	return false, nil
}
func (n *nopCatalog) CoverageStoreExists(ctx context.Context, name string) (bool, error) {
	return false, nil
}
func (n *nopCatalog) UploadShapefileZip(ctx context.Context, storeName string, archive []byte) error {
	return nil
}
func (n *nopCatalog) UploadGeoTIFF(ctx context.Context, storeName string, data []byte) error {
	return nil
}
func (n *nopCatalog) ListLayers(ctx context.Context) ([]string, error) { return nil, nil }
func (n *nopCatalog) LayerExtent(ctx context.Context, storeName, layerName string, kind string) (*types.Extent, error) {
	return nil, nil
}
func (n *nopCatalog) DeleteLayer(ctx context.Context, layerName string) error     { return nil }
func (n *nopCatalog) DeleteDatastore(ctx context.Context, storeName string) error { return nil }
func (n *nopCatalog) DeleteCoverageStore(ctx context.Context, storeName string) error {
	return nil
}
func (n *nopCatalog) LayerGroupExists(ctx context.Context, name string) (bool, error) {
	return false, nil
}
func (n *nopCatalog) CreateLayerGroup(ctx context.Context, group geoserver.GroupSpec) error {
	return nil
}
func (n *nopCatalog) UpdateLayerGroup(ctx context.Context, group geoserver.GroupSpec) error {
	return nil
}
func (n *nopCatalog) DeleteLayerGroup(ctx context.Context, name string) error { return nil }
func (n *nopCatalog) Workspace() string                                       { return "ws" }

func TestCleanupRepublishChainsBundleCheck(t *testing.T) {
	e := newEnv(t)
	asset := &types.SpatialAsset{
		ID:             uuid.New(),
		Status:         types.AssetStatusPending,
		Kind:           types.AssetKindVector,
		SystematicName: "sys_name",
	}
	e.assets.assets[asset.ID] = asset

	task := e.claimedTask(types.TaskTypeCleanup, asset.ID, 1)
	payload, err := json.Marshal(CleanupSpec{
		StoreName: "sys_name",
		LayerName: "sys_name",
		Kind:      types.AssetKindVector,
		Republish: true,
	})
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	task.Payload = datatypes.JSON(payload)

	h := NewCleanupHandler(publish.NewCleanup(&nopCatalog{}, e.log))
	if err := h.Run(e.context(t, task, 5)); err != nil {
		t.Fatalf("cleanup run: %v", err)
	}
	if task.Status != types.TaskStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", task.Status)
	}
	if n := e.tasks.countByType(types.TaskTypeBundleCheck); n != 1 {
		t.Fatalf("republish cleanup must chain one bundle check, got %d", n)
	}
}

func TestCleanupWithoutRepublishEndsPipeline(t *testing.T) {
	e := newEnv(t)
	asset := &types.SpatialAsset{ID: uuid.New(), Kind: types.AssetKindVector, SystematicName: "sys_name"}
	e.assets.assets[asset.ID] = asset

	task := e.claimedTask(types.TaskTypeCleanup, asset.ID, 1)
	payload, err := json.Marshal(CleanupSpec{StoreName: "sys_name", LayerName: "sys_name", Kind: types.AssetKindVector})
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	task.Payload = datatypes.JSON(payload)

	h := NewCleanupHandler(publish.NewCleanup(&nopCatalog{}, e.log))
	if err := h.Run(e.context(t, task, 5)); err != nil {
		t.Fatalf("cleanup run: %v", err)
	}
	if n := e.tasks.countByType(types.TaskTypeBundleCheck); n != 0 {
		t.Fatalf("plain cleanup must not enqueue anything, got %d bundle checks", n)
	}
}

func TestCanceledTaskStaysCanceled(t *testing.T) {
	e := newEnv(t)
	asset := &types.SpatialAsset{ID: uuid.New(), Status: types.AssetStatusPending}
	e.assets.assets[asset.ID] = asset

	task := e.claimedTask(types.TaskTypeBundleCheck, asset.ID, 1)
	task.Status = types.TaskStatusCanceled

	tc := e.context(t, task, 5)
	tc.Succeed("bundle_check")
	if task.Status != types.TaskStatusCanceled {
		t.Fatalf("succeed must not overwrite canceled, got %s", task.Status)
	}
	tc.Fail("bundle_check", &bundleIncompleteError{Missing: []string{"shx"}})
	if task.Status != types.TaskStatusCanceled {
		t.Fatalf("fail must not overwrite canceled, got %s", task.Status)
	}
}

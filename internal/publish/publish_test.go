package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/geoatlas-backend/internal/geoserver"
	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

type fakeGS struct {
	layers          []string
	datastores      map[string]bool
	coverageStores  map[string]bool
	uploadedShp     []string
	uploadedTiff    []string
	deletedLayers   []string
	deletedStores   []string
	workspaceCalled bool
}

func newFakeGS() *fakeGS {
	return &fakeGS{
		datastores:     map[string]bool{},
		coverageStores: map[string]bool{},
	}
}

func (f *fakeGS) EnsureWorkspace(ctx context.Context) error {
	f.workspaceCalled = true
	return nil
}
func (f *fakeGS) DatastoreExists(ctx context.Context, name string) (bool, error) {
	return f.datastores[name], nil
}
func (f *fakeGS) CoverageStoreExists(ctx context.Context, name string) (bool, error) {
	return f.coverageStores[name], nil
}
func (f *fakeGS) UploadShapefileZip(ctx context.Context, storeName string, archive []byte) error {
	f.uploadedShp = append(f.uploadedShp, storeName)
	f.datastores[storeName] = true
	return nil
}
func (f *fakeGS) UploadGeoTIFF(ctx context.Context, storeName string, data []byte) error {
	f.uploadedTiff = append(f.uploadedTiff, storeName)
	f.coverageStores[storeName] = true
	return nil
}
func (f *fakeGS) ListLayers(ctx context.Context) ([]string, error) { return f.layers, nil }
func (f *fakeGS) LayerExtent(ctx context.Context, storeName, layerName, kind string) (*types.Extent, error) {
	return &types.Extent{MinX: -1, MinY: -1, MaxX: 1, MaxY: 1, CRS: "EPSG:4326"}, nil
}
func (f *fakeGS) DeleteLayer(ctx context.Context, layerName string) error {
	f.deletedLayers = append(f.deletedLayers, layerName)
	return nil
}
func (f *fakeGS) DeleteDatastore(ctx context.Context, storeName string) error {
	f.deletedStores = append(f.deletedStores, storeName)
	return nil
}
func (f *fakeGS) DeleteCoverageStore(ctx context.Context, storeName string) error {
	f.deletedStores = append(f.deletedStores, storeName)
	return nil
}
func (f *fakeGS) LayerGroupExists(ctx context.Context, name string) (bool, error) { return false, nil }
func (f *fakeGS) CreateLayerGroup(ctx context.Context, group geoserver.GroupSpec) error { return nil }
func (f *fakeGS) UpdateLayerGroup(ctx context.Context, group geoserver.GroupSpec) error { return nil }
func (f *fakeGS) DeleteLayerGroup(ctx context.Context, name string) error               { return nil }
func (f *fakeGS) Workspace() string                                                     { return "ws" }

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func vectorAsset(t *testing.T, dir string) (*types.SpatialAsset, []*types.AssetPart) {
	t.Helper()
	var parts []*types.AssetPart
	for _, ext := range []string{"shp", "shx", "dbf"} {
		loc := filepath.Join(dir, "roads."+ext)
		if err := os.WriteFile(loc, []byte(ext), 0o644); err != nil {
			t.Fatalf("fixture: %v", err)
		}
		parts = append(parts, &types.AssetPart{Stem: "roads", Extension: ext, Location: loc})
	}
	return &types.SpatialAsset{
		ID:             uuid.New(),
		Kind:           types.AssetKindVector,
		SystematicName: "ws_owner_folder_roads_deadbeef",
	}, parts
}

func TestPublishUploadsOnce(t *testing.T) {
	gs := newFakeGS()
	p := NewPublisher(gs, testLog(t))
	asset, parts := vectorAsset(t, t.TempDir())

	if err := p.Publish(context.Background(), asset, parts); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if len(gs.uploadedShp) != 1 {
		t.Fatalf("expected one upload, got %d", len(gs.uploadedShp))
	}
	if !gs.workspaceCalled {
		t.Fatalf("workspace must be ensured before upload")
	}

	// Re-run lands on the existing store and skips the upload.
	if err := p.Publish(context.Background(), asset, parts); err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if len(gs.uploadedShp) != 1 {
		t.Fatalf("re-publish must skip upload, got %d uploads", len(gs.uploadedShp))
	}
}

func TestResolvePrefersHighestCounter(t *testing.T) {
	gs := newFakeGS()
	gs.layers = []string{"base", "base1", "base2", "base5", "unrelated"}
	r := NewReconciler(gs, testLog(t))

	got, err := r.Resolve(context.Background(), "base")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "base5" {
		t.Fatalf("expected base5, got %q", got)
	}
}

func TestResolveExactWhenAlone(t *testing.T) {
	gs := newFakeGS()
	gs.layers = []string{"other", "base"}
	r := NewReconciler(gs, testLog(t))

	got, err := r.Resolve(context.Background(), "base")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "base" {
		t.Fatalf("expected base, got %q", got)
	}
}

func TestResolveFallbackSuffix(t *testing.T) {
	gs := newFakeGS()
	gs.layers = []string{"base_copy"}
	r := NewReconciler(gs, testLog(t))

	got, err := r.Resolve(context.Background(), "base")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "base_copy" {
		t.Fatalf("expected fallback base_copy, got %q", got)
	}
}

func TestResolveUnresolvedRetries(t *testing.T) {
	gs := newFakeGS()
	gs.layers = []string{"something_else"}
	r := NewReconciler(gs, testLog(t))

	_, err := r.Resolve(context.Background(), "base")
	var unresolved *UnresolvedError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedError, got %v", err)
	}
	if !unresolved.Retryable() {
		t.Fatalf("unresolved must be retryable")
	}
}

func TestCleanupUsesActualLayerName(t *testing.T) {
	gs := newFakeGS()
	c := NewCleanup(gs, testLog(t))
	actual := "ws_owner_folder_roads_deadbeef3"
	asset := &types.SpatialAsset{
		ID:                uuid.New(),
		Kind:              types.AssetKindVector,
		SystematicName:    "ws_owner_folder_roads_deadbeef",
		ExternalStoreName: "ws_owner_folder_roads_deadbeef",
		ExternalLayerName: &actual,
	}

	if err := c.Run(context.Background(), asset); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if len(gs.deletedLayers) != 1 || gs.deletedLayers[0] != actual {
		t.Fatalf("expected reconciled layer name deleted, got %v", gs.deletedLayers)
	}
	if len(gs.deletedStores) != 1 || gs.deletedStores[0] != "ws_owner_folder_roads_deadbeef" {
		t.Fatalf("expected store deleted, got %v", gs.deletedStores)
	}
}

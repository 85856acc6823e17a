package geoserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/yungbote/geoatlas-backend/internal/platform/envutil"
	"github.com/yungbote/geoatlas-backend/internal/platform/httpx"
	"github.com/yungbote/geoatlas-backend/internal/platform/logger"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

// Client wraps the catalog's REST API. All mutating calls are
// idempotent from the caller's point of view: uploads replace,
// deletes tolerate absence, group writes are full replacements.
type Client interface {
	EnsureWorkspace(ctx context.Context) error
	DatastoreExists(ctx context.Context, name string) (bool, error)
	CoverageStoreExists(ctx context.Context, name string) (bool, error)
	UploadShapefileZip(ctx context.Context, storeName string, archive []byte) error
	UploadGeoTIFF(ctx context.Context, storeName string, data []byte) error
	ListLayers(ctx context.Context) ([]string, error)
	LayerExtent(ctx context.Context, storeName, layerName string, kind string) (*types.Extent, error)
	DeleteLayer(ctx context.Context, layerName string) error
	DeleteDatastore(ctx context.Context, storeName string) error
	DeleteCoverageStore(ctx context.Context, storeName string) error
	LayerGroupExists(ctx context.Context, name string) (bool, error)
	CreateLayerGroup(ctx context.Context, group GroupSpec) error
	UpdateLayerGroup(ctx context.Context, group GroupSpec) error
	DeleteLayerGroup(ctx context.Context, name string) error
	Workspace() string
}

// GroupLayer is one member of a layer group, in render order.
type GroupLayer struct {
	LayerName string
	StyleName string
}

// GroupSpec is the full desired state of one layer group.
type GroupSpec struct {
	Name   string
	Layers []GroupLayer
	Bounds *types.Extent
}

type Config struct {
	BaseURL    string
	Username   string
	Password   string
	Workspace  string
	Timeout    time.Duration
	MaxRetries int
}

// ConfigFromEnv keeps calls short and single-shot by default: the
// task queue owns retrying, so one catalog call should block a worker
// for at most the request timeout.
func ConfigFromEnv() Config {
	timeoutSec := envutil.Int("GEOSERVER_TIMEOUT_SECONDS", 10)
	maxRetries := envutil.Int("GEOSERVER_MAX_RETRIES", 0)

	return Config{
		BaseURL:    strings.TrimSpace(os.Getenv("GEOSERVER_BASE_URL")),
		Username:   strings.TrimSpace(os.Getenv("GEOSERVER_USERNAME")),
		Password:   strings.TrimSpace(os.Getenv("GEOSERVER_PASSWORD")),
		Workspace:  strings.TrimSpace(envutil.Str("GEOSERVER_WORKSPACE", "geoatlas")),
		Timeout:    time.Duration(timeoutSec) * time.Second,
		MaxRetries: maxRetries,
	}
}

func NewFromEnv(log *logger.Logger) (Client, error) {
	return New(log, ConfigFromEnv())
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing GEOSERVER_BASE_URL")
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("missing GEOSERVER_USERNAME")
	}
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("missing GEOSERVER_WORKSPACE")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &client{
		log:        log.With("client", "GeoServerClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

func (c *client) Workspace() string { return c.cfg.Workspace }

func (c *client) EnsureWorkspace(ctx context.Context) error {
	exists, err := c.exists(ctx, "workspace.get", fmt.Sprintf("/rest/workspaces/%s.json", url.PathEscape(c.cfg.Workspace)))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	body, _ := json.Marshal(map[string]interface{}{
		"workspace": map[string]string{"name": c.cfg.Workspace},
	})
	_, err = c.do(ctx, "workspace.create", http.MethodPost, "/rest/workspaces", "application/json", body)
	if err != nil {
		// Another worker may have created it between the check and the POST.
		var re *RequestError
		if errors.As(err, &re) && re.StatusCode == http.StatusConflict {
			return nil
		}
		return err
	}
	c.log.Info("Created workspace", "workspace", c.cfg.Workspace)
	return nil
}

func (c *client) DatastoreExists(ctx context.Context, name string) (bool, error) {
	return c.exists(ctx, "datastore.get", fmt.Sprintf(
		"/rest/workspaces/%s/datastores/%s.json",
		url.PathEscape(c.cfg.Workspace), url.PathEscape(name),
	))
}

func (c *client) CoverageStoreExists(ctx context.Context, name string) (bool, error) {
	return c.exists(ctx, "coveragestore.get", fmt.Sprintf(
		"/rest/workspaces/%s/coveragestores/%s.json",
		url.PathEscape(c.cfg.Workspace), url.PathEscape(name),
	))
}

func (c *client) UploadShapefileZip(ctx context.Context, storeName string, archive []byte) error {
	if len(archive) == 0 {
		return &ValidationError{Op: "shapefile.upload", Reason: "empty archive"}
	}
	path := fmt.Sprintf(
		"/rest/workspaces/%s/datastores/%s/file.shp",
		url.PathEscape(c.cfg.Workspace), url.PathEscape(storeName),
	)
	_, err := c.do(ctx, "shapefile.upload", http.MethodPut, path, "application/zip", archive)
	return translateUploadError(err, "shapefile.upload")
}

func (c *client) UploadGeoTIFF(ctx context.Context, storeName string, data []byte) error {
	if len(data) == 0 {
		return &ValidationError{Op: "geotiff.upload", Reason: "empty file"}
	}
	path := fmt.Sprintf(
		"/rest/workspaces/%s/coveragestores/%s/file.geotiff?configure=first",
		url.PathEscape(c.cfg.Workspace), url.PathEscape(storeName),
	)
	_, err := c.do(ctx, "geotiff.upload", http.MethodPut, path, "image/tiff", data)
	return translateUploadError(err, "geotiff.upload")
}

// translateUploadError reclassifies catalog 4xx answers on uploads as
// validation failures: the payload is what it is, re-sending it
// changes nothing.
func translateUploadError(err error, op string) error {
	if err == nil {
		return nil
	}
	var re *RequestError
	if errors.As(err, &re) && re.StatusCode >= 400 && re.StatusCode < 500 && !httpx.IsRetryableHTTPStatus(re.StatusCode) {
		return &ValidationError{Op: op, Reason: re.Error()}
	}
	return err
}

func (c *client) ListLayers(ctx context.Context) ([]string, error) {
	raw, err := c.do(ctx, "layers.list", http.MethodGet, fmt.Sprintf(
		"/rest/workspaces/%s/layers.json", url.PathEscape(c.cfg.Workspace),
	), "", nil)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return []string{}, nil
		}
		return nil, err
	}

	// An empty workspace answers {"layers":""} instead of an object.
	var envelope struct {
		Layers json.RawMessage `json:"layers"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("geoserver layers.list decode: %w", err)
	}
	var inner struct {
		Layer []struct {
			Name string `json:"name"`
		} `json:"layer"`
	}
	if len(envelope.Layers) == 0 || string(envelope.Layers) == `""` {
		return []string{}, nil
	}
	if err := json.Unmarshal(envelope.Layers, &inner); err != nil {
		return nil, fmt.Errorf("geoserver layers.list decode: %w", err)
	}
	names := make([]string, 0, len(inner.Layer))
	for _, l := range inner.Layer {
		if l.Name != "" {
			names = append(names, l.Name)
		}
	}
	return names, nil
}

func (c *client) LayerExtent(ctx context.Context, storeName, layerName string, kind string) (*types.Extent, error) {
	var path string
	switch kind {
	case types.AssetKindRaster:
		path = fmt.Sprintf(
			"/rest/workspaces/%s/coveragestores/%s/coverages/%s.json",
			url.PathEscape(c.cfg.Workspace), url.PathEscape(storeName), url.PathEscape(layerName),
		)
	default:
		path = fmt.Sprintf(
			"/rest/workspaces/%s/datastores/%s/featuretypes/%s.json",
			url.PathEscape(c.cfg.Workspace), url.PathEscape(storeName), url.PathEscape(layerName),
		)
	}
	raw, err := c.do(ctx, "extent.get", http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		FeatureType *resourceBody `json:"featureType"`
		Coverage    *resourceBody `json:"coverage"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("geoserver extent.get decode: %w", err)
	}
	body := envelope.FeatureType
	if body == nil {
		body = envelope.Coverage
	}
	if body == nil || body.LatLonBoundingBox == nil {
		return nil, &NotFoundError{Op: "extent.get", Resource: layerName + " bounding box"}
	}
	bb := body.LatLonBoundingBox
	crs := bb.CRS.String()
	if crs == "" {
		crs = "EPSG:4326"
	}
	return &types.Extent{MinX: bb.MinX, MinY: bb.MinY, MaxX: bb.MaxX, MaxY: bb.MaxY, CRS: crs}, nil
}

type resourceBody struct {
	LatLonBoundingBox *boundingBox `json:"latLonBoundingBox"`
}

type boundingBox struct {
	MinX float64   `json:"minx"`
	MaxX float64   `json:"maxx"`
	MinY float64   `json:"miny"`
	MaxY float64   `json:"maxy"`
	CRS  crsString `json:"crs"`
}

// crsString absorbs the two shapes the catalog emits for crs: a plain
// string or {"@class":"projected","$":"EPSG:..."}.
type crsString string

func (c *crsString) UnmarshalJSON(b []byte) error {
	var s string
	if json.Unmarshal(b, &s) == nil {
		*c = crsString(s)
		return nil
	}
	var obj struct {
		Value string `json:"$"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*c = crsString(obj.Value)
	return nil
}

func (c crsString) String() string { return string(c) }

func (c *client) DeleteLayer(ctx context.Context, layerName string) error {
	path := fmt.Sprintf(
		"/rest/layers/%s.json",
		url.PathEscape(c.cfg.Workspace+":"+layerName),
	)
	_, err := c.do(ctx, "layer.delete", http.MethodDelete, path, "", nil)
	return ignoreNotFound(err)
}

func (c *client) DeleteDatastore(ctx context.Context, storeName string) error {
	path := fmt.Sprintf(
		"/rest/workspaces/%s/datastores/%s?recurse=true",
		url.PathEscape(c.cfg.Workspace), url.PathEscape(storeName),
	)
	_, err := c.do(ctx, "datastore.delete", http.MethodDelete, path, "", nil)
	return ignoreNotFound(err)
}

func (c *client) DeleteCoverageStore(ctx context.Context, storeName string) error {
	path := fmt.Sprintf(
		"/rest/workspaces/%s/coveragestores/%s?recurse=true",
		url.PathEscape(c.cfg.Workspace), url.PathEscape(storeName),
	)
	_, err := c.do(ctx, "coveragestore.delete", http.MethodDelete, path, "", nil)
	return ignoreNotFound(err)
}

func (c *client) LayerGroupExists(ctx context.Context, name string) (bool, error) {
	return c.exists(ctx, "layergroup.get", fmt.Sprintf(
		"/rest/workspaces/%s/layergroups/%s.json",
		url.PathEscape(c.cfg.Workspace), url.PathEscape(name),
	))
}

func (c *client) CreateLayerGroup(ctx context.Context, group GroupSpec) error {
	body, err := c.groupPayload(group)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/rest/workspaces/%s/layergroups", url.PathEscape(c.cfg.Workspace))
	_, err = c.do(ctx, "layergroup.create", http.MethodPost, path, "application/json", body)
	return err
}

func (c *client) UpdateLayerGroup(ctx context.Context, group GroupSpec) error {
	body, err := c.groupPayload(group)
	if err != nil {
		return err
	}
	path := fmt.Sprintf(
		"/rest/workspaces/%s/layergroups/%s",
		url.PathEscape(c.cfg.Workspace), url.PathEscape(group.Name),
	)
	_, err = c.do(ctx, "layergroup.update", http.MethodPut, path, "application/json", body)
	return err
}

func (c *client) DeleteLayerGroup(ctx context.Context, name string) error {
	path := fmt.Sprintf(
		"/rest/workspaces/%s/layergroups/%s",
		url.PathEscape(c.cfg.Workspace), url.PathEscape(name),
	)
	_, err := c.do(ctx, "layergroup.delete", http.MethodDelete, path, "", nil)
	return ignoreNotFound(err)
}

func (c *client) groupPayload(group GroupSpec) ([]byte, error) {
	if strings.TrimSpace(group.Name) == "" {
		return nil, &ValidationError{Op: "layergroup.write", Reason: "group name required"}
	}
	if len(group.Layers) == 0 {
		return nil, &ValidationError{Op: "layergroup.write", Reason: "group needs at least one layer"}
	}

	published := make([]map[string]string, 0, len(group.Layers))
	styles := make([]map[string]string, 0, len(group.Layers))
	for _, l := range group.Layers {
		published = append(published, map[string]string{
			"@type": "layer",
			"name":  c.cfg.Workspace + ":" + l.LayerName,
		})
		style := map[string]string{}
		if l.StyleName != "" {
			style["name"] = l.StyleName
		}
		styles = append(styles, style)
	}

	inner := map[string]interface{}{
		"name":      group.Name,
		"mode":      "SINGLE",
		"workspace": map[string]string{"name": c.cfg.Workspace},
		"publishables": map[string]interface{}{
			"published": published,
		},
		"styles": map[string]interface{}{
			"style": styles,
		},
	}
	if group.Bounds != nil {
		crs := group.Bounds.CRS
		if crs == "" {
			crs = "EPSG:4326"
		}
		inner["bounds"] = map[string]interface{}{
			"minx": group.Bounds.MinX,
			"maxx": group.Bounds.MaxX,
			"miny": group.Bounds.MinY,
			"maxy": group.Bounds.MaxY,
			"crs":  crs,
		}
	}
	return json.Marshal(map[string]interface{}{"layerGroup": inner})
}

// ---------- HTTP plumbing ----------

func (c *client) exists(ctx context.Context, op, path string) (bool, error) {
	_, err := c.do(ctx, op, http.MethodGet, path, "", nil)
	if err == nil {
		return true, nil
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, err
}

func (c *client) do(ctx context.Context, op, method, path, contentType string, body []byte) ([]byte, error) {
	backoff := 1 * time.Second

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		raw, resp, err := c.doOnce(ctx, op, method, path, contentType, body)
		if err == nil {
			return raw, nil
		}
		if !httpx.IsRetryableError(err) || attempt >= c.cfg.MaxRetries {
			return nil, err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 15*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("GeoServer request retrying",
			"op", op,
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}
}

func (c *client) doOnce(ctx context.Context, op, method, path, contentType string, body []byte) ([]byte, *http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, resp, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp, readErr
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, resp, &NotFoundError{Op: op, Resource: path}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp, &RequestError{Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, resp, nil
}

func ignoreNotFound(err error) error {
	if err == nil {
		return nil
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nil
	}
	return err
}


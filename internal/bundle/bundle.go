// Package bundle decides when a shapefile upload is complete and
// packs it for publication. A vector bundle is the set of sidecar
// files sharing one exact stem inside one folder; nothing is matched
// by prefix.
package bundle

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mholt/archiver/v3"

	"github.com/yungbote/geoatlas-backend/internal/types"
)

var mandatoryExtensions = []string{"shp", "shx", "dbf"}

var optionalExtensions = map[string]bool{
	"prj": true,
	"cpg": true,
}

var rasterExtensions = map[string]bool{
	"tif":     true,
	"tiff":    true,
	"geotiff": true,
}

// PrimaryExtension reports whether ext is a dataset-defining part:
// the shapefile geometry or a raster image. Sidecars (shx, dbf, prj,
// cpg) never stand for a dataset on their own.
func PrimaryExtension(ext string) bool {
	ext = strings.ToLower(ext)
	return ext == "shp" || rasterExtensions[ext]
}

// KindForExtension maps a primary extension to its asset kind.
func KindForExtension(ext string) string {
	if rasterExtensions[strings.ToLower(ext)] {
		return types.AssetKindRaster
	}
	return types.AssetKindVector
}

// Status reports whether the parts form a publishable bundle.
type Status struct {
	Ready   bool
	Kind    string
	Missing []string
}

// Check inspects one stem's parts. Raster bundles are complete with
// the single image file; vector bundles need shp+shx+dbf present.
func Check(parts []*types.AssetPart) Status {
	present := map[string]bool{}
	for _, p := range parts {
		present[strings.ToLower(p.Extension)] = true
	}

	for ext := range present {
		if rasterExtensions[ext] {
			return Status{Ready: true, Kind: types.AssetKindRaster}
		}
	}

	var missing []string
	for _, ext := range mandatoryExtensions {
		if !present[ext] {
			missing = append(missing, ext)
		}
	}
	sort.Strings(missing)
	if len(missing) > 0 {
		return Status{Ready: false, Kind: types.AssetKindVector, Missing: missing}
	}
	return Status{Ready: true, Kind: types.AssetKindVector}
}

// BuildArchive zips the vector parts with every member renamed to the
// systematic name, so the catalog derives its layer name from ours and
// not from whatever the user called the upload. Unknown extensions are
// left out of the archive.
func BuildArchive(systematicName string, parts []*types.AssetPart) ([]byte, error) {
	status := Check(parts)
	if !status.Ready || status.Kind != types.AssetKindVector {
		return nil, fmt.Errorf("bundle not archivable (ready=%v kind=%s missing=%v)", status.Ready, status.Kind, status.Missing)
	}

	included := make([]*types.AssetPart, 0, len(parts))
	for _, p := range parts {
		ext := strings.ToLower(p.Extension)
		if isMandatory(ext) || optionalExtensions[ext] {
			included = append(included, p)
		}
	}
	sort.Slice(included, func(i, j int) bool {
		return included[i].Extension < included[j].Extension
	})

	var buf bytes.Buffer
	z := archiver.NewZip()
	if err := z.Create(&buf); err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	for _, p := range included {
		if err := addMember(z, p, systematicName); err != nil {
			_ = z.Close()
			return nil, err
		}
	}
	if err := z.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

func addMember(z *archiver.Zip, p *types.AssetPart, systematicName string) error {
	f, err := os.Open(p.Location)
	if err != nil {
		return fmt.Errorf("open bundle part %s: %w", p.Location, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat bundle part %s: %w", p.Location, err)
	}

	return z.Write(archiver.File{
		FileInfo: archiver.FileInfo{
			FileInfo:   info,
			CustomName: systematicName + "." + strings.ToLower(p.Extension),
		},
		ReadCloser: f,
	})
}

// ReadRaster loads the single raster file for a coverage upload.
func ReadRaster(parts []*types.AssetPart) ([]byte, error) {
	for _, p := range parts {
		if rasterExtensions[strings.ToLower(p.Extension)] {
			data, err := os.ReadFile(p.Location)
			if err != nil {
				return nil, fmt.Errorf("read raster %s: %w", p.Location, err)
			}
			return data, nil
		}
	}
	return nil, fmt.Errorf("no raster part present")
}

func isMandatory(ext string) bool {
	for _, m := range mandatoryExtensions {
		if ext == m {
			return true
		}
	}
	return false
}

package naming

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateDeterministic(t *testing.T) {
	owner := uuid.MustParse("6b1f6e4e-8a3d-4a0e-9a5b-111111111111")
	asset := uuid.MustParse("2c9d8c70-1234-4f6a-bb9e-222222222222")

	a := Generate("geoatlas", owner, "projects/hydro", "rivers", asset)
	b := Generate("geoatlas", owner, "projects/hydro", "rivers", asset)
	if a != b {
		t.Fatalf("expected deterministic name, got %q vs %q", a, b)
	}
}

func TestGenerateDiscriminators(t *testing.T) {
	owner := uuid.New()
	asset := uuid.New()

	base := Generate("ws", owner, "a/b", "roads", asset)
	otherFolder := Generate("ws", owner, "a/c", "roads", asset)
	if base == otherFolder {
		t.Fatalf("different folders must yield different names, both %q", base)
	}
	otherAsset := Generate("ws", owner, "a/b", "roads", uuid.New())
	if base == otherAsset {
		t.Fatalf("different assets must yield different names, both %q", base)
	}
}

func TestGenerateAlphabetAndLength(t *testing.T) {
	owner := uuid.New()
	asset := uuid.New()

	name := Generate("ws", owner, "deep/nested/folder", "Fluss-Gebiete (2024) größer als üblich und sehr lang", asset)
	if len(name) > 60 {
		t.Fatalf("name exceeds 60 chars: %q (%d)", name, len(name))
	}
	for _, r := range name {
		valid := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
		if !valid {
			t.Fatalf("invalid character %q in name %q", r, name)
		}
	}
}

func TestGenerateStemTruncated(t *testing.T) {
	owner := uuid.New()
	asset := uuid.New()

	name := Generate("ws", owner, "f", strings.Repeat("x", 80), asset)
	if len(name) > 60 {
		t.Fatalf("name exceeds 60 chars: %d", len(name))
	}
	idTok := strings.ReplaceAll(asset.String(), "-", "")[:8]
	if !strings.HasSuffix(name, "_"+idTok) {
		t.Fatalf("truncation must not eat the id token, got %q", name)
	}
}

func TestGenerateEmptyStem(t *testing.T) {
	name := Generate("ws", uuid.New(), "", "---", uuid.New())
	if !strings.Contains(name, "_layer_") {
		t.Fatalf("empty sanitized stem should fall back to layer, got %q", name)
	}
}

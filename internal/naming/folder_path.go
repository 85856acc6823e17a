package naming

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// FolderLookup resolves one folder to its name and parent. A nil
// parent means the folder sits at the root.
type FolderLookup func(ctx context.Context, id uuid.UUID) (name string, parentID *uuid.UUID, err error)

const maxFolderDepth = 256

// FolderPath walks parent links up from folderID and returns the
// slash-joined path from root, e.g. "projects/hydrology/2025".
// Iterative with a visited set: a corrupted parent cycle returns an
// error instead of hanging.
func FolderPath(ctx context.Context, folderID uuid.UUID, lookup FolderLookup) (string, error) {
	if folderID == uuid.Nil {
		return "", nil
	}

	visited := map[uuid.UUID]bool{}
	var segments []string
	current := folderID

	for depth := 0; depth < maxFolderDepth; depth++ {
		if visited[current] {
			return "", fmt.Errorf("folder hierarchy cycle at %s", current)
		}
		visited[current] = true

		name, parentID, err := lookup(ctx, current)
		if err != nil {
			return "", err
		}
		segments = append(segments, name)
		if parentID == nil || *parentID == uuid.Nil {
			reverse(segments)
			return strings.Join(segments, "/"), nil
		}
		current = *parentID
	}
	return "", fmt.Errorf("folder hierarchy deeper than %d at %s", maxFolderDepth, folderID)
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

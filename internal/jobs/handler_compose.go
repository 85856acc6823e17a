package jobs

import (
	"github.com/google/uuid"

	"github.com/yungbote/geoatlas-backend/internal/compose"
	"github.com/yungbote/geoatlas-backend/internal/types"
)

type ComposeHandler struct {
	composer *compose.Composer
}

func NewComposeHandler(composer *compose.Composer) *ComposeHandler {
	return &ComposeHandler{composer: composer}
}

func (h *ComposeHandler) Type() string { return types.TaskTypeCompose }

func (h *ComposeHandler) Run(tc *Context) error {
	mapID := tc.MapID()
	if mapID == uuid.Nil {
		tc.Succeed("compose")
		return nil
	}
	if err := h.composer.Sync(tc.Ctx, mapID); err != nil {
		return err
	}
	tc.Succeed("compose")
	return nil
}

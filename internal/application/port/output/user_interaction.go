package output

import (
	"context"

	"mcp-bridge/internal/domain/entity"
)

// PanelPort is the operator-facing server panel.
type PanelPort interface {
	ShowServers(ctx context.Context, servers []entity.ServerRecord)
	ToggleServers(ctx context.Context, servers []entity.ServerRecord)
	ShowSettings(ctx context.Context, settings entity.Settings)
	ShowNotice(ctx context.Context, msg string)
	ShowError(ctx context.Context, err error)
}

package input

import (
	"context"

	"mcp-bridge/internal/domain/entity"
)

type SettingsService interface {
	Get(ctx context.Context) (entity.Settings, error)
	Update(ctx context.Context, settings entity.Settings) error
}

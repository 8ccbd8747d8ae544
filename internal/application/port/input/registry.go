package input

import (
	"context"

	"mcp-bridge/internal/domain/entity"
)

type ServerRegistry interface {
	List(ctx context.Context) ([]entity.ServerRecord, error)
	Add(ctx context.Context, name, url string) (*entity.ServerRecord, error)
	Remove(ctx context.Context, id string) error
	// Update merges fields into the record; "id" cannot be changed.
	Update(ctx context.Context, id string, fields map[string]any) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Refresh(ctx context.Context, id string) (*entity.ServerRecord, error)
	RefreshAll(ctx context.Context) error
	Clear(ctx context.Context) error
}

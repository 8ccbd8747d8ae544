package output

import (
	"context"

	"mcp-bridge/internal/domain/entity"
)

// ToolClientPort talks to remote tool servers. Every operation opens its own
// connection, performs one exchange and closes it.
type ToolClientPort interface {
	ListTools(ctx context.Context, serverURL string) ([]entity.ToolDescriptor, error)
	CallTool(ctx context.Context, serverURL, tool string, args map[string]any) (any, error)
}

package userinteraction

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"

	"mcp-bridge/internal/application/port/output"
	"mcp-bridge/internal/domain/entity"
)

var _ output.PanelPort = (*ConsolePanel)(nil)

const descriptionLimit = 100

// ConsolePanel prints the server list and notices to a terminal.
type ConsolePanel struct {
	out io.Writer

	mu      sync.Mutex
	visible bool
}

func NewConsolePanel() *ConsolePanel {
	return NewConsolePanelTo(os.Stdout)
}

func NewConsolePanelTo(w io.Writer) *ConsolePanel {
	return &ConsolePanel{out: w}
}

func (p *ConsolePanel) ShowServers(ctx context.Context, servers []entity.ServerRecord) {
	p.mu.Lock()
	p.visible = true
	p.mu.Unlock()

	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprintf(p.out, "\n━━━ MCP servers (%d) ━━━\n", len(servers))
	if len(servers) == 0 {
		color.New(color.Faint).Fprintln(p.out, "   no servers registered")
		return
	}

	for _, s := range servers {
		p.printServer(s)
	}
}

// ToggleServers shows the list when hidden and hides it when shown.
func (p *ConsolePanel) ToggleServers(ctx context.Context, servers []entity.ServerRecord) {
	p.mu.Lock()
	visible := p.visible
	p.mu.Unlock()

	if visible {
		p.mu.Lock()
		p.visible = false
		p.mu.Unlock()
		color.New(color.Faint).Fprintln(p.out, "\n━━━ MCP servers hidden ━━━")
		return
	}
	p.ShowServers(ctx, servers)
}

func (p *ConsolePanel) ShowSettings(ctx context.Context, settings entity.Settings) {
	state := color.New(color.FgRed).Sprint("off")
	if settings.AutoCallTools {
		state = color.New(color.FgGreen).Sprint("on")
	}
	fmt.Fprintf(p.out, "Auto-call tools: %s\n", state)
}

func (p *ConsolePanel) ShowNotice(ctx context.Context, msg string) {
	color.New(color.FgGreen).Fprintf(p.out, "✓ %s\n", msg)
}

func (p *ConsolePanel) ShowError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	color.New(color.FgRed).Fprint(p.out, "❌ Error: ")
	color.New(color.Faint).Fprintln(p.out, err.Error())
}

func (p *ConsolePanel) printServer(s entity.ServerRecord) {
	status := color.New(color.FgGreen).Sprint("●")
	switch {
	case !s.IsEnabled:
		status = color.New(color.Faint).Sprint("○")
	case !s.IsConnected:
		status = color.New(color.FgRed).Sprint("●")
	}

	bold := color.New(color.Bold)
	fmt.Fprintf(p.out, "%s %s ", status, bold.Sprint(s.Name))
	color.New(color.Faint).Fprintf(p.out, "[%s] %s\n", s.ID, s.URL)

	if s.ConnectionError != "" {
		color.New(color.FgRed).Fprintf(p.out, "   %s\n", truncate(s.ConnectionError, descriptionLimit))
	}
	if !s.IsEnabled {
		return
	}
	for _, t := range s.Tools {
		yellow := color.New(color.FgYellow)
		yellow.Fprintf(p.out, "   🔧 %s", t.Name)
		if t.Description != "" {
			fmt.Fprintf(p.out, " %s", color.New(color.Faint).Sprint(truncate(t.Description, descriptionLimit)))
		}
		fmt.Fprintln(p.out)
	}
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

package di

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"mcp-bridge/internal/infrastructure/userinteraction"
)

var errBadCommand = errors.New("invalid command")

const commandHelp = "commands: servers | settings | auto-call on|off | enable <id> | disable <id> | refresh [id]"

// ServeCommands applies commands read from r to the running process until r
// is exhausted or ctx is done. Changes go through the same services the
// cards listen to, so open cards pick them up immediately.
func (c *Container) ServeCommands(ctx context.Context, r io.Reader) {
	for cmd := range userinteraction.ReadCommands(ctx, r) {
		if err := c.Exec(ctx, cmd); err != nil {
			c.Panel.ShowError(ctx, err)
		}
	}
}

func (c *Container) Exec(ctx context.Context, cmd userinteraction.Command) error {
	switch cmd.Name {
	case "servers":
		servers, err := c.Registry.List(ctx)
		if err != nil {
			return err
		}
		c.Panel.ShowServers(ctx, servers)
	case "settings":
		settings, err := c.Settings.Get(ctx)
		if err != nil {
			return err
		}
		c.Panel.ShowSettings(ctx, settings)
	case "auto-call":
		if len(cmd.Args) != 1 {
			return fmt.Errorf("usage: auto-call on|off: %w", errBadCommand)
		}
		var on bool
		switch strings.ToLower(cmd.Args[0]) {
		case "on", "true":
			on = true
		case "off", "false":
		default:
			return fmt.Errorf("usage: auto-call on|off: %w", errBadCommand)
		}
		settings, err := c.Settings.Get(ctx)
		if err != nil {
			return err
		}
		settings.AutoCallTools = on
		if err := c.Settings.Update(ctx, settings); err != nil {
			return err
		}
		c.Panel.ShowSettings(ctx, settings)
	case "enable", "disable":
		if len(cmd.Args) != 1 {
			return fmt.Errorf("usage: %s <id>: %w", cmd.Name, errBadCommand)
		}
		if err := c.Registry.SetEnabled(ctx, cmd.Args[0], cmd.Name == "enable"); err != nil {
			return err
		}
		c.Panel.ShowNotice(ctx, fmt.Sprintf("Server %s %sd", cmd.Args[0], cmd.Name))
	case "refresh":
		if len(cmd.Args) == 0 {
			return c.Registry.RefreshAll(ctx)
		}
		_, err := c.Registry.Refresh(ctx, cmd.Args[0])
		return err
	case "help":
		c.Panel.ShowNotice(ctx, commandHelp)
	default:
		return fmt.Errorf("%q: %w (%s)", cmd.Name, errBadCommand, commandHelp)
	}
	return nil
}

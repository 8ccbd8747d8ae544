package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"mcp-bridge/internal/di"
	"mcp-bridge/internal/domain/entity"
	"mcp-bridge/internal/infrastructure/env"
	"mcp-bridge/internal/infrastructure/prompts"
)

const usage = `usage: mcpbridge <command> [arguments]

commands:
  servers list                 show registered servers
  servers add <name> <url>     register and probe a server
  servers remove <id>          unregister a server
  servers enable <id>          use a server for tool calls
  servers disable <id>         stop using a server
  servers refresh [id]         reconnect one or every enabled server
  servers clear                remove every server
  settings [--auto-call=BOOL]  show or change settings
  prompt                       print the tool prompt
  run [--url URL]              bridge a chat page in a browser
  harness [--addr ADDR]        serve the local chat page

while run is active, stdin accepts: servers, settings, auto-call on|off,
enable <id>, disable <id>, refresh [id]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envService := env.NewEnvService()
	cfg := di.ConfigFromEnv(envService)

	container, err := di.NewContainer(ctx, cfg, os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialization failed: %v\n", err)
		os.Exit(1)
	}
	defer container.Close()

	a := &app{container: container, env: envService}
	if err := a.dispatch(ctx, os.Args[1], os.Args[2:]); err != nil {
		container.Logger.Error("Command failed", "command", os.Args[1], "error", err)
		container.Panel.ShowError(ctx, err)
		container.Close()
		os.Exit(1)
	}
}

type app struct {
	container *di.Container
	env       *env.EnvService
}

var errUsage = errors.New("invalid arguments, run mcpbridge without arguments for help")

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "servers":
		return a.servers(ctx, args)
	case "settings":
		return a.settings(ctx, args)
	case "prompt":
		return a.prompt(ctx)
	case "run":
		return a.run(ctx, args)
	case "harness":
		return a.harness(ctx, args)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func (a *app) servers(ctx context.Context, args []string) error {
	registry := a.container.Registry
	panel := a.container.Panel

	if len(args) == 0 {
		args = []string{"list"}
	}
	need := func(n int) error {
		if len(args) != n+1 {
			return errUsage
		}
		return nil
	}

	switch args[0] {
	case "list":
	case "add":
		if err := need(2); err != nil {
			return err
		}
		record, err := registry.Add(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		if record.IsConnected {
			panel.ShowNotice(ctx, fmt.Sprintf("Added %s with %d tools", record.Name, len(record.Tools)))
		} else {
			panel.ShowNotice(ctx, fmt.Sprintf("Added %s, not connected: %s", record.Name, record.ConnectionError))
		}
	case "remove":
		if err := need(1); err != nil {
			return err
		}
		if err := registry.Remove(ctx, args[1]); err != nil {
			return err
		}
	case "enable", "disable":
		if err := need(1); err != nil {
			return err
		}
		if err := registry.SetEnabled(ctx, args[1], args[0] == "enable"); err != nil {
			return err
		}
	case "refresh":
		if len(args) == 2 {
			if _, err := registry.Refresh(ctx, args[1]); err != nil {
				panel.ShowError(ctx, err)
			}
		} else if err := registry.RefreshAll(ctx); err != nil {
			panel.ShowError(ctx, err)
		}
	case "clear":
		if err := registry.Clear(ctx); err != nil {
			return err
		}
	default:
		return errUsage
	}

	servers, err := registry.List(ctx)
	if err != nil {
		return err
	}
	panel.ShowServers(ctx, servers)
	return nil
}

func (a *app) settings(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("settings", flag.ContinueOnError)
	autoCall := fs.String("auto-call", "", "run detected tool calls without confirmation (true|false)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := a.container.Settings.Get(ctx)
	if err != nil {
		return err
	}
	if *autoCall != "" {
		on, err := strconv.ParseBool(*autoCall)
		if err != nil {
			return fmt.Errorf("--auto-call: %w", err)
		}
		settings = entity.Settings{AutoCallTools: on}
		if err := a.container.Settings.Update(ctx, settings); err != nil {
			return err
		}
	}
	a.container.Panel.ShowSettings(ctx, settings)
	return nil
}

func (a *app) prompt(ctx context.Context) error {
	servers, err := a.container.Registry.List(ctx)
	if err != nil {
		return err
	}
	text, err := prompts.GeneratePrompt(entity.CollectEnabledTools(servers))
	if err != nil {
		return err
	}
	if text == "" {
		a.container.Panel.ShowNotice(ctx, "No enabled tools")
		return nil
	}
	fmt.Println(text)
	return nil
}

func (a *app) run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	url := fs.String("url", a.env.Get("MCPBRIDGE_CHAT_URL"), "chat page to bridge")
	inject := fs.Bool("inject-prompt", true, "send the tool prompt when the transcript lacks it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *url == "" {
		return fmt.Errorf("--url or MCPBRIDGE_CHAT_URL is required: %w", errUsage)
	}

	session, err := a.container.NewSession(ctx, *url)
	if err != nil {
		return err
	}
	defer session.Close()

	a.container.Panel.ShowNotice(ctx, "Bridging "+*url+" (Ctrl+Shift+M toggles the server list, type help for commands)")
	go a.container.ServeCommands(ctx, os.Stdin)
	return session.Run(ctx, *inject)
}

func (a *app) harness(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("harness", flag.ContinueOnError)
	addr := fs.String("addr", a.env.GetWithDefault("HARNESS_ADDR", ":8090"), "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a.container.Panel.ShowNotice(ctx, "Chat harness on "+*addr)
	return a.container.NewHarness().ListenAndServe(ctx, *addr)
}

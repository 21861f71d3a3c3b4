// Package main is the parabox command: it runs a loopback core, sends
// controller commands to a core, or serves a controller over MCP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const usage = `Usage: parabox [-config file] <command> [args]
       parabox core                  Run a loopback core until interrupted.
       parabox ctl state             Print the core state.
       parabox ctl start|stop|force-stop|refresh
                                     Send a lifecycle or refresh command.
       parabox ctl send <target> <text>
                                     Send a plain text message to a user conversation.
       parabox ctl recall <message-id>
                                     Recall a sent message.
       parabox mcp [stdio|http <addr>]
                                     Serve a controller as MCP tools (default stdio).

Configuration is read from the JSON-with-comments file given by -config or
PARABOX_CONFIG, then from PARABOX_* environment variables:
  PARABOX_ROLE, PARABOX_TRANSPORT (stdio, subprocess, websocket, nats),
  PARABOX_LISTEN, PARABOX_URL, PARABOX_WEBSOCKET_PATH, PARABOX_NATS_URL,
  PARABOX_NATS_PREFIX, PARABOX_CORE_PATH, PARABOX_CORE_ARGS,
  PARABOX_COMMAND_TIMEOUT, PARABOX_REQUEST_TIMEOUT, PARABOX_REDIS_ADDR,
  PARABOX_REDIS_PREFIX, PARABOX_REPLAY_CONCURRENCY, PARABOX_METRICS_ADDR,
  PARABOX_LOG_LEVEL.
`

func main() {
	fs := flag.NewFlagSet("parabox", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := fs.String("config", os.Getenv("PARABOX_CONFIG"), "configuration file")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "parabox: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, args []string) error {
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
	}

	forceRole := ""

	switch cmd {
	case "help", "-h", "--help":
		fmt.Print(usage)

		return nil
	case "core":
		forceRole = "core"
	case "ctl":
		if len(args) < 2 {
			return fmt.Errorf("ctl: require a subcommand\n%s", usage)
		}
	case "mcp":
	case "":
		return fmt.Errorf("missing command\n%s", usage)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}

	e, err := setup(configPath, forceRole)
	if err != nil {
		return err
	}

	defer e.close()

	switch cmd {
	case "core":
		return runCore(ctx, e)
	case "ctl":
		return runCtl(ctx, e, args[1:], os.Stdout)
	default:
		return runMCP(ctx, e, args[1:])
	}
}

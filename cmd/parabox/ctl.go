package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wagiedev/parabox-connector-go"
)

func runCtl(ctx context.Context, e *env, args []string, out io.Writer) error {
	if e.role == parabox.RoleCore {
		return fmt.Errorf("ctl: role must be controller or main_host")
	}

	call, err := ctlCall(args)
	if err != nil {
		return err
	}

	t, err := e.newTransport(parabox.RoleController)
	if err != nil {
		return err
	}

	return parabox.WithController(ctx, func(c *parabox.Controller) error {
		res, err := call(c, ctx)
		if err != nil {
			return err
		}

		if err := parabox.AsError(res); err != nil {
			return err
		}

		if s, ok := res.(parabox.Success); ok {
			if sp, ok := s.Payload.(*parabox.StatePayload); ok {
				_, err := fmt.Fprintf(out, "%s %s\n", sp.State, sp.Message)

				return err
			}
		}

		_, err = fmt.Fprintln(out, "ok")

		return err
	}, e.options(t)...)
}

// ctlFunc has the shape of a Controller method expression.
type ctlFunc func(*parabox.Controller, context.Context) (parabox.Result, error)

func ctlCall(args []string) (ctlFunc, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("ctl: missing subcommand")
	}

	switch args[0] {
	case "state":
		return (*parabox.Controller).GetState, nil
	case "start":
		return (*parabox.Controller).StartCore, nil
	case "stop":
		return (*parabox.Controller).StopCore, nil
	case "force-stop":
		return (*parabox.Controller).ForceStopCore, nil
	case "refresh":
		return (*parabox.Controller).RefreshMessage, nil
	case "recall":
		if len(args) != 2 {
			return nil, fmt.Errorf("ctl recall: require a message id")
		}

		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ctl recall: %w", err)
		}

		return func(c *parabox.Controller, ctx context.Context) (parabox.Result, error) {
			return c.RecallMessage(ctx, id)
		}, nil
	case "send":
		if len(args) < 3 {
			return nil, fmt.Errorf("ctl send: require a target id and text")
		}

		target, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ctl send: %w", err)
		}

		text := strings.Join(args[2:], " ")

		return func(c *parabox.Controller, ctx context.Context) (parabox.Result, error) {
			return c.SendMessage(ctx, parabox.SendMessageDto{
				Contents:  parabox.Contents{&parabox.PlainText{Text: text}},
				Timestamp: time.Now().UnixMilli(),
				PluginConnection: parabox.PluginConnection{
					SendTargetType: parabox.SendTargetUser,
					ID:             target,
				},
			})
		}, nil
	default:
		return nil, fmt.Errorf("ctl: unknown subcommand %q", args[0])
	}
}

// Package parabox implements the Parabox messaging protocol between a main
// host or controller and a core.
//
// Endpoints exchange envelopes over a Transport. Commands flow from a
// controller to the core, requests flow from the core to the main host, and
// both sides may broadcast notifications. Every command and request is
// answered by exactly one Success or Fail, or fails locally with a timeout
// or a disconnect.
//
// # Running a Core
//
// A core is driven by an Extension that reacts to lifecycle commands and
// delivers messages:
//
//	type bridge struct {
//	    parabox.NopExtension
//	    core *parabox.Core
//	}
//
//	func (b *bridge) OnStart(ctx context.Context) {
//	    go b.core.UpdateState(parabox.StateRunning, "connected")
//	}
//
//	ext := &bridge{}
//	core, err := parabox.NewCore(
//	    parabox.WithTransport(parabox.NewStdioTransport(log, os.Stdin, os.Stdout)),
//	    parabox.WithExtension(ext),
//	    parabox.WithLogger(log),
//	)
//	if err != nil {
//	    log.Error("create core", "error", err)
//	    return
//	}
//	ext.core = core
//
// Received chat messages are pushed with Core.ReceiveMessage. Messages the
// main host does not acknowledge are queued and replayed on REFRESH_MESSAGE.
//
// # Controlling a Core
//
//	err := parabox.WithController(ctx, func(c *parabox.Controller) error {
//	    res, err := c.StartCore(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    return parabox.AsError(res)
//	},
//	    parabox.WithTransport(parabox.NewSubprocessTransport(log, parabox.SubprocessConfig{})),
//	)
//
// # Logging
//
// For detailed operation tracking, use WithLogger:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
//	core, err := parabox.NewCore(parabox.WithTransport(t), parabox.WithLogger(logger))
//
// # Error Handling
//
// Protocol failures are returned as Fail results, never as Go errors. Use
// AsError to convert one:
//
//	res, err := c.SendMessage(ctx, dto)
//	if err != nil {
//	    return err
//	}
//	if callErr, ok := errors.AsType[*parabox.CallError](parabox.AsError(res)); ok {
//	    log.Warn("send refused", "code", callErr.Name)
//	}
package parabox

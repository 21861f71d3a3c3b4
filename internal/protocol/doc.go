// Package protocol implements the Parabox dispatch state machine.
//
// A Dispatcher owns one transport and the channel endpoint built on it. It
// reads frames in arrival order and routes each decoded envelope:
//
//   - Acknowledgements complete the outbound call registered under their key.
//   - Notifications run the handler registered for their type code.
//   - Commands and requests run a handler in their own goroutine; the
//     acknowledgement is sent once the handler, or a later Respond call,
//     resolves the inbound slot.
//
// Example usage:
//
//	d := protocol.NewDispatcher(log, envelope.RoleController, transport)
//	d.Start(ctx)
//
//	res, err := d.SendCommand(ctx, envelope.RoleCore, envelope.CommandGetState, nil, 3*time.Second)
package protocol

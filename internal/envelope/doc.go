// Package envelope defines the wire unit exchanged between Parabox endpoints.
//
// An Envelope is one of three kinds:
//
//   - Command: sent by the controller or main host to the core, acknowledged.
//   - Request: sent by the core to the main host, acknowledged.
//   - Notification: fire-and-forget in either direction, carries no key.
//
// Acknowledgements reuse the kind, type code and key of the call they answer
// and set the Ack field. Payloads are decoded into a concrete type chosen by
// the type code, so handlers never see untyped bags for built-in calls.
package envelope

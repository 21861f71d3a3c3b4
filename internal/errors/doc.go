// Package errors defines error types for the Parabox connector.
//
// This package provides structured error types that wrap different failure
// scenarios on either side of the protocol: unreachable peers, malformed
// envelopes, failed calls and endpoint misuse. All error types support
// error unwrapping and can be checked using errors.Is, errors.As, and errors.AsType.
package errors

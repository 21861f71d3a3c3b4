// Package subprocess provides a transport that runs a core as a child process.
//
// The core binary is spawned with the configured arguments and envelopes are
// exchanged as newline-delimited JSON over its stdin and stdout. Stderr is
// streamed to an optional callback and kept for error reporting when the
// process exits unexpectedly.
package subprocess

package rudp

import "errors"

// Sentinel errors for the taxonomy in spec §7. Task loops never
// surface these beyond logging (original_source/include/errors.h's
// RECEIVE_ERROR/TIMEOUT/UNRECOGNIZED_PEER are all "local, task
// continues"); they are returned only at API boundaries (Bind, Listen,
// Connect, Send, Receive).
var (
	// ErrSocketClosed is returned by Send/Receive when called before a
	// successful handshake or after teardown.
	ErrSocketClosed = errors.New("rudp: socket closed")
	// ErrBindFailed is returned by Bind when the OS rejects the bind.
	ErrBindFailed = errors.New("rudp: bind failed")
	// ErrHandshakeFailed is returned by Listen/Connect once the
	// handshake retry budget (MaxTries) is exhausted.
	ErrHandshakeFailed = errors.New("rudp: handshake failed")
	// ErrTimeout is returned by Receive(timeout) when the bound elapses
	// with nothing delivered.
	ErrTimeout = errors.New("rudp: timeout")
	// ErrInvalidParam is returned for invalid caller-supplied arguments.
	ErrInvalidParam = errors.New("rudp: invalid parameter")
	// ErrUnrecognizedPeer is the local, task-continues condition for a
	// datagram whose source address doesn't match the configured peer;
	// it never crosses an API boundary, but the sentinel still exists
	// for logging and tests to match against (spec §7).
	ErrUnrecognizedPeer = errors.New("rudp: unrecognized peer")
)

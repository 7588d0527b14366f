package bridge

import "errors"

var (
	// ErrBridgeUnavailable is returned when the child process cannot be started.
	ErrBridgeUnavailable = errors.New("bridge unavailable")
	// ErrBridgeProtocol marks a line that does not follow the wire format.
	ErrBridgeProtocol = errors.New("bridge protocol error")
	// ErrBridgeClosed is returned once the session has ended or the child hung up.
	ErrBridgeClosed = errors.New("bridge closed")
	// ErrPeerFailed wraps a failure the peer reported in its response.
	ErrPeerFailed = errors.New("peer reported failure")
)

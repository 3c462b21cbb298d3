package reportclient

import "errors"

var (
	// ErrReconnectExhausted means the client gave up on the aggregator and
	// runs on local state and the last good snapshot.
	ErrReconnectExhausted = errors.New("reportclient: reconnect attempts exhausted")

	ErrUnexpectedFrame = errors.New("reportclient: unexpected frame")
)

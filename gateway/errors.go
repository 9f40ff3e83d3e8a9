package gateway

import (
	"fmt"

	"github.com/dgcore/discord/closecode"
)

// DisconnectError is a non-fatal close surfaced on the dispatcher's
// critical channel purely for observability; the shard reconnects on its
// own.
type DisconnectError struct {
	Code   closecode.Type
	Reason string
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("gateway: disconnected (code %d): %s", e.Code, e.Reason)
}

// fatalError wraps a close code the spec marks unrecoverable; surfaced on
// the shard's critical channel and the shard does not reconnect.
type fatalError struct {
	Code   closecode.Type
	Reason string
}

func (e *fatalError) Error() string {
	return fmt.Sprintf("gateway: fatal close (code %d): %s", e.Code, e.Reason)
}

// InvalidTokenError reports close code 4004.
type InvalidTokenError struct{ *fatalError }

// InvalidShardCountError reports close codes 4010 and 4011.
type InvalidShardCountError struct{ *fatalError }

// InvalidApiVersionError reports close code 4012.
type InvalidApiVersionError struct{ *fatalError }

// InvalidIntentsError reports close code 4013.
type InvalidIntentsError struct{ *fatalError }

// DisallowedIntentsError reports close code 4014.
type DisallowedIntentsError struct{ *fatalError }

// UnhandledCloseCodeError reports any other 4xxx close code the state
// machine has no specific handling for, but which closecode.Fatal still
// classifies as unrecoverable.
type UnhandledCloseCodeError struct{ *fatalError }

func classifyFatalClose(code closecode.Type, reason string) error {
	base := &fatalError{Code: code, Reason: reason}
	switch code {
	case closecode.AuthenticationFailed:
		return &InvalidTokenError{base}
	case closecode.InvalidShard, closecode.ShardingRequired:
		return &InvalidShardCountError{base}
	case closecode.InvalidAPIVersion:
		return &InvalidApiVersionError{base}
	case closecode.InvalidIntents:
		return &InvalidIntentsError{base}
	case closecode.DisallowedIntents:
		return &DisallowedIntentsError{base}
	default:
		return &UnhandledCloseCodeError{base}
	}
}

// ReconnectCheckFailedError is raised when a caller-installed reconnect
// predicate refuses a reconnect attempt.
type ReconnectCheckFailedError struct {
	Code closecode.Type
}

func (e *ReconnectCheckFailedError) Error() string {
	return fmt.Sprintf("gateway: reconnect after close code %d refused by reconnect check", e.Code)
}

// MissedHeartbeatAckError is raised when two consecutive heartbeats go
// unacknowledged.
type MissedHeartbeatAckError struct{}

func (e *MissedHeartbeatAckError) Error() string {
	return "gateway: two consecutive heartbeats went unacknowledged"
}

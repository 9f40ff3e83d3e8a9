package closecode

// CanReconnectAfter reports whether a client receiving this close code
// should attempt to reconnect. Everything that is not Fatal qualifies,
// including ordinary socket-level closes the server issues outside the
// documented gateway close codes.
func CanReconnectAfter(code Type) bool {
	return !Fatal(code)
}

// CanResumeAfter reports whether a reconnect after this close code should
// attempt RESUME instead of a fresh IDENTIFY.
func CanResumeAfter(code Type) bool {
	switch code {
	case AuthenticationFailed, InvalidShard, ShardingRequired, InvalidAPIVersion,
		InvalidIntents, DisallowedIntents, InvalidSeq, NormalClosure:
		return false
	default:
		return true
	}
}

// NormalClosure is the standard WebSocket normal-closure code (1000).
// CanResumeAfter reports it as not resumable.
const NormalClosure Type = 1000

// RestartClosure is the close code a client sends when it intends to
// reconnect and resume.
const RestartClosure Type = 1012

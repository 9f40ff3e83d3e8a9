package gateway

import (
	"github.com/dgcore/discord/closecode"
	"github.com/dgcore/discord/event"
	"github.com/dgcore/discord/intent"
	"github.com/dgcore/discord/internal/gwlog"
	"github.com/dgcore/discord/internal/util"
	"github.com/dgcore/discord/timedwindow"
)

// Option configures a GatewaySession at construction.
type Option func(*GatewaySession) error

// WithGuildEvents derives and merges the intents needed to receive the
// given guild-scoped events, and narrows event dispatch to only ever
// deliver events named across every WithGuildEvents/WithDirectMessageEvents
// call plus READY/RESUMED.
func WithGuildEvents(events ...event.Type) Option {
	return func(s *GatewaySession) error {
		s.intents |= intent.GuildEventsToIntents(events)
		s.ensureEventWhitelist().Add(events...)
		return nil
	}
}

// WithDirectMessageEvents derives and merges the intents needed to
// receive the given DM-scoped events, narrowing dispatch the same way
// WithGuildEvents does.
func WithDirectMessageEvents(events ...event.Type) Option {
	return func(s *GatewaySession) error {
		s.intents |= intent.DMEventsToIntents(events)
		s.ensureEventWhitelist().Add(events...)
		return nil
	}
}

func (s *GatewaySession) ensureEventWhitelist() util.Set[event.Type] {
	if s.eventWhitelist == nil {
		s.eventWhitelist = util.Set[event.Type]{}
	}
	return s.eventWhitelist
}

// WithIntents merges explicit intents with whatever WithGuildEvents /
// WithDirectMessageEvents already derived.
func WithIntents(intents intent.Type) Option {
	return func(s *GatewaySession) error {
		s.intents |= intents
		return nil
	}
}

// WithShardID sets this session's shard id (default 0).
func WithShardID(id int) Option {
	return func(s *GatewaySession) error {
		s.shardID = id
		return nil
	}
}

// WithShardCount sets the total shard count this session reports in
// IDENTIFY (default 1).
func WithShardCount(count int) Option {
	return func(s *GatewaySession) error {
		s.shardCount = count
		return nil
	}
}

// WithSessionID seeds a known session id, e.g. when reconstructing a
// session across a reconnect to attempt a RESUME.
func WithSessionID(sessionID string) Option {
	return func(s *GatewaySession) error {
		s.sessionID = sessionID
		return nil
	}
}

// WithSequenceNumber seeds the last known sequence number for a RESUME
// attempt.
func WithSequenceNumber(seq int64) Option {
	return func(s *GatewaySession) error {
		s.sequence.Store(seq)
		return nil
	}
}

// WithResumeGatewayURL seeds the URL a RESUME must dial instead of the
// general gateway URL.
func WithResumeGatewayURL(url string) Option {
	return func(s *GatewaySession) error {
		s.resumeGatewayURL = url
		return nil
	}
}

// WithIdentifyConnectionProperties overrides the default os/browser/device
// triple sent in IDENTIFY.
func WithIdentifyConnectionProperties(props IdentifyConnectionProperties) Option {
	return func(s *GatewaySession) error {
		s.identifyProperties = props
		return nil
	}
}

// WithLargeThreshold sets IDENTIFY's optional large_threshold.
func WithLargeThreshold(n int) Option {
	return func(s *GatewaySession) error {
		s.largeThreshold = n
		return nil
	}
}

// WithCommandRateLimiter overrides the default 120-per-60s outbound
// command limiter (heartbeats bypass it regardless).
func WithCommandRateLimiter(limiter *timedwindow.TimesPerWindow) Option {
	return func(s *GatewaySession) error {
		s.commandLimiter = limiter
		return nil
	}
}

// WithIdentifyRateLimiter installs the shared identify-concurrency slot
// this session must acquire before sending IDENTIFY; the ShardManager
// normally supplies this.
func WithIdentifyRateLimiter(limiter *timedwindow.TimesPerWindow) Option {
	return func(s *GatewaySession) error {
		s.identifyLimiter = limiter
		return nil
	}
}

// WithReconnectCheck installs a predicate consulted before reconnecting
// after a close; returning false surfaces ReconnectCheckFailedError
// instead of reconnecting.
func WithReconnectCheck(check func(closecode.Type) bool) Option {
	return func(s *GatewaySession) error {
		s.reconnectCheck = check
		return nil
	}
}

// WithLogger installs a logger; the default is a no-op.
func WithLogger(l gwlog.Logger) Option {
	return func(s *GatewaySession) error {
		s.log = l
		return nil
	}
}

package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bradfitz/iter"

	"github.com/dgcore/discord/dispatcher"
	"github.com/dgcore/discord/event"
	"github.com/dgcore/discord/internal/gwlog"
	"github.com/dgcore/discord/json"
	"github.com/dgcore/discord/opcode"
	"github.com/dgcore/discord/rest"
	"github.com/dgcore/discord/timedwindow"
)

// gatewayBotResponse is the shape of GET /gateway/bot.
type gatewayBotResponse struct {
	URL               string `json:"url"`
	Shards            int    `json:"shards"`
	SessionStartLimit struct {
		Total          int `json:"total"`
		Remaining      int `json:"remaining"`
		ResetAfter     int `json:"reset_after"`
		MaxConcurrency int `json:"max_concurrency"`
	} `json:"session_start_limit"`
}

// ManagerOption configures a ShardManager at construction.
type ManagerOption func(*ShardManager)

// WithManagerShardCount pins the shard count instead of fetching it from
// /gateway/bot.
func WithManagerShardCount(count int) ManagerOption {
	return func(m *ShardManager) { m.shardCount = count }
}

// WithManagerLogger installs a logger shared by the manager and every
// shard it spawns.
func WithManagerLogger(l gwlog.Logger) ManagerOption {
	return func(m *ShardManager) { m.log = l }
}

// WithShardOptions installs the Options applied to every shard the
// manager spawns (guild/DM events, intents, identify properties, and so
// on); the manager adds shard id/count and the identify limiter itself.
func WithShardOptions(opts ...Option) ManagerOption {
	return func(m *ShardManager) { m.shardOptions = opts }
}

// ShardManager owns a collection of GatewaySessions, the shared identify
// concurrency limiter set keyed by shard_id % max_concurrency, and the
// HTTP engine used to resolve /gateway/bot.
type ShardManager struct {
	token        string
	engine       *rest.HTTPEngine
	shardOptions []Option
	shardCount   int
	log          gwlog.Logger

	maxConcurrency int
	gatewayURL     string

	identifyLimiters map[int]*timedwindow.TimesPerWindow

	mu     sync.Mutex
	shards map[int]*GatewaySession

	RawDispatcher   *dispatcher.Dispatcher[opcode.Type]
	EventDispatcher *dispatcher.Dispatcher[event.Type]
	Dispatcher      *dispatcher.Dispatcher[string]
}

// NewShardManager builds a manager for token, using engine for the
// /gateway/bot lookup.
func NewShardManager(token string, engine *rest.HTTPEngine, opts ...ManagerOption) *ShardManager {
	m := &ShardManager{
		token:           token,
		engine:          engine,
		log:             gwlog.NoOp{},
		shards:          make(map[int]*GatewaySession),
		RawDispatcher:   dispatcher.New[opcode.Type](opcode.Type(255)),
		EventDispatcher: dispatcher.New[event.Type]("error"),
		Dispatcher:      dispatcher.New[string]("error"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect fetches shard count and max_concurrency if needed, builds the
// identify limiter set, spawns every shard, and returns once they have
// all begun connecting — not once they are all READY.
func (m *ShardManager) Connect(ctx context.Context) error {
	resp, err := m.engine.Request(ctx, rest.NewRoute("GET", "/gateway/bot", nil), rest.RequestOptions{
		RateLimitKey: m.token,
	})
	if err != nil {
		return fmt.Errorf("gateway: failed to fetch /gateway/bot: %w", err)
	}

	var bot gatewayBotResponse
	if err := json.Unmarshal(resp.Body, &bot); err != nil {
		return fmt.Errorf("gateway: failed to decode /gateway/bot response: %w", err)
	}

	m.gatewayURL = bot.URL
	if m.shardCount == 0 {
		m.shardCount = bot.Shards
	}
	if m.shardCount == 0 {
		m.shardCount = 1
	}
	m.maxConcurrency = bot.SessionStartLimit.MaxConcurrency
	if m.maxConcurrency == 0 {
		m.maxConcurrency = 1
	}

	m.identifyLimiters = make(map[int]*timedwindow.TimesPerWindow, m.maxConcurrency)
	for bucket := range iter.N(m.maxConcurrency) {
		m.identifyLimiters[bucket] = timedwindow.New(m.maxConcurrency, 5*time.Second)
	}

	for id := range iter.N(m.shardCount) {
		if err := m.spawnShard(ctx, id); err != nil {
			return fmt.Errorf("gateway: failed to spawn shard %d: %w", id, err)
		}
	}

	return nil
}

func (m *ShardManager) spawnShard(ctx context.Context, id int) error {
	bucket := id % m.maxConcurrency
	opts := append(append([]Option(nil), m.shardOptions...),
		WithShardID(id),
		WithShardCount(m.shardCount),
		WithIdentifyRateLimiter(m.identifyLimiters[bucket]),
		WithLogger(m.log),
	)

	session, err := NewGatewaySession(m.token, opts...)
	if err != nil {
		return err
	}

	session.RawDispatcher.ListenGlobal(func(key opcode.Type, payload any) {
		m.RawDispatcher.Dispatch(key, payload)
	})
	session.EventDispatcher.ListenGlobal(func(key event.Type, payload any) {
		m.EventDispatcher.Dispatch(key, payload)
	})
	session.Dispatcher.Listen("critical", func(payload any) {
		m.Dispatcher.Dispatch("critical", payload)
	})

	m.mu.Lock()
	m.shards[id] = session
	m.mu.Unlock()

	return session.Connect(ctx, m.gatewayURL)
}

// Shard returns the session for a given shard id, or nil if unknown.
func (m *ShardManager) Shard(id int) *GatewaySession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shards[id]
}

// Close closes every shard. resumable applies to all of them uniformly.
func (m *ShardManager) Close(resumable bool) {
	m.mu.Lock()
	shards := make([]*GatewaySession, 0, len(m.shards))
	for _, s := range m.shards {
		shards = append(shards, s)
	}
	m.mu.Unlock()

	for _, s := range shards {
		_ = s.Close(resumable)
	}
}

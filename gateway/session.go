// Package gateway implements one shard's WebSocket session state machine
// and the ShardManager that owns a collection of them: connect/identify/
// resume lifecycle, heartbeating with missed-ACK detection, the outbound
// command rate gate, and the zlib-stream/JSON frame pipeline.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/atomic"

	"github.com/dgcore/discord/closecode"
	"github.com/dgcore/discord/command"
	"github.com/dgcore/discord/dispatcher"
	"github.com/dgcore/discord/event"
	"github.com/dgcore/discord/intent"
	"github.com/dgcore/discord/internal/gwlog"
	"github.com/dgcore/discord/internal/util"
	"github.com/dgcore/discord/json"
	"github.com/dgcore/discord/opcode"
	"github.com/dgcore/discord/timedwindow"
)

const (
	gatewayVersion  = "10"
	gatewayEncoding = "json"
	gatewayCompress = "zlib-stream"
)

// NormalClose is the code Close sends when the session id is kept for a
// later RESUME. RestartClose is the code sent when the server asks for a
// reconnect (opcode 7); that close is resumable too.
const (
	NormalClose  = closecode.NormalClosure
	RestartClose = closecode.RestartClosure
)

// GatewaySession drives one shard's connection lifecycle.
type GatewaySession struct {
	token   string
	intents intent.Type

	shardID    int
	shardCount int

	identifyProperties IdentifyConnectionProperties
	largeThreshold     int

	// eventWhitelist narrows EventDispatcher delivery to only these event
	// types (plus READY/RESUMED, always) once WithGuildEvents or
	// WithDirectMessageEvents has named any; nil means no narrowing, the
	// intents bitmask alone decides what the server sends.
	eventWhitelist util.Set[event.Type]

	commandLimiter  *timedwindow.TimesPerWindow
	identifyLimiter *timedwindow.TimesPerWindow
	reconnectCheck  func(closecode.Type) bool
	log             gwlog.Logger

	RawDispatcher   *dispatcher.Dispatcher[opcode.Type]
	EventDispatcher *dispatcher.Dispatcher[event.Type]
	Dispatcher      *dispatcher.Dispatcher[string]

	mu               sync.Mutex
	state            SessionState
	sessionID        string
	resumeGatewayURL string
	gatewayURL       string

	sequence atomic.Int64
	closed   atomic.Bool

	conn      net.Conn
	textWriter io.Writer
	decoder   *zlibStreamDecoder
	binaryBuf bytes.Buffer

	heartbeatInterval time.Duration
	heartbeatAcked    atomic.Bool
	missedAcks        atomic.Int32
	heartbeatCancel   context.CancelFunc

	// pendingClose records a close this session initiated itself (as
	// opposed to one observed on the wire as a close frame), so the read
	// loop's exit can route it through handleClose with the intended code
	// instead of surfacing the resulting "use of closed connection" error
	// as a generic critical failure.
	pendingClose *closeSignal
	connectCtx   context.Context
}

type closeSignal struct {
	code     closecode.Type
	reason   string
	terminal bool
}

// NewGatewaySession constructs a shard session; options derive intents,
// seed resume state, and override rate limiters and logging.
func NewGatewaySession(token string, opts ...Option) (*GatewaySession, error) {
	s := &GatewaySession{
		token:      token,
		shardCount: 1,
		identifyProperties: IdentifyConnectionProperties{
			OS:      "linux",
			Browser: "dgcore/discord",
			Device:  "dgcore/discord",
		},
		commandLimiter:  timedwindow.New(120, 60*time.Second),
		reconnectCheck:  func(closecode.Type) bool { return true },
		log:             gwlog.NoOp{},
		RawDispatcher:   dispatcher.New[opcode.Type](opcode.Type(255)),
		EventDispatcher: dispatcher.New[event.Type]("error"),
		Dispatcher:      dispatcher.New[string]("error"),
		state:           Disconnected,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.identifyLimiter == nil {
		// a standalone session with no ShardManager still needs a slot
		// of its own; one IDENTIFY at a time, 5s cooldown, matches
		// Discord's baseline max_concurrency of 1.
		s.identifyLimiter = timedwindow.New(1, 5*time.Second)
	}

	s.Dispatcher.Listen("state_change", func(payload any) {
		if payload.(SessionState) == Reconnecting {
			go s.reconnect()
		}
	})

	return s, nil
}

// reconnectBackoff is the pause before a RECONNECTING shard re-dials, a
// cheap guard against hammering the gateway during an outage.
const reconnectBackoff = time.Second

// reconnect re-dials after a non-fatal close, the autonomous
// RECONNECTING -> CONNECTING step handleClose's transition to Reconnecting
// leaves for the session to drive itself.
func (s *GatewaySession) reconnect() {
	time.Sleep(reconnectBackoff)

	s.mu.Lock()
	ctx := s.connectCtx
	gatewayURL := s.gatewayURL
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.Connect(ctx, gatewayURL); err != nil {
		s.Dispatcher.Dispatch("critical", fmt.Errorf("gateway: reconnect failed: %w", err))
		s.setState(Disconnected)
	}
}

func (s *GatewaySession) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.Dispatcher.Dispatch("state_change", state)
}

// State reports the session's current lifecycle state.
func (s *GatewaySession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID reports the last session id received via READY, if any.
func (s *GatewaySession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Sequence reports the highest sequence number observed so far.
func (s *GatewaySession) Sequence() int64 {
	return s.sequence.Load()
}

// Connect dials gatewayURL (or the resume URL, when a session id and
// resume URL are known) and starts the read loop in the background; the
// read loop handles HELLO and sends IDENTIFY or RESUME. Connect returns
// once the socket is open, before HELLO has arrived — callers that need
// CONNECTED should wait_for it on Dispatcher.
func (s *GatewaySession) Connect(ctx context.Context, gatewayURL string) error {
	if err := ValidateDialURL(gatewayURL); err != nil {
		return err
	}

	s.mu.Lock()
	s.gatewayURL = gatewayURL
	s.connectCtx = ctx
	target := gatewayURL
	if s.sessionID != "" && s.resumeGatewayURL != "" {
		// resuming: dial the URL READY handed back instead of the
		// original bootstrap URL.
		target = s.resumeGatewayURL
	}
	s.mu.Unlock()

	s.setState(Connecting)

	conn, err := s.dial(ctx, dialURL(target))
	if err != nil {
		s.setState(Disconnected)
		return err
	}

	s.conn = conn
	s.textWriter = s.writer(ws.OpText)
	s.decoder = &zlibStreamDecoder{}
	s.closed.Store(false)

	s.setState(HelloWait)

	go s.runEventLoop(ctx)
	return nil
}

func dialURL(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("v", gatewayVersion)
	q.Set("encoding", gatewayEncoding)
	q.Set("compress", gatewayCompress)
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *GatewaySession) dial(ctx context.Context, dialURL string) (net.Conn, error) {
	conn, _, _, err := ws.Dial(ctx, dialURL)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type ioWriteFlusher struct {
	writer *wsutil.Writer
}

func (w *ioWriteFlusher) Write(p []byte) (int, error) {
	n, err := w.writer.Write(p)
	if err != nil {
		return n, err
	}
	return n, w.writer.Flush()
}

func (s *GatewaySession) writer(op ws.OpCode) io.Writer {
	return &ioWriteFlusher{wsutil.NewWriter(s.conn, ws.StateClientSide, op)}
}

// Close stops the session. resumable=true sends close code 1000
// preserving session_id for a future RESUME; resumable=false sends 1001
// and clears it. Either way all timers stop and Close is idempotent. This
// is a terminal shutdown: the session does not reconnect afterward.
func (s *GatewaySession) Close(resumable bool) error {
	if s.closed.Swap(true) {
		return nil
	}

	s.commandLimiter.Reset()

	code := NormalClose
	if !resumable {
		s.mu.Lock()
		s.sessionID = ""
		s.mu.Unlock()
		code = closecode.ClientReconnecting
	}

	return s.initiateClose(code, "", true)
}

// initiateClose writes a close frame and closes the underlying connection
// from this side, recording pendingClose so the read loop's consequent
// read error is routed through handleClose with the intended code (or,
// for a terminal close, straight to Disconnected) rather than surfacing
// as a generic critical error.
func (s *GatewaySession) initiateClose(code closecode.Type, reason string, terminal bool) error {
	s.mu.Lock()
	s.pendingClose = &closeSignal{code: code, reason: reason, terminal: terminal}
	s.mu.Unlock()

	if s.heartbeatCancel != nil {
		s.heartbeatCancel()
	}

	_ = wsutil.WriteClientMessage(s.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusCode(code), reason))
	return s.conn.Close()
}

func (s *GatewaySession) runEventLoop(ctx context.Context) {
	err := s.eventLoop(ctx)

	s.mu.Lock()
	pending := s.pendingClose
	s.pendingClose = nil
	s.mu.Unlock()

	if pending != nil {
		if pending.terminal {
			s.setState(Disconnected)
			return
		}
		s.handleClose(pending.code, pending.reason)
		return
	}

	if err == nil {
		return
	}

	var wsClose wsutil.ClosedError
	if errors.As(err, &wsClose) {
		s.handleClose(closecode.Type(wsClose.Code), wsClose.Reason)
		return
	}

	s.Dispatcher.Dispatch("critical", err)
	s.setState(Disconnected)
}

func (s *GatewaySession) handleClose(code closecode.Type, reason string) {
	if s.heartbeatCancel != nil {
		s.heartbeatCancel()
	}

	if closecode.Fatal(code) {
		s.setState(Disconnected)
		s.Dispatcher.Dispatch("critical", classifyFatalClose(code, reason))
		return
	}

	s.Dispatcher.Dispatch("critical", &DisconnectError{Code: code, Reason: reason})

	if !s.reconnectCheck(code) {
		s.Dispatcher.Dispatch("critical", &ReconnectCheckFailedError{Code: code})
		s.setState(Disconnected)
		return
	}

	if !closecode.CanResumeAfter(code) {
		s.mu.Lock()
		s.sessionID = ""
		s.mu.Unlock()
	}

	s.setState(Reconnecting)
}

func (s *GatewaySession) eventLoop(ctx context.Context) error {
	controlHandler := wsutil.ControlFrameHandler(s.conn, ws.StateClientSide)
	rd := wsutil.Reader{
		Source:          s.conn,
		State:           ws.StateClientSide,
		CheckUTF8:       true,
		OnIntermediate:  controlHandler,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return err
		}

		if hdr.OpCode.IsControl() {
			if err := controlHandler(hdr, &rd); err != nil {
				return err
			}
			continue
		}

		if hdr.OpCode != ws.OpText && hdr.OpCode != ws.OpBinary {
			if err := rd.Discard(); err != nil {
				return err
			}
			continue
		}

		raw, err := io.ReadAll(&rd)
		if err != nil {
			return err
		}

		data, err := s.extractPayload(hdr.OpCode, raw)
		if err != nil {
			return err
		}
		if data == nil {
			continue // accumulating a fragmented zlib-stream message
		}

		var payload Payload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("gateway: failed to unmarshal frame: %w", err)
		}

		if err := s.handlePayload(ctx, &payload); err != nil {
			return err
		}
	}
}

func (s *GatewaySession) extractPayload(op ws.OpCode, raw []byte) ([]byte, error) {
	if op == ws.OpText {
		return raw, nil
	}

	s.binaryBuf.Write(raw)
	if !bytes.HasSuffix(s.binaryBuf.Bytes(), zlibStreamSuffix) {
		return nil, nil
	}

	compressed := append([]byte(nil), s.binaryBuf.Bytes()...)
	s.binaryBuf.Reset()
	return s.decoder.Decode(compressed)
}

func (s *GatewaySession) handlePayload(ctx context.Context, payload *Payload) error {
	if payload.Seq != nil {
		for {
			cur := s.sequence.Load()
			if *payload.Seq <= cur {
				break
			}
			if s.sequence.CAS(cur, *payload.Seq) {
				break
			}
		}
	}

	s.RawDispatcher.Dispatch(payload.Op, payload)

	switch payload.Op {
	case opcode.Hello:
		return s.onHello(ctx, payload)
	case opcode.Heartbeat:
		return s.sendCommandBypassingLimiter(command.Heartbeat, Heartbeat{Seq: payload.Seq})
	case opcode.HeartbeatACK:
		s.heartbeatAcked.Store(true)
		s.missedAcks.Store(0)
	case opcode.Reconnect:
		return s.initiateClose(RestartClose, "server requested reconnect", false)
	case opcode.InvalidSession:
		return s.onInvalidSession(ctx, payload)
	case opcode.Dispatch:
		s.onDispatch(payload)
	}
	return nil
}

func (s *GatewaySession) onDispatch(payload *Payload) {
	if payload.Type == event.Ready {
		var ready Ready
		if err := json.Unmarshal(payload.Data, &ready); err == nil {
			s.mu.Lock()
			s.sessionID = ready.SessionID
			s.resumeGatewayURL = ready.ResumeGatewayURL
			s.mu.Unlock()
		}
		s.setState(Connected)
	}
	if payload.Type == event.Resumed {
		s.setState(Connected)
	}

	if s.eventWhitelist != nil && payload.Type != event.Ready && payload.Type != event.Resumed {
		if !s.eventWhitelist.Contains(payload.Type) {
			return
		}
	}

	s.EventDispatcher.Dispatch(payload.Type, payload.Data)
}

func (s *GatewaySession) onHello(ctx context.Context, payload *Payload) error {
	var hello Hello
	if err := json.Unmarshal(payload.Data, &hello); err != nil {
		return fmt.Errorf("gateway: failed to unmarshal HELLO: %w", err)
	}

	s.heartbeatInterval = time.Duration(hello.HeartbeatIntervalMilli) * time.Millisecond
	s.heartbeatAcked.Store(true)
	s.missedAcks.Store(0)

	hbCtx, cancel := context.WithCancel(ctx)
	s.heartbeatCancel = cancel
	go s.heartbeatPulse(hbCtx)

	if err := s.identifyLimiter.Acquire(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	hasSession := s.sessionID != ""
	sessionID := s.sessionID
	seq := s.sequence.Load()
	s.mu.Unlock()

	if hasSession {
		s.setState(Resuming)
		if err := s.sendCommand(ctx, command.Resume, Resume{Token: s.token, SessionID: sessionID, Seq: seq}); err != nil {
			return err
		}
	} else {
		s.setState(Identifying)
		identify := Identify{
			Token:          s.token,
			Properties:     s.identifyProperties,
			Compress:       false,
			LargeThreshold: s.largeThreshold,
			Intents:        int64(s.intents),
		}
		if s.shardCount > 1 {
			identify.Shard = &[2]int{s.shardID, s.shardCount}
		}
		if err := s.sendCommand(ctx, command.Identify, identify); err != nil {
			return err
		}
	}

	s.setState(ReadyWait)
	return nil
}

func (s *GatewaySession) onInvalidSession(ctx context.Context, payload *Payload) error {
	var invalid InvalidSession
	_ = json.Unmarshal(payload.Data, &invalid)

	if !invalid.Resumable {
		s.mu.Lock()
		s.sessionID = ""
		s.mu.Unlock()
	}

	s.setState(Identifying)

	if err := s.identifyLimiter.Acquire(ctx); err != nil {
		return err
	}

	identify := Identify{
		Token:          s.token,
		Properties:     s.identifyProperties,
		LargeThreshold: s.largeThreshold,
		Intents:        int64(s.intents),
	}
	if s.shardCount > 1 {
		identify.Shard = &[2]int{s.shardID, s.shardCount}
	}
	if err := s.sendCommand(ctx, command.Identify, identify); err != nil {
		return err
	}

	s.setState(ReadyWait)
	return nil
}

// heartbeatPulse self-schedules heartbeats: the first beat is jittered
// within the interval, subsequent beats fire every full interval. Two
// consecutive missed ACKs close the connection with code 4000.
func (s *GatewaySession) heartbeatPulse(ctx context.Context) {
	jitter := time.Duration(float64(s.heartbeatInterval) * jitterFraction())
	timer := time.NewTimer(jitter)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if !s.heartbeatAcked.CAS(true, false) {
				if s.missedAcks.Inc() >= 2 {
					s.log.Warn("gateway: two consecutive heartbeats unacknowledged, closing")
					s.Dispatcher.Dispatch("critical", &MissedHeartbeatAckError{})
					_ = s.initiateClose(closecode.UnknownError, "heartbeat ack timeout", false)
					return
				}
			}

			seq := s.sequence.Load()
			if err := s.sendCommandBypassingLimiter(command.Heartbeat, Heartbeat{Seq: &seq}); err != nil {
				return
			}
			timer.Reset(s.heartbeatInterval)
		}
	}
}

func jitterFraction() float64 {
	// deterministic-enough jitter without pulling in a PRNG dependency
	// for a single low-stakes scheduling offset; nanosecond clock bits
	// vary per process and per shard startup anyway.
	return float64(time.Now().UnixNano()%1000) / 1000.0
}

// sendCommand passes op through the outbound command rate gate before
// writing it.
func (s *GatewaySession) sendCommand(ctx context.Context, op command.Type, data any) error {
	if err := s.commandLimiter.Acquire(ctx); err != nil {
		return err
	}
	return s.writeCommand(op, data)
}

// sendCommandBypassingLimiter is for heartbeats and heartbeat-triggered
// acks: missing one is worse than exceeding the outbound rate briefly.
func (s *GatewaySession) sendCommandBypassingLimiter(op command.Type, data any) error {
	return s.writeCommand(op, data)
}

func (s *GatewaySession) writeCommand(op command.Type, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(struct {
		Op   command.Type    `json:"op"`
		Data json.RawMessage `json:"d"`
	}{Op: op, Data: payload})
	if err != nil {
		return err
	}
	_, err = s.textWriter.Write(frame)
	return err
}

// ValidateDialURL checks that a gateway URL parses and carries a ws(s)
// scheme and a host; Connect calls it before ever dialing.
func ValidateDialURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("gateway: url scheme %q is not ws(s)", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return fmt.Errorf("gateway: url %q has no host", raw)
	}
	return nil
}

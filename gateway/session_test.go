package gateway

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/dgcore/discord/closecode"
	"github.com/dgcore/discord/command"
	"github.com/dgcore/discord/event"
	"github.com/dgcore/discord/json"
	"github.com/dgcore/discord/opcode"
)

func newTestSession(t *testing.T, opts ...Option) (*GatewaySession, *bytes.Buffer) {
	t.Helper()
	s, err := NewGatewaySession("test-token", opts...)
	if err != nil {
		t.Fatalf("NewGatewaySession: %v", err)
	}
	var out bytes.Buffer
	s.textWriter = &out
	return s, &out
}

func helloPayload(intervalMillis int64) *Payload {
	data, _ := json.Marshal(Hello{HeartbeatIntervalMilli: intervalMillis})
	return &Payload{Op: opcode.Hello, Data: data}
}

func decodeCommand(t *testing.T, raw []byte) (command.Type, json.RawMessage) {
	t.Helper()
	var frame struct {
		Op command.Type    `json:"op"`
		D  json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("decode command frame: %v", err)
	}
	return frame.Op, frame.D
}

func TestHelloWithNoSessionSendsIdentify(t *testing.T) {
	s, out := newTestSession(t)

	if err := s.handlePayload(context.Background(), helloPayload(60000)); err != nil {
		t.Fatalf("handlePayload(HELLO): %v", err)
	}

	op, _ := decodeCommand(t, out.Bytes())
	if op != command.Identify {
		t.Fatalf("expected IDENTIFY command, got op %d", op)
	}
	if s.State() != ReadyWait {
		t.Fatalf("expected ReadyWait, got %s", s.State())
	}
}

func TestHelloWithKnownSessionSendsResume(t *testing.T) {
	s, out := newTestSession(t, WithSessionID("sess-123"), WithSequenceNumber(42))

	if err := s.handlePayload(context.Background(), helloPayload(60000)); err != nil {
		t.Fatalf("handlePayload(HELLO): %v", err)
	}

	op, data := decodeCommand(t, out.Bytes())
	if op != command.Resume {
		t.Fatalf("expected RESUME command, got op %d", op)
	}

	var resume Resume
	if err := json.Unmarshal(data, &resume); err != nil {
		t.Fatalf("decode resume body: %v", err)
	}
	if resume.SessionID != "sess-123" || resume.Seq != 42 {
		t.Fatalf("expected session sess-123/seq 42, got %+v", resume)
	}
}

func TestReadyTransitionsToConnectedAndStoresSessionID(t *testing.T) {
	s, _ := newTestSession(t)

	readyData, _ := json.Marshal(Ready{SessionID: "abc", ResumeGatewayURL: "wss://resume.example"})
	payload := &Payload{Op: opcode.Dispatch, Type: event.Ready, Data: readyData}

	if err := s.handlePayload(context.Background(), payload); err != nil {
		t.Fatalf("handlePayload(READY): %v", err)
	}

	if s.State() != Connected {
		t.Fatalf("expected Connected, got %s", s.State())
	}
	if s.SessionID() != "abc" {
		t.Fatalf("expected session id abc, got %q", s.SessionID())
	}
}

func TestSequenceNumberTracksMaximumSeen(t *testing.T) {
	s, _ := newTestSession(t)

	seq1, seq2, seq3 := int64(5), int64(12), int64(9)
	_ = s.handlePayload(context.Background(), &Payload{Op: opcode.Dispatch, Seq: &seq1})
	_ = s.handlePayload(context.Background(), &Payload{Op: opcode.Dispatch, Seq: &seq2})
	_ = s.handlePayload(context.Background(), &Payload{Op: opcode.Dispatch, Seq: &seq3})

	if s.Sequence() != 12 {
		t.Fatalf("expected sequence to stick at the max seen (12), got %d", s.Sequence())
	}
}

func TestInvalidSessionNonResumableClearsSessionIDAndReidentifies(t *testing.T) {
	s, out := newTestSession(t, WithSessionID("sess-123"), WithSequenceNumber(42))

	resumableFalse, _ := json.Marshal(false)
	payload := &Payload{Op: opcode.InvalidSession, Data: resumableFalse}

	if err := s.handlePayload(context.Background(), payload); err != nil {
		t.Fatalf("handlePayload(INVALID_SESSION): %v", err)
	}

	if s.SessionID() != "" {
		t.Fatalf("expected session id cleared, got %q", s.SessionID())
	}

	op, _ := decodeCommand(t, out.Bytes())
	if op != command.Identify {
		t.Fatalf("expected re-IDENTIFY after non-resumable invalidation, got op %d", op)
	}
}

func TestHeartbeatAckResetsMissedCounter(t *testing.T) {
	s, _ := newTestSession(t)
	s.missedAcks.Store(1)

	if err := s.handlePayload(context.Background(), &Payload{Op: opcode.HeartbeatACK}); err != nil {
		t.Fatalf("handlePayload(HEARTBEAT_ACK): %v", err)
	}

	if s.missedAcks.Load() != 0 {
		t.Fatalf("expected missed ack counter reset to 0, got %d", s.missedAcks.Load())
	}
	if !s.heartbeatAcked.Load() {
		t.Fatal("expected heartbeatAcked to be true after ACK")
	}
}

func TestInboundHeartbeatRequestIsAcknowledgedImmediately(t *testing.T) {
	s, out := newTestSession(t)

	if err := s.handlePayload(context.Background(), &Payload{Op: opcode.Heartbeat}); err != nil {
		t.Fatalf("handlePayload(HEARTBEAT): %v", err)
	}

	op, _ := decodeCommand(t, out.Bytes())
	if op != command.Heartbeat {
		t.Fatalf("expected an outbound heartbeat in reply, got op %d", op)
	}
}

func TestEventDispatchFiresRegisteredHandler(t *testing.T) {
	s, _ := newTestSession(t)

	received := make(chan json.RawMessage, 1)
	s.EventDispatcher.Listen(event.MessageCreate, func(payload any) {
		received <- payload.(json.RawMessage)
	})

	msgData, _ := json.Marshal(map[string]string{"content": "hi"})
	payload := &Payload{Op: opcode.Dispatch, Type: event.MessageCreate, Data: msgData}
	if err := s.handlePayload(context.Background(), payload); err != nil {
		t.Fatalf("handlePayload(DISPATCH): %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(msgData) {
			t.Fatalf("expected %s, got %s", msgData, got)
		}
	case <-time.After(time.Second):
		t.Fatal("event handler never fired")
	}
}

func TestEventWhitelistSuppressesUnlistedEvents(t *testing.T) {
	s, _ := newTestSession(t, WithGuildEvents(event.MessageCreate))

	received := make(chan struct{}, 1)
	s.EventDispatcher.Listen(event.TypingStart, func(payload any) {
		received <- struct{}{}
	})

	payload := &Payload{Op: opcode.Dispatch, Type: event.TypingStart, Data: json.RawMessage(`{}`)}
	if err := s.handlePayload(context.Background(), payload); err != nil {
		t.Fatalf("handlePayload(DISPATCH): %v", err)
	}

	select {
	case <-received:
		t.Fatal("expected TYPING_START to be suppressed by the guild-events whitelist")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventWhitelistAlwaysAllowsReady(t *testing.T) {
	s, _ := newTestSession(t, WithGuildEvents(event.MessageCreate))

	received := make(chan struct{}, 1)
	s.EventDispatcher.Listen(event.Ready, func(payload any) {
		received <- struct{}{}
	})

	readyData, _ := json.Marshal(Ready{SessionID: "abc"})
	payload := &Payload{Op: opcode.Dispatch, Type: event.Ready, Data: readyData}
	if err := s.handlePayload(context.Background(), payload); err != nil {
		t.Fatalf("handlePayload(READY): %v", err)
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected READY to bypass the event whitelist")
	}
}

func TestMissedHeartbeatAckRoutesThroughHandleCloseToReconnecting(t *testing.T) {
	s, _ := newTestSession(t)
	client, server := net.Pipe()
	defer server.Close()
	s.conn = client

	go io.Copy(io.Discard, server)

	loopDone := make(chan struct{})
	go func() {
		s.runEventLoop(context.Background())
		close(loopDone)
	}()

	if err := s.initiateClose(closecode.UnknownError, "heartbeat ack timeout", false); err != nil {
		t.Fatalf("initiateClose: %v", err)
	}

	select {
	case <-loopDone:
	case <-time.After(time.Second):
		t.Fatal("runEventLoop never returned after a client-initiated close")
	}

	if s.State() != Reconnecting {
		t.Fatalf("expected Reconnecting after a client-initiated non-fatal close, got %s", s.State())
	}
}

func TestReconnectOpcodeRoutesThroughHandleCloseAndKeepsSessionID(t *testing.T) {
	s, _ := newTestSession(t, WithSessionID("sess-abc"), WithSequenceNumber(7))
	client, server := net.Pipe()
	defer server.Close()
	s.conn = client

	go io.Copy(io.Discard, server)

	loopDone := make(chan struct{})
	go func() {
		s.runEventLoop(context.Background())
		close(loopDone)
	}()

	if err := s.handlePayload(context.Background(), &Payload{Op: opcode.Reconnect}); err != nil {
		t.Fatalf("handlePayload(RECONNECT): %v", err)
	}

	select {
	case <-loopDone:
	case <-time.After(time.Second):
		t.Fatal("runEventLoop never returned after opcode 7 RECONNECT")
	}

	if s.State() != Reconnecting {
		t.Fatalf("expected Reconnecting after RECONNECT, got %s", s.State())
	}
	if s.SessionID() != "sess-abc" {
		t.Fatalf("expected session id preserved for a resumable close, got %q", s.SessionID())
	}
}

func TestCloseIsTerminalAndDoesNotReconnect(t *testing.T) {
	s, _ := newTestSession(t)
	client, server := net.Pipe()
	defer server.Close()
	s.conn = client

	go io.Copy(io.Discard, server)

	loopDone := make(chan struct{})
	go func() {
		s.runEventLoop(context.Background())
		close(loopDone)
	}()

	if err := s.Close(false); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-loopDone:
	case <-time.After(time.Second):
		t.Fatal("runEventLoop never returned after Close")
	}

	if s.State() != Disconnected {
		t.Fatalf("expected Disconnected after a terminal Close, got %s", s.State())
	}
}

func TestConnectKeepsBootstrapURLWhenResuming(t *testing.T) {
	s, err := NewGatewaySession("test-token", WithSessionID("sess-xyz"), WithSequenceNumber(3), WithResumeGatewayURL("wss://resume.example"))
	if err != nil {
		t.Fatalf("NewGatewaySession: %v", err)
	}

	err = s.Connect(context.Background(), "wss://original.example")
	if err == nil {
		t.Fatal("expected dial failure against a non-existent host")
	}
	if s.gatewayURL != "wss://original.example" {
		t.Fatalf("expected cached bootstrap url to still be recorded, got %q", s.gatewayURL)
	}
}

func TestValidateDialURLRejectsNonWebsocketScheme(t *testing.T) {
	if err := ValidateDialURL("https://discord.com/gateway"); err == nil {
		t.Fatal("expected ValidateDialURL to reject a non-ws(s) scheme")
	}
	if err := ValidateDialURL("wss://gateway.discord.gg"); err != nil {
		t.Fatalf("expected a valid wss url to pass, got %v", err)
	}
}

func TestConnectRejectsInvalidDialURL(t *testing.T) {
	s, err := NewGatewaySession("test-token")
	if err != nil {
		t.Fatalf("NewGatewaySession: %v", err)
	}
	if err := s.Connect(context.Background(), "not-a-url://"); err == nil {
		t.Fatal("expected Connect to reject an invalid gateway URL before dialing")
	}
}

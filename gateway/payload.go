package gateway

import (
	"github.com/dgcore/discord/event"
	"github.com/dgcore/discord/json"
	"github.com/dgcore/discord/opcode"
)

// Payload is the outer shape of every gateway message: {op, d, s, t}.
type Payload struct {
	Op   opcode.Type     `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  *int64          `json:"s,omitempty"`
	Type event.Type      `json:"t,omitempty"`
}

// Hello is the payload of an opcode 10 HELLO message.
type Hello struct {
	HeartbeatIntervalMilli int64 `json:"heartbeat_interval"`
}

// IdentifyConnectionProperties fills the "properties" field of IDENTIFY;
// the values are arbitrary but must be present.
type IdentifyConnectionProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Identify is the payload of an outbound opcode 2 IDENTIFY command.
type Identify struct {
	Token          string                        `json:"token"`
	Properties     IdentifyConnectionProperties  `json:"properties"`
	Compress       bool                          `json:"compress"`
	LargeThreshold int                           `json:"large_threshold,omitempty"`
	Shard          *[2]int                       `json:"shard,omitempty"`
	Intents        int64                         `json:"intents"`
	Presence       json.RawMessage               `json:"presence,omitempty"`
}

// Resume is the payload of an outbound opcode 6 RESUME command.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// Heartbeat is the payload of an outbound opcode 1 HEARTBEAT command; nil
// (no sequence yet) is valid and marshals to null.
type Heartbeat struct {
	Seq *int64
}

func (h Heartbeat) MarshalJSON() ([]byte, error) {
	if h.Seq == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*h.Seq)
}

// InvalidSession is the payload of an inbound opcode 9 INVALID_SESSION
// message: whether the session may be resumed.
type InvalidSession struct {
	Resumable bool
}

func (i *InvalidSession) UnmarshalJSON(data []byte) error {
	var resumable bool
	if err := json.Unmarshal(data, &resumable); err != nil {
		return err
	}
	i.Resumable = resumable
	return nil
}

// Ready is the payload of the READY dispatch event.
type Ready struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

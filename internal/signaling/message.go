package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the "type" field of every signaling message.
type MessageType string

// Message type constants.
const (
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypeHangUp       MessageType = "hang-up"
	TypeReject       MessageType = "reject"
	TypeBusy         MessageType = "busy"

	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

var knownTypes = map[MessageType]bool{
	TypeOffer: true, TypeAnswer: true, TypeICECandidate: true,
	TypeHangUp: true, TypeReject: true, TypeBusy: true,
	TypePing: true, TypePong: true,
}

// Message is the envelope exchanged with the relay.
type Message struct {
	Type   MessageType     `json:"type"`
	From   string          `json:"from,omitempty"`
	To     string          `json:"to,omitempty"`
	CallID string          `json:"callId,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// SDPPayload carries an offer or answer.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
	// Kind is "audio" or "video"; only set on offers.
	Kind string `json:"kind,omitempty"`
}

// CandidatePayload mirrors RTCIceCandidateInit.
type CandidatePayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// HangUpPayload is carried by hang-up, reject and busy.
type HangUpPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewMessage builds a message with data marshalled to JSON. A nil data
// value produces an empty object.
func NewMessage(t MessageType, from, to, callID string, data any) (*Message, error) {
	raw := json.RawMessage(`{}`)
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s data: %w", t, err)
		}
		raw = b
	}
	return &Message{Type: t, From: from, To: to, CallID: callID, Data: raw}, nil
}

// DecodeData unmarshals the message data into v.
func (m *Message) DecodeData(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s data: %w", m.Type, err)
	}
	return nil
}

// IsHeartbeat reports whether the message is a ping or pong.
func (m *Message) IsHeartbeat() bool {
	return m.Type == TypePing || m.Type == TypePong
}

// Validate checks the envelope. Every non-heartbeat message needs a call id.
func (m *Message) Validate() error {
	if !knownTypes[m.Type] {
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if !m.IsHeartbeat() && m.CallID == "" {
		return errors.New("message without callId")
	}
	return nil
}

package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	ProtocolVersion = "hsp/1.0"
	EnvelopeVersion = "1.0"
)

// QoS carries the optional quality-of-service hints on an Envelope.
type QoS struct {
	Priority    int  `json:"priority,omitempty"`
	RequiresAck bool `json:"requires_ack,omitempty"`
}

// Security carries the optional signing parameters on an Envelope. KeyID identifies
// the HMAC key used; Signature is populated when config.Bus.SigningEnabled is true.
type Security struct {
	Signature []byte `json:"signature,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
}

// Envelope is the outer metadata wrapper attached to every message on the bus.
type Envelope struct {
	ProtocolVersion string       `json:"protocol_version"`
	EnvelopeVersion string       `json:"envelope_version"`
	MessageID       string       `json:"message_id"`
	CorrelationID   string       `json:"correlation_id,omitempty"`
	SenderID        string       `json:"sender_id"`
	Recipient       string       `json:"recipient"`
	SentAt          time.Time    `json:"sent_at"`
	MessageType     MessageType  `json:"message_type"`
	Pattern         Pattern      `json:"pattern"`
	QoS             *QoS         `json:"qos,omitempty"`
	Security        *Security    `json:"security,omitempty"`
	Payload         json.RawMessage `json:"payload"`
}

// NewEnvelope builds a publish-pattern envelope with a fresh message id.
func NewEnvelope(clock Clock, senderID, recipient string, msgType MessageType, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, NewError(KindTransport, "failed to encode payload").WithCause(err)
	}
	return &Envelope{
		ProtocolVersion: ProtocolVersion,
		EnvelopeVersion: EnvelopeVersion,
		MessageID:       uuid.NewString(),
		SenderID:        senderID,
		Recipient:       recipient,
		SentAt:          clock.Now(),
		MessageType:     msgType,
		Pattern:         PatternPublish,
		Payload:         raw,
	}, nil
}

// AsRequest marks the envelope as a request pattern message, used by Bus Connector's
// request() for correlation.
func (e *Envelope) AsRequest() *Envelope {
	e.Pattern = PatternRequest
	return e
}

// AsResponseTo builds a response envelope correlated to req, per the invariant that
// correlation_id MUST equal the id of the message being responded to.
func AsResponseTo(req *Envelope, clock Clock, senderID string, payload any) (*Envelope, error) {
	env, err := NewEnvelope(clock, senderID, req.SenderID, MessageTypeTaskResult, payload)
	if err != nil {
		return nil, err
	}
	env.Pattern = PatternResponse
	env.CorrelationID = req.MessageID
	return env, nil
}

// AsAcknowledgementOf builds an acknowledgement envelope for msg.
func AsAcknowledgementOf(msg *Envelope, clock Clock, senderID string) (*Envelope, error) {
	env, err := NewEnvelope(clock, senderID, msg.SenderID, MessageTypeAck, struct{}{})
	if err != nil {
		return nil, err
	}
	env.Pattern = PatternAcknowledgement
	env.CorrelationID = msg.MessageID
	return env, nil
}

// Decode unmarshals the envelope's payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Validate checks the envelope invariants: correlation id required on response/ack,
// message id present.
func (e *Envelope) Validate() error {
	if e.MessageID == "" {
		return NewError(KindTransport, "envelope missing message id")
	}
	if e.SenderID == "" {
		return NewError(KindTransport, "envelope missing sender id")
	}
	if (e.Pattern == PatternResponse || e.Pattern == PatternAcknowledgement) && e.CorrelationID == "" {
		return NewError(KindTransport, "response/acknowledgement envelope missing correlation id")
	}
	return nil
}

package types

// MessageType is a namespaced string with an embedded semantic version, e.g.
// "task-request/1.0".
type MessageType string

const (
	MessageTypeCapabilityAdvertisement MessageType = "capability-advertisement/1.0"
	MessageTypeTaskRequest             MessageType = "task-request/1.0"
	MessageTypeTaskResult              MessageType = "task-result/1.0"
	MessageTypeFact                    MessageType = "fact/1.0"
	MessageTypeAck                     MessageType = "ack/1.0"
	MessageTypeNack                    MessageType = "nack/1.0"
)

// Pattern is the delivery pattern carried on every Envelope.
type Pattern string

const (
	PatternPublish        Pattern = "publish"
	PatternRequest        Pattern = "request"
	PatternResponse       Pattern = "response"
	PatternAcknowledgement Pattern = "acknowledgement"
)

package nexus

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies a message for routing and validation.
type MessageType string

const (
	// MessageTypeDirect targets exactly one recipient.
	MessageTypeDirect MessageType = "direct"
	// MessageTypeBroadcast targets every module that is active at send
	// time. The recipient set is resolved at delivery, never at creation,
	// so late-joining modules never receive it.
	MessageTypeBroadcast MessageType = "broadcast"
	// MessageTypeCapabilityQuery targets all active modules declaring the
	// capability named in the message metadata.
	MessageTypeCapabilityQuery MessageType = "capability_query"
	// MessageTypeHeartbeat is a liveness signal; sending one through the
	// facade refreshes the sender's registry heartbeat.
	MessageTypeHeartbeat MessageType = "heartbeat"
	// MessageTypeSystem is a control message from the nexus itself.
	MessageTypeSystem MessageType = "system"
)

// MetadataKeyCapability names the capability a capability-query message
// resolves its recipients by.
const MetadataKeyCapability = "capability"

// Message is one unit of communication between modules. Payload bytes are
// opaque to the core; interpretation belongs to the communicating modules.
type Message struct {
	// ID uniquely identifies the message.
	ID string `json:"id"`

	// Type classifies the message for routing.
	Type MessageType `json:"type"`

	// From is the sender's module identifier.
	From string `json:"from"`

	// To is the explicit recipient set. Must hold exactly one identifier
	// for direct messages and must be empty for broadcasts.
	To []string `json:"to,omitempty"`

	// Payload carries the message body, opaque to the core.
	Payload []byte `json:"payload,omitempty"`

	// CorrelationID pairs a response with its request. Optional.
	CorrelationID string `json:"correlationId,omitempty"`

	// Metadata carries routing hints such as the capability tag of a
	// capability query.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is when the message was constructed.
	CreatedAt time.Time `json:"createdAt"`
}

// NewMessage constructs a message with a generated identifier and creation
// timestamp.
func NewMessage(msgType MessageType, from string, to []string, payload []byte) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		From:      from,
		To:        append([]string(nil), to...),
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Validate checks the structural invariants of the message. Direct messages
// carry exactly one recipient; broadcasts carry none; capability queries
// name their capability in metadata.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidMessage)
	}
	if m.ID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidMessage)
	}
	if m.From == "" {
		return fmt.Errorf("%w: missing sender", ErrInvalidMessage)
	}
	switch m.Type {
	case MessageTypeDirect:
		if len(m.To) != 1 {
			return fmt.Errorf("%w: direct message must have exactly one recipient, got %d", ErrInvalidMessage, len(m.To))
		}
	case MessageTypeBroadcast:
		if len(m.To) != 0 {
			return fmt.Errorf("%w: broadcast message must not name recipients", ErrInvalidMessage)
		}
	case MessageTypeCapabilityQuery:
		if m.Metadata[MetadataKeyCapability] == "" {
			return fmt.Errorf("%w: capability query must name a capability in metadata[%q]", ErrInvalidMessage, MetadataKeyCapability)
		}
	case MessageTypeHeartbeat, MessageTypeSystem:
		// Explicit or empty recipient sets are both valid.
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, m.Type)
	}
	return nil
}

// DeliveryFailure records one recipient the broker could not deliver to and
// why.
type DeliveryFailure struct {
	ModuleID string `json:"moduleId"`
	Reason   string `json:"reason"`
}

// DeliveryReceipt is the result of a send operation: which recipients
// received the message and which failed. Broadcast delivery continues past
// per-recipient failures, so a receipt can carry both.
type DeliveryReceipt struct {
	MessageID string            `json:"messageId"`
	Delivered []string          `json:"delivered"`
	Failed    []DeliveryFailure `json:"failed,omitempty"`
	SentAt    time.Time         `json:"sentAt"`
}

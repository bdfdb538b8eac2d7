package nexus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// deliveryReason strings recorded in receipts for failed recipients.
const (
	dropReasonUnknownModule = "unknown module"
	dropReasonInboxClosed   = "inbox closed"
	dropReasonQueueFull     = "queue full"
	dropReasonCancelled     = "send cancelled"
)

// MessageBroker routes messages between modules through per-module bounded
// inbound queues. The broker holds module identifiers only, never record
// references; recipient resolution always goes through the registry, so
// record mutation and delivery stay decoupled.
//
// Delivery policy, per message type:
//   - direct sends block for up to the configured direct-send timeout when
//     the recipient queue is full (backpressure), then fail with
//     ErrQueueFull;
//   - fan-out sends (broadcast, capability query, system) never block: a
//     full recipient is recorded as a failure in the receipt and delivery
//     continues, so one slow recipient never stalls the rest.
//
// Delivery is at-most-once per recipient per message. Queues are in-memory
// and volatile; durability across restarts is an explicit non-goal.
type MessageBroker struct {
	registry          *ModuleRegistry
	logger            Logger
	subject           *EventSubject
	queueCapacity     int
	directSendTimeout time.Duration

	mu        sync.RWMutex
	inboxes   map[string]*inbox
	isStarted bool

	deliveredCount uint64
	droppedCount   uint64
}

// inbox is one recipient's bounded FIFO queue. The channel is never closed;
// the done channel signals closure so concurrent senders and receivers
// release cleanly without racing a close.
type inbox struct {
	moduleID string
	messages chan *Message
	done     chan struct{}
	once     sync.Once
}

func (b *inbox) close() {
	b.once.Do(func() { close(b.done) })
}

func (b *inbox) isClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// NewMessageBroker creates a broker resolving recipients through the given
// registry. queueCapacity bounds each recipient's inbound queue;
// directSendTimeout bounds how long a direct send waits on a full queue.
func NewMessageBroker(registry *ModuleRegistry, logger Logger, subject *EventSubject, queueCapacity int, directSendTimeout time.Duration) *MessageBroker {
	return &MessageBroker{
		registry:          registry,
		logger:            logger,
		subject:           subject,
		queueCapacity:     queueCapacity,
		directSendTimeout: directSendTimeout,
		inboxes:           make(map[string]*inbox),
	}
}

// Start marks the broker ready to accept sends.
func (b *MessageBroker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isStarted = true
	return nil
}

// Stop closes every inbox, releasing all blocked senders and receivers.
// Messages still queued are discarded; the queues are volatile.
func (b *MessageBroker) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isStarted {
		return nil
	}
	for _, bx := range b.inboxes {
		bx.close()
	}
	b.inboxes = make(map[string]*inbox)
	b.isStarted = false
	return nil
}

// OpenInbox creates the inbound queue for a module. Idempotent: an existing
// open inbox is kept, preserving queued messages across re-registration.
func (b *MessageBroker) OpenInbox(moduleID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.inboxes[moduleID]; ok && !existing.isClosed() {
		return
	}
	b.inboxes[moduleID] = &inbox{
		moduleID: moduleID,
		messages: make(chan *Message, b.queueCapacity),
		done:     make(chan struct{}),
	}
}

// CloseInbox tears down a module's inbound queue, releasing any blocked
// sender or receiver. Idempotent.
func (b *MessageBroker) CloseInbox(moduleID string) {
	b.mu.Lock()
	bx, ok := b.inboxes[moduleID]
	if ok {
		delete(b.inboxes, moduleID)
	}
	b.mu.Unlock()

	if ok {
		bx.close()
	}
}

// getInbox returns the open inbox for a module, or nil.
func (b *MessageBroker) getInbox(moduleID string) *inbox {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.inboxes[moduleID]
}

// QueueDepth returns how many messages are currently queued for a module.
func (b *MessageBroker) QueueDepth(moduleID string) int {
	if bx := b.getInbox(moduleID); bx != nil {
		return len(bx.messages)
	}
	return 0
}

// Stats returns cumulative delivery counters for monitoring and tests.
func (b *MessageBroker) Stats() (delivered uint64, dropped uint64) {
	return atomic.LoadUint64(&b.deliveredCount), atomic.LoadUint64(&b.droppedCount)
}

// resolveRecipients expands a validated message into its recipient set.
// Broadcast and capability-query recipients are a snapshot of the registry
// at this instant; late joiners never see the message.
func (b *MessageBroker) resolveRecipients(msg *Message) []string {
	switch msg.Type {
	case MessageTypeBroadcast:
		return b.registry.ActiveModuleIDs()
	case MessageTypeCapabilityQuery:
		return b.registry.FindByCapability(ModuleCapability(msg.Metadata[MetadataKeyCapability]))
	default:
		return msg.To
	}
}

// Send validates the message, resolves its recipients and enqueues it onto
// each recipient's inbound queue in FIFO order. Unknown explicit recipients
// are dropped with a warning and recorded in the receipt rather than
// aborting the send; ErrNoRecipients is returned only when an explicitly
// addressed message reaches nobody. The returned receipt is non-nil whenever
// the message itself was valid, even alongside an error.
func (b *MessageBroker) Send(ctx context.Context, msg *Message) (*DeliveryReceipt, error) {
	b.mu.RLock()
	started := b.isStarted
	b.mu.RUnlock()
	if !started {
		return nil, ErrBrokerNotStarted
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	recipients := b.resolveRecipients(msg)
	receipt := &DeliveryReceipt{
		MessageID: msg.ID,
		Delivered: make([]string, 0, len(recipients)),
		SentAt:    time.Now(),
	}

	fanOut := msg.Type != MessageTypeDirect
	for _, recipient := range recipients {
		bx := b.getInbox(recipient)
		if bx == nil {
			b.logger.Warn("Dropping message for unknown recipient", "message", msg.ID, "recipient", recipient)
			b.recordDrop(ctx, msg, receipt, recipient, dropReasonUnknownModule)
			continue
		}
		if reason := b.enqueue(ctx, bx, msg, fanOut); reason != "" {
			b.recordDrop(ctx, msg, receipt, recipient, reason)
			continue
		}
		atomic.AddUint64(&b.deliveredCount, 1)
		receipt.Delivered = append(receipt.Delivered, recipient)
	}

	if b.subject != nil {
		b.subject.emitEvent(ctx, EventTypeMessageSent, "message-broker", map[string]interface{}{
			"messageId": msg.ID,
			"type":      string(msg.Type),
			"delivered": len(receipt.Delivered),
			"failed":    len(receipt.Failed),
		}, nil)
	}

	if len(receipt.Delivered) == 0 && len(msg.To) > 0 {
		for _, failure := range receipt.Failed {
			if failure.Reason == dropReasonQueueFull {
				return receipt, fmt.Errorf("%w: %s", ErrQueueFull, failure.ModuleID)
			}
		}
		return receipt, fmt.Errorf("%w: message %s", ErrNoRecipients, msg.ID)
	}
	return receipt, nil
}

// enqueue places the message on one inbox, honoring the per-type blocking
// policy. Returns an empty string on success, or the drop reason.
func (b *MessageBroker) enqueue(ctx context.Context, bx *inbox, msg *Message, fanOut bool) string {
	if fanOut {
		// Fan-out never blocks; a full queue is the recipient's problem.
		select {
		case bx.messages <- msg:
			return ""
		case <-bx.done:
			return dropReasonInboxClosed
		default:
			return dropReasonQueueFull
		}
	}

	// Direct sends apply backpressure, bounded by the send timeout.
	timer := time.NewTimer(b.directSendTimeout)
	defer timer.Stop()
	select {
	case bx.messages <- msg:
		return ""
	case <-bx.done:
		return dropReasonInboxClosed
	case <-timer.C:
		return dropReasonQueueFull
	case <-ctx.Done():
		return dropReasonCancelled
	}
}

// recordDrop appends a delivery failure to the receipt and emits a
// message-dropped event.
func (b *MessageBroker) recordDrop(ctx context.Context, msg *Message, receipt *DeliveryReceipt, recipient, reason string) {
	atomic.AddUint64(&b.droppedCount, 1)
	receipt.Failed = append(receipt.Failed, DeliveryFailure{ModuleID: recipient, Reason: reason})
	if b.subject != nil {
		b.subject.emitEvent(ctx, EventTypeMessageDropped, "message-broker", map[string]interface{}{
			"messageId": msg.ID,
			"recipient": recipient,
			"reason":    reason,
		}, nil)
	}
}

// Receive blocks until a message is available on the module's inbound queue,
// the context is cancelled, or the inbox is closed. Messages for one
// recipient are returned in send order. A cancelled receive never consumes
// a message: the dequeue is a single channel operation, so either the
// message is returned or it stays queued.
func (b *MessageBroker) Receive(ctx context.Context, moduleID string) (*Message, error) {
	bx := b.getInbox(moduleID)
	if bx == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, moduleID)
	}

	select {
	case msg := <-bx.messages:
		return msg, nil
	case <-bx.done:
		return nil, fmt.Errorf("%w: %s", ErrInboxClosed, moduleID)
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrReceiveTimeout
		}
		return nil, fmt.Errorf("receive cancelled: %w", ctx.Err())
	}
}

// ReceiveTimeout is a convenience wrapper over Receive with a deadline.
// Returns ErrReceiveTimeout when no message arrives in time.
func (b *MessageBroker) ReceiveTimeout(moduleID string, timeout time.Duration) (*Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return b.Receive(ctx, moduleID)
}

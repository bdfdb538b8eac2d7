package nexus

import (
	"context"
	"fmt"
	"sync"
)

// Nexus is the public facade composing the module registry, the heartbeat
// monitor and the message broker. It carries no state of its own beyond
// lifecycle bookkeeping; every operation delegates to the owning component
// and surfaces the shared error taxonomy. The facade stays usable after any
// single operation failure.
//
// Transports (HTTP, gRPC, ...) layer strictly above this type; see the
// server package for the HTTP surface.
type Nexus struct {
	config   *Config
	logger   Logger
	subject  *EventSubject
	registry *ModuleRegistry
	monitor  *HeartbeatMonitor
	broker   *MessageBroker

	mu        sync.Mutex
	isStarted bool
}

// New builds a nexus from a validated config. The config is treated as
// immutable for the lifetime of the instance.
func New(config *Config, logger Logger) (*Nexus, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("nexus config: %w", err)
	}

	subject := NewEventSubject(logger)
	registry := NewModuleRegistry(logger, subject)
	return &Nexus{
		config:   config,
		logger:   logger,
		subject:  subject,
		registry: registry,
		monitor:  NewHeartbeatMonitor(registry, logger, subject, config.PollInterval(), config.HeartbeatTimeout()),
		broker:   NewMessageBroker(registry, logger, subject, config.QueueCapacity, config.DirectSendTimeout()),
	}, nil
}

// Subject exposes the event subject so observers can be registered before
// Start. All core components emit through it.
func (n *Nexus) Subject() Subject {
	return n.subject
}

// Config returns the immutable configuration the nexus was built with.
func (n *Nexus) Config() *Config {
	return n.config
}

// Start brings up the broker and the heartbeat monitor.
func (n *Nexus) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.isStarted {
		return ErrNexusAlreadyStarted
	}
	if err := n.broker.Start(ctx); err != nil {
		return fmt.Errorf("starting broker: %w", err)
	}
	if err := n.monitor.Start(ctx); err != nil {
		return fmt.Errorf("starting heartbeat monitor: %w", err)
	}
	n.isStarted = true

	n.logger.Info("Nexus started", "node", n.config.NodeID, "environment", n.config.Environment)
	n.subject.emitEvent(ctx, EventTypeNexusStarted, "nexus", map[string]interface{}{
		"nodeId": n.config.NodeID,
	}, nil)
	return nil
}

// Stop tears the nexus down deterministically: the monitor stops first so no
// status transitions race the drain, then the broker closes all inboxes,
// releasing every blocked sender and receiver.
func (n *Nexus) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.isStarted {
		return nil
	}
	if err := n.monitor.Stop(ctx); err != nil {
		return fmt.Errorf("stopping heartbeat monitor: %w", err)
	}
	if err := n.broker.Stop(ctx); err != nil {
		return fmt.Errorf("stopping broker: %w", err)
	}
	n.isStarted = false

	n.logger.Info("Nexus stopped", "node", n.config.NodeID)
	n.subject.emitEvent(context.WithoutCancel(ctx), EventTypeNexusStopped, "nexus", map[string]interface{}{
		"nodeId": n.config.NodeID,
	}, nil)
	return nil
}

// started reports lifecycle state under the facade lock.
func (n *Nexus) started() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isStarted
}

// Register adds a module to the collective and opens its inbound queue.
func (n *Nexus) Register(ctx context.Context, moduleID string, capabilities []ModuleCapability, metadata map[string]string) (*ModuleRecord, error) {
	if !n.started() {
		return nil, ErrNexusNotStarted
	}
	record, err := n.registry.Register(ctx, moduleID, capabilities, metadata)
	if err != nil {
		return nil, err
	}
	n.broker.OpenInbox(moduleID)
	return record, nil
}

// Deregister removes a module and closes its inbound queue. Idempotent.
func (n *Nexus) Deregister(ctx context.Context, moduleID string) {
	n.registry.Deregister(ctx, moduleID)
	n.broker.CloseInbox(moduleID)
}

// Heartbeat refreshes a module's liveness signal.
func (n *Nexus) Heartbeat(ctx context.Context, moduleID string) error {
	return n.registry.Heartbeat(ctx, moduleID)
}

// Discover returns the identifiers of active modules offering a capability.
func (n *Nexus) Discover(capability ModuleCapability) []string {
	return n.registry.FindByCapability(capability)
}

// GetModule returns a snapshot of one module's record.
func (n *Nexus) GetModule(moduleID string) (*ModuleRecord, bool) {
	return n.registry.Get(moduleID)
}

// ListModules returns snapshots of all non-deregistered records.
func (n *Nexus) ListModules() []*ModuleRecord {
	return n.registry.List()
}

// Send routes a message to its recipients. A heartbeat-type message also
// refreshes the sender's registry heartbeat before delivery, so modules can
// signal liveness over the same channel they talk on.
func (n *Nexus) Send(ctx context.Context, msg *Message) (*DeliveryReceipt, error) {
	if !n.started() {
		return nil, ErrNexusNotStarted
	}
	if msg != nil && msg.Type == MessageTypeHeartbeat && msg.From != "" {
		if err := n.registry.Heartbeat(ctx, msg.From); err != nil {
			return nil, err
		}
	}
	return n.broker.Send(ctx, msg)
}

// Receive blocks until a message arrives for the module, the context is
// cancelled, or the deadline passes (ErrReceiveTimeout).
func (n *Nexus) Receive(ctx context.Context, moduleID string) (*Message, error) {
	return n.broker.Receive(ctx, moduleID)
}

// Snapshot returns every registry record for external checkpointing.
func (n *Nexus) Snapshot() []ModuleRecord {
	return n.registry.Snapshot()
}

// Restore replaces registry contents from a checkpoint. Restored modules
// get their inboxes reopened so delivery resumes immediately.
func (n *Nexus) Restore(ctx context.Context, records []ModuleRecord) error {
	if err := n.registry.Restore(ctx, records); err != nil {
		return err
	}
	for i := range records {
		if records[i].Status.IsLive() {
			n.broker.OpenInbox(records[i].ID)
		}
	}
	return nil
}

// ScanHeartbeats runs one monitor pass immediately, outside the poll
// cadence. Useful for tests and administrative tooling.
func (n *Nexus) ScanHeartbeats(ctx context.Context) {
	n.monitor.ScanOnce(ctx)
}

// BrokerStats returns cumulative delivered/dropped counters.
func (n *Nexus) BrokerStats() (delivered uint64, dropped uint64) {
	return n.broker.Stats()
}

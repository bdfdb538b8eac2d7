package nexus

// Event type constants for nexus core events.
// Following CloudEvents specification reverse domain notation.
const (
	// Module lifecycle events
	EventTypeModuleRegistered    = "com.acdin.nexus.module.registered"
	EventTypeModuleDeregistered  = "com.acdin.nexus.module.deregistered"
	EventTypeModuleStatusChanged = "com.acdin.nexus.module.status.changed"
	EventTypeModuleHealed        = "com.acdin.nexus.module.healed"

	// Message events
	EventTypeMessageSent      = "com.acdin.nexus.message.sent"
	EventTypeMessageDelivered = "com.acdin.nexus.message.delivered"
	EventTypeMessageDropped   = "com.acdin.nexus.message.dropped"

	// Monitor lifecycle events
	EventTypeMonitorStarted = "com.acdin.nexus.monitor.started"
	EventTypeMonitorStopped = "com.acdin.nexus.monitor.stopped"

	// Nexus lifecycle events
	EventTypeNexusStarted = "com.acdin.nexus.started"
	EventTypeNexusStopped = "com.acdin.nexus.stopped"

	// Configuration events
	EventTypeConfigLoaded  = "com.acdin.nexus.config.loaded"
	EventTypeConfigChanged = "com.acdin.nexus.config.changed"

	// Snapshot events
	EventTypeSnapshotTaken    = "com.acdin.nexus.snapshot.taken"
	EventTypeSnapshotRestored = "com.acdin.nexus.snapshot.restored"
)

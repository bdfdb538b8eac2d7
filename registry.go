package nexus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ModuleRegistry is the authoritative store of module records for one nexus
// instance. It owns every ModuleRecord and keeps a capability index that is
// updated in the same critical section as the record itself, so no reader
// ever observes a capability pointing at a record that lacks it.
//
// The registry is safe for concurrent use. Read-heavy discovery goes through
// the read side of the lock; all mutations take the write side.
type ModuleRegistry struct {
	logger  Logger
	subject *EventSubject
	now     func() time.Time

	mu           sync.RWMutex
	records      map[string]*ModuleRecord
	capabilities map[ModuleCapability]map[string]struct{}
}

// NewModuleRegistry creates an empty registry. The subject may be nil when
// no event consumer is attached; lifecycle events are then skipped.
func NewModuleRegistry(logger Logger, subject *EventSubject) *ModuleRegistry {
	return &ModuleRegistry{
		logger:       logger,
		subject:      subject,
		now:          time.Now,
		records:      make(map[string]*ModuleRecord),
		capabilities: make(map[ModuleCapability]map[string]struct{}),
	}
}

// emitEvent forwards a lifecycle event through the attached subject, if any.
func (r *ModuleRegistry) emitEvent(ctx context.Context, eventType string, data map[string]interface{}) {
	if r.subject != nil {
		r.subject.emitEvent(ctx, eventType, "module-registry", data, nil)
	}
}

// Register creates a record for a new module. It fails with
// ErrDuplicateModule if the identifier already maps to a non-deregistered
// record. A deregistered tombstone with the same identifier is replaced.
// The record passes through the registering state and is stored active with
// its heartbeat clock started.
func (r *ModuleRegistry) Register(ctx context.Context, moduleID string, capabilities []ModuleCapability, metadata map[string]string) (*ModuleRecord, error) {
	if moduleID == "" {
		return nil, ErrModuleIDEmpty
	}

	now := r.now()
	record := &ModuleRecord{
		ID:            moduleID,
		Capabilities:  append([]ModuleCapability(nil), capabilities...),
		Status:        ModuleStatusRegistering,
		LastHeartbeat: now,
		RegisteredAt:  now,
	}
	if metadata != nil {
		record.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			record.Metadata[k] = v
		}
	}

	r.mu.Lock()
	if existing, ok := r.records[moduleID]; ok && existing.Status.IsLive() {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateModule, moduleID)
	}
	// Registration completes atomically: the stored record is already active.
	record.Status = ModuleStatusActive
	r.records[moduleID] = record
	for _, capability := range record.Capabilities {
		ids, ok := r.capabilities[capability]
		if !ok {
			ids = make(map[string]struct{})
			r.capabilities[capability] = ids
		}
		ids[moduleID] = struct{}{}
	}
	result := record.clone()
	r.mu.Unlock()

	r.logger.Info("Module registered", "module", moduleID, "capabilities", len(capabilities))
	r.emitEvent(ctx, EventTypeModuleRegistered, map[string]interface{}{
		"moduleId":     moduleID,
		"capabilities": capabilities,
	})
	return result, nil
}

// Deregister marks a module as deregistered and removes it from the
// capability index. Idempotent: absent or already-deregistered identifiers
// are a no-op. The tombstone record is kept so pending message references
// stay resolvable.
func (r *ModuleRegistry) Deregister(ctx context.Context, moduleID string) {
	r.mu.Lock()
	record, ok := r.records[moduleID]
	if !ok || !record.Status.IsLive() {
		r.mu.Unlock()
		return
	}
	record.Status = ModuleStatusDeregistered
	for _, capability := range record.Capabilities {
		if ids, ok := r.capabilities[capability]; ok {
			delete(ids, moduleID)
			if len(ids) == 0 {
				delete(r.capabilities, capability)
			}
		}
	}
	r.mu.Unlock()

	r.logger.Info("Module deregistered", "module", moduleID)
	r.emitEvent(ctx, EventTypeModuleDeregistered, map[string]interface{}{
		"moduleId": moduleID,
	})
}

// Heartbeat refreshes a module's liveness timestamp. A heartbeat received
// while the module is degraded or unresponsive transitions it back to active
// (self-healing). Fails with ErrUnknownModule for absent or deregistered
// identifiers.
func (r *ModuleRegistry) Heartbeat(ctx context.Context, moduleID string) error {
	r.mu.Lock()
	record, ok := r.records[moduleID]
	if !ok || !record.Status.IsLive() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownModule, moduleID)
	}
	record.LastHeartbeat = r.now()
	healedFrom := ModuleStatus("")
	if record.Status == ModuleStatusDegraded || record.Status == ModuleStatusUnresponsive {
		healedFrom = record.Status
		record.Status = ModuleStatusActive
	}
	r.mu.Unlock()

	if healedFrom != "" {
		r.logger.Info("Module healed by heartbeat", "module", moduleID, "from", healedFrom)
		r.emitEvent(ctx, EventTypeModuleHealed, map[string]interface{}{
			"moduleId": moduleID,
			"from":     string(healedFrom),
		})
	}
	return nil
}

// FindByCapability returns the identifiers of all active modules declaring
// the capability, sorted for deterministic output. The index is maintained
// incrementally on every mutation; this call never scans all records and
// never blocks behind writers longer than the map lookups themselves.
func (r *ModuleRegistry) FindByCapability(capability ModuleCapability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.capabilities[capability]
	result := make([]string, 0, len(ids))
	for id := range ids {
		if record, ok := r.records[id]; ok && record.Status == ModuleStatusActive {
			result = append(result, id)
		}
	}
	sort.Strings(result)
	return result
}

// Get returns a copy of the record for the given identifier, or false when
// no record exists (deregistered tombstones are still returned).
func (r *ModuleRegistry) Get(moduleID string) (*ModuleRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[moduleID]
	if !ok {
		return nil, false
	}
	return record.clone(), true
}

// List returns copies of all non-deregistered records.
func (r *ModuleRegistry) List() []*ModuleRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*ModuleRecord, 0, len(r.records))
	for _, record := range r.records {
		if record.Status.IsLive() {
			result = append(result, record.clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// ActiveModuleIDs returns the identifiers of all currently active modules.
// Used by the broker to resolve broadcast recipients as a point-in-time
// snapshot.
func (r *ModuleRegistry) ActiveModuleIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.records))
	for id, record := range r.records {
		if record.Status == ModuleStatusActive {
			result = append(result, id)
		}
	}
	sort.Strings(result)
	return result
}

// Snapshot returns a copy of every record, tombstones included, for an
// external persistence collaborator to checkpoint. The registry itself
// stays in-memory.
func (r *ModuleRegistry) Snapshot() []ModuleRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ModuleRecord, 0, len(r.records))
	for _, record := range r.records {
		result = append(result, *record.clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Restore replaces the registry contents with the given records and rebuilds
// the capability index. Intended for checkpoint recovery before the nexus
// starts serving.
func (r *ModuleRegistry) Restore(ctx context.Context, records []ModuleRecord) error {
	for i := range records {
		if records[i].ID == "" {
			return ErrSnapshotRecordInvalid
		}
	}

	r.mu.Lock()
	r.records = make(map[string]*ModuleRecord, len(records))
	r.capabilities = make(map[ModuleCapability]map[string]struct{})
	for i := range records {
		record := records[i].clone()
		r.records[record.ID] = record
		if !record.Status.IsLive() {
			continue
		}
		for _, capability := range record.Capabilities {
			ids, ok := r.capabilities[capability]
			if !ok {
				ids = make(map[string]struct{})
				r.capabilities[capability] = ids
			}
			ids[record.ID] = struct{}{}
		}
	}
	count := len(r.records)
	r.mu.Unlock()

	r.logger.Info("Registry restored from snapshot", "records", count)
	r.emitEvent(ctx, EventTypeSnapshotRestored, map[string]interface{}{
		"records": count,
	})
	return nil
}

// staleSample is a point-in-time view of one record's liveness fields, taken
// by the heartbeat monitor without holding the lock across a whole scan.
type staleSample struct {
	id            string
	status        ModuleStatus
	lastHeartbeat time.Time
}

// liveSamples returns liveness samples for all non-deregistered records.
func (r *ModuleRegistry) liveSamples() []staleSample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	samples := make([]staleSample, 0, len(r.records))
	for id, record := range r.records {
		if record.Status.IsLive() {
			samples = append(samples, staleSample{
				id:            id,
				status:        record.Status,
				lastHeartbeat: record.LastHeartbeat,
			})
		}
	}
	return samples
}

// markStale transitions a module from one status to another only if the
// record still matches the sampled status and its heartbeat is still older
// than the staleness threshold. A heartbeat that arrived between sampling
// and this call wins, so self-healing is never undone by a slow scan.
func (r *ModuleRegistry) markStale(ctx context.Context, moduleID string, from, to ModuleStatus, threshold time.Time) bool {
	r.mu.Lock()
	record, ok := r.records[moduleID]
	if !ok || record.Status != from || !record.LastHeartbeat.Before(threshold) {
		r.mu.Unlock()
		return false
	}
	record.Status = to
	r.mu.Unlock()

	r.logger.Warn("Module status changed", "module", moduleID, "from", from, "to", to)
	r.emitEvent(ctx, EventTypeModuleStatusChanged, map[string]interface{}{
		"moduleId": moduleID,
		"from":     string(from),
		"to":       string(to),
	})
	return true
}

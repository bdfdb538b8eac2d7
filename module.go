// Package nexus provides the coordination core for ACDIN, the Autonomous
// Cross-Domain Integration Nexus. It tracks live AI modules in a registry,
// routes typed messages between them through per-module inbound queues, and
// detects liveness via heartbeats.
//
// The package is a library: the Nexus facade composes the registry, the
// heartbeat monitor, and the message broker, and is constructed explicitly
// and injected wherever it is needed. There is no implicit global state, so
// tests can run multiple independent instances side by side.
//
// Basic usage:
//
//	n := nexus.New(cfg, logger)
//	if err := n.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer n.Stop(ctx)
//
//	rec, err := n.Register(ctx, "vision-1", []nexus.ModuleCapability{"vision"}, nil)
package nexus

import (
	"time"
)

// ModuleCapability is an opaque tag describing a skill a module offers.
// Capabilities are matched by exact string equality during discovery.
type ModuleCapability string

// ModuleStatus represents the lifecycle state of a registered module.
type ModuleStatus string

const (
	// ModuleStatusRegistering indicates registration is in progress.
	ModuleStatusRegistering ModuleStatus = "registering"
	// ModuleStatusActive indicates the module is live and heartbeating.
	ModuleStatusActive ModuleStatus = "active"
	// ModuleStatusDegraded indicates the module missed one heartbeat window.
	ModuleStatusDegraded ModuleStatus = "degraded"
	// ModuleStatusUnresponsive indicates the module missed two consecutive
	// heartbeat windows and is considered down until it heartbeats again.
	ModuleStatusUnresponsive ModuleStatus = "unresponsive"
	// ModuleStatusDeregistered indicates the module explicitly left the
	// collective. Deregistered records are tombstones; their identifiers
	// may be reused by a fresh registration.
	ModuleStatusDeregistered ModuleStatus = "deregistered"
)

// IsLive reports whether the status counts as a non-tombstone registration.
func (s ModuleStatus) IsLive() bool {
	return s != ModuleStatusDeregistered && s != ""
}

// ModuleRecord is the authoritative state of one registered module. The
// registry exclusively owns all records; callers always receive copies, so a
// held ModuleRecord is a snapshot, not a live view.
type ModuleRecord struct {
	// ID uniquely identifies the module. Immutable after registration and
	// globally unique among non-deregistered records.
	ID string `json:"id" yaml:"id"`

	// Capabilities is the set of skills the module offers, used for
	// discovery-based routing.
	Capabilities []ModuleCapability `json:"capabilities" yaml:"capabilities"`

	// Status is the current lifecycle state.
	Status ModuleStatus `json:"status" yaml:"status"`

	// LastHeartbeat is when the registry last received a liveness signal
	// from the module.
	LastHeartbeat time.Time `json:"lastHeartbeat" yaml:"lastHeartbeat"`

	// RegisteredAt is when the module joined.
	RegisteredAt time.Time `json:"registeredAt" yaml:"registeredAt"`

	// Metadata carries opaque module details such as transport address or
	// version. Never interpreted by the core.
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// HasCapability reports whether the record declares the given capability.
func (r *ModuleRecord) HasCapability(capability ModuleCapability) bool {
	for _, c := range r.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// clone returns a deep copy safe to hand outside the registry lock.
func (r *ModuleRecord) clone() *ModuleRecord {
	cp := *r
	cp.Capabilities = make([]ModuleCapability, len(r.Capabilities))
	copy(cp.Capabilities, r.Capabilities)
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

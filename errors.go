package nexus

import (
	"errors"
)

// Core errors
var (
	// Registry errors
	ErrDuplicateModule = errors.New("module already registered")
	ErrUnknownModule   = errors.New("unknown module")
	ErrModuleIDEmpty   = errors.New("module id must not be empty")

	// Broker errors
	ErrInvalidMessage   = errors.New("invalid message")
	ErrNoRecipients     = errors.New("message resolved to no recipients")
	ErrQueueFull        = errors.New("recipient queue full")
	ErrReceiveTimeout   = errors.New("receive timed out")
	ErrInboxClosed      = errors.New("recipient inbox closed")
	ErrBrokerNotStarted = errors.New("broker not started")

	// Lifecycle errors
	ErrNexusNotStarted     = errors.New("nexus not started")
	ErrNexusAlreadyStarted = errors.New("nexus already started")
	ErrShutdownTimeout     = errors.New("shutdown timed out")

	// Observer errors
	ErrObserverNil = errors.New("observer cannot be nil")

	// Config errors
	ErrConfigNil                 = errors.New("config is nil")
	ErrConfigNodeIDInvalid       = errors.New("node id must not contain whitespace")
	ErrConfigPortOutOfRange      = errors.New("api port must be between 1024 and 65535")
	ErrConfigPollIntervalTooLow  = errors.New("discovery poll interval must be at least 5s")
	ErrConfigTimeoutTooLow       = errors.New("heartbeat timeout must be at least 30s")
	ErrConfigQueueCapacityTooLow = errors.New("queue capacity must be at least 1")
	ErrConfigEnvironmentInvalid  = errors.New("environment must be development, staging or production")

	// Snapshot errors
	ErrSnapshotRecordInvalid = errors.New("snapshot record missing module id")
	ErrCheckpointerNil       = errors.New("checkpointer cannot be nil")
)

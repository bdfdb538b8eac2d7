package nexus

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// observerRegistration holds information about a registered observer
type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool // set of event types this observer is interested in
	registeredAt time.Time
}

// EventSubject is the concrete Subject used by the nexus core. All components
// (registry, heartbeat monitor, broker) emit their lifecycle events through a
// shared EventSubject, so a single observer registration sees the whole
// collective's activity.
type EventSubject struct {
	logger        Logger
	observers     map[string]*observerRegistration // key is observer ID
	observerMutex sync.RWMutex
}

// NewEventSubject creates an event subject using the given logger for
// observer bookkeeping and failure reporting.
func NewEventSubject(logger Logger) *EventSubject {
	return &EventSubject{
		logger:    logger,
		observers: make(map[string]*observerRegistration),
	}
}

// RegisterObserver adds an observer to receive notifications. Observers can
// optionally filter events by type; an empty eventTypes means all events.
func (s *EventSubject) RegisterObserver(observer Observer, eventTypes ...string) error {
	if observer == nil {
		return ErrObserverNil
	}

	s.observerMutex.Lock()
	defer s.observerMutex.Unlock()

	eventTypeMap := make(map[string]bool)
	for _, eventType := range eventTypes {
		eventTypeMap[eventType] = true
	}

	s.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   eventTypeMap,
		registeredAt: time.Now(),
	}

	s.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

// UnregisterObserver removes an observer from receiving notifications.
// Idempotent; won't error if the observer wasn't registered.
func (s *EventSubject) UnregisterObserver(observer Observer) error {
	if observer == nil {
		return ErrObserverNil
	}

	s.observerMutex.Lock()
	defer s.observerMutex.Unlock()

	if _, exists := s.observers[observer.ObserverID()]; exists {
		delete(s.observers, observer.ObserverID())
		s.logger.Debug("Observer unregistered", "observerID", observer.ObserverID())
	}

	return nil
}

// NotifyObservers sends a CloudEvent to all registered observers. The
// notification process is non-blocking for the caller; observer errors and
// panics are logged, never propagated.
func (s *EventSubject) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	s.observerMutex.RLock()
	defer s.observerMutex.RUnlock()

	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}

	if err := ValidateCloudEvent(event); err != nil {
		s.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return err
	}

	for _, registration := range s.observers {
		registration := registration // capture for goroutine

		if len(registration.eventTypes) > 0 && !registration.eventTypes[event.Type()] {
			continue // observer not interested in this event type
		}

		go func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Observer panicked", "observerID", registration.observer.ObserverID(), "event", event.Type(), "panic", r)
				}
			}()

			if err := registration.observer.OnEvent(ctx, event); err != nil {
				s.logger.Error("Observer error", "observerID", registration.observer.ObserverID(), "event", event.Type(), "error", err)
			}
		}()
	}

	return nil
}

// GetObservers returns information about currently registered observers.
func (s *EventSubject) GetObservers() []ObserverInfo {
	s.observerMutex.RLock()
	defer s.observerMutex.RUnlock()

	info := make([]ObserverInfo, 0, len(s.observers))
	for _, registration := range s.observers {
		eventTypes := make([]string, 0, len(registration.eventTypes))
		for eventType := range registration.eventTypes {
			eventTypes = append(eventTypes, eventType)
		}
		info = append(info, ObserverInfo{
			ID:           registration.observer.ObserverID(),
			EventTypes:   eventTypes,
			RegisteredAt: registration.registeredAt,
		})
	}
	return info
}

// emitEvent builds a CloudEvent and notifies observers without blocking the
// emitting component.
func (s *EventSubject) emitEvent(ctx context.Context, eventType, source string, data interface{}, metadata map[string]interface{}) {
	event := NewCloudEvent(eventType, source, data, metadata)

	go func() {
		if err := s.NotifyObservers(ctx, event); err != nil {
			s.logger.Error("Failed to notify observers", "event", eventType, "error", err)
		}
	}()
}

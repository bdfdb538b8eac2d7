package nexus

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// mockLogger collects log calls for assertions without producing output.
type mockLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

func (l *mockLogger) log(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *mockLogger) Info(msg string, args ...any)  { l.log("info", msg, args...) }
func (l *mockLogger) Error(msg string, args ...any) { l.log("error", msg, args...) }
func (l *mockLogger) Warn(msg string, args ...any)  { l.log("warn", msg, args...) }
func (l *mockLogger) Debug(msg string, args ...any) { l.log("debug", msg, args...) }

func (l *mockLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var msgs []string
	for _, e := range l.entries {
		if e.level == level {
			msgs = append(msgs, e.msg)
		}
	}
	return msgs
}

// testEventObserver captures emitted CloudEvents for assertions.
type testEventObserver struct {
	id     string
	mu     sync.Mutex
	events []cloudevents.Event
}

func newTestEventObserver(id string) *testEventObserver {
	return &testEventObserver{id: id}
}

func (t *testEventObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event.Clone())
	return nil
}

func (t *testEventObserver) ObserverID() string {
	return t.id
}

func (t *testEventObserver) eventsOfType(eventType string) []cloudevents.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []cloudevents.Event
	for _, e := range t.events {
		if e.Type() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// waitForEvent polls until at least n events of the given type arrive or the
// timeout passes. Event notification is asynchronous by design, so tests
// must wait rather than assert immediately.
func (t *testEventObserver) waitForEvent(eventType string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(t.eventsOfType(eventType)) >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// testConfig returns a valid config with fast broker settings for tests.
func testConfig() *Config {
	return &Config{
		NodeID:                       "node_test",
		APIPort:                      8000,
		DiscoveryPollIntervalSeconds: 5,
		HeartbeatTimeoutSeconds:      30,
		QueueCapacity:                8,
		DirectSendTimeoutSeconds:     1,
	}
}

// newTestNexus builds and starts a nexus for facade-level tests.
func newTestNexus(ctx context.Context) (*Nexus, *mockLogger, error) {
	logger := &mockLogger{}
	n, err := New(testConfig(), logger)
	if err != nil {
		return nil, nil, err
	}
	if err := n.Start(ctx); err != nil {
		return nil, nil, err
	}
	return n, logger, nil
}

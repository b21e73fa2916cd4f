package log

// Logger receives device manager events. A nil Logger disables logging at
// every call site.
type Logger interface {
	// Log records an event. Implementations must be safe for concurrent
	// use and must not call back into the component that logged.
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}

package exec

import (
	"time"
)

// EventType names one lifecycle notification on the engine's event bus.
type EventType string

const (
	QueryStart   EventType = "query:execute:start"
	QuerySuccess EventType = "query:execute:success"
	QueryFailed  EventType = "query:execute:failed"

	CommandStart   EventType = "command:execute:start"
	CommandSuccess EventType = "command:execute:success"
	CommandFailed  EventType = "command:execute:failed"

	SessionBegin    EventType = "session:begin"
	SessionCommit   EventType = "session:commit"
	SessionRollback EventType = "session:rollback"
)

// Event is the telemetry payload emitted around query and command
// execution. Correlation carries the same identifier that error messages
// reference, so a host can join its logs to the event stream.
type Event struct {
	Type        EventType     `json:"type"`
	Object      string        `json:"object,omitempty"`
	Operation   string        `json:"operation"`
	Backend     string        `json:"backend"`
	Correlation string        `json:"correlation"`
	Shape       string        `json:"shape,omitempty"`
	Rows        int           `json:"rows"`
	Duration    time.Duration `json:"duration"`
	Error       *string       `json:"error,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

func failure(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

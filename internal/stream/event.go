// Package stream provides the in-memory output streaming hub.
package stream

import "time"

// EventType identifies a streaming event
type EventType string

const (
	EventStarted       EventType = "Started"
	EventOutput        EventType = "Output"
	EventError         EventType = "Error"
	EventStatus        EventType = "Status"
	EventProgress      EventType = "Progress"
	EventResourceUsage EventType = "ResourceUsage"
	EventCompleted     EventType = "Completed"
	EventInitialLogs   EventType = "InitialLogs"
	EventWarning       EventType = "Warning"
)

// Event is one entry in an execution's ordered event stream
type Event struct {
	ExecutionID string                 `json:"executionId"`
	UserID      string                 `json:"userId,omitempty"`
	Type        EventType              `json:"type"`
	Stream      string                 `json:"stream,omitempty"`
	Line        string                 `json:"line,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Seq         uint64                 `json:"seq"`
}

// Emitter is the sink the process supervisor pushes events into
type Emitter interface {
	Emit(event Event)
}

// EmitterFunc adapts a function to the Emitter interface
type EmitterFunc func(Event)

// Emit calls f
func (f EmitterFunc) Emit(event Event) { f(event) }

package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// EventType is the last token of a run event subject.
type EventType string

const (
	EventStarted     EventType = "started"
	EventStage       EventType = "stage"
	EventCompleted   EventType = "completed"
	EventFailed      EventType = "failed"
	EventCancelled   EventType = "cancelled"
	EventInterrupted EventType = "interrupted"
)

// Event is the payload of a run lifecycle notification.
type Event struct {
	Type      EventType `json:"type"`
	Run       Run       `json:"run"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher receives run lifecycle events. Publishing is best effort: an
// error is logged and never fails the run.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

// NATSPublisher publishes run events to NATS subjects:
//
//	runs.{thread_id}.{run_id}.started
//	runs.{thread_id}.{run_id}.stage
//	runs.{thread_id}.{run_id}.completed
//	runs.{thread_id}.{run_id}.failed
//	runs.{thread_id}.{run_id}.cancelled
//	runs.{thread_id}.{run_id}.interrupted
//
// Subscribers can follow one thread with runs.{thread_id}.>.
type NATSPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

// ConnectNATS dials url and returns a publisher owning the connection.
func ConnectNATS(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("seagent"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSPublisher(nc), nil
}

// Subject returns the subject ev is published on.
func Subject(ev Event) string {
	return fmt.Sprintf("runs.%s.%s.%s", ev.Run.ThreadID, ev.Run.ID, ev.Type)
}

func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}
	if err := p.nc.Publish(Subject(ev), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// terminalEvent maps a final run status to its event.
func terminalEvent(s RunStatus) EventType {
	switch s {
	case RunSucceeded:
		return EventCompleted
	case RunFailed:
		return EventFailed
	case RunCancelled:
		return EventCancelled
	default:
		return EventInterrupted
	}
}

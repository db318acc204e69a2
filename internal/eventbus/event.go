// Package eventbus implements the dotted-namespace event taxonomy of
// spec.md §4.5: events are not queued in memory, emission is a
// database-centric operation that pattern-matches enabled webhook
// subscriptions and enqueues delivery rows in the same transaction as the
// triggering mutation.
package eventbus

import (
	"encoding/json"
	"time"
)

// Type is a dotted-namespace event type, e.g. "deployment_object.created".
type Type string

// Event types emitted by the broker, per spec.md §4.5's examples and §8's
// testable scenarios.
const (
	TypeAgentRegistered           Type = "agent.registered"
	TypeAgentHeartbeat            Type = "agent.heartbeat"
	TypeAgentUnreachable          Type = "agent.unreachable"
	TypeGeneratorRegistered       Type = "generator.registered"
	TypeStackCreated              Type = "stack.created"
	TypeStackDeleted              Type = "stack.deleted"
	TypeDeploymentObjectCreated   Type = "deployment_object.created"
	TypeDeploymentObjectSucceeded Type = "deployment_object.succeeded"
	TypeDeploymentObjectFailed    Type = "deployment_object.failed"
	TypeWorkOrderCreated          Type = "workorder.created"
	TypeWorkOrderClaimed          Type = "workorder.claimed"
	TypeWorkOrderSucceeded        Type = "workorder.succeeded"
	TypeWorkOrderFailed           Type = "workorder.failed"
	TypeWorkOrderCancelled        Type = "workorder.cancelled"
	TypeHealthDegraded            Type = "health.degraded"
	TypeHealthFailing             Type = "health.failing"
	TypeHealthRecovered           Type = "health.recovered"
)

// Event is the record shape of spec.md §4.5: {id, event_type, timestamp,
// payload}. ID is assigned by the caller (typically the entity's own id)
// so subscribers can correlate deliveries without a separate events table.
type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// New builds an Event with the given id/type, marshaling payload to JSON.
// A marshal failure collapses payload to `null` rather than erroring —
// event emission must never block the mutation it describes.
func New(id string, typ Type, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}
	return Event{ID: id, Type: typ, Timestamp: time.Now().UTC(), Payload: data}
}

// JSON renders the event as the `{event}` POST body spec.md §4.5 describes
// for broker-delivered webhooks.
func (e Event) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

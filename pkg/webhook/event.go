// Package webhook notifies a registered endpoint of record changes. Each
// Create, Update or Delete is posted as a JSON remote execution context,
// the shape a Dataverse service endpoint registration receives.
package webhook

import (
	"time"

	"github.com/google/uuid"
)

// Pipeline values carried by every event. The twin only raises
// asynchronous post-operation notifications.
const (
	StagePostOperation = 40
	ModeAsynchronous   = 1
)

// Parameter is one entry of InputParameters.
type Parameter struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Event is the execution context posted for one record operation.
type Event struct {
	CorrelationID      string      `json:"CorrelationId"`
	MessageName        string      `json:"MessageName"`
	PrimaryEntityName  string      `json:"PrimaryEntityName"`
	PrimaryEntityID    string      `json:"PrimaryEntityId"`
	UserID             string      `json:"UserId,omitempty"`
	InitiatingUserID   string      `json:"InitiatingUserId,omitempty"`
	Stage              int         `json:"Stage"`
	Mode               int         `json:"Mode"`
	Depth              int         `json:"Depth"`
	OperationCreatedOn time.Time   `json:"OperationCreatedOn"`
	InputParameters    []Parameter `json:"InputParameters,omitempty"`
}

// NewEvent builds the context for message ("Create", "Update" or "Delete")
// on one record. target, the written attributes, becomes the Target input
// parameter; Delete carries none.
func NewEvent(message, entity, id, userID string, target map[string]any) Event {
	evt := Event{
		CorrelationID:      uuid.NewString(),
		MessageName:        message,
		PrimaryEntityName:  entity,
		PrimaryEntityID:    id,
		UserID:             userID,
		InitiatingUserID:   userID,
		Stage:              StagePostOperation,
		Mode:               ModeAsynchronous,
		Depth:              1,
		OperationCreatedOn: time.Now().UTC(),
	}
	if target != nil {
		evt.InputParameters = []Parameter{{Key: "Target", Value: target}}
	}
	return evt
}

// Package workflow hands delegated bot requests to an asynchronous runner
// and tracks their runs until the reply is delivered.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/cmms-omnibot/internal/session"
)

var (
	// ErrRejected means the runner refused the trigger.
	ErrRejected = errors.New("workflow: trigger rejected")
	// ErrRunExists means a run with the same correlation id was already claimed.
	ErrRunExists = errors.New("workflow: run already exists")
	// ErrRunNotFound means no run is recorded for the correlation id.
	ErrRunNotFound = errors.New("workflow: run not found")
)

// Payload is the request snapshot shipped with a trigger.
type Payload struct {
	UserID      string           `json:"user_id"`
	Channel     string           `json:"channel"`
	Message     string           `json:"message"`
	Session     *session.Session `json:"session,omitempty"`
	RequestedAt time.Time        `json:"requested_at"`
}

// Record is one delegated request. CorrelationID is minted once per logical
// request and reused by every retry of its trigger.
type Record struct {
	WorkflowID    string  `json:"workflow_id"`
	CorrelationID string  `json:"correlation_id"`
	Payload       Payload `json:"payload"`
}

// Validate checks the fields every runner depends on.
func (r Record) Validate() error {
	switch {
	case r.WorkflowID == "":
		return errors.New("workflow: workflow id required")
	case r.CorrelationID == "":
		return errors.New("workflow: correlation id required")
	case r.Payload.UserID == "":
		return errors.New("workflow: user id required")
	}
	return nil
}

// Triggerer starts a workflow run. Implementations must treat a repeated
// correlation id as success.
type Triggerer interface {
	Trigger(ctx context.Context, rec Record) error
}

// Processor turns a delegated record into the reply text for the user. On
// failure it may still return text, which the worker delivers before marking
// the run failed.
type Processor interface {
	ProcessTrigger(ctx context.Context, rec Record) (string, error)
}

// Result is the outcome handed to a Deliverer once a run finishes.
type Result struct {
	CorrelationID string `json:"correlation_id"`
	WorkflowID    string `json:"workflow_id,omitempty"`
	UserID        string `json:"user_id"`
	Channel       string `json:"channel"`
	Message       string `json:"message"`
}

// Deliverer routes a finished run's reply back to the user.
type Deliverer interface {
	Deliver(ctx context.Context, res Result) error
}

func encodeRecord(rec Record) (string, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("workflow: failed to encode record: %w", err)
	}
	return string(body), nil
}

func decodeRecord(body string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return Record{}, fmt.Errorf("workflow: failed to decode record: %w", err)
	}
	return rec, rec.Validate()
}

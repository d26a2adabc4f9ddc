package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Directive tells the caller what, if anything, it must do on the runner's behalf.
type Directive int

const (
	// DirectiveNone is a plain acknowledgement.
	DirectiveNone Directive = iota
	// DirectiveFetchLocation asks the caller to read the device position itself,
	// since the runner has no access to the positioning API.
	DirectiveFetchLocation
	// DirectiveUnknown is any action string this build does not recognise.
	DirectiveUnknown
)

const actionFetchLocation = "requestLocationFromMainThread"

func (d Directive) String() string {
	switch d {
	case DirectiveNone:
		return "none"
	case DirectiveFetchLocation:
		return actionFetchLocation
	default:
		return "unknown"
	}
}

func (d Directive) MarshalText() ([]byte, error) {
	switch d {
	case DirectiveNone:
		return []byte(""), nil
	case DirectiveFetchLocation:
		return []byte(actionFetchLocation), nil
	default:
		return nil, fmt.Errorf("directive %d has no wire form", int(d))
	}
}

func (d *Directive) UnmarshalText(b []byte) error {
	switch string(b) {
	case "":
		*d = DirectiveNone
	case actionFetchLocation:
		*d = DirectiveFetchLocation
	default:
		*d = DirectiveUnknown
	}
	return nil
}

// Status is the runner state reported by the getStatus event.
type Status struct {
	Label          string `json:"label"`
	HeartbeatCount int64  `json:"heartbeatCount"`
	TaskCount      int64  `json:"taskCount"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
	StartedAt      int64  `json:"startedAt"`
	IsRunning      bool   `json:"isRunning"`
}

// Response is a successful handler result.
type Response struct {
	Success   bool      `json:"success"`
	Action    Directive `json:"action,omitempty"`
	Message   string    `json:"message,omitempty"`
	TaskID    int64     `json:"taskId,omitempty"`
	Timestamp int64     `json:"timestamp"`
	Status    *Status   `json:"status,omitempty"`
}

// HandlerError is a rejected invocation: {success:false, error, taskId} on the wire.
type HandlerError struct {
	Message string
	TaskID  int64
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("runner task %d failed: %s", e.TaskID, e.Message)
}

// envelope is the wire form shared by replies and rejections.
type envelope struct {
	Success   bool      `json:"success"`
	Action    Directive `json:"action,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	TaskID    int64     `json:"taskId"`
	Timestamp int64     `json:"timestamp,omitempty"`
	Status    *Status   `json:"status,omitempty"`
}

// EncodeReply renders a handler outcome in wire form. Errors that are not
// HandlerErrors are reported with task id 0.
func EncodeReply(resp Response, err error) ([]byte, error) {
	if err != nil {
		env := envelope{Success: false, Error: err.Error()}
		var he *HandlerError
		if errors.As(err, &he) {
			env.Error = he.Message
			env.TaskID = he.TaskID
		}
		return json.Marshal(env)
	}
	return json.Marshal(envelope{
		Success:   resp.Success,
		Action:    resp.Action,
		Message:   resp.Message,
		TaskID:    resp.TaskID,
		Timestamp: resp.Timestamp,
		Status:    resp.Status,
	})
}

// DecodeReply parses a wire reply. A {success:false} reply becomes a *HandlerError.
func DecodeReply(b []byte) (Response, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Response{}, fmt.Errorf("decode runner reply: %w", err)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "runner rejected the event"
		}
		return Response{}, &HandlerError{Message: msg, TaskID: env.TaskID}
	}
	return Response{
		Success:   true,
		Action:    env.Action,
		Message:   env.Message,
		TaskID:    env.TaskID,
		Timestamp: env.Timestamp,
		Status:    env.Status,
	}, nil
}

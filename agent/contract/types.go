package contract

import (
	"encoding/json"
	"time"

	"github.com/tanpawarit/Chative-Scheduling-Assistant/pkg/model"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the transcript handed to the oracle. Assistant
// messages may carry the action requests they issued; tool messages carry the
// observation for exactly one of them, linked by ToolCallID.
type Message struct {
	Role       Role            `json:"role"`
	Content    string          `json:"content"`
	ToolCalls  []ActionRequest `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

// ActionRequest is an untrusted action request emitted by the oracle. It is
// validated against the action registry before anything is executed.
type ActionRequest struct {
	CallID        string         `json:"call_id"`
	Name          string         `json:"name"`
	RawParameters map[string]any `json:"parameters,omitempty"`
}

type OracleRequest struct {
	Messages []Message `json:"messages"`
	Now      time.Time `json:"now"`
	TimeZone string    `json:"timezone"`
	Context  string    `json:"context,omitempty"`
}

// OracleResponse is either plain text (Requests empty) or one or more action
// requests. Text accompanying requests is kept for the transcript only.
type OracleResponse struct {
	Text     string          `json:"text,omitempty"`
	Requests []ActionRequest `json:"requests,omitempty"`
}

type ErrorKind string

const (
	ErrorKindValidation         ErrorKind = "validation"
	ErrorKindSlotUnavailable    ErrorKind = "slot_unavailable"
	ErrorKindNotFound           ErrorKind = "not_found"
	ErrorKindTransientTransport ErrorKind = "transient_transport"
	ErrorKindClient             ErrorKind = "client"
	ErrorKindServer             ErrorKind = "server"
	ErrorKindUnknown            ErrorKind = "unknown"
)

// Observation is the structured outcome of one action request. Failures are
// data: Error and ErrorKind are set and Result is empty.
type Observation struct {
	CallID    string    `json:"-"`
	Action    string    `json:"action"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

func (o Observation) OK() bool {
	return o.Error == "" && o.ErrorKind == ""
}

// ToolMessage renders the observation as the tool message answering CallID.
func (o Observation) ToolMessage() Message {
	payload, err := json.Marshal(o)
	if err != nil {
		payload, _ = json.Marshal(Observation{
			Action:    o.Action,
			Error:     "observation could not be encoded: " + err.Error(),
			ErrorKind: ErrorKindUnknown,
		})
	}
	return Message{
		Role:       RoleTool,
		Content:    string(payload),
		ToolCallID: o.CallID,
		Name:       o.Action,
	}
}

type BookingEventType string

const (
	BookingCreated     BookingEventType = "booking.created"
	BookingCancelled   BookingEventType = "booking.cancelled"
	BookingRescheduled BookingEventType = "booking.rescheduled"
)

// BookingEvent is published after a successful mutating action.
type BookingEvent struct {
	Type        BookingEventType `json:"type"`
	BookingUID  string           `json:"booking_uid"`
	PreviousUID string           `json:"previous_uid,omitempty"`
	Booking     *model.Booking   `json:"booking,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

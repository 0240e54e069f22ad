// Package action declares the actions the oracle may request, turns raw
// requests into typed actions and executes them against the scheduling
// service.
package action

import (
	"sort"

	"github.com/cloudwego/eino/schema"
)

type Name string

const (
	ListEventTypes     Name = "list_event_types"
	ListAvailableSlots Name = "list_available_slots"
	ListBookings       Name = "list_bookings"
	CreateBooking      Name = "create_booking"
	CancelBooking      Name = "cancel_booking"
	RescheduleBooking  Name = "reschedule_booking"
)

type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
)

// Param describes one parameter. Required means the value must be present
// once defaults are applied; Defaultable parameters are advertised to the
// oracle as optional because the session can supply them.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Defaultable bool
	Enum        []string
}

type Spec struct {
	Name        Name
	Description string
	Destructive bool
	Params      []Param
}

func (s Spec) Param(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Registry is the static set of callable actions. It is immutable after
// NewRegistry and safe for concurrent use.
type Registry struct {
	specs map[Name]Spec
	order []Name
}

type RegistryOption func(*registryOptions)

type registryOptions struct {
	identityDefaults bool
}

// WithoutIdentityDefaults advertises the attendee name and email as required
// for deployments that do not fill them from the session identity.
func WithoutIdentityDefaults() RegistryOption {
	return func(o *registryOptions) {
		o.identityDefaults = false
	}
}

func isIdentityParam(name string) bool {
	return name == "attendee_name" || name == "attendee_email"
}

func NewRegistry(opts ...RegistryOption) *Registry {
	o := registryOptions{identityDefaults: true}
	for _, opt := range opts {
		opt(&o)
	}

	specs := []Spec{
		{
			Name:        ListEventTypes,
			Description: "List the event types that can be booked, with their ids and durations.",
		},
		{
			Name:        ListAvailableSlots,
			Description: "List free start times for an event type. Give either date or start_time and end_time.",
			Params: []Param{
				{Name: "event_type_id", Type: TypeInteger, Description: "Event type id from list_event_types.", Required: true, Defaultable: true},
				{Name: "date", Type: TypeString, Description: "Whole day to search, YYYY-MM-DD."},
				{Name: "start_time", Type: TypeString, Description: "Range start, ISO 8601."},
				{Name: "end_time", Type: TypeString, Description: "Range end, ISO 8601."},
			},
		},
		{
			Name:        ListBookings,
			Description: "List the user's bookings. Call this before cancelling or rescheduling so bookings can be referenced.",
			Params: []Param{
				{Name: "attendee_email", Type: TypeString, Description: "Attendee email to filter by.", Defaultable: true},
				{Name: "status", Type: TypeString, Description: "Which bookings to list.", Enum: []string{"upcoming", "past", "cancelled"}},
				{Name: "after_date", Type: TypeString, Description: "Only bookings starting on or after this day, YYYY-MM-DD."},
				{Name: "before_date", Type: TypeString, Description: "Only bookings starting before the end of this day, YYYY-MM-DD."},
			},
		},
		{
			Name:        CreateBooking,
			Description: "Book a meeting at an available start time.",
			Params: []Param{
				{Name: "event_type_id", Type: TypeInteger, Description: "Event type id from list_event_types.", Required: true, Defaultable: true},
				{Name: "start_time", Type: TypeString, Description: "Start time, ISO 8601 with offset.", Required: true},
				{Name: "attendee_name", Type: TypeString, Description: "Attendee full name.", Required: true, Defaultable: true},
				{Name: "attendee_email", Type: TypeString, Description: "Attendee email.", Required: true, Defaultable: true},
				{Name: "attendee_timezone", Type: TypeString, Description: "Attendee IANA timezone, e.g. Europe/Berlin."},
				{Name: "reason", Type: TypeString, Description: "What the meeting is about."},
			},
		},
		{
			Name:        CancelBooking,
			Description: "Cancel a booking. Identify it by booking_uid from list_bookings, or describe it in booking_reference (e.g. \"my 2pm meeting today\"). The user is asked to confirm before anything is cancelled.",
			Destructive: true,
			Params: []Param{
				{Name: "booking_uid", Type: TypeString, Description: "The booking uid string from list_bookings. Never the numeric id."},
				{Name: "booking_reference", Type: TypeString, Description: "Natural language description of the booking."},
				{Name: "reason", Type: TypeString, Description: "Cancellation reason."},
			},
		},
		{
			Name:        RescheduleBooking,
			Description: "Move a booking to a new start time. Identify it by booking_uid or booking_reference. The user is asked to confirm first.",
			Destructive: true,
			Params: []Param{
				{Name: "booking_uid", Type: TypeString, Description: "The booking uid string from list_bookings. Never the numeric id."},
				{Name: "booking_reference", Type: TypeString, Description: "Natural language description of the booking."},
				{Name: "new_start_time", Type: TypeString, Description: "New start time, ISO 8601 with offset.", Required: true},
				{Name: "reason", Type: TypeString, Description: "Rescheduling reason."},
			},
		},
	}

	if !o.identityDefaults {
		for i := range specs {
			for j, p := range specs[i].Params {
				if p.Required && isIdentityParam(p.Name) {
					specs[i].Params[j].Defaultable = false
				}
			}
		}
	}

	r := &Registry{specs: make(map[Name]Spec, len(specs))}
	for _, s := range specs {
		r.specs[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	return r
}

func (r *Registry) Lookup(name string) (Spec, bool) {
	s, ok := r.specs[Name(name)]
	return s, ok
}

func (r *Registry) Specs() []Spec {
	out := make([]Spec, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.specs[n])
	}
	return out
}

func (r *Registry) IsDestructive(name string) bool {
	s, ok := r.specs[Name(name)]
	return ok && s.Destructive
}

// ToolInfos renders the registry as eino tool declarations.
func (r *Registry) ToolInfos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(r.order))
	for _, spec := range r.Specs() {
		info := &schema.ToolInfo{Name: string(spec.Name), Desc: spec.Description}
		if len(spec.Params) > 0 {
			params := make(map[string]*schema.ParameterInfo, len(spec.Params))
			for _, p := range spec.Params {
				params[p.Name] = &schema.ParameterInfo{
					Type:     einoType(p.Type),
					Desc:     p.Description,
					Required: p.Required && !p.Defaultable,
					Enum:     p.Enum,
				}
			}
			info.ParamsOneOf = schema.NewParamsOneOfByParams(params)
		}
		infos = append(infos, info)
	}
	return infos
}

// JSONSchema renders the parameters of spec as a JSON schema object, the form
// function-calling APIs take directly.
func (r *Registry) JSONSchema(spec Spec) map[string]any {
	properties := make(map[string]any, len(spec.Params))
	required := make([]string, 0, len(spec.Params))
	for _, p := range spec.Params {
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required && !p.Defaultable {
			required = append(required, p.Name)
		}
	}
	sort.Strings(required)
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func einoType(t ParamType) schema.DataType {
	switch t {
	case TypeInteger:
		return schema.Integer
	default:
		return schema.String
	}
}

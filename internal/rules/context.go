package rules

import (
	"strconv"
	"strings"
	"time"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

// DefaultCommentField is the order payload field read as the manager comment.
const DefaultCommentField = "manager_comment"

// EntityContext is everything a block may inspect about one subject: the
// order snapshot, the subject event, the latest matched call with its
// transcript, and the order's log up to evaluation time. Any of the pointer
// fields may be nil depending on the entity type and available data.
type EntityContext struct {
	Entity     ir.EntityType
	SubjectKey string

	Order *ir.Order
	Event *ir.OrderEvent
	Call  *ir.RawCall
	Match *ir.CallOrderMatch

	// Events is the order's change log up to Now, in time order.
	Events []ir.OrderEvent

	WindowStart time.Time
	WindowEnd   time.Time
	// Now is the evaluation time. Elapsed-time checks measure up to it.
	Now time.Time
}

// OrderID returns the subject's order, if any.
func (ec *EntityContext) OrderID() string {
	switch {
	case ec.Order != nil:
		return ec.Order.ID
	case ec.Event != nil:
		return ec.Event.OrderID
	case ec.Match != nil:
		return ec.Match.OrderID
	}
	return ""
}

// CallID returns the subject's call, if any.
func (ec *EntityContext) CallID() string {
	if ec.Call != nil {
		return ec.Call.ID
	}
	return ""
}

// EventID returns the subject event's ID, or 0.
func (ec *EntityContext) EventID() int64 {
	if ec.Event != nil {
		return ec.Event.ID
	}
	return 0
}

// ManagerID returns the responsible manager: the acting manager of an event
// subject, otherwise the order's owner. Empty means system.
func (ec *EntityContext) ManagerID() string {
	if ec.Event != nil && ec.Event.ManagerID != "" {
		return ec.Event.ManagerID
	}
	if ec.Order != nil {
		return ec.Order.ManagerID
	}
	return ""
}

// LatestStatusEvent returns the newest status change in Events.
func (ec *EntityContext) LatestStatusEvent() (ir.OrderEvent, bool) {
	for i := len(ec.Events) - 1; i >= 0; i-- {
		if ec.Events[i].IsStatusChange() {
			return ec.Events[i], true
		}
	}
	return ir.OrderEvent{}, false
}

// Transcript returns the matched or subject call's transcript.
func (ec *EntityContext) Transcript() string {
	if ec.Call == nil {
		return ""
	}
	return ec.Call.Transcript
}

// Comment returns the order payload field used as the manager comment.
func (ec *EntityContext) Comment(field string) string {
	if field == "" {
		field = DefaultCommentField
	}
	if ec.Order == nil {
		return ""
	}
	s, _ := valueText(ec.Order.Payload[field])
	return s
}

// Field resolves a named field on the subject. Event fields, order columns
// and call columns are checked first, then the order payload. ok is false
// when the field does not exist for this subject.
func (ec *EntityContext) Field(name string) (string, bool) {
	if ec.Event != nil {
		switch name {
		case "field":
			return ec.Event.Field, true
		case "old_value":
			return ec.Event.OldValue, true
		case "new_value":
			return ec.Event.NewValue, true
		}
	}
	if ec.Order != nil {
		switch name {
		case "status":
			return ec.Order.Status, true
		case "number":
			return ec.Order.Number, true
		case "manager_id":
			return ec.Order.ManagerID, true
		case "total":
			return ec.Order.Total.String(), true
		}
	}
	if ec.Call != nil {
		switch name {
		case "transcript":
			return ec.Call.Transcript, true
		case "recording_ref":
			return ec.Call.RecordingRef, true
		}
	}
	if ec.Order != nil {
		if v, ok := ec.Order.Payload[name]; ok {
			return valueText(v)
		}
	}
	return "", false
}

// valueText renders a payload value as text. Null and empty containers are blank.
func valueText(v ir.Value) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case ir.Null:
		return "", true
	case ir.String:
		return string(val), true
	case ir.Int:
		return strconv.FormatInt(int64(val), 10), true
	case ir.Bool:
		return strconv.FormatBool(bool(val)), true
	case ir.Array:
		parts := make([]string, 0, len(val))
		for _, elem := range val {
			if s, _ := valueText(elem); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", "), true
	case ir.Object:
		if len(val) == 0 {
			return "", true
		}
		data, err := ir.MarshalValue(val)
		if err != nil {
			return "", true
		}
		return string(data), true
	}
	return "", false
}

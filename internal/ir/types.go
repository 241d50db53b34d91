package ir

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the telephony direction of a call.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// RawCall is a telephony call record. Immutable once ingested except for the
// transcript, which may be attached later.
type RawCall struct {
	ID           string    `json:"id"`
	Direction    Direction `json:"direction"`
	FromNumber   string    `json:"from_number"`
	ToNumber     string    `json:"to_number"`
	StartedAt    time.Time `json:"started_at"`
	DurationSec  int64     `json:"duration_sec"`
	RecordingRef string    `json:"recording_ref,omitempty"`
	Transcript   string    `json:"transcript,omitempty"`
}

// ClientNumber returns the customer-side phone: the caller for inbound calls,
// the callee for outbound calls.
func (c RawCall) ClientNumber() string {
	if c.Direction == DirectionOutbound {
		return c.ToNumber
	}
	return c.FromNumber
}

// Order is the mutable snapshot of a sales order.
type Order struct {
	ID        string          `json:"id"`
	Number    string          `json:"number"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ManagerID string          `json:"manager_id,omitempty"`
	Total     decimal.Decimal `json:"total"`
	Phones    []string        `json:"phones"`
	Payload   Object          `json:"payload"`
}

// StatusField is the OrderEvent field name recorded for status transitions.
const StatusField = "status"

// OrderEvent is one append-only entry of an order's change log.
// An empty ManagerID marks a system-initiated change.
type OrderEvent struct {
	ID         int64     `json:"id"`
	OrderID    string    `json:"order_id"`
	Field      string    `json:"field"`
	OldValue   string    `json:"old_value"`
	NewValue   string    `json:"new_value"`
	ManagerID  string    `json:"manager_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// IsStatusChange reports whether the event records a status transition.
func (e OrderEvent) IsStatusChange() bool {
	return e.Field == StatusField
}

// MatchType tags how a call was associated with an order.
type MatchType string

const (
	MatchExactPhone  MatchType = "exact_phone"
	MatchSuffixPhone MatchType = "suffix_phone"
)

// CallOrderMatch associates a call with at most one order. CallID is the natural key.
type CallOrderMatch struct {
	CallID      string    `json:"call_id"`
	OrderID     string    `json:"order_id"`
	Score       float64   `json:"score"`
	MatchType   MatchType `json:"match_type"`
	Explanation string    `json:"explanation"`
	MatchedAt   time.Time `json:"matched_at"`
}

// EntityType is the subject kind a rule applies to.
type EntityType string

const (
	EntityOrder EntityType = "order"
	EntityCall  EntityType = "call"
	EntityEvent EntityType = "event"
)

// ValidEntityTypes lists the accepted entity types.
var ValidEntityTypes = map[EntityType]bool{
	EntityOrder: true,
	EntityCall:  true,
	EntityEvent: true,
}

// Severity ranks a violation for reviewers.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverities lists the accepted severities.
var ValidSeverities = map[Severity]bool{
	SeverityLow:      true,
	SeverityMedium:   true,
	SeverityHigh:     true,
	SeverityCritical: true,
}

// BlockSpec names a registered block and carries its parameters.
type BlockSpec struct {
	Block  string `json:"block"`
	Params Object `json:"params,omitempty"`
}

// Logic is one trigger block plus condition blocks evaluated in order.
type Logic struct {
	Trigger    BlockSpec   `json:"trigger"`
	Conditions []BlockSpec `json:"conditions"`
}

func (l Logic) toObject() Object {
	conds := make(Array, len(l.Conditions))
	for i, c := range l.Conditions {
		conds[i] = c.toObject()
	}
	return Object{
		"trigger":    l.Trigger.toObject(),
		"conditions": conds,
	}
}

func (b BlockSpec) toObject() Object {
	params := b.Params
	if params == nil {
		params = Object{}
	}
	return Object{
		"block":  String(b.Block),
		"params": params,
	}
}

// Rule is a declarative business rule.
type Rule struct {
	Code       string     `json:"code"`
	Name       string     `json:"name"`
	EntityType EntityType `json:"entity_type"`
	Logic      Logic      `json:"logic"`
	Severity   Severity   `json:"severity"`
	Active     bool       `json:"active"`
	Params     Object     `json:"params,omitempty"`
}

// ReviewStatus is the reviewer verdict on a violation.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewConfirmed ReviewStatus = "confirmed"
	ReviewRejected  ReviewStatus = "rejected"
)

// SystemManager is reported when a violation has no responsible manager.
const SystemManager = "system"

// Violation records a rule firing for one subject. (RuleCode, SubjectKey) is the natural key.
type Violation struct {
	ID           string       `json:"id"`
	RuleCode     string       `json:"rule_code"`
	SubjectKey   string       `json:"subject_key"`
	EntityType   EntityType   `json:"entity_type"`
	OrderID      string       `json:"order_id,omitempty"`
	CallID       string       `json:"call_id,omitempty"`
	EventID      int64        `json:"event_id,omitempty"`
	ManagerID    string       `json:"manager_id,omitempty"`
	Severity     Severity     `json:"severity"`
	Details      Object       `json:"details"`
	LogicHash    string       `json:"logic_hash"`
	ReviewStatus ReviewStatus `json:"review_status"`
	ViolatedAt   time.Time    `json:"violated_at"`
}

// Manager returns the responsible manager, or SystemManager when none.
func (v Violation) Manager() string {
	if v.ManagerID == "" {
		return SystemManager
	}
	return v.ManagerID
}

// SubjectKey builds the "<entity>:<id>" identity used in violation natural keys.
func SubjectKey(entity EntityType, id string) string {
	return fmt.Sprintf("%s:%s", entity, id)
}

// EventSubjectKey builds the subject key of an order event.
func EventSubjectKey(eventID int64) string {
	return SubjectKey(EntityEvent, strconv.FormatInt(eventID, 10))
}

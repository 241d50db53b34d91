package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

// timeLayout is fixed-width so that TEXT comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned when a keyed read matches no row.
var ErrNotFound = errors.New("not found")

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// marshalObject converts an Object to canonical JSON TEXT for storage.
func marshalObject(obj ir.Object) (string, error) {
	if obj == nil {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

// unmarshalObject parses stored JSON TEXT into an Object.
// Uses ir.Object.UnmarshalJSON so large integers keep full precision.
func unmarshalObject(data string) (ir.Object, error) {
	if data == "" || data == "{}" {
		return ir.Object{}, nil
	}
	var obj ir.Object
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return obj, nil
}

// logicDoc is the stored shape of ir.Logic.
type logicDoc struct {
	Trigger    blockDoc   `json:"trigger"`
	Conditions []blockDoc `json:"conditions"`
}

type blockDoc struct {
	Block  string    `json:"block"`
	Params ir.Object `json:"params"`
}

func marshalLogic(l ir.Logic) (string, error) {
	doc := logicDoc{
		Trigger:    blockDoc{Block: l.Trigger.Block, Params: orEmpty(l.Trigger.Params)},
		Conditions: make([]blockDoc, len(l.Conditions)),
	}
	for i, c := range l.Conditions {
		doc.Conditions[i] = blockDoc{Block: c.Block, Params: orEmpty(c.Params)}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal logic: %w", err)
	}
	return string(data), nil
}

func unmarshalLogic(data string) (ir.Logic, error) {
	var doc logicDoc
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return ir.Logic{}, fmt.Errorf("unmarshal logic: %w", err)
	}
	l := ir.Logic{
		Trigger:    ir.BlockSpec{Block: doc.Trigger.Block, Params: orEmpty(doc.Trigger.Params)},
		Conditions: make([]ir.BlockSpec, len(doc.Conditions)),
	}
	for i, c := range doc.Conditions {
		l.Conditions[i] = ir.BlockSpec{Block: c.Block, Params: orEmpty(c.Params)}
	}
	return l, nil
}

func orEmpty(obj ir.Object) ir.Object {
	if obj == nil {
		return ir.Object{}
	}
	return obj
}

func parseTotal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse total %q: %w", s, err)
	}
	return d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

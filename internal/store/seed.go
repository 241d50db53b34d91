package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"gopkg.in/yaml.v3"
)

// Seed is a normalized snapshot of upstream records, as produced by the
// ingestion side. It is the file format of `okkqc import` and of test
// scenarios.
type Seed struct {
	Calls       []SeedCall       `yaml:"calls"`
	Orders      []SeedOrder      `yaml:"orders"`
	Events      []SeedEvent      `yaml:"events"`
	Occurrences []SeedOccurrence `yaml:"phone_occurrences"`
}

// SeedCall is the YAML form of ir.RawCall.
type SeedCall struct {
	ID           string    `yaml:"id"`
	Direction    string    `yaml:"direction"`
	From         string    `yaml:"from"`
	To           string    `yaml:"to"`
	StartedAt    time.Time `yaml:"started_at"`
	DurationSec  int64     `yaml:"duration_sec"`
	RecordingRef string    `yaml:"recording_ref"`
	Transcript   string    `yaml:"transcript"`
}

// SeedOrder is the YAML form of ir.Order.
type SeedOrder struct {
	ID        string         `yaml:"id"`
	Number    string         `yaml:"number"`
	Status    string         `yaml:"status"`
	CreatedAt time.Time      `yaml:"created_at"`
	UpdatedAt time.Time      `yaml:"updated_at"`
	ManagerID string         `yaml:"manager_id"`
	Total     string         `yaml:"total"`
	Phones    []string       `yaml:"phones"`
	Payload   map[string]any `yaml:"payload"`
}

// SeedEvent is the YAML form of ir.OrderEvent.
type SeedEvent struct {
	OrderID    string    `yaml:"order_id"`
	Field      string    `yaml:"field"`
	Old        string    `yaml:"old"`
	New        string    `yaml:"new"`
	ManagerID  string    `yaml:"manager_id"`
	OccurredAt time.Time `yaml:"at"`
}

// SeedOccurrence is one phone-occurrence log entry.
type SeedOccurrence struct {
	OrderID string    `yaml:"order_id"`
	Phone   string    `yaml:"phone"`
	Source  string    `yaml:"source"`
	SeenAt  time.Time `yaml:"seen_at"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return seed, nil
}

// ImportStats counts records written by Import.
type ImportStats struct {
	Calls       int `json:"calls"`
	Orders      int `json:"orders"`
	Events      int `json:"events"`
	Occurrences int `json:"phone_occurrences"`
}

// Import writes a seed through the regular upsert paths. Orders are written
// before events and occurrences so foreign keys resolve. Events keep their
// file order and must be non-decreasing in time per order.
func (s *Store) Import(ctx context.Context, seed Seed) (ImportStats, error) {
	var stats ImportStats

	for _, so := range seed.Orders {
		o, err := so.toOrder()
		if err != nil {
			return stats, err
		}
		if err := s.UpsertOrder(ctx, o); err != nil {
			return stats, err
		}
		stats.Orders++
	}

	for _, sc := range seed.Calls {
		c := ir.RawCall{
			ID:           sc.ID,
			Direction:    ir.Direction(sc.Direction),
			FromNumber:   sc.From,
			ToNumber:     sc.To,
			StartedAt:    sc.StartedAt,
			DurationSec:  sc.DurationSec,
			RecordingRef: sc.RecordingRef,
			Transcript:   sc.Transcript,
		}
		if c.Direction == "" {
			c.Direction = ir.DirectionInbound
		}
		if err := s.UpsertCall(ctx, c); err != nil {
			return stats, err
		}
		stats.Calls++
	}

	for _, se := range seed.Events {
		_, err := s.AppendEvent(ctx, ir.OrderEvent{
			OrderID:    se.OrderID,
			Field:      se.Field,
			OldValue:   se.Old,
			NewValue:   se.New,
			ManagerID:  se.ManagerID,
			OccurredAt: se.OccurredAt,
		})
		if err != nil {
			return stats, err
		}
		stats.Events++
	}

	for _, occ := range seed.Occurrences {
		if err := s.RecordPhoneOccurrence(ctx, occ.OrderID, occ.Phone, occ.Source, occ.SeenAt); err != nil {
			return stats, err
		}
		stats.Occurrences++
	}

	return stats, nil
}

func (so SeedOrder) toOrder() (ir.Order, error) {
	payload, err := ir.ToObject(so.Payload)
	if err != nil {
		return ir.Order{}, fmt.Errorf("order %s payload: %w", so.ID, err)
	}
	total := decimal.Zero
	if so.Total != "" {
		if total, err = decimal.NewFromString(so.Total); err != nil {
			return ir.Order{}, fmt.Errorf("order %s total: %w", so.ID, err)
		}
	}
	updated := so.UpdatedAt
	if updated.IsZero() {
		updated = so.CreatedAt
	}
	return ir.Order{
		ID:        so.ID,
		Number:    so.Number,
		Status:    so.Status,
		CreatedAt: so.CreatedAt,
		UpdatedAt: updated,
		ManagerID: so.ManagerID,
		Total:     total,
		Phones:    so.Phones,
		Payload:   payload,
	}, nil
}

package matching

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/phone"
	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/store"
)

// Cursor names.
const (
	CursorMatching = "matching"
	CursorBackfill = "matching.backfill"
)

// Defaults.
const (
	DefaultWindow    = 48 * time.Hour
	DefaultBatchSize = 200
)

// Store is the persistence the matcher needs. Implemented by *store.Store.
type Store interface {
	FindOrdersByPhones(ctx context.Context, keys []string) ([]ir.Order, error)
	FindOrdersBySuffix(ctx context.Context, suffix string) ([]ir.Order, error)
	UpsertMatch(ctx context.Context, m ir.CallOrderMatch) error
	ReadCallsAfter(ctx context.Context, c store.Cursor, limit int) ([]ir.RawCall, error)
	ReadCursor(ctx context.Context, name string) (store.Cursor, bool, error)
	WriteCursor(ctx context.Context, name string, c store.Cursor) error
}

// Clock supplies wall time for matched_at stamps.
type Clock interface {
	Now() time.Time
}

// RunIDGenerator supplies run identifiers for reports and logs.
type RunIDGenerator interface {
	Generate() string
}

// Config holds the matcher's tunables.
type Config struct {
	Window    time.Duration // maximum call-to-order distance
	BatchSize int           // calls per batch
	SuffixLen int           // digits used for suffix search
}

// Matcher finds and persists call-order matches.
type Matcher struct {
	store  Store
	cfg    Config
	clock  Clock
	runIDs RunIDGenerator
	logger *zap.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithLogger sets the logger. Default: no-op.
func WithLogger(l *zap.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock sets the clock used for matched_at.
func WithClock(c Clock) Option {
	return func(m *Matcher) { m.clock = c }
}

// WithRunIDs sets the run ID generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(m *Matcher) { m.runIDs = g }
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type staticRunID string

func (s staticRunID) Generate() string { return string(s) }

// New creates a Matcher. Zero config fields take their defaults.
func New(s Store, cfg Config, opts ...Option) *Matcher {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.SuffixLen <= 0 {
		cfg.SuffixLen = phone.DefaultSuffixLen
	}
	m := &Matcher{
		store:  s,
		cfg:    cfg,
		clock:  systemClock{},
		runIDs: staticRunID("matching"),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match returns the call's candidate orders, best first. An invalid
// client phone yields no candidates and no error.
func (m *Matcher) Match(ctx context.Context, call ir.RawCall) ([]Candidate, error) {
	key := phone.Normalize(call.ClientNumber())
	if !phone.IsValid(key) {
		return nil, nil
	}

	exact, err := m.store.FindOrdersByPhones(ctx, phone.Expand(key))
	if err != nil {
		return nil, fmt.Errorf("match call %s: %w", call.ID, err)
	}
	suffix := phone.Suffix(key, m.cfg.SuffixLen)
	fuzzy, err := m.store.FindOrdersBySuffix(ctx, suffix)
	if err != nil {
		return nil, fmt.Errorf("match call %s: %w", call.ID, err)
	}

	seen := make(map[string]bool, len(exact)+len(fuzzy))
	var cands []Candidate
	add := func(o ir.Order, t ir.MatchType, p string) {
		if seen[o.ID] {
			return
		}
		seen[o.ID] = true
		delta, ref := timeDelta(call.StartedAt, o)
		if delta > m.cfg.Window {
			return
		}
		cands = append(cands, Candidate{
			Order:     o,
			MatchType: t,
			Score:     score(t, delta, m.cfg.Window),
			Delta:     delta,
			Reference: ref,
			Phone:     p,
		})
	}
	// Exact hits first so an order found both ways counts as exact.
	for _, o := range exact {
		add(o, ir.MatchExactPhone, key)
	}
	for _, o := range fuzzy {
		add(o, ir.MatchSuffixPhone, "*"+suffix)
	}

	rank(cands)
	return cands, nil
}

// MatchAndPersist matches a call and upserts its best candidate. ok is false
// when there was nothing to persist.
func (m *Matcher) MatchAndPersist(ctx context.Context, call ir.RawCall) (ir.CallOrderMatch, bool, error) {
	cands, err := m.Match(ctx, call)
	if err != nil {
		return ir.CallOrderMatch{}, false, err
	}
	if len(cands) == 0 {
		return ir.CallOrderMatch{}, false, nil
	}
	best := cands[0]
	match := ir.CallOrderMatch{
		CallID:      call.ID,
		OrderID:     best.Order.ID,
		Score:       best.Score,
		MatchType:   best.MatchType,
		Explanation: best.Explanation(),
		MatchedAt:   m.clock.Now(),
	}
	if err := m.store.UpsertMatch(ctx, match); err != nil {
		return ir.CallOrderMatch{}, false, err
	}
	return match, true, nil
}

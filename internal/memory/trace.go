// Package memory implements duri's persistent trace store.
//
// A Trace is a validated record of something the system observed or
// concluded: an observation, a strategy that worked, an anti-pattern that
// failed, or a reflection. Confidence is never a free-floating number;
// it is derived from accumulated Beta-distribution evidence updated by
// typed feedback signals.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors for trace operations.
var (
	ErrNotFound        = errors.New("trace not found")
	ErrInvalidTrace    = errors.New("invalid trace")
	ErrEmptyTitle      = errors.New("trace title cannot be empty")
	ErrEmptyContent    = errors.New("trace content cannot be empty")
	ErrInvalidKind     = errors.New("unknown trace kind")
	ErrInvalidOutcome  = errors.New("outcome must be 'success' or 'failure'")
	ErrInvalidEvidence = errors.New("evidence counts must be positive")
	ErrStoreClosed     = errors.New("store is closed")
)

// Kind classifies what a trace records.
type Kind string

const (
	// KindObservation is a raw recorded fact.
	KindObservation Kind = "observation"

	// KindStrategy is an approach that led to a successful outcome.
	KindStrategy Kind = "strategy"

	// KindAntiPattern is an approach that failed and should be avoided.
	KindAntiPattern Kind = "antipattern"

	// KindReflection is a derived conclusion over other traces.
	KindReflection Kind = "reflection"
)

// validKinds is the closed set accepted by Validate.
var validKinds = map[Kind]bool{
	KindObservation: true,
	KindStrategy:    true,
	KindAntiPattern: true,
	KindReflection:  true,
}

// Outcome records whether the traced approach succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// State is the lifecycle state of a trace.
type State string

const (
	// StateActive traces participate in search and reasoning.
	StateActive State = "active"

	// StateArchived traces were consolidated into another trace. They are
	// preserved for attribution but excluded from normal searches.
	StateArchived State = "archived"
)

// Trace is a single validated memory record.
type Trace struct {
	// ID is the unique trace identifier (UUID).
	ID string `json:"id"`

	// Kind classifies the record.
	Kind Kind `json:"kind"`

	// Title is a brief summary.
	Title string `json:"title"`

	// Content is the full record body.
	Content string `json:"content"`

	// Outcome marks success patterns vs failure anti-patterns.
	Outcome Outcome `json:"outcome"`

	// State is active or archived.
	State State `json:"state"`

	// Tags are labels for categorization.
	Tags []string `json:"tags,omitempty"`

	// Alpha is the positive evidence count. Starts at 1 (uniform prior).
	Alpha float64 `json:"alpha"`

	// Beta is the negative evidence count. Starts at 1 (uniform prior).
	Beta float64 `json:"beta"`

	// UsageCount tracks how many times this trace was retrieved.
	UsageCount int `json:"usage_count"`

	// ConsolidationID links an archived trace to the trace it was merged
	// into.
	ConsolidationID *string `json:"consolidation_id,omitempty"`

	// CreatedAt is when the trace was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the trace was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTrace creates a trace with a generated UUID and a uniform prior.
func NewTrace(kind Kind, title, content string, outcome Outcome, tags []string) (*Trace, error) {
	if !validKinds[kind] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if content == "" {
		return nil, ErrEmptyContent
	}
	if outcome != OutcomeSuccess && outcome != OutcomeFailure {
		return nil, ErrInvalidOutcome
	}

	now := time.Now().UTC()
	return &Trace{
		ID:        uuid.New().String(),
		Kind:      kind,
		Title:     title,
		Content:   content,
		Outcome:   outcome,
		State:     StateActive,
		Tags:      tags,
		Alpha:     1.0,
		Beta:      1.0,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Validate checks all trace invariants. Stores call this on every write.
func (t *Trace) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: ID cannot be empty", ErrInvalidTrace)
	}
	if _, err := uuid.Parse(t.ID); err != nil {
		return fmt.Errorf("%w: ID is not a UUID", ErrInvalidTrace)
	}
	if !validKinds[t.Kind] {
		return fmt.Errorf("%w: %q", ErrInvalidKind, t.Kind)
	}
	if t.Title == "" {
		return ErrEmptyTitle
	}
	if t.Content == "" {
		return ErrEmptyContent
	}
	if t.Outcome != OutcomeSuccess && t.Outcome != OutcomeFailure {
		return ErrInvalidOutcome
	}
	if t.State != StateActive && t.State != StateArchived {
		return fmt.Errorf("%w: state must be 'active' or 'archived'", ErrInvalidTrace)
	}
	if t.Alpha <= 0 || t.Beta <= 0 {
		return ErrInvalidEvidence
	}
	if t.UsageCount < 0 {
		return fmt.Errorf("%w: usage count cannot be negative", ErrInvalidTrace)
	}
	return nil
}

// Confidence returns the Beta-distribution mean alpha/(alpha+beta).
//
// With positive alpha and beta the result is strictly inside (0,1): a
// trace can approach certainty but never reach it.
func (t *Trace) Confidence() float64 {
	return t.Alpha / (t.Alpha + t.Beta)
}

// Apply folds a signal into the trace's evidence, weighted by the
// signal type's reliability.
func (t *Trace) Apply(sig *Signal, weights SignalWeights) {
	w := weights.For(sig.Type)
	if sig.Positive {
		t.Alpha += w
	} else {
		t.Beta += w
	}
	t.UpdatedAt = time.Now().UTC()
}

// IncrementUsage bumps the retrieval counter.
func (t *Trace) IncrementUsage() {
	t.UsageCount++
	t.UpdatedAt = time.Now().UTC()
}

// encodeTags serializes tags for storage. nil encodes as "[]".
func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(raw), nil
}

// decodeTags deserializes tags from storage.
func decodeTags(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	return tags, nil
}

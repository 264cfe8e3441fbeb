package memory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Signal-related errors.
var (
	ErrEmptyTraceID      = errors.New("trace ID cannot be empty")
	ErrInvalidSignalType = errors.New("unknown signal type")
)

// SignalType identifies the source of a confidence signal.
type SignalType string

const (
	// SignalExplicit is direct user feedback: helpful or unhelpful.
	SignalExplicit SignalType = "explicit"

	// SignalOutcome is a reported task result that used this trace.
	SignalOutcome SignalType = "outcome"

	// SignalUsage is a retrieval event: the trace matched a search.
	SignalUsage SignalType = "usage"
)

var validSignalTypes = map[SignalType]bool{
	SignalExplicit: true,
	SignalOutcome:  true,
	SignalUsage:    true,
}

// Signal is a single confidence event against a trace.
type Signal struct {
	// ID is the unique signal identifier.
	ID string `json:"id"`

	// TraceID is the trace this signal relates to.
	TraceID string `json:"trace_id"`

	// Type identifies the signal source.
	Type SignalType `json:"type"`

	// Positive indicates a helpful/successful event.
	Positive bool `json:"positive"`

	// SessionID is optional session context for correlation.
	SessionID string `json:"session_id,omitempty"`

	// Timestamp is when this signal was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// NewSignal creates a Signal with a generated ID and current timestamp.
func NewSignal(traceID string, signalType SignalType, positive bool, sessionID string) (*Signal, error) {
	if traceID == "" {
		return nil, ErrEmptyTraceID
	}
	if !validSignalTypes[signalType] {
		return nil, ErrInvalidSignalType
	}

	return &Signal{
		ID:        uuid.New().String(),
		TraceID:   traceID,
		Type:      signalType,
		Positive:  positive,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}, nil
}

// SignalWeights maps each signal type to its evidence contribution.
//
// Explicit feedback moves evidence the most; a mere retrieval moves it
// the least. The values are fixed and documented, not learned or drawn
// at random.
type SignalWeights struct {
	Explicit float64 `json:"explicit"`
	Outcome  float64 `json:"outcome"`
	Usage    float64 `json:"usage"`
}

// DefaultSignalWeights returns the standard weighting.
func DefaultSignalWeights() SignalWeights {
	return SignalWeights{
		Explicit: 1.0,
		Outcome:  0.7,
		Usage:    0.25,
	}
}

// For returns the weight for a signal type. Unknown types contribute
// nothing.
func (w SignalWeights) For(t SignalType) float64 {
	switch t {
	case SignalExplicit:
		return w.Explicit
	case SignalOutcome:
		return w.Outcome
	case SignalUsage:
		return w.Usage
	default:
		return 0
	}
}

// Package judgment evaluates declarative decision rules.
//
// Rules are CEL expressions over a typed decision context (risk, benefit,
// urgency, bottleneck, confidence, tags). They compile once at load; a bad
// expression is a startup failure, not something to swallow at runtime.
// Evaluation returns a verdict naming every rule that fired.
package judgment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/durilabs/duri/internal/config"
)

var tracer = otel.Tracer("duri.judgment")

// Judgment errors.
var (
	ErrCompile        = errors.New("rule compilation failed")
	ErrNotBool        = errors.New("rule expression must evaluate to bool")
	ErrEval           = errors.New("rule evaluation failed")
	ErrInvalidContext = errors.New("invalid decision context")
)

// Outcome is the overall verdict for a decision.
type Outcome string

const (
	OutcomeAllow  Outcome = "allow"
	OutcomeReview Outcome = "review"
	OutcomeDeny   Outcome = "deny"
)

// severityWeights maps rule severity to its contribution to the verdict
// score.
var severityWeights = map[string]float64{
	"low":      0.25,
	"medium":   0.5,
	"high":     0.75,
	"critical": 1.0,
}

// DecisionContext is the typed input a decision is judged on. All scalar
// fields are in [0,1].
type DecisionContext struct {
	// Risk estimates how much could go wrong.
	Risk float64 `json:"risk"`

	// Benefit estimates the expected upside.
	Benefit float64 `json:"benefit"`

	// Urgency expresses how time-pressured the decision is.
	Urgency float64 `json:"urgency"`

	// Bottleneck is the weakest-link reliability of the reasoning path
	// behind the decision, 1 when no path was involved.
	Bottleneck float64 `json:"bottleneck"`

	// Confidence is the evidence-backed confidence of the supporting
	// trace, 0.5 when no trace was involved.
	Confidence float64 `json:"confidence"`

	// Tags label the decision domain ("deploy", "irreversible").
	Tags []string `json:"tags,omitempty"`
}

// Validate checks field ranges.
func (d *DecisionContext) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"risk", d.Risk},
		{"benefit", d.Benefit},
		{"urgency", d.Urgency},
		{"bottleneck", d.Bottleneck},
		{"confidence", d.Confidence},
	} {
		if f.value < 0 || f.value > 1 {
			return fmt.Errorf("%w: %s must be in [0,1], got %f", ErrInvalidContext, f.name, f.value)
		}
	}
	return nil
}

// FiredRule records one rule that matched the decision context.
type FiredRule struct {
	Name     string `json:"name"`
	Severity string `json:"severity"`
	Action   string `json:"action"`
}

// Verdict is the result of judging a decision context.
type Verdict struct {
	// Outcome is deny if any fired rule denies, review if any fired rule
	// requests review, allow otherwise.
	Outcome Outcome `json:"outcome"`

	// Fired lists matched rules in declaration order.
	Fired []FiredRule `json:"fired,omitempty"`

	// Score sums the severity weights of fired rules
	// (low 0.25, medium 0.5, high 0.75, critical 1.0). Zero means no
	// rule matched; higher means more severe.
	Score float64 `json:"score"`
}

type compiledRule struct {
	name     string
	severity string
	action   string
	weight   float64
	program  cel.Program
}

// Engine holds compiled decision rules.
type Engine struct {
	logger *zap.Logger
	rules  []compiledRule
}

// NewEngine compiles the configured rules. Any expression that fails to
// compile, references unknown variables, or does not produce a bool is
// reported here.
func NewEngine(rules []config.RuleConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	env, err := cel.NewEnv(
		cel.Variable("risk", cel.DoubleType),
		cel.Variable("benefit", cel.DoubleType),
		cel.Variable("urgency", cel.DoubleType),
		cel.Variable("bottleneck", cel.DoubleType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("tags", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel environment: %w", err)
	}

	e := &Engine{logger: logger, rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", ErrCompile, r.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("%w: rule %q produces %s", ErrNotBool, r.Name, ast.OutputType())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", ErrCompile, r.Name, err)
		}

		e.rules = append(e.rules, compiledRule{
			name:     r.Name,
			severity: r.Severity,
			action:   r.Action,
			weight:   severityWeights[r.Severity],
			program:  program,
		})
	}

	logger.Info("judgment engine loaded", zap.Int("rules", len(e.rules)))
	return e, nil
}

// RuleCount returns the number of loaded rules.
func (e *Engine) RuleCount() int { return len(e.rules) }

// Evaluate judges a decision context against all rules.
//
// Every rule is evaluated; a runtime evaluation error aborts with ErrEval
// rather than silently skipping the rule.
func (e *Engine) Evaluate(ctx context.Context, d *DecisionContext) (*Verdict, error) {
	ctx, span := tracer.Start(ctx, "Engine.Evaluate")
	defer span.End()

	if d == nil {
		return nil, fmt.Errorf("%w: nil context", ErrInvalidContext)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	vars := map[string]any{
		"risk":       d.Risk,
		"benefit":    d.Benefit,
		"urgency":    d.Urgency,
		"bottleneck": d.Bottleneck,
		"confidence": d.Confidence,
		"tags":       tags,
	}

	verdict := &Verdict{Outcome: OutcomeAllow}
	for _, r := range e.rules {
		out, _, err := r.program.ContextEval(ctx, vars)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %v", ErrEval, r.name, err)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("%w: rule %q returned %T", ErrEval, r.name, out.Value())
		}
		if !matched {
			continue
		}

		verdict.Fired = append(verdict.Fired, FiredRule{
			Name:     r.name,
			Severity: r.severity,
			Action:   r.action,
		})
		verdict.Score += r.weight

		switch r.action {
		case "deny":
			verdict.Outcome = OutcomeDeny
		case "review":
			if verdict.Outcome != OutcomeDeny {
				verdict.Outcome = OutcomeReview
			}
		}

		e.logger.Debug("judgment rule fired",
			zap.String("rule", r.name),
			zap.String("severity", r.severity),
			zap.String("action", r.action),
		)
	}

	span.SetAttributes(
		attribute.String("outcome", string(verdict.Outcome)),
		attribute.Int("fired", len(verdict.Fired)),
	)
	return verdict, nil
}

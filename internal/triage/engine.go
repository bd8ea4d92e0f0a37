// internal/triage/engine.go
package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medtriage/internal/triage")

// Urgency clauses appended to the explanation.
const (
	urgentClause    = "ويُنصح بالتعامل بشكل عاجل"
	nonUrgentClause = "ويمكن المتابعة مع طبيب مختص"
)

// CompleteEvent summarizes a finished run for metrics.
type CompleteEvent struct {
	Severity         Severity
	Urgent           bool
	Confidence       float64
	ConfidenceSource ConfidenceSource
	AnswerStatus     AnswerStatus
	Duration         float64
}

// EngineHooks are optional callbacks for observability. Nil fields are skipped.
type EngineHooks struct {
	OnComplete func(e *CompleteEvent)
	OnDegraded func(cause error)
	OnRejected func(err error)
}

// Engine composes the classifier, severity rules and answer retriever into
// one Result. It holds no per-call state and is safe for concurrent use.
type Engine struct {
	classifier *Classifier
	rules      *Rules
	retriever  *Retriever
	logger     log.Logger
	hooks      EngineHooks
}

// NewEngine creates a new triage engine with the given dependencies.
// A nil rules uses DefaultRules.
func NewEngine(classifier *Classifier, rules *Rules, retriever *Retriever, logger log.Logger, hooks ...EngineHooks) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	if rules == nil {
		rules = DefaultRules()
	}
	var h EngineHooks
	if len(hooks) > 0 {
		h = hooks[0]
	}
	return &Engine{
		classifier: classifier,
		rules:      rules,
		retriever:  retriever,
		logger:     logger,
		hooks:      h,
	}
}

// Run triages one symptom description. history is accepted for callers that
// track a conversation and is not used for scoring.
//
// Only invalid input and classifier artifact errors are returned; retrieval
// failures degrade to a fixed answer.
func (e *Engine) Run(ctx context.Context, symptoms string, history []Turn) (*Result, error) {
	text := strings.TrimSpace(symptoms)
	if text == "" {
		if e.hooks.OnRejected != nil {
			e.hooks.OnRejected(ErrInvalidInput)
		}
		return nil, ErrInvalidInput
	}

	ctx, span := tracer.Start(ctx, "triage.Run")
	defer span.End()
	span.SetAttributes(
		attribute.Int("medtriage.symptoms.length", len(text)),
		attribute.Int("medtriage.history.turns", len(history)),
	)

	start := time.Now()

	pred, err := e.classifier.Predict(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if e.hooks.OnRejected != nil {
			e.hooks.OnRejected(err)
		}
		return nil, fmt.Errorf("classify: %w", err)
	}

	severity, urgent := e.rules.Classify(text)

	ans := e.retriever.Answer(ctx, text, pred.Label)
	if ans.Status == AnswerDegraded {
		e.logger.Warn(ctx, "answer retrieval degraded", "error", ans.Cause, "label", pred.Label)
		span.AddEvent("retrieval degraded")
		if e.hooks.OnDegraded != nil {
			e.hooks.OnDegraded(ans.Cause)
		}
	}

	result := &Result{
		Specialty:        pred.Specialty,
		SeverityLevel:    severity,
		Urgent:           urgent,
		Explanation:      buildExplanation(pred.Specialty, pred.Confidence, severity, urgent),
		Confidence:       pred.Confidence,
		Answer:           ans.Text,
		AnswerConfidence: ans.Confidence,
		Disclaimer:       Disclaimer,
		ModelLabel:       pred.Label,
		ConfidenceSource: pred.Source,
		AnswerStatus:     ans.Status,
	}

	span.SetAttributes(
		attribute.String("medtriage.specialty", result.Specialty),
		attribute.String("medtriage.severity", string(result.SeverityLevel)),
		attribute.Bool("medtriage.urgent", result.Urgent),
		attribute.String("medtriage.answer_status", string(result.AnswerStatus)),
	)

	if e.hooks.OnComplete != nil {
		e.hooks.OnComplete(&CompleteEvent{
			Severity:         severity,
			Urgent:           urgent,
			Confidence:       pred.Confidence,
			ConfidenceSource: pred.Source,
			AnswerStatus:     ans.Status,
			Duration:         time.Since(start).Seconds(),
		})
	}

	return result, nil
}

// buildExplanation renders the fixed explanation sentence.
func buildExplanation(specialty string, confidence float64, severity Severity, urgent bool) string {
	clause := nonUrgentClause
	if urgent {
		clause = urgentClause
	}
	return fmt.Sprintf(
		"التصنيف الآلي يقترح التخصص: %s بثقة تقريبية %.2f%%. تم تقدير مستوى الخطورة: %s %s.",
		specialty, confidence*100, severity, clause,
	)
}

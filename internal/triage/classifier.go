package triage

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/linnemanlabs/medtriage/internal/artifact"
	"github.com/linnemanlabs/medtriage/internal/model"
)

// DefaultConfidence is used when the model exposes neither probabilities nor
// usable decision scores.
const DefaultConfidence = 0.5

// ClassifierSource provides the loaded classifier bundle.
type ClassifierSource interface {
	ClassifierBundle(ctx context.Context) (*artifact.ClassifierBundle, error)
}

// Prediction is the classifier output for one query.
type Prediction struct {
	Label      string
	Specialty  string
	Confidence float64
	Source     ConfidenceSource
}

// Classifier predicts the specialty for a query.
type Classifier struct {
	src ClassifierSource
}

// NewClassifier creates a Classifier backed by src.
func NewClassifier(src ClassifierSource) *Classifier {
	return &Classifier{src: src}
}

// Predict returns the predicted label, its specialty name and a confidence in [0,1].
func (c *Classifier) Predict(ctx context.Context, text string) (Prediction, error) {
	b, err := c.src.ClassifierBundle(ctx)
	if err != nil {
		return Prediction{}, err
	}

	label, err := b.Model.Predict(text)
	if err != nil {
		return Prediction{}, fmt.Errorf("predict: %w", err)
	}

	conf, src := confidence(b.Model, text, label)
	return Prediction{
		Label:      label,
		Specialty:  b.Labels.Specialty(label),
		Confidence: conf,
		Source:     src,
	}, nil
}

// confidenceAttempt derives a confidence for the class at idx; ok is false
// when the model cannot provide one.
type confidenceAttempt struct {
	source ConfidenceSource
	try    func(m model.Classifier, text string, idx int) (float64, bool)
}

// confidenceAttempts are tried in order; the first ok result wins.
var confidenceAttempts = []confidenceAttempt{
	{ConfidenceProbability, probabilityConfidence},
	{ConfidenceDecisionScore, decisionConfidence},
}

func confidence(m model.Classifier, text, label string) (float64, ConfidenceSource) {
	idx := slices.Index(m.Classes(), label)
	if idx >= 0 {
		for _, a := range confidenceAttempts {
			if v, ok := a.try(m, text, idx); ok {
				return v, a.source
			}
		}
	}
	return DefaultConfidence, ConfidenceDefault
}

func probabilityConfidence(m model.Classifier, text string, idx int) (float64, bool) {
	p, ok := m.(model.Prober)
	if !ok {
		return 0, false
	}
	probs, err := p.PredictProba(text)
	if err != nil || len(probs) != len(m.Classes()) {
		return 0, false
	}
	return unit(probs[idx])
}

func decisionConfidence(m model.Classifier, text string, idx int) (float64, bool) {
	s, ok := m.(model.Scorer)
	if !ok {
		return 0, false
	}
	scores, err := s.DecisionFunction(text)
	// a single binary score carries no per-class entry
	if err != nil || len(scores) != len(m.Classes()) {
		return 0, false
	}
	return unit(model.Sigmoid(scores[idx]))
}

// unit accepts finite values and clamps them to [0,1].
func unit(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return min(max(v, 0), 1), true
}

// Package model holds the trained text classifiers served by the triage
// pipeline. Models are decoded from the offline exporter's JSON form and are
// read-only afterwards.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/linnemanlabs/medtriage/internal/textvec"
)

// Classifier predicts a label for a text query.
type Classifier interface {
	Predict(text string) (string, error)
	Classes() []string
}

// Prober is implemented by classifiers that expose per-class probabilities,
// ordered as Classes.
type Prober interface {
	PredictProba(text string) ([]float64, error)
}

// Scorer is implemented by classifiers that expose per-class decision
// scores, ordered as Classes. Binary models may return a single score.
type Scorer interface {
	DecisionFunction(text string) ([]float64, error)
}

// Kind names the estimator family of an exported classifier.
type Kind string

const (
	KindLogisticRegression Kind = "logistic_regression"
	KindLinearSVC          Kind = "linear_svc"
	KindNearestCentroid    Kind = "nearest_centroid"
)

// Bundle is the serialized classifier pipeline: vectorizer plus estimator.
type Bundle struct {
	Vectorizer textvec.Spec  `json:"vectorizer"`
	Estimator  EstimatorSpec `json:"estimator"`
}

// EstimatorSpec is the serialized estimator. For nearest_centroid, Coef holds
// one centroid per class and Intercept is unused.
type EstimatorSpec struct {
	Kind       Kind        `json:"kind"`
	Classes    []string    `json:"classes"`
	Coef       [][]float64 `json:"coef"`
	Intercept  []float64   `json:"intercept,omitempty"`
	MultiClass string      `json:"multi_class,omitempty"`
}

// ErrInvalidModel is returned when an exported model cannot be served.
var ErrInvalidModel = errors.New("invalid model")

// Decode parses an exported classifier bundle.
func Decode(data []byte) (Classifier, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidModel, err)
	}
	return FromBundle(b)
}

// FromBundle builds the classifier for an already decoded bundle. The
// concrete type returned determines which optional interfaces are available.
func FromBundle(b Bundle) (Classifier, error) {
	vec, err := textvec.New(b.Vectorizer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}

	est := b.Estimator
	if len(est.Classes) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 classes, got %d", ErrInvalidModel, len(est.Classes))
	}

	rows := len(est.Classes)
	binary := len(est.Classes) == 2 && len(est.Coef) == 1 && est.Kind != KindNearestCentroid
	if binary {
		rows = 1
	}
	if len(est.Coef) != rows {
		return nil, fmt.Errorf("%w: coef has %d rows, want %d", ErrInvalidModel, len(est.Coef), rows)
	}
	for i, row := range est.Coef {
		if len(row) != vec.Dim() {
			return nil, fmt.Errorf("%w: coef row %d has %d features, vectorizer has %d", ErrInvalidModel, i, len(row), vec.Dim())
		}
	}

	base := linear{vec: vec, classes: est.Classes, coef: est.Coef, binary: binary}

	switch est.Kind {
	case KindLogisticRegression, KindLinearSVC:
		if len(est.Intercept) != rows {
			return nil, fmt.Errorf("%w: intercept has %d values, want %d", ErrInvalidModel, len(est.Intercept), rows)
		}
		base.intercept = est.Intercept
		if est.Kind == KindLinearSVC {
			return &svc{linear: base}, nil
		}
		switch est.MultiClass {
		case "", "multinomial":
			return &logistic{linear: base}, nil
		case "ovr":
			return &logistic{linear: base, ovr: true}, nil
		default:
			return nil, fmt.Errorf("%w: unsupported multi_class %q", ErrInvalidModel, est.MultiClass)
		}
	case KindNearestCentroid:
		return &centroid{linear: base}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported estimator kind %q", ErrInvalidModel, est.Kind)
	}
}

// linear holds the shared state of all exported estimators.
type linear struct {
	vec       *textvec.Vectorizer
	classes   []string
	coef      [][]float64
	intercept []float64
	binary    bool
}

func (l *linear) Classes() []string { return l.classes }

// scores returns one decision score per coef row.
func (l *linear) scores(text string) []float64 {
	x := l.vec.Transform(text)
	out := make([]float64, len(l.coef))
	for k, row := range l.coef {
		out[k] = textvec.DotDense(x, row)
		if l.intercept != nil {
			out[k] += l.intercept[k]
		}
	}
	return out
}

func (l *linear) predictFromScores(s []float64) string {
	if l.binary {
		if s[0] > 0 {
			return l.classes[1]
		}
		return l.classes[0]
	}
	return l.classes[argmax(s)]
}

// logistic is a logistic regression model exposing probabilities and decision scores.
type logistic struct {
	linear
	ovr bool
}

func (m *logistic) Predict(text string) (string, error) {
	return m.predictFromScores(m.scores(text)), nil
}

func (m *logistic) DecisionFunction(text string) ([]float64, error) {
	return m.scores(text), nil
}

func (m *logistic) PredictProba(text string) ([]float64, error) {
	s := m.scores(text)
	if m.binary {
		p := sigmoid(s[0])
		return []float64{1 - p, p}, nil
	}
	if m.ovr {
		out := make([]float64, len(s))
		var sum float64
		for i, v := range s {
			out[i] = sigmoid(v)
			sum += out[i]
		}
		if sum == 0 {
			return nil, errors.New("ovr probabilities sum to zero")
		}
		for i := range out {
			out[i] /= sum
		}
		return out, nil
	}
	return softmax(s), nil
}

// svc is a linear support vector classifier; it has decision scores only.
type svc struct {
	linear
}

func (m *svc) Predict(text string) (string, error) {
	return m.predictFromScores(m.scores(text)), nil
}

func (m *svc) DecisionFunction(text string) ([]float64, error) {
	return m.scores(text), nil
}

// centroid predicts the class with the closest centroid; it exposes neither
// probabilities nor decision scores.
type centroid struct {
	linear
}

func (m *centroid) Predict(text string) (string, error) {
	x := m.vec.Transform(text)
	xx := textvec.Dot(x, x)
	best, bestDist := 0, math.Inf(1)
	for k, c := range m.coef {
		var cc float64
		for _, v := range c {
			cc += v * v
		}
		d := xx - 2*textvec.DotDense(x, c) + cc
		if d < bestDist {
			best, bestDist = k, d
		}
	}
	return m.classes[best], nil
}

// Sigmoid maps a decision score to a pseudo-probability.
func Sigmoid(x float64) float64 { return sigmoid(x) }

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func softmax(s []float64) []float64 {
	m := s[argmax(s)]
	out := make([]float64, len(s))
	var sum float64
	for i, v := range s {
		out[i] = math.Exp(v - m)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// argmax returns the first index of the maximum value.
func argmax(s []float64) int {
	best := 0
	for i := 1; i < len(s); i++ {
		if s[i] > s[best] {
			best = i
		}
	}
	return best
}

package triage

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/linnemanlabs/medtriage/internal/artifact"
	"github.com/linnemanlabs/medtriage/internal/artifact/artifacttest"
	"github.com/linnemanlabs/medtriage/internal/model"
)

func TestClassifier_ConfidenceSourceByModelKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind   model.Kind
		source ConfidenceSource
	}{
		{model.KindLogisticRegression, ConfidenceProbability},
		{model.KindLinearSVC, ConfidenceDecisionScore},
		{model.KindNearestCentroid, ConfidenceDefault},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()

			store := newArtifactStore(t, artifacttest.Options{Kind: tt.kind})
			pred, err := NewClassifier(store).Predict(context.Background(), "chest pain")
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			if pred.Label != artifacttest.LabelCardio {
				t.Errorf("Label = %q, want %q", pred.Label, artifacttest.LabelCardio)
			}
			if pred.Specialty != "Cardiology" {
				t.Errorf("Specialty = %q, want %q", pred.Specialty, "Cardiology")
			}
			if pred.Source != tt.source {
				t.Errorf("Source = %q, want %q", pred.Source, tt.source)
			}
			if pred.Confidence < 0 || pred.Confidence > 1 {
				t.Errorf("Confidence = %v, want within [0,1]", pred.Confidence)
			}
			if tt.source == ConfidenceDefault && pred.Confidence != DefaultConfidence {
				t.Errorf("Confidence = %v, want %v", pred.Confidence, DefaultConfidence)
			}
		})
	}
}

func TestClassifier_UnmappedLabelFallsBackToRawLabel(t *testing.T) {
	t.Parallel()

	store := newArtifactStore(t, artifacttest.Options{})
	pred, err := NewClassifier(store).Predict(context.Background(), "itchy skin rash")
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if pred.Specialty != artifacttest.LabelDerm {
		t.Errorf("Specialty = %q, want raw label %q", pred.Specialty, artifacttest.LabelDerm)
	}
}

func TestClassifier_ConfidenceFallthrough(t *testing.T) {
	t.Parallel()

	classes := []string{"a", "b"}
	tests := []struct {
		name   string
		model  model.Classifier
		want   float64
		source ConfidenceSource
	}{
		{
			name:   "probability of predicted label",
			model:  stubFull{&stubModel{classes: classes, label: "b", proba: []float64{0.2, 0.8}, scores: []float64{0, 5}}},
			want:   0.8,
			source: ConfidenceProbability,
		},
		{
			name:   "non-finite probability falls to decision score",
			model:  stubFull{&stubModel{classes: classes, label: "a", proba: []float64{math.NaN(), 0.1}, scores: []float64{0, 1}}},
			want:   0.5,
			source: ConfidenceDecisionScore,
		},
		{
			name:   "short probability vector falls to decision score",
			model:  stubFull{&stubModel{classes: classes, label: "a", proba: []float64{1}, scores: []float64{0, 1}}},
			want:   0.5,
			source: ConfidenceDecisionScore,
		},
		{
			name:   "binary scalar score uses default",
			model:  stubScorer{&stubModel{classes: classes, label: "b", scores: []float64{2}}},
			want:   DefaultConfidence,
			source: ConfidenceDefault,
		},
		{
			name:   "label outside classes uses default",
			model:  stubProber{&stubModel{classes: classes, label: "zzz", proba: []float64{0.3, 0.7}}},
			want:   DefaultConfidence,
			source: ConfidenceDefault,
		},
		{
			name:   "out of range probability is clamped",
			model:  stubProber{&stubModel{classes: classes, label: "a", proba: []float64{1.2, -0.2}}},
			want:   1,
			source: ConfidenceProbability,
		},
		{
			name:   "no optional outputs",
			model:  &stubModel{classes: classes, label: "a"},
			want:   DefaultConfidence,
			source: ConfidenceDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewClassifier(staticBundle{model: tt.model})
			pred, err := c.Predict(context.Background(), "anything")
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			if math.Abs(pred.Confidence-tt.want) > 1e-9 {
				t.Errorf("Confidence = %v, want %v", pred.Confidence, tt.want)
			}
			if pred.Source != tt.source {
				t.Errorf("Source = %q, want %q", pred.Source, tt.source)
			}
		})
	}
}

func TestClassifier_PropagatesArtifactErrors(t *testing.T) {
	t.Parallel()

	missing := &artifact.MissingError{Bundle: artifact.BundleClassifier, Path: "/nope/model.json"}
	c := NewClassifier(staticBundle{err: missing})

	_, err := c.Predict(context.Background(), "chest pain")
	if !errors.Is(err, artifact.ErrArtifactMissing) {
		t.Fatalf("err = %v, want ErrArtifactMissing", err)
	}
}

package triage

import (
	"context"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/medtriage/internal/artifact"
	"github.com/linnemanlabs/medtriage/internal/artifact/artifacttest"
	"github.com/linnemanlabs/medtriage/internal/model"
)

// newArtifactStore writes a fixture directory and returns a store over it.
func newArtifactStore(t *testing.T, opts artifacttest.Options) *artifact.Store {
	t.Helper()
	dir, files := artifacttest.Write(t, opts)
	return artifact.NewStore(dir, log.Nop(), artifact.WithFiles(files))
}

// newTestEngine returns an engine over fixture artifacts and the backing store.
func newTestEngine(t *testing.T, opts artifacttest.Options, hooks ...EngineHooks) (*Engine, *artifact.Store) {
	t.Helper()
	store := newArtifactStore(t, opts)
	engine := NewEngine(
		NewClassifier(store),
		DefaultRules(),
		NewRetriever(store, DefaultTopK, DefaultMinSimilarity),
		log.Nop(),
		hooks...,
	)
	return engine, store
}

// stubModel is a model.Classifier whose optional outputs are fixed.
type stubModel struct {
	classes []string
	label   string
	proba   []float64
	scores  []float64
}

func (m *stubModel) Predict(string) (string, error) { return m.label, nil }
func (m *stubModel) Classes() []string              { return m.classes }

// stubProber adds probabilities to stubModel.
type stubProber struct{ *stubModel }

func (m stubProber) PredictProba(string) ([]float64, error) { return m.proba, nil }

// stubScorer adds decision scores to stubModel.
type stubScorer struct{ *stubModel }

func (m stubScorer) DecisionFunction(string) ([]float64, error) { return m.scores, nil }

// stubFull exposes both optional outputs.
type stubFull struct{ *stubModel }

func (m stubFull) PredictProba(string) ([]float64, error)     { return m.proba, nil }
func (m stubFull) DecisionFunction(string) ([]float64, error) { return m.scores, nil }

// staticBundle serves a fixed classifier bundle.
type staticBundle struct {
	model  model.Classifier
	labels artifact.LabelMapping
	err    error
}

func (s staticBundle) ClassifierBundle(context.Context) (*artifact.ClassifierBundle, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &artifact.ClassifierBundle{Model: s.model, Labels: s.labels}, nil
}

// staticIndex serves a fixed answer index or error.
type staticIndex struct {
	idx *artifact.AnswerIndex
	err error
}

func (s staticIndex) AnswerIndex(context.Context) (*artifact.AnswerIndex, error) {
	return s.idx, s.err
}

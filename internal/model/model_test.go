package model

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/linnemanlabs/medtriage/internal/textvec"
)

func testVectorizer() textvec.Spec {
	return textvec.Spec{
		Vocabulary: map[string]int{"chest": 0, "fever": 1, "rash": 2},
		IDF:        []float64{1, 1, 1},
	}
}

func threeClass(kind Kind) Bundle {
	return Bundle{
		Vectorizer: testVectorizer(),
		Estimator: EstimatorSpec{
			Kind:    kind,
			Classes: []string{"cardiology", "general", "dermatology"},
			Coef: [][]float64{
				{3, 0, 0},
				{0, 3, 0},
				{0, 0, 3},
			},
			Intercept: []float64{0, 0.1, 0},
		},
	}
}

func TestFromBundle_OptionalInterfaces(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind       Kind
		wantProba  bool
		wantScores bool
	}{
		{KindLogisticRegression, true, true},
		{KindLinearSVC, false, true},
		{KindNearestCentroid, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()

			clf, err := FromBundle(threeClass(tt.kind))
			if err != nil {
				t.Fatalf("FromBundle: %v", err)
			}
			if _, ok := clf.(Prober); ok != tt.wantProba {
				t.Errorf("Prober = %v, want %v", ok, tt.wantProba)
			}
			if _, ok := clf.(Scorer); ok != tt.wantScores {
				t.Errorf("Scorer = %v, want %v", ok, tt.wantScores)
			}

			got, err := clf.Predict("chest chest")
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			if got != "cardiology" {
				t.Errorf("Predict = %q, want cardiology", got)
			}
		})
	}
}

func TestLogistic_ProbabilitiesSumToOne(t *testing.T) {
	t.Parallel()

	for _, mc := range []string{"multinomial", "ovr"} {
		b := threeClass(KindLogisticRegression)
		b.Estimator.MultiClass = mc
		clf, err := FromBundle(b)
		if err != nil {
			t.Fatalf("FromBundle(%s): %v", mc, err)
		}
		p, err := clf.(Prober).PredictProba("fever")
		if err != nil {
			t.Fatalf("PredictProba(%s): %v", mc, err)
		}
		var sum float64
		for _, v := range p {
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("%s: sum = %v, want 1", mc, sum)
		}
		if argmax(p) != 1 {
			t.Errorf("%s: argmax = %d, want 1 (general)", mc, argmax(p))
		}
	}
}

func TestPredict_TieBreaksToFirstClass(t *testing.T) {
	t.Parallel()

	b := threeClass(KindLinearSVC)
	b.Estimator.Intercept = []float64{0, 0, 0}
	clf, err := FromBundle(b)
	if err != nil {
		t.Fatalf("FromBundle: %v", err)
	}
	got, _ := clf.Predict("unknown words only")
	if got != "cardiology" {
		t.Errorf("Predict = %q, want first class on all-zero scores", got)
	}
}

func TestBinary(t *testing.T) {
	t.Parallel()

	b := Bundle{
		Vectorizer: testVectorizer(),
		Estimator: EstimatorSpec{
			Kind:      KindLogisticRegression,
			Classes:   []string{"general", "cardiology"},
			Coef:      [][]float64{{2, -1, -1}},
			Intercept: []float64{0},
		},
	}
	clf, err := FromBundle(b)
	if err != nil {
		t.Fatalf("FromBundle: %v", err)
	}

	got, _ := clf.Predict("chest")
	if got != "cardiology" {
		t.Errorf("Predict(chest) = %q, want cardiology", got)
	}
	got, _ = clf.Predict("fever")
	if got != "general" {
		t.Errorf("Predict(fever) = %q, want general", got)
	}

	scores, _ := clf.(Scorer).DecisionFunction("chest")
	if len(scores) != 1 {
		t.Errorf("binary DecisionFunction len = %d, want 1", len(scores))
	}
	p, _ := clf.(Prober).PredictProba("chest")
	if len(p) != 2 || math.Abs(p[1]-Sigmoid(2)) > 1e-9 {
		t.Errorf("PredictProba = %v, want [1-σ(2) σ(2)]", p)
	}
}

func TestFromBundle_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Bundle)
	}{
		{"unknown kind", func(b *Bundle) { b.Estimator.Kind = "random_forest" }},
		{"single class", func(b *Bundle) { b.Estimator.Classes = []string{"x"} }},
		{"row count", func(b *Bundle) { b.Estimator.Coef = b.Estimator.Coef[:2] }},
		{"feature count", func(b *Bundle) { b.Estimator.Coef[0] = []float64{1} }},
		{"intercept count", func(b *Bundle) { b.Estimator.Intercept = []float64{0} }},
		{"multi_class", func(b *Bundle) { b.Estimator.MultiClass = "crammer_singer" }},
		{"vectorizer", func(b *Bundle) { b.Vectorizer.Vocabulary = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := threeClass(KindLogisticRegression)
			tt.mutate(&b)
			_, err := FromBundle(b)
			if !errors.Is(err, ErrInvalidModel) {
				t.Errorf("err = %v, want ErrInvalidModel", err)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(threeClass(KindLinearSVC))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	clf, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(clf.Classes()) != 3 {
		t.Errorf("Classes = %v", clf.Classes())
	}

	if _, err := Decode([]byte(`{not json`)); !errors.Is(err, ErrInvalidModel) {
		t.Errorf("Decode(bad) err = %v, want ErrInvalidModel", err)
	}
}

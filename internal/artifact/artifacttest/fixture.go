// Package artifacttest writes small, self-consistent artifact directories for tests.
package artifacttest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/linnemanlabs/medtriage/internal/artifact"
	"github.com/linnemanlabs/medtriage/internal/model"
	"github.com/linnemanlabs/medtriage/internal/textvec"
)

// Raw labels produced by the fixture classifier.
const (
	LabelCardio  = "cardio"
	LabelGeneral = "general"
	LabelDerm    = "derm"
)

// Options controls which artifacts are written and how.
type Options struct {
	// Kind selects the estimator family; defaults to logistic regression.
	Kind model.Kind

	OmitClassifier   bool
	OmitLabelMapping bool
	OmitAnswerIndex  bool
	OmitCorpus       bool

	// Compress writes the classifier and index blobs as .zst files.
	Compress bool

	// Corpus replaces the default QA corpus; vectors are recomputed.
	Corpus []artifact.QARecord
}

// Vectorizer is the feature space shared by the fixture classifier and index.
func Vectorizer() textvec.Spec {
	return textvec.Spec{
		Vocabulary: map[string]int{
			"chest": 0, "pain": 1, "heart": 2,
			"fever": 3, "cough": 4,
			"rash": 5, "skin": 6, "itch": 7,
		},
		IDF: []float64{1, 1, 1, 1, 1, 1, 1, 1},
	}
}

// Classifier returns the fixture classifier bundle.
func Classifier(kind model.Kind) model.Bundle {
	if kind == "" {
		kind = model.KindLogisticRegression
	}
	return model.Bundle{
		Vectorizer: Vectorizer(),
		Estimator: model.EstimatorSpec{
			Kind:    kind,
			Classes: []string{LabelCardio, LabelGeneral, LabelDerm},
			Coef: [][]float64{
				{3, 1, 3, 0, 0, 0, 0, 0},
				{0, 0, 0, 3, 3, 0, 0, 0},
				{0, 0, 0, 0, 0, 3, 3, 3},
			},
			Intercept: []float64{0, 0, 0},
		},
	}
}

// Labels is the fixture label mapping. LabelDerm is intentionally unmapped.
func Labels() map[string]string {
	return map[string]string{
		LabelCardio:  "Cardiology",
		LabelGeneral: "General Medicine",
	}
}

// Corpus is the default fixture QA corpus.
func Corpus() []artifact.QARecord {
	return []artifact.QARecord{
		{Question: "chest pain when climbing stairs", Answer: "See a cardiologist soon.", Category: LabelCardio},
		{Question: "fever and cough for three days", Answer: "Rest, fluids and monitor the temperature.", Category: LabelGeneral},
		{Question: "itch and rash on the skin", Answer: "Keep the area clean and use a moisturizer.", Category: LabelDerm},
		{Question: "heart pain at night", Answer: "An ECG is recommended.", Category: LabelCardio},
	}
}

// Write creates an artifact directory under t.TempDir and returns it with the
// file names to pass to artifact.WithFiles.
func Write(t testing.TB, opts Options) (string, artifact.Files) {
	t.Helper()

	dir := t.TempDir()
	files := artifact.DefaultFiles()
	if opts.Compress {
		files.Classifier += ".zst"
		files.AnswerIndex += ".zst"
	}

	corpus := opts.Corpus
	if corpus == nil {
		corpus = Corpus()
	}

	if !opts.OmitClassifier {
		writeJSON(t, filepath.Join(dir, files.Classifier), Classifier(opts.Kind), opts.Compress)
	}
	if !opts.OmitLabelMapping {
		writeJSON(t, filepath.Join(dir, files.LabelMapping), map[string]any{"label_to_specialty": Labels()}, false)
	}
	if !opts.OmitAnswerIndex {
		writeJSON(t, filepath.Join(dir, files.AnswerIndex), map[string]any{
			"vectorizer":       Vectorizer(),
			"question_vectors": QuestionVectors(t, corpus),
		}, opts.Compress)
	}
	if !opts.OmitCorpus {
		WriteCorpus(t, filepath.Join(dir, files.Corpus), corpus)
	}
	return dir, files
}

// QuestionVectors vectorizes each corpus question with the fixture vectorizer.
func QuestionVectors(t testing.TB, corpus []artifact.QARecord) []textvec.Vector {
	t.Helper()
	vec, err := textvec.New(Vectorizer())
	if err != nil {
		t.Fatalf("fixture vectorizer: %v", err)
	}
	out := make([]textvec.Vector, len(corpus))
	for i, r := range corpus {
		out[i] = vec.Transform(r.Question)
	}
	return out
}

// WriteCorpus writes a corpus CSV with the standard header.
func WriteCorpus(t testing.TB, path string, corpus []artifact.QARecord) {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"question", "answer", "category"})
	for _, r := range corpus {
		_ = w.Write([]string{r.Question, r.Answer, r.Category})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
}

func writeJSON(t testing.TB, path string, v any, compress bool) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	if compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			t.Fatalf("zstd writer: %v", err)
		}
		data = enc.EncodeAll(data, nil)
		_ = enc.Close()
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Package artifact loads and caches the trained classifier bundle and the
// answer-retrieval index from an artifact directory. Each bundle is loaded
// at most once per Store, on first use.
package artifact

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/medtriage/internal/model"
	"github.com/linnemanlabs/medtriage/internal/textvec"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medtriage/internal/artifact")

// Bundle names used in errors, logs and metrics.
const (
	BundleClassifier  = "classifier"
	BundleAnswerIndex = "answer_index"
)

// Default file names inside the artifact directory.
const (
	DefaultClassifierFile   = "triage_text_classifier.json"
	DefaultLabelMappingFile = "label_to_specialty.json"
	DefaultAnswerIndexFile  = "answer_retrieval_index.json"
	DefaultCorpusFile       = "qa_database.csv"
)

// Files lists artifact file names relative to the artifact directory.
// Names ending in ".zst" are read through a zstd decoder.
type Files struct {
	Classifier   string
	LabelMapping string
	AnswerIndex  string
	Corpus       string
}

// DefaultFiles returns the standard artifact layout.
func DefaultFiles() Files {
	return Files{
		Classifier:   DefaultClassifierFile,
		LabelMapping: DefaultLabelMappingFile,
		AnswerIndex:  DefaultAnswerIndexFile,
		Corpus:       DefaultCorpusFile,
	}
}

// LabelMapping maps raw classifier labels to specialty names.
type LabelMapping map[string]string

// Specialty returns the mapped name for label, or label itself when unmapped.
func (m LabelMapping) Specialty(label string) string {
	if s, ok := m[label]; ok {
		return s
	}
	return label
}

// ClassifierBundle is the loaded classifier and its label mapping.
type ClassifierBundle struct {
	Model  model.Classifier
	Labels LabelMapping
}

// QARecord is one question/answer row of the retrieval corpus.
type QARecord struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Category string `json:"category"`
}

// AnswerIndex is the loaded retrieval index. QuestionVectors[i] is the
// vector of Corpus[i].
type AnswerIndex struct {
	Vectorizer      *textvec.Vectorizer
	QuestionVectors []textvec.Vector
	Corpus          []QARecord
}

// LoadHook observes every load attempt. err is nil on success.
type LoadHook func(bundle string, duration time.Duration, err error)

// Store lazily loads artifacts from a directory and caches them for its lifetime.
type Store struct {
	dir    string
	files  Files
	logger log.Logger
	hook   LoadHook

	clfMu sync.Mutex
	clf   atomic.Pointer[ClassifierBundle]

	idxMu sync.Mutex
	idx   atomic.Pointer[AnswerIndex]
}

// Option configures a Store.
type Option func(*Store)

// WithFiles overrides the artifact file names. Empty fields keep their default.
func WithFiles(f Files) Option {
	return func(s *Store) {
		if f.Classifier != "" {
			s.files.Classifier = f.Classifier
		}
		if f.LabelMapping != "" {
			s.files.LabelMapping = f.LabelMapping
		}
		if f.AnswerIndex != "" {
			s.files.AnswerIndex = f.AnswerIndex
		}
		if f.Corpus != "" {
			s.files.Corpus = f.Corpus
		}
	}
}

// WithLoadHook registers a hook called after each load attempt.
func WithLoadHook(h LoadHook) Option {
	return func(s *Store) { s.hook = h }
}

// NewStore creates a Store reading from dir. Nothing is read until the first
// ClassifierBundle or AnswerIndex call.
func NewStore(dir string, logger log.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Store{
		dir:    dir,
		files:  DefaultFiles(),
		logger: logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

// Loaded reports which bundles are currently cached.
func (s *Store) Loaded() (classifier, answerIndex bool) {
	return s.clf.Load() != nil, s.idx.Load() != nil
}

// ClassifierBundle returns the cached classifier bundle, loading it on first use.
// A failed load is not cached; the next call retries.
func (s *Store) ClassifierBundle(ctx context.Context) (*ClassifierBundle, error) {
	if b := s.clf.Load(); b != nil {
		return b, nil
	}

	s.clfMu.Lock()
	defer s.clfMu.Unlock()

	// another caller may have finished loading while we waited
	if b := s.clf.Load(); b != nil {
		return b, nil
	}

	b, err := load(ctx, s, BundleClassifier, s.loadClassifier)
	if err != nil {
		return nil, err
	}
	s.clf.Store(b)
	return b, nil
}

// AnswerIndex returns the cached answer index, loading it on first use.
// A failed load is not cached; the next call retries.
func (s *Store) AnswerIndex(ctx context.Context) (*AnswerIndex, error) {
	if idx := s.idx.Load(); idx != nil {
		return idx, nil
	}

	s.idxMu.Lock()
	defer s.idxMu.Unlock()

	if idx := s.idx.Load(); idx != nil {
		return idx, nil
	}

	idx, err := load(ctx, s, BundleAnswerIndex, s.loadAnswerIndex)
	if err != nil {
		return nil, err
	}
	s.idx.Store(idx)
	return idx, nil
}

// load runs fn inside a span and reports the attempt to the logger and hook.
func load[T any](ctx context.Context, s *Store, bundle string, fn func() (*T, error)) (*T, error) {
	ctx, span := tracer.Start(ctx, "artifact.Load", trace.WithAttributes(
		attribute.String("medtriage.artifact.bundle", bundle),
		attribute.String("medtriage.artifact.dir", s.dir),
	))
	defer span.End()

	start := time.Now()
	v, err := fn()
	dur := time.Since(start)

	if s.hook != nil {
		s.hook(bundle, dur, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(ctx, err, "artifact load failed", "bundle", bundle, "dir", s.dir)
		return nil, err
	}

	s.logger.Info(ctx, "artifact loaded", "bundle", bundle, "dir", s.dir, "duration", dur.Seconds())
	return v, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) loadClassifier() (*ClassifierBundle, error) {
	clfPath := s.path(s.files.Classifier)
	data, err := readBlob(BundleClassifier, clfPath)
	if err != nil {
		return nil, err
	}

	clf, err := model.Decode(data)
	if err != nil {
		return nil, malformed(clfPath, err)
	}

	labels, err := readLabelMapping(s.path(s.files.LabelMapping))
	if err != nil {
		return nil, err
	}

	return &ClassifierBundle{Model: clf, Labels: labels}, nil
}

func (s *Store) loadAnswerIndex() (*AnswerIndex, error) {
	idxPath := s.path(s.files.AnswerIndex)
	corpusPath := s.path(s.files.Corpus)

	// both files must exist before either is parsed
	if err := requireFile(BundleAnswerIndex, idxPath); err != nil {
		return nil, err
	}
	if err := requireFile(BundleAnswerIndex, corpusPath); err != nil {
		return nil, err
	}

	data, err := readBlob(BundleAnswerIndex, idxPath)
	if err != nil {
		return nil, err
	}
	vec, vectors, err := decodeIndex(data)
	if err != nil {
		return nil, malformed(idxPath, err)
	}

	corpus, err := readCorpus(corpusPath)
	if err != nil {
		return nil, malformed(corpusPath, err)
	}

	if len(vectors) != len(corpus) {
		return nil, malformed(idxPath, fmt.Errorf("%d question_vectors for %d corpus rows", len(vectors), len(corpus)))
	}

	return &AnswerIndex{Vectorizer: vec, QuestionVectors: vectors, Corpus: corpus}, nil
}

// Package textvec implements the TF-IDF text vectorizer exported by the
// offline training pipeline, plus sparse vector similarity.
package textvec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// DefaultTokenPattern matches runs of two or more Unicode word characters.
const DefaultTokenPattern = `[\p{L}\p{N}_]{2,}`

// Norm selects the row normalization applied after weighting.
type Norm string

const (
	NormL2   Norm = "l2"
	NormL1   Norm = "l1"
	NormNone Norm = "none"
)

// NormOption is the serialized "norm" field. An absent field selects l2 and
// JSON null selects no normalization.
type NormOption struct {
	Norm Norm
	Set  bool
}

// WithNorm returns an explicitly set NormOption.
func WithNorm(n Norm) NormOption { return NormOption{Norm: n, Set: true} }

// UnmarshalJSON implements json.Unmarshaler.
func (o *NormOption) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = WithNorm(NormNone)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("norm: %w", err)
	}
	*o = WithNorm(Norm(s))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (o NormOption) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(o.Norm))
}

// Spec is the serialized vectorizer as written by the exporter.
type Spec struct {
	Vocabulary   map[string]int `json:"vocabulary"`
	IDF          []float64      `json:"idf,omitempty"`
	UseIDF       *bool          `json:"use_idf,omitempty"`
	Lowercase    *bool          `json:"lowercase,omitempty"`
	SublinearTF  bool           `json:"sublinear_tf,omitempty"`
	Norm         NormOption     `json:"norm,omitzero"`
	NgramRange   [2]int         `json:"ngram_range,omitempty"`
	TokenPattern string         `json:"token_pattern,omitempty"`
	StopWords    []string       `json:"stop_words,omitempty"`
}

// Vectorizer turns text into TF-IDF weighted sparse vectors. It is immutable
// after construction and safe for concurrent use.
type Vectorizer struct {
	vocab     map[string]int
	idf       []float64
	useIDF    bool
	lowercase bool
	sublinear bool
	norm      Norm
	minN      int
	maxN      int
	token     *regexp.Regexp
	stop      map[string]struct{}
	dim       int
}

// New builds a Vectorizer from its serialized form, filling the same defaults
// the exporter assumes when a field is omitted.
func New(s Spec) (*Vectorizer, error) {
	if len(s.Vocabulary) == 0 {
		return nil, fmt.Errorf("vectorizer: empty vocabulary")
	}

	v := &Vectorizer{
		vocab:     s.Vocabulary,
		useIDF:    true,
		lowercase: true,
		sublinear: s.SublinearTF,
		norm:      NormL2,
		minN:      1,
		maxN:      1,
	}
	if s.UseIDF != nil {
		v.useIDF = *s.UseIDF
	}
	if s.Lowercase != nil {
		v.lowercase = *s.Lowercase
	}
	if s.Norm.Set {
		v.norm = s.Norm.Norm
	}
	switch v.norm {
	case NormL2, NormL1, NormNone:
	case "":
		v.norm = NormNone
	default:
		return nil, fmt.Errorf("vectorizer: unsupported norm %q", v.norm)
	}

	if s.NgramRange != [2]int{} {
		v.minN, v.maxN = s.NgramRange[0], s.NgramRange[1]
	}
	if v.minN < 1 || v.maxN < v.minN {
		return nil, fmt.Errorf("vectorizer: invalid ngram_range [%d, %d]", v.minN, v.maxN)
	}

	pattern := s.TokenPattern
	if pattern == "" {
		pattern = DefaultTokenPattern
	}
	re, err := compileTokenPattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("vectorizer: token_pattern: %w", err)
	}
	v.token = re

	dim := 0
	for term, idx := range s.Vocabulary {
		if idx < 0 {
			return nil, fmt.Errorf("vectorizer: negative index for term %q", term)
		}
		if idx+1 > dim {
			dim = idx + 1
		}
	}
	v.dim = dim
	if v.useIDF {
		if len(s.IDF) != dim {
			return nil, fmt.Errorf("vectorizer: idf length %d, want %d", len(s.IDF), dim)
		}
		v.idf = s.IDF
	}

	if len(s.StopWords) > 0 {
		v.stop = make(map[string]struct{}, len(s.StopWords))
		for _, w := range s.StopWords {
			v.stop[w] = struct{}{}
		}
	}
	return v, nil
}

// Dim is the size of the feature space.
func (v *Vectorizer) Dim() int { return v.dim }

// Transform vectorizes a single document.
func (v *Vectorizer) Transform(text string) Vector {
	if v.lowercase {
		text = strings.ToLower(text)
	}

	tokens := v.token.FindAllString(text, -1)
	if v.stop != nil {
		kept := tokens[:0]
		for _, t := range tokens {
			if _, ok := v.stop[t]; !ok {
				kept = append(kept, t)
			}
		}
		tokens = kept
	}

	counts := make(map[int]float64)
	for n := v.minN; n <= v.maxN; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			term := tokens[i]
			if n > 1 {
				term = strings.Join(tokens[i:i+n], " ")
			}
			if idx, ok := v.vocab[term]; ok {
				counts[idx]++
			}
		}
	}

	out := Vector{
		Indices: make([]int, 0, len(counts)),
		Values:  make([]float64, 0, len(counts)),
	}
	for idx := range counts {
		out.Indices = append(out.Indices, idx)
	}
	sort.Ints(out.Indices)

	for _, idx := range out.Indices {
		tf := counts[idx]
		if v.sublinear {
			tf = 1 + math.Log(tf)
		}
		if v.useIDF {
			tf *= v.idf[idx]
		}
		out.Values = append(out.Values, tf)
	}

	v.normalize(out.Values)
	return out
}

func (v *Vectorizer) normalize(values []float64) {
	var n float64
	switch v.norm {
	case NormL2:
		for _, x := range values {
			n += x * x
		}
		n = math.Sqrt(n)
	case NormL1:
		for _, x := range values {
			n += math.Abs(x)
		}
	default:
		return
	}
	if n == 0 {
		return
	}
	for i := range values {
		values[i] /= n
	}
}

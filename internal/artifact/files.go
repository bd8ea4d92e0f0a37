package artifact

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/linnemanlabs/medtriage/internal/textvec"
)

// utf8BOM is stripped from the start of the corpus file if present.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func requireFile(bundle, path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &MissingError{Bundle: bundle, Path: path}
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return nil
}

// readBlob reads a whole artifact file, decompressing .zst files.
func readBlob(bundle, path string) ([]byte, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is built from operator config
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissingError{Bundle: bundle, Path: path}
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, malformed(path, err)
		}
		defer dec.Close()
		r = dec
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, malformed(path, err)
	}
	return data, nil
}

// readLabelMapping reads the optional label mapping. A missing file yields an
// empty mapping.
func readLabelMapping(path string) (LabelMapping, error) {
	data, err := readBlob(BundleClassifier, path)
	if err != nil {
		if errors.Is(err, ErrArtifactMissing) {
			return LabelMapping{}, nil
		}
		return nil, err
	}

	var doc struct {
		LabelToSpecialty map[string]string `json:"label_to_specialty"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, malformed(path, err)
	}
	if doc.LabelToSpecialty == nil {
		return LabelMapping{}, nil
	}
	return LabelMapping(doc.LabelToSpecialty), nil
}

// indexDoc is the serialized answer-retrieval index.
type indexDoc struct {
	Vectorizer      textvec.Spec     `json:"vectorizer"`
	QuestionVectors []textvec.Vector `json:"question_vectors"`
}

func decodeIndex(data []byte) (*textvec.Vectorizer, []textvec.Vector, error) {
	var doc indexDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode: %w", err)
	}

	vec, err := textvec.New(doc.Vectorizer)
	if err != nil {
		return nil, nil, err
	}

	for i, v := range doc.QuestionVectors {
		if err := v.Validate(vec.Dim()); err != nil {
			return nil, nil, fmt.Errorf("question_vectors[%d]: %w", i, err)
		}
	}
	return vec, doc.QuestionVectors, nil
}

// readCorpus parses the QA corpus CSV. The header must name the question,
// answer and category columns; other columns are ignored.
func readCorpus(path string) ([]QARecord, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is built from operator config
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := map[string]int{"question": -1, "answer": -1, "category": -1}
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, ok := cols[name]; ok {
			cols[name] = i
		}
	}
	for name, i := range cols {
		if i < 0 {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var out []QARecord
	for row := 1; ; row++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		// quoted answers span lines; *csv.ParseError carries the file line
		if err != nil {
			return nil, fmt.Errorf("corpus row %d: %w", row, err)
		}
		out = append(out, QARecord{
			Question: field(rec, cols["question"]),
			Answer:   field(rec, cols["answer"]),
			Category: field(rec, cols["category"]),
		})
	}
	return out, nil
}

func field(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}

package cfg

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/linnemanlabs/medtriage/internal/artifact"
)

// Config holds the medtriage server settings and implements the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	ArtifactDir       string
	ClassifierFile    string
	LabelMappingFile  string
	AnswerIndexFile   string
	CorpusFile        string
	SeverityRulesFile string
	WarmArtifacts     bool

	TopK          int
	MinSimilarity float64

	CacheTTLSeconds int
	BatchWorkers    int
	MaxBatchSize    int

	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    string
	APITokens      string

	DatabaseURL       string
	SQLitePath        string
	SlackWebhookURL   string
	SlackSymptomBytes int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.ArtifactDir, "artifact-dir", "models", "directory holding classifier and retrieval artifacts")
	fs.StringVar(&c.ClassifierFile, "classifier-file", artifact.DefaultClassifierFile, "classifier artifact file name (.zst = zstd compressed)")
	fs.StringVar(&c.LabelMappingFile, "label-mapping-file", artifact.DefaultLabelMappingFile, "label to specialty mapping file name")
	fs.StringVar(&c.AnswerIndexFile, "answer-index-file", artifact.DefaultAnswerIndexFile, "answer retrieval index file name (.zst = zstd compressed)")
	fs.StringVar(&c.CorpusFile, "corpus-file", artifact.DefaultCorpusFile, "QA corpus CSV file name")
	fs.StringVar(&c.SeverityRulesFile, "severity-rules-file", "", "YAML severity rules file (empty = built-in rules)")
	fs.BoolVar(&c.WarmArtifacts, "warm-artifacts", false, "load artifacts at startup instead of on first request")

	fs.IntVar(&c.TopK, "top-k", 1, "answers retrieved per query (1..50)")
	fs.Float64Var(&c.MinSimilarity, "min-similarity", 0.1, "lowest cosine similarity accepted as an answer (0..1)")

	fs.IntVar(&c.CacheTTLSeconds, "cache-ttl-seconds", 300, "result cache TTL in seconds (0 = cache disabled)")
	fs.IntVar(&c.BatchWorkers, "batch-workers", 4, "concurrent triage runs per batch request (1..64)")
	fs.IntVar(&c.MaxBatchSize, "max-batch-size", 50, "largest accepted batch request (1..1000)")

	fs.Float64Var(&c.RateLimitRPS, "rate-limit-rps", 5, "per-client requests per second (0 = unlimited)")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 10, "per-client burst size")
	fs.StringVar(&c.CORSOrigins, "cors-origins", "", "comma-separated allowed CORS origins (empty = CORS disabled)")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma-separated bearer tokens accepted by the API")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite database file (used when database-url is empty; both empty = in-memory store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for urgent triage notifications")
	fs.IntVar(&c.SlackSymptomBytes, "slack-symptom-bytes", 0, "bytes of patient symptom text included in Slack messages (0 = withheld, max 3000)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if strings.TrimSpace(c.ArtifactDir) == "" {
		errs = append(errs, errors.New("ARTIFACT_DIR is required"))
	}

	if c.TopK < 1 || c.TopK > 50 {
		errs = append(errs, fmt.Errorf("invalid TOP_K %d (must be 1..50)", c.TopK))
	}
	if math.IsNaN(c.MinSimilarity) || c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("invalid MIN_SIMILARITY %v (must be 0..1)", c.MinSimilarity))
	}

	if c.CacheTTLSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid CACHE_TTL_SECONDS %d (must be >= 0)", c.CacheTTLSeconds))
	}
	if c.BatchWorkers < 1 || c.BatchWorkers > 64 {
		errs = append(errs, fmt.Errorf("invalid BATCH_WORKERS %d (must be 1..64)", c.BatchWorkers))
	}
	if c.MaxBatchSize < 1 || c.MaxBatchSize > 1000 {
		errs = append(errs, fmt.Errorf("invalid MAX_BATCH_SIZE %d (must be 1..1000)", c.MaxBatchSize))
	}

	// Rate limiting is optional, but a positive rate needs a usable burst
	if math.IsNaN(c.RateLimitRPS) || math.IsInf(c.RateLimitRPS, 0) || c.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_RPS %v (must be >= 0)", c.RateLimitRPS))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("invalid RATE_LIMIT_BURST %d (must be >= 1 when rate limiting)", c.RateLimitBurst))
	}

	// At least one bearer token is required for API access
	if len(splitList(c.APITokens)) == 0 {
		errs = append(errs, errors.New("API_TOKENS is required"))
	}

	if c.DatabaseURL != "" && c.SQLitePath != "" {
		errs = append(errs, errors.New("DATABASE_URL and SQLITE_PATH are mutually exclusive"))
	}

	if c.SlackSymptomBytes < 0 || c.SlackSymptomBytes > 3000 {
		errs = append(errs, fmt.Errorf("invalid SLACK_SYMPTOM_BYTES %d (must be 0..3000)", c.SlackSymptomBytes))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ArtifactFiles returns the configured artifact file names.
func (c *Config) ArtifactFiles() artifact.Files {
	return artifact.Files{
		Classifier:   c.ClassifierFile,
		LabelMapping: c.LabelMappingFile,
		AnswerIndex:  c.AnswerIndexFile,
		Corpus:       c.CorpusFile,
	}
}

// CacheTTL returns the result cache TTL; zero disables caching.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Origins splits CORSOrigins into its non-empty entries.
func (c *Config) Origins() []string {
	return splitList(c.CORSOrigins)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

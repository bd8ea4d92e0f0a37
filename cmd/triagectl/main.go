// Triagectl runs the triage pipeline against a local artifact directory
// without the HTTP server: one-off queries, batch files, artifact checks and
// reply rendering.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/go-core/log"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/medtriage/internal/artifact"
	"github.com/linnemanlabs/medtriage/internal/triage"
)

const appName = "medtriage"
const component = "triagectl"

func main() {
	v.AppName = appName
	v.Component = component

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// options is shared by every subcommand.
type options struct {
	artifactDir   string
	files         artifact.Files
	rulesFile     string
	topK          int
	minSimilarity float64

	logCfg log.Config
	logger log.Logger
}

func newRootCmd() *cobra.Command {
	o := &options{files: artifact.DefaultFiles(), logger: log.Nop()}

	root := &cobra.Command{
		Use:   "triagectl",
		Short: "Offline symptom triage against local model artifacts",
		Long: `triagectl loads the classifier and answer retrieval artifacts from a
directory and runs the same triage pipeline the server uses.

Results are advisory and never a medical diagnosis.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := o.logCfg.Validate(); err != nil {
				return fmt.Errorf("log config: %w", err)
			}
			lg, err := log.New(o.logCfg.ToOptions(appName))
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			o.logger = lg.With("component", component)
			cmd.SetContext(log.WithContext(cmd.Context(), o.logger))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.artifactDir, "artifact-dir", "models", "directory holding classifier and retrieval artifacts")
	pf.StringVar(&o.files.Classifier, "classifier-file", o.files.Classifier, "classifier artifact file name (.zst = zstd compressed)")
	pf.StringVar(&o.files.LabelMapping, "label-mapping-file", o.files.LabelMapping, "label to specialty mapping file name")
	pf.StringVar(&o.files.AnswerIndex, "answer-index-file", o.files.AnswerIndex, "answer retrieval index file name (.zst = zstd compressed)")
	pf.StringVar(&o.files.Corpus, "corpus-file", o.files.Corpus, "QA corpus CSV file name")
	pf.StringVar(&o.rulesFile, "severity-rules-file", "", "YAML severity rules file (empty = built-in rules)")
	pf.IntVar(&o.topK, "top-k", triage.DefaultTopK, "answers retrieved per query")
	pf.Float64Var(&o.minSimilarity, "min-similarity", triage.DefaultMinSimilarity, "lowest cosine similarity accepted as an answer")

	// go-core log flags are registered on a standard FlagSet and mounted here
	logFlags := flag.NewFlagSet("log", flag.ContinueOnError)
	o.logCfg.RegisterFlags(logFlags)
	pf.AddGoFlagSet(logFlags)

	root.AddCommand(
		newRunCmd(o),
		newCheckCmd(o),
		newReplyCmd(),
		newVersionCmd(),
	)
	return root
}

// store opens the configured artifact directory.
func (o *options) store() *artifact.Store {
	return artifact.NewStore(o.artifactDir, o.logger, artifact.WithFiles(o.files))
}

// engine builds a triage engine over store.
func (o *options) engine(store *artifact.Store) (*triage.Engine, error) {
	rules := triage.DefaultRules()
	if o.rulesFile != "" {
		var err error
		if rules, err = triage.LoadRules(o.rulesFile); err != nil {
			return nil, err
		}
	}
	return triage.NewEngine(
		triage.NewClassifier(store),
		rules,
		triage.NewRetriever(store, o.topK, o.minSimilarity),
		o.logger,
	), nil
}

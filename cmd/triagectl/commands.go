package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/medtriage/internal/triage"
	"github.com/linnemanlabs/medtriage/internal/triage/memstore"
)

const (
	formatJSON  = "json"
	formatReply = "reply"
)

func newRunCmd(o *options) *cobra.Command {
	var (
		file    string
		format  string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "run [symptoms...]",
		Short: "Triage a symptom description",
		Long: `Run triages the symptom text given as arguments, or read from stdin when
no arguments are given. With --file every non-blank line is one query and
the queries run concurrently.

Example:
  triagectl run "ألم في الصدر وضيق تنفس"
  triagectl run --format reply < symptoms.txt
  triagectl run --file queries.txt --workers 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != formatJSON && format != formatReply {
				return fmt.Errorf("unknown format %q (want %s or %s)", format, formatJSON, formatReply)
			}
			engine, err := o.engine(o.store())
			if err != nil {
				return err
			}
			if file != "" {
				return runBatch(cmd, o, engine, file, format, workers)
			}

			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}

			res, err := engine.Run(cmd.Context(), text, nil)
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), res, format)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "file with one symptom description per line")
	cmd.Flags().StringVar(&format, "format", formatJSON, "output format: json or reply")
	cmd.Flags().IntVar(&workers, "workers", triage.DefaultBatchWorkers, "concurrent triage runs for --file")
	return cmd
}

func runBatch(cmd *cobra.Command, o *options, engine *triage.Engine, file, format string, workers int) error {
	queries, err := readQueries(file)
	if err != nil {
		return err
	}
	if len(queries) == 0 {
		return fmt.Errorf("%s: no queries", file)
	}

	svc := triage.NewService(memstore.New(), engine, o.logger, triage.WithBatchWorkers(workers))
	items := svc.SubmitBatch(cmd.Context(), queries)

	out := cmd.OutOrStdout()
	if format == formatJSON {
		return writeJSON(out, items)
	}

	failed := 0
	for i, it := range items {
		if i > 0 {
			fmt.Fprintln(out, "\n---")
		}
		fmt.Fprintf(out, "### %d. %s\n\n", it.Index+1, queries[it.Index].Symptoms)
		if it.Error != "" {
			failed++
			fmt.Fprintf(out, "error: %s\n", it.Error)
			continue
		}
		fmt.Fprintln(out, triage.FormatReply(&it.Record.Result))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d queries failed", failed, len(items))
	}
	return nil
}

func readQueries(path string) ([]triage.Query, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is an operator-supplied CLI argument
	if err != nil {
		return nil, fmt.Errorf("open queries: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []triage.Query
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, triage.Query{Symptoms: line})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read queries: %w", err)
	}
	return out, nil
}

func newCheckCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load every artifact and report what was found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store := o.store()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "artifact dir: %s\n", store.Dir())

			var errs []error
			if b, err := store.ClassifierBundle(ctx); err != nil {
				errs = append(errs, err)
				fmt.Fprintf(out, "classifier: FAILED (%v)\n", err)
			} else {
				classes := b.Model.Classes()
				fmt.Fprintf(out, "classifier: ok (%d classes: %s)\n", len(classes), strings.Join(classes, ", "))
				fmt.Fprintf(out, "label mapping: %d entries\n", len(b.Labels))
			}

			if idx, err := store.AnswerIndex(ctx); err != nil {
				errs = append(errs, err)
				fmt.Fprintf(out, "answer index: FAILED (%v)\n", err)
			} else {
				fmt.Fprintf(out, "answer index: ok (%d corpus rows, %d features)\n", len(idx.Corpus), idx.Vectorizer.Dim())
			}

			return errors.Join(errs...)
		},
	}
}

func newReplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reply [file]",
		Short: "Render a stored result or record as the chat reply",
		Long: `Reply reads a triage result, or a record with a "result" field, as JSON
from the given file or stdin and prints the formatted chat reply.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 1 {
				data, err = os.ReadFile(args[0])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			res, err := decodeResult(data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), triage.FormatReply(res))
			return nil
		},
	}
}

// decodeResult accepts either a bare Result or a Record wrapping one.
func decodeResult(data []byte) (*triage.Result, error) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if len(envelope.Result) > 0 {
		data = envelope.Result
	}

	var res triage.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if res.Specialty == "" && res.SeverityLevel == "" {
		return nil, errors.New("decode result: no specialty or severity_level field")
	}
	return &res, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			vi := v.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) %s (commit=%s, build_date=%s, go=%s)\n",
				vi.AppName, vi.Component, vi.Version, vi.Commit, vi.BuildDate, vi.GoVersion)
		},
	}
}

func writeResult(w io.Writer, res *triage.Result, format string) error {
	if format == formatReply {
		_, err := fmt.Fprintln(w, triage.FormatReply(res))
		return err
	}
	return writeJSON(w, res)
}

func writeJSON(w io.Writer, val any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(val)
}

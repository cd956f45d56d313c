package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/logging"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/search"
	"github.com/mikeboe/deep-research/pkg/server"
)

type options struct {
	query      string
	output     string
	planFile   string
	searchID   string
	language   string
	images     bool
	references bool
	verbose    bool
}

func main() {
	// It's okay if .env doesn't exist, as long as env vars are set
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "deep-research",
		Short: "A terminal-based deep research agent",
		Long: `deep-research plans a research, derives search queries from the plan, runs one
search task per query and writes a final report that cites its sources.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.searchID, "search", "", "search provider id (model, tavily, brave, duckduckgo, searxng, arxiv)")
	pf.StringVar(&opts.language, "language", "", "language of the generated text")
	pf.BoolVar(&opts.images, "images", true, "embed images in the final report")
	pf.BoolVar(&opts.references, "references", true, "cite sources and append a source list")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "print reasoning to stderr")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full research pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("query") {
				// Interactive Mode
				q, err := prompt(cmd.InOrStdin(), cmd.ErrOrStderr(), "Enter research query: ")
				if err != nil {
					return err
				}
				opts.query = q
			}
			return runResearch(cmd, opts)
		},
	}
	runCmd.Flags().StringVarP(&opts.query, "query", "q", "", "the research query")
	runCmd.Flags().StringVarP(&opts.output, "output", "o", "", "report file (default report_<unix>.md)")

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Write only the research plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, opts)
		},
	}
	planCmd.Flags().StringVarP(&opts.query, "query", "q", "", "the research query")
	_ = planCmd.MarkFlagRequired("query")

	queriesCmd := &cobra.Command{
		Use:   "queries",
		Short: "Generate search queries from a plan file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueries(cmd, opts)
		},
	}
	queriesCmd.Flags().StringVar(&opts.planFile, "plan-file", "", "file holding the research plan")
	_ = queriesCmd.MarkFlagRequired("plan-file")

	rootCmd.AddCommand(runCmd, planCmd, queriesCmd)
	return rootCmd
}

func prompt(in io.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("query cannot be empty")
	}
	return input, nil
}

// consoleSink prints visible text to out and progress to errOut.
type consoleSink struct {
	out     io.Writer
	errOut  io.Writer
	verbose bool
}

func (c *consoleSink) Emit(ev research.Event) {
	switch e := ev.(type) {
	case research.StepStarted:
		fmt.Fprintf(c.errOut, "\n== %s ==\n", e.Step)
	case research.TaskStarted:
		fmt.Fprintf(c.errOut, "\n-- %s --\n", e.Name)
	case research.MessageChunk:
		fmt.Fprint(c.out, e.Text)
	case research.ReasoningChunk:
		if c.verbose {
			fmt.Fprint(c.errOut, e.Text)
		}
	case research.ErrorEvent:
		fmt.Fprintf(c.errOut, "\nerror: %s\n", e.Message)
	}
}

func setup(cmd *cobra.Command, opts *options, out io.Writer) (*research.Engine, research.ReportOptions, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, research.ReportOptions{}, err
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel)
	slog.SetDefault(logger)

	engines := &server.Engines{
		Config:   cfg,
		Registry: search.NewRegistry(&http.Client{Timeout: 60 * time.Second}),
	}
	req := server.ResearchRequest{
		Query:          opts.query,
		Language:       opts.language,
		SearchProvider: opts.searchID,
	}
	if cmd.Flags().Changed("images") {
		req.EnableCitationImage = &opts.images
	}
	if cmd.Flags().Changed("references") {
		req.EnableReferences = &opts.references
	}

	sink := &consoleSink{out: out, errOut: cmd.ErrOrStderr(), verbose: opts.verbose}
	return engines.Build(cmd.Context(), req, sink, logger)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runResearch(cmd *cobra.Command, opts *options) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	cmd.SetContext(ctx)

	engine, reportOpts, err := setup(cmd, opts, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	result, err := engine.Start(ctx, opts.query, reportOpts)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout())

	reportPath := opts.output
	if reportPath == "" {
		reportPath = fmt.Sprintf("report_%d.md", time.Now().Unix())
	}
	if err := os.WriteFile(reportPath, []byte(result.FinalReport), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	sources, err := json.MarshalIndent(result.Sources, "", "  ")
	if err != nil {
		return err
	}
	sourcesPath := filepath.Join(filepath.Dir(reportPath), "sources.json")
	if err := os.WriteFile(sourcesPath, sources, 0o644); err != nil {
		return fmt.Errorf("failed to write sources: %w", err)
	}

	slog.Info("Research saved", "title", result.Title, "report", reportPath, "sources", sourcesPath)
	return nil
}

func runPlan(cmd *cobra.Command, opts *options) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	cmd.SetContext(ctx)

	engine, _, err := setup(cmd, opts, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if _, err := engine.WritePlan(ctx, opts.query); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

func runQueries(cmd *cobra.Command, opts *options) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	cmd.SetContext(ctx)

	plan, err := os.ReadFile(opts.planFile)
	if err != nil {
		return fmt.Errorf("failed to read plan: %w", err)
	}

	// Raw query JSON is not useful on screen; print the validated tasks instead.
	engine, _, err := setup(cmd, opts, io.Discard)
	if err != nil {
		return err
	}
	tasks, err := engine.GenerateQueries(ctx, string(plan))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(tasks)
}

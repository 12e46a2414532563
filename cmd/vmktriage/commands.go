// cmd/vmktriage/commands.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signalnine/vmktriage/internal/category"
	"github.com/signalnine/vmktriage/internal/filter"
	"github.com/signalnine/vmktriage/internal/ingest"
	"github.com/signalnine/vmktriage/internal/pipeline"
	"github.com/signalnine/vmktriage/internal/reader"
	"github.com/signalnine/vmktriage/internal/record"
	"github.com/signalnine/vmktriage/internal/report"
	"github.com/signalnine/vmktriage/internal/server"
	"github.com/signalnine/vmktriage/internal/store"
)

var (
	familyFlag   string
	modeFlag     string
	attributable bool
	topN         int
	jsonOutput   bool
	listLimit    int
)

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Parse a log file and print one JSON record per line",
	Args:  cobra.ExactArgs(1),
	RunE:  runParse,
}

var classifyCmd = &cobra.Command{
	Use:   "classify <file>...",
	Short: "Classify log files and print a triage summary",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClassify,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Classify log files and store the runs",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show category and module counts of a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var watchCmd = &cobra.Command{
	Use:   "watch [glob]...",
	Short: "Ingest log files on an interval, resuming from checkpoints",
	RunE:  runWatch,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored runs over read-only HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	for _, c := range []*cobra.Command{parseCmd, classifyCmd, ingestCmd} {
		c.Flags().StringVarP(&familyFlag, "family", "f", "", "log family (vmkernel, vmkwarning, vobd); inferred from file name when empty")
	}
	classifyCmd.Flags().StringVarP(&modeFlag, "mode", "m", "", "classification mode (multi, first); defaults to config")
	classifyCmd.Flags().BoolVarP(&attributable, "attributable", "a", false, "drop records without a module before classifying")
	classifyCmd.Flags().IntVarP(&topN, "top", "n", 10, "modules to list")
	classifyCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the summary as JSON")
	for _, c := range []*cobra.Command{ingestCmd, watchCmd} {
		c.Flags().BoolVarP(&attributable, "attributable", "a", false, "drop records without a module before storing")
	}
	runsCmd.Flags().IntVarP(&listLimit, "limit", "l", 20, "runs to list")
	runsCmd.AddCommand(runsShowCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	family, err := resolveFamily(familyFlag, args[0])
	if err != nil {
		return err
	}
	r, err := reader.New(family, reader.WithWorkers(e.cfg.Workers), reader.WithChunkLines(e.cfg.ChunkLines))
	if err != nil {
		return err
	}
	f, err := reader.Open(args[0])
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	ctx, cancel := signalContext()
	defer cancel()

	enc := json.NewEncoder(cmd.OutOrStdout())
	return r.Stream(ctx, f, func(batch []record.Record) error {
		for _, rec := range batch {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func runClassify(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	var mode category.Mode
	if modeFlag != "" {
		if mode, err = category.ParseMode(modeFlag); err != nil {
			return err
		}
	}

	var problems *filter.ProblemSet
	if e.cfg.ProblemModulesPath != "" {
		if problems, err = filter.LoadProblemSet(e.cfg.ProblemModulesPath); err != nil {
			e.logger.Warn("problem modules unavailable", zap.String("path", e.cfg.ProblemModulesPath), zap.Error(err))
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	d := e.dictionary()
	out := cmd.OutOrStdout()
	for _, path := range args {
		family, err := resolveFamily(familyFlag, path)
		if err != nil {
			return err
		}
		p := e.pipeline(d, pipeline.Options{Mode: mode, AttributableOnly: attributable || e.cfg.AttributableOnly})
		res, err := p.Run(ctx, path, family)
		if err != nil {
			return err
		}

		summary := report.Summarize(d, res.Classified)
		if jsonOutput {
			if err := json.NewEncoder(out).Encode(map[string]any{
				"source":  res.Source,
				"family":  res.Family,
				"dropped": res.Dropped,
				"summary": summary,
			}); err != nil {
				return err
			}
			continue
		}
		printSummary(out, res, summary, topN)
		if family == record.FamilyDiagnostic && problems != nil {
			printProblems(out, problems, res.Records)
		}
	}
	return nil
}

func printSummary(w io.Writer, res *pipeline.Result, s report.Summary, top int) {
	fmt.Fprintf(w, "%s (%s): %s records, %s dropped, %s attributable, took %s\n",
		res.Source, res.Family,
		humanize.Comma(int64(res.Parsed)), humanize.Comma(int64(res.Dropped)),
		humanize.Comma(int64(s.Attributable)), res.Duration.Round(time.Millisecond))
	if !s.First.IsZero() {
		fmt.Fprintf(w, "  span %s .. %s\n", s.First.Format(time.RFC3339), s.Last.Format(time.RFC3339))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  CATEGORY\tRECORDS")
	for _, c := range s.ByCategory {
		fmt.Fprintf(tw, "  %s\t%s\n", c.Key, humanize.Comma(int64(c.Count)))
	}
	tw.Flush()

	if modules := report.Top(s.ByModule, top); len(modules) > 0 {
		fmt.Fprintln(tw, "  MODULE\tRECORDS")
		for _, c := range modules {
			fmt.Fprintf(tw, "  %s\t%s\n", c.Key, humanize.Comma(int64(c.Count)))
		}
		tw.Flush()
	}
}

func printProblems(w io.Writer, problems *filter.ProblemSet, records []record.Record) {
	known := filter.Apply(records, problems.Known)
	unknown := filter.Apply(records, problems.Unknown)
	fmt.Fprintf(w, "  known problems: %s, unlisted problems: %s\n",
		humanize.Comma(int64(len(known))), humanize.Comma(int64(len(unknown))))

	seen := make(map[string]bool)
	for _, r := range unknown {
		if module := r.ModuleName(); !seen[module] {
			seen[module] = true
			fmt.Fprintf(w, "    unlisted: %s\n", module)
		}
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	db, err := store.NewDB(e.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()

	ing := e.ingester(db)
	for _, path := range ingest.OldestFirst(args) {
		family, err := resolveFamily(familyFlag, path)
		if err != nil {
			return err
		}
		run, err := ing.File(ctx, path, family)
		if err != nil {
			return err
		}
		if run == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): nothing new\n", path, family)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s (%s): %s records, %s unmatched\n",
			run.ID, path, family, humanize.Comma(int64(run.Classified)), humanize.Comma(int64(run.Unmatched)))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	patterns := e.cfg.WatchPaths
	if len(args) > 0 {
		patterns = args
	}
	if len(patterns) == 0 {
		return fmt.Errorf("no files to watch: pass globs or set watch_paths")
	}

	db, err := store.NewDB(e.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx, cancel := signalContext()
	defer cancel()
	return ingest.NewWatcher(e.ingester(db), patterns, e.cfg.PollInterval, e.logger).Run(ctx)
}

func runRuns(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	db, err := store.NewDB(e.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	runs, err := db.ListRuns(cmd.Context(), listLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFAMILY\tSOURCE\tRECORDS\tUNMATCHED\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Family, r.Source,
			humanize.Comma(int64(r.Classified)), humanize.Comma(int64(r.Unmatched)), humanize.Time(r.CreatedAt))
	}
	return tw.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	db, err := store.NewDB(e.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	run, err := db.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	cats, err := db.CategoryCounts(ctx, run.ID)
	if err != nil {
		return err
	}
	modules, err := db.ModuleCounts(ctx, run.ID, 10)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s), stored %s\n", run.Source, run.Family, humanize.Time(run.CreatedAt))
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, c := range cats {
		fmt.Fprintf(tw, "  %s\t%s\n", c.Key, humanize.Comma(int64(c.Count)))
	}
	for _, c := range modules {
		fmt.Fprintf(tw, "  module %s\t%s\n", c.Key, humanize.Comma(int64(c.Count)))
	}
	return tw.Flush()
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	db, err := store.NewDB(e.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if e.cfg.APIKey == "" {
		e.logger.Warn("VMKTRIAGE_API_KEY not set, /runs is unauthenticated")
	}

	ctx, cancel := signalContext()
	defer cancel()
	return server.New(e.cfg, db, e.logger).Run(ctx)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"yashubustudio/jsonmanager/internal/store"
	"yashubustudio/jsonmanager/jsonmanager"
)

// scanFlags holds the command-line overrides for a batch. Only flags the
// user actually set replace the stored preferences.
type scanFlags struct {
	pattern      string
	ignoreEmpty  bool
	precision    int
	noPrecision  bool
	arity        int
	round        bool
	updateName   bool
	removeDesc   bool
	clearName    bool
	near         bool
	tolerance    float64
	cellSize     float64
	metric       string
	mergeChains  bool
	workers      int
	preserveTree bool
	format       string
	db           string

	savePrefs    bool
	report       string
	del          bool
	moveTo       string
	selectPat    string
	keepOriginal bool
	dryRun       bool
	yes          bool
	quiet        bool
}

func (f *scanFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.pattern, "pattern", "*.json", "file name glob; a pattern with / matches the path below the directory")
	fs.BoolVar(&f.ignoreEmpty, "ignore-empty", false, "skip records without a position instead of reporting them")
	fs.IntVar(&f.precision, "precision", jsonmanager.DefaultPrecision, "decimal places positions are rounded to before grouping")
	fs.BoolVar(&f.noPrecision, "no-precision", false, "group by exact values without rounding")
	fs.IntVar(&f.arity, "arity", 0, "required number of position components (0: take it from the first record)")
	fs.BoolVar(&f.round, "round", false, "write rounded positions back to the records")
	fs.BoolVar(&f.updateName, "update-name", false, "set name from the file name")
	fs.BoolVar(&f.removeDesc, "remove-description", false, "remove the description field")
	fs.BoolVar(&f.clearName, "clear-name", false, "set name to an empty string")
	fs.BoolVar(&f.near, "near", false, "also find near-duplicate positions")
	fs.Float64Var(&f.tolerance, "tolerance", 1, "per-component distance for near duplicates")
	fs.Float64Var(&f.cellSize, "cell-size", 0, "bucket width of the near-duplicate index (default: tolerance)")
	fs.StringVar(&f.metric, "metric", string(jsonmanager.MetricChebyshev), "near-duplicate distance: chebyshev or euclidean")
	fs.BoolVar(&f.mergeChains, "merge-chains", false, "merge overlapping near clusters into connected components")
	fs.IntVar(&f.workers, "workers", 0, "records loaded in parallel (default: number of CPUs)")
	fs.BoolVar(&f.preserveTree, "preserve-tree", false, "keep the directory layout below the scan root when moving")
	fs.StringVar(&f.format, "format", "", "report format: text, json or yaml")
	fs.StringVar(&f.db, "db", "", "SQLite file the result is recorded in")

	fs.BoolVar(&f.savePrefs, "save-prefs", false, "store the effective options as preferences")
	fs.StringVar(&f.report, "report", "", "write the report to FILE instead of stdout")
	fs.BoolVar(&f.del, "delete", false, "delete the files of the selected matches")
	fs.StringVar(&f.moveTo, "move-to", "", "move the files of the selected matches to DIR")
	fs.StringVar(&f.selectPat, "select", "", "select matches with a file under this path prefix or glob (default: all)")
	fs.BoolVar(&f.keepOriginal, "keep-original", true, "leave the first file of each match in place")
	fs.BoolVar(&f.dryRun, "dry-run", false, "show what --delete or --move-to would do")
	fs.BoolVarP(&f.yes, "yes", "y", false, "do not ask for confirmation")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "no progress bar and no report on stdout")
}

// apply overlays the flags the user set onto base.
func (f *scanFlags) apply(fs *pflag.FlagSet, base jsonmanager.Config) (jsonmanager.Config, error) {
	cfg := base.Clone()
	set := func(name string) bool { return fs.Changed(name) }
	if set("pattern") {
		cfg.FilePattern = f.pattern
	}
	if set("ignore-empty") {
		cfg.IgnoreEmpty = f.ignoreEmpty
	}
	switch {
	case set("precision") && set("no-precision") && f.noPrecision:
		return cfg, fmt.Errorf("%w: --precision and --no-precision conflict", jsonmanager.ErrInvalidConfig)
	case set("precision"):
		cfg.Precision = jsonmanager.IntPtr(f.precision)
	case set("no-precision") && f.noPrecision:
		cfg.Precision = nil
	}
	if set("arity") {
		cfg.Arity = f.arity
	}
	if set("round") {
		cfg.RoundAndPersist = f.round
	}
	if set("update-name") {
		cfg.UpdateName = f.updateName
	}
	if set("remove-description") {
		cfg.RemoveDescription = f.removeDesc
	}
	if set("clear-name") {
		cfg.ClearName = f.clearName
	}
	if set("near") {
		cfg.FindNearDuplicates = f.near
	}
	if set("tolerance") {
		cfg.Tolerance = f.tolerance
		if !set("cell-size") && base.CellSize == base.Tolerance {
			cfg.CellSize = 0
		}
	}
	if set("cell-size") {
		cfg.CellSize = f.cellSize
	}
	if set("metric") {
		cfg.Metric = jsonmanager.Metric(strings.ToLower(f.metric))
	}
	if set("merge-chains") {
		cfg.MergeChains = f.mergeChains
	}
	if set("workers") {
		cfg.Workers = f.workers
	}
	if set("preserve-tree") {
		cfg.PreserveTree = f.preserveTree
	}
	if set("format") {
		cfg.ReportFormat = jsonmanager.ReportFormat(strings.ToLower(f.format))
	}
	if set("db") {
		cfg.HistoryDB = f.db
	}
	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

func newScanCmd() *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "scan [dir]",
		Short: "Scan a directory and report duplicate positions",
		Long: `Scan every record under dir (or the stored directory) and report exact and
near-duplicate positions.

Examples:
  jsonmanager-cli scan ./records
  jsonmanager-cli scan ./records --near --tolerance 0.5
  jsonmanager-cli scan --round --precision 3 --save-prefs
  jsonmanager-cli scan ./records --select backup --delete --dry-run
  jsonmanager-cli scan ./records --move-to ./dupes --preserve-tree --yes`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, prefs := loadPreferences()
			if len(args) == 1 {
				base.Directory = args[0]
			}
			cfg, err := f.apply(cmd.Flags(), base)
			if err != nil {
				return err
			}
			if f.savePrefs {
				if err := prefs.Save(cfg); err != nil {
					return fmt.Errorf("save preferences: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Preferences saved to %s\n", prefs.Path)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runScan(ctx, cmd.OutOrStdout(), cfg, &f)
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func runScan(ctx context.Context, out io.Writer, cfg jsonmanager.Config, f *scanFlags) error {
	logger := newLogger(f.quiet)
	svc := jsonmanager.NewService(jsonmanager.NewFileRecordStore(), logger)

	var sink jsonmanager.ProgressSink = jsonmanager.NopProgress
	var bar *barSink
	if !f.quiet {
		bar = newBarSink(os.Stderr)
		sink = bar
	}
	res, err := svc.Run(ctx, cfg, sink)
	if bar != nil {
		bar.finish()
	}
	if res == nil {
		return err
	}
	if err != nil && !res.Stopped {
		return err
	}

	if err := writeReport(out, res, cfg.ReportFormat, f); err != nil {
		return err
	}
	printSummary(os.Stderr, res)

	if cfg.HistoryDB != "" {
		if err := recordHistory(ctx, cfg.HistoryDB, res); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", color.YellowString("Warning:"), err)
		}
	}
	if res.Stopped {
		return err
	}
	if f.del || f.moveTo != "" {
		return runActions(res, cfg, f, logger)
	}
	return nil
}

func writeReport(out io.Writer, res *jsonmanager.Result, format jsonmanager.ReportFormat, f *scanFlags) error {
	if f.report == "" {
		if f.quiet {
			return nil
		}
		return jsonmanager.WriteReport(out, res, format)
	}
	file, err := os.Create(f.report)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := jsonmanager.WriteReport(file, res, format); err != nil {
		_ = file.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Report written to %s\n", f.report)
	return nil
}

func printSummary(w io.Writer, res *jsonmanager.Result) {
	s := res.Stats
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(w, "\n%s %s files in %s (%.2f files/second)\n",
		green("Scanned"), humanize.Comma(int64(s.Scanned)), s.Elapsed.Round(time.Millisecond), s.FilesPerSecond)
	fmt.Fprintf(w, "Found %s duplicate and %s near-duplicate positions (%s total)\n",
		green(humanize.Comma(int64(s.DuplicatePositions))),
		green(humanize.Comma(int64(s.NearPositions))),
		humanize.Comma(int64(s.TotalMatches())))
	if s.Invalid > 0 || s.Errored > 0 {
		fmt.Fprintf(w, "%s %d invalid positions, %d unreadable files\n", yellow("Note:"), s.Invalid, s.Errored)
	}
	for op, c := range s.Mutations {
		if c.Applied > 0 || c.Failed > 0 {
			fmt.Fprintf(w, "  %s: %d applied, %d failed\n", op, c.Applied, c.Failed)
		}
	}
	if res.Stopped {
		fmt.Fprintln(w, yellow("Stopped before completion."))
	}
}

func recordHistory(ctx context.Context, path string, res *jsonmanager.Result) error {
	h, err := store.OpenHistory(path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer h.Close()
	if err := h.SaveResult(context.WithoutCancel(ctx), res); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

func selectKeys(res *jsonmanager.Result, pattern string) ([]jsonmanager.Key, error) {
	if strings.TrimSpace(pattern) != "" {
		return jsonmanager.SelectByPattern(res, pattern)
	}
	var keys []jsonmanager.Key
	for _, g := range res.Matches() {
		keys = append(keys, g.Key)
	}
	return keys, nil
}

func runActions(res *jsonmanager.Result, cfg jsonmanager.Config, f *scanFlags, logger *jsonmanager.Logger) error {
	if f.del && f.moveTo != "" {
		return errors.New("--delete and --move-to are exclusive")
	}
	keys, err := selectKeys(res, f.selectPat)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "No matches selected.")
		return nil
	}
	opts := jsonmanager.ActionOptions{KeepOriginal: f.keepOriginal, DryRun: f.dryRun, PreserveTree: cfg.PreserveTree}

	verb := "Delete"
	if f.moveTo != "" {
		verb = "Move"
	}
	if !f.dryRun && !f.yes {
		ok, err := confirm(fmt.Sprintf("%s the files of %d selected positions? [y/N] ", verb, len(keys)))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Cancelled.")
			return nil
		}
	}

	var outcomes []jsonmanager.ActionOutcome
	if f.del {
		outcomes = jsonmanager.Delete(res, keys, opts, logger)
	} else {
		outcomes, err = jsonmanager.Move(res, keys, f.moveTo, opts, logger)
		if err != nil {
			return err
		}
	}
	printOutcomes(os.Stdout, res.Root, verb, outcomes, f.dryRun)
	return nil
}

func printOutcomes(w io.Writer, root, verb string, outcomes []jsonmanager.ActionOutcome, dryRun bool) {
	done, failed := 0, 0
	for _, o := range outcomes {
		rel := jsonmanager.RelPath(root, o.Path)
		switch {
		case o.Kept:
			fmt.Fprintf(w, "  %s %s\n", color.CyanString("keep"), rel)
		case o.Err != nil:
			failed++
			fmt.Fprintf(w, "  %s %s: %v\n", color.RedString("fail"), rel, o.Err)
		case o.Dest != "":
			done++
			fmt.Fprintf(w, "  %s %s -> %s\n", color.GreenString("move"), rel, o.Dest)
		default:
			done++
			fmt.Fprintf(w, "  %s %s\n", color.GreenString("delete"), rel)
		}
	}
	prefix := ""
	if dryRun {
		prefix = color.YellowString("DRY RUN ")
	}
	fmt.Fprintf(w, "%s%s: %d files, %d failed\n", prefix, verb, done, failed)
}

func confirm(prompt string) (bool, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          color.New(color.FgYellow).Sprint(prompt),
		InterruptPrompt: "^C",
	})
	if err != nil {
		return false, fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	line, err := rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

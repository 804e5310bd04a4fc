package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"yashubustudio/jsonmanager/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var (
		f        scanFlags
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Rescan whenever records under a directory change",
		Long: `Run a scan, then watch the directory and rescan after each burst of changes.
Mutations only rewrite records they change, so a rescan triggered by the
previous scan's own writes settles without further writes.

Examples:
  jsonmanager-cli watch ./records
  jsonmanager-cli watch ./records --round --precision 2 --debounce 2s`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, _ := loadPreferences()
			if len(args) == 1 {
				base.Directory = args[0]
			}
			cfg, err := f.apply(cmd.Flags(), base)
			if err != nil {
				return err
			}
			if f.del || f.moveTo != "" {
				return errors.New("watch does not delete or move files")
			}
			f.quiet = true

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			w, err := watch.New(watch.Options{
				Root:     cfg.Directory,
				Pattern:  cfg.FilePattern,
				Debounce: debounce,
				Logger:   newLogger(false),
			})
			if err != nil {
				return err
			}
			defer w.Close()

			rescan := func(ctx context.Context, changed []string) error {
				if len(changed) > 0 {
					fmt.Fprintf(os.Stderr, "%s %d changed paths\n", color.CyanString("Rescan:"), len(changed))
				}
				return runScan(ctx, cmd.OutOrStdout(), cfg, &f)
			}
			if err := rescan(ctx, nil); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Watching %s (Ctrl+C to stop)\n", cfg.Directory)
			if err := w.Run(ctx, rescan); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	f.register(cmd.Flags())
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a rescan")
	return cmd
}

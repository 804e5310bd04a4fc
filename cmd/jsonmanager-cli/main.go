package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"yashubustudio/jsonmanager/jsonmanager"
)

var (
	prefsPath string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "jsonmanager-cli",
	Short: "Find JSON records that share or nearly share a position",
	Long: `Scan a directory of JSON records, group them by their "position" array and
report exact and near duplicates.

Options not given on the command line come from preferences.json, stored
beside the executable unless --prefs points elsewhere.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&prefsPath, "prefs", "", "preferences file (default: preferences.json beside the executable)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every record-level event")
	rootCmd.AddCommand(newScanCmd(), newWatchCmd(), prefsCmd, newHistoryCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func preferences() *jsonmanager.PreferencesFile {
	return jsonmanager.NewPreferencesFile(prefsPath)
}

// loadPreferences returns the saved config, falling back to defaults with a
// warning when the file cannot be read.
func loadPreferences() (jsonmanager.Config, *jsonmanager.PreferencesFile) {
	p := preferences()
	cfg, _, err := p.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s preferences %s unreadable, using defaults: %v\n", color.YellowString("Warning:"), p.Path, err)
	}
	return cfg, p
}

func newLogger(quiet bool) *jsonmanager.Logger {
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	}
	return jsonmanager.NewTextLogger(os.Stderr, level)
}

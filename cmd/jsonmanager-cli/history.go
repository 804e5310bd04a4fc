package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"yashubustudio/jsonmanager/internal/store"
	"yashubustudio/jsonmanager/jsonmanager"
)

func newHistoryCmd() *cobra.Command {
	var (
		db    string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded scans or show the matches of one scan",
		Long: `Read scan results recorded with scan --db (or the historyDB preference).

Examples:
  jsonmanager-cli history --db scans.db
  jsonmanager-cli history --db scans.db -n 5
  jsonmanager-cli history --db scans.db 7c0e5c1e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if db == "" {
				cfg, _ := loadPreferences()
				db = cfg.HistoryDB
			}
			if db == "" {
				return errors.New("no history database; pass --db or set historyDB in preferences")
			}
			h, err := store.OpenHistory(db)
			if err != nil {
				return err
			}
			defer h.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				runs, err := h.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				printRuns(out, runs, time.Now())
				return nil
			}
			groups, err := h.RunGroups(ctx, args[0])
			if err != nil {
				return err
			}
			invalid, err := h.RunInvalid(ctx, args[0])
			if err != nil {
				return err
			}
			printRunDetail(out, groups, invalid)
			return nil
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "SQLite history file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list (0: all)")
	return cmd
}

func printRuns(w io.Writer, runs []store.RunSummary, now time.Time) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No recorded scans.")
		return
	}
	bold := color.New(color.Bold).SprintFunc()
	for _, r := range runs {
		state := color.GreenString("done")
		if r.Stopped {
			state = color.YellowString("stopped")
		}
		fmt.Fprintf(w, "%s  %s  %s\n", bold(r.ID), humanize.RelTime(r.Started, now, "ago", "from now"), state)
		fmt.Fprintf(w, "  %s\n", r.Root)
		fmt.Fprintf(w, "  %s scanned, %s duplicate, %s near, %d invalid, %d unreadable in %s\n",
			humanize.Comma(int64(r.Scanned)), humanize.Comma(int64(r.DuplicatePositions)),
			humanize.Comma(int64(r.NearPositions)), r.Invalid, r.Errored, r.Elapsed)
	}
}

func printRunDetail(w io.Writer, groups []store.StoredGroup, invalid []jsonmanager.InvalidRecord) {
	var exact, near []store.StoredGroup
	for _, g := range groups {
		if g.Kind == store.KindNear {
			near = append(near, g)
		} else {
			exact = append(exact, g)
		}
	}
	fmt.Fprintln(w, "Exact Duplicate Positions:")
	for _, g := range exact {
		fmt.Fprintf(w, "Position: [%s]\nFiles:\n%s\n\n", strings.ReplaceAll(string(g.Key), ",", ", "), strings.Join(g.Files, "\n"))
	}
	fmt.Fprintln(w, "Near Duplicate Positions:")
	cluster := -1
	for _, g := range near {
		if g.Cluster != cluster {
			cluster = g.Cluster
			if cluster == 0 {
				fmt.Fprintln(w, "Outside Clusters:")
			} else {
				fmt.Fprintf(w, "Cluster %d:\n", cluster)
			}
		}
		fmt.Fprintf(w, "Position: [%s]\nFiles:\n%s\n\n", strings.ReplaceAll(string(g.Key), ",", ", "), strings.Join(g.Files, "\n"))
	}
	if len(invalid) > 0 {
		fmt.Fprintln(w, "Invalid Positions:")
		for _, r := range invalid {
			fmt.Fprintf(w, "%s: %s\n", r.Path, r.Reason)
		}
	}
}

package jsonmanager

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type reportGroup struct {
	Key      Key      `json:"key" yaml:"key"`
	Position Position `json:"position" yaml:"position,flow"`
	Files    []string `json:"files" yaml:"files"`
}

type reportCluster struct {
	Groups []reportGroup `json:"groups" yaml:"groups"`
}

type reportStats struct {
	Discovered     int                       `json:"discovered" yaml:"discovered"`
	Scanned        int                       `json:"scanned" yaml:"scanned"`
	Grouped        int                       `json:"grouped" yaml:"grouped"`
	Invalid        int                       `json:"invalid" yaml:"invalid"`
	Errored        int                       `json:"errored" yaml:"errored"`
	Skipped        int                       `json:"skipped" yaml:"skipped"`
	Duplicates     int                       `json:"duplicatePositions" yaml:"duplicatePositions"`
	Near           int                       `json:"nearPositions" yaml:"nearPositions"`
	Started        string                    `json:"started" yaml:"started"`
	ElapsedSeconds float64                   `json:"elapsedSeconds" yaml:"elapsedSeconds"`
	FilesPerSecond float64                   `json:"filesPerSecond" yaml:"filesPerSecond"`
	Mutations      map[string]MutationCounts `json:"mutations,omitempty" yaml:"mutations,omitempty"`
}

type reportDoc struct {
	RunID          string          `json:"runId" yaml:"runId"`
	Root           string          `json:"root" yaml:"root"`
	Stopped        bool            `json:"stopped,omitempty" yaml:"stopped,omitempty"`
	Stats          reportStats     `json:"stats" yaml:"stats"`
	Duplicates     []reportGroup   `json:"duplicates" yaml:"duplicates"`
	NearDuplicates []reportCluster `json:"nearDuplicates" yaml:"nearDuplicates"`
	NearOther      []reportGroup   `json:"nearUnclustered" yaml:"nearUnclustered"`
	Invalid        []InvalidRecord `json:"invalid" yaml:"invalid"`
	Errored        []RecordError   `json:"errored" yaml:"errored"`
}

func newReportDoc(res *Result) reportDoc {
	doc := reportDoc{
		RunID:   res.RunID,
		Root:    res.Root,
		Stopped: res.Stopped,
		Stats: reportStats{
			Discovered:     res.Stats.Discovered,
			Scanned:        res.Stats.Scanned,
			Grouped:        res.Stats.Grouped,
			Invalid:        res.Stats.Invalid,
			Errored:        res.Stats.Errored,
			Skipped:        res.Stats.Skipped,
			Duplicates:     res.Stats.DuplicatePositions,
			Near:           res.Stats.NearPositions,
			Started:        res.Stats.Started.Format(time.RFC3339),
			ElapsedSeconds: res.Stats.Elapsed.Seconds(),
			FilesPerSecond: res.Stats.FilesPerSecond,
			Mutations:      res.Stats.Mutations,
		},
		Duplicates:     []reportGroup{},
		NearDuplicates: []reportCluster{},
		NearOther:      []reportGroup{},
		Invalid:        res.Invalid,
		Errored:        res.Errored,
	}
	for _, k := range res.DuplicateKeys {
		if g, ok := res.Group(k); ok {
			doc.Duplicates = append(doc.Duplicates, newReportGroup(res.Root, g))
		}
	}
	for _, c := range res.Clusters {
		var rc reportCluster
		for _, k := range c.Keys {
			if g, ok := res.Group(k); ok {
				rc.Groups = append(rc.Groups, newReportGroup(res.Root, g))
			}
		}
		doc.NearDuplicates = append(doc.NearDuplicates, rc)
	}
	for _, k := range res.UnclusteredNearKeys() {
		if g, ok := res.Group(k); ok {
			doc.NearOther = append(doc.NearOther, newReportGroup(res.Root, g))
		}
	}
	if doc.Invalid == nil {
		doc.Invalid = []InvalidRecord{}
	}
	if doc.Errored == nil {
		doc.Errored = []RecordError{}
	}
	return doc
}

func newReportGroup(root string, g *Group) reportGroup {
	files := make([]string, len(g.Paths))
	for i, p := range g.Paths {
		files[i] = RelPath(root, p)
	}
	return reportGroup{Key: g.Key, Position: g.Position, Files: files}
}

// RelPath returns path relative to root in slash form, or path itself when
// it lies outside root.
func RelPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || len(rel) >= 2 && rel[:2] == ".." {
		return path
	}
	return filepath.ToSlash(rel)
}

// WriteReport writes the listed matches and invalid records of res to w.
func WriteReport(w io.Writer, res *Result, format ReportFormat) error {
	switch format {
	case ReportJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(newReportDoc(res)); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return nil
	case ReportYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(newReportDoc(res)); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return enc.Close()
	case ReportText, "":
		return writeTextReport(w, res)
	default:
		return fmt.Errorf("%w: unknown report format %q", ErrInvalidConfig, format)
	}
}

func writeTextReport(w io.Writer, res *Result) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "Exact Duplicate Positions:")
	for _, k := range res.DuplicateKeys {
		g, ok := res.Group(k)
		if !ok {
			continue
		}
		writeTextGroup(bw, g)
	}
	fmt.Fprintln(bw, "\nNear Duplicate Positions:")
	for i, c := range res.Clusters {
		fmt.Fprintf(bw, "Cluster %d:\n", i+1)
		for _, k := range c.Keys {
			if g, ok := res.Group(k); ok {
				writeTextGroup(bw, g)
			}
		}
	}
	if other := res.UnclusteredNearKeys(); len(other) > 0 {
		fmt.Fprintln(bw, "Outside Clusters:")
		for _, k := range other {
			if g, ok := res.Group(k); ok {
				writeTextGroup(bw, g)
			}
		}
	}
	if len(res.Invalid) > 0 {
		fmt.Fprintln(bw, "\nInvalid Positions:")
		for _, inv := range res.Invalid {
			if inv.Raw != "" {
				fmt.Fprintf(bw, "%s: %s (%s)\n", inv.Path, inv.Reason, inv.Raw)
				continue
			}
			fmt.Fprintf(bw, "%s: %s\n", inv.Path, inv.Reason)
		}
	}
	if len(res.Errored) > 0 {
		fmt.Fprintln(bw, "\nUnreadable Files:")
		for _, e := range res.Errored {
			fmt.Fprintf(bw, "%s: %s\n", e.Path, e.Error)
		}
	}
	return bw.Flush()
}

func writeTextGroup(w io.Writer, g *Group) {
	fmt.Fprintf(w, "Position: %s\n", g.Position)
	fmt.Fprintln(w, "Files:")
	for _, p := range g.Paths {
		fmt.Fprintln(w, p)
	}
	fmt.Fprintln(w)
}

// Summary is the short completion message shown by the front ends.
func Summary(res *Result) string {
	s := res.Stats
	msg := fmt.Sprintf("Scanned %d files in %.2f seconds (%.2f files/second).\nFound %d duplicate and %d near-duplicate positions (%d total).",
		s.Scanned, s.Elapsed.Seconds(), s.FilesPerSecond, s.DuplicatePositions, s.NearPositions, s.TotalMatches())
	if s.Invalid > 0 || s.Errored > 0 {
		msg += fmt.Sprintf("\n%d invalid positions, %d unreadable files.", s.Invalid, s.Errored)
	}
	if res.Stopped {
		msg += "\nStopped before completion."
	}
	return msg
}

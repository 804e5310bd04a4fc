package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"yashubustudio/jsonmanager/jsonmanager"
)

const fyneAppID = "studio.yashubu.jsonmanager"

var metricChoices = []struct {
	Label string
	Value jsonmanager.Metric
}{
	{Label: "最大差 (L∞)", Value: jsonmanager.MetricChebyshev},
	{Label: "ユークリッド距離", Value: jsonmanager.MetricEuclidean},
}

func metricLabel(m jsonmanager.Metric) string {
	for _, c := range metricChoices {
		if c.Value == m {
			return c.Label
		}
	}
	return metricChoices[0].Label
}

func metricValue(label string) jsonmanager.Metric {
	for _, c := range metricChoices {
		if c.Label == label {
			return c.Value
		}
	}
	return jsonmanager.MetricChebyshev
}

// formValues mirrors the main window's inputs as plain values.
type formValues struct {
	Directory string
	Pattern   string
	Precision string
	Tolerance string
	CellSize  string
	Metric    string

	IgnoreEmpty       bool
	RoundAndPersist   bool
	UpdateName        bool
	RemoveDescription bool
	ClearName         bool
	FindNear          bool
	MergeChains       bool
}

func formFromConfig(cfg jsonmanager.Config) formValues {
	f := formValues{
		Directory:         cfg.Directory,
		Pattern:           cfg.FilePattern,
		Tolerance:         strconv.FormatFloat(cfg.Tolerance, 'g', -1, 64),
		Metric:            metricLabel(cfg.Metric),
		IgnoreEmpty:       cfg.IgnoreEmpty,
		RoundAndPersist:   cfg.RoundAndPersist,
		UpdateName:        cfg.UpdateName,
		RemoveDescription: cfg.RemoveDescription,
		ClearName:         cfg.ClearName,
		FindNear:          cfg.FindNearDuplicates,
		MergeChains:       cfg.MergeChains,
	}
	if cfg.Precision != nil {
		f.Precision = strconv.Itoa(*cfg.Precision)
	}
	if cfg.CellSize != cfg.Tolerance {
		f.CellSize = strconv.FormatFloat(cfg.CellSize, 'g', -1, 64)
	}
	return f
}

// config applies the form on top of base. An empty precision disables
// rounding; an empty cell size follows the tolerance.
func (f formValues) config(base jsonmanager.Config) (jsonmanager.Config, error) {
	cfg := base.Clone()
	cfg.Directory = strings.TrimSpace(f.Directory)
	if cfg.Directory == "" {
		return cfg, errors.New("フォルダを選択してください")
	}
	cfg.FilePattern = strings.TrimSpace(f.Pattern)
	if p := strings.TrimSpace(f.Precision); p == "" {
		cfg.Precision = nil
	} else {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 15 {
			return cfg, fmt.Errorf("精度は0〜15の整数で指定してください: %q", p)
		}
		cfg.Precision = jsonmanager.IntPtr(v)
	}
	tol, err := parsePositive(f.Tolerance, 1)
	if err != nil {
		return cfg, fmt.Errorf("許容誤差: %w", err)
	}
	cfg.Tolerance = tol
	cell, err := parsePositive(f.CellSize, tol)
	if err != nil {
		return cfg, fmt.Errorf("セルサイズ: %w", err)
	}
	cfg.CellSize = cell
	cfg.Metric = metricValue(f.Metric)
	cfg.IgnoreEmpty = f.IgnoreEmpty
	cfg.RoundAndPersist = f.RoundAndPersist
	cfg.UpdateName = f.UpdateName
	cfg.RemoveDescription = f.RemoveDescription
	cfg.ClearName = f.ClearName
	cfg.FindNearDuplicates = f.FindNear
	cfg.MergeChains = f.MergeChains
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func parsePositive(text string, fallback float64) (float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("正の数を指定してください: %q", text)
	}
	return v, nil
}

// matchRow is one line of the results list.
type matchRow struct {
	Key      jsonmanager.Key
	Label    string
	Files    []string
	Near     bool
	Selected bool
}

func buildMatchRows(res *jsonmanager.Result) []matchRow {
	near := make(map[jsonmanager.Key]bool, len(res.NearDuplicateKeys))
	for _, k := range res.NearDuplicateKeys {
		near[k] = true
	}
	groups := res.Matches()
	rows := make([]matchRow, 0, len(groups))
	for _, g := range groups {
		kind := "完全一致"
		if len(g.Paths) < 2 && near[g.Key] {
			kind = "近似"
		} else if near[g.Key] {
			kind = "完全一致+近似"
		}
		files := make([]string, len(g.Paths))
		for i, p := range g.Paths {
			files[i] = jsonmanager.RelPath(res.Root, p)
		}
		rows = append(rows, matchRow{
			Key:   g.Key,
			Label: fmt.Sprintf("%s %s (%d件)", kind, g.Position, len(g.Paths)),
			Files: files,
			Near:  near[g.Key],
		})
	}
	return rows
}

func selectedKeys(rows []matchRow) []jsonmanager.Key {
	var keys []jsonmanager.Key
	for _, r := range rows {
		if r.Selected {
			keys = append(keys, r.Key)
		}
	}
	return keys
}

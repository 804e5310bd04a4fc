package jsonmanager

import (
	"encoding/json"
	"fmt"
	"math"
	"runtime"
	"time"
)

// Metric selects the distance used for near-duplicate matching.
type Metric string

const (
	// MetricChebyshev compares the largest per-component difference (L∞).
	MetricChebyshev Metric = "chebyshev"
	// MetricEuclidean compares the straight-line distance (L2).
	MetricEuclidean Metric = "euclidean"
)

// ReportFormat names an output layout for saved results.
type ReportFormat string

const (
	ReportText ReportFormat = "text"
	ReportJSON ReportFormat = "json"
	ReportYAML ReportFormat = "yaml"
)

// Position is an ordered, fixed-arity coordinate read from a record.
type Position []float64

// Key is the canonical string form of a normalized position.
type Key string

// Config aggregates the options persisted to preferences.json.
type Config struct {
	Directory          string  `json:"directory"`
	FilePattern        string  `json:"filePattern"`
	IgnoreEmpty        bool    `json:"ignoreEmpty"`
	Precision          *int    `json:"precision"`
	Arity              int     `json:"arity"`
	RoundAndPersist    bool    `json:"roundAndPersist"`
	UpdateName         bool    `json:"updateName"`
	RemoveDescription  bool    `json:"removeDescription"`
	ClearName          bool    `json:"clearName"`
	FindNearDuplicates bool    `json:"findNearDuplicates"`
	Tolerance          float64 `json:"tolerance"`
	CellSize           float64 `json:"cellSize"`
	Metric             Metric  `json:"metric"`
	MergeChains        bool    `json:"mergeChains"`
	Workers            int     `json:"workers"`

	PreserveTree bool         `json:"preserveTree"`
	ReportFormat ReportFormat `json:"reportFormat"`
	HistoryDB    string       `json:"historyDB"`
}

// DefaultPrecision is used when preferences do not mention precision at all.
const DefaultPrecision = 2

// Clone creates a deep copy of the configuration so callers can mutate safely.
func (c Config) Clone() Config {
	buf, _ := json.Marshal(c)
	var out Config
	_ = json.Unmarshal(buf, &out)
	return out
}

// ApplyDefaults populates zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.FilePattern == "" {
		c.FilePattern = "*.json"
	}
	if c.Tolerance <= 0 {
		c.Tolerance = 1
	}
	if c.CellSize <= 0 {
		c.CellSize = c.Tolerance
	}
	if c.Metric == "" {
		c.Metric = MetricChebyshev
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.ReportFormat == "" {
		c.ReportFormat = ReportText
	}
}

// Validate reports configuration values that would make a batch meaningless.
func (c Config) Validate() error {
	if c.Directory == "" {
		return fmt.Errorf("%w: directory is required", ErrInvalidConfig)
	}
	if c.Precision != nil && (*c.Precision < 0 || *c.Precision > 15) {
		return fmt.Errorf("%w: precision %d out of range 0..15", ErrInvalidConfig, *c.Precision)
	}
	if c.Arity < 0 {
		return fmt.Errorf("%w: arity %d", ErrInvalidConfig, c.Arity)
	}
	for name, v := range map[string]float64{"tolerance": c.Tolerance, "cellSize": c.CellSize} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be finite", ErrInvalidConfig, name)
		}
	}
	switch c.Metric {
	case MetricChebyshev, MetricEuclidean, "":
	default:
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidConfig, c.Metric)
	}
	switch c.ReportFormat {
	case ReportText, ReportJSON, ReportYAML, "":
	default:
		return fmt.Errorf("%w: unknown report format %q", ErrInvalidConfig, c.ReportFormat)
	}
	if c.RoundAndPersist && c.Precision == nil {
		return fmt.Errorf("%w: roundAndPersist needs a precision", ErrInvalidConfig)
	}
	return nil
}

// IntPtr is a convenience for building configs with a precision.
func IntPtr(v int) *int { return &v }

// Group holds every record sharing one normalized position, in discovery order.
// The first path is the original; the rest are its duplicates.
type Group struct {
	Key      Key      `json:"key" yaml:"key"`
	Position Position `json:"position" yaml:"position"`
	Paths    []string `json:"paths" yaml:"paths"`

	seq      int
	cluster  *Cluster
	partners []*Group
}

// Original returns the first-seen record of the group.
func (g *Group) Original() string {
	if len(g.Paths) == 0 {
		return ""
	}
	return g.Paths[0]
}

// Duplicates returns every record after the original.
func (g *Group) Duplicates() []string {
	if len(g.Paths) < 2 {
		return nil
	}
	return g.Paths[1:]
}

// Cluster is a set of groups whose keys are within tolerance of each other.
// Keys are ordered by group creation; the first key is the anchor.
type Cluster struct {
	Keys []Key `json:"keys" yaml:"keys"`

	groups []*Group
}

// InvalidRecord is a record whose position is absent or malformed.
type InvalidRecord struct {
	Path   string `json:"path" yaml:"path"`
	Raw    string `json:"raw,omitempty" yaml:"raw,omitempty"`
	Reason string `json:"reason" yaml:"reason"`
}

// RecordError is a record that could not be loaded at all.
type RecordError struct {
	Path  string `json:"path" yaml:"path"`
	Error string `json:"error" yaml:"error"`
}

// MutationCounts tallies outcomes for one mutation operation.
type MutationCounts struct {
	Applied   int `json:"applied" yaml:"applied"`
	Unchanged int `json:"unchanged" yaml:"unchanged"`
	Absent    int `json:"absent" yaml:"absent"`
	Failed    int `json:"failed" yaml:"failed"`
}

func (m *MutationCounts) add(o MutationOutcome) {
	switch o {
	case OutcomeApplied:
		m.Applied++
	case OutcomeUnchanged:
		m.Unchanged++
	case OutcomeAbsent:
		m.Absent++
	case OutcomeFailed:
		m.Failed++
	}
}

// Stats are the cumulative counters reported after a batch.
type Stats struct {
	Discovered         int                       `json:"discovered" yaml:"discovered"`
	Scanned            int                       `json:"scanned" yaml:"scanned"`
	Grouped            int                       `json:"grouped" yaml:"grouped"`
	Invalid            int                       `json:"invalid" yaml:"invalid"`
	Errored            int                       `json:"errored" yaml:"errored"`
	Skipped            int                       `json:"skipped" yaml:"skipped"`
	DuplicatePositions int                       `json:"duplicatePositions" yaml:"duplicatePositions"`
	NearPositions      int                       `json:"nearPositions" yaml:"nearPositions"`
	Started            time.Time                 `json:"started" yaml:"started"`
	Elapsed            time.Duration             `json:"elapsed" yaml:"elapsed"`
	FilesPerSecond     float64                   `json:"filesPerSecond" yaml:"filesPerSecond"`
	Mutations          map[string]MutationCounts `json:"mutations,omitempty" yaml:"mutations,omitempty"`
}

// TotalMatches is the number of positions involved in any match.
func (s Stats) TotalMatches() int {
	return s.DuplicatePositions + s.NearPositions
}

// Result is what a batch hands back to its caller. It owns every set the
// batch produced; nothing is kept process-wide.
type Result struct {
	RunID             string          `json:"runId" yaml:"runId"`
	Root              string          `json:"root" yaml:"root"`
	Groups            []*Group        `json:"groups" yaml:"groups"`
	DuplicateKeys     []Key           `json:"duplicateKeys" yaml:"duplicateKeys"`
	NearDuplicateKeys []Key           `json:"nearDuplicateKeys" yaml:"nearDuplicateKeys"`
	Clusters          []*Cluster      `json:"clusters" yaml:"clusters"`
	Invalid           []InvalidRecord `json:"invalid" yaml:"invalid"`
	Errored           []RecordError   `json:"errored" yaml:"errored"`
	Stats             Stats           `json:"stats" yaml:"stats"`
	Stopped           bool            `json:"stopped,omitempty" yaml:"stopped,omitempty"`

	byKey map[Key]*Group
}

// Group looks up a group by key.
func (r *Result) Group(key Key) (*Group, bool) {
	if r.byKey == nil {
		r.byKey = make(map[Key]*Group, len(r.Groups))
		for _, g := range r.Groups {
			r.byKey[g.Key] = g
		}
	}
	g, ok := r.byKey[key]
	return g, ok
}

// Matches returns the groups involved in an exact or near match, exact first,
// each list in discovery order. This is what the result views list.
func (r *Result) Matches() []*Group {
	seen := make(map[Key]struct{}, len(r.DuplicateKeys)+len(r.NearDuplicateKeys))
	out := make([]*Group, 0, len(r.DuplicateKeys)+len(r.NearDuplicateKeys))
	for _, keys := range [][]Key{r.DuplicateKeys, r.NearDuplicateKeys} {
		for _, k := range keys {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			if g, ok := r.Group(k); ok {
				out = append(out, g)
			}
		}
	}
	return out
}

// ClusterOf returns the cluster a key belongs to, if any.
func (r *Result) ClusterOf(key Key) (*Cluster, bool) {
	for _, c := range r.Clusters {
		for _, k := range c.Keys {
			if k == key {
				return c, true
			}
		}
	}
	return nil, false
}

// UnclusteredNearKeys returns the near-duplicate keys that belong to no
// cluster, in discovery order. These are chain ends left out of a clique.
func (r *Result) UnclusteredNearKeys() []Key {
	clustered := make(map[Key]struct{})
	for _, c := range r.Clusters {
		for _, k := range c.Keys {
			clustered[k] = struct{}{}
		}
	}
	var out []Key
	for _, k := range r.NearDuplicateKeys {
		if _, ok := clustered[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// Forget drops groups from the result view after their files were deleted or
// moved. A remaining key stays a near duplicate only while its cluster keeps
// two members or one of its near partners is still listed.
func (r *Result) Forget(keys []Key) {
	if len(keys) == 0 {
		return
	}
	drop := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	r.Groups = filterGroups(r.Groups, drop)
	r.byKey = nil
	r.DuplicateKeys = filterKeys(r.DuplicateKeys, drop)
	clusters := r.Clusters[:0]
	clustered := make(map[Key]struct{})
	for _, c := range r.Clusters {
		c.Keys = filterKeys(c.Keys, drop)
		if len(c.Keys) < 2 {
			continue
		}
		clusters = append(clusters, c)
		for _, k := range c.Keys {
			clustered[k] = struct{}{}
		}
	}
	r.Clusters = clusters
	near := r.NearDuplicateKeys[:0]
	for _, k := range r.NearDuplicateKeys {
		if _, gone := drop[k]; gone {
			continue
		}
		if _, ok := clustered[k]; ok || r.hasListedPartner(k) {
			near = append(near, k)
		}
	}
	r.NearDuplicateKeys = near
}

func (r *Result) hasListedPartner(key Key) bool {
	g, ok := r.Group(key)
	if !ok {
		return false
	}
	for _, p := range g.partners {
		if listed, ok := r.Group(p.Key); ok && listed == p {
			return true
		}
	}
	return false
}

func filterGroups(groups []*Group, drop map[Key]struct{}) []*Group {
	out := groups[:0]
	for _, g := range groups {
		if _, ok := drop[g.Key]; !ok {
			out = append(out, g)
		}
	}
	return out
}

func filterKeys(keys []Key, drop map[Key]struct{}) []Key {
	out := keys[:0]
	for _, k := range keys {
		if _, ok := drop[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

package jsonmanager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service runs duplicate-position batches over a directory of records.
type Service struct {
	store   RecordStore
	applier *Applier
	logger  *Logger

	mu   sync.Mutex
	last *Result
}

// NewService constructs a service reading and writing through store.
func NewService(store RecordStore, logger *Logger) *Service {
	if store == nil {
		store = NewFileRecordStore()
	}
	if logger == nil {
		logger = NoopLogger()
	}
	return &Service{
		store:   store,
		applier: NewApplier(store, logger),
		logger:  logger,
	}
}

// Store returns the record store used by the service.
func (s *Service) Store() RecordStore { return s.store }

// Last returns the result of the most recent batch, or nil.
func (s *Service) Last() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run executes one batch. The only error that prevents a result is a batch
// that cannot start (invalid configuration, missing root). Per-record
// failures are collected in the result. When ctx is cancelled the partial
// result is returned with Stopped set, together with ctx.Err().
func (s *Service) Run(ctx context.Context, cfg Config, sink ProgressSink) (*Result, error) {
	cfg = cfg.Clone()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = NopProgress
	}
	root, err := filepath.Abs(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, cfg.Directory)
	}

	res := &Result{
		RunID: uuid.NewString(),
		Root:  root,
		Stats: Stats{Started: time.Now(), Mutations: map[string]MutationCounts{}},
	}
	log := s.logger.WithRun(res.RunID)

	paths, err := Walk(root, cfg.FilePattern, log)
	if err != nil {
		return nil, err
	}
	res.Stats.Discovered = len(paths)
	log.InfoContext(ctx, "batch started", "root", root, "files", len(paths), "pattern", cfg.FilePattern)

	b := &batch{
		cfg:     cfg,
		res:     res,
		engine:  NewEngine(EngineOptionsFrom(cfg)),
		plan:    PlanFrom(cfg),
		applier: s.applier,
		log:     log,
	}
	matches, _ := sink.(MatchObserver)
	total := len(paths)
	runErr := LoadOrdered(ctx, s.store, paths, cfg.Workers, func(item Loaded) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.process(ctx, item)
		sink.Notify(item.Index+1, total, item.Path)
		if matches != nil {
			matches.Matches(b.engine.DuplicateCount(), b.engine.NearCount())
		}
		return nil
	})

	b.engine.Finalize()
	b.engine.Fill(res)
	res.Stats.Elapsed = time.Since(res.Stats.Started)
	if secs := res.Stats.Elapsed.Seconds(); secs > 0 {
		res.Stats.FilesPerSecond = float64(res.Stats.Scanned) / secs
	}
	if runErr != nil {
		res.Stopped = true
	}
	log.LogBatch(ctx, res, runErr)

	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
	return res, runErr
}

// batch is the serializing stage: classification and mutation of one record
// at a time, in discovery order.
type batch struct {
	cfg     Config
	res     *Result
	engine  *Engine
	plan    MutationPlan
	applier *Applier
	log     *Logger
}

func (b *batch) process(ctx context.Context, item Loaded) {
	b.res.Stats.Scanned++
	if item.Err != nil {
		b.log.LogLoadError(ctx, item.Path, item.Err)
		b.res.Errored = append(b.res.Errored, RecordError{Path: item.Path, Error: item.Err.Error()})
		b.res.Stats.Errored++
		return
	}

	raw := item.Doc.Position()
	if b.cfg.IgnoreEmpty && emptyPosition(raw) {
		b.res.Stats.Skipped++
		return
	}
	pos, err := NormalizePosition(raw, b.cfg.Precision, b.cfg.Arity)
	if err == nil {
		_, _, err = b.engine.Classify(item.Path, pos)
	}
	if err != nil {
		b.invalid(ctx, item.Path, err)
		return
	}
	b.res.Stats.Grouped++

	for op, outcome := range b.applier.Apply(ctx, item.Path, b.plan) {
		counts := b.res.Stats.Mutations[op]
		counts.add(outcome)
		b.res.Stats.Mutations[op] = counts
	}
}

func (b *batch) invalid(ctx context.Context, path string, err error) {
	rec := InvalidRecord{Path: path, Reason: err.Error()}
	var ipe *InvalidPositionError
	if errors.As(err, &ipe) {
		ipe.Path = path
		rec.Raw = ipe.Raw
		rec.Reason = ipe.Reason()
	}
	b.log.LogInvalid(ctx, path, err)
	b.res.Invalid = append(b.res.Invalid, rec)
	b.res.Stats.Invalid++
}

func emptyPosition(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	return bytes.Equal(bytes.Join(bytes.Fields(trimmed), nil), []byte("[]"))
}

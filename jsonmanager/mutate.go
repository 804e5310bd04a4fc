package jsonmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// MutationOutcome reports what a mutation did to one record.
type MutationOutcome int

const (
	// OutcomeUnchanged means the record already had the desired content.
	OutcomeUnchanged MutationOutcome = iota
	// OutcomeApplied means the record was rewritten.
	OutcomeApplied
	// OutcomeAbsent means the targeted field does not exist.
	OutcomeAbsent
	// OutcomeFailed means the record could not be loaded or written.
	OutcomeFailed
)

func (o MutationOutcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeApplied:
		return "applied"
	case OutcomeAbsent:
		return "absent"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("MutationOutcome(%d)", int(o))
	}
}

// Mutation operation names, also the keys of Stats.Mutations.
const (
	OpRoundPosition    = "roundAndPersist"
	OpWriteName        = "updateName"
	OpStripDescription = "removeDescription"
	OpClearName        = "clearName"
)

// MutationPlan selects which mutations run on each grouped record.
type MutationPlan struct {
	RoundPosition    bool
	Precision        *int
	WriteName        bool
	StripDescription bool
	ClearName        bool
}

// PlanFrom extracts the mutation plan from a batch configuration.
func PlanFrom(cfg Config) MutationPlan {
	return MutationPlan{
		RoundPosition:    cfg.RoundAndPersist && cfg.Precision != nil,
		Precision:        cfg.Precision,
		WriteName:        cfg.UpdateName,
		StripDescription: cfg.RemoveDescription,
		ClearName:        cfg.ClearName,
	}
}

// Empty reports whether the plan performs no mutation.
func (p MutationPlan) Empty() bool {
	return !p.RoundPosition && !p.WriteName && !p.StripDescription && !p.ClearName
}

// Applier performs field edits on record files. Each operation is one
// read-modify-write cycle and writes only when the content changes.
type Applier struct {
	store  RecordStore
	logger *Logger
}

// NewApplier creates an Applier over store.
func NewApplier(store RecordStore, logger *Logger) *Applier {
	if logger == nil {
		logger = NoopLogger()
	}
	return &Applier{store: store, logger: logger}
}

// WriteNameFromFilename sets the name field to the file's base name without
// extension.
func (a *Applier) WriteNameFromFilename(path string) (MutationOutcome, error) {
	want := NameFromPath(path)
	return a.store.Update(path, func(doc Document) (MutationOutcome, error) {
		current, ok, err := doc.String(FieldName)
		if ok && err == nil && current == want {
			return OutcomeUnchanged, nil
		}
		if err := doc.SetString(FieldName, want); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeApplied, nil
	})
}

// StripDescription removes the description field.
func (a *Applier) StripDescription(path string) (MutationOutcome, error) {
	return a.store.Update(path, func(doc Document) (MutationOutcome, error) {
		if _, ok := doc[FieldDescription]; !ok {
			return OutcomeAbsent, nil
		}
		delete(doc, FieldDescription)
		return OutcomeApplied, nil
	})
}

// ClearName sets an existing name field to the empty string.
func (a *Applier) ClearName(path string) (MutationOutcome, error) {
	return a.store.Update(path, func(doc Document) (MutationOutcome, error) {
		current, ok, err := doc.String(FieldName)
		if !ok {
			return OutcomeAbsent, nil
		}
		if err == nil && current == "" {
			return OutcomeUnchanged, nil
		}
		if err := doc.SetString(FieldName, ""); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeApplied, nil
	})
}

// RoundAndPersist replaces the stored position with its rounded value.
func (a *Applier) RoundAndPersist(path string, precision int) (MutationOutcome, error) {
	return a.store.Update(path, func(doc Document) (MutationOutcome, error) {
		raw := doc.Position()
		pos, err := NormalizePosition(raw, &precision, 0)
		if err != nil {
			if errors.Is(err, ErrPositionAbsent) {
				return OutcomeAbsent, nil
			}
			return OutcomeFailed, err
		}
		encoded, err := json.Marshal([]float64(pos))
		if err != nil {
			return OutcomeFailed, err
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, raw); err == nil && bytes.Equal(compact.Bytes(), encoded) {
			return OutcomeUnchanged, nil
		}
		doc[FieldPosition] = encoded
		return OutcomeApplied, nil
	})
}

// Apply runs every mutation in plan against path in a fixed order: round,
// write name, strip description, clear name. Failures are logged and do not
// stop later operations. The returned map is keyed by operation name.
func (a *Applier) Apply(ctx context.Context, path string, plan MutationPlan) map[string]MutationOutcome {
	if plan.Empty() {
		return nil
	}
	out := make(map[string]MutationOutcome, 4)
	run := func(op string, fn func() (MutationOutcome, error)) {
		outcome, err := fn()
		if err != nil {
			outcome = OutcomeFailed
		}
		out[op] = outcome
		a.logger.LogMutation(ctx, op, path, outcome, err)
	}
	if plan.RoundPosition && plan.Precision != nil {
		precision := *plan.Precision
		run(OpRoundPosition, func() (MutationOutcome, error) { return a.RoundAndPersist(path, precision) })
	}
	if plan.WriteName {
		run(OpWriteName, func() (MutationOutcome, error) { return a.WriteNameFromFilename(path) })
	}
	if plan.StripDescription {
		run(OpStripDescription, func() (MutationOutcome, error) { return a.StripDescription(path) })
	}
	if plan.ClearName {
		run(OpClearName, func() (MutationOutcome, error) { return a.ClearName(path) })
	}
	return out
}

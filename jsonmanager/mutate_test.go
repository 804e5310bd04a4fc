package jsonmanager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplier_StripDescription(t *testing.T) {
	dir := t.TempDir()
	with := writeRecord(t, dir, "with.json", `{"position":[1,2,3],"description":"x","extra":{"k":[1,2]}}`)
	without := writeRecord(t, dir, "without.json", `{"position":[1,2,3]}`)
	before, err := os.ReadFile(without)
	require.NoError(t, err)

	a := NewApplier(NewFileRecordStore(), nil)
	outcome, err := a.StripDescription(with)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	doc := readRecord(t, with)
	assert.NotContains(t, doc, "description")
	assert.Equal(t, map[string]any{"k": []any{1.0, 2.0}}, doc["extra"])

	outcome, err = a.StripDescription(without)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAbsent, outcome)
	after, err := os.ReadFile(without)
	require.NoError(t, err)
	assert.Equal(t, before, after, "no-op must not rewrite the file")
}

func TestApplier_WriteNameFromFilename(t *testing.T) {
	dir := t.TempDir()
	path := writeRecord(t, dir, "tower.json", `{"position":[1,2,3],"name":"old"}`)
	a := NewApplier(NewFileRecordStore(), nil)

	outcome, err := a.WriteNameFromFilename(path)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, "tower", readRecord(t, path)["name"])

	outcome, err = a.WriteNameFromFilename(path)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
}

func TestApplier_ClearName(t *testing.T) {
	dir := t.TempDir()
	named := writeRecord(t, dir, "named.json", `{"name":"x"}`)
	unnamed := writeRecord(t, dir, "unnamed.json", `{"position":[0]}`)
	a := NewApplier(NewFileRecordStore(), nil)

	outcome, err := a.ClearName(named)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, "", readRecord(t, named)["name"])

	outcome, err = a.ClearName(named)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)

	outcome, err = a.ClearName(unnamed)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAbsent, outcome)
	assert.NotContains(t, readRecord(t, unnamed), "name")
}

func TestApplier_RoundAndPersist(t *testing.T) {
	dir := t.TempDir()
	path := writeRecord(t, dir, "r.json", `{"name":"<a&b>","position":[1.006, "2.0", 3]}`)
	require.NoError(t, os.Chmod(path, 0o600))
	a := NewApplier(NewFileRecordStore(), nil)

	outcome, err := a.RoundAndPersist(path, 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n    \"name\": \"<a&b>\",\n    \"position\": [\n        1.01,\n        2,\n        3\n    ]\n}\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	outcome, err = a.RoundAndPersist(path, 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
}

func TestApplier_LoadFailure(t *testing.T) {
	dir := t.TempDir()
	bad := writeRecord(t, dir, "bad.json", `{not json`)
	a := NewApplier(NewFileRecordStore(), nil)

	outcome, err := a.StripDescription(bad)
	assert.Equal(t, OutcomeFailed, outcome)
	var le *LoadError
	assert.True(t, errors.As(err, &le))
	assert.Equal(t, bad, le.Path)

	_, err = a.ClearName(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplier_ApplyOrderAndCounts(t *testing.T) {
	dir := t.TempDir()
	path := writeRecord(t, dir, "rock.json", `{"position":[1.234,0,0],"name":"n","description":"d"}`)
	a := NewApplier(NewFileRecordStore(), nil)

	plan := MutationPlan{RoundPosition: true, Precision: IntPtr(1), WriteName: true, StripDescription: true, ClearName: true}
	got := a.Apply(context.Background(), path, plan)
	assert.Equal(t, map[string]MutationOutcome{
		OpRoundPosition:    OutcomeApplied,
		OpWriteName:        OutcomeApplied,
		OpStripDescription: OutcomeApplied,
		OpClearName:        OutcomeApplied,
	}, got)

	doc := readRecord(t, path)
	assert.Equal(t, "", doc["name"], "clear runs after write")
	assert.Equal(t, []any{1.2, 0.0, 0.0}, doc["position"])
	assert.NotContains(t, doc, "description")

	assert.Nil(t, a.Apply(context.Background(), path, MutationPlan{}))
}

func TestPlanFrom(t *testing.T) {
	plan := PlanFrom(Config{RoundAndPersist: true, UpdateName: true})
	assert.False(t, plan.RoundPosition, "rounding needs a precision")
	assert.True(t, plan.WriteName)

	plan = PlanFrom(Config{RoundAndPersist: true, Precision: IntPtr(3)})
	assert.True(t, plan.RoundPosition)
	assert.Equal(t, 3, *plan.Precision)
}

package jsonmanager

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePosition(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		precision *int
		arity     int
		want      Position
		wantErr   error
	}{
		{name: "rounds to precision", raw: `[1.001, 2, 3]`, precision: IntPtr(2), want: Position{1, 2, 3}},
		{name: "no rounding", raw: `[1.001, 2, 3]`, want: Position{1.001, 2, 3}},
		{name: "numeric strings", raw: `["1.25", " 2 ", 3]`, precision: IntPtr(1), want: Position{1.2, 2, 3}},
		{name: "negative zero folds", raw: `[-0.001, 0, 0]`, precision: IntPtr(2), want: Position{0, 0, 0}},
		{name: "absent", raw: ``, wantErr: ErrPositionAbsent},
		{name: "null", raw: `null`, wantErr: ErrPositionAbsent},
		{name: "empty list", raw: `[]`, wantErr: ErrPositionAbsent},
		{name: "not a list", raw: `{"x": 1}`, wantErr: ErrPositionMalformed},
		{name: "non numeric", raw: `[1, "a", 3]`, wantErr: ErrPositionMalformed},
		{name: "bool component", raw: `[1, true, 3]`, wantErr: ErrPositionMalformed},
		{name: "nested list", raw: `[[1], 2, 3]`, wantErr: ErrPositionMalformed},
		{name: "wrong arity", raw: `[1, 2]`, arity: 3, wantErr: ErrArityMismatch},
		{name: "infinite string", raw: `["Inf", 2, 3]`, wantErr: ErrPositionMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePosition(json.RawMessage(tt.raw), tt.precision, tt.arity)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				var ipe *InvalidPositionError
				assert.True(t, errors.As(err, &ipe))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePosition_MalformedKeepsRaw(t *testing.T) {
	_, err := NormalizePosition(json.RawMessage(`[1, "abc", 3]`), IntPtr(2), 0)
	var ipe *InvalidPositionError
	require.True(t, errors.As(err, &ipe))
	assert.Equal(t, `[1, "abc", 3]`, ipe.Raw)
	assert.NotEmpty(t, ipe.Reason())
}

func TestRound_HalfToEven(t *testing.T) {
	assert.Equal(t, 0.0, Round(0.5, 0))
	assert.Equal(t, 2.0, Round(1.5, 0))
	assert.Equal(t, 2.0, Round(2.5, 0))
	assert.Equal(t, 1.24, Round(1.2449, 2))
	// 2.675 is stored just below the tie, so it rounds down.
	assert.Equal(t, 2.67, Round(2.675, 2))
	assert.Equal(t, 3.0, Round(3, 5))
}

func TestRound_Idempotent(t *testing.T) {
	values := []float64{0.125, 1.005, 2.675, -3.14159, 1e-9, 123456.789, -0.0049, 0.3}
	for n := 0; n <= 6; n++ {
		for _, v := range values {
			once := Round(v, n)
			assert.Equal(t, once, Round(once, n), "value %v precision %d", v, n)
		}
	}

	p := Position{1.23456, -7.891011, 0.5}
	once := p.Rounded(IntPtr(3))
	assert.Equal(t, once, once.Rounded(IntPtr(3)))
}

func TestPositionKey(t *testing.T) {
	p := Position{1, 2.5, -3}
	assert.Equal(t, Key("1,2.5,-3"), p.Key())
	assert.Equal(t, "[1, 2.5, -3]", p.String())

	back, err := ParseKey(p.Key())
	require.NoError(t, err)
	assert.True(t, p.Equal(back))

	assert.Equal(t, Position{0}.Key(), Position{math.Copysign(0, -1)}.Key())

	_, err = ParseKey("1,x")
	assert.Error(t, err)
}

func TestNameFromPath(t *testing.T) {
	assert.Equal(t, "record", NameFromPath("/data/sub/record.json"))
	assert.Equal(t, "archive.tar", NameFromPath("archive.tar.json"))
	// Decomposed "e" + combining acute composes to a single rune.
	assert.Equal(t, "caf\u00e9", NameFromPath("cafe\u0301.json"))
}

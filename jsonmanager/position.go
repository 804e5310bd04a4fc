package jsonmanager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NormalizePosition parses a raw position attribute and rounds it to
// precision decimal digits. A nil precision keeps the parsed values as-is.
// arity > 0 requires exactly that many components.
//
// The returned error is always an *InvalidPositionError wrapping
// ErrPositionAbsent, ErrPositionMalformed or ErrArityMismatch.
func NormalizePosition(raw json.RawMessage, precision *int, arity int) (Position, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, invalidPosition("", ErrPositionAbsent)
	}
	rawText := string(trimmed)
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, invalidPosition(rawText, fmt.Errorf("%w: not a list", ErrPositionMalformed))
	}
	if len(items) == 0 {
		return nil, invalidPosition(rawText, ErrPositionAbsent)
	}
	if arity > 0 && len(items) != arity {
		return nil, invalidPosition(rawText, fmt.Errorf("%w: got %d components, want %d", ErrArityMismatch, len(items), arity))
	}
	pos := make(Position, len(items))
	for i, item := range items {
		v, err := parseComponent(item)
		if err != nil {
			return nil, invalidPosition(rawText, fmt.Errorf("%w: component %d: %v", ErrPositionMalformed, i, err))
		}
		pos[i] = v
	}
	return pos.Rounded(precision), nil
}

func parseComponent(item json.RawMessage) (float64, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(item))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return 0, err
	}
	var (
		f   float64
		err error
	)
	switch x := v.(type) {
	case json.Number:
		f, err = strconv.ParseFloat(x.String(), 64)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, fmt.Errorf("not numeric: %s", string(item))
	}
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite: %s", string(item))
	}
	return f, nil
}

// Round rounds v to n decimal digits, ties to even. The decision is taken on
// the exact binary value of v, so Round(Round(v, n), n) == Round(v, n).
func Round(v float64, n int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	s := strconv.FormatFloat(v, 'f', n, 64)
	out, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return v
	}
	return canonicalZero(out)
}

// Rounded returns a rounded copy of p. A nil precision copies p unchanged
// apart from folding negative zero.
func (p Position) Rounded(precision *int) Position {
	if p == nil {
		return nil
	}
	out := make(Position, len(p))
	for i, v := range p {
		if precision == nil {
			out[i] = canonicalZero(v)
			continue
		}
		out[i] = Round(v, *precision)
	}
	return out
}

// Key returns the canonical map key of p.
func (p Position) Key() Key {
	var b strings.Builder
	for i, v := range p {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(canonicalZero(v), 'g', -1, 64))
	}
	return Key(b.String())
}

// Equal reports component-wise equality.
func (p Position) Equal(o Position) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

func (p Position) String() string {
	return "[" + strings.ReplaceAll(string(p.Key()), ",", ", ") + "]"
}

// ParseKey converts a key back to its position.
func ParseKey(k Key) (Position, error) {
	if k == "" {
		return nil, fmt.Errorf("empty key")
	}
	parts := strings.Split(string(k), ",")
	out := make(Position, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("parse key %q: %w", k, err)
		}
		out[i] = v
	}
	return out, nil
}

func canonicalZero(v float64) float64 {
	if v == 0 {
		return 0
	}
	return v
}

package jsonmanager

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NameFromPath returns the base name of path without its extension, in NFC
// form with control characters removed.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return NormalizeName(strings.TrimSuffix(base, filepath.Ext(base)))
}

// NormalizeName performs Unicode composition and trims whitespace.
func NormalizeName(text string) string {
	normed := norm.NFC.String(text)
	normed = strings.TrimSpace(normed)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, normed)
}

// foldPath prepares a path for prefix comparison: NFC, forward slashes.
func foldPath(p string) string {
	return norm.NFC.String(filepath.ToSlash(p))
}

// Package view computes the derived views of a task snapshot: status
// categories, overdue flags, filters, ordering and totals. Nothing here does
// I/O and nothing here fails.
package view

import (
	"slices"
	"strings"
	"unicode"
)

// Category is the lifecycle bucket a free-text status falls into.
type Category int

const (
	Other Category = iota
	InProgress
	Done
)

var (
	doneStems        = []string{"done", "complete", "завершен", "выполнен"}
	inProgressTokens = []string{"progress", "процесс"}
	negations        = []string{"not", "no", "не", "нет"}
)

// Classify maps a raw status to its category. Matching is case-insensitive.
// A status is done when one of its words starts with a done stem and is not
// preceded by a negation, so "incomplete" and "не выполнен" are not done. Done
// wins over in-progress, which is a substring match; anything else is Other.
func Classify(status string) Category {
	s := strings.ToLower(status)
	words := strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	for i, w := range words {
		if !hasAnyPrefix(w, doneStems) {
			continue
		}
		if i > 0 && slices.Contains(negations, words[i-1]) {
			continue
		}
		return Done
	}
	for _, tok := range inProgressTokens {
		if strings.Contains(s, tok) {
			return InProgress
		}
	}
	return Other
}

func hasAnyPrefix(w string, stems []string) bool {
	for _, stem := range stems {
		if strings.HasPrefix(w, stem) {
			return true
		}
	}
	return false
}

// Label is the canonical status string for c.
func (c Category) Label() string {
	switch c {
	case Done:
		return "done"
	case InProgress:
		return "in-progress"
	default:
		return "pending"
	}
}

func (c Category) String() string { return c.Label() }

package model

import (
	"fmt"
	"strings"
)

// OptionLabel identifies one of the four answer choices.
type OptionLabel string

const (
	OptionA OptionLabel = "A"
	OptionB OptionLabel = "B"
	OptionC OptionLabel = "C"
	OptionD OptionLabel = "D"
)

// OptionLabels lists the labels in display order.
var OptionLabels = []OptionLabel{OptionA, OptionB, OptionC, OptionD}

// Valid reports whether l is one of A–D.
func (l OptionLabel) Valid() bool {
	switch l {
	case OptionA, OptionB, OptionC, OptionD:
		return true
	}
	return false
}

// ParseOptionLabel accepts "a".."d" in any case, surrounding spaces ignored.
func ParseOptionLabel(s string) (OptionLabel, error) {
	l := OptionLabel(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("invalid option label %q", s)
	}
	return l, nil
}

// Question is a single multiple-choice item.
type Question struct {
	ID              string                 `json:"id"`
	Text            string                 `json:"question"`
	Options         map[OptionLabel]string `json:"options"`
	CorrectAnswer   OptionLabel            `json:"correctAnswer"`
	Description     string                 `json:"description,omitempty"`
	PreviousYearTag string                 `json:"previousYearExam,omitempty"`
}

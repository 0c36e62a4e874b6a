// Package rules owns the classification rule set: its persisted JSON document, the
// in-memory compiled copy reloaded after every mutation and the first-match classifier.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyRule        = errors.New("rule needs a pattern or at least one exact amount")
	ErrDuplicatePattern = errors.New("a rule with this pattern already exists")
	ErrRuleNotFound     = errors.New("rule not found")
	ErrMissingCategory  = errors.New("rule needs a category")
	ErrInvalidPattern   = errors.New("invalid rule pattern")
)

// Rule maps descriptions and/or absolute amounts onto a category. Pattern is a
// case-insensitive regular expression searched within the description; an empty
// pattern matches any description. Type is kept for reference and is not used
// when matching.
type Rule struct {
	Pattern      string
	Category     string
	Type         string
	ExactAmounts []decimal.Decimal
}

// Validate rejects rules that could never fire or could not be compiled.
func (r Rule) Validate() error {
	if r.Pattern == "" && len(r.ExactAmounts) == 0 {
		return ErrEmptyRule
	}
	if strings.TrimSpace(r.Category) == "" {
		return ErrMissingCategory
	}
	if r.Pattern != "" {
		if _, err := compilePattern(r.Pattern); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
	}
	return nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

type compiledRule struct {
	Rule
	matcher *regexp.Regexp
}

func compile(r Rule) (compiledRule, error) {
	c := compiledRule{Rule: r}
	if r.Pattern == "" {
		return c, nil
	}
	m, err := compilePattern(r.Pattern)
	if err != nil {
		return c, err
	}
	c.matcher = m
	return c, nil
}

// fires reports whether both conditions of the rule hold for the given movement.
func (c compiledRule) fires(description string, absAmount decimal.Decimal) bool {
	if c.Pattern == "" && len(c.ExactAmounts) == 0 {
		return false
	}

	patternMatches := c.matcher == nil || c.matcher.MatchString(description)
	if !patternMatches {
		return false
	}

	if len(c.ExactAmounts) == 0 {
		return true
	}
	for _, a := range c.ExactAmounts {
		if a.Equal(absAmount) {
			return true
		}
	}
	return false
}

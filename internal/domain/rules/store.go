package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/FACorreiaa/finanzas/pkg/observability"
)

// Store holds the classification rules loaded from a JSON file. Every mutation
// rewrites the whole document and then reloads the in-memory copy.
type Store struct {
	path   string
	logger *slog.Logger

	// writeMu serialises the read-modify-write cycle on the file.
	writeMu sync.Mutex

	mu    sync.RWMutex
	rules []compiledRule
}

// NewStore creates a store bound to path and loads it.
func NewStore(ctx context.Context, path string, logger *slog.Logger) *Store {
	s := &Store{path: path, logger: logger}
	s.Load(ctx)
	return s
}

// Path returns the rule file location.
func (s *Store) Path() string {
	return s.path
}

// Load replaces the in-memory rules with the file contents and returns how many were
// loaded. Problems never escape: a missing or malformed file leaves the set empty and a
// rule whose pattern does not compile is skipped. Each case is logged.
func (s *Store) Load(ctx context.Context) int {
	l := s.logger.With(slog.String("method", "Load"), slog.String("path", s.path))

	doc, err := readDocument(s.path)
	switch {
	case isMissing(err):
		l.WarnContext(ctx, "rule file not found, classifier will return SIN_CLASIFICAR")
		observability.RuleLoadFailures.WithLabelValues("missing_file").Inc()
		s.swap(nil)
		return 0
	case err != nil:
		l.ErrorContext(ctx, "rule file could not be parsed", slog.Any("error", err))
		observability.RuleLoadFailures.WithLabelValues("malformed_file").Inc()
		s.swap(nil)
		return 0
	}

	compiled := make([]compiledRule, 0, len(doc.Rules))
	for i, rec := range doc.Rules {
		c, err := compile(rec.toRule())
		if err != nil {
			l.ErrorContext(ctx, "skipping rule with invalid pattern",
				slog.Int("index", i),
				slog.String("pattern", rec.Pattern),
				slog.Any("error", err),
			)
			observability.RuleLoadFailures.WithLabelValues("invalid_pattern").Inc()
			continue
		}
		compiled = append(compiled, c)
	}

	s.swap(compiled)
	l.InfoContext(ctx, "classification rules loaded", slog.Int("count", len(compiled)))
	return len(compiled)
}

func (s *Store) swap(rules []compiledRule) {
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
	observability.RulesLoaded.Set(float64(len(rules)))
}

func (s *Store) snapshot() []compiledRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules
}

// Rules returns the loaded rules in priority order.
func (s *Store) Rules() []Rule {
	loaded := s.snapshot()
	out := make([]Rule, 0, len(loaded))
	for _, c := range loaded {
		out = append(out, c.Rule)
	}
	return out
}

// Add appends a rule. Non-empty patterns must be unique across the file.
func (s *Store) Add(ctx context.Context, r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	return s.mutate(ctx, "Add", func(doc *document) error {
		if r.Pattern != "" {
			for _, existing := range doc.Rules {
				if existing.Pattern == r.Pattern {
					return fmt.Errorf("%w: %q", ErrDuplicatePattern, r.Pattern)
				}
			}
		}
		doc.Rules = append(doc.Rules, fromRule(r))
		return nil
	})
}

// Update replaces the first rule whose pattern equals originalPattern.
func (s *Store) Update(ctx context.Context, originalPattern string, r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	return s.mutate(ctx, "Update", func(doc *document) error {
		idx := -1
		for i, existing := range doc.Rules {
			if existing.Pattern == originalPattern {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %q", ErrRuleNotFound, originalPattern)
		}

		if r.Pattern != "" {
			for i, existing := range doc.Rules {
				if i != idx && existing.Pattern == r.Pattern {
					return fmt.Errorf("%w: %q", ErrDuplicatePattern, r.Pattern)
				}
			}
		}
		doc.Rules[idx] = fromRule(r)
		return nil
	})
}

// Delete removes every rule whose pattern equals pattern.
func (s *Store) Delete(ctx context.Context, pattern string) error {
	return s.mutate(ctx, "Delete", func(doc *document) error {
		kept := doc.Rules[:0]
		for _, existing := range doc.Rules {
			if existing.Pattern != pattern {
				kept = append(kept, existing)
			}
		}
		if len(kept) == len(doc.Rules) {
			return fmt.Errorf("%w: %q", ErrRuleNotFound, pattern)
		}
		doc.Rules = kept
		return nil
	})
}

// mutate runs one read-modify-write cycle. When change fails nothing is written.
func (s *Store) mutate(ctx context.Context, method string, change func(doc *document) error) error {
	l := s.logger.With(slog.String("method", method))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc, err := readDocument(s.path)
	if err != nil {
		if !isMissing(err) && method != "Add" {
			l.ErrorContext(ctx, "cannot read rule file", slog.Any("error", err))
			return fmt.Errorf("failed to read rules: %w", err)
		}
		if !isMissing(err) {
			l.WarnContext(ctx, "rule file unreadable, starting a new document", slog.Any("error", err))
		}
		doc = document{}
	}

	if err := change(&doc); err != nil {
		if errors.Is(err, ErrDuplicatePattern) || errors.Is(err, ErrRuleNotFound) {
			l.InfoContext(ctx, "rule mutation rejected", slog.Any("error", err))
		}
		return err
	}

	if err := writeDocument(s.path, doc); err != nil {
		l.ErrorContext(ctx, "failed to persist rules", slog.Any("error", err))
		return err
	}

	s.Load(ctx)
	return nil
}

package docdb

import (
	"strings"
	"sync"
	"unicode"
)

// analyzer turns field text into index terms.
type analyzer interface {
	Analyze(s string) []string
}

// keywordAnalyzer emits the whole value as a single exact term.
type keywordAnalyzer struct{}

func (keywordAnalyzer) Analyze(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return []string{s}
}

// textAnalyzer lowercases, splits on non-letter/digit runes and drops
// stopwords and single-rune tokens.
type textAnalyzer struct{}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "if": true, "in": true,
	"into": true, "is": true, "it": true, "no": true, "not": true, "of": true,
	"on": true, "or": true, "such": true, "that": true, "the": true,
	"their": true, "then": true, "there": true, "these": true, "they": true,
	"this": true, "to": true, "was": true, "will": true, "with": true,
}

func (textAnalyzer) Analyze(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, tok := range fields {
		if len(tok) < 2 || stopwords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

var (
	keyword  analyzer = keywordAnalyzer{}
	fulltext analyzer = textAnalyzer{}
)

// analyzerSelector maps schema fields to analyzers. The choice depends on
// the live schema, so the cache is invalidated whenever the schema
// revision moves (a type settles, a tokenization flag flips).
type analyzerSelector struct {
	schema *Schema

	mu    sync.Mutex
	rev   uint64
	cache map[string]analyzer
}

func newAnalyzerSelector(schema *Schema) *analyzerSelector {
	return &analyzerSelector{schema: schema, cache: make(map[string]analyzer)}
}

// analyzerFor returns the analyzer for a field: tokenized text fields get
// the language tokenizer, everything else the exact keyword analyzer.
// The synthetic full-text aggregate field is always tokenized.
func (as *analyzerSelector) analyzerFor(field string) analyzer {
	if field == allField {
		return fulltext
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	if rev := as.schema.Revision(); rev != as.rev {
		as.cache = make(map[string]analyzer)
		as.rev = rev
	}
	if a, ok := as.cache[field]; ok {
		return a
	}
	a := keyword
	if f, ok := as.schema.Field(field); ok && f.Tokenized {
		switch {
		case f.Type == TypeText:
			a = fulltext
		case f.Type == TypeArray && f.ElementType == TypeText:
			a = fulltext
		}
	}
	as.cache[field] = a
	return a
}

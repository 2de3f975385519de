package docdb

import (
	"strconv"
	"strings"
	"time"
)

// NullToken is the reserved sentinel usable in field-scoped queries to
// mean "field is absent or null", e.g. `author:_null_`.
const NullToken = "_null_"

// Query grammar (implicit AND between adjacent clauses):
//
//	expr    := andExpr ('OR' andExpr)*
//	andExpr := unary ('AND'? unary)*
//	unary   := 'NOT' unary | '(' expr ')' | clause
//	clause  := (field ':')? (value | '[' value 'TO' value ']')
//	value   := word | "quoted"
//
// Bare clauses search the synthetic full-text aggregate field. Range
// endpoints accept '*' for an open bound. A word ends at whitespace or
// any of `()[]:"`; values containing those characters must be quoted —
// in particular an RFC 3339 literal with a time component, e.g.
// `created:["2026-01-02T10:30:00Z" TO *]`.
type queryNode interface {
	eval(seg *segment, an *analyzerSelector) postingList
	collectTerms(an *analyzerSelector, out map[string][]string)
}

type matchAllQuery struct{}

func (matchAllQuery) eval(seg *segment, an *analyzerSelector) postingList {
	return seg.all
}

func (matchAllQuery) collectTerms(an *analyzerSelector, out map[string][]string) {}

type termQuery struct {
	field string
	raw   string
}

func (q termQuery) eval(seg *segment, an *analyzerSelector) postingList {
	field := q.field
	if field == "" {
		field = allField
	}
	if q.raw == NullToken && field != allField {
		return differencePostings(seg.all, seg.present[field])
	}
	if f, ok := an.schema.Field(field); ok {
		switch effectiveType(f) {
		case TypeNumber:
			if n, err := strconv.ParseFloat(q.raw, 64); err == nil {
				return scanNumbers(seg, field, n, n, true, true)
			}
		case TypeDateTime:
			if lo, hi, ok := parseTimeBounds(q.raw); ok {
				return scanNumbers(seg, field, lo, hi, true, true)
			}
		}
	}
	tokens := an.analyzerFor(field).Analyze(q.raw)
	if len(tokens) == 0 {
		return nil
	}
	result := seg.terms[termKey(field, tokens[0])]
	for _, tok := range tokens[1:] {
		result = intersectPostings(result, seg.terms[termKey(field, tok)])
	}
	return result
}

func (q termQuery) collectTerms(an *analyzerSelector, out map[string][]string) {
	field := q.field
	if field == "" {
		field = allField
	}
	if q.raw == NullToken {
		return
	}
	out[field] = append(out[field], fulltext.Analyze(q.raw)...)
}

type rangeQuery struct {
	field  string
	lo, hi string // "*" for an open bound
}

func (q rangeQuery) eval(seg *segment, an *analyzerSelector) postingList {
	f, ok := an.schema.Field(q.field)
	if ok {
		switch effectiveType(f) {
		case TypeNumber:
			lo, hi := parseNumBound(q.lo, true), parseNumBound(q.hi, false)
			return scanNumbers(seg, q.field, lo, hi, true, true)
		case TypeDateTime:
			lo := timeBound(q.lo, true)
			hi := timeBound(q.hi, false)
			return scanNumbers(seg, q.field, lo, hi, true, true)
		}
	}
	// Lexicographic range over the field's terms.
	var result postingList
	prefix := termPrefix(q.field)
	for key, pl := range seg.terms {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		_, token := splitTermKey(key)
		if q.lo != "*" && token < q.lo {
			continue
		}
		if q.hi != "*" && token > q.hi {
			continue
		}
		result = unionPostings(result, pl)
	}
	return result
}

func (q rangeQuery) collectTerms(an *analyzerSelector, out map[string][]string) {}

type notQuery struct{ child queryNode }

func (q notQuery) eval(seg *segment, an *analyzerSelector) postingList {
	return differencePostings(seg.all, q.child.eval(seg, an))
}

func (q notQuery) collectTerms(an *analyzerSelector, out map[string][]string) {}

type andQuery struct{ children []queryNode }

func (q andQuery) eval(seg *segment, an *analyzerSelector) postingList {
	result := q.children[0].eval(seg, an)
	for _, c := range q.children[1:] {
		if len(result) == 0 {
			return nil
		}
		result = intersectPostings(result, c.eval(seg, an))
	}
	return result
}

func (q andQuery) collectTerms(an *analyzerSelector, out map[string][]string) {
	for _, c := range q.children {
		c.collectTerms(an, out)
	}
}

type orQuery struct{ children []queryNode }

func (q orQuery) eval(seg *segment, an *analyzerSelector) postingList {
	var result postingList
	for _, c := range q.children {
		result = unionPostings(result, c.eval(seg, an))
	}
	return result
}

func (q orQuery) collectTerms(an *analyzerSelector, out map[string][]string) {
	for _, c := range q.children {
		c.collectTerms(an, out)
	}
}

func effectiveType(f Field) DataType {
	if f.Type == TypeArray {
		return f.ElementType
	}
	return f.Type
}

// scanNumbers matches ordinals whose field holds any element inside the
// interval (multi-valued fields match on any element).
func scanNumbers(seg *segment, field string, lo, hi float64, loInc, hiInc bool) postingList {
	m := seg.numbers[field]
	if len(m) == 0 {
		return nil
	}
	var result postingList
	for ord, ns := range m {
		for _, n := range ns {
			if n < lo || n > hi {
				continue
			}
			if !loInc && n == lo {
				continue
			}
			if !hiInc && n == hi {
				continue
			}
			result = result.insert(ord)
			break
		}
	}
	return result
}

func parseNumBound(s string, low bool) float64 {
	if s == "*" {
		if low {
			return -1e308
		}
		return 1e308
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if low {
			return 1e308 // unparsable bound matches nothing
		}
		return -1e308
	}
	return n
}

var queryTimeFormats = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"}

// parseTimeBounds maps a date-time literal to an inclusive millisecond
// interval: a date-only literal covers its whole day.
func parseTimeBounds(s string) (lo, hi float64, ok bool) {
	for _, layout := range queryTimeFormats {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		start := float64(t.UTC().UnixMilli())
		if layout == "2006-01-02" {
			return start, float64(t.UTC().Add(24*time.Hour).UnixMilli()) - 1, true
		}
		return start, start, true
	}
	return 0, 0, false
}

func timeBound(s string, low bool) float64 {
	if s == "*" {
		if low {
			return -1e308
		}
		return 1e308
	}
	lo, hi, ok := parseTimeBounds(s)
	if !ok {
		if low {
			return 1e308
		}
		return -1e308
	}
	if low {
		return lo
	}
	return hi
}

// --- parser ---

type queryToken struct {
	kind byte // 'w' word, 's' quoted string, '(' ')' '[' ']' ':' punctuation
	text string
}

func lexQuery(q string) ([]queryToken, error) {
	var toks []queryToken
	i := 0
	for i < len(q) {
		c := q[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(' || c == ')' || c == '[' || c == ']' || c == ':':
			toks = append(toks, queryToken{kind: c})
			i++
		case c == '"':
			j := strings.IndexByte(q[i+1:], '"')
			if j < 0 {
				return nil, valErrf("unterminated quote in query at offset %d", i)
			}
			toks = append(toks, queryToken{kind: 's', text: q[i+1 : i+1+j]})
			i += j + 2
		default:
			j := i
			for j < len(q) && !strings.ContainsRune(" \t\n\r()[]:\"", rune(q[j])) {
				j++
			}
			toks = append(toks, queryToken{kind: 'w', text: q[i:j]})
			i = j
		}
	}
	return toks, nil
}

type queryParser struct {
	toks []queryToken
	pos  int
}

// parseQuery compiles a query string. An empty query matches everything.
func parseQuery(q string) (queryNode, error) {
	toks, err := lexQuery(q)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return matchAllQuery{}, nil
	}
	p := &queryParser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, valErrf("unexpected %q in query", p.describe(p.pos))
	}
	return node, nil
}

func (p *queryParser) describe(pos int) string {
	if pos >= len(p.toks) {
		return "end of query"
	}
	t := p.toks[pos]
	if t.kind == 'w' || t.kind == 's' {
		return t.text
	}
	return string(t.kind)
}

func (p *queryParser) peek() (queryToken, bool) {
	if p.pos >= len(p.toks) {
		return queryToken{}, false
	}
	return p.toks[p.pos], true
}

func (p *queryParser) parseOr() (queryNode, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []queryNode{first}
	for {
		t, ok := p.peek()
		if !ok || t.kind != 'w' || t.text != "OR" {
			break
		}
		p.pos++
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return first, nil
	}
	return orQuery{children: children}, nil
}

func (p *queryParser) parseAnd() (queryNode, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	children := []queryNode{first}
	for {
		t, ok := p.peek()
		if !ok || t.kind == ')' || t.kind == ']' {
			break
		}
		if t.kind == 'w' && t.text == "OR" {
			break
		}
		if t.kind == 'w' && t.text == "AND" {
			p.pos++
		}
		next, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return first, nil
	}
	return andQuery{children: children}, nil
}

func (p *queryParser) parseUnary() (queryNode, error) {
	t, ok := p.peek()
	if !ok {
		return nil, valErrf("query ended unexpectedly")
	}
	if t.kind == 'w' && t.text == "NOT" {
		p.pos++
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notQuery{child: child}, nil
	}
	if t.kind == '(' {
		p.pos++
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		t, ok := p.peek()
		if !ok || t.kind != ')' {
			return nil, valErrf("missing closing parenthesis in query")
		}
		p.pos++
		return node, nil
	}
	return p.parseClause()
}

func (p *queryParser) parseClause() (queryNode, error) {
	t, ok := p.peek()
	if !ok {
		return nil, valErrf("query ended unexpectedly")
	}

	field := ""
	if t.kind == 'w' && p.pos+1 < len(p.toks) && p.toks[p.pos+1].kind == ':' {
		field = t.text
		p.pos += 2
		t, ok = p.peek()
		if !ok {
			return nil, valErrf("field %q has no value in query", field)
		}
	}

	switch t.kind {
	case '[':
		if field == "" {
			return nil, valErrf("range query requires a field")
		}
		p.pos++
		lo, err := p.expectWord("range lower bound")
		if err != nil {
			return nil, err
		}
		kw, err := p.expectWord("TO")
		if err != nil {
			return nil, err
		}
		if kw != "TO" {
			return nil, valErrf("expected TO in range query, got %q", kw)
		}
		hi, err := p.expectWord("range upper bound")
		if err != nil {
			return nil, err
		}
		t, ok = p.peek()
		if !ok || t.kind != ']' {
			return nil, valErrf("missing closing bracket in range query")
		}
		p.pos++
		return rangeQuery{field: field, lo: lo, hi: hi}, nil
	case 'w', 's':
		p.pos++
		return termQuery{field: field, raw: t.text}, nil
	default:
		return nil, valErrf("unexpected %q in query", p.describe(p.pos))
	}
}

func (p *queryParser) expectWord(what string) (string, error) {
	t, ok := p.peek()
	if !ok || (t.kind != 'w' && t.kind != 's') {
		return "", valErrf("expected %s in query, got %q", what, p.describe(p.pos))
	}
	p.pos++
	return t.text, nil
}

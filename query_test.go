package docdb

import (
	"context"
	"errors"
	"testing"
)

func TestLexQuery(t *testing.T) {
	toks, err := lexQuery(`title:"left hand" rating:[1 TO 5] NOT (a OR b)`)
	ok(t, err)
	var kinds []byte
	for _, tok := range toks {
		kinds = append(kinds, tok.kind)
	}
	want := "w:sw:[www]w(www)"
	if string(kinds) != want {
		t.Fatalf("token kinds %q, wanted %q", kinds, want)
	}

	if _, err := lexQuery(`title:"unterminated`); !errors.Is(err, ErrValidation) {
		t.Fatalf("unterminated quote accepted: %v", err)
	}
}

func TestParseQueryShapes(t *testing.T) {
	tests := []struct {
		query string
		want  string // coarse node shape
	}{
		{"", "all"},
		{"wizard", "term"},
		{"title:wizard", "term"},
		{`title:"a wizard"`, "term"},
		{"a b", "and"},
		{"a AND b", "and"},
		{"a OR b", "or"},
		{"NOT a", "not"},
		{"(a OR b) c", "and"},
		{"rating:[1 TO 5]", "range"},
		{"released:[* TO 2020-01-01]", "range"},
		{`released:["2020-01-01T10:30:00Z" TO *]`, "range"},
		{`released:"2020-01-01T10:30:00Z"`, "term"},
	}
	for _, tt := range tests {
		node, err := parseQuery(tt.query)
		if err != nil {
			t.Fatalf("parseQuery(%q): %v", tt.query, err)
		}
		got := ""
		switch node.(type) {
		case matchAllQuery:
			got = "all"
		case termQuery:
			got = "term"
		case rangeQuery:
			got = "range"
		case andQuery:
			got = "and"
		case orQuery:
			got = "or"
		case notQuery:
			got = "not"
		}
		if got != tt.want {
			t.Fatalf("parseQuery(%q) = %T, wanted %s", tt.query, node, tt.want)
		}
	}
}

func TestParseQueryErrors(t *testing.T) {
	for _, q := range []string{
		"(a OR b",
		"rating:[1 TO",
		"rating:[1 5]",
		"[1 TO 5]",
		"title:",
		"a)",
		"NOT",
		// Unquoted time-of-day literals split at the colons; they must
		// be quoted.
		"released:[2020-01-01T10:30:00Z TO *]",
	} {
		if _, err := parseQuery(q); !errors.Is(err, ErrValidation) {
			t.Fatalf("parseQuery(%q) accepted: %v", q, err)
		}
	}
}

func queryCollection(t *testing.T) *Collection {
	t.Helper()
	c := setupCollection(t, "books")
	rows := []map[string]any{
		{"title": "A Wizard of Earthsea", "author": "Le Guin", "rating": 4.0, "released": "1968-11-01T00:00:00Z", "tags": []any{"fantasy"}},
		{"title": "The Left Hand of Darkness", "author": "Le Guin", "rating": 5.0, "released": "1969-03-01T00:00:00Z", "tags": []any{"scifi", "hugo"}},
		{"title": "Neuromancer", "author": "Gibson", "rating": 5.0, "released": "1984-07-01T00:00:00Z", "tags": []any{"scifi", "cyberpunk"}},
		{"title": "Untitled Draft", "rating": 1.0},
	}
	for _, row := range rows {
		mustInsert(t, c, row)
	}
	mustRefresh(t, c)
	return c
}

func mustCount(t *testing.T, c *Collection, query string) int {
	t.Helper()
	n, err := c.Count(context.Background(), query)
	if err != nil {
		t.Fatalf("Count(%q): %v", query, err)
	}
	return n
}

func TestQueryEval(t *testing.T) {
	c := queryCollection(t)
	tests := []struct {
		query string
		want  int
	}{
		{"", 4},
		{"scifi", 2},                       // full-text aggregate field
		{"tags:scifi", 2},                  // field-scoped
		{"author:gibson", 1},
		{`title:"left hand"`, 1},           // all tokens must match
		{`title:"left neuromancer"`, 0},
		{"tags:scifi AND author:gibson", 1},
		{"tags:scifi author:gibson", 1},    // implicit AND
		{"tags:fantasy OR tags:cyberpunk", 2},
		{"NOT tags:scifi", 2},
		{"NOT (tags:scifi OR tags:fantasy)", 1},
		{"author:" + NullToken, 1},
		{"rating:5", 2},                    // numeric equality
		{"rating:[4 TO 5]", 3},
		{"rating:[* TO 1]", 1},
		{"rating:[4.5 TO *]", 2},
		{"released:[1969-01-01 TO 1970-01-01]", 1},
		{`released:["1969-01-01T00:00:00Z" TO "1969-12-31T23:59:59Z"]`, 1},
		{"released:1984-07-01", 1},         // date literal covers the whole day
		{"released:[* TO *]", 3},
		{"missingfield:x", 0},
	}
	for _, tt := range tests {
		if got := mustCount(t, c, tt.query); got != tt.want {
			t.Fatalf("Count(%q) = %d, wanted %d", tt.query, got, tt.want)
		}
	}
}

func TestQueryStopwordOnly(t *testing.T) {
	c := queryCollection(t)
	// "the" and "of" analyze to nothing; such a clause matches nothing
	// rather than everything.
	if got := mustCount(t, c, "title:the"); got != 0 {
		t.Fatalf("stopword-only clause matched %d", got)
	}
}

package docdb

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultTopN caps the number of results a search retrieves unless
	// the criteria say otherwise.
	DefaultTopN = 100
	// DefaultItemsPerPage is the page size when the criteria leave it zero.
	DefaultItemsPerPage = 10
	// defaultFacetValues caps facet values when FacetSettings.MaxValues is zero.
	defaultFacetValues = 10
)

// SearchCriteria describes one search. The zero value matches everything
// and returns the first page.
type SearchCriteria struct {
	// Query is a query string in the index grammar; empty matches all.
	Query string
	// SortByField orders results by a field value; a leading '-' flips to
	// descending. Empty keeps index order. Documents missing the field
	// sort last.
	SortByField string
	// TopN caps the total number of retrievable results (0 = DefaultTopN,
	// negative = unbounded).
	TopN int
	// ItemsPerPage is the page size (0 = DefaultItemsPerPage).
	ItemsPerPage int
	// PageNumber is 1-based (0 = first page).
	PageNumber int
	// SelectedFields projects result documents down to these fields.
	// The identifier field is always retained.
	SelectedFields []string
	// Highlight annotates result documents with a matched-text fragment.
	Highlight bool
}

func (c SearchCriteria) topN() int {
	switch {
	case c.TopN < 0:
		return int(^uint(0) >> 1)
	case c.TopN == 0:
		return DefaultTopN
	default:
		return c.TopN
	}
}

func (c SearchCriteria) itemsPerPage() int {
	if c.ItemsPerPage <= 0 {
		return DefaultItemsPerPage
	}
	return c.ItemsPerPage
}

func (c SearchCriteria) pageNumber() int {
	if c.PageNumber <= 0 {
		return 1
	}
	return c.PageNumber
}

// FacetValue is one value of a facet dimension with its hit count.
type FacetValue struct {
	Value string
	Count int
}

// SearchResult echoes the criteria plus the hits of one page.
type SearchResult struct {
	Criteria      SearchCriteria
	HitCount      int // items returned on this page
	TotalHitCount int // matches overall, independent of paging
	PageCount     int
	Documents     []Document
	Facets        map[string][]FacetValue
}

// searchPlan is the index-side outcome of a search: the page of ids to
// materialize plus everything computable from the segment alone.
type searchPlan struct {
	pageIDs    []uuid.UUID
	total      int
	pageCount  int
	facets     map[string][]FacetValue
	queryTerms map[string][]string
}

func executeSearch(seg *segment, an *analyzerSelector, criteria SearchCriteria) (*searchPlan, error) {
	node, err := parseQuery(criteria.Query)
	if err != nil {
		return nil, err
	}
	matched := node.eval(seg, an)

	plan := &searchPlan{
		total:      len(matched),
		queryTerms: make(map[string][]string),
	}
	node.collectTerms(an, plan.queryTerms)
	plan.facets = computeFacets(seg, an.schema, matched)

	ords := matched.clone()
	if criteria.SortByField != "" {
		sortOrds(seg, ords, criteria.SortByField)
	}
	if topN := criteria.topN(); len(ords) > topN {
		ords = ords[:topN]
	}
	perPage := criteria.itemsPerPage()
	plan.pageCount = (len(ords) + perPage - 1) / perPage

	start := (criteria.pageNumber() - 1) * perPage
	if start >= len(ords) {
		return plan, nil
	}
	end := start + perPage
	if end > len(ords) {
		end = len(ords)
	}
	plan.pageIDs = make([]uuid.UUID, 0, end-start)
	for _, ord := range ords[start:end] {
		plan.pageIDs = append(plan.pageIDs, seg.ids[ord])
	}
	return plan, nil
}

// sortOrds orders matched ordinals by a field value; '-' prefix flips the
// direction. Missing values sort last either way.
func sortOrds(seg *segment, ords postingList, field string) {
	desc := false
	if strings.HasPrefix(field, "-") {
		desc = true
		field = field[1:]
	}
	nums := seg.numbers[field]
	vals := seg.values[field]
	less := func(a, b uint32) bool {
		na, aok := firstNumber(nums, a)
		nb, bok := firstNumber(nums, b)
		if aok || bok {
			if aok != bok {
				return aok // present before missing
			}
			if na != nb {
				if desc {
					return na > nb
				}
				return na < nb
			}
			return a < b
		}
		va, aok := firstValue(vals, a)
		vb, bok := firstValue(vals, b)
		if aok != bok {
			return aok
		}
		if va != vb {
			if desc {
				return va > vb
			}
			return va < vb
		}
		return a < b
	}
	sort.SliceStable(ords, func(i, j int) bool { return less(ords[i], ords[j]) })
}

func firstNumber(nums map[uint32][]float64, ord uint32) (float64, bool) {
	if nums == nil {
		return 0, false
	}
	ns, ok := nums[ord]
	if !ok || len(ns) == 0 {
		return 0, false
	}
	return ns[0], true
}

func firstValue(vals map[uint32][]string, ord uint32) (string, bool) {
	if vals == nil {
		return "", false
	}
	v, ok := vals[ord]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// computeFacets counts value occurrences for every faceted schema field
// over the full match set.
func computeFacets(seg *segment, schema *Schema, matched postingList) map[string][]FacetValue {
	var out map[string][]FacetValue
	for _, f := range schema.Fields() {
		if f.Facet == nil {
			continue
		}
		vals := seg.values[f.Name]
		if vals == nil {
			continue
		}
		counts := make(map[string]int)
		for _, ord := range matched {
			for _, v := range vals[ord] {
				counts[v]++
			}
		}
		if len(counts) == 0 {
			continue
		}
		fvs := make([]FacetValue, 0, len(counts))
		for v, n := range counts {
			fvs = append(fvs, FacetValue{Value: v, Count: n})
		}
		sort.Slice(fvs, func(i, j int) bool {
			if fvs[i].Count != fvs[j].Count {
				return fvs[i].Count > fvs[j].Count
			}
			return fvs[i].Value < fvs[j].Value
		})
		maxValues := f.Facet.MaxValues
		if maxValues <= 0 {
			maxValues = defaultFacetValues
		}
		if len(fvs) > maxValues {
			fvs = fvs[:maxValues]
		}
		if out == nil {
			out = make(map[string][]FacetValue)
		}
		out[f.Name] = fvs
	}
	return out
}

// projectFields trims a document down to the selected fields. The
// identifier field is always retained.
func projectFields(doc Document, selected []string) Document {
	if len(selected) == 0 {
		return doc
	}
	out := make(Document, len(selected)+1)
	if v, ok := doc[IDField]; ok {
		out[IDField] = v
	}
	for _, name := range selected {
		if v, ok := doc[name]; ok {
			out[name] = v
		}
	}
	return out
}

const highlightFragmentLen = 160

// highlightFragment builds a short fragment of the first tokenized text
// field that contains one of the query terms, wrapping matches in
// <em> tags. Returns "" when nothing matches.
func highlightFragment(doc Document, schema *Schema, queryTerms map[string][]string) string {
	terms := make(map[string]bool)
	for _, list := range queryTerms {
		for _, t := range list {
			terms[t] = true
		}
	}
	if len(terms) == 0 {
		return ""
	}
	fields := make([]string, 0, len(doc))
	for name := range doc {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	for _, name := range fields {
		f, ok := schema.Field(name)
		if !ok || !f.Tokenized {
			continue
		}
		for _, text := range textValues(doc[name]) {
			if frag := fragmentAround(text, terms); frag != "" {
				return frag
			}
		}
	}
	return ""
}

func textValues(v Value) []string {
	switch v.Kind() {
	case KindText:
		return []string{v.TextValue()}
	case KindArray:
		var out []string
		for _, el := range v.ArrayValue() {
			if el.Kind() == KindText {
				out = append(out, el.TextValue())
			}
		}
		return out
	}
	return nil
}

func fragmentAround(text string, terms map[string]bool) string {
	lower := strings.ToLower(text)
	matchStart := -1
	off := 0
	for _, word := range strings.Fields(lower) {
		i := strings.Index(lower[off:], word)
		pos := off + i
		off = pos + len(word)
		if terms[strings.Trim(word, ".,;:!?'\"()[]")] {
			matchStart = pos
			break
		}
	}
	if matchStart < 0 {
		return ""
	}
	start := matchStart - highlightFragmentLen/2
	if start < 0 {
		start = 0
	}
	end := start + highlightFragmentLen
	if end > len(text) {
		end = len(text)
	}
	frag := text[start:end]
	var sb strings.Builder
	for _, word := range strings.Fields(frag) {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		if terms[strings.Trim(strings.ToLower(word), ".,;:!?'\"()[]")] {
			sb.WriteString("<em>")
			sb.WriteString(word)
			sb.WriteString("</em>")
		} else {
			sb.WriteString(word)
		}
	}
	return sb.String()
}

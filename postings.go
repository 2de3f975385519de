package docdb

import (
	"sort"
	"strings"
)

// postingList is a sorted set of document ordinals.
type postingList []uint32

func (p postingList) contains(ord uint32) bool {
	i := sort.Search(len(p), func(i int) bool { return p[i] >= ord })
	return i < len(p) && p[i] == ord
}

func (p postingList) insert(ord uint32) postingList {
	i := sort.Search(len(p), func(i int) bool { return p[i] >= ord })
	if i < len(p) && p[i] == ord {
		return p
	}
	p = append(p, 0)
	copy(p[i+1:], p[i:])
	p[i] = ord
	return p
}

func (p postingList) remove(ord uint32) postingList {
	i := sort.Search(len(p), func(i int) bool { return p[i] >= ord })
	if i >= len(p) || p[i] != ord {
		return p
	}
	copy(p[i:], p[i+1:])
	return p[:len(p)-1]
}

func (p postingList) clone() postingList {
	out := make(postingList, len(p))
	copy(out, p)
	return out
}

func intersectPostings(a, b postingList) postingList {
	out := make(postingList, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func unionPostings(a, b postingList) postingList {
	out := make(postingList, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func differencePostings(a, b postingList) postingList {
	out := make(postingList, 0, len(a))
	j := 0
	for _, ord := range a {
		for j < len(b) && b[j] < ord {
			j++
		}
		if j < len(b) && b[j] == ord {
			continue
		}
		out = append(out, ord)
	}
	return out
}

// Term keys combine field name and token with a NUL separator, so a
// field's terms form one contiguous key range.
const termSep = "\x00"

func termKey(field, token string) string {
	return field + termSep + token
}

func termPrefix(field string) string {
	return field + termSep
}

func splitTermKey(key string) (field, token string) {
	i := strings.Index(key, termSep)
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}

package store

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"zenmirror/internal/core"
)

// index holds the derived lookup structures maintained alongside the entity
// maps: lowercase title entries for accounts and tags, and transaction refs
// kept sorted by (date, ID) for deterministic range scans. It is patched on
// every applied batch rather than rebuilt per query.
type index struct {
	titles map[core.Kind]map[string]string // id -> lowercase title
	txRefs []txRef                         // sorted by (date asc, id asc), tombstones excluded
}

type txRef struct {
	date core.Date
	id   string
}

func newIndex() index {
	return index{
		titles: map[core.Kind]map[string]string{
			core.KindAccount: {},
			core.KindTag:     {},
		},
	}
}

func (ix index) clone() index {
	out := index{
		titles: make(map[core.Kind]map[string]string, len(ix.titles)),
		txRefs: make([]txRef, len(ix.txRefs)),
	}
	for kind, m := range ix.titles {
		c := make(map[string]string, len(m))
		for id, title := range m {
			c[id] = title
		}
		out.titles[kind] = c
	}
	copy(out.txRefs, ix.txRefs)
	return out
}

func (ix *index) upsert(kind core.Kind, e core.Entity) {
	switch v := e.(type) {
	case core.Account:
		ix.titles[core.KindAccount][v.ID] = strings.ToLower(v.Title)
	case core.Tag:
		ix.titles[core.KindTag][v.ID] = strings.ToLower(v.Title)
	case core.Transaction:
		ix.removeTxRef(v.ID)
		if !v.Deleted {
			ix.insertTxRef(txRef{date: v.Date, id: v.ID})
		}
	case core.Tombstone:
		ix.remove(v.Kind, v.ID)
	}
}

func (ix *index) remove(kind core.Kind, id string) {
	switch kind {
	case core.KindAccount, core.KindTag:
		delete(ix.titles[kind], id)
	case core.KindTransaction:
		ix.removeTxRef(id)
	}
}

func (ix *index) insertTxRef(ref txRef) {
	pos := sort.Search(len(ix.txRefs), func(i int) bool {
		return !txRefLess(ix.txRefs[i], ref)
	})
	ix.txRefs = append(ix.txRefs, txRef{})
	copy(ix.txRefs[pos+1:], ix.txRefs[pos:])
	ix.txRefs[pos] = ref
}

func (ix *index) removeTxRef(id string) {
	for i, ref := range ix.txRefs {
		if ref.id == id {
			ix.txRefs = append(ix.txRefs[:i], ix.txRefs[i+1:]...)
			return
		}
	}
}

func txRefLess(a, b txRef) bool {
	if !a.date.Equal(b.date) {
		return a.date.Before(b.date)
	}
	return a.id < b.id
}

// TitleMatch is one ranked result of a fuzzy title lookup.
type TitleMatch struct {
	ID       string
	Distance int // 0 = exact or substring match
}

// findByTitle ranks entries of one indexed kind against a query: exact
// case-insensitive matches first, then substring matches, then close
// levenshtein neighbours, each tier ordered by distance then ID.
func (ix index) findByTitle(kind core.Kind, query string) []TitleMatch {
	const maxDistance = 3

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var exact, substr, fuzzy []TitleMatch
	for id, title := range ix.titles[kind] {
		switch {
		case title == q:
			exact = append(exact, TitleMatch{ID: id})
		case strings.Contains(title, q):
			substr = append(substr, TitleMatch{ID: id})
		default:
			if d := levenshtein.ComputeDistance(title, q); d <= maxDistance {
				fuzzy = append(fuzzy, TitleMatch{ID: id, Distance: d})
			}
		}
	}
	byRank := func(ms []TitleMatch) {
		sort.Slice(ms, func(i, j int) bool {
			if ms[i].Distance != ms[j].Distance {
				return ms[i].Distance < ms[j].Distance
			}
			return ms[i].ID < ms[j].ID
		})
	}
	byRank(exact)
	byRank(substr)
	byRank(fuzzy)
	out := append(exact, substr...)
	return append(out, fuzzy...)
}

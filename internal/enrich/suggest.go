package enrich

import (
	"sort"
	"strings"

	"zenmirror/internal/store"
)

// Suggestion is one ranked category candidate. Count is the number of
// historical transactions backing it; hints taken from a merchant record
// carry a zero count.
type Suggestion struct {
	TagID string `json:"tag_id"`
	Title string `json:"title"`
	Count int    `json:"count"`
}

// SuggestCategory ranks tags for a new transaction by how often they were
// used on historical transactions with a matching payee (or, failing that, a
// matching comment). When no history matches, the tag hints of merchants
// whose title matches the payee are returned instead. No confidence score is
// computed; the order of the list is the ranking.
func SuggestCategory(snap *store.Snapshot, payee, comment string) []Suggestion {
	m := BuildMaps(snap)

	counts := make(map[string]int)
	if payee != "" {
		for _, tx := range snap.Transactions(store.TxFilter{Payee: payee}) {
			for _, id := range tx.Tags {
				counts[id]++
			}
		}
	}
	if len(counts) == 0 && comment != "" {
		needle := strings.ToLower(comment)
		for _, tx := range snap.Transactions(store.TxFilter{}) {
			if tx.Comment == "" || !strings.Contains(strings.ToLower(tx.Comment), needle) {
				continue
			}
			for _, id := range tx.Tags {
				counts[id]++
			}
		}
	}

	// No usable history: fall back to merchant tag hints.
	if len(counts) == 0 && payee != "" {
		needle := strings.ToLower(payee)
		for _, mer := range snap.Merchants() {
			if !strings.Contains(strings.ToLower(mer.Title), needle) {
				continue
			}
			for _, id := range mer.Tags {
				if _, seen := counts[id]; !seen {
					counts[id] = 0
				}
			}
		}
	}

	out := make([]Suggestion, 0, len(counts))
	for id, n := range counts {
		title, ok := m.tagTitle(id)
		if !ok {
			title = Unknown
		}
		out = append(out, Suggestion{TagID: id, Title: title, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Title < out[j].Title
	})
	return out
}

func (m *Maps) tagTitle(id string) (string, bool) {
	title, ok := m.tagTitles[id]
	return title, ok
}

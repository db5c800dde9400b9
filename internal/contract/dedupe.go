package contract

import "sort"

// Newer reports whether a should win over b when both describe the same entryId.
// Revision decides first; the file hash is only a last-resort total order so the
// choice never depends on input ordering.
func Newer(a, b *Contract) bool {
	if a.Revision != b.Revision {
		return a.Revision > b.Revision
	}
	return a.FileHash > b.FileHash
}

// Dedupe keeps exactly one contract per entryId and returns them sorted by entryId.
func Dedupe(contracts []*Contract) []*Contract {
	best := make(map[string]*Contract, len(contracts))
	for _, c := range contracts {
		if c == nil || c.EntryID == "" {
			continue
		}
		if cur, ok := best[c.EntryID]; !ok || Newer(c, cur) {
			best[c.EntryID] = c
		}
	}

	out := make([]*Contract, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out
}

// ByEntryID indexes a deduplicated contract list.
func ByEntryID(contracts []*Contract) map[string]*Contract {
	m := make(map[string]*Contract, len(contracts))
	for _, c := range Dedupe(contracts) {
		m[c.EntryID] = c
	}
	return m
}

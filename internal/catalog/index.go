package catalog

import (
	"poextract/internal"
	"poextract/internal/util"
)

// Index holds the normalized forms of a catalog, position-aligned with
// Entries so that scans keep catalog order.
type Index struct {
	Entries          []internal.CatalogEntry
	NormalizedCodes  []string
	DescriptionWords []map[string]struct{}
	ByCode           map[string]int
}

func BuildIndex(entries []internal.CatalogEntry) *Index {
	idx := &Index{
		Entries:          entries,
		NormalizedCodes:  make([]string, len(entries)),
		DescriptionWords: make([]map[string]struct{}, len(entries)),
		ByCode:           map[string]int{},
	}

	for i, e := range entries {
		code := util.Normalize(e.InternalCode)
		idx.NormalizedCodes[i] = code
		idx.DescriptionWords[i] = util.Words(e.CatalogDescription)
		if _, seen := idx.ByCode[code]; !seen {
			idx.ByCode[code] = i
		}
	}

	return idx
}

func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.Entries)
}

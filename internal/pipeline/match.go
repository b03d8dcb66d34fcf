package pipeline

import (
	"strings"

	"poextract/internal"
	"poextract/internal/catalog"
	"poextract/internal/util"
)

const DefaultMatchThreshold = 0.45

// minEmbeddedCodeLen keeps short codes like "M6" from matching inside any
// description that mentions them.
const minEmbeddedCodeLen = 4

// MatchQuery is the normalized text of one line item.
type MatchQuery struct {
	Ref         string
	HasRef      bool
	Description string
	HasDesc     bool
	Words       map[string]struct{}
}

func NewMatchQuery(description, supplierRef *string) MatchQuery {
	q := MatchQuery{}
	if supplierRef != nil {
		q.HasRef = true
		q.Ref = util.Normalize(*supplierRef)
	}
	if description != nil {
		q.HasDesc = true
		q.Description = util.Normalize(*description)
		q.Words = util.Words(*description)
	}
	return q
}

// Strategy is one matching tier. It reports false when it has no opinion.
type Strategy func(q MatchQuery, idx *catalog.Index, threshold float64) (internal.MatchResult, bool)

// Strategies are tried in order; the first hit wins.
var Strategies = []Strategy{ExactRef, SubstringMatch, OverlapScore}

func ExactRef(q MatchQuery, idx *catalog.Index, _ float64) (internal.MatchResult, bool) {
	if !q.HasRef {
		return internal.MatchResult{}, false
	}
	i, ok := idx.ByCode[q.Ref]
	if !ok {
		return internal.MatchResult{}, false
	}
	return internal.MatchResult{InternalCode: idx.Entries[i].InternalCode, Score: 1, Tier: internal.TierExactRef}, true
}

func SubstringMatch(q MatchQuery, idx *catalog.Index, _ float64) (internal.MatchResult, bool) {
	if !q.HasDesc || q.Description == "" {
		return internal.MatchResult{}, false
	}
	for i, code := range idx.NormalizedCodes {
		if len(code) >= minEmbeddedCodeLen && strings.Contains(q.Description, code) {
			return internal.MatchResult{InternalCode: idx.Entries[i].InternalCode, Score: 1, Tier: internal.TierRefInDescription}, true
		}
	}
	return internal.MatchResult{}, false
}

func OverlapScore(q MatchQuery, idx *catalog.Index, threshold float64) (internal.MatchResult, bool) {
	if !q.HasDesc || len(q.Words) == 0 {
		return internal.MatchResult{}, false
	}

	best := -1
	bestScore := 0.0
	for i, words := range idx.DescriptionWords {
		score := util.OverlapOfSets(q.Words, words)
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best < 0 || bestScore < threshold {
		return internal.MatchResult{}, false
	}
	return internal.MatchResult{InternalCode: idx.Entries[best].InternalCode, Score: bestScore, Tier: internal.TierDescriptionOverlap}, true
}

// Matcher runs the strategies against one catalog, indexed once.
type Matcher struct {
	index     *catalog.Index
	threshold float64
}

func NewMatcher(entries []internal.CatalogEntry, threshold float64) *Matcher {
	return &Matcher{index: catalog.BuildIndex(entries), threshold: threshold}
}

func (m *Matcher) Match(description, supplierRef *string) *internal.MatchResult {
	if m == nil || m.index.Len() == 0 {
		return nil
	}
	if description == nil && supplierRef == nil {
		return nil
	}

	q := NewMatchQuery(description, supplierRef)
	for _, strategy := range Strategies {
		if res, ok := strategy(q, m.index, m.threshold); ok {
			return &res
		}
	}
	return nil
}

// Match is the one-off form of Matcher.Match.
func Match(description, supplierRef *string, entries []internal.CatalogEntry, threshold float64) *internal.MatchResult {
	if len(entries) == 0 || (description == nil && supplierRef == nil) {
		return nil
	}
	return NewMatcher(entries, threshold).Match(description, supplierRef)
}

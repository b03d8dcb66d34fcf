package pipeline

import (
	"poextract/internal"
	"poextract/internal/util"
)

type FlatBatch struct {
	Rows             []internal.FlatRow
	MaxDeliveryCount int
}

// ComputeMaxDeliveries is the measuring pass of Flatten: the longest delivery
// list across every line of every extraction.
func ComputeMaxDeliveries(extractions []internal.Extraction) int {
	longest := 0
	for _, ext := range extractions {
		for _, line := range ext.Lines {
			longest = max(longest, len(line.Deliveries))
		}
	}
	return longest
}

// Flatten matches against entries with the default threshold.
func Flatten(extractions []internal.Extraction, entries []internal.CatalogEntry) FlatBatch {
	return FlattenWith(extractions, NewMatcher(entries, DefaultMatchThreshold))
}

// FlattenWith turns extractions into one row per line item, in input order.
// Every row gets the same delivery keys, null padded.
func FlattenWith(extractions []internal.Extraction, matcher *Matcher) FlatBatch {
	maxDeliveries := ComputeMaxDeliveries(extractions)
	hasCatalog := matcher != nil && matcher.index.Len() > 0

	rows := make([]internal.FlatRow, 0)
	for _, ext := range extractions {
		header := headerValues(ext)
		for _, line := range ext.Lines {
			row := internal.FlatRow{Values: make(map[string]any, len(header)+len(LineColumns)+2*maxDeliveries)}
			for k, v := range header {
				row.Values[k] = v
			}

			var match *internal.MatchResult
			if hasCatalog {
				match = matcher.Match(util.Text(line.Description), util.Text(line.SupplierRef))
			}
			if match != nil {
				code := match.InternalCode
				row.InternalCode = &code
				row.MatchTier = match.Tier
				row.MatchScore = match.Score
				row.Values[ColInternalCode] = code
			} else {
				row.ReferenceMissing = true
				row.Values[ColInternalCode] = nil
			}

			row.Values[ColSupplierCode] = line.SupplierCode
			row.Values[ColSupplierRef] = line.SupplierRef
			row.Values[ColDescription] = line.Description
			row.Values[ColTotalQuantity] = line.TotalQuantity
			row.Values[ColUnit] = line.Unit
			row.Values[ColUnitPrice] = line.UnitPrice
			row.Values[ColVATRate] = line.VATRate
			row.Values[ColTotalWithoutVAT] = line.TotalWithoutVAT
			row.Values[ColTotalWithVAT] = line.TotalWithVAT

			for i := 0; i < maxDeliveries; i++ {
				var date, qty any
				if i < len(line.Deliveries) {
					date = line.Deliveries[i].Date
					qty = line.Deliveries[i].Quantity
				}
				row.Values[DeliveryDateKey(i+1)] = date
				row.Values[DeliveryQuantityKey(i+1)] = qty
			}

			rows = append(rows, row)
		}
	}

	return FlatBatch{Rows: rows, MaxDeliveryCount: maxDeliveries}
}

func headerValues(ext internal.Extraction) map[string]any {
	document := ext.Filename
	if document == "" {
		document = ext.DocumentID
	}
	var documentValue any
	if document != "" {
		documentValue = document
	}
	return map[string]any{
		ColDocument:        documentValue,
		ColClient:          ext.Client,
		ColOrderNumber:     ext.OrderNumber,
		ColOrderDate:       ext.OrderDate,
		ColCommitment:      ext.Commitment,
		ColBudgetLine:      ext.BudgetLine,
		ColContractNumber:  ext.ContractNumber,
		ColClientTaxID:     ext.ClientTaxID,
		ColDeliveryAddress: ext.DeliveryAddress,
	}
}

// Summary holds the counters shown before an export.
type Summary struct {
	Documents        int
	Rows             int
	MissingRefs      int
	MaxDeliveryCount int
}

func Summarize(batch FlatBatch) Summary {
	s := Summary{Rows: len(batch.Rows), MaxDeliveryCount: batch.MaxDeliveryCount}
	seen := map[any]struct{}{}
	for _, row := range batch.Rows {
		if row.ReferenceMissing {
			s.MissingRefs++
		}
		seen[row.Values[ColDocument]] = struct{}{}
	}
	s.Documents = len(seen)
	return s
}

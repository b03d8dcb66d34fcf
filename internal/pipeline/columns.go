package pipeline

import (
	"fmt"
	"regexp"
	"strconv"

	"poextract/internal"
	"poextract/internal/util"
)

const (
	ColDocument        = "document"
	ColClient          = "client"
	ColOrderNumber     = "order_number"
	ColOrderDate       = "order_date"
	ColCommitment      = "commitment"
	ColBudgetLine      = "budget_line"
	ColContractNumber  = "contract_number"
	ColClientTaxID     = "client_tax_id"
	ColDeliveryAddress = "delivery_address"

	ColInternalCode    = "internal_code"
	ColSupplierCode    = "supplier_code"
	ColSupplierRef     = "supplier_ref"
	ColDescription     = "description"
	ColTotalQuantity   = "total_quantity"
	ColUnit            = "unit"
	ColUnitPrice       = "unit_price"
	ColVATRate         = "vat_rate"
	ColTotalWithoutVAT = "total_without_vat"
	ColTotalWithVAT    = "total_with_vat"
)

var HeaderColumns = []string{
	ColClient, ColOrderNumber, ColOrderDate, ColCommitment, ColBudgetLine,
	ColContractNumber, ColClientTaxID, ColDeliveryAddress,
}

var LineColumns = []string{
	ColInternalCode, ColSupplierCode, ColSupplierRef, ColDescription, ColTotalQuantity,
	ColUnit, ColUnitPrice, ColVATRate, ColTotalWithoutVAT, ColTotalWithVAT,
}

var numericColumns = map[string]bool{
	ColTotalQuantity:   true,
	ColUnitPrice:       true,
	ColVATRate:         true,
	ColTotalWithoutVAT: true,
	ColTotalWithVAT:    true,
}

var reDeliveryKey = regexp.MustCompile(`^delivery_(\d+)_(date|quantity)$`)

func DeliveryDateKey(n int) string     { return fmt.Sprintf("delivery_%d_date", n) }
func DeliveryQuantityKey(n int) string { return fmt.Sprintf("delivery_%d_quantity", n) }

// CanonicalColumns lists every column key in export order for a batch with
// maxDeliveries delivery pairs.
func CanonicalColumns(maxDeliveries int) []string {
	keys := make([]string, 0, 1+len(HeaderColumns)+len(LineColumns)+2*maxDeliveries)
	keys = append(keys, ColDocument)
	keys = append(keys, HeaderColumns...)
	keys = append(keys, LineColumns...)
	for i := 1; i <= maxDeliveries; i++ {
		keys = append(keys, DeliveryDateKey(i), DeliveryQuantityKey(i))
	}
	return keys
}

// ActiveColumns keeps the canonical keys that hold a value in at least one
// row. It never touches the rows themselves.
func ActiveColumns(rows []internal.FlatRow, maxDeliveries int) []string {
	out := []string{}
	for _, key := range CanonicalColumns(maxDeliveries) {
		for _, row := range rows {
			if !util.IsBlank(row.Values[key]) {
				out = append(out, key)
				break
			}
		}
	}
	return out
}

func IsDeliveryColumn(key string) bool {
	return reDeliveryKey.MatchString(key)
}

func isNumericColumn(key string) bool {
	if numericColumns[key] {
		return true
	}
	m := reDeliveryKey.FindStringSubmatch(key)
	return m != nil && m[2] == "quantity"
}

// Locale holds the human readable labels of one export language.
type Locale struct {
	Name         string
	SheetName    string
	labels       map[string]string
	deliveryDate string
	deliveryQty  string
}

var locales = map[string]Locale{
	"en": {
		Name:      "en",
		SheetName: "Orders",
		labels: map[string]string{
			ColDocument:        "File",
			ColClient:          "Client",
			ColOrderNumber:     "Order No.",
			ColOrderDate:       "Order Date",
			ColCommitment:      "Commitment",
			ColBudgetLine:      "Budget Line",
			ColContractNumber:  "Contract No.",
			ColClientTaxID:     "Client Tax ID",
			ColDeliveryAddress: "Delivery Address",
			ColInternalCode:    "Internal Ref.",
			ColSupplierCode:    "Client Item Code",
			ColSupplierRef:     "Client Ref.",
			ColDescription:     "Description",
			ColTotalQuantity:   "Total Qty",
			ColUnit:            "Unit",
			ColUnitPrice:       "Unit Price excl. VAT",
			ColVATRate:         "VAT (%)",
			ColTotalWithoutVAT: "Total excl. VAT",
			ColTotalWithVAT:    "Total incl. VAT",
		},
		deliveryDate: "Delivery %d Date",
		deliveryQty:  "Delivery %d Quantity",
	},
	"pt": {
		Name:      "pt",
		SheetName: "Encomendas",
		labels: map[string]string{
			ColDocument:        "Ficheiro",
			ColClient:          "Cliente",
			ColOrderNumber:     "Nº Encomenda",
			ColOrderDate:       "Data Encomenda",
			ColCommitment:      "Compromisso",
			ColBudgetLine:      "Cabimento",
			ColContractNumber:  "Nº Concurso",
			ColClientTaxID:     "NIF Cliente",
			ColDeliveryAddress: "Morada Entrega",
			ColInternalCode:    "Ref. Interna",
			ColSupplierCode:    "Cód. Artigo Cliente",
			ColSupplierRef:     "Ref. Cliente",
			ColDescription:     "Designação",
			ColTotalQuantity:   "Qtd Total",
			ColUnit:            "Unidade",
			ColUnitPrice:       "Preço Unit. s/IVA",
			ColVATRate:         "IVA (%)",
			ColTotalWithoutVAT: "Total s/IVA",
			ColTotalWithVAT:    "Total c/IVA",
		},
		deliveryDate: "Entrega %d Data",
		deliveryQty:  "Entrega %d Qtd",
	},
}

// LocaleFor returns the named locale, falling back to English.
func LocaleFor(name string) Locale {
	if l, ok := locales[name]; ok {
		return l
	}
	return locales["en"]
}

// Label maps a column key to its header text. Unknown keys are returned as is.
func (l Locale) Label(key string) string {
	if label, ok := l.labels[key]; ok {
		return label
	}
	if m := reDeliveryKey.FindStringSubmatch(key); m != nil {
		n, _ := strconv.Atoi(m[1])
		if m[2] == "date" {
			return fmt.Sprintf(l.deliveryDate, n)
		}
		return fmt.Sprintf(l.deliveryQty, n)
	}
	return key
}

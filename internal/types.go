package internal

// Scalar values coming from the extraction service are kept as decoded JSON:
// string, float64, bool or nil. No numeric coercion happens on the way to export.

type Delivery struct {
	Date     any `json:"data"`
	Quantity any `json:"quantidade"`
}

type LineItem struct {
	SupplierCode    any        `json:"cod_artigo"`
	SupplierRef     any        `json:"ref_cliente"`
	Description     any        `json:"designacao"`
	TotalQuantity   any        `json:"quantidade_total"`
	Unit            any        `json:"unidade"`
	UnitPrice       any        `json:"preco_unitario"`
	VATRate         any        `json:"iva"`
	TotalWithoutVAT any        `json:"total_sem_iva"`
	TotalWithVAT    any        `json:"total_com_iva"`
	Deliveries      []Delivery `json:"entregas"`
}

type Header struct {
	Client          any `json:"cliente"`
	OrderNumber     any `json:"num_encomenda"`
	OrderDate       any `json:"data_encomenda"`
	Commitment      any `json:"compromisso"`
	BudgetLine      any `json:"cabimento"`
	ContractNumber  any `json:"num_contrato"`
	ClientTaxID     any `json:"nif_cliente"`
	DeliveryAddress any `json:"morada_entrega"`
}

// Extraction is one processed document. DocumentID and Filename are set by the
// caller, never by the extraction service.
type Extraction struct {
	DocumentID string `json:"-"`
	Filename   string `json:"-"`
	Header
	Lines []LineItem `json:"linhas"`
}

type CatalogEntry struct {
	InternalCode       string `json:"internalCode"`
	CatalogDescription string `json:"catalogDescription"`
}

type MatchTier string

const (
	TierExactRef           MatchTier = "exact_ref"
	TierRefInDescription   MatchTier = "ref_in_description"
	TierDescriptionOverlap MatchTier = "description_overlap"
)

type MatchResult struct {
	InternalCode string    `json:"internalCode"`
	Score        float64   `json:"matchScore"`
	Tier         MatchTier `json:"matchTier"`
}

// FlatRow is one line item joined with its document header. Values is keyed by
// column key; every row of a batch carries the same delivery keys.
type FlatRow struct {
	Values           map[string]any
	InternalCode     *string
	MatchTier        MatchTier
	MatchScore       float64
	ReferenceMissing bool
}

type DocumentStatus string

const (
	DocumentWaiting    DocumentStatus = "waiting"
	DocumentProcessing DocumentStatus = "processing"
	DocumentDone       DocumentStatus = "done"
	DocumentError      DocumentStatus = "error"
)

type DocumentRow struct {
	ID        string
	Filename  string
	MediaType string
	Hash      string
	RawRef    string
	Status    DocumentStatus
	ErrorMsg  string
	EmailID   *int
	CreatedAt string
	UpdatedAt string
}

const (
	EmailFetched   = "fetched"
	EmailSkipped   = "skipped"
	EmailProcessed = "processed"
	EmailExported  = "exported"
	EmailFailed    = "error"
)

type EmailRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    string
	Sender     string
	ReceivedAt string
	Hash       string
	Status     string
	RawRef     string
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

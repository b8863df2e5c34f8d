package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseRequest represents a procurement request initiated by a staff member
type PurchaseRequest struct {
	ID               int64                  `json:"id"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description"`
	Amount           decimal.Decimal        `json:"amount"`
	Status           RequestStatus          `json:"status"`
	CreatedBy        int64                  `json:"created_by"`
	CreatedByName    string                 `json:"created_by_name,omitempty"`
	ProformaFile     string                 `json:"proforma_file"`
	PurchaseOrderDoc string                 `json:"purchase_order_doc,omitempty"`
	ReceiptFile      string                 `json:"receipt_file,omitempty"`
	AIMetadata       map[string]interface{} `json:"ai_metadata"`
	Steps            []*ApprovalStep        `json:"approval_steps"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// ApprovalStep represents one level of the two-level sign-off chain
type ApprovalStep struct {
	ID           int64      `json:"id"`
	RequestID    int64      `json:"request_id"`
	Level        int        `json:"level"`
	Status       StepStatus `json:"status"`
	ApproverID   *int64     `json:"approver_id,omitempty"`
	ApproverName string     `json:"approver_name,omitempty"`
	Comments     string     `json:"comments"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
}

// StepAt returns the request's step for the given level, or nil
func (r *PurchaseRequest) StepAt(level int) *ApprovalStep {
	for _, s := range r.Steps {
		if s.Level == level {
			return s
		}
	}
	return nil
}

// StepByID returns the request's step with the given id, or nil
func (r *PurchaseRequest) StepByID(id int64) *ApprovalStep {
	for _, s := range r.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// VendorName returns the extracted vendor name or a placeholder
func (r *PurchaseRequest) VendorName() string {
	if name, ok := r.AIMetadata[MetaVendorName].(string); ok && name != "" {
		return name
	}
	return "Unknown Vendor"
}

// DocumentPath returns the stored path for a document slot
func (r *PurchaseRequest) DocumentPath(slot DocumentSlot) string {
	switch slot {
	case SlotProforma:
		return r.ProformaFile
	case SlotPurchaseOrder:
		return r.PurchaseOrderDoc
	case SlotReceipt:
		return r.ReceiptFile
	default:
		return ""
	}
}

// RequestDraft holds the caller-supplied fields of a new request
type RequestDraft struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// UploadedFile is a document handed to the workflow by the API layer
type UploadedFile struct {
	Name        string
	ContentType string
	Content     []byte
}

// Empty reports whether no usable file was supplied
func (f *UploadedFile) Empty() bool {
	return f == nil || len(f.Content) == 0
}

// LineItem is one extracted line of a vendor quote
type LineItem struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

// QuoteMetadata is the structured data extracted from a proforma
type QuoteMetadata struct {
	VendorName      string          `json:"vendor_name"`
	InvoiceNumber   string          `json:"invoice_number"`
	Items           []LineItem      `json:"items"`
	ExtractedTotal  decimal.Decimal `json:"extracted_total"`
	ConfidenceScore float64         `json:"confidence_score"`
}

// ToMap converts the extraction into the open metadata mapping stored on the request.
// Money values are kept as fixed two-decimal strings.
func (q *QuoteMetadata) ToMap() map[string]interface{} {
	items := make([]interface{}, 0, len(q.Items))
	for _, it := range q.Items {
		items = append(items, map[string]interface{}{
			"description": it.Description,
			"quantity":    it.Quantity,
			"price":       it.Price.StringFixed(2),
		})
	}
	return map[string]interface{}{
		MetaVendorName:      q.VendorName,
		MetaInvoiceNumber:   q.InvoiceNumber,
		MetaItems:           items,
		MetaExtractedTotal:  q.ExtractedTotal.StringFixed(2),
		MetaConfidenceScore: q.ConfidenceScore,
	}
}

// ReceiptValidation is the reconciliation result of a receipt against the order amount
type ReceiptValidation struct {
	Status        string   `json:"status"`
	Message       string   `json:"message"`
	Discrepancies []string `json:"discrepancies"`
}

// ToMap converts the validation result into a metadata value
func (v *ReceiptValidation) ToMap() map[string]interface{} {
	discrepancies := make([]interface{}, 0, len(v.Discrepancies))
	for _, d := range v.Discrepancies {
		discrepancies = append(discrepancies, d)
	}
	return map[string]interface{}{
		"status":        v.Status,
		"message":       v.Message,
		"discrepancies": discrepancies,
	}
}

// POSnapshot carries the request fields a purchase order is rendered from
type POSnapshot struct {
	RequestID  int64
	Title      string
	Amount     decimal.Decimal
	VendorName string
	IssuedAt   time.Time
}

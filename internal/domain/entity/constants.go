package entity

// RequestStatus is the lifecycle status of a PurchaseRequest
type RequestStatus string

// Status constants for PurchaseRequest
const (
	RequestPending   RequestStatus = "PENDING"
	RequestApproved  RequestStatus = "APPROVED"
	RequestRejected  RequestStatus = "REJECTED"
	RequestCompleted RequestStatus = "COMPLETED"
)

// StepStatus is the status of a single ApprovalStep
type StepStatus string

// Status constants for ApprovalStep
const (
	StepPending  StepStatus = "PENDING"
	StepApproved StepStatus = "APPROVED"
	StepRejected StepStatus = "REJECTED"
)

// Approval levels. Every request owns exactly one step per level.
const (
	LevelOne = 1
	LevelTwo = 2
)

// ApprovalLevels lists the levels created for each request, in order
var ApprovalLevels = []int{LevelOne, LevelTwo}

// Decision is the outcome an approver records on a step
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// IsValid reports whether d is approve or reject
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// DocumentSlot names one of the three blob slots a request owns
type DocumentSlot string

const (
	SlotProforma      DocumentSlot = "proforma"
	SlotPurchaseOrder DocumentSlot = "purchase_order"
	SlotReceipt       DocumentSlot = "receipt"
)

// Dir returns the storage directory for the slot
func (s DocumentSlot) Dir() string {
	switch s {
	case SlotProforma:
		return "proformas"
	case SlotPurchaseOrder:
		return "pos"
	case SlotReceipt:
		return "receipts"
	default:
		return ""
	}
}

// Metadata keys written into PurchaseRequest.AIMetadata
const (
	MetaVendorName        = "vendor_name"
	MetaInvoiceNumber     = "invoice_number"
	MetaItems             = "items"
	MetaExtractedTotal    = "extracted_total"
	MetaConfidenceScore   = "confidence_score"
	MetaReceiptValidation = "receipt_validation"
)

// Receipt validation outcomes
const (
	ValidationMatch    = "MATCH"
	ValidationMismatch = "MISMATCH"
)

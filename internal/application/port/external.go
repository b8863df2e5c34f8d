package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/p2p-procurement/internal/domain/entity"
)

// DocumentService extracts quote data, reconciles receipts and renders
// purchase orders. Implementations must not persist anything themselves.
type DocumentService interface {
	// Extract reads structured metadata from a vendor quote
	Extract(ctx context.Context, file *entity.UploadedFile) (*entity.QuoteMetadata, error)

	// ValidateReceipt reconciles a receipt against the expected order amount
	ValidateReceipt(ctx context.Context, file *entity.UploadedFile, expected decimal.Decimal) (*entity.ReceiptValidation, error)

	// RenderPurchaseOrder renders the PO document. Identical snapshots yield
	// identical output.
	RenderPurchaseOrder(ctx context.Context, po entity.POSnapshot) (filename string, content []byte, err error)
}

// QuoteExtractor is the extraction half of DocumentService
type QuoteExtractor interface {
	Extract(ctx context.Context, file *entity.UploadedFile) (*entity.QuoteMetadata, error)
}

// ReceiptValidator is the reconciliation half of DocumentService
type ReceiptValidator interface {
	ValidateReceipt(ctx context.Context, file *entity.UploadedFile, expected decimal.Decimal) (*entity.ReceiptValidation, error)
}

// PurchaseOrderRenderer is the rendering half of DocumentService
type PurchaseOrderRenderer interface {
	RenderPurchaseOrder(ctx context.Context, po entity.POSnapshot) (string, []byte, error)
}

// MessageSender delivers plain-text workflow notifications
type MessageSender interface {
	SendText(ctx context.Context, receiveID string, content string) error
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC
type SystemClock struct{}

// Now returns the current UTC time
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Package document implements the document collaborators of the workflow:
// quote extraction, receipt reconciliation and purchase order rendering.
package document

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/garyjia/p2p-procurement/internal/application/port"
	"github.com/garyjia/p2p-procurement/internal/domain/entity"
)

// Service composes an extractor, a validator and a renderer into a
// port.DocumentService
type Service struct {
	extractor port.QuoteExtractor
	validator port.ReceiptValidator
	renderer  port.PurchaseOrderRenderer
}

var _ port.DocumentService = (*Service)(nil)

// NewService creates a composite document service
func NewService(extractor port.QuoteExtractor, validator port.ReceiptValidator, renderer port.PurchaseOrderRenderer) *Service {
	return &Service{
		extractor: extractor,
		validator: validator,
		renderer:  renderer,
	}
}

// Extract implements port.DocumentService
func (s *Service) Extract(ctx context.Context, file *entity.UploadedFile) (*entity.QuoteMetadata, error) {
	return s.extractor.Extract(ctx, file)
}

// ValidateReceipt implements port.DocumentService
func (s *Service) ValidateReceipt(ctx context.Context, file *entity.UploadedFile, expected decimal.Decimal) (*entity.ReceiptValidation, error) {
	return s.validator.ValidateReceipt(ctx, file, expected)
}

// RenderPurchaseOrder implements port.DocumentService
func (s *Service) RenderPurchaseOrder(ctx context.Context, po entity.POSnapshot) (string, []byte, error) {
	return s.renderer.RenderPurchaseOrder(ctx, po)
}

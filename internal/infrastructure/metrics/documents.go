package metrics

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/p2p-procurement/internal/application/port"
	"github.com/garyjia/p2p-procurement/internal/domain/entity"
)

type instrumentedDocuments struct {
	next    port.DocumentService
	metrics *Metrics
}

// InstrumentDocuments wraps next so every call is counted and timed
func InstrumentDocuments(next port.DocumentService, m *Metrics) port.DocumentService {
	return &instrumentedDocuments{next: next, metrics: m}
}

func (d *instrumentedDocuments) Extract(ctx context.Context, file *entity.UploadedFile) (*entity.QuoteMetadata, error) {
	start := time.Now()
	meta, err := d.next.Extract(ctx, file)
	d.metrics.observeDocument("extract", start, err)
	return meta, err
}

func (d *instrumentedDocuments) ValidateReceipt(ctx context.Context, file *entity.UploadedFile, expected decimal.Decimal) (*entity.ReceiptValidation, error) {
	start := time.Now()
	v, err := d.next.ValidateReceipt(ctx, file, expected)
	d.metrics.observeDocument("validate_receipt", start, err)
	return v, err
}

func (d *instrumentedDocuments) RenderPurchaseOrder(ctx context.Context, po entity.POSnapshot) (string, []byte, error) {
	start := time.Now()
	name, content, err := d.next.RenderPurchaseOrder(ctx, po)
	d.metrics.observeDocument("render_purchase_order", start, err)
	return name, content, err
}

package document

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/p2p-procurement/internal/domain/entity"
)

// Simulated stands in for a real document AI. Extraction always yields the same
// vendor payload and receipts match two times out of three.
type Simulated struct {
	mu      sync.Mutex
	rng     *rand.Rand
	latency time.Duration
	logger  *zap.Logger
}

// NewSimulated creates a simulated extractor and validator. src drives the
// invoice numbers and match outcomes; latency delays every call.
func NewSimulated(src rand.Source, latency time.Duration, logger *zap.Logger) *Simulated {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulated{
		rng:     rand.New(src),
		latency: latency,
		logger:  logger,
	}
}

// Extract returns the fixed quote payload
func (s *Simulated) Extract(ctx context.Context, file *entity.UploadedFile) (*entity.QuoteMetadata, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	number := 1000 + s.rng.Intn(9000)
	s.mu.Unlock()

	s.logger.Debug("Simulated quote extraction", zap.String("file", file.Name), zap.Int("invoice_number", number))

	return &entity.QuoteMetadata{
		VendorName:    "Tech Corp Solutions",
		InvoiceNumber: fmt.Sprintf("INV-%d", number),
		Items: []entity.LineItem{
			{Description: "Server Rack", Quantity: 1, Price: decimal.NewFromInt(1200)},
			{Description: "Cables", Quantity: 50, Price: decimal.NewFromInt(10)},
		},
		ExtractedTotal:  decimal.NewFromInt(1700),
		ConfidenceScore: 0.98,
	}, nil
}

// ValidateReceipt reports MATCH with probability 2/3
func (s *Simulated) ValidateReceipt(ctx context.Context, file *entity.UploadedFile, expected decimal.Decimal) (*entity.ReceiptValidation, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	match := s.rng.Intn(3) < 2
	s.mu.Unlock()

	s.logger.Debug("Simulated receipt validation",
		zap.String("file", file.Name),
		zap.String("expected", expected.StringFixed(2)),
		zap.Bool("match", match))

	if match {
		return &entity.ReceiptValidation{
			Status:        entity.ValidationMatch,
			Message:       "Receipt matches Purchase Order perfectly.",
			Discrepancies: []string{},
		}, nil
	}
	return &entity.ReceiptValidation{
		Status:        entity.ValidationMismatch,
		Message:       "Discrepancy detected in total amount.",
		Discrepancies: []string{"Receipt total differs from PO total."},
	}, nil
}

func (s *Simulated) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

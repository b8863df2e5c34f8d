// Package report renders finance registers of purchase requests as Excel workbooks.
package report

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/p2p-procurement/internal/domain/entity"
)

const (
	registerSheet = "Register"
	summarySheet  = "Summary"
	timeLayout    = "2006-01-02 15:04"
)

var registerHeader = []interface{}{
	"ID", "Title", "Requester", "Vendor", "Amount", "Status",
	"Level 1", "Level 2", "PO Number", "Receipt Check", "Created At", "Updated At",
}

// statusOrder fixes the row order of the summary sheet
var statusOrder = []entity.RequestStatus{
	entity.RequestPending,
	entity.RequestApproved,
	entity.RequestRejected,
	entity.RequestCompleted,
}

// RegisterWriter builds the purchase request register workbook
type RegisterWriter struct {
	logger *zap.Logger
}

// NewRegisterWriter creates a register writer
func NewRegisterWriter(logger *zap.Logger) *RegisterWriter {
	return &RegisterWriter{logger: logger}
}

// Write renders requests, in the given order, into an xlsx workbook with a
// register sheet and a per-status summary sheet
func (w *RegisterWriter) Write(requests []*entity.PurchaseRequest, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", registerSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := w.writeRegister(f, requests); err != nil {
		return nil, err
	}
	if err := w.writeSummary(f, requests, generatedAt); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	w.logger.Info("Register exported", zap.Int("rows", len(requests)), zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

func (w *RegisterWriter) writeRegister(f *excelize.File, requests []*entity.PurchaseRequest) error {
	if err := f.SetSheetRow(registerSheet, "A1", &registerHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, req := range requests {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		amount, _ := req.Amount.Float64()
		row := []interface{}{
			req.ID,
			req.Title,
			req.CreatedByName,
			req.VendorName(),
			amount,
			string(req.Status),
			stepSummary(req.StepAt(entity.LevelOne)),
			stepSummary(req.StepAt(entity.LevelTwo)),
			poNumber(req),
			receiptStatus(req),
			req.CreatedAt.UTC().Format(timeLayout),
			req.UpdatedAt.UTC().Format(timeLayout),
		}
		if err := f.SetSheetRow(registerSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write request %d: %w", req.ID, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}

	w.apply(f, registerSheet, "A1", "L1", header)
	if len(requests) > 0 {
		w.apply(f, registerSheet, "E2", fmt.Sprintf("E%d", len(requests)+1), money)
	}
	if err := f.SetColWidth(registerSheet, "B", "D", 28); err != nil {
		w.logger.Warn("Failed to set column width", zap.Error(err))
	}
	if err := f.SetColWidth(registerSheet, "G", "L", 18); err != nil {
		w.logger.Warn("Failed to set column width", zap.Error(err))
	}
	if err := f.SetPanes(registerSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		w.logger.Warn("Failed to freeze header row", zap.Error(err))
	}
	return nil
}

func (w *RegisterWriter) writeSummary(f *excelize.File, requests []*entity.PurchaseRequest, generatedAt time.Time) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	counts := make(map[entity.RequestStatus]int)
	totals := make(map[entity.RequestStatus]decimal.Decimal)
	grand := decimal.Zero
	for _, req := range requests {
		counts[req.Status]++
		totals[req.Status] = totals[req.Status].Add(req.Amount)
		grand = grand.Add(req.Amount)
	}

	rows := [][]interface{}{
		{"Generated At", generatedAt.UTC().Format(timeLayout)},
		{},
		{"Status", "Requests", "Amount"},
	}
	for _, status := range statusOrder {
		total, _ := totals[status].Float64()
		rows = append(rows, []interface{}{string(status), counts[status], total})
	}
	grandTotal, _ := grand.Float64()
	rows = append(rows, []interface{}{"Total", len(requests), grandTotal})

	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	return nil
}

func (w *RegisterWriter) apply(f *excelize.File, sheet, from, to string, style int) {
	if err := f.SetCellStyle(sheet, from, to, style); err != nil {
		w.logger.Warn("Failed to set cell style",
			zap.String("sheet", sheet),
			zap.String("range", from+":"+to),
			zap.Error(err))
	}
}

func stepSummary(step *entity.ApprovalStep) string {
	if step == nil {
		return ""
	}
	if step.Status == entity.StepPending || step.ApproverName == "" {
		return string(step.Status)
	}
	return fmt.Sprintf("%s by %s", step.Status, step.ApproverName)
}

func poNumber(req *entity.PurchaseRequest) string {
	if req.PurchaseOrderDoc == "" {
		return ""
	}
	return fmt.Sprintf("PO-%05d", req.ID)
}

func receiptStatus(req *entity.PurchaseRequest) string {
	v, ok := req.AIMetadata[entity.MetaReceiptValidation].(map[string]interface{})
	if !ok {
		return ""
	}
	status, _ := v["status"].(string)
	return status
}

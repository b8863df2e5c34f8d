package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/p2p-procurement/internal/domain/entity"
)

func TestRegisterWriter_Write(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	approver := int64(3)
	requests := []*entity.PurchaseRequest{
		{
			ID:               7,
			Title:            "Laptop",
			Amount:           decimal.RequireFromString("1500.00"),
			Status:           entity.RequestCompleted,
			CreatedByName:    "alice",
			PurchaseOrderDoc: "pos/PO_7_1.pdf",
			AIMetadata: map[string]interface{}{
				entity.MetaVendorName:        "Tech Corp Solutions",
				entity.MetaReceiptValidation: map[string]interface{}{"status": entity.ValidationMatch},
			},
			Steps: []*entity.ApprovalStep{
				{Level: entity.LevelOne, Status: entity.StepApproved, ApproverID: &approver, ApproverName: "lena"},
				{Level: entity.LevelTwo, Status: entity.StepApproved, ApproverID: &approver, ApproverName: "leo"},
			},
			CreatedAt: created,
			UpdatedAt: created,
		},
		{
			ID:            8,
			Title:         "Chairs",
			Amount:        decimal.RequireFromString("99.50"),
			Status:        entity.RequestPending,
			CreatedByName: "bob",
			Steps: []*entity.ApprovalStep{
				{Level: entity.LevelOne, Status: entity.StepPending},
				{Level: entity.LevelTwo, Status: entity.StepPending},
			},
			CreatedAt: created,
			UpdatedAt: created,
		},
	}

	content, err := NewRegisterWriter(zap.NewNop()).Write(requests, created)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{registerSheet, summarySheet}, f.GetSheetList())

	rows, err := f.GetRows(registerSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Title", rows[0][1])
	assert.Equal(t, []string{"7", "Laptop", "alice", "Tech Corp Solutions"}, rows[1][:4])
	assert.Equal(t, "COMPLETED", rows[1][5])
	assert.Equal(t, "APPROVED by lena", rows[1][6])
	assert.Equal(t, "PO-00007", rows[1][8])
	assert.Equal(t, "MATCH", rows[1][9])
	assert.Equal(t, "Unknown Vendor", rows[2][3])
	assert.Equal(t, "PENDING", rows[2][6])

	raw, err := f.GetCellValue(registerSheet, "E3", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "99.5", raw)

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01 09:30", summary[0][1])
	assert.Equal(t, []string{"PENDING", "1"}, summary[3][:2])
	assert.Equal(t, "Total", summary[7][0])
	assert.Equal(t, "2", summary[7][1])
}

func TestRegisterWriter_Empty(t *testing.T) {
	content, err := NewRegisterWriter(zap.NewNop()).Write(nil, time.Unix(0, 0))
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(registerSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

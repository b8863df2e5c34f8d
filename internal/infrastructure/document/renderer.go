package document

import (
	"bytes"
	"context"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"

	"github.com/garyjia/p2p-procurement/internal/domain/entity"
)

const qrImageName = "po_qr"

// PORenderer renders purchase orders as single-page PDFs. Output depends only
// on the snapshot, so the same snapshot always yields the same bytes.
type PORenderer struct {
	issuer string
}

// NewPORenderer creates a renderer. issuer is printed in the footer.
func NewPORenderer(issuer string) *PORenderer {
	if issuer == "" {
		issuer = "Finance Dept"
	}
	return &PORenderer{issuer: issuer}
}

// PONumber formats the purchase order number of a request
func PONumber(requestID int64) string {
	return fmt.Sprintf("PO-%05d", requestID)
}

// RenderPurchaseOrder implements port.PurchaseOrderRenderer
func (r *PORenderer) RenderPurchaseOrder(ctx context.Context, po entity.POSnapshot) (string, []byte, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	number := PONumber(po.RequestID)
	amount := "$" + po.Amount.StringFixed(2)

	qrPng, err := qrcode.Encode(fmt.Sprintf("%s|%s", number, po.Amount.StringFixed(2)), qrcode.Medium, 256)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "Letter", "")
	// gofpdf stamps unset dates with the wall clock
	pdf.SetCreationDate(po.IssuedAt)
	pdf.SetModificationDate(po.IssuedAt)
	pdf.SetCatalogSort(true)
	pdf.SetTitle(number, false)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Text(18, 22, "PURCHASE ORDER")

	pdf.SetFont("Helvetica", "", 10)
	pdf.Text(18, 30, "PO Number: "+number)
	pdf.Text(18, 35, "Date: "+po.IssuedAt.Format("2006-01-02"))
	pdf.Text(18, 40, tr("Vendor: "+po.VendorName))

	opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	pdf.RegisterImageOptionsReader(qrImageName, opts, bytes.NewReader(qrPng))
	pdf.ImageOptions(qrImageName, 168, 12, 30, 30, false, opts, 0, "")

	pdf.Line(18, 47, 198, 47)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Text(18, 57, "Item Description")
	pdf.Text(160, 57, "Amount")

	pdf.SetFont("Helvetica", "", 12)
	pdf.SetXY(17, 61)
	pdf.MultiCell(135, 6, tr(po.Title), "", "L", false)
	pdf.Text(160, 65, amount)

	footerY := pdf.GetY() + 8
	if footerY < 80 {
		footerY = 80
	}
	pdf.Line(18, footerY, 198, footerY)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.Text(18, footerY+8, tr("Authorized by: "+r.issuer))
	pdf.Text(18, footerY+13, "Generated automatically by P2P System")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return "", nil, fmt.Errorf("failed to render purchase order: %w", err)
	}

	filename := fmt.Sprintf("PO_%d_%d.pdf", po.RequestID, po.IssuedAt.Unix())
	return filename, buf.Bytes(), nil
}

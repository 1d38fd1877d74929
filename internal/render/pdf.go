package render

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"

	"watchbill/internal/domain"
)

func renderPDF(doc domain.ExportDocument) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(18, 18, 18)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 15)
	pdf.CellFormat(0, 9, fmt.Sprintf("Handover  %s to %s", doc.PeriodStart, doc.PeriodEnd), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(90, 90, 90)
	meta := "Yacht " + doc.YachtID
	if doc.Department != "" {
		meta += "  /  " + doc.Department
	}
	pdf.CellFormat(0, 5, meta, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 5, fmt.Sprintf("Signed out by %s at %s", doc.OutgoingUserID, doc.OutgoingSignedAt), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 5, fmt.Sprintf("Signed in by %s at %s", doc.IncomingUserID, doc.IncomingSignedAt), "", 1, "L", false, 0, "")
	pdf.Ln(3)

	for _, section := range doc.Sections {
		pdf.SetTextColor(26, 26, 46)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, section.BucketName, "B", 1, "L", false, 0, "")
		pdf.Ln(1)
		pdf.SetFont("Helvetica", "", 10)
		for _, item := range section.Items {
			if item.IsCritical {
				pdf.SetTextColor(192, 57, 43)
				pdf.SetFont("Helvetica", "B", 10)
				pdf.MultiCell(0, 5, "CRITICAL  "+item.SummaryText, "", "L", false)
				pdf.SetFont("Helvetica", "", 10)
				pdf.SetTextColor(26, 26, 46)
			} else {
				pdf.MultiCell(0, 5, item.SummaryText, "", "L", false)
			}
			for _, link := range item.Links {
				pdf.SetFont("Helvetica", "U", 8)
				pdf.SetTextColor(40, 80, 160)
				label := link.Label
				if label == "" {
					label = link.Kind
				}
				pdf.CellFormat(0, 4, label, "", 1, "L", false, 0, link.URL)
				pdf.SetFont("Helvetica", "", 10)
				pdf.SetTextColor(26, 26, 46)
			}
			pdf.Ln(2)
		}
		pdf.Ln(2)
	}

	pdf.SetFont("Courier", "", 7)
	pdf.SetTextColor(136, 136, 136)
	pdf.MultiCell(0, 3.5, "Content hash "+doc.DocumentHash, "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf for draft %s: %w", doc.DraftID, err)
	}
	return buf.Bytes(), nil
}

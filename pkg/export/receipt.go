package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Receipt is the printable proof of a paid order.
type Receipt struct {
	OrderID       int64
	StudentName   string
	StudentEmail  string
	ClassroomName string
	AmountCents   int64
	Currency      string
	Provider      string
	Reference     string
	PaidAt        time.Time
	IssuedAt      time.Time
}

// FormatAmount renders integer minor units as "39.00 EUR".
func FormatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, strings.ToUpper(currency))
}

// RenderReceipt produces a single page A4 PDF receipt.
func RenderReceipt(r Receipt) ([]byte, error) {
	if r.OrderID <= 0 {
		return nil, fmt.Errorf("receipt requires an order id")
	}
	issued := r.IssuedAt
	if issued.IsZero() {
		issued = time.Now().UTC()
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Receipt #%d", r.OrderID), false)
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, "PAYMENT RECEIPT", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	rows := [][2]string{
		{"Receipt", fmt.Sprintf("#%d", r.OrderID)},
		{"Issued", issued.Format("2006-01-02 15:04 MST")},
		{"Student", r.StudentName},
		{"E-mail", r.StudentEmail},
		{"Classroom", r.ClassroomName},
		{"Amount", FormatAmount(r.AmountCents, r.Currency)},
		{"Paid at", formatTime(r.PaidAt)},
		{"Provider", r.Provider},
		{"Reference", r.Reference},
	}

	for _, row := range rows {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(45, 8, row[0], "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 8, row[1], "1", 1, "", false, 0, "")
	}

	pdf.Ln(6)
	pdf.SetFont("Arial", "I", 8)
	pdf.MultiCell(0, 5, "This receipt confirms a completed payment. Keep it for your records.", "", "", false)

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

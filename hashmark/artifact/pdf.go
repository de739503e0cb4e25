package artifact

import (
	"bytes"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
)

// renderPDF lays out a one-page certificate. Proof fields come first; the
// generation time sits in the footer, apart from them.
func renderPDF(cert *Certificate, qr []byte, generatedAt time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(generatedAt)
	pdf.SetModificationDate(generatedAt)
	pdf.SetCatalogSort(true)
	pdf.SetTitle("Hashmark certificate", true)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, "Generated "+cert.Meta.GeneratedAt+"  |  "+cert.Meta.VerifyURL, "T", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 22)
	pdf.CellFormat(0, 14, "Certificate of Authenticity", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	rows := [][2]string{
		{"Video hash", cert.VideoHash},
		{"Creator", cert.Creator},
		{"Registered", cert.Timestamp},
		{"Network", cert.Network},
		{"Block", strconv.FormatUint(cert.Block, 10)},
		{"Transaction", cert.TxHash.Hex()},
	}
	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(32, 8, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Courier", "", 8)
		pdf.MultiCell(0, 8, row[1], "", "L", false)
	}

	if len(qr) > 0 {
		opts := fpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
		pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(qr))
		pdf.ImageOptions("qr", 75, pdf.GetY()+10, 60, 60, false, opts, 0, cert.Meta.VerifyURL)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

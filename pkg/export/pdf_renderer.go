package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// Table is an optional tabular block rendered below the letter body.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Document describes a one-page letter: a letterhead, a title, free-text
// paragraphs, an optional table and a signature footer.
type Document struct {
	Letterhead string
	Title      string
	Reference  string
	Paragraphs []string
	Table      *Table
	Signature  string
}

// PDFRenderer renders documents into PDF bytes in-process so they can be sent
// inline to the messaging gateway.
type PDFRenderer struct{}

// NewPDFRenderer constructs a PDF renderer.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

// Render creates a PDF for the document.
func (r *PDFRenderer) Render(doc Document) ([]byte, error) {
	if strings.TrimSpace(doc.Title) == "" {
		return nil, fmt.Errorf("pdf requires a title")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if doc.Letterhead != "" {
		pdf.SetFont("Arial", "B", 16)
		pdf.CellFormat(0, 10, tr(strings.ToUpper(doc.Letterhead)), "B", 1, "C", false, 0, "")
		pdf.Ln(4)
	}

	pdf.SetFont("Arial", "B", 13)
	pdf.CellFormat(0, 8, tr(doc.Title), "", 1, "C", false, 0, "")
	if doc.Reference != "" {
		pdf.SetFont("Arial", "I", 9)
		pdf.CellFormat(0, 6, tr(doc.Reference), "", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 11)
	for _, p := range doc.Paragraphs {
		pdf.MultiCell(0, 6, tr(p), "", "L", false)
		pdf.Ln(2)
	}

	if doc.Table != nil && len(doc.Table.Headers) > 0 {
		pdf.Ln(2)
		colWidth := 180.0 / float64(len(doc.Table.Headers))
		pdf.SetFont("Arial", "B", 10)
		for _, header := range doc.Table.Headers {
			pdf.CellFormat(colWidth, 8, tr(header), "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, row := range doc.Table.Rows {
			for i := range doc.Table.Headers {
				value := ""
				if i < len(row) {
					value = row[i]
				}
				pdf.CellFormat(colWidth, 7, tr(value), "1", 0, "", false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	if doc.Signature != "" {
		pdf.Ln(12)
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 6, tr(doc.Signature), "", 1, "R", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

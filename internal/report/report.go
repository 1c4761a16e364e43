// Package report renders the survey volume report as a PDF document.
package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/paulgrammer/surveyd/internal/storage"
)

// PendingVolume is printed when no volume has been computed yet.
const PendingVolume = "Pending Calculation"

// Metadata is the fixed information printed on every report.
type Metadata struct {
	Organization string
	Methodology  string
	SurveyOutput string
	LogoPath     string
}

// Report is the input of a single rendering.
type Report struct {
	SurveyDate  string
	GeneratedAt time.Time
	Volume      *float64
	Simulated   bool
	Metadata    Metadata
}

// VolumeText formats the volume cell.
func (r Report) VolumeText() string {
	if r.Volume == nil {
		return PendingVolume
	}
	return fmt.Sprintf("%.2f m³", *r.Volume)
}

// Render writes the report as PDF to w.
func Render(w io.Writer, r Report) error {
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now()
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(false)
	pdf.SetTitle("Drone Mining Survey Report", true)
	pdf.SetAuthor(r.Metadata.Organization, true)
	pdf.SetCreationDate(r.GeneratedAt)
	pdf.SetMargins(20, 20, 20)
	pdf.AliasNbPages("")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-18)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(110, 110, 110)
		footer := "Generated by " + orDefault(r.Metadata.Organization, "the") + " Drone Monitoring System"
		pdf.CellFormat(0, 5, tr(footer), "", 1, "C", false, 0, "")
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()

	if r.Metadata.LogoPath != "" {
		if _, err := os.Stat(r.Metadata.LogoPath); err == nil {
			pdf.ImageOptions(r.Metadata.LogoPath, 20, 15, 50, 0, false, fpdf.ImageOptions{ReadDpi: true}, 0, "")
			pdf.SetY(45)
		}
	}

	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 12, "Drone Mining Survey Report", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, "Survey Date: "+r.SurveyDate, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, "Generated: "+r.GeneratedAt.Format("2006-01-02 15:04:05"), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, tr("Company: "+r.Metadata.Organization), "", 1, "L", false, 0, "")
	pdf.Ln(8)

	rows := [][2]string{
		{"Estimated Volume", r.VolumeText()},
		{"Processing Software", r.Metadata.Methodology},
		{"Survey Output", r.Metadata.SurveyOutput},
	}
	if r.Simulated {
		rows = append(rows, [2]string{"Result Source", "Simulated (mapping tool unavailable)"})
	}

	const colA, colB, rowH = 70.0, 100.0, 9.0
	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(211, 211, 211)
	pdf.CellFormat(colA, rowH, "Parameter", "1", 0, "C", true, 0, "")
	pdf.CellFormat(colB, rowH, "Result", "1", 1, "C", true, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	for _, row := range rows {
		pdf.CellFormat(colA, rowH, tr(row[0]), "1", 0, "C", false, 0, "")
		pdf.CellFormat(colB, rowH, tr(row[1]), "1", 1, "C", false, 0, "")
	}
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, "Report Summary", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.MultiCell(0, 6, tr(summary(r)), "", "L", false)

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return pdf.Output(w)
}

// WriteFile renders the report to path, replacing any previous report there.
func WriteFile(path string, r Report) error {
	return storage.WriteAtomic(path, func(w io.Writer) error {
		return Render(w, r)
	})
}

func summary(r Report) string {
	if r.Volume == nil {
		return "This survey request has been received. The stockpile volume will be " +
			"calculated from the drone imagery once 3D mapping has been processed."
	}
	return fmt.Sprintf("This mining volume report was generated automatically using drone imagery "+
		"and 3D mapping. The estimated stockpile volume is %.2f cubic meters.", *r.Volume)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

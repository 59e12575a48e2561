package batch

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/xuri/excelize/v2"
)

const reportSheet = "NFSe"

// PrintSummary writes the end-of-batch report.
func PrintSummary(w io.Writer, s Summary) {
	rule := strings.Repeat("=", 50)
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	fmt.Fprintln(w, rule)
	bold.Fprintln(w, "BATCH REPORT")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Total files:       %d\n", len(s.Files))
	green.Fprintf(w, "Succeeded:         %d\n", s.Succeeded())
	if s.Failed() > 0 {
		red.Fprintf(w, "Failed:            %d\n", s.Failed())
	} else {
		fmt.Fprintf(w, "Failed:            %d\n", 0)
	}
	fmt.Fprintf(w, "Total time:        %.2fs\n", s.Elapsed.Seconds())
	fmt.Fprintf(w, "Average per file:  %.2fs\n", s.AveragePerFile().Seconds())
	fmt.Fprintln(w, rule)

	if s.Failed() == 0 {
		return
	}
	bold.Fprintln(w, "FAILURES:")
	for _, f := range s.Files {
		if !f.OK() {
			red.Fprintf(w, "- %s: %v\n", f.Name, f.Err)
		}
	}
}

// BuildXLSX renders one row per file with the main invoice fields.
func BuildXLSX(s Summary) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(reportSheet); err != nil {
		return nil, err
	}
	_ = f.DeleteSheet("Sheet1")
	idx, _ := f.GetSheetIndex(reportSheet)
	f.SetActiveSheet(idx)

	headers := []string{
		"Arquivo", "Status", "Número", "Data emissão",
		"Prestador CNPJ", "Prestador", "Tomador CNPJ", "Tomador",
		"Valor total", "Valor ISS", "Tempo (s)", "Erro",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(reportSheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(reportSheet, 1, 1, style)
	}

	for i, fr := range s.Files {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(reportSheet, cell, v)
		}
		write(1, filepath.Base(fr.Source))
		write(12, "")
		if !fr.OK() {
			write(2, "FALHA")
			write(11, round2(fr.Elapsed.Seconds()))
			write(12, truncate(fr.Err.Error(), 300))
			continue
		}
		write(2, "SUCESSO")
		rec := fr.Record
		if rec != nil {
			write(3, str(rec.InvoiceNumber))
			write(4, str(rec.IssueDate))
			if rec.Provider != nil {
				write(5, str(rec.Provider.CNPJ))
				write(6, str(rec.Provider.LegalName))
			}
			if rec.Customer != nil {
				write(7, str(rec.Customer.CNPJ))
				write(8, str(rec.Customer.LegalName))
			}
			writeAmount(write, 9, rec.TotalAmount)
			writeAmount(write, 10, rec.ISSAmount)
		}
		write(11, round2(fr.Elapsed.Seconds()))
	}

	_ = f.SetColWidth(reportSheet, "A", "A", 48)
	_ = f.SetColWidth(reportSheet, "B", "D", 14)
	_ = f.SetColWidth(reportSheet, "E", "E", 20)
	_ = f.SetColWidth(reportSheet, "F", "F", 36)
	_ = f.SetColWidth(reportSheet, "G", "G", 20)
	_ = f.SetColWidth(reportSheet, "H", "H", 36)
	_ = f.SetColWidth(reportSheet, "I", "K", 12)
	_ = f.SetColWidth(reportSheet, "L", "L", 60)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf, nil
}

// WriteXLSX saves the batch report to path.
func WriteXLSX(path string, s Summary) error {
	buf, err := BuildXLSX(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func writeAmount(write func(int, any), col int, v *float64) {
	if v != nil {
		write(col, *v)
	}
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

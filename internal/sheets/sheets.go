// Package sheets reads spreadsheet documents into page-equivalent
// text, bypassing rasterization and OCR entirely. Each sheet becomes
// one page: the sheet name as a heading followed by tab-separated
// rows. CSV and TSV files yield a single page named after the file.
package sheets

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/spherical/docmark/internal/domain"
)

var spreadsheetExts = map[string]bool{
	".xlsx": true,
	".xls":  true,
	".xlsm": true,
	".xlsb": true,
	".ods":  true,
	".csv":  true,
	".tsv":  true,
}

// legacyExts need a LibreOffice pass to xlsx before excelize can open
// them.
var legacyExts = map[string]bool{
	".xls":  true,
	".xlsb": true,
	".ods":  true,
}

// IsSpreadsheet reports whether ext routes through this reader
func IsSpreadsheet(ext string) bool {
	return spreadsheetExts[strings.ToLower(ext)]
}

// NeedsConversion reports whether ext must be converted to xlsx first
func NeedsConversion(ext string) bool {
	return legacyExts[strings.ToLower(ext)]
}

// Read turns a spreadsheet file into pages. ext selects the parser;
// legacy workbook formats must already be converted to xlsx.
func Read(path, ext string) ([]domain.Page, error) {
	switch strings.ToLower(ext) {
	case ".csv":
		return readDelimited(path, ',')
	case ".tsv":
		return readDelimited(path, '\t')
	default:
		return readWorkbook(path)
	}
}

func readWorkbook(path string) ([]domain.Page, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("opening workbook %s", filepath.Base(path)), err)
	}
	defer f.Close()

	var pages []domain.Page
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, domain.ConversionError(fmt.Sprintf("reading sheet %q", sheet), err)
		}
		pages = append(pages, textPage(i+1, sheet, rows))
	}
	return pages, nil
}

func readDelimited(path string, comma rune) ([]domain.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("opening %s", filepath.Base(path)), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, domain.ConversionError(fmt.Sprintf("parsing %s", filepath.Base(path)), err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return []domain.Page{textPage(1, name, rows)}, nil
}

// textPage renders one sheet as a successful page
func textPage(number int, name string, rows [][]string) domain.Page {
	var b strings.Builder
	b.WriteString("## ")
	b.WriteString(name)
	b.WriteString("\n\n")
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.Join(row, "\t"))
	}
	content := b.String()
	return domain.Page{
		Page:          number,
		Content:       content,
		ContentLength: utf8.RuneCountInString(content),
		Status:        domain.StatusSuccess,
	}
}

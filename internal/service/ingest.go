package service

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/panel-merge-server/internal/domain"
	"github.com/panel-merge-server/pkg/genes"
)

// geneColumnNames are the header names recognized, case-insensitively, as the
// gene column of an uploaded sheet. The first matching column wins.
var geneColumnNames = map[string]struct{}{
	"gene":        {},
	"genes":       {},
	"entity_name": {},
	"genesymbol":  {},
}

// utf8BOM is stripped from the head of text uploads before header matching.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Ingestor parses uploaded tabular files into the same PanelDetail shape as
// remote panels.
type Ingestor struct {
	logger *logrus.Logger
}

// NewIngestor creates an upload ingestor.
func NewIngestor(logger *logrus.Logger) *Ingestor {
	return &Ingestor{logger: logger}
}

// Parse converts an uploaded file into a PanelDetail with source "upload" and
// an identity derived from the filename.
//
// When no recognized gene column exists, Parse returns an empty-gene detail
// together with an IngestError of kind KindNoGeneColumn; callers should treat
// that pairing as a warning, not an abort. All other errors return a nil detail.
func (i *Ingestor) Parse(data []byte, filename string) (*domain.PanelDetail, error) {
	if len(data) == 0 {
		return nil, &domain.IngestError{Kind: domain.KindEmptyFile, Filename: filename}
	}

	var rows [][]string
	var err error

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		rows, err = readDelimited(data, ',')
	case ".tsv", ".tab":
		rows, err = readDelimited(data, '\t')
	case ".xlsx":
		rows, err = readWorkbook(data)
	default:
		return nil, &domain.IngestError{
			Kind:     domain.KindUnsupportedFormat,
			Filename: filename,
			Detail:   fmt.Sprintf("extension %q is not a supported tabular format", filepath.Ext(filename)),
		}
	}
	if err != nil {
		return nil, &domain.IngestError{Kind: domain.KindUnreadable, Filename: filename, Detail: err.Error()}
	}
	if len(rows) == 0 {
		return nil, &domain.IngestError{Kind: domain.KindEmptyFile, Filename: filename}
	}

	detail := &domain.PanelDetail{
		Ref:         domain.UploadRef(filename),
		Name:        filename,
		Version:     domain.NotSpecified,
		Description: "User upload",
		FetchedAt:   time.Now().UTC(),
	}

	geneCol := findGeneColumn(rows[0])
	if geneCol < 0 {
		// Returned alongside the empty detail so the caller can warn.
		return detail, &domain.IngestError{
			Kind:     domain.KindNoGeneColumn,
			Filename: filename,
			Detail:   fmt.Sprintf("no column named one of gene/genes/entity_name/genesymbol in header %v", rows[0]),
		}
	}

	for _, row := range rows[1:] {
		if len(row) <= geneCol {
			if rowHasContent(row) {
				detail.SkippedRows++
			}
			continue
		}
		raw := row[geneCol]
		if genes.IsBlank(raw) {
			continue // blank gene cells are dropped silently
		}
		detail.Genes = append(detail.Genes, domain.GeneAnnotation{
			Symbol:            strings.TrimSpace(raw),
			NormalizedSymbol:  genes.NormalizeSymbol(raw),
			Confidence:        domain.ConfidenceUnknown,
			ModeOfInheritance: domain.NotSpecified,
			Phenotypes:        []string{},
		})
	}

	i.logger.WithFields(logrus.Fields{
		"filename": filename,
		"genes":    len(detail.Genes),
		"skipped":  detail.SkippedRows,
	}).Debug("Parsed uploaded panel")

	return detail, nil
}

// readDelimited reads a CSV or TSV upload into rows, tolerating ragged rows.
func readDelimited(data []byte, delimiter rune) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				// Malformed line: leave it out, the caller's skip accounting
				// covers ragged rows by column count.
				continue
			}
			return nil, fmt.Errorf("failed to read tabular data: %w", err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// readWorkbook reads the first sheet of an XLSX upload into rows.
func readWorkbook(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// findGeneColumn returns the index of the first recognized gene column in the
// header row, or -1 when none matches.
func findGeneColumn(header []string) int {
	for i, cell := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(cell, string(utf8BOM))))
		if _, ok := geneColumnNames[name]; ok {
			return i
		}
	}
	return -1
}

// rowHasContent reports whether any cell in the row is non-blank.
func rowHasContent(row []string) bool {
	for _, cell := range row {
		if !genes.IsBlank(cell) {
			return true
		}
	}
	return false
}

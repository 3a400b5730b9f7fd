package service

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/panel-merge-server/internal/domain"
)

// combinedSheetName is the final sheet holding the merged gene list.
const combinedSheetName = "Combined"

// defaultSheetName is the sheet excelize creates in every new workbook; it is
// deleted after our sheets are written.
const defaultSheetName = "Sheet1"

// provenanceDelimiter joins contributing panel names in the Combined sheet.
const provenanceDelimiter = "; "

// panelSheetHeader is the fixed column order of per-panel sheets.
var panelSheetHeader = []interface{}{"Gene", "Confidence", "Mode of Inheritance", "Phenotypes"}

// combinedSheetHeader is the fixed column order of the Combined sheet.
var combinedSheetHeader = []interface{}{"Gene", "Display Symbol", "Panel Count", "Panels"}

// WorkbookBuilder renders a MergeResult into an XLSX workbook: one sheet per
// included panel plus the Combined sheet.
type WorkbookBuilder struct {
	logger *logrus.Logger
}

// NewWorkbookBuilder creates a workbook builder.
func NewWorkbookBuilder(logger *logrus.Logger) *WorkbookBuilder {
	return &WorkbookBuilder{logger: logger}
}

// Build serializes the merge result. An empty combined set still yields a
// valid workbook with a header-only Combined sheet.
func (b *WorkbookBuilder) Build(result *domain.MergeResult) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	// Reserve the default sheet's name too: a panel named "Sheet1" must get
	// its own sheet, not land on the default one we delete below.
	used := map[string]struct{}{combinedSheetName: {}, defaultSheetName: {}}

	for _, sheet := range result.Sheets {
		name := sheetName(sheet.Name, used)
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("failed to create sheet %q: %w", name, err)
		}
		if err := writePanelSheet(f, name, sheet); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(combinedSheetName); err != nil {
		return nil, fmt.Errorf("failed to create combined sheet: %w", err)
	}
	if err := writeCombinedSheet(f, result.Combined); err != nil {
		return nil, err
	}

	// Drop the workbook's default sheet so only our sheets remain.
	if err := f.DeleteSheet(defaultSheetName); err != nil {
		return nil, fmt.Errorf("failed to remove default sheet: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"merge_id": result.ID,
		"sheets":   len(result.Sheets) + 1,
		"bytes":    buf.Len(),
	}).Debug("Built merge workbook")

	return buf.Bytes(), nil
}

// writePanelSheet writes one panel's gene rows with all annotation columns.
func writePanelSheet(f *excelize.File, name string, sheet domain.PanelSheet) error {
	if err := setRow(f, name, 1, panelSheetHeader); err != nil {
		return err
	}
	for i, gene := range sheet.Genes {
		row := []interface{}{
			gene.Symbol,
			gene.Confidence.String(),
			gene.ModeOfInheritance,
			strings.Join(gene.Phenotypes, provenanceDelimiter),
		}
		if err := setRow(f, name, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

// writeCombinedSheet writes the merged gene list with its provenance column.
func writeCombinedSheet(f *excelize.File, combined []domain.CombinedGene) error {
	if err := setRow(f, combinedSheetName, 1, combinedSheetHeader); err != nil {
		return err
	}
	for i, gene := range combined {
		row := []interface{}{
			gene.NormalizedSymbol,
			gene.DisplaySymbol,
			gene.Count(),
			strings.Join(gene.PanelNames, provenanceDelimiter),
		}
		if err := setRow(f, combinedSheetName, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

// setRow writes one row starting at column A.
func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to compute cell coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of sheet %q: %w", row, sheet, err)
	}
	return nil
}

// sheetName sanitizes a panel name into a unique, XLSX-legal sheet name:
// forbidden characters are replaced, length capped at 31, collisions suffixed.
func sheetName(name string, used map[string]struct{}) string {
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		default:
			return r
		}
	}, name)
	sanitized = strings.TrimSpace(sanitized)
	if sanitized == "" {
		sanitized = "Panel"
	}
	if runes := []rune(sanitized); len(runes) > 31 {
		sanitized = string(runes[:31])
	}

	candidate := sanitized
	for n := 2; ; n++ {
		if _, taken := used[candidate]; !taken {
			used[candidate] = struct{}{}
			return candidate
		}
		suffix := fmt.Sprintf(" (%d)", n)
		base := []rune(sanitized)
		if len(base)+len(suffix) > 31 {
			base = base[:31-len(suffix)]
		}
		candidate = string(base) + suffix
	}
}

package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/panel-merge-server/internal/domain"
)

// MergeEngine combines confidence-filtered remote panels and parsed uploads
// into one deduplicated, provenance-tagged gene set.
type MergeEngine struct {
	cache  *PanelCache
	ingest *Ingestor
	logger *logrus.Logger
}

// NewMergeEngine creates a merge engine over the given cache and ingestor.
func NewMergeEngine(cache *PanelCache, ingest *Ingestor, logger *logrus.Logger) *MergeEngine {
	return &MergeEngine{cache: cache, ingest: ingest, logger: logger}
}

// Merge executes a merge selection. Failures of individual panels or files are
// isolated: the failed input is excluded and recorded on the result, and the
// merge continues. Only an invalid selection returns an error.
//
// Given identical inputs and cache state, Merge is deterministic: the combined
// list is sorted by normalized symbol and provenance follows selection
// insertion order.
func (e *MergeEngine) Merge(ctx context.Context, selection domain.MergeSelection) (*domain.MergeResult, error) {
	if err := selection.Validate(); err != nil {
		return nil, err
	}

	result := &domain.MergeResult{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	// Remote panels: fetch, filter, keep going on failure.
	for _, sel := range selection.Panels {
		detail, err := e.cache.GetDetail(ctx, sel.Ref)
		if err != nil {
			e.logger.WithFields(logrus.Fields{
				"panel": sel.Ref.String(),
				"error": err.Error(),
			}).Warn("Panel excluded from merge: fetch failed")
			result.Failures = append(result.Failures, domain.PanelFailure{
				Ref:     sel.Ref,
				Stage:   domain.StageFetch,
				Message: err.Error(),
			})
			continue
		}

		result.Sheets = append(result.Sheets, domain.PanelSheet{
			Ref:         sel.Ref,
			Name:        panelDisplayName(detail),
			Policy:      sel.Policy,
			Genes:       ApplyPolicy(sel.Policy, detail.Genes),
			SkippedRows: detail.SkippedRows,
		})
	}

	// Uploads: parse, keep going on failure. A missing gene column is a
	// warning and the (empty) sheet is still included.
	for _, upload := range selection.Uploads {
		detail, err := e.ingest.Parse(upload.Data, upload.Filename)
		if err != nil && !domain.IsNoGeneColumn(err) {
			e.logger.WithFields(logrus.Fields{
				"filename": upload.Filename,
				"error":    err.Error(),
			}).Warn("Upload excluded from merge: parse failed")
			result.Failures = append(result.Failures, domain.PanelFailure{
				Ref:     domain.UploadRef(upload.Filename),
				Stage:   domain.StageParse,
				Message: err.Error(),
			})
			continue
		}
		if err != nil {
			result.Warnings = append(result.Warnings, err.Error())
		}

		result.Sheets = append(result.Sheets, domain.PanelSheet{
			Ref:         detail.Ref,
			Name:        detail.Name,
			Policy:      domain.PolicyWholePanel,
			Genes:       detail.Genes,
			SkippedRows: detail.SkippedRows,
		})
	}

	result.Combined = combine(result.Sheets)
	for _, sheet := range result.Sheets {
		result.PanelNames = append(result.PanelNames, sheet.Name)
	}

	e.logger.WithFields(logrus.Fields{
		"merge_id": result.ID,
		"included": len(result.Sheets),
		"failed":   len(result.Failures),
		"combined": len(result.Combined),
	}).Info("Merge completed")

	return result, nil
}

// combine builds the deduplicated combined gene list from per-panel sheets.
// The display symbol is the first-seen raw casing; each panel appears in a
// gene's contributing set at most once, in sheet order; the output is sorted
// by normalized symbol.
func combine(sheets []domain.PanelSheet) []domain.CombinedGene {
	bySymbol := make(map[string]*domain.CombinedGene)
	var order []string

	for _, sheet := range sheets {
		for _, gene := range sheet.Genes {
			entry, ok := bySymbol[gene.NormalizedSymbol]
			if !ok {
				entry = &domain.CombinedGene{
					NormalizedSymbol: gene.NormalizedSymbol,
					DisplaySymbol:    gene.Symbol,
				}
				bySymbol[gene.NormalizedSymbol] = entry
				order = append(order, gene.NormalizedSymbol)
			}
			if !containsRef(entry.Panels, sheet.Ref) {
				entry.Panels = append(entry.Panels, sheet.Ref)
				entry.PanelNames = append(entry.PanelNames, sheet.Name)
			}
		}
	}

	combined := make([]domain.CombinedGene, 0, len(order))
	for _, symbol := range order {
		combined = append(combined, *bySymbol[symbol])
	}
	sort.Slice(combined, func(i, j int) bool {
		return combined[i].NormalizedSymbol < combined[j].NormalizedSymbol
	})
	return combined
}

func containsRef(refs []domain.PanelRef, ref domain.PanelRef) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

// panelDisplayName prefers the detail's name, falling back to the ref string
// when upstream omitted it.
func panelDisplayName(detail *domain.PanelDetail) string {
	if detail.Name != "" {
		return detail.Name
	}
	return fmt.Sprintf("Panel %s", detail.Ref)
}

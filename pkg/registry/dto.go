package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/panel-merge-server/internal/domain"
	"github.com/panel-merge-server/pkg/genes"
)

// FlexStrings decodes an upstream field that arrives inconsistently as a JSON
// string, a list of strings, or null. Downstream code only ever sees []string.
type FlexStrings []string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexStrings) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*f = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*f = nil
		} else {
			*f = FlexStrings{single}
		}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("value is neither string nor string list: %w", err)
	}
	*f = FlexStrings(many)
	return nil
}

// panelListResponse is one page of the registry's panel listing.
type panelListResponse struct {
	Count   int            `json:"count"`
	Next    string         `json:"next"`
	Results []panelSummary `json:"results"`
}

// panelSummary is one listing row. IDs arrive as numbers from both registries
// but are carried as strings internally.
type panelSummary struct {
	ID              json.Number `json:"id"`
	Name            string      `json:"name"`
	DiseaseGroup    string      `json:"disease_group"`
	DiseaseSubGroup string      `json:"disease_sub_group"`
	Status          string      `json:"status"`
	Version         string      `json:"version"`
}

// toCatalogEntry converts a listing row, substituting the NotSpecified sentinel
// for omitted optional fields.
func (p panelSummary) toCatalogEntry(source domain.Source) (domain.PanelCatalogEntry, error) {
	id := p.ID.String()
	if id == "" {
		return domain.PanelCatalogEntry{}, fmt.Errorf("catalog row missing id")
	}
	if strings.TrimSpace(p.Name) == "" {
		return domain.PanelCatalogEntry{}, fmt.Errorf("catalog row %s missing name", id)
	}

	return domain.PanelCatalogEntry{
		ID:              id,
		Source:          source,
		Name:            p.Name,
		Description:     orNotSpecified(p.DiseaseGroup),
		DiseaseGroup:    orNotSpecified(p.DiseaseGroup),
		DiseaseSubGroup: orNotSpecified(p.DiseaseSubGroup),
		Version:         orNotSpecified(p.Version),
		Status:          orNotSpecified(p.Status),
	}, nil
}

// panelDetailResponse is the registry's panel detail payload.
type panelDetailResponse struct {
	ID           json.Number `json:"id"`
	Name         string      `json:"name"`
	Version      string      `json:"version"`
	DiseaseGroup string      `json:"disease_group"`
	Genes        []geneRow   `json:"genes"`
}

// geneRow is one gene entry within a panel detail payload.
type geneRow struct {
	EntityName        string      `json:"entity_name"`
	ConfidenceLevel   string      `json:"confidence_level"`
	ModeOfInheritance string      `json:"mode_of_inheritance"`
	Phenotypes        FlexStrings `json:"phenotypes"`
	GeneData          struct {
		GeneSymbol string `json:"gene_symbol"`
	} `json:"gene_data"`
}

// toAnnotation converts a gene row. The second return is false when the row
// carries no usable symbol; such rows are skipped and counted by the caller.
func (g geneRow) toAnnotation() (domain.GeneAnnotation, bool) {
	symbol := g.GeneData.GeneSymbol
	if genes.IsBlank(symbol) {
		symbol = g.EntityName
	}
	if genes.IsBlank(symbol) {
		return domain.GeneAnnotation{}, false
	}

	phenotypes := []string(g.Phenotypes)
	if phenotypes == nil {
		phenotypes = []string{}
	}

	return domain.GeneAnnotation{
		Symbol:            symbol,
		NormalizedSymbol:  genes.NormalizeSymbol(symbol),
		Confidence:        domain.ParseConfidence(strings.TrimSpace(g.ConfidenceLevel)),
		ModeOfInheritance: orNotSpecified(g.ModeOfInheritance),
		Phenotypes:        phenotypes,
	}, true
}

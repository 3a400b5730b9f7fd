package domain

import (
	"fmt"
	"time"
)

// Source identifies where a panel comes from: a remote registry or a user upload.
type Source string

// Known panel sources
const (
	SourceUK     Source = "uk"
	SourceAUS    Source = "aus"
	SourceUpload Source = "upload"
)

// RegistrySources lists the remote registries in a stable order.
var RegistrySources = []Source{SourceUK, SourceAUS}

// IsRegistry reports whether the source is a remote registry (as opposed to an upload).
func (s Source) IsRegistry() bool {
	return s == SourceUK || s == SourceAUS
}

// Valid reports whether the source is one of the known sources.
func (s Source) Valid() bool {
	return s.IsRegistry() || s == SourceUpload
}

// NotSpecified is the sentinel substituted for optional fields the upstream omits.
// Downstream stages never see an absent value.
const NotSpecified = "Not specified"

// PanelRef is the identity of a panel. Two panels with the same ID but different
// sources are distinct entities. PanelRef is comparable and used as a map key.
type PanelRef struct {
	Source Source `json:"source"`
	ID     string `json:"id"`
}

// String returns the canonical "source:id" form used in logs and cache keys.
func (r PanelRef) String() string {
	return fmt.Sprintf("%s:%s", r.Source, r.ID)
}

// PanelCatalogEntry is a summary row from a registry's panel listing.
// Entries are immutable after creation; a re-fetch replaces the whole entry.
type PanelCatalogEntry struct {
	ID              string `json:"id"`
	Source          Source `json:"source"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	DiseaseGroup    string `json:"disease_group"`
	DiseaseSubGroup string `json:"disease_sub_group"`
	Version         string `json:"version"`
	Status          string `json:"status"`
}

// Ref returns the panel's identity.
func (e PanelCatalogEntry) Ref() PanelRef {
	return PanelRef{Source: e.Source, ID: e.ID}
}

// Confidence is the evidence tier of a gene within a panel. Tiers are ordered:
// Red < Amber < Green. ConfidenceUnknown marks rows whose tier could not be parsed.
type Confidence int

// Confidence tiers
const (
	ConfidenceUnknown Confidence = 0
	ConfidenceRed     Confidence = 1
	ConfidenceAmber   Confidence = 2
	ConfidenceGreen   Confidence = 3
)

// ParseConfidence maps an upstream confidence_level string ("1".."3") to a tier.
// Anything else, including an empty string, maps to ConfidenceUnknown.
func ParseConfidence(s string) Confidence {
	switch s {
	case "1":
		return ConfidenceRed
	case "2":
		return ConfidenceAmber
	case "3":
		return ConfidenceGreen
	default:
		return ConfidenceUnknown
	}
}

// String returns the human-readable tier name.
func (c Confidence) String() string {
	switch c {
	case ConfidenceRed:
		return "Red"
	case ConfidenceAmber:
		return "Amber"
	case ConfidenceGreen:
		return "Green"
	default:
		return "Unknown"
	}
}

// GeneAnnotation is one gene's data within a panel. Created when a panel's detail
// is fetched or a file is parsed, immutable thereafter.
type GeneAnnotation struct {
	Symbol            string     `json:"symbol"`            // raw symbol as received
	NormalizedSymbol  string     `json:"normalized_symbol"` // canonical comparison key
	Confidence        Confidence `json:"confidence"`
	ModeOfInheritance string     `json:"mode_of_inheritance"`
	Phenotypes        []string   `json:"phenotypes"`
}

// PanelDetail is a panel's full gene list plus metadata. Details are immutable
// once constructed; holding a reference across a cache invalidation is safe.
type PanelDetail struct {
	Ref         PanelRef         `json:"ref"`
	Name        string           `json:"name"`
	Version     string           `json:"version"`
	Description string           `json:"description"`
	Genes       []GeneAnnotation `json:"genes"`
	SkippedRows int              `json:"skipped_rows"` // malformed upstream rows dropped during decode
	FetchedAt   time.Time        `json:"fetched_at"`
}

// FilterPolicy selects which confidence tiers of a panel contribute to a merge.
type FilterPolicy int

// Filter policies. GreenOnly ⊆ GreenAmber ⊆ AllLevels ⊆ WholePanel holds for any
// input. WholePanel keeps rows with unknown confidence; AllLevels drops them.
// That asymmetry mirrors upstream behavior and is preserved deliberately.
const (
	PolicyWholePanel FilterPolicy = iota
	PolicyGreenOnly
	PolicyGreenAmber
	PolicyAllLevels
)

// ParseFilterPolicy maps the wire names used by the request layer to a policy.
func ParseFilterPolicy(s string) (FilterPolicy, error) {
	switch s {
	case "whole_panel", "":
		return PolicyWholePanel, nil
	case "green_only", "green":
		return PolicyGreenOnly, nil
	case "green_amber":
		return PolicyGreenAmber, nil
	case "all_levels", "all":
		return PolicyAllLevels, nil
	default:
		return PolicyWholePanel, fmt.Errorf("unknown filter policy %q", s)
	}
}

// String returns the wire name of the policy.
func (p FilterPolicy) String() string {
	switch p {
	case PolicyGreenOnly:
		return "green_only"
	case PolicyGreenAmber:
		return "green_amber"
	case PolicyAllLevels:
		return "all_levels"
	default:
		return "whole_panel"
	}
}

// PanelSelection pairs a remote panel with the policy applied to it.
type PanelSelection struct {
	Ref    PanelRef     `json:"ref"`
	Policy FilterPolicy `json:"policy"`
}

// UploadedFile is a raw user-supplied spreadsheet. The surrounding system has
// already validated the bytes; the engine only parses them.
type UploadedFile struct {
	Filename string
	Data     []byte
}

// MergeSelection is the full caller input to a merge: remote panels in the order
// the caller listed them, plus uploaded files.
type MergeSelection struct {
	Panels  []PanelSelection
	Uploads []UploadedFile
}

// Validate enforces the selection preconditions: at least one input, unique
// PanelRefs, registry-only sources, unique upload filenames.
func (s MergeSelection) Validate() error {
	if len(s.Panels) == 0 && len(s.Uploads) == 0 {
		return ErrEmptySelection
	}
	seenRefs := make(map[PanelRef]struct{}, len(s.Panels))
	for _, p := range s.Panels {
		if !p.Ref.Source.IsRegistry() {
			return fmt.Errorf("selection contains non-registry source %q", p.Ref.Source)
		}
		if _, dup := seenRefs[p.Ref]; dup {
			return fmt.Errorf("duplicate panel %s in selection", p.Ref)
		}
		seenRefs[p.Ref] = struct{}{}
	}
	seenNames := make(map[string]struct{}, len(s.Uploads))
	for _, u := range s.Uploads {
		if u.Filename == "" {
			return fmt.Errorf("uploaded file without a filename")
		}
		if _, dup := seenNames[u.Filename]; dup {
			return fmt.Errorf("duplicate upload filename %q in selection", u.Filename)
		}
		seenNames[u.Filename] = struct{}{}
	}
	return nil
}

// UploadRef derives the synthetic identity of an uploaded file.
func UploadRef(filename string) PanelRef {
	return PanelRef{Source: SourceUpload, ID: filename}
}

// CombinedGene is one row of the merged output. Exactly one CombinedGene exists
// per normalized symbol; the contributing set is never empty and holds each
// panel at most once, in selection insertion order.
type CombinedGene struct {
	NormalizedSymbol string     `json:"normalized_symbol"`
	DisplaySymbol    string     `json:"display_symbol"` // first-seen raw casing
	Panels           []PanelRef `json:"panels"`
	PanelNames       []string   `json:"panel_names"` // parallel to Panels
}

// Count returns the number of contributing panels.
func (g CombinedGene) Count() int {
	return len(g.Panels)
}

// PanelSheet is one input panel's post-filter (or post-parse) gene list, used
// for the per-panel sheet of the output artifact.
type PanelSheet struct {
	Ref         PanelRef         `json:"ref"`
	Name        string           `json:"name"`
	Policy      FilterPolicy     `json:"policy"`
	Genes       []GeneAnnotation `json:"genes"`
	SkippedRows int              `json:"skipped_rows"`
}

// FailureStage tags where in the merge pipeline an input was lost.
type FailureStage string

// Failure stages
const (
	StageFetch FailureStage = "fetch"
	StageParse FailureStage = "parse"
)

// PanelFailure records one input panel or file that could not be included.
type PanelFailure struct {
	Ref     PanelRef     `json:"ref"`
	Stage   FailureStage `json:"stage"`
	Message string       `json:"message"`
}

// MergeResult is the engine's output: per-panel sheets in selection order, the
// combined deduplicated gene list sorted by normalized symbol, the ordered panel
// display names used for provenance, and the failures that were isolated along
// the way. A MergeResult is created fresh per merge call and never mutated.
type MergeResult struct {
	ID         string         `json:"id"`
	Sheets     []PanelSheet   `json:"sheets"`
	Combined   []CombinedGene `json:"combined"`
	PanelNames []string       `json:"panel_names"`
	Failures   []PanelFailure `json:"failures"`
	Warnings   []string       `json:"warnings"`
	CreatedAt  time.Time      `json:"created_at"`
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/panel-merge-server/internal/domain"
)

// xlsxContentType is the MIME type of the merge workbook download.
const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// defaultSuggestLimit caps autocomplete responses when the caller omits limit.
const defaultSuggestLimit = 10

// selectionItem is one remote panel selection in the merge request's
// "selection" form part.
type selectionItem struct {
	Source string `json:"source"`
	ID     string `json:"id"`
	Policy string `json:"policy"`
}

// mergeSummary is the JSON response of POST /merge.
type mergeSummary struct {
	ID             string                `json:"id"`
	PanelsIncluded int                   `json:"panels_included"`
	PanelsFailed   int                   `json:"panels_failed"`
	CombinedGenes  int                   `json:"combined_genes"`
	PanelNames     []string              `json:"panel_names"`
	Sheets         []sheetSummary        `json:"sheets"`
	Failures       []domain.PanelFailure `json:"failures,omitempty"`
	Warnings       []string              `json:"warnings,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// sheetSummary is one input panel's line in the merge summary.
type sheetSummary struct {
	Ref         domain.PanelRef `json:"ref"`
	Name        string          `json:"name"`
	Policy      string          `json:"policy"`
	Genes       int             `json:"genes"`
	SkippedRows int             `json:"skipped_rows,omitempty"`
}

// handleCatalog serves GET /panels?source=uk&q=... from the panel cache.
func (s *Server) handleCatalog(c *gin.Context) {
	source, ok := s.sourceParam(c)
	if !ok {
		return
	}

	entries, err := s.cache.SearchCatalog(c.Request.Context(), source, c.Query("q"))
	if err != nil {
		s.upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"panels": entries, "count": len(entries)})
}

// handleSuggest serves GET /genes/suggest?source=uk&prefix=BR&limit=10.
func (s *Server) handleSuggest(c *gin.Context) {
	source, ok := s.sourceParam(c)
	if !ok {
		return
	}

	prefix := c.Query("prefix")
	if prefix == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing required query parameter 'prefix'"})
		return
	}

	limit := defaultSuggestLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "'limit' must be a positive integer"})
			return
		}
		limit = parsed
	}

	symbols, err := s.index.Suggest(c.Request.Context(), prefix, source, limit)
	if err != nil {
		s.upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": symbols})
}

// handlePanelsContaining serves GET /genes/:symbol/panels?source=uk.
func (s *Server) handlePanelsContaining(c *gin.Context) {
	source, ok := s.sourceParam(c)
	if !ok {
		return
	}

	panels, err := s.index.PanelsContaining(c.Request.Context(), c.Param("symbol"), source)
	if err != nil {
		s.upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"panels": panels, "count": len(panels)})
}

// handleMerge serves POST /merge and returns the JSON summary.
func (s *Server) handleMerge(c *gin.Context) {
	result, ok := s.runMerge(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, summarize(result))
}

// handleMergeDownload serves POST /merge/download and streams the workbook.
func (s *Server) handleMergeDownload(c *gin.Context) {
	result, ok := s.runMerge(c)
	if !ok {
		return
	}

	artifact, err := s.workbook.Build(result)
	if err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to build merge workbook")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build workbook"})
		return
	}

	filename := fmt.Sprintf("panel-merge-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, artifact)
}

// handleInvalidate serves POST /cache/invalidate.
func (s *Server) handleInvalidate(c *gin.Context) {
	s.cache.InvalidateAll()
	c.JSON(http.StatusOK, gin.H{"status": "invalidated"})
}

// runMerge decodes the multipart merge request and executes the engine. It
// writes the error response itself and returns ok=false on failure.
func (s *Server) runMerge(c *gin.Context) (*domain.MergeResult, bool) {
	selection, err := decodeSelection(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	result, err := s.engine.Merge(c.Request.Context(), selection)
	if err != nil {
		if errors.Is(err, domain.ErrEmptySelection) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}

	// Total upstream failure with nothing included reads as an outage.
	if len(result.Sheets) == 0 && len(result.Failures) > 0 {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    "no input panel could be included",
			"failures": result.Failures,
		})
		return nil, false
	}

	return result, true
}

// decodeSelection parses the multipart form: a "selection" JSON part listing
// remote panels plus zero or more uploaded files.
func decodeSelection(c *gin.Context) (domain.MergeSelection, error) {
	var selection domain.MergeSelection

	form, err := c.MultipartForm()
	if err != nil {
		return selection, fmt.Errorf("invalid multipart form: %w", err)
	}

	if raw := c.PostForm("selection"); raw != "" {
		var items []selectionItem
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return selection, fmt.Errorf("invalid selection JSON: %w", err)
		}
		for _, item := range items {
			source := domain.Source(item.Source)
			if !source.IsRegistry() {
				return selection, fmt.Errorf("unknown panel source %q", item.Source)
			}
			policy, err := domain.ParseFilterPolicy(item.Policy)
			if err != nil {
				return selection, err
			}
			selection.Panels = append(selection.Panels, domain.PanelSelection{
				Ref:    domain.PanelRef{Source: source, ID: item.ID},
				Policy: policy,
			})
		}
	}

	for _, header := range form.File["files"] {
		f, err := header.Open()
		if err != nil {
			return selection, fmt.Errorf("failed to open upload %q: %w", header.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return selection, fmt.Errorf("failed to read upload %q: %w", header.Filename, err)
		}
		selection.Uploads = append(selection.Uploads, domain.UploadedFile{
			Filename: header.Filename,
			Data:     data,
		})
	}

	return selection, nil
}

// sourceParam extracts and validates the required source query parameter,
// writing the error response itself when invalid.
func (s *Server) sourceParam(c *gin.Context) (domain.Source, bool) {
	source := domain.Source(c.Query("source"))
	if !source.IsRegistry() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("query parameter 'source' must be one of %v", domain.RegistrySources),
		})
		return "", false
	}
	return source, true
}

// upstreamError maps engine errors on read paths to status codes.
func (s *Server) upstreamError(c *gin.Context, err error) {
	if domain.IsUpstreamUnavailable(err) {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	var fe *domain.UpstreamFormatError
	if errors.As(err, &fe) {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// summarize converts a MergeResult into the JSON summary shape.
func summarize(result *domain.MergeResult) mergeSummary {
	summary := mergeSummary{
		ID:             result.ID,
		PanelsIncluded: len(result.Sheets),
		PanelsFailed:   len(result.Failures),
		CombinedGenes:  len(result.Combined),
		PanelNames:     result.PanelNames,
		Failures:       result.Failures,
		Warnings:       result.Warnings,
		CreatedAt:      result.CreatedAt,
	}
	for _, sheet := range result.Sheets {
		summary.Sheets = append(summary.Sheets, sheetSummary{
			Ref:         sheet.Ref,
			Name:        sheet.Name,
			Policy:      sheet.Policy.String(),
			Genes:       len(sheet.Genes),
			SkippedRows: sheet.SkippedRows,
		})
	}
	return summary
}

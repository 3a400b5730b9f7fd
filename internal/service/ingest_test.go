package service

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/panel-merge-server/internal/domain"
)

func TestIngestor_ParseCSV(t *testing.T) {
	ingest := NewIngestor(testLogger())

	data := []byte("genes,notes\nBRCA1,important\nbrca2,\nTP53,checked\n")
	detail, err := ingest.Parse(data, "custom.csv")
	require.NoError(t, err)

	assert.Equal(t, domain.PanelRef{Source: domain.SourceUpload, ID: "custom.csv"}, detail.Ref)
	assert.Equal(t, "custom.csv", detail.Name)
	require.Len(t, detail.Genes, 3)
	assert.Equal(t, "BRCA1", detail.Genes[0].NormalizedSymbol)
	assert.Equal(t, "brca2", detail.Genes[1].Symbol)
	assert.Equal(t, "BRCA2", detail.Genes[1].NormalizedSymbol)
	assert.Equal(t, domain.ConfidenceUnknown, detail.Genes[0].Confidence)
	assert.Equal(t, domain.NotSpecified, detail.Genes[0].ModeOfInheritance)
}

func TestIngestor_HeaderMatching(t *testing.T) {
	ingest := NewIngestor(testLogger())

	tests := []struct {
		name   string
		header string
	}{
		{"gene", "gene"},
		{"genes upper", "GENES"},
		{"entity_name mixed", "Entity_Name"},
		{"genesymbol", "GeneSymbol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(tt.header + "\nBRCA1\n")
			detail, err := ingest.Parse(data, "panel.csv")
			require.NoError(t, err)
			require.Len(t, detail.Genes, 1)
			assert.Equal(t, "BRCA1", detail.Genes[0].NormalizedSymbol)
		})
	}
}

func TestIngestor_NoGeneColumn(t *testing.T) {
	ingest := NewIngestor(testLogger())

	detail, err := ingest.Parse([]byte("foo,bar\n1,2\n"), "odd.csv")
	require.Error(t, err)
	assert.True(t, domain.IsNoGeneColumn(err))

	// The detail is still returned so the caller can warn rather than abort.
	require.NotNil(t, detail)
	assert.Empty(t, detail.Genes)
	assert.Equal(t, domain.UploadRef("odd.csv"), detail.Ref)
}

func TestIngestor_EmptyFile(t *testing.T) {
	ingest := NewIngestor(testLogger())

	detail, err := ingest.Parse(nil, "empty.csv")
	assert.Nil(t, detail)

	var ie *domain.IngestError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, domain.KindEmptyFile, ie.Kind)
}

// A non-empty file the reader cannot parse at all is classified as unreadable,
// not as empty.
func TestIngestor_UnreadableFile(t *testing.T) {
	ingest := NewIngestor(testLogger())

	detail, err := ingest.Parse([]byte("this is not a zip archive"), "broken.xlsx")
	assert.Nil(t, detail)

	var ie *domain.IngestError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, domain.KindUnreadable, ie.Kind)
}

func TestIngestor_UnsupportedFormat(t *testing.T) {
	ingest := NewIngestor(testLogger())

	detail, err := ingest.Parse([]byte("data"), "genes.pdf")
	assert.Nil(t, detail)

	var ie *domain.IngestError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, domain.KindUnsupportedFormat, ie.Kind)
}

func TestIngestor_BlankAndShortRows(t *testing.T) {
	ingest := NewIngestor(testLogger())

	// Gene column is second; the "orphan" row has content but too few columns.
	data := []byte("notes,gene\nfine,BRCA1\n,\norphan\nfine,TP53\n")
	detail, err := ingest.Parse(data, "ragged.csv")
	require.NoError(t, err)

	assert.Len(t, detail.Genes, 2)
	assert.Equal(t, 1, detail.SkippedRows)
}

func TestIngestor_TSV(t *testing.T) {
	ingest := NewIngestor(testLogger())

	detail, err := ingest.Parse([]byte("gene\tnotes\nBRCA1\tx\n"), "panel.tsv")
	require.NoError(t, err)
	require.Len(t, detail.Genes, 1)
	assert.Equal(t, "BRCA1", detail.Genes[0].NormalizedSymbol)
}

func TestIngestor_BOMHeader(t *testing.T) {
	ingest := NewIngestor(testLogger())

	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("gene\nBRCA1\n")...)
	detail, err := ingest.Parse(data, "bom.csv")
	require.NoError(t, err)
	assert.Len(t, detail.Genes, 1)
}

func TestIngestor_XLSX(t *testing.T) {
	ingest := NewIngestor(testLogger())

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"genes", "notes"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"BRCA1", "x"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"TP53", "y"}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	detail, err := ingest.Parse(buf.Bytes(), "panel.xlsx")
	require.NoError(t, err)
	require.Len(t, detail.Genes, 2)
	assert.Equal(t, "BRCA1", detail.Genes[0].NormalizedSymbol)
	assert.Equal(t, "TP53", detail.Genes[1].NormalizedSymbol)
}

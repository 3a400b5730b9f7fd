package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panel-merge-server/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestClient(baseURL string) *Client {
	return NewClient(domain.SourceUK, domain.RegistryConfig{
		BaseURL:   baseURL,
		Timeout:   2 * time.Second,
		RateLimit: 1000,
	}, testLogger())
}

func TestClient_FetchCatalogPaginated(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"count":3,"next":"","results":[
				{"id":3,"name":"Renal disorders","status":"public","version":"2.1"}
			]}`)
			return
		}
		fmt.Fprintf(w, `{"count":3,"next":"%s/panels/?page=2","results":[
			{"id":1,"name":"Hereditary cancer","disease_group":"Oncology","disease_sub_group":"Breast","status":"public","version":"1.0"},
			{"id":2,"name":"Cardiac arrhythmia","disease_group":"Cardiology","status":"public","version":"1.2"}
		]}`, server.URL)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	entries, err := client.FetchCatalog(context.Background())
	require.NoError(t, err)

	require.Len(t, entries, 3)
	assert.Equal(t, "1", entries[0].ID)
	assert.Equal(t, domain.SourceUK, entries[0].Source)
	assert.Equal(t, "Hereditary cancer", entries[0].Name)
	assert.Equal(t, "Breast", entries[0].DiseaseSubGroup)
	// Omitted optional fields become the sentinel, never empty.
	assert.Equal(t, domain.NotSpecified, entries[1].DiseaseSubGroup)
	assert.Equal(t, domain.NotSpecified, entries[2].DiseaseGroup)
	assert.Equal(t, "Renal disorders", entries[2].Name)
}

func TestClient_FetchCatalogSkipsMalformedRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"count":2,"next":"","results":[
			{"id":1,"name":"Good panel","status":"public"},
			{"name":"Missing id","status":"public"}
		]}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	entries, err := client.FetchCatalog(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Good panel", entries[0].Name)
}

func TestClient_FetchDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/panels/42/", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":42,"name":"Hereditary cancer","version":"2.3","genes":[
			{"entity_name":"BRCA1","confidence_level":"3","mode_of_inheritance":"BIALLELIC",
			 "phenotypes":["Breast cancer","Ovarian cancer"],"gene_data":{"gene_symbol":"BRCA1"}},
			{"entity_name":"tp53","confidence_level":"2","phenotypes":"Li-Fraumeni syndrome","gene_data":{}},
			{"entity_name":"","confidence_level":"1","gene_data":{}},
			{"entity_name":"ODD1","confidence_level":"banana","gene_data":{"gene_symbol":"ODD1"}}
		]}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	detail, err := client.FetchDetail(context.Background(), "42")
	require.NoError(t, err)

	assert.Equal(t, domain.PanelRef{Source: domain.SourceUK, ID: "42"}, detail.Ref)
	assert.Equal(t, "Hereditary cancer", detail.Name)
	assert.Equal(t, "2.3", detail.Version)
	assert.Equal(t, 1, detail.SkippedRows, "row without any symbol is skipped and counted")
	require.Len(t, detail.Genes, 3)

	brca1 := detail.Genes[0]
	assert.Equal(t, "BRCA1", brca1.NormalizedSymbol)
	assert.Equal(t, domain.ConfidenceGreen, brca1.Confidence)
	assert.Equal(t, []string{"Breast cancer", "Ovarian cancer"}, brca1.Phenotypes)

	// String-typed phenotypes normalize to a single-element list; symbol falls
	// back to entity_name when gene_data is empty.
	tp53 := detail.Genes[1]
	assert.Equal(t, "tp53", tp53.Symbol)
	assert.Equal(t, "TP53", tp53.NormalizedSymbol)
	assert.Equal(t, []string{"Li-Fraumeni syndrome"}, tp53.Phenotypes)
	assert.Equal(t, domain.NotSpecified, tp53.ModeOfInheritance)

	// Unparsable confidence maps to the unknown tier without dropping the row.
	assert.Equal(t, domain.ConfidenceUnknown, detail.Genes[2].Confidence)
}

func TestClient_UpstreamUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.FetchCatalog(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsUpstreamUnavailable(err))
}

func TestClient_NotFoundIsFormatError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.FetchDetail(context.Background(), "999")
	require.Error(t, err)

	var fe *domain.UpstreamFormatError
	assert.True(t, errors.As(err, &fe))
}

func TestClient_UndecodableBodyIsFormatError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.FetchCatalog(context.Background())
	require.Error(t, err)

	var fe *domain.UpstreamFormatError
	assert.True(t, errors.As(err, &fe))
}

func TestClient_TimeoutIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(domain.SourceUK, domain.RegistryConfig{
		BaseURL:   server.URL,
		Timeout:   50 * time.Millisecond,
		RateLimit: 1000,
	}, testLogger())

	_, err := client.FetchCatalog(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsUpstreamUnavailable(err))
}

func TestFlexStrings(t *testing.T) {
	tests := []struct {
		name string
		json string
		want []string
	}{
		{"string", `"single phenotype"`, []string{"single phenotype"}},
		{"list", `["a","b"]`, []string{"a", "b"}},
		{"null", `null`, nil},
		{"empty string", `""`, nil},
		{"empty list", `[]`, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexStrings
			require.NoError(t, f.UnmarshalJSON([]byte(tt.json)))
			assert.Equal(t, FlexStrings(tt.want), f)
		})
	}
}

func TestFlexStrings_Invalid(t *testing.T) {
	var f FlexStrings
	assert.Error(t, f.UnmarshalJSON([]byte(`{"not":"a list"}`)))
}

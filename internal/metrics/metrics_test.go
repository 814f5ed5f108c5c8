package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRegistersAllCollectorsAndServesMetrics(t *testing.T) {
	reg := New()
	reg.ExportedObjects.Inc()
	reg.ImportedObjects.Add(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "onecore_chum_exported_objects_total 1") {
		t.Fatalf("expected exported-objects counter in output, got %s", body)
	}
	if !strings.Contains(body, "onecore_chum_imported_objects_total 3") {
		t.Fatalf("expected imported-objects counter in output, got %s", body)
	}
}

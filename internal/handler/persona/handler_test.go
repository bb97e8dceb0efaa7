package persona

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/trauma-sim/backend/internal/model/persona"
)

func newRouter() http.Handler {
	r := chi.NewRouter()
	New(persona.NewMemoryStore(persona.Seed())).RegisterRoutes(r)
	return r
}

func TestListPersonas(t *testing.T) {
	rr := httptest.NewRecorder()
	newRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/personas", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	var items []persona.Persona
	if err := json.NewDecoder(rr.Body).Decode(&items); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if len(items) != len(persona.Seed()) {
		t.Fatalf("expected %d personas, got %d", len(persona.Seed()), len(items))
	}
}

func TestGetPersonaNotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	newRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/personas/nobody", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestGetPersona(t *testing.T) {
	id := persona.Seed()[0].ID
	rr := httptest.NewRecorder()
	newRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/personas/"+id, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
}

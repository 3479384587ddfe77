package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nagarsathi/civic-issues-api/api/handlers"
)

func TestGeocode_SearchHandlerRequiresQuery(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/geocode/search", nil)
	if err != nil {
		t.Fatal(err)
	}

	g := handlers.Geocode{}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(g.SearchHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusBadRequest)
	}
}

func TestGeocode_SearchHandlerProxiesWithUserAgent(t *testing.T) {
	var gotUA, gotPath, gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"display_name":"Connaught Place, New Delhi"}]`))
	}))
	defer upstream.Close()

	req, err := http.NewRequest("GET", "/api/v1/geocode/search?q=connaught+place", nil)
	if err != nil {
		t.Fatal(err)
	}

	g := handlers.Geocode{BaseURL: upstream.URL, Client: &http.Client{Timeout: time.Second}}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(g.SearchHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}
	assert.Contains(t, gotUA, "civic-issues-api")
	assert.Equal(t, "/search", gotPath)
	assert.Equal(t, "connaught place", gotQuery)
	assert.Contains(t, rr.Body.String(), "Connaught Place")
}

func TestGeocode_ReverseHandlerRequiresCoordinates(t *testing.T) {
	req, err := http.NewRequest("GET", "/api/v1/geocode/reverse?lat=28.6", nil)
	if err != nil {
		t.Fatal(err)
	}

	g := handlers.Geocode{}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(g.ReverseHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusBadRequest {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusBadRequest)
	}
}

func TestGeocode_ReverseHandlerProxies(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		assert.Equal(t, "28.6", r.URL.Query().Get("lat"))
		assert.Equal(t, "77.2", r.URL.Query().Get("lon"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"display_name":"Connaught Place, New Delhi"}`))
	}))
	defer upstream.Close()

	req, err := http.NewRequest("GET", "/api/v1/geocode/reverse?lat=28.6&lon=77.2", nil)
	if err != nil {
		t.Fatal(err)
	}

	g := handlers.Geocode{BaseURL: upstream.URL, Client: &http.Client{Timeout: time.Second}}

	rr := httptest.NewRecorder()
	handler := http.HandlerFunc(g.ReverseHandler)

	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}
	assert.Contains(t, rr.Body.String(), "Connaught Place")
}

package handlers

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nagarsathi/civic-issues-api/config"
)

// geocodeUserAgent identifies us to the geocoding service, which requires
// a real contact per its usage policy
const geocodeUserAgent = "civic-issues-api/1.0 (support@nagarsathi.in)"

// Geocode proxies address lookups to Nominatim so browser clients are not
// blocked by its no-CORS, identified-client policy
type Geocode struct {
	BaseURL string
	Client  *http.Client
}

// NewGeocode returns a proxy against the configured Nominatim instance
func NewGeocode(conf *config.Config) Geocode {
	return Geocode{
		BaseURL: conf.NominatimBaseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// SearchHandler forward-geocodes a free-text query
func (g Geocode) SearchHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		config.ErrorStatus("query parameter q is required", http.StatusBadRequest, w,
			fmt.Errorf("empty geocode query"))
		return
	}
	params := url.Values{
		"q":      {query},
		"format": {"json"},
		"limit":  {"5"},
	}
	g.proxy(w, r, "/search", params)
}

// ReverseHandler reverse-geocodes a coordinate pair
func (g Geocode) ReverseHandler(w http.ResponseWriter, r *http.Request) {
	lat := r.URL.Query().Get("lat")
	lon := r.URL.Query().Get("lon")
	if lat == "" || lon == "" {
		config.ErrorStatus("lat and lon are required", http.StatusBadRequest, w,
			fmt.Errorf("missing reverse geocode coordinates"))
		return
	}
	params := url.Values{
		"lat":    {lat},
		"lon":    {lon},
		"format": {"json"},
	}
	g.proxy(w, r, "/reverse", params)
}

func (g Geocode) proxy(w http.ResponseWriter, r *http.Request, path string, params url.Values) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet,
		g.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		config.ErrorStatus("failed to build geocode request", http.StatusInternalServerError, w, err)
		return
	}
	req.Header.Set("User-Agent", geocodeUserAgent)

	resp, err := g.Client.Do(req)
	if err != nil {
		config.ErrorStatus("geocoding service unavailable", http.StatusBadGateway, w, err)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
